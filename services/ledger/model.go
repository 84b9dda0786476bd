package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"investhub-platform/pkg/errutil"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const GenesisHash = "GENESIS"

type Bucket string

const (
	BucketBalance Bucket = "balance"
	BucketIncome  Bucket = "income"
)

type MovementKind string

const (
	KindRecharge       MovementKind = "RECHARGE"
	KindWithdrawal     MovementKind = "WITHDRAWAL"
	KindDeposit        MovementKind = "DEPOSIT"
	KindExchangeReward MovementKind = "EXCHANGE_REWARD"
)

type MovementStatus string

const (
	StatusPending              MovementStatus = "PENDING"
	StatusAwaitingVerification MovementStatus = "AWAITING_VERIFICATION"
	StatusCompleted            MovementStatus = "COMPLETED"
	StatusFailed               MovementStatus = "FAILED"
)

func (s MovementStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

const (
	RewardNewUser  = "New User Bonus"
	RewardReferral = "Referral Bonus"
)

// Ledger holds a user's two money buckets. Balance is spendable on products,
// Income is the withdrawable accrual.
type Ledger struct {
	ID               string          `gorm:"column:id;primaryKey" json:"id"`
	UserID           string          `gorm:"column:user_id;uniqueIndex;not null" json:"user_id"`
	Balance          decimal.Decimal `gorm:"column:balance;type:numeric(14,2);not null;default:0" json:"balance"`
	Income           decimal.Decimal `gorm:"column:income;type:numeric(14,2);not null;default:0" json:"income"`
	HasRecharged     bool            `gorm:"column:has_recharged;not null;default:false" json:"has_recharged"`
	LastIncomeUpdate *time.Time      `gorm:"column:last_income_update" json:"last_income_update,omitempty"`
	CreatedAt        time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (l *Ledger) bucket(b Bucket) *decimal.Decimal {
	if b == BucketIncome {
		return &l.Income
	}
	return &l.Balance
}

func (l *Ledger) Available(b Bucket) decimal.Decimal {
	return *l.bucket(b)
}

func (l *Ledger) Credit(b Bucket, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errutil.ValidationFailed("credit amount must not be negative", nil)
	}
	v := l.bucket(b)
	*v = v.Add(amount)
	return nil
}

func (l *Ledger) Debit(b Bucket, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errutil.ValidationFailed("debit amount must not be negative", nil)
	}
	v := l.bucket(b)
	if v.LessThan(amount) {
		return errutil.InsufficientFunds(fmt.Sprintf("insufficient %s", b), nil, errutil.WithDetails(errutil.Detail{
			Field:   string(b),
			Message: fmt.Sprintf("available %s, required %s", v.StringFixed(2), amount.StringFixed(2)),
		}))
	}
	*v = v.Sub(amount)
	return nil
}

// ValidateAmount accepts strictly positive amounts with at most two decimals.
func ValidateAmount(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errutil.ValidationFailed(fmt.Sprintf("%s must be greater than 0", field), nil,
			errutil.WithDetails(errutil.Detail{Field: field, Message: "must be greater than 0"}))
	}
	if !amount.Equal(amount.Round(2)) {
		return errutil.ValidationFailed(fmt.Sprintf("%s has more than two decimals", field), nil,
			errutil.WithDetails(errutil.Detail{Field: field, Message: "at most two decimals"}))
	}
	return nil
}

// Movement is one entry of the per-user transaction log. Entries form a hash
// chain over their immutable fields; status and external reference are
// excluded since they change during settlement.
type Movement struct {
	ID           string          `gorm:"column:id;primaryKey" json:"id"`
	UserID       string          `gorm:"column:user_id;index:idx_movements_user_created,priority:1;not null" json:"user_id"`
	Kind         MovementKind    `gorm:"column:kind;index;not null" json:"kind"`
	Status       MovementStatus  `gorm:"column:status;index;not null" json:"status"`
	Amount       decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	Fee          decimal.Decimal `gorm:"column:fee;type:numeric(14,2);not null;default:0" json:"fee"`
	ExternalRef  *string         `gorm:"column:external_ref;uniqueIndex" json:"external_ref,omitempty"`
	PhoneNumber  string          `gorm:"column:phone_number" json:"phone_number,omitempty"`
	Description  string          `gorm:"column:description" json:"description"`
	Metadata     datatypes.JSON  `gorm:"column:metadata" json:"metadata,omitempty"`
	PreviousHash string          `gorm:"column:previous_hash;not null" json:"previous_hash"`
	Hash         string          `gorm:"column:hash;not null" json:"hash"`
	CreatedAt    time.Time       `gorm:"column:created_at;index:idx_movements_user_created,priority:2" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (m *Movement) HashFields() map[string]string {
	return map[string]string{
		"id":            m.ID,
		"user_id":       m.UserID,
		"kind":          string(m.Kind),
		"amount":        m.Amount.StringFixed(2),
		"fee":           m.Fee.StringFixed(2),
		"description":   m.Description,
		"created_at":    m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash": m.PreviousHash,
	}
}

func (m *Movement) GenerateHash() string {
	fields := m.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

type ExchangeReward struct {
	ID         string          `gorm:"column:id;primaryKey" json:"id"`
	UserID     string          `gorm:"column:user_id;index;not null" json:"user_id"`
	Amount     decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	Type       string          `gorm:"column:type;not null" json:"type"`
	MovementID string          `gorm:"column:movement_id;not null" json:"movement_id"`
	CreatedAt  time.Time       `gorm:"column:created_at" json:"created_at"`
}

type MovementParams struct {
	UserID      string
	Kind        MovementKind
	Status      MovementStatus
	Amount      decimal.Decimal
	Fee         decimal.Decimal
	ExternalRef *string
	PhoneNumber string
	Description string
	Metadata    map[string]any
}

type ChainReport struct {
	Valid    bool   `json:"valid"`
	Entries  int    `json:"entries"`
	BrokenAt string `json:"broken_at,omitempty"`
}

// TrendPoint is one entry of the per-user statistics trend.
type TrendPoint struct {
	Date    string          `json:"date"`
	Kind    MovementKind    `json:"kind"`
	Amount  decimal.Decimal `json:"amount"`
	Balance decimal.Decimal `json:"balance"`
	Income  decimal.Decimal `json:"income"`
}

// Models lists every table owned by this package, for migrations.
func Models() []any {
	return []any{&Ledger{}, &Movement{}, &ExchangeReward{}}
}
