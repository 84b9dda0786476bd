package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindRecharge   Kind = "recharge"
	KindWithdrawal Kind = "withdrawal"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

type RequestStatus string

const (
	StatusPending   RequestStatus = "Pending"
	StatusCompleted RequestStatus = "Completed"
	StatusFailed    RequestStatus = "Failed"
	StatusApproved  RequestStatus = "Approved"
	StatusRejected  RequestStatus = "Rejected"
)

func (s RequestStatus) Terminal() bool {
	return s != StatusPending
}

type RechargeRequest struct {
	ID             string          `gorm:"column:id;primaryKey" json:"id"`
	Code           string          `gorm:"column:code;uniqueIndex;not null" json:"code"`
	UserID         string          `gorm:"column:user_id;index;uniqueIndex:idx_recharge_idempotency,priority:1;not null" json:"user_id"`
	Amount         decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	PhoneNumber    string          `gorm:"column:phone_number" json:"phone_number,omitempty"`
	Status         RequestStatus   `gorm:"column:status;index;not null" json:"status"`
	MovementID     string          `gorm:"column:movement_id;uniqueIndex;not null" json:"movement_id"`
	IdempotencyKey *string         `gorm:"column:idempotency_key;uniqueIndex:idx_recharge_idempotency,priority:2" json:"-"`
	CreatedAt      time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

type WithdrawalRequest struct {
	ID              string          `gorm:"column:id;primaryKey" json:"id"`
	Code            string          `gorm:"column:code;uniqueIndex;not null" json:"code"`
	UserID          string          `gorm:"column:user_id;index;uniqueIndex:idx_withdrawal_idempotency,priority:1;not null" json:"user_id"`
	RequestedAmount decimal.Decimal `gorm:"column:requested_amount;type:numeric(14,2);not null" json:"requested_amount"`
	Fee             decimal.Decimal `gorm:"column:fee;type:numeric(14,2);not null" json:"fee"`
	NetAmount       decimal.Decimal `gorm:"column:net_amount;type:numeric(14,2);not null" json:"net_amount"`
	PhoneNumber     string          `gorm:"column:phone_number;not null" json:"phone_number"`
	Status          RequestStatus   `gorm:"column:status;index;not null" json:"status"`
	MovementID      string          `gorm:"column:movement_id;uniqueIndex;not null" json:"movement_id"`
	IdempotencyKey  *string         `gorm:"column:idempotency_key;uniqueIndex:idx_withdrawal_idempotency,priority:2" json:"-"`
	CreatedAt       time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

type RechargeInput struct {
	UserID         string          `json:"-"`
	Amount         decimal.Decimal `json:"amount"`
	PhoneNumber    string          `json:"phone_number"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type WithdrawalInput struct {
	UserID         string          `json:"-"`
	Amount         decimal.Decimal `json:"amount"`
	PhoneNumber    string          `json:"phone_number" binding:"required"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// RechargeReceipt is returned to the user after a recharge request so the
// client can pay and then poll the request.
type RechargeReceipt struct {
	Request            *RechargeRequest `json:"request"`
	PaymentPhoneNumber string           `json:"payment_phone_number"`
	Message            string           `json:"message"`
}

// Command is an admin decision on a pending request.
type Command struct {
	Kind        Kind     `json:"kind" binding:"required"`
	RequestID   string   `json:"request_id" binding:"required"`
	Decision    Decision `json:"decision" binding:"required"`
	ExternalRef string   `json:"external_ref"`
}

type Result struct {
	Kind      Kind          `json:"kind"`
	RequestID string        `json:"request_id"`
	UserID    string        `json:"user_id"`
	Status    RequestStatus `json:"status"`
}

type Instructions struct {
	Message     string   `json:"message"`
	PhoneNumber string   `json:"phone_number"`
	Steps       []string `json:"steps"`
}

func Models() []any {
	return []any{&RechargeRequest{}, &WithdrawalRequest{}}
}
