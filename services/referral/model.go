package referral

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const CodeLength = 12

type Level int

const (
	VIP0 Level = iota
	VIP1
	VIP2
	VIP3
)

func (l Level) String() string {
	return fmt.Sprintf("VIP%d", int(l))
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

var thresholds = []struct {
	level Level
	count int
	bonus decimal.Decimal
}{
	{VIP3, 15, decimal.NewFromInt(2000)},
	{VIP2, 10, decimal.NewFromInt(1000)},
	{VIP1, 5, decimal.NewFromInt(500)},
}

// LevelFor maps a referral count to its tier.
func LevelFor(count int) Level {
	for _, t := range thresholds {
		if count >= t.count {
			return t.level
		}
	}
	return VIP0
}

// Bonus is the one-time amount paid when a tier is claimed.
func Bonus(l Level) decimal.Decimal {
	for _, t := range thresholds {
		if t.level == l {
			return t.bonus
		}
	}
	return decimal.Zero
}

// Unclaimed sums the bonuses of every tier in (from, to].
func Unclaimed(from, to Level) decimal.Decimal {
	total := decimal.Zero
	for l := from + 1; l <= to; l++ {
		total = total.Add(Bonus(l))
	}
	return total
}

func NextThreshold(count int) int {
	next := 0
	for _, t := range thresholds {
		if count < t.count {
			next = t.count
		}
	}
	return next
}

// NewCode returns a random referral code of CodeLength hex characters.
func NewCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:CodeLength]
}

type Profile struct {
	ID               string    `gorm:"column:id;primaryKey" json:"id"`
	UserID           string    `gorm:"column:user_id;uniqueIndex;not null" json:"user_id"`
	Code             string    `gorm:"column:code;uniqueIndex;size:12;not null" json:"referral_code"`
	ReferralsCount   int       `gorm:"column:referrals_count;not null;default:0" json:"referrals_count"`
	VIPLevel         Level     `gorm:"column:vip_level;not null;default:0" json:"vip_level"`
	LastClaimedLevel Level     `gorm:"column:last_claimed_level;not null;default:0" json:"last_claimed_level"`
	CreatedAt        time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Profile) TableName() string { return "referral_profiles" }

// Invitee is the edge from a referrer to a user who registered with their
// code. A user can be invited at most once.
type Invitee struct {
	ID             string    `gorm:"column:id;primaryKey" json:"id"`
	ReferrerUserID string    `gorm:"column:referrer_user_id;index;not null" json:"referrer_user_id"`
	InviteeUserID  string    `gorm:"column:invitee_user_id;uniqueIndex;not null" json:"invitee_user_id"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Invitee) TableName() string { return "referral_invitees" }

type Summary struct {
	Profile       *Profile        `json:"profile"`
	Claimable     decimal.Decimal `json:"claimable"`
	NextThreshold int             `json:"next_threshold,omitempty"`
	Invitees      []string        `json:"invitees"`
}

type ClaimResult struct {
	Level   Level           `json:"vip_level"`
	Amount  decimal.Decimal `json:"amount"`
	Balance decimal.Decimal `json:"balance"`
}

func Models() []any {
	return []any{&Profile{}, &Invitee{}}
}
