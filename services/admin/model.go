package admin

import (
	"time"

	"investhub-platform/services/account"
	"investhub-platform/services/ledger"

	"github.com/shopspring/decimal"
)

type Activity struct {
	MovementID  string                `json:"movement_id"`
	UserID      string                `json:"user_id"`
	Username    string                `json:"username"`
	Kind        ledger.MovementKind   `json:"kind"`
	Status      ledger.MovementStatus `json:"status"`
	Amount      decimal.Decimal       `json:"amount"`
	Description string                `json:"description"`
	CreatedAt   time.Time             `json:"created_at"`
}

// PendingItem is a settlement request waiting for an operator decision.
type PendingItem struct {
	RequestID      string                `json:"request_id"`
	Code           string                `json:"code"`
	UserID         string                `json:"user_id"`
	Username       string                `json:"username"`
	Amount         decimal.Decimal       `json:"amount"`
	Fee            decimal.Decimal       `json:"fee"`
	NetAmount      decimal.Decimal       `json:"net_amount"`
	PhoneNumber    string                `json:"phone_number"`
	ExternalRef    string                `json:"external_ref,omitempty"`
	MovementStatus ledger.MovementStatus `json:"movement_status"`
	CreatedAt      time.Time             `json:"created_at"`
}

type Dashboard struct {
	TotalRecharges         decimal.Decimal `json:"total_recharges"`
	TotalWithdrawals       decimal.Decimal `json:"total_withdrawals"`
	ActiveUsers            int64           `json:"active_users"`
	PendingRechargeCount   int64           `json:"pending_recharge_count"`
	PendingWithdrawalCount int64           `json:"pending_withdrawal_count"`
	RecentActivity         []Activity      `json:"recent_activity"`
	PendingRecharges       []PendingItem   `json:"pending_recharges"`
	PendingWithdrawals     []PendingItem   `json:"pending_withdrawals"`
	Users                  []*account.User `json:"users"`
	GeneratedAt            time.Time       `json:"generated_at"`
}

type ToggleInput struct {
	Action account.ToggleAction `json:"action" binding:"required"`
}
