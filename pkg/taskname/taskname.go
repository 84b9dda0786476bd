package taskname

const (
	// Income tasks
	IncomeAccrue    = "income:accrue"
	IncomeAccrueAll = "income:accrue:all"

	// Referral tasks
	ReferralBackfill = "referral:backfill"

	// Settlement events
	RechargeRequested   = "settlement:recharge:requested"
	RechargeCompleted   = "settlement:recharge:completed"
	RechargeRejected    = "settlement:recharge:rejected"
	WithdrawalRequested = "settlement:withdrawal:requested"
	WithdrawalApproved  = "settlement:withdrawal:approved"
	WithdrawalRejected  = "settlement:withdrawal:rejected"

	// Account events
	UserRegistered = "account:user:registered"
	RewardGranted  = "reward:granted"
)
