package settlement

import (
	"fmt"

	"investhub-platform/pkg/errutil"

	"github.com/shopspring/decimal"
)

type Effect int

const (
	EffectCreditBalance Effect = iota + 1
	EffectMarkRecharged
	EffectDebitIncome
	EffectCompleteMovement
	EffectFailMovement
)

// Facts are the values read under lock that a decision depends on.
type Facts struct {
	HasExternalRef bool
	Income         decimal.Decimal
	Requested      decimal.Decimal
}

// Transition is the outcome of a decision. When To equals From nothing is
// written and Err is returned. Otherwise the effects are committed and Err,
// if any, is still reported to the caller.
type Transition struct {
	From    RequestStatus
	To      RequestStatus
	Effects []Effect
	Err     error
}

func (t Transition) Changed() bool {
	return t.To != t.From
}

func stay(from RequestStatus, err error) Transition {
	return Transition{From: from, To: from, Err: err}
}

func NextRecharge(from RequestStatus, d Decision, f Facts) Transition {
	if from.Terminal() {
		return stay(from, errutil.AlreadyFinalized(fmt.Sprintf("recharge already %s", from), nil))
	}

	switch d {
	case DecisionApprove:
		if !f.HasExternalRef {
			return stay(from, errutil.PreconditionFailed("recharge has no external payment reference", nil))
		}
		return Transition{
			From:    from,
			To:      StatusCompleted,
			Effects: []Effect{EffectCreditBalance, EffectMarkRecharged, EffectCompleteMovement},
		}
	case DecisionReject:
		return Transition{From: from, To: StatusFailed, Effects: []Effect{EffectFailMovement}}
	default:
		return stay(from, errutil.ValidationFailed(fmt.Sprintf("unknown decision %q", d), nil))
	}
}

func NextWithdrawal(from RequestStatus, d Decision, f Facts) Transition {
	if from.Terminal() {
		return stay(from, errutil.AlreadyFinalized(fmt.Sprintf("withdrawal already %s", from), nil))
	}

	switch d {
	case DecisionApprove:
		if f.Income.LessThan(f.Requested) {
			return Transition{
				From:    from,
				To:      StatusRejected,
				Effects: []Effect{EffectFailMovement},
				Err: errutil.InsufficientFunds("insufficient income at approval", nil, errutil.WithDetails(errutil.Detail{
					Field:   "income",
					Message: fmt.Sprintf("available %s, required %s", f.Income.StringFixed(2), f.Requested.StringFixed(2)),
				})),
			}
		}
		return Transition{
			From:    from,
			To:      StatusApproved,
			Effects: []Effect{EffectDebitIncome, EffectCompleteMovement},
		}
	case DecisionReject:
		return Transition{From: from, To: StatusRejected, Effects: []Effect{EffectFailMovement}}
	default:
		return stay(from, errutil.ValidationFailed(fmt.Sprintf("unknown decision %q", d), nil))
	}
}
