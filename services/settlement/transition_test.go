package settlement

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"investhub-platform/pkg/errutil"
)

func TestNextRecharge(t *testing.T) {
	cases := []struct {
		name     string
		from     RequestStatus
		decision Decision
		facts    Facts
		to       RequestStatus
		effects  []Effect
		status   errutil.CoreStatus
	}{
		{
			name:     "approve with reference",
			from:     StatusPending,
			decision: DecisionApprove,
			facts:    Facts{HasExternalRef: true},
			to:       StatusCompleted,
			effects:  []Effect{EffectCreditBalance, EffectMarkRecharged, EffectCompleteMovement},
		},
		{
			name:     "approve without reference stays pending",
			from:     StatusPending,
			decision: DecisionApprove,
			to:       StatusPending,
			status:   errutil.StatusPreconditionFailed,
		},
		{
			name:     "reject",
			from:     StatusPending,
			decision: DecisionReject,
			to:       StatusFailed,
			effects:  []Effect{EffectFailMovement},
		},
		{
			name:     "approve completed",
			from:     StatusCompleted,
			decision: DecisionApprove,
			facts:    Facts{HasExternalRef: true},
			to:       StatusCompleted,
			status:   errutil.StatusAlreadyFinalized,
		},
		{
			name:     "reject failed",
			from:     StatusFailed,
			decision: DecisionReject,
			to:       StatusFailed,
			status:   errutil.StatusAlreadyFinalized,
		},
		{
			name:     "unknown decision",
			from:     StatusPending,
			decision: "escalate",
			to:       StatusPending,
			status:   errutil.StatusValidationFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := NextRecharge(tc.from, tc.decision, tc.facts)
			require.Equal(t, tc.to, tr.To)
			require.Equal(t, tc.effects, tr.Effects)
			if tc.status == "" {
				require.NoError(t, tr.Err)
			} else {
				require.True(t, errutil.HasStatus(tr.Err, tc.status), "got %v", tr.Err)
			}
		})
	}
}

func TestNextWithdrawal(t *testing.T) {
	enough := Facts{Income: decimal.NewFromInt(2000), Requested: decimal.NewFromInt(1500)}
	short := Facts{Income: decimal.NewFromInt(100), Requested: decimal.NewFromInt(1500)}

	tr := NextWithdrawal(StatusPending, DecisionApprove, enough)
	require.True(t, tr.Changed())
	require.Equal(t, StatusApproved, tr.To)
	require.Equal(t, []Effect{EffectDebitIncome, EffectCompleteMovement}, tr.Effects)
	require.NoError(t, tr.Err)

	tr = NextWithdrawal(StatusPending, DecisionApprove, short)
	require.True(t, tr.Changed())
	require.Equal(t, StatusRejected, tr.To)
	require.Equal(t, []Effect{EffectFailMovement}, tr.Effects)
	require.True(t, errutil.HasStatus(tr.Err, errutil.StatusInsufficientFunds))

	tr = NextWithdrawal(StatusPending, DecisionReject, short)
	require.Equal(t, StatusRejected, tr.To)
	require.NoError(t, tr.Err)

	for _, from := range []RequestStatus{StatusApproved, StatusRejected} {
		tr = NextWithdrawal(from, DecisionApprove, enough)
		require.False(t, tr.Changed())
		require.Empty(t, tr.Effects)
		require.True(t, errutil.HasStatus(tr.Err, errutil.StatusAlreadyFinalized))
	}
}
