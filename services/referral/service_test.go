package referral

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"investhub-platform/pkg/config"
	"investhub-platform/pkg/db/pagination"
	"investhub-platform/pkg/errutil"
	"investhub-platform/pkg/events"
	"investhub-platform/services/ledger"
	"investhub-platform/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type recordingPublisher struct {
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.events = append(p.events, e)
	return nil
}

type fixture struct {
	db        *gorm.DB
	ledger    *ledger.Service
	svc       *Service
	publisher *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, append(ledger.Models(), Models()...)...)
	node := testutil.NewNode(t)

	clock := testutil.NewClock(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	ledgerSvc.SetClock(clock.Now)

	pub := &recordingPublisher{}
	svc := NewService(ServiceParams{DB: db, Node: node, Config: &config.Config{}, Ledger: ledgerSvc, Publisher: pub})
	return &fixture{db: db, ledger: ledgerSvc, svc: svc, publisher: pub}
}

func (f *fixture) profile(t *testing.T, userID string) *Profile {
	t.Helper()

	var p *Profile
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		p, _, err = f.svc.EnsureProfile(context.Background(), tx, userID)
		return err
	}))
	return p
}

func (f *fixture) invite(t *testing.T, code string, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		_, err := f.svc.RegisterInvitee(context.Background(), code, fmt.Sprintf("invitee-%s-%d", code, i))
		require.NoError(t, err)
	}
}

func (f *fixture) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()

	l, err := f.ledger.GetLedger(context.Background(), userID)
	require.NoError(t, err)
	return l.Balance
}

func paginationAll() pagination.Pagination {
	return pagination.Pagination{Limit: pagination.MaxLimit}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		count int
		want  Level
	}{
		{0, VIP0},
		{4, VIP0},
		{5, VIP1},
		{9, VIP1},
		{10, VIP2},
		{14, VIP2},
		{15, VIP3},
		{40, VIP3},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("count_%d", tt.count), func(t *testing.T) {
			require.Equal(t, tt.want, LevelFor(tt.count))
		})
	}
}

func TestUnclaimedAndNextThreshold(t *testing.T) {
	require.True(t, Unclaimed(VIP0, VIP1).Equal(decimal.NewFromInt(500)))
	require.True(t, Unclaimed(VIP1, VIP3).Equal(decimal.NewFromInt(3000)))
	require.True(t, Unclaimed(VIP2, VIP2).IsZero())

	require.Equal(t, 5, NextThreshold(0))
	require.Equal(t, 10, NextThreshold(5))
	require.Equal(t, 15, NextThreshold(12))
	require.Zero(t, NextThreshold(15))
}

func TestLevelMarshalsAsName(t *testing.T) {
	b, err := VIP2.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"VIP2"`, string(b))
}

func TestEnsureProfileIsIdempotent(t *testing.T) {
	f := newFixture(t)

	first := f.profile(t, "user-1")
	require.Len(t, first.Code, CodeLength)
	require.Equal(t, VIP0, first.VIPLevel)

	again := f.profile(t, "user-1")
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, first.Code, again.Code)
}

func codes(seq ...string) func() string {
	return func() string {
		next := seq[0]
		if len(seq) > 1 {
			seq = seq[1:]
		}
		return next
	}
}

func TestEnsureProfileRetriesCodeCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.svc.newCode = codes("aaaaaaaaaaaa")
	taken := f.profile(t, "user-1")
	require.Equal(t, "aaaaaaaaaaaa", taken.Code)

	f.svc.newCode = codes("aaaaaaaaaaaa", "bbbbbbbbbbbb")
	var p *Profile
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		var (
			created bool
			err     error
		)
		p, created, err = f.svc.EnsureProfile(ctx, tx, "user-2")
		if err != nil {
			return err
		}
		require.True(t, created)

		// the enclosing transaction stays usable after the failed attempt
		_, err = f.ledger.Lock(ctx, tx, "user-2")
		return err
	}))
	require.Equal(t, "bbbbbbbbbbbb", p.Code)

	l, err := f.ledger.GetLedger(ctx, "user-2")
	require.NoError(t, err)
	require.Equal(t, "user-2", l.UserID)
}

func TestEnsureProfileGivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture(t)

	f.svc.newCode = codes("aaaaaaaaaaaa")
	f.profile(t, "user-1")

	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, _, err := f.svc.EnsureProfile(context.Background(), tx, "user-2")
		return err
	})
	require.True(t, errutil.HasStatus(err, errutil.StatusConflict))
}

func TestRegisterInviteeCreditsReferrer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.profile(t, "referrer")

	p, err := f.svc.RegisterInvitee(ctx, ref.Code, "invitee-1")
	require.NoError(t, err)
	require.Equal(t, 1, p.ReferralsCount)
	require.True(t, f.balance(t, "referrer").Equal(decimal.NewFromInt(200)))

	p, err = f.svc.RegisterInvitee(ctx, ref.Code, "invitee-1")
	require.NoError(t, err)
	require.Nil(t, p)
	require.True(t, f.balance(t, "referrer").Equal(decimal.NewFromInt(200)))

	rewards, _, err := f.ledger.ListRewards(ctx, "referrer", paginationAll())
	require.NoError(t, err)
	require.Len(t, rewards, 1)
	require.Equal(t, ledger.RewardReferral, rewards[0].Type)
	require.Len(t, f.publisher.events, 1)
}

func TestRegisterInviteeSkipsInvalidCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.profile(t, "referrer")

	p, err := f.svc.RegisterInvitee(ctx, "", "invitee-1")
	require.NoError(t, err)
	require.Nil(t, p)

	p, err = f.svc.RegisterInvitee(ctx, "unknown-code", "invitee-1")
	require.NoError(t, err)
	require.Nil(t, p)

	p, err = f.svc.RegisterInvitee(ctx, ref.Code, "referrer")
	require.NoError(t, err)
	require.Nil(t, p)

	summary, err := f.svc.GetReferral(ctx, "referrer")
	require.NoError(t, err)
	require.Zero(t, summary.Profile.ReferralsCount)
	require.Empty(t, f.publisher.events)
}

func TestFiveInviteesReachVIP1(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.profile(t, "referrer")

	f.invite(t, ref.Code, 5)

	summary, err := f.svc.GetReferral(ctx, "referrer")
	require.NoError(t, err)
	require.Equal(t, 5, summary.Profile.ReferralsCount)
	require.Equal(t, VIP1, summary.Profile.VIPLevel)
	require.True(t, summary.Claimable.Equal(decimal.NewFromInt(500)))
	require.Equal(t, 10, summary.NextThreshold)
	require.Len(t, summary.Invitees, 5)
	require.True(t, f.balance(t, "referrer").Equal(decimal.NewFromInt(1000)))
}

func TestClaimVipRewardOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.profile(t, "referrer")

	_, err := f.svc.ClaimVipReward(ctx, "referrer")
	require.True(t, errutil.HasStatus(err, errutil.StatusNothingToClaim))

	f.invite(t, ref.Code, 5)

	res, err := f.svc.ClaimVipReward(ctx, "referrer")
	require.NoError(t, err)
	require.Equal(t, VIP1, res.Level)
	require.True(t, res.Amount.Equal(decimal.NewFromInt(500)))
	require.True(t, res.Balance.Equal(decimal.NewFromInt(1500)))

	_, err = f.svc.ClaimVipReward(ctx, "referrer")
	require.True(t, errutil.HasStatus(err, errutil.StatusNothingToClaim))
	require.True(t, f.balance(t, "referrer").Equal(decimal.NewFromInt(1500)))

	rewards, _, err := f.ledger.ListRewards(ctx, "referrer", paginationAll())
	require.NoError(t, err)
	require.Equal(t, "VIP1 Claim Bonus", rewards[0].Type)
}

func TestClaimVipRewardCumulative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.profile(t, "referrer")

	f.invite(t, ref.Code, 15)

	res, err := f.svc.ClaimVipReward(ctx, "referrer")
	require.NoError(t, err)
	require.Equal(t, VIP3, res.Level)
	require.True(t, res.Amount.Equal(decimal.NewFromInt(3500)))
	require.True(t, res.Balance.Equal(decimal.NewFromInt(15*200+3500)))

	summary, err := f.svc.GetReferral(ctx, "referrer")
	require.NoError(t, err)
	require.Equal(t, VIP3, summary.Profile.LastClaimedLevel)
	require.True(t, summary.Claimable.IsZero())
	require.Zero(t, summary.NextThreshold)

	report, err := f.ledger.VerifyChain(ctx, "referrer")
	require.NoError(t, err)
	require.True(t, report.Valid)
}

func TestGetReferralNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetReferral(context.Background(), "nobody")
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))
}

func TestBackfill(t *testing.T) {
	f := newFixture(t)
	f.profile(t, "user-1")

	created, err := f.svc.Backfill(context.Background(), []string{"user-1", "user-2", "user-3"})
	require.NoError(t, err)
	require.Equal(t, 2, created)

	created, err = f.svc.Backfill(context.Background(), []string{"user-2"})
	require.NoError(t, err)
	require.Zero(t, created)
}
