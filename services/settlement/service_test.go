package settlement

import (
	"context"
	"fmt"
	"sync"
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
	"investhub-platform/pkg/taskname"
	"investhub-platform/services/ledger"
	"investhub-platform/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeCodes struct {
	n int
}

func (f *fakeCodes) NextRechargeCode(context.Context) (string, error) {
	f.n++
	return fmt.Sprintf("RCH-260301-%03d", f.n), nil
}

func (f *fakeCodes) NextWithdrawalCode(context.Context) (string, error) {
	f.n++
	return fmt.Sprintf("WDR-260301-%03d", f.n), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	db        *gorm.DB
	ledger    *ledger.Service
	svc       *Service
	publisher *recordingPublisher
	clock     *testutil.Clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, append(ledger.Models(), Models()...)...)
	node := testutil.NewNode(t)

	clock := testutil.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	ledgerSvc.SetClock(clock.Now)

	cfg := &config.Config{}
	cfg.Wallet.PaymentPhoneNumber = "+254736196188"

	publisher := &recordingPublisher{}
	svc := NewService(ServiceParams{
		DB:        db,
		Node:      node,
		Config:    cfg,
		Ledger:    ledgerSvc,
		Codes:     &fakeCodes{},
		Publisher: publisher,
	})

	return &fixture{db: db, ledger: ledgerSvc, svc: svc, publisher: publisher, clock: clock}
}

func (f *fixture) setIncome(t *testing.T, userID string, income int64) {
	t.Helper()

	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		l, err := f.ledger.Lock(context.Background(), tx, userID)
		if err != nil {
			return err
		}
		l.Income = decimal.NewFromInt(income)
		return f.ledger.Save(context.Background(), tx, l)
	}))
}

func (f *fixture) wallet(t *testing.T, userID string) *ledger.Ledger {
	t.Helper()

	l, err := f.ledger.GetLedger(context.Background(), userID)
	require.NoError(t, err)
	return l
}

func (f *fixture) movement(t *testing.T, id string) *ledger.Movement {
	t.Helper()

	var m ledger.Movement
	require.NoError(t, f.db.First(&m, "id = ?", id).Error)
	return &m
}

func (f *fixture) recharge(t *testing.T, userID string, amount int64) *RechargeRequest {
	t.Helper()

	receipt, err := f.svc.RequestRecharge(context.Background(), RechargeInput{
		UserID:      userID,
		Amount:      decimal.NewFromInt(amount),
		PhoneNumber: "0700000000",
	})
	require.NoError(t, err)
	return receipt.Request
}

func TestRequestRechargeValidation(t *testing.T) {
	f := newFixture(t)

	for _, amount := range []string{"0", "-5", "10.005"} {
		_, err := f.svc.RequestRecharge(context.Background(), RechargeInput{UserID: "user-1", Amount: decimal.RequireFromString(amount)})
		require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed), amount)
	}

	var count int64
	require.NoError(t, f.db.Model(&ledger.Movement{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestRequestRechargeDoesNotCredit(t *testing.T) {
	f := newFixture(t)

	req := f.recharge(t, "user-1", 500)
	require.Equal(t, StatusPending, req.Status)
	require.Equal(t, "RCH-260301-001", req.Code)

	l := f.wallet(t, "user-1")
	require.True(t, l.Balance.IsZero())
	require.False(t, l.HasRecharged)

	m := f.movement(t, req.MovementID)
	require.Equal(t, ledger.KindRecharge, m.Kind)
	require.Equal(t, ledger.StatusPending, m.Status)
	require.Equal(t, []string{taskname.RechargeRequested}, f.publisher.types())
}

func TestRequestRechargeIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := RechargeInput{UserID: "user-1", Amount: decimal.NewFromInt(300), IdempotencyKey: "abc"}
	first, err := f.svc.RequestRecharge(ctx, in)
	require.NoError(t, err)
	second, err := f.svc.RequestRecharge(ctx, in)
	require.NoError(t, err)
	require.Equal(t, first.Request.ID, second.Request.ID)

	other, err := f.svc.RequestRecharge(ctx, RechargeInput{UserID: "user-2", Amount: decimal.NewFromInt(300), IdempotencyKey: "abc"})
	require.NoError(t, err)
	require.NotEqual(t, first.Request.ID, other.Request.ID)

	var count int64
	require.NoError(t, f.db.Model(&RechargeRequest{}).Where("user_id = ?", "user-1").Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestPollRechargeStatus(t *testing.T) {
	f := newFixture(t)
	req := f.recharge(t, "user-1", 100)

	got, err := f.svc.PollRechargeStatus(context.Background(), "user-1", req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)

	_, err = f.svc.PollRechargeStatus(context.Background(), "user-2", req.ID)
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))

	_, err = f.svc.PollRechargeStatus(context.Background(), "user-1", "missing")
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))
}

func TestApproveRechargeRequiresExternalRef(t *testing.T) {
	f := newFixture(t)
	req := f.recharge(t, "user-1", 500)

	_, err := f.svc.ApproveRecharge(context.Background(), req.ID, "")
	require.True(t, errutil.HasStatus(err, errutil.StatusPreconditionFailed))

	got, err := f.svc.PollRechargeStatus(context.Background(), "user-1", req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.True(t, f.wallet(t, "user-1").Balance.IsZero())
	require.Equal(t, ledger.StatusPending, f.movement(t, req.MovementID).Status)
}

func TestApproveRechargeCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.recharge(t, "user-1", 500)

	res, err := f.svc.ApproveRecharge(ctx, req.ID, "QK100")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)

	l := f.wallet(t, "user-1")
	require.True(t, l.Balance.Equal(decimal.NewFromInt(500)))
	require.True(t, l.HasRecharged)

	m := f.movement(t, req.MovementID)
	require.Equal(t, ledger.StatusCompleted, m.Status)
	require.NotNil(t, m.ExternalRef)
	require.Equal(t, "QK100", *m.ExternalRef)

	_, err = f.svc.ApproveRecharge(ctx, req.ID, "QK100")
	require.True(t, errutil.HasStatus(err, errutil.StatusAlreadyFinalized))

	_, err = f.svc.RejectRecharge(ctx, req.ID)
	require.True(t, errutil.HasStatus(err, errutil.StatusAlreadyFinalized))

	require.True(t, f.wallet(t, "user-1").Balance.Equal(decimal.NewFromInt(500)))
	require.Equal(t, []string{taskname.RechargeRequested, taskname.RechargeCompleted}, f.publisher.types())

	report, err := f.ledger.VerifyChain(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, report.Valid)
}

func TestApproveRechargeDuplicateExternalRef(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.recharge(t, "user-1", 100)
	second := f.recharge(t, "user-2", 100)

	_, err := f.svc.ApproveRecharge(ctx, first.ID, "QK777")
	require.NoError(t, err)

	_, err = f.svc.ApproveRecharge(ctx, second.ID, "QK777")
	require.True(t, errutil.HasStatus(err, errutil.StatusConflict))

	got, err := f.svc.PollRechargeStatus(ctx, "user-2", second.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.True(t, f.wallet(t, "user-2").Balance.IsZero())
}

func TestSubmitRechargeReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.recharge(t, "user-1", 250)

	_, err := f.svc.SubmitRechargeReference(ctx, "user-2", req.ID, "QK1")
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))

	_, err = f.svc.SubmitRechargeReference(ctx, "user-1", req.ID, " ")
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))

	_, err = f.svc.SubmitRechargeReference(ctx, "user-1", req.ID, "QK1")
	require.NoError(t, err)
	require.Equal(t, ledger.StatusAwaitingVerification, f.movement(t, req.MovementID).Status)

	res, err := f.svc.ApproveRecharge(ctx, req.ID, "")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)
	require.True(t, f.wallet(t, "user-1").Balance.Equal(decimal.NewFromInt(250)))

	_, err = f.svc.SubmitRechargeReference(ctx, "user-1", req.ID, "QK2")
	require.True(t, errutil.HasStatus(err, errutil.StatusAlreadyFinalized))
}

func TestRejectRecharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.recharge(t, "user-1", 250)

	res, err := f.svc.RejectRecharge(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, ledger.StatusFailed, f.movement(t, req.MovementID).Status)
	require.True(t, f.wallet(t, "user-1").Balance.IsZero())

	_, err = f.svc.RejectRecharge(ctx, req.ID)
	require.True(t, errutil.HasStatus(err, errutil.StatusAlreadyFinalized))
	require.Equal(t, taskname.RechargeRejected, f.publisher.types()[len(f.publisher.events)-1])
}

func TestRequestWithdrawal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{UserID: "user-1", Amount: decimal.NewFromInt(100), PhoneNumber: "0700"})
	require.True(t, errutil.HasStatus(err, errutil.StatusInsufficientFunds))

	_, err = f.svc.RequestWithdrawal(ctx, WithdrawalInput{UserID: "user-1", Amount: decimal.NewFromInt(100)})
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))

	f.setIncome(t, "user-1", 2000)

	req, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{UserID: "user-1", Amount: decimal.NewFromInt(1500), PhoneNumber: "0700"})
	require.NoError(t, err)
	require.True(t, req.Fee.Equal(decimal.NewFromInt(150)))
	require.True(t, req.NetAmount.Equal(decimal.NewFromInt(1350)))
	require.Equal(t, StatusPending, req.Status)

	require.True(t, f.wallet(t, "user-1").Income.Equal(decimal.NewFromInt(2000)))

	m := f.movement(t, req.MovementID)
	require.Equal(t, ledger.KindWithdrawal, m.Kind)
	require.True(t, m.Amount.Equal(decimal.NewFromInt(1350)))
	require.True(t, m.Fee.Equal(decimal.NewFromInt(150)))
}

func TestApproveWithdrawal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setIncome(t, "user-1", 2000)

	req, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{UserID: "user-1", Amount: decimal.NewFromInt(1500), PhoneNumber: "0700"})
	require.NoError(t, err)

	res, err := f.svc.ApproveWithdrawal(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, res.Status)
	require.True(t, f.wallet(t, "user-1").Income.Equal(decimal.NewFromInt(500)))
	require.Equal(t, ledger.StatusCompleted, f.movement(t, req.MovementID).Status)

	_, err = f.svc.ApproveWithdrawal(ctx, req.ID)
	require.True(t, errutil.HasStatus(err, errutil.StatusAlreadyFinalized))
	require.True(t, f.wallet(t, "user-1").Income.Equal(decimal.NewFromInt(500)))
}

func TestApproveWithdrawalForcedRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setIncome(t, "user-1", 2000)

	req, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{UserID: "user-1", Amount: decimal.NewFromInt(1500), PhoneNumber: "0700"})
	require.NoError(t, err)

	f.setIncome(t, "user-1", 100)

	res, err := f.svc.ApproveWithdrawal(ctx, req.ID)
	require.True(t, errutil.HasStatus(err, errutil.StatusInsufficientFunds))
	require.NotNil(t, res)
	require.Equal(t, StatusRejected, res.Status)

	require.True(t, f.wallet(t, "user-1").Income.Equal(decimal.NewFromInt(100)))
	require.Equal(t, ledger.StatusFailed, f.movement(t, req.MovementID).Status)

	var stored WithdrawalRequest
	require.NoError(t, f.db.First(&stored, "id = ?", req.ID).Error)
	require.Equal(t, StatusRejected, stored.Status)
	require.Equal(t, taskname.WithdrawalRejected, f.publisher.types()[len(f.publisher.events)-1])
}

func TestRejectWithdrawal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setIncome(t, "user-1", 300)

	req, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{UserID: "user-1", Amount: decimal.NewFromInt(200), PhoneNumber: "0700"})
	require.NoError(t, err)

	res, err := f.svc.RejectWithdrawal(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, res.Status)
	require.True(t, f.wallet(t, "user-1").Income.Equal(decimal.NewFromInt(300)))
}

func TestSettleUnknownRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Settle(ctx, Command{Kind: KindRecharge, RequestID: "missing", Decision: DecisionApprove})
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))

	_, err = f.svc.Settle(ctx, Command{Kind: KindWithdrawal, RequestID: "missing", Decision: DecisionReject})
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))

	_, err = f.svc.Settle(ctx, Command{Kind: "deposit", RequestID: "x", Decision: DecisionReject})
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))
}

func TestPendingQueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.recharge(t, "user-1", 100)
	f.recharge(t, "user-2", 200)
	_, err := f.svc.RejectRecharge(ctx, first.ID)
	require.NoError(t, err)

	pending, err := f.svc.PendingRecharges(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "user-2", pending[0].UserID)

	recharges, withdrawals, err := f.svc.CountPending(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), recharges)
	require.Zero(t, withdrawals)

	rows, info, err := f.svc.ListRecharges(ctx, "user-1", pagination.Pagination{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.False(t, info.HasMore)
}

func TestPaymentInstructions(t *testing.T) {
	f := newFixture(t)

	in := f.svc.PaymentInstructions()
	require.Equal(t, "+254736196188", in.PhoneNumber)
	require.NotEmpty(t, in.Steps)
	require.Contains(t, in.Steps[len(in.Steps)-1], "admin")
}

func TestConcurrentApproveRechargeCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.recharge(t, "user-1", 500)

	const attempts = 8
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.ApproveRecharge(ctx, req.ID, "QK-RACE")
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.True(t, errutil.HasStatus(err, errutil.StatusAlreadyFinalized), "unexpected error: %v", err)
	}
	require.Equal(t, 1, succeeded)

	l := f.wallet(t, "user-1")
	require.True(t, l.Balance.Equal(decimal.NewFromInt(500)))
	require.Equal(t, ledger.StatusCompleted, f.movement(t, req.MovementID).Status)
	require.Equal(t, []string{taskname.RechargeRequested, taskname.RechargeCompleted}, f.publisher.types())

	report, err := f.ledger.VerifyChain(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, report.Valid)
}

func TestConcurrentWithdrawalsKeepIncomeNonNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setIncome(t, "user-1", 250)

	var ids []string
	for i := 0; i < 3; i++ {
		req, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{
			UserID:      "user-1",
			Amount:      decimal.NewFromInt(100),
			PhoneNumber: "0700000000",
		})
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}

	results := make([]*Result, len(ids))
	errs := make([]error, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i], errs[i] = f.svc.ApproveWithdrawal(ctx, id)
		}(i, id)
	}
	wg.Wait()

	var completed, rejected int
	for i := range ids {
		require.NotNil(t, results[i])
		switch results[i].Status {
		case StatusCompleted:
			require.NoError(t, errs[i])
			completed++
		case StatusRejected:
			require.True(t, errutil.HasStatus(errs[i], errutil.StatusInsufficientFunds))
			rejected++
		}
	}
	require.Equal(t, 2, completed)
	require.Equal(t, 1, rejected)

	l := f.wallet(t, "user-1")
	require.True(t, l.Income.Equal(decimal.NewFromInt(50)))
	require.False(t, l.Income.IsNegative())
}
