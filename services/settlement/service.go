package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"investhub-platform/pkg/config"
	"investhub-platform/pkg/db/option"
	"investhub-platform/pkg/db/pagination"
	"investhub-platform/pkg/errutil"
	"investhub-platform/pkg/events"
	"investhub-platform/pkg/logger"
	"investhub-platform/pkg/repository"
	"investhub-platform/pkg/sequence"
	"investhub-platform/pkg/taskname"
	"investhub-platform/services/fee"
	"investhub-platform/services/ledger"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	ledger    *ledger.Service
	codes     sequence.Generator
	publisher events.Publisher

	paymentPhone string

	recharges   repository.Repository[RechargeRequest]
	withdrawals repository.Repository[WithdrawalRequest]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Config    *config.Config
	Ledger    *ledger.Service
	Codes     sequence.Generator
	Publisher events.Publisher `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:           p.DB,
		node:         p.Node,
		ledger:       p.Ledger,
		codes:        p.Codes,
		publisher:    p.Publisher,
		paymentPhone: p.Config.Wallet.PaymentPhoneNumber,

		recharges:   repository.ProvideStore[RechargeRequest](p.DB),
		withdrawals: repository.ProvideStore[WithdrawalRequest](p.DB),
	}
}

func idempotencyKey(raw string) *string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return &raw
}

func (s *Service) PaymentInstructions() Instructions {
	return Instructions{
		Message:     "Send the recharge amount to the mobile money number below and await admin verification.",
		PhoneNumber: s.paymentPhone,
		Steps: []string{
			"Open your mobile money app.",
			"Select \"Send Money\".",
			"Enter the number above.",
			"Enter the amount.",
			"Complete the transaction and note the transaction ID (e.g., QJ1234567890).",
			"Submit the transaction ID on the recharge and wait for an admin to verify your payment.",
		},
	}
}

func (s *Service) receipt(req *RechargeRequest) *RechargeReceipt {
	return &RechargeReceipt{
		Request:            req,
		PaymentPhoneNumber: s.paymentPhone,
		Message: fmt.Sprintf("Please send KES %s to %s quoting %s, then submit the confirmation id.",
			req.Amount.StringFixed(2), s.paymentPhone, req.Code),
	}
}

// RequestRecharge opens a pending recharge. The ledger is not credited until
// an admin approves it.
func (s *Service) RequestRecharge(ctx context.Context, in RechargeInput) (*RechargeReceipt, error) {
	if in.UserID == "" {
		return nil, errutil.ValidationFailed("user id is required", nil)
	}
	if err := ledger.ValidateAmount("amount", in.Amount); err != nil {
		return nil, err
	}

	key := idempotencyKey(in.IdempotencyKey)
	if key != nil {
		existing, err := s.recharges.FindOne(ctx, &RechargeRequest{UserID: in.UserID, IdempotencyKey: key})
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return s.receipt(existing), nil
		}
	}

	code, err := s.codes.NextRechargeCode(ctx)
	if err != nil {
		logger.L(ctx).Error("failed to generate recharge code", zap.Error(err))
		return nil, errutil.Internal("failed to generate recharge code", err)
	}

	var req *RechargeRequest
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ledger.Lock(ctx, tx, in.UserID); err != nil {
			return err
		}

		m, err := s.ledger.Record(ctx, tx, ledger.MovementParams{
			UserID:      in.UserID,
			Kind:        ledger.KindRecharge,
			Status:      ledger.StatusPending,
			Amount:      in.Amount,
			PhoneNumber: in.PhoneNumber,
			Description: fmt.Sprintf("Recharge %s", code),
			Metadata:    map[string]any{"code": code},
		})
		if err != nil {
			return err
		}

		req = &RechargeRequest{
			ID:             s.node.Generate().String(),
			Code:           code,
			UserID:         in.UserID,
			Amount:         in.Amount,
			PhoneNumber:    in.PhoneNumber,
			Status:         StatusPending,
			MovementID:     m.ID,
			IdempotencyKey: key,
			CreatedAt:      m.CreatedAt,
			UpdatedAt:      m.CreatedAt,
		}
		return s.recharges.WithTrx(tx).Create(ctx, req)
	})
	if err != nil {
		if key != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, findErr := s.recharges.FindOne(ctx, &RechargeRequest{UserID: in.UserID, IdempotencyKey: key})
			if findErr == nil && existing != nil {
				return s.receipt(existing), nil
			}
		}
		logger.L(ctx).Error("failed to create recharge request", zap.String("user_id", in.UserID), zap.Error(err))
		return nil, err
	}

	requestsCreated.WithLabelValues(string(KindRecharge)).Inc()
	events.Emit(ctx, s.publisher, events.Event{
		Type:       taskname.RechargeRequested,
		UserID:     req.UserID,
		ResourceID: req.ID,
		Amount:     req.Amount,
		Status:     string(req.Status),
		Attributes: map[string]string{"code": req.Code},
		OccurredAt: req.CreatedAt,
	})

	return s.receipt(req), nil
}

func (s *Service) PollRechargeStatus(ctx context.Context, userID, requestID string) (*RechargeRequest, error) {
	req, err := s.recharges.FindOne(ctx, &RechargeRequest{ID: requestID, UserID: userID})
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, errutil.NotFound("recharge not found", nil)
	}
	return req, nil
}

// SubmitRechargeReference attaches the user's mobile money confirmation id to
// a pending recharge so an admin can verify it.
func (s *Service) SubmitRechargeReference(ctx context.Context, userID, requestID, externalRef string) (*RechargeRequest, error) {
	externalRef = strings.TrimSpace(externalRef)
	if externalRef == "" {
		return nil, errutil.ValidationFailed("external reference is required", nil)
	}

	var req *RechargeRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ledger.Lock(ctx, tx, userID); err != nil {
			return err
		}

		var err error
		req, err = s.recharges.WithTrx(tx).FindOne(ctx, &RechargeRequest{ID: requestID, UserID: userID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if req == nil {
			return errutil.NotFound("recharge not found", nil)
		}
		if req.Status.Terminal() {
			return errutil.AlreadyFinalized(fmt.Sprintf("recharge already %s", req.Status), nil)
		}

		m, err := s.ledger.LockMovement(ctx, tx, req.MovementID)
		if err != nil {
			return err
		}
		return s.ledger.AttachExternalRef(ctx, tx, m, externalRef)
	})
	if err != nil {
		return nil, err
	}

	return req, nil
}

// RequestWithdrawal opens a pending withdrawal. The requested amount must be
// covered by income now, and is checked again at approval.
func (s *Service) RequestWithdrawal(ctx context.Context, in WithdrawalInput) (*WithdrawalRequest, error) {
	if in.UserID == "" {
		return nil, errutil.ValidationFailed("user id is required", nil)
	}
	if err := ledger.ValidateAmount("amount", in.Amount); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.PhoneNumber) == "" {
		return nil, errutil.ValidationFailed("phone number is required", nil,
			errutil.WithDetails(errutil.Detail{Field: "phone_number", Message: "required"}))
	}

	key := idempotencyKey(in.IdempotencyKey)
	if key != nil {
		existing, err := s.withdrawals.FindOne(ctx, &WithdrawalRequest{UserID: in.UserID, IdempotencyKey: key})
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	code, err := s.codes.NextWithdrawalCode(ctx)
	if err != nil {
		logger.L(ctx).Error("failed to generate withdrawal code", zap.Error(err))
		return nil, errutil.Internal("failed to generate withdrawal code", err)
	}

	charge := fee.Calculate(in.Amount)
	net := in.Amount.Sub(charge)

	var req *WithdrawalRequest
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := s.ledger.Lock(ctx, tx, in.UserID)
		if err != nil {
			return err
		}
		if l.Available(ledger.BucketIncome).LessThan(in.Amount) {
			return errutil.InsufficientFunds("insufficient income", nil, errutil.WithDetails(errutil.Detail{
				Field:   "amount",
				Message: fmt.Sprintf("available %s", l.Income.StringFixed(2)),
			}))
		}

		m, err := s.ledger.Record(ctx, tx, ledger.MovementParams{
			UserID:      in.UserID,
			Kind:        ledger.KindWithdrawal,
			Status:      ledger.StatusPending,
			Amount:      net,
			Fee:         charge,
			PhoneNumber: in.PhoneNumber,
			Description: fmt.Sprintf("Withdrawal %s", code),
			Metadata:    map[string]any{"code": code, "requested_amount": in.Amount.StringFixed(2)},
		})
		if err != nil {
			return err
		}

		req = &WithdrawalRequest{
			ID:              s.node.Generate().String(),
			Code:            code,
			UserID:          in.UserID,
			RequestedAmount: in.Amount,
			Fee:             charge,
			NetAmount:       net,
			PhoneNumber:     in.PhoneNumber,
			Status:          StatusPending,
			MovementID:      m.ID,
			IdempotencyKey:  key,
			CreatedAt:       m.CreatedAt,
			UpdatedAt:       m.CreatedAt,
		}
		return s.withdrawals.WithTrx(tx).Create(ctx, req)
	})
	if err != nil {
		if key != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, findErr := s.withdrawals.FindOne(ctx, &WithdrawalRequest{UserID: in.UserID, IdempotencyKey: key})
			if findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	requestsCreated.WithLabelValues(string(KindWithdrawal)).Inc()
	events.Emit(ctx, s.publisher, events.Event{
		Type:       taskname.WithdrawalRequested,
		UserID:     req.UserID,
		ResourceID: req.ID,
		Amount:     req.RequestedAmount,
		Status:     string(req.Status),
		Attributes: map[string]string{"code": req.Code, "fee": req.Fee.StringFixed(2), "net_amount": req.NetAmount.StringFixed(2)},
		OccurredAt: req.CreatedAt,
	})

	return req, nil
}

func (s *Service) ApproveRecharge(ctx context.Context, requestID, externalRef string) (*Result, error) {
	return s.Settle(ctx, Command{Kind: KindRecharge, RequestID: requestID, Decision: DecisionApprove, ExternalRef: externalRef})
}

func (s *Service) RejectRecharge(ctx context.Context, requestID string) (*Result, error) {
	return s.Settle(ctx, Command{Kind: KindRecharge, RequestID: requestID, Decision: DecisionReject})
}

func (s *Service) ApproveWithdrawal(ctx context.Context, requestID string) (*Result, error) {
	return s.Settle(ctx, Command{Kind: KindWithdrawal, RequestID: requestID, Decision: DecisionApprove})
}

func (s *Service) RejectWithdrawal(ctx context.Context, requestID string) (*Result, error) {
	return s.Settle(ctx, Command{Kind: KindWithdrawal, RequestID: requestID, Decision: DecisionReject})
}

// Settle applies an admin decision to a pending request. A Result is returned
// whenever the request changed state, even if err is non-nil.
func (s *Service) Settle(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.RequestID == "" {
		return nil, errutil.ValidationFailed("request id is required", nil)
	}

	var (
		res *Result
		t   Transition
		err error
	)
	switch cmd.Kind {
	case KindRecharge:
		res, t, err = s.settleRecharge(ctx, cmd)
	case KindWithdrawal:
		res, t, err = s.settleWithdrawal(ctx, cmd)
	default:
		return nil, errutil.ValidationFailed(fmt.Sprintf("unknown request kind %q", cmd.Kind), nil)
	}
	if err != nil {
		logger.L(ctx).Warn("settlement decision not applied",
			zap.String("kind", string(cmd.Kind)),
			zap.String("request_id", cmd.RequestID),
			zap.String("decision", string(cmd.Decision)),
			zap.Error(err),
		)
		return nil, err
	}

	decisionsApplied.WithLabelValues(string(cmd.Kind), string(res.Status)).Inc()
	logger.L(ctx).Info("settlement decision applied",
		zap.String("kind", string(cmd.Kind)),
		zap.String("request_id", res.RequestID),
		zap.String("status", string(res.Status)),
	)

	return res, t.Err
}

func (s *Service) settleRecharge(ctx context.Context, cmd Command) (*Result, Transition, error) {
	var (
		req *RechargeRequest
		t   Transition
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		peek, err := s.recharges.WithTrx(tx).FindOne(ctx, &RechargeRequest{ID: cmd.RequestID})
		if err != nil {
			return err
		}
		if peek == nil {
			return errutil.NotFound("recharge not found", nil)
		}

		l, err := s.ledger.Lock(ctx, tx, peek.UserID)
		if err != nil {
			return err
		}

		req, err = s.recharges.WithTrx(tx).FindOne(ctx, &RechargeRequest{ID: cmd.RequestID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}

		m, err := s.ledger.LockMovement(ctx, tx, req.MovementID)
		if err != nil {
			return err
		}

		ref := strings.TrimSpace(cmd.ExternalRef)
		if cmd.Decision == DecisionApprove && ref != "" && !req.Status.Terminal() {
			if err := s.ledger.AttachExternalRef(ctx, tx, m, ref); err != nil {
				return err
			}
		}

		t = NextRecharge(req.Status, cmd.Decision, Facts{
			HasExternalRef: m.ExternalRef != nil && *m.ExternalRef != "",
		})
		if !t.Changed() {
			return t.Err
		}

		if err := s.apply(ctx, tx, l, m, req.Amount, t.Effects); err != nil {
			return err
		}

		req.Status = t.To
		req.UpdatedAt = s.ledger.Now()
		return s.recharges.WithTrx(tx).Update(ctx, req.ID, map[string]any{
			"status":     req.Status,
			"updated_at": req.UpdatedAt,
		})
	})
	if err != nil {
		return nil, t, err
	}

	eventType := taskname.RechargeCompleted
	if req.Status == StatusFailed {
		eventType = taskname.RechargeRejected
	}
	events.Emit(ctx, s.publisher, events.Event{
		Type:       eventType,
		UserID:     req.UserID,
		ResourceID: req.ID,
		Amount:     req.Amount,
		Status:     string(req.Status),
		OccurredAt: req.UpdatedAt,
	})

	return &Result{Kind: KindRecharge, RequestID: req.ID, UserID: req.UserID, Status: req.Status}, t, nil
}

func (s *Service) settleWithdrawal(ctx context.Context, cmd Command) (*Result, Transition, error) {
	var (
		req *WithdrawalRequest
		t   Transition
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		peek, err := s.withdrawals.WithTrx(tx).FindOne(ctx, &WithdrawalRequest{ID: cmd.RequestID})
		if err != nil {
			return err
		}
		if peek == nil {
			return errutil.NotFound("withdrawal not found", nil)
		}

		l, err := s.ledger.Lock(ctx, tx, peek.UserID)
		if err != nil {
			return err
		}

		req, err = s.withdrawals.WithTrx(tx).FindOne(ctx, &WithdrawalRequest{ID: cmd.RequestID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}

		m, err := s.ledger.LockMovement(ctx, tx, req.MovementID)
		if err != nil {
			return err
		}

		t = NextWithdrawal(req.Status, cmd.Decision, Facts{
			Income:    l.Available(ledger.BucketIncome),
			Requested: req.RequestedAmount,
		})
		if !t.Changed() {
			return t.Err
		}

		if err := s.apply(ctx, tx, l, m, req.RequestedAmount, t.Effects); err != nil {
			return err
		}

		req.Status = t.To
		req.UpdatedAt = s.ledger.Now()
		return s.withdrawals.WithTrx(tx).Update(ctx, req.ID, map[string]any{
			"status":     req.Status,
			"updated_at": req.UpdatedAt,
		})
	})
	if err != nil {
		return nil, t, err
	}

	eventType := taskname.WithdrawalApproved
	if req.Status == StatusRejected {
		eventType = taskname.WithdrawalRejected
	}
	events.Emit(ctx, s.publisher, events.Event{
		Type:       eventType,
		UserID:     req.UserID,
		ResourceID: req.ID,
		Amount:     req.RequestedAmount,
		Status:     string(req.Status),
		OccurredAt: req.UpdatedAt,
	})

	return &Result{Kind: KindWithdrawal, RequestID: req.ID, UserID: req.UserID, Status: req.Status}, t, nil
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, l *ledger.Ledger, m *ledger.Movement, amount decimal.Decimal, effects []Effect) error {
	dirty := false

	for _, e := range effects {
		switch e {
		case EffectCreditBalance:
			if err := l.Credit(ledger.BucketBalance, amount); err != nil {
				return err
			}
			dirty = true
		case EffectMarkRecharged:
			l.HasRecharged = true
			dirty = true
		case EffectDebitIncome:
			if err := l.Debit(ledger.BucketIncome, amount); err != nil {
				return err
			}
			dirty = true
		case EffectCompleteMovement:
			if err := s.ledger.Finalize(ctx, tx, m, ledger.StatusCompleted); err != nil {
				return err
			}
		case EffectFailMovement:
			if err := s.ledger.Finalize(ctx, tx, m, ledger.StatusFailed); err != nil {
				return err
			}
		}
	}

	if dirty {
		return s.ledger.Save(ctx, tx, l)
	}
	return nil
}

func (s *Service) ListRecharges(ctx context.Context, userID string, page pagination.Pagination) ([]*RechargeRequest, *pagination.PageInfo, error) {
	page = page.Normalize()

	rows, err := s.recharges.Find(ctx, &RechargeRequest{UserID: userID}, option.ApplyPagination(page))
	if err != nil {
		return nil, nil, err
	}

	out, info := pagination.BuildCursorPageInfo(rows, page.Limit, func(r *RechargeRequest) pagination.Cursor {
		return pagination.Cursor{ID: r.ID, CreatedAt: r.CreatedAt}
	})
	return out, info, nil
}

func (s *Service) ListWithdrawals(ctx context.Context, userID string, page pagination.Pagination) ([]*WithdrawalRequest, *pagination.PageInfo, error) {
	page = page.Normalize()

	rows, err := s.withdrawals.Find(ctx, &WithdrawalRequest{UserID: userID}, option.ApplyPagination(page))
	if err != nil {
		return nil, nil, err
	}

	out, info := pagination.BuildCursorPageInfo(rows, page.Limit, func(r *WithdrawalRequest) pagination.Cursor {
		return pagination.Cursor{ID: r.ID, CreatedAt: r.CreatedAt}
	})
	return out, info, nil
}

// PendingRecharges lists the admin review queue, oldest first.
func (s *Service) PendingRecharges(ctx context.Context, limit int) ([]*RechargeRequest, error) {
	return s.recharges.Find(ctx, &RechargeRequest{Status: StatusPending},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}),
		option.WithLimit(limit),
	)
}

func (s *Service) PendingWithdrawals(ctx context.Context, limit int) ([]*WithdrawalRequest, error) {
	return s.withdrawals.Find(ctx, &WithdrawalRequest{Status: StatusPending},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}),
		option.WithLimit(limit),
	)
}

func (s *Service) CountPending(ctx context.Context) (recharges, withdrawals int64, err error) {
	if recharges, err = s.recharges.Count(ctx, &RechargeRequest{Status: StatusPending}); err != nil {
		return 0, 0, err
	}
	if withdrawals, err = s.withdrawals.Count(ctx, &WithdrawalRequest{Status: StatusPending}); err != nil {
		return 0, 0, err
	}
	return recharges, withdrawals, nil
}
