package admin

import (
	"context"

	"investhub-platform/pkg/logger"
	"investhub-platform/services/account"
	"investhub-platform/services/ledger"
	"investhub-platform/services/settlement"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	recentLimit  = 10
	pendingLimit = 50
	usersLimit   = 200
	dashboardKey = "dashboard"
)

type Service struct {
	ledger     *ledger.Service
	settlement *settlement.Service
	accounts   *account.Service
	group      singleflight.Group
}

type ServiceParams struct {
	fx.In
	Ledger     *ledger.Service
	Settlement *settlement.Service
	Accounts   *account.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		ledger:     p.Ledger,
		settlement: p.Settlement,
		accounts:   p.Accounts,
	}
}

// DashboardSnapshot aggregates totals, recent activity and the pending
// queues. Concurrent callers share one in-flight computation.
func (s *Service) DashboardSnapshot(ctx context.Context) (*Dashboard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The computation is shared, so it must not die with whichever caller started it.
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(dashboardKey, func() (any, error) {
		return s.snapshot(detached)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			logger.L(ctx).Error("failed to build dashboard snapshot", zap.Error(res.Err))
			return nil, res.Err
		}
		if res.Shared {
			logger.L(ctx).Debug("dashboard snapshot shared")
		}
		return res.Val.(*Dashboard), nil
	}
}

func (s *Service) snapshot(ctx context.Context) (*Dashboard, error) {
	var (
		d           = &Dashboard{GeneratedAt: s.ledger.Now()}
		recent      []*ledger.Movement
		recharges   []*settlement.RechargeRequest
		withdrawals []*settlement.WithdrawalRequest
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.TotalRecharges, err = s.ledger.TotalCompleted(gctx, ledger.KindRecharge)
		return err
	})
	g.Go(func() (err error) {
		d.TotalWithdrawals, err = s.ledger.TotalCompleted(gctx, ledger.KindWithdrawal)
		return err
	})
	g.Go(func() (err error) {
		d.ActiveUsers, err = s.accounts.CountActive(gctx)
		return err
	})
	g.Go(func() (err error) {
		d.PendingRechargeCount, d.PendingWithdrawalCount, err = s.settlement.CountPending(gctx)
		return err
	})
	g.Go(func() (err error) {
		recent, err = s.ledger.RecentCompleted(gctx, recentLimit)
		return err
	})
	g.Go(func() (err error) {
		d.Users, err = s.accounts.ListUsers(gctx, usersLimit)
		return err
	})
	g.Go(func() (err error) {
		recharges, err = s.settlement.PendingRecharges(gctx, pendingLimit)
		return err
	})
	g.Go(func() (err error) {
		withdrawals, err = s.settlement.PendingWithdrawals(gctx, pendingLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	userIDs := make([]string, 0, len(recent)+len(recharges)+len(withdrawals))
	movementIDs := make([]string, 0, len(recharges)+len(withdrawals))
	for _, m := range recent {
		userIDs = append(userIDs, m.UserID)
	}
	for _, r := range recharges {
		userIDs = append(userIDs, r.UserID)
		movementIDs = append(movementIDs, r.MovementID)
	}
	for _, w := range withdrawals {
		userIDs = append(userIDs, w.UserID)
		movementIDs = append(movementIDs, w.MovementID)
	}

	var (
		names     map[string]string
		movements map[string]*ledger.Movement
	)
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		names, err = s.accounts.Usernames(gctx, userIDs)
		return err
	})
	g.Go(func() (err error) {
		movements, err = s.ledger.MovementsByID(gctx, movementIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d.RecentActivity = make([]Activity, 0, len(recent))
	for _, m := range recent {
		d.RecentActivity = append(d.RecentActivity, Activity{
			MovementID:  m.ID,
			UserID:      m.UserID,
			Username:    names[m.UserID],
			Kind:        m.Kind,
			Status:      m.Status,
			Amount:      m.Amount,
			Description: m.Description,
			CreatedAt:   m.CreatedAt,
		})
	}

	d.PendingRecharges = make([]PendingItem, 0, len(recharges))
	for _, r := range recharges {
		item := PendingItem{
			RequestID:   r.ID,
			Code:        r.Code,
			UserID:      r.UserID,
			Username:    names[r.UserID],
			Amount:      r.Amount,
			NetAmount:   r.Amount,
			PhoneNumber: r.PhoneNumber,
			CreatedAt:   r.CreatedAt,
		}
		withMovement(&item, movements[r.MovementID])
		d.PendingRecharges = append(d.PendingRecharges, item)
	}

	d.PendingWithdrawals = make([]PendingItem, 0, len(withdrawals))
	for _, w := range withdrawals {
		item := PendingItem{
			RequestID:   w.ID,
			Code:        w.Code,
			UserID:      w.UserID,
			Username:    names[w.UserID],
			Amount:      w.RequestedAmount,
			Fee:         w.Fee,
			NetAmount:   w.NetAmount,
			PhoneNumber: w.PhoneNumber,
			CreatedAt:   w.CreatedAt,
		}
		withMovement(&item, movements[w.MovementID])
		d.PendingWithdrawals = append(d.PendingWithdrawals, item)
	}

	return d, nil
}

func withMovement(item *PendingItem, m *ledger.Movement) {
	if m == nil {
		return
	}
	item.MovementStatus = m.Status
	if m.ExternalRef != nil {
		item.ExternalRef = *m.ExternalRef
	}
}

func (s *Service) ToggleUser(ctx context.Context, userID string, action account.ToggleAction) (*account.User, error) {
	return s.accounts.ToggleUser(ctx, userID, action)
}
