package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"investhub-platform/pkg/db/option"
	"investhub-platform/pkg/db/pagination"
	"investhub-platform/pkg/errutil"
	"investhub-platform/pkg/logger"
	"investhub-platform/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var chronological = option.QuerySortBy{
	SortBy:  "created_at",
	OrderBy: "asc",
	Allow:   map[string]bool{"created_at": true},
}

var newestFirst = option.QuerySortBy{
	SortBy:  "created_at",
	OrderBy: "desc",
	Allow:   map[string]bool{"created_at": true},
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time

	ledgers   repository.Repository[Ledger]
	movements repository.Repository[Movement]
	rewards   repository.Repository[ExchangeReward]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		now:  time.Now,

		ledgers:   repository.ProvideStore[Ledger](p.DB),
		movements: repository.ProvideStore[Movement](p.DB),
		rewards:   repository.ProvideStore[ExchangeReward](p.DB),
	}
}

// SetClock overrides the time source used for timestamps.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Now is the service clock in UTC, truncated to the precision every
// supported database round-trips.
func (s *Service) Now() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// Lock returns the user's ledger row locked FOR UPDATE, creating it first if
// it does not exist. It must run inside tx; the lock is held until commit.
func (s *Service) Lock(ctx context.Context, tx *gorm.DB, userID string) (*Ledger, error) {
	if userID == "" {
		return nil, errutil.ValidationFailed("user id is required", nil)
	}

	now := s.Now()
	seed := &Ledger{
		ID:        s.node.Generate().String(),
		UserID:    userID,
		Balance:   decimal.Zero,
		Income:    decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(seed).Error; err != nil {
		return nil, err
	}

	l, err := s.ledgers.WithTrx(tx).FindOne(ctx, &Ledger{UserID: userID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, errutil.Internal("ledger row vanished after upsert", nil)
	}

	return l, nil
}

// Save writes the absolute bucket values computed under the row lock.
func (s *Service) Save(ctx context.Context, tx *gorm.DB, l *Ledger) error {
	if l.Balance.IsNegative() || l.Income.IsNegative() {
		return errutil.InsufficientFunds("ledger bucket would become negative", nil)
	}

	l.UpdatedAt = s.Now()
	return s.ledgers.WithTrx(tx).Update(ctx, l.ID, map[string]any{
		"balance":            l.Balance,
		"income":             l.Income,
		"has_recharged":      l.HasRecharged,
		"last_income_update": l.LastIncomeUpdate,
		"updated_at":         l.UpdatedAt,
	})
}

// Record appends a movement to the user's hash chain. Callers serialize
// appends per user by holding the ledger lock.
func (s *Service) Record(ctx context.Context, tx *gorm.DB, p MovementParams) (*Movement, error) {
	if p.Amount.IsNegative() || p.Fee.IsNegative() {
		return nil, errutil.ValidationFailed("movement amounts must not be negative", nil)
	}

	movementTx := s.movements.WithTrx(tx)

	last, err := movementTx.FindOne(ctx, &Movement{UserID: p.UserID}, option.WithSortBy(newestFirst))
	if err != nil {
		return nil, err
	}

	previousHash := GenesisHash
	createdAt := s.Now()
	if last != nil {
		previousHash = last.Hash
		if !createdAt.After(last.CreatedAt) {
			createdAt = last.CreatedAt.UTC().Add(time.Millisecond)
		}
	}

	status := p.Status
	if status == "" {
		status = StatusPending
	}

	var meta datatypes.JSON
	if len(p.Metadata) > 0 {
		b, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, err
		}
		meta = datatypes.JSON(b)
	}

	m := &Movement{
		ID:           s.node.Generate().String(),
		UserID:       p.UserID,
		Kind:         p.Kind,
		Status:       status,
		Amount:       p.Amount,
		Fee:          p.Fee,
		ExternalRef:  p.ExternalRef,
		PhoneNumber:  p.PhoneNumber,
		Description:  p.Description,
		Metadata:     meta,
		PreviousHash: previousHash,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	m.Hash = m.GenerateHash()

	if err := movementTx.Create(ctx, m); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("external reference already used", err)
		}
		return nil, err
	}

	return m, nil
}

func (s *Service) LockMovement(ctx context.Context, tx *gorm.DB, id string) (*Movement, error) {
	m, err := s.movements.WithTrx(tx).FindOne(ctx, &Movement{ID: id}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errutil.NotFound("movement not found", nil)
	}
	return m, nil
}

// Finalize moves a movement into a terminal status exactly once.
func (s *Service) Finalize(ctx context.Context, tx *gorm.DB, m *Movement, status MovementStatus) error {
	if !status.Terminal() {
		return errutil.ValidationFailed("finalize requires a terminal status", nil)
	}
	if m.Status.Terminal() {
		return errutil.AlreadyFinalized("movement already finalized", nil)
	}

	m.Status = status
	m.UpdatedAt = s.Now()
	return s.movements.WithTrx(tx).Update(ctx, m.ID, map[string]any{
		"status":     m.Status,
		"updated_at": m.UpdatedAt,
	})
}

// AttachExternalRef records the payment provider's confirmation id and, for a
// pending movement, marks it as awaiting verification.
func (s *Service) AttachExternalRef(ctx context.Context, tx *gorm.DB, m *Movement, ref string) error {
	if ref == "" {
		return errutil.ValidationFailed("external reference is required", nil)
	}
	if m.Status.Terminal() {
		return errutil.AlreadyFinalized("movement already finalized", nil)
	}
	if m.ExternalRef != nil && *m.ExternalRef == ref {
		return nil
	}

	owner, err := s.movements.WithTrx(tx).FindOne(ctx, &Movement{ExternalRef: &ref})
	if err != nil {
		return err
	}
	if owner != nil && owner.ID != m.ID {
		return errutil.Conflict("external reference already used", nil)
	}

	if m.Status == StatusPending {
		m.Status = StatusAwaitingVerification
	}
	m.ExternalRef = &ref
	m.UpdatedAt = s.Now()

	err = s.movements.WithTrx(tx).Update(ctx, m.ID, map[string]any{
		"external_ref": ref,
		"status":       m.Status,
		"updated_at":   m.UpdatedAt,
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errutil.Conflict("external reference already used", err)
	}
	return err
}

// GrantReward credits amount to the balance bucket and logs it as a
// completed EXCHANGE_REWARD movement with its reward row.
func (s *Service) GrantReward(ctx context.Context, tx *gorm.DB, l *Ledger, amount decimal.Decimal, rewardType string) (*ExchangeReward, error) {
	if !amount.IsPositive() {
		return nil, errutil.ValidationFailed("reward amount must be positive", nil)
	}

	if err := l.Credit(BucketBalance, amount); err != nil {
		return nil, err
	}
	if err := s.Save(ctx, tx, l); err != nil {
		return nil, err
	}

	m, err := s.Record(ctx, tx, MovementParams{
		UserID:      l.UserID,
		Kind:        KindExchangeReward,
		Status:      StatusCompleted,
		Amount:      amount,
		Description: rewardType,
	})
	if err != nil {
		return nil, err
	}

	reward := &ExchangeReward{
		ID:         s.node.Generate().String(),
		UserID:     l.UserID,
		Amount:     amount,
		Type:       rewardType,
		MovementID: m.ID,
		CreatedAt:  m.CreatedAt,
	}
	if err := s.rewards.WithTrx(tx).Create(ctx, reward); err != nil {
		return nil, err
	}

	return reward, nil
}

func (s *Service) GetLedger(ctx context.Context, userID string) (*Ledger, error) {
	l, err := s.ledgers.FindOne(ctx, &Ledger{UserID: userID})
	if err != nil {
		logger.L(ctx).Error("failed to query ledger", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	if l == nil {
		return nil, errutil.NotFound("ledger not found", nil)
	}
	return l, nil
}

func movementCursor(m *Movement) pagination.Cursor {
	return pagination.Cursor{ID: m.ID, CreatedAt: m.CreatedAt}
}

func (s *Service) ListMovements(ctx context.Context, userID string, page pagination.Pagination) ([]*Movement, *pagination.PageInfo, error) {
	page = page.Normalize()

	rows, err := s.movements.Find(ctx, &Movement{UserID: userID}, option.ApplyPagination(page))
	if err != nil {
		logger.L(ctx).Error("failed to list movements", zap.String("user_id", userID), zap.Error(err))
		return nil, nil, err
	}

	out, info := pagination.BuildCursorPageInfo(rows, page.Limit, movementCursor)
	return out, info, nil
}

func (s *Service) ListRewards(ctx context.Context, userID string, page pagination.Pagination) ([]*ExchangeReward, *pagination.PageInfo, error) {
	page = page.Normalize()

	rows, err := s.rewards.Find(ctx, &ExchangeReward{UserID: userID}, option.ApplyPagination(page))
	if err != nil {
		return nil, nil, err
	}

	out, info := pagination.BuildCursorPageInfo(rows, page.Limit, func(r *ExchangeReward) pagination.Cursor {
		return pagination.Cursor{ID: r.ID, CreatedAt: r.CreatedAt}
	})
	return out, info, nil
}

// VerifyChain recomputes every hash of the user's log in append order.
func (s *Service) VerifyChain(ctx context.Context, userID string) (*ChainReport, error) {
	entries, err := s.movements.Find(ctx, &Movement{UserID: userID}, option.WithSortBy(chronological))
	if err != nil {
		logger.L(ctx).Error("failed to query movements", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	lastHash := GenesisHash
	for _, entry := range entries {
		if entry.PreviousHash != lastHash || entry.Hash != entry.GenerateHash() {
			return &ChainReport{Valid: false, Entries: len(entries), BrokenAt: entry.ID}, nil
		}
		lastHash = entry.Hash
	}

	return &ChainReport{Valid: true, Entries: len(entries)}, nil
}

// TotalCompleted sums the amount of every COMPLETED movement of a kind.
func (s *Service) TotalCompleted(ctx context.Context, kind MovementKind) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.WithContext(ctx).Model(&Movement{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("kind = ? AND status = ?", kind, StatusCompleted).
		Row().Scan(&total)
	return total, err
}

// RecentCompleted returns the latest COMPLETED movements across all users.
// Trend pairs the caller's latest movements with the current bucket values.
func (s *Service) Trend(ctx context.Context, userID string, limit int) ([]TrendPoint, error) {
	l, err := s.GetLedger(ctx, userID)
	if err != nil {
		return nil, err
	}

	rows, err := s.movements.Find(ctx, &Movement{UserID: userID},
		option.WithSortBy(newestFirst),
		option.WithLimit(limit),
	)
	if err != nil {
		logger.L(ctx).Error("failed to load trend", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	points := make([]TrendPoint, 0, len(rows))
	for _, m := range rows {
		points = append(points, TrendPoint{
			Date:    m.CreatedAt.UTC().Format(time.DateOnly),
			Kind:    m.Kind,
			Amount:  m.Amount,
			Balance: l.Balance,
			Income:  l.Income,
		})
	}
	return points, nil
}

func (s *Service) RecentCompleted(ctx context.Context, limit int) ([]*Movement, error) {
	return s.movements.Find(ctx, &Movement{Status: StatusCompleted},
		option.WithSortBy(newestFirst),
		option.WithLimit(limit),
	)
}

func (s *Service) MovementsByID(ctx context.Context, ids []string) (map[string]*Movement, error) {
	out := make(map[string]*Movement, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.movements.Find(ctx, nil, option.ApplyOperator(option.Condition{Field: "id", Operator: option.IN, Value: ids}))
	if err != nil {
		return nil, err
	}
	for _, m := range rows {
		out[m.ID] = m
	}
	return out, nil
}
