package product

import (
	"context"
	"fmt"
	"time"

	"investhub-platform/pkg/config"
	"investhub-platform/pkg/db/option"
	"investhub-platform/pkg/errutil"
	"investhub-platform/pkg/logger"
	"investhub-platform/pkg/repository"
	"investhub-platform/services/ledger"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultAccrualInterval = 24 * time.Hour

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	ledger   *ledger.Service
	interval time.Duration

	products repository.Repository[Product]
	holdings repository.Repository[Holding]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
	Ledger *ledger.Service
}

func NewService(p ServiceParams) *Service {
	interval := p.Config.Wallet.AccrualInterval
	if interval <= 0 {
		interval = defaultAccrualInterval
	}

	return &Service{
		db:       p.DB,
		node:     p.Node,
		ledger:   p.Ledger,
		interval: interval,

		products: repository.ProvideStore[Product](p.DB),
		holdings: repository.ProvideStore[Holding](p.DB),
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]*Product, error) {
	return s.products.Find(ctx, nil, option.WithSortBy(option.QuerySortBy{
		SortBy:  "price",
		OrderBy: "asc",
		Allow:   map[string]bool{"price": true},
	}))
}

func (s *Service) GetProduct(ctx context.Context, id string) (*Product, error) {
	p, err := s.products.FindOne(ctx, &Product{ID: id})
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errutil.NotFound("product not found", nil)
	}
	return p, nil
}

func (s *Service) ListHoldings(ctx context.Context, userID string) ([]*Holding, error) {
	return s.holdings.Find(ctx, &Holding{UserID: userID},
		option.WithPreload("Product"),
		option.WithSortBy(option.QuerySortBy{SortBy: "purchase_date", OrderBy: "desc", Allow: map[string]bool{"purchase_date": true}}),
	)
}

// PurchaseProduct debits the product price from balance and opens a holding.
func (s *Service) PurchaseProduct(ctx context.Context, in PurchaseInput) (*Holding, *ledger.Ledger, error) {
	if in.UserID == "" || in.ProductID == "" {
		return nil, nil, errutil.ValidationFailed("product id is required", nil,
			errutil.WithDetails(errutil.Detail{Field: "product_id", Message: "required"}))
	}

	p, err := s.GetProduct(ctx, in.ProductID)
	if err != nil {
		return nil, nil, err
	}

	var (
		holding *Holding
		wallet  *ledger.Ledger
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := s.ledger.Lock(ctx, tx, in.UserID)
		if err != nil {
			return err
		}

		if err := l.Debit(ledger.BucketBalance, p.Price); err != nil {
			return err
		}
		if err := s.ledger.Save(ctx, tx, l); err != nil {
			return err
		}

		m, err := s.ledger.Record(ctx, tx, ledger.MovementParams{
			UserID:      in.UserID,
			Kind:        ledger.KindDeposit,
			Status:      ledger.StatusCompleted,
			Amount:      p.Price,
			Description: fmt.Sprintf("Purchase %s", p.Name),
			Metadata:    map[string]any{"product_id": p.ID, "product_slug": p.Slug},
		})
		if err != nil {
			return err
		}

		holding = &Holding{
			ID:           s.node.Generate().String(),
			UserID:       in.UserID,
			ProductID:    p.ID,
			PurchaseDate: m.CreatedAt,
			Active:       true,
			MovementID:   m.ID,
			CreatedAt:    m.CreatedAt,
			UpdatedAt:    m.CreatedAt,
		}
		if err := s.holdings.WithTrx(tx).Create(ctx, holding); err != nil {
			return err
		}

		wallet = l
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	holding.Product = p
	logger.L(ctx).Info("product purchased",
		zap.String("user_id", in.UserID),
		zap.String("product_id", p.ID),
		zap.String("price", p.Price.StringFixed(2)),
	)
	return holding, wallet, nil
}

// daysBetween counts calendar days between two instants in UTC.
func daysBetween(from, to time.Time) int {
	from, to = from.UTC(), to.UTC()
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// AccrueIncome credits one day of income per qualifying holding, at most once
// per accrual interval. Within the interval the ledger is returned unchanged.
// Missed days are not caught up.
func (s *Service) AccrueIncome(ctx context.Context, userID string) (*ledger.Ledger, error) {
	if userID == "" {
		return nil, errutil.ValidationFailed("user id is required", nil)
	}

	var wallet *ledger.Ledger
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := s.ledger.Lock(ctx, tx, userID)
		if err != nil {
			return err
		}
		wallet = l

		now := s.ledger.Now()
		if l.LastIncomeUpdate != nil && now.Sub(*l.LastIncomeUpdate) < s.interval {
			logger.L(ctx).Debug("income accrual skipped", zap.String("user_id", userID), zap.Time("last_income_update", *l.LastIncomeUpdate))
			return nil
		}

		holdings, err := s.holdings.WithTrx(tx).Find(ctx, &Holding{UserID: userID, Active: true},
			option.WithPreload("Product"),
			option.WithLockingUpdate(),
		)
		if err != nil {
			return err
		}

		credited := decimal.Zero
		for _, h := range holdings {
			if h.Product == nil {
				logger.L(ctx).Warn("holding without product", zap.String("holding_id", h.ID))
				continue
			}

			cycles := h.Product.Cycles
			if daysBetween(h.PurchaseDate, now) > cycles || h.CyclesCompleted >= cycles {
				continue
			}

			h.CyclesCompleted++
			h.Active = h.CyclesCompleted < cycles
			credited = credited.Add(h.Product.DailyIncome)

			if err := s.holdings.WithTrx(tx).Update(ctx, h.ID, map[string]any{
				"cycles_completed": h.CyclesCompleted,
				"active":           h.Active,
				"updated_at":       now,
			}); err != nil {
				return err
			}
		}

		if err := l.Credit(ledger.BucketIncome, credited); err != nil {
			return err
		}
		l.LastIncomeUpdate = &now

		if err := s.ledger.Save(ctx, tx, l); err != nil {
			return err
		}

		logger.L(ctx).Info("income accrued",
			zap.String("user_id", userID),
			zap.String("credited", credited.StringFixed(2)),
			zap.Int("holdings", len(holdings)),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return wallet, nil
}

// UsersWithActiveHoldings returns up to limit user ids after the given id,
// in id order, for batch accrual.
func (s *Service) UsersWithActiveHoldings(ctx context.Context, after string, limit int) ([]string, error) {
	var ids []string
	q := s.db.WithContext(ctx).Model(&Holding{}).Where("active = ?", true)
	if after != "" {
		q = q.Where("user_id > ?", after)
	}
	err := q.Distinct("user_id").Order("user_id").Limit(limit).Pluck("user_id", &ids).Error
	return ids, err
}

func (e CatalogEntry) product() Product {
	total := e.DailyIncome.Mul(decimal.NewFromInt(int64(e.Cycles)))
	rate := decimal.Zero
	if e.Price.IsPositive() {
		rate = e.DailyIncome.Div(e.Price).Mul(decimal.NewFromInt(100)).Round(2)
	}

	return Product{
		Slug:        slug.Make(e.Name),
		Name:        e.Name,
		Cost:        e.Cost,
		Price:       e.Price,
		DailyIncome: e.DailyIncome,
		ReturnRate:  rate,
		TotalIncome: total,
		Cycles:      e.Cycles,
	}
}

// SeedCatalog upserts catalog entries by slug.
func (s *Service) SeedCatalog(ctx context.Context, entries []CatalogEntry) (int, error) {
	now := s.ledger.Now()

	rows := make([]*Product, 0, len(entries))
	for _, e := range entries {
		if e.Name == "" || e.Cycles <= 0 || !e.Price.IsPositive() {
			return 0, errutil.ValidationFailed(fmt.Sprintf("invalid catalog entry %q", e.Name), nil)
		}
		p := e.product()
		p.ID = s.node.Generate().String()
		p.CreatedAt = now
		p.UpdatedAt = now
		rows = append(rows, &p)
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slug"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "cost", "price", "daily_income", "return_rate", "total_income", "cycles", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return 0, err
	}

	return len(rows), nil
}

func DefaultCatalog() []CatalogEntry {
	d := decimal.NewFromInt
	return []CatalogEntry{
		{Name: "Starter Plan", Cost: d(500), Price: d(500), DailyIncome: d(45), Cycles: 30},
		{Name: "Silver Plan", Cost: d(1500), Price: d(1500), DailyIncome: d(140), Cycles: 30},
		{Name: "Gold Plan", Cost: d(3000), Price: d(3000), DailyIncome: d(300), Cycles: 45},
		{Name: "Platinum Plan", Cost: d(6000), Price: d(6000), DailyIncome: d(640), Cycles: 60},
		{Name: "Diamond Plan", Cost: d(12000), Price: d(12000), DailyIncome: d(1350), Cycles: 90},
	}
}
