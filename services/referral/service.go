package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"investhub-platform/pkg/config"
	"investhub-platform/pkg/db/option"
	"investhub-platform/pkg/errutil"
	"investhub-platform/pkg/events"
	"investhub-platform/pkg/logger"
	"investhub-platform/pkg/repository"
	"investhub-platform/pkg/taskname"
	"investhub-platform/services/ledger"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultReferralBonus = 200
	codeAttempts         = 3
)

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	ledger    *ledger.Service
	publisher events.Publisher
	bonus     decimal.Decimal
	newCode   func() string

	profiles repository.Repository[Profile]
	invitees repository.Repository[Invitee]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Config    *config.Config
	Ledger    *ledger.Service
	Publisher events.Publisher `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	bonus := p.Config.Wallet.ReferralBonus
	if bonus <= 0 {
		bonus = defaultReferralBonus
	}

	return &Service{
		db:        p.DB,
		node:      p.Node,
		ledger:    p.Ledger,
		publisher: p.Publisher,
		bonus:     decimal.NewFromInt(bonus),
		newCode:   NewCode,

		profiles: repository.ProvideStore[Profile](p.DB),
		invitees: repository.ProvideStore[Invitee](p.DB),
	}
}

// EnsureProfile returns the user's referral profile, creating it with a fresh
// code if missing. created reports whether this call inserted it.
func (s *Service) EnsureProfile(ctx context.Context, tx *gorm.DB, userID string) (p *Profile, created bool, err error) {
	p, err = s.profiles.WithTrx(tx).FindOne(ctx, &Profile{UserID: userID})
	if err != nil || p != nil {
		return p, false, err
	}

	now := s.ledger.Now()
	for attempt := 0; attempt < codeAttempts; attempt++ {
		p = &Profile{
			ID:        s.node.Generate().String(),
			UserID:    userID,
			Code:      s.newCode(),
			VIPLevel:  VIP0,
			CreatedAt: now,
			UpdatedAt: now,
		}

		// A code collision aborts the statement; on postgres that poisons the
		// whole transaction unless the attempt runs under its own savepoint.
		err = tx.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
			return sp.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
				Create(p).Error
		})
		if err == nil {
			break
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, err
		}
		if attempt == codeAttempts-1 {
			return nil, false, errutil.Conflict("could not allocate a unique referral code", err)
		}
	}

	stored, err := s.profiles.WithTrx(tx).FindOne(ctx, &Profile{UserID: userID})
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, errutil.Internal("referral profile vanished after insert", nil)
	}
	return stored, stored.ID == p.ID, nil
}

// RegisterInvitee credits the owner of referrerCode for a new user. Unknown
// codes, self referral and already counted invitees are skipped and return
// a nil profile with no error.
func (s *Service) RegisterInvitee(ctx context.Context, referrerCode, inviteeUserID string) (*Profile, error) {
	referrerCode = strings.TrimSpace(referrerCode)
	if referrerCode == "" || inviteeUserID == "" {
		return nil, nil
	}

	log := logger.L(ctx).With(zap.String("referral_code", referrerCode), zap.String("invitee_user_id", inviteeUserID))

	var (
		profile *Profile
		reward  *ledger.ExchangeReward
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		peek, err := s.profiles.WithTrx(tx).FindOne(ctx, &Profile{Code: referrerCode})
		if err != nil {
			return err
		}
		if peek == nil {
			log.Warn("invalid referral code")
			return nil
		}
		if peek.UserID == inviteeUserID {
			log.Warn("self referral ignored")
			return nil
		}

		l, err := s.ledger.Lock(ctx, tx, peek.UserID)
		if err != nil {
			return err
		}

		p, err := s.profiles.WithTrx(tx).FindOne(ctx, &Profile{ID: peek.ID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}

		existing, err := s.invitees.WithTrx(tx).FindOne(ctx, &Invitee{InviteeUserID: inviteeUserID})
		if err != nil {
			return err
		}
		if existing != nil {
			log.Info("invitee already referred", zap.String("referrer_user_id", existing.ReferrerUserID))
			return nil
		}

		now := s.ledger.Now()
		if err := s.invitees.WithTrx(tx).Create(ctx, &Invitee{
			ID:             s.node.Generate().String(),
			ReferrerUserID: p.UserID,
			InviteeUserID:  inviteeUserID,
			CreatedAt:      now,
		}); err != nil {
			return err
		}

		p.ReferralsCount++
		if lvl := LevelFor(p.ReferralsCount); lvl > p.VIPLevel {
			p.VIPLevel = lvl
		}
		p.UpdatedAt = now
		if err := s.profiles.WithTrx(tx).Update(ctx, p.ID, map[string]any{
			"referrals_count": p.ReferralsCount,
			"vip_level":       p.VIPLevel,
			"updated_at":      p.UpdatedAt,
		}); err != nil {
			return err
		}

		reward, err = s.ledger.GrantReward(ctx, tx, l, s.bonus, ledger.RewardReferral)
		if err != nil {
			return err
		}

		profile = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, nil
	}

	log.Info("referral registered",
		zap.String("referrer_user_id", profile.UserID),
		zap.Int("referrals_count", profile.ReferralsCount),
		zap.String("vip_level", profile.VIPLevel.String()),
	)
	events.Emit(ctx, s.publisher, events.Event{
		Type:       taskname.RewardGranted,
		UserID:     reward.UserID,
		ResourceID: reward.ID,
		Amount:     reward.Amount,
		Attributes: map[string]string{"type": reward.Type, "invitee_user_id": inviteeUserID},
		OccurredAt: reward.CreatedAt,
	})

	return profile, nil
}

// ClaimVipReward pays every tier reached since the last claim.
func (s *Service) ClaimVipReward(ctx context.Context, userID string) (*ClaimResult, error) {
	var (
		result *ClaimResult
		reward *ledger.ExchangeReward
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := s.ledger.Lock(ctx, tx, userID)
		if err != nil {
			return err
		}

		peek, _, err := s.EnsureProfile(ctx, tx, userID)
		if err != nil {
			return err
		}
		p, err := s.profiles.WithTrx(tx).FindOne(ctx, &Profile{ID: peek.ID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}

		if p.VIPLevel == VIP0 {
			return errutil.NothingToClaim("no rewards available to claim", nil)
		}
		if p.LastClaimedLevel >= p.VIPLevel {
			return errutil.NothingToClaim(fmt.Sprintf("%s reward already claimed", p.VIPLevel), nil)
		}

		amount := Unclaimed(p.LastClaimedLevel, p.VIPLevel)
		if err := s.profiles.WithTrx(tx).Update(ctx, p.ID, map[string]any{
			"last_claimed_level": p.VIPLevel,
			"updated_at":         s.ledger.Now(),
		}); err != nil {
			return err
		}

		reward, err = s.ledger.GrantReward(ctx, tx, l, amount, fmt.Sprintf("%s Claim Bonus", p.VIPLevel))
		if err != nil {
			return err
		}

		result = &ClaimResult{Level: p.VIPLevel, Amount: amount, Balance: l.Balance}
		return nil
	})
	if err != nil {
		return nil, err
	}

	events.Emit(ctx, s.publisher, events.Event{
		Type:       taskname.RewardGranted,
		UserID:     reward.UserID,
		ResourceID: reward.ID,
		Amount:     reward.Amount,
		Attributes: map[string]string{"type": reward.Type},
		OccurredAt: reward.CreatedAt,
	})
	return result, nil
}

func (s *Service) GetReferral(ctx context.Context, userID string) (*Summary, error) {
	p, err := s.profiles.FindOne(ctx, &Profile{UserID: userID})
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errutil.NotFound("referral not found", nil)
	}

	edges, err := s.invitees.Find(ctx, &Invitee{ReferrerUserID: userID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.WithLimit(50),
	)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.InviteeUserID)
	}

	return &Summary{
		Profile:       p,
		Claimable:     Unclaimed(p.LastClaimedLevel, p.VIPLevel),
		NextThreshold: NextThreshold(p.ReferralsCount),
		Invitees:      ids,
	}, nil
}

// Backfill creates missing referral profiles for the given users.
func (s *Service) Backfill(ctx context.Context, userIDs []string) (int, error) {
	created := 0
	for _, id := range userIDs {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			_, ok, err := s.EnsureProfile(ctx, tx, id)
			if ok {
				created++
			}
			return err
		})
		if err != nil {
			return created, err
		}
	}

	if created > 0 {
		logger.L(ctx).Info("referral profiles backfilled", zap.Int("created", created))
	}
	return created, nil
}
