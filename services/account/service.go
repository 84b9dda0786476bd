package account

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"investhub-platform/pkg/config"
	"investhub-platform/pkg/db/option"
	"investhub-platform/pkg/errutil"
	"investhub-platform/pkg/events"
	"investhub-platform/pkg/logger"
	"investhub-platform/pkg/repository"
	"investhub-platform/pkg/security"
	"investhub-platform/pkg/taskname"
	"investhub-platform/services/ledger"
	"investhub-platform/services/referral"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultNewUserBonus = 200
	minPasswordLength   = 6
	maxUsernameLength   = 150
)

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	ledger    *ledger.Service
	referral  *referral.Service
	issuer    *security.TokenIssuer
	publisher events.Publisher
	bonus     decimal.Decimal

	users repository.Repository[User]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Config    *config.Config
	Ledger    *ledger.Service
	Referral  *referral.Service
	Issuer    *security.TokenIssuer
	Publisher events.Publisher `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	bonus := p.Config.Wallet.NewUserBonus
	if bonus <= 0 {
		bonus = defaultNewUserBonus
	}

	return &Service{
		db:        p.DB,
		node:      p.Node,
		ledger:    p.Ledger,
		referral:  p.Referral,
		issuer:    p.Issuer,
		publisher: p.Publisher,
		bonus:     decimal.NewFromInt(bonus),
		users:     repository.ProvideStore[User](p.DB),
	}
}

func validateRegistration(in RegisterInput) error {
	var details []errutil.Detail
	if in.Username == "" {
		details = append(details, errutil.Detail{Field: "username", Message: "required"})
	} else if utf8.RuneCountInString(in.Username) > maxUsernameLength {
		details = append(details, errutil.Detail{Field: "username", Message: "too long"})
	}
	if utf8.RuneCountInString(in.Password) < minPasswordLength {
		details = append(details, errutil.Detail{Field: "password", Message: "must be at least 6 characters"})
	}

	if len(details) > 0 {
		return errutil.ValidationFailed("invalid registration", nil, errutil.WithDetails(details...))
	}
	return nil
}

// CreateUser registers a user, opens their ledger with the new user bonus and
// allocates a referral code in one transaction. A referral code supplied by
// the caller is credited to its owner afterwards; failures there are logged
// and do not fail the registration.
func (s *Service) CreateUser(ctx context.Context, in RegisterInput) (*Registration, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	if err := validateRegistration(in); err != nil {
		return nil, err
	}

	log := logger.L(ctx).With(zap.String("username", in.Username))

	exist, err := s.users.FindOne(ctx, &User{Username: in.Username})
	if err != nil {
		log.Error("failed to query user by username", zap.Error(err))
		return nil, err
	}
	if exist != nil {
		return nil, errutil.Conflict("username already taken", nil,
			errutil.WithDetails(errutil.Detail{Field: "username", Message: "already taken"}))
	}

	hash, err := security.HashPassword(in.Password)
	if err != nil {
		return nil, errutil.Internal("failed to hash password", err)
	}

	now := s.ledger.Now()
	user := &User{
		ID:           s.node.Generate().String(),
		Username:     in.Username,
		PasswordHash: hash,
		PhoneNumber:  in.PhoneNumber,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var (
		out    *Registration
		reward *ledger.ExchangeReward
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.users.WithTrx(tx).Create(ctx, user); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errutil.Conflict("username already taken", err)
			}
			return err
		}

		l, err := s.ledger.Lock(ctx, tx, user.ID)
		if err != nil {
			return err
		}

		reward, err = s.ledger.GrantReward(ctx, tx, l, s.bonus, ledger.RewardNewUser)
		if err != nil {
			return err
		}

		profile, _, err := s.referral.EnsureProfile(ctx, tx, user.ID)
		if err != nil {
			return err
		}

		out = &Registration{User: user, ReferralCode: profile.Code, Balance: l.Balance}
		return nil
	})
	if err != nil {
		log.Error("failed to create user", zap.Error(err))
		return nil, err
	}

	if in.ReferralCode != "" {
		if _, err := s.referral.RegisterInvitee(ctx, in.ReferralCode, user.ID); err != nil {
			log.Warn("failed to register referral", zap.String("referral_code", in.ReferralCode), zap.Error(err))
		}
	}

	log.Info("user registered", zap.String("user_id", user.ID))
	events.Emit(ctx, s.publisher, events.Event{
		Type:       taskname.UserRegistered,
		UserID:     user.ID,
		ResourceID: reward.ID,
		Amount:     reward.Amount,
		Attributes: map[string]string{"referral_code": in.ReferralCode},
		OccurredAt: now,
	})

	return out, nil
}

// Login verifies credentials and issues an access token. Staff users get
// the admin role.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	u, err := s.users.FindOne(ctx, &User{Username: strings.TrimSpace(in.Username)})
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errutil.Unauthorized("invalid username or password", nil)
	}

	ok, err := security.VerifyPassword(in.Password, u.PasswordHash)
	if err != nil {
		logger.L(ctx).Error("stored password hash is unreadable", zap.String("user_id", u.ID), zap.Error(err))
		return nil, errutil.Internal("failed to verify credentials", err)
	}
	if !ok {
		return nil, errutil.Unauthorized("invalid username or password", nil)
	}
	if !u.IsActive {
		return nil, errutil.Forbidden("account is disabled", nil)
	}

	token, expiresAt, err := s.issuer.Issue(security.Principal{UserID: u.ID, Username: u.Username, Role: roleFor(u)})
	if err != nil {
		return nil, errutil.Internal("failed to issue access token", err)
	}

	return &Session{AccessToken: token, TokenType: "Bearer", ExpiresAt: expiresAt, User: u}, nil
}

func roleFor(u *User) string {
	if u.IsStaff {
		return security.RoleAdmin
	}
	return security.RoleUser
}

// ResolvePrincipal reloads the user behind a verified token. Disabled users are
// rejected and the role follows the current staff flag, not the token claim.
func (s *Service) ResolvePrincipal(ctx context.Context, p security.Principal) (*security.Principal, error) {
	if p.UserID == "" {
		return nil, errutil.Unauthorized("token has no subject", nil)
	}

	u, err := s.users.FindOne(ctx, &User{ID: p.UserID})
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errutil.Unauthorized("account no longer exists", nil)
	}
	if !u.IsActive {
		return nil, errutil.Forbidden("account is disabled", nil)
	}

	return &security.Principal{UserID: u.ID, Username: u.Username, Role: roleFor(u)}, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	u, err := s.users.FindOne(ctx, &User{ID: id})
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errutil.NotFound("user not found", nil)
	}
	return u, nil
}

// Usernames resolves user ids to usernames. Unknown ids are left out.
func (s *Service) Usernames(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []User
	if err := s.db.WithContext(ctx).Select("id", "username").Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, u := range rows {
		out[u.ID] = u.Username
	}
	return out, nil
}

// ListUserIDs pages through user ids in id order.
func (s *Service) ListUserIDs(ctx context.Context, after string, limit int) ([]string, error) {
	var ids []string
	q := s.db.WithContext(ctx).Model(&User{})
	if after != "" {
		q = q.Where("id > ?", after)
	}
	err := q.Order("id").Limit(limit).Pluck("id", &ids).Error
	return ids, err
}

var byJoined = option.QuerySortBy{
	SortBy:  "created_at",
	OrderBy: "asc",
	Allow:   map[string]bool{"created_at": true},
}

// ListUsers returns up to limit accounts in sign-up order.
func (s *Service) ListUsers(ctx context.Context, limit int) ([]*User, error) {
	return s.users.Find(ctx, nil, option.WithSortBy(byJoined), option.WithLimit(limit))
}

func (s *Service) CountActive(ctx context.Context) (int64, error) {
	return s.users.Count(ctx, &User{IsActive: true})
}

// ToggleUser flips the staff or active flag of a user.
func (s *Service) ToggleUser(ctx context.Context, userID string, action ToggleAction) (*User, error) {
	var column string
	switch action {
	case ToggleStaff:
		column = "is_staff"
	case ToggleActive:
		column = "is_active"
	default:
		return nil, errutil.ValidationFailed("unknown action", nil,
			errutil.WithDetails(errutil.Detail{Field: "action", Message: "must be toggle_staff or toggle_active"}))
	}

	var user *User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := s.users.WithTrx(tx).FindOne(ctx, &User{ID: userID})
		if err != nil {
			return err
		}
		if u == nil {
			return errutil.NotFound("user not found", nil)
		}

		if action == ToggleStaff {
			u.IsStaff = !u.IsStaff
		} else {
			u.IsActive = !u.IsActive
		}
		u.UpdatedAt = s.ledger.Now()

		value := u.IsStaff
		if action == ToggleActive {
			value = u.IsActive
		}
		if err := s.users.WithTrx(tx).Update(ctx, u.ID, map[string]any{column: value, "updated_at": u.UpdatedAt}); err != nil {
			return err
		}

		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.L(ctx).Info("user toggled",
		zap.String("user_id", user.ID),
		zap.String("action", string(action)),
		zap.Bool("is_staff", user.IsStaff),
		zap.Bool("is_active", user.IsActive),
	)
	return user, nil
}
