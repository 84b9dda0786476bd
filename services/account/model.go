package account

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID           string    `gorm:"column:id;primaryKey" json:"id"`
	Username     string    `gorm:"column:username;uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"column:password_hash;not null" json:"-"`
	PhoneNumber  string    `gorm:"column:phone_number" json:"phone_number"`
	IsStaff      bool      `gorm:"column:is_staff;not null;default:false" json:"is_staff"`
	IsActive     bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`
}

type ToggleAction string

const (
	ToggleStaff  ToggleAction = "toggle_staff"
	ToggleActive ToggleAction = "toggle_active"
)

type RegisterInput struct {
	Username     string `json:"username" binding:"required"`
	Password     string `json:"password" binding:"required"`
	PhoneNumber  string `json:"phone_number"`
	ReferralCode string `json:"referral_code"`
}

type LoginInput struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type Registration struct {
	User         *User           `json:"user"`
	ReferralCode string          `json:"referral_code"`
	Balance      decimal.Decimal `json:"balance"`
}

type Session struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        *User     `json:"user"`
}

func Models() []any {
	return []any{&User{}}
}
