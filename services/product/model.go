package product

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string          `gorm:"column:id;primaryKey" json:"id"`
	Slug        string          `gorm:"column:slug;uniqueIndex;not null" json:"slug"`
	Name        string          `gorm:"column:name;not null" json:"name"`
	Cost        decimal.Decimal `gorm:"column:cost;type:numeric(14,2);not null" json:"cost"`
	Price       decimal.Decimal `gorm:"column:price;type:numeric(14,2);not null" json:"price"`
	DailyIncome decimal.Decimal `gorm:"column:daily_income;type:numeric(14,2);not null" json:"daily_income"`
	ReturnRate  decimal.Decimal `gorm:"column:return_rate;type:numeric(7,2);not null" json:"return_rate"`
	TotalIncome decimal.Decimal `gorm:"column:total_income;type:numeric(14,2);not null" json:"total_income"`
	Cycles      int             `gorm:"column:cycles;not null" json:"cycles"`
	CreatedAt   time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

// Holding is a product owned by a user. It earns DailyIncome once per
// accrual until CyclesCompleted reaches the product's cycles.
type Holding struct {
	ID              string    `gorm:"column:id;primaryKey" json:"id"`
	UserID          string    `gorm:"column:user_id;index:idx_holdings_user_active,priority:1;not null" json:"user_id"`
	ProductID       string    `gorm:"column:product_id;index;not null" json:"product_id"`
	PurchaseDate    time.Time `gorm:"column:purchase_date;not null" json:"purchase_date"`
	CyclesCompleted int       `gorm:"column:cycles_completed;not null;default:0" json:"cycles_completed"`
	Active          bool      `gorm:"column:active;index:idx_holdings_user_active,priority:2;not null" json:"active"`
	MovementID      string    `gorm:"column:movement_id" json:"movement_id"`
	CreatedAt       time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at" json:"updated_at"`

	Product *Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`
}

type PurchaseInput struct {
	UserID    string `json:"-"`
	ProductID string `json:"product_id" binding:"required"`
}

type CatalogEntry struct {
	Name        string
	Cost        decimal.Decimal
	Price       decimal.Decimal
	DailyIncome decimal.Decimal
	Cycles      int
}

func Models() []any {
	return []any{&Product{}, &Holding{}}
}
