package option

import (
	"fmt"
	"strings"

	"investhub-platform/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a gorm query before it is executed.
type QueryOption func(*gorm.DB) *gorm.DB

type Operator string

const (
	EQ     Operator = "="
	NEQ    Operator = "<>"
	GT     Operator = ">"
	GTE    Operator = ">="
	LT     Operator = "<"
	LTE    Operator = "<="
	IN     Operator = "IN"
	IsNull Operator = "IS NULL"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// LockingUpdate is a gorm scope adding SELECT ... FOR UPDATE.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		column := s.SortBy
		if column == "" || (s.Allow != nil && !s.Allow[column]) {
			column = "created_at"
		}

		desc := strings.EqualFold(s.OrderBy, "desc")
		return db.Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: desc}).
			Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: desc})
	}
}

func ApplyOperator(c Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		switch c.Operator {
		case IsNull:
			return db.Where(fmt.Sprintf("%s IS NULL", c.Field))
		case IN:
			return db.Where(fmt.Sprintf("%s IN ?", c.Field), c.Value)
		case "":
			return db.Where(fmt.Sprintf("%s = ?", c.Field), c.Value)
		default:
			return db.Where(fmt.Sprintf("%s %s ?", c.Field, c.Operator), c.Value)
		}
	}
}

func WithLimit(limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	}
}

// ApplyPagination orders newest first and resumes after the cursor, if any.
// It fetches one row past the limit so callers can compute HasMore.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		limit := p.Normalize().Limit

		if p.Cursor != "" {
			if cur, err := pagination.DecodeCursor(p.Cursor); err == nil && cur.ID != "" {
				db = db.Where("((created_at < ?) OR (created_at = ? AND id < ?))", cur.CreatedAt, cur.CreatedAt, cur.ID)
			}
		}

		return db.Order("created_at DESC").Order("id DESC").Limit(limit + 1)
	}
}

func WithPreload(field string, args ...any) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Preload(field, args...)
	}
}
