package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Status      *Status
	CustomerID  string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Cursor      *Cursor
	Limit       int
}

type StatusCount struct {
	Status Status
	Count  int64
	Amount int64
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	InsertItems(ctx context.Context, db *gorm.DB, items []OrderItem) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	// FindByIDForUpdate locks the order row until the transaction ends.
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindItems(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]OrderItem, error)
	FindItemsByOrderIDs(ctx context.Context, db *gorm.DB, orderIDs []snowflake.ID) ([]OrderItem, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Order, error)
	CountByStatus(ctx context.Context, db *gorm.DB, from, to *time.Time) ([]StatusCount, error)
	// UpdateStatus writes the new status only when the row is still in
	// expected and reports whether it did.
	UpdateStatus(ctx context.Context, db *gorm.DB, order *Order, expected Status) (bool, error)
	UpdateTotals(ctx context.Context, db *gorm.DB, order *Order) error
	// SettledAmount sums amount_paid - change_amount over paid payments.
	SettledAmount(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (int64, error)
}
