package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Inventory is the stock row for a product. MaximumQuantity is advisory and
// never enforced on release.
type Inventory struct {
	ProductID       snowflake.ID `gorm:"primaryKey"`
	CurrentQuantity int64        `gorm:"not null"`
	MinimumQuantity int64        `gorm:"not null"`
	MaximumQuantity *int64
	UpdatedAt       time.Time `gorm:"not null"`
}

func (Inventory) TableName() string { return "inventory" }

type Repository interface {
	FindByProductID(ctx context.Context, db *gorm.DB, productID snowflake.ID) (*Inventory, error)
	// Decrement subtracts qty only when enough stock remains and reports whether a row changed.
	Decrement(ctx context.Context, db *gorm.DB, productID snowflake.ID, qty int64, now time.Time) (bool, error)
	Increment(ctx context.Context, db *gorm.DB, productID snowflake.ID, qty int64, now time.Time) (bool, error)
	// MarkUnavailableIfDepleted clears the product availability flag when stock is zero.
	MarkUnavailableIfDepleted(ctx context.Context, db *gorm.DB, productID snowflake.ID, now time.Time) error
}

// Service reserves and releases stock. Both operations take the caller's
// transaction so reservations roll back with the order that made them.
type Service interface {
	Reserve(ctx context.Context, tx *gorm.DB, productID snowflake.ID, qty int64) error
	Release(ctx context.Context, tx *gorm.DB, productID snowflake.ID, qty int64) error
	Get(ctx context.Context, productID snowflake.ID) (*Inventory, error)
}

var (
	ErrInsufficientStock = errors.New("insufficient_stock")
	ErrInvalidQuantity   = errors.New("invalid_quantity")
	ErrNotFound          = errors.New("inventory_not_found")
)
