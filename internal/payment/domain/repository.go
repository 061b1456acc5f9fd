package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert reports false when a payment with the same order and
	// idempotency key already exists.
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, orderID snowflake.ID, key string) (*Payment, error)
	ListByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]Payment, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Payment, error)
	SettledAmount(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (int64, error)
	MarkRefunded(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	InsertRefund(ctx context.Context, db *gorm.DB, refund *Refund) error
	FindRefund(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (*Refund, error)
}
