package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tillpoint/internal/inventory/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByProductID(ctx context.Context, db *gorm.DB, productID snowflake.ID) (*domain.Inventory, error) {
	var inv domain.Inventory
	err := db.WithContext(ctx).Raw(
		`SELECT product_id, current_quantity, minimum_quantity, maximum_quantity, updated_at
		 FROM inventory WHERE product_id = ?`,
		productID,
	).Scan(&inv).Error
	if err != nil {
		return nil, err
	}
	if inv.ProductID == 0 {
		return nil, nil
	}
	return &inv, nil
}

func (r *repo) Decrement(ctx context.Context, db *gorm.DB, productID snowflake.ID, qty int64, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE inventory
		 SET current_quantity = current_quantity - ?, updated_at = ?
		 WHERE product_id = ? AND current_quantity >= ?`,
		qty,
		now,
		productID,
		qty,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Increment(ctx context.Context, db *gorm.DB, productID snowflake.ID, qty int64, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE inventory
		 SET current_quantity = current_quantity + ?, updated_at = ?
		 WHERE product_id = ?`,
		qty,
		now,
		productID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkUnavailableIfDepleted(ctx context.Context, db *gorm.DB, productID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE products
		 SET is_available = ?, updated_at = ?
		 WHERE id = ? AND EXISTS (
			SELECT 1 FROM inventory WHERE product_id = ? AND current_quantity = 0
		 )`,
		false,
		now,
		productID,
		productID,
	).Error
}
