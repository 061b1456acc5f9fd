package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tillpoint/internal/product/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Product, error) {
	var p domain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, selling_price, tax_rate, is_available, created_at, updated_at
		 FROM products WHERE id = ?`,
		id,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) SetAvailability(ctx context.Context, db *gorm.DB, id snowflake.ID, available bool) error {
	return db.WithContext(ctx).Exec(
		`UPDATE products SET is_available = ?, updated_at = ? WHERE id = ?`,
		available,
		time.Now().UTC(),
		id,
	).Error
}
