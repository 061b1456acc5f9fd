package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PriceAndTax is the snapshot an order line copies at creation time.
type PriceAndTax struct {
	ProductID   snowflake.ID
	Name        string
	Price       int64
	TaxRate     decimal.Decimal
	IsAvailable bool
}

type Service interface {
	// GetPriceAndTax reads through tx when one is supplied.
	GetPriceAndTax(ctx context.Context, tx *gorm.DB, productID snowflake.ID) (*PriceAndTax, error)
}

var (
	ErrNotFound           = errors.New("product_not_found")
	ErrProductUnavailable = errors.New("product_unavailable")
)
