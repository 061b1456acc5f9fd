package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Product is the catalog row the order flow reads prices from. The catalog
// itself is managed outside this service.
type Product struct {
	ID           snowflake.ID        `gorm:"primaryKey"`
	Name         string              `gorm:"type:text;not null"`
	SellingPrice int64               `gorm:"not null"`
	TaxRate      decimal.NullDecimal `gorm:"type:numeric"`
	IsAvailable  bool                `gorm:"not null"`
	CreatedAt    time.Time           `gorm:"not null"`
	UpdatedAt    time.Time           `gorm:"not null"`
}

func (Product) TableName() string { return "products" }
