package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Order struct {
	ID                 snowflake.ID `gorm:"primaryKey"`
	OrderNumber        string       `gorm:"type:text;not null;uniqueIndex"`
	CustomerID         *string      `gorm:"type:text"`
	StaffID            *string      `gorm:"type:text"`
	OrderType          OrderType    `gorm:"type:text;not null"`
	TableNumber        *string      `gorm:"type:text"`
	Status             Status       `gorm:"type:text;not null"`
	Subtotal           int64        `gorm:"not null"`
	DiscountAmount     int64        `gorm:"not null"`
	DiscountReason     *string      `gorm:"type:text"`
	TaxAmount          int64        `gorm:"not null"`
	TotalAmount        int64        `gorm:"not null"`
	Notes              *string      `gorm:"type:text"`
	CancellationReason *string      `gorm:"type:text"`
	CreatedAt          time.Time    `gorm:"not null"`
	UpdatedAt          time.Time    `gorm:"not null"`
	StartedAt          *time.Time
	CompletedAt        *time.Time
	CancelledAt        *time.Time

	Items []OrderItem `gorm:"-"`
}

func (Order) TableName() string { return "orders" }

// OrderItem snapshots the product name, price and tax rate at creation. It is
// never rewritten when the catalog changes.
type OrderItem struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	OrderID        snowflake.ID    `gorm:"not null;index"`
	ProductID      snowflake.ID    `gorm:"not null"`
	ProductName    string          `gorm:"type:text;not null"`
	Quantity       int64           `gorm:"not null"`
	UnitPrice      int64           `gorm:"not null"`
	TaxRate        decimal.Decimal `gorm:"type:numeric;not null"`
	TaxAmount      int64           `gorm:"not null"`
	DiscountAmount int64           `gorm:"not null"`
	Subtotal       int64           `gorm:"not null"`
	TotalPrice     int64           `gorm:"not null"`
	Notes          *string         `gorm:"type:text"`
	CreatedAt      time.Time       `gorm:"not null"`
}

func (OrderItem) TableName() string { return "order_items" }
