package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Method string

const (
	MethodCash   Method = "cash"
	MethodCard   Method = "card"
	MethodMobile Method = "mobile"
)

func ParseMethod(value string) (Method, error) {
	switch method := Method(strings.ToLower(strings.TrimSpace(value))); method {
	case MethodCash, MethodCard, MethodMobile:
		return method, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMethod, value)
	}
}

// UsesGateway reports whether the method is authorized by the card gateway.
func (m Method) UsesGateway() bool {
	return m == MethodCard
}

type Status string

const (
	StatusPaid     Status = "paid"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
)

func ParseStatus(value string) (Status, error) {
	switch status := Status(strings.ToLower(strings.TrimSpace(value))); status {
	case StatusPaid, StatusFailed, StatusRefunded:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
	}
}

// Payment is one settlement attempt. Failed attempts are kept for audit and
// never carry a receipt number.
type Payment struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	OrderID        snowflake.ID `gorm:"not null;index"`
	Method         Method       `gorm:"type:text;not null"`
	Status         Status       `gorm:"type:text;not null"`
	AmountPaid     int64        `gorm:"not null"`
	AmountDue      int64        `gorm:"not null"`
	ChangeAmount   int64        `gorm:"not null"`
	TransactionID  *string      `gorm:"type:text"`
	ReceiptNumber  *string      `gorm:"type:text;uniqueIndex"`
	FailureReason  *string      `gorm:"type:text"`
	ProcessedBy    *string      `gorm:"type:text"`
	Notes          *string      `gorm:"type:text"`
	IdempotencyKey *string      `gorm:"type:text"`
	ProcessedAt    time.Time    `gorm:"not null"`
	CreatedAt      time.Time    `gorm:"not null"`
	UpdatedAt      time.Time    `gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// Settled is the amount retained against the order balance.
func (p Payment) Settled() int64 {
	return p.AmountPaid - p.ChangeAmount
}

type Refund struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	PaymentID  snowflake.ID `gorm:"not null;uniqueIndex"`
	OrderID    snowflake.ID `gorm:"not null"`
	Amount     int64        `gorm:"not null"`
	Reason     *string      `gorm:"type:text"`
	RefundedBy *string      `gorm:"type:text"`
	CreatedAt  time.Time    `gorm:"not null"`
}

func (Refund) TableName() string { return "payment_refunds" }
