package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/tillpoint/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateOrderItemRequest struct {
	ProductID string  `json:"product_id"`
	Quantity  int64   `json:"quantity"`
	Notes     *string `json:"notes,omitempty"`
}

type CreateOrderRequest struct {
	CustomerID     *string                  `json:"customer_id,omitempty"`
	StaffID        *string                  `json:"staff_id,omitempty"`
	OrderType      string                   `json:"order_type"`
	TableNumber    *string                  `json:"table_number,omitempty"`
	Notes          *string                  `json:"notes,omitempty"`
	DiscountAmount int64                    `json:"discount_amount"`
	DiscountReason *string                  `json:"discount_reason,omitempty"`
	Items          []CreateOrderItemRequest `json:"items"`
}

type TransitionRequest struct {
	Status string  `json:"status"`
	Reason *string `json:"reason,omitempty"`
}

type DiscountRequest struct {
	DiscountAmount int64   `json:"discount_amount"`
	Reason         *string `json:"reason,omitempty"`
}

type ListRequest struct {
	pagination.Pagination
	Status      string
	CustomerID  string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

type ListResponse struct {
	pagination.PageInfo
	Orders []Response `json:"orders"`
}

type ItemResponse struct {
	ID             string  `json:"id"`
	ProductID      string  `json:"product_id"`
	ProductName    string  `json:"product_name"`
	Quantity       int64   `json:"quantity"`
	UnitPrice      int64   `json:"unit_price"`
	TaxRate        string  `json:"tax_rate"`
	TaxAmount      int64   `json:"tax_amount"`
	DiscountAmount int64   `json:"discount_amount"`
	Subtotal       int64   `json:"subtotal"`
	TotalPrice     int64   `json:"total_price"`
	Notes          *string `json:"notes,omitempty"`
}

type Response struct {
	ID                 string         `json:"id"`
	OrderNumber        string         `json:"order_number"`
	CustomerID         *string        `json:"customer_id,omitempty"`
	StaffID            *string        `json:"staff_id,omitempty"`
	OrderType          OrderType      `json:"order_type"`
	TableNumber        *string        `json:"table_number,omitempty"`
	Status             Status         `json:"status"`
	Subtotal           int64          `json:"subtotal"`
	DiscountAmount     int64          `json:"discount_amount"`
	DiscountReason     *string        `json:"discount_reason,omitempty"`
	TaxAmount          int64          `json:"tax_amount"`
	TotalAmount        int64          `json:"total_amount"`
	Notes              *string        `json:"notes,omitempty"`
	CancellationReason *string        `json:"cancellation_reason,omitempty"`
	Items              []ItemResponse `json:"items,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	CancelledAt        *time.Time     `json:"cancelled_at,omitempty"`
}

type StatsRequest struct {
	From *time.Time
	To   *time.Time
}

type StatusStat struct {
	Count  int64 `json:"count"`
	Amount int64 `json:"amount"`
}

type StatsResponse struct {
	TotalOrders       int64                 `json:"total_orders"`
	ByStatus          map[Status]StatusStat `json:"by_status"`
	CompletedAmount   int64                 `json:"completed_amount"`
	AverageOrderValue int64                 `json:"average_order_value"`
}

type Service interface {
	Create(ctx context.Context, req CreateOrderRequest) (*Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Today(ctx context.Context) ([]Response, error)
	Stats(ctx context.Context, req StatsRequest) (*StatsResponse, error)
	Transition(ctx context.Context, id string, req TransitionRequest) (*Response, error)
	Cancel(ctx context.Context, id string, reason *string) (*Response, error)
	ApplyDiscount(ctx context.Context, id string, req DiscountRequest) (*Response, error)

	// LockForSettlement loads the order row with a write lock inside tx.
	LockForSettlement(ctx context.Context, tx *gorm.DB, id string) (*Order, error)
	// CompleteInTx moves a ready order to completed inside the caller's
	// transaction. The caller has verified the balance is settled.
	CompleteInTx(ctx context.Context, tx *gorm.DB, order *Order) error
}

var (
	ErrNotFound          = errors.New("order_not_found")
	ErrInvalidID         = errors.New("invalid_order_id")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrInvalidOrderType  = errors.New("invalid_order_type")
	ErrEmptyOrder        = errors.New("empty_order")
	ErrInvalidQuantity   = errors.New("invalid_quantity")
	ErrInvalidProduct    = errors.New("invalid_product_id")
	ErrInvalidDiscount   = errors.New("invalid_discount")
	ErrNotSettled        = errors.New("order_not_settled")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
	ErrInvalidTimeRange  = errors.New("invalid_time_range")
)
