package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/tillpoint/internal/order/domain"
	"github.com/smallbiznis/tillpoint/pkg/db/pagination"
)

type SettleRequest struct {
	OrderID        string  `json:"order_id"`
	Method         string  `json:"method"`
	AmountPaid     int64   `json:"amount_paid"`
	Notes          *string `json:"notes,omitempty"`
	IdempotencyKey *string `json:"idempotency_key,omitempty"`
}

// SettleResult carries both outcomes of a settlement attempt. A gateway
// decline is Success=false with the failed payment attached.
type SettleResult struct {
	Success     bool               `json:"success"`
	Message     string             `json:"message"`
	Payment     Response           `json:"payment"`
	OrderStatus orderdomain.Status `json:"order_status"`
	ReceiptURL  string             `json:"receipt_url,omitempty"`
	Replayed    bool               `json:"replayed,omitempty"`
}

type RefundRequest struct {
	Reason *string `json:"reason,omitempty"`
}

type ListFilter struct {
	Status *Status
	Method *Method
	From   *time.Time
	To     *time.Time
	Cursor *Cursor
	Limit  int
}

type Cursor struct {
	ID          snowflake.ID
	ProcessedAt time.Time
}

type ListRequest struct {
	pagination.Pagination
	Status string
	Method string
	From   *time.Time
	To     *time.Time
}

type ListResponse struct {
	pagination.PageInfo
	Payments []Response `json:"payments"`
}

type RefundResponse struct {
	ID         string    `json:"id"`
	Amount     int64     `json:"amount"`
	Reason     *string   `json:"reason,omitempty"`
	RefundedBy *string   `json:"refunded_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type Response struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"order_id"`
	Method        Method          `json:"method"`
	Status        Status          `json:"status"`
	AmountPaid    int64           `json:"amount_paid"`
	AmountDue     int64           `json:"amount_due"`
	ChangeAmount  int64           `json:"change_amount"`
	TransactionID *string         `json:"transaction_id,omitempty"`
	ReceiptNumber *string         `json:"receipt_number,omitempty"`
	FailureReason *string         `json:"failure_reason,omitempty"`
	ProcessedBy   *string         `json:"processed_by,omitempty"`
	Notes         *string         `json:"notes,omitempty"`
	ProcessedAt   time.Time       `json:"processed_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Refund        *RefundResponse `json:"refund,omitempty"`
}

// Receipt is everything a printed receipt shows.
type Receipt struct {
	Payment Response
	Order   orderdomain.Response
}

type Service interface {
	Settle(ctx context.Context, req SettleRequest) (*SettleResult, error)
	Refund(ctx context.Context, id string, req RefundRequest) (*Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	ListByOrder(ctx context.Context, orderID string) ([]Response, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Receipt(ctx context.Context, id string) (*Receipt, error)
}

var (
	ErrNotFound            = errors.New("payment_not_found")
	ErrInvalidID           = errors.New("invalid_payment_id")
	ErrInvalidMethod       = errors.New("invalid_payment_method")
	ErrInvalidStatus       = errors.New("invalid_payment_status")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrAlreadySettled      = errors.New("already_settled")
	ErrUnderPayment        = errors.New("under_payment")
	ErrNotRefundable       = errors.New("payment_not_refundable")
	ErrNoReceipt           = errors.New("receipt_not_available")
	ErrIdempotencyConflict = errors.New("idempotency_key_conflict")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrInvalidTimeRange    = errors.New("invalid_time_range")
)
