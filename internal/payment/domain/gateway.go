package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ChargeRequest is what a card gateway needs to authorize a settlement.
type ChargeRequest struct {
	OrderID   snowflake.ID
	Amount    int64
	Currency  string
	Reference string
}

// ChargeResult is the gateway's answer. A decline is a result, not an error.
type ChargeResult struct {
	Approved      bool
	TransactionID string
	Message       string
}

type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	// Void reverses an approved charge that could not be recorded.
	Void(ctx context.Context, transactionID string) error
}

type GatewayConfig struct {
	SuccessRate float64
	Latency     time.Duration
}

type GatewayFactory interface {
	Provider() string
	NewGateway(cfg GatewayConfig) (Gateway, error)
}

var (
	ErrProviderNotFound     = errors.New("gateway_provider_not_found")
	ErrInvalidGatewayConfig = errors.New("invalid_gateway_config")
)
