package domain

import (
	"context"
	"errors"
	"time"
)

// RangeRequest bounds a report. A nil bound leaves that side open.
type RangeRequest struct {
	Start   *time.Time
	End     *time.Time
	Compare bool
}

type Period struct {
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

type RevenueResponse struct {
	Revenue      int64    `json:"revenue"`
	PaymentCount int64    `json:"payment_count"`
	Currency     string   `json:"currency"`
	Period       Period   `json:"period"`
	Previous     *int64   `json:"previous,omitempty"`
	GrowthAmount *int64   `json:"growth_amount,omitempty"`
	GrowthRate   *float64 `json:"growth_rate,omitempty"`
}

type DailyRevenue struct {
	Date         string `json:"date"`
	Revenue      int64  `json:"revenue"`
	PaymentCount int64  `json:"payment_count"`
}

type DailyResponse struct {
	Currency string         `json:"currency"`
	Period   Period         `json:"period"`
	Total    int64          `json:"total"`
	Days     []DailyRevenue `json:"days"`
}

type Bucket struct {
	Count  int64 `json:"count"`
	Amount int64 `json:"amount"`
}

type PaymentStatsResponse struct {
	Currency      string            `json:"currency"`
	Period        Period            `json:"period"`
	TotalPayments int64             `json:"total_payments"`
	Revenue       int64             `json:"revenue"`
	ByMethod      map[string]Bucket `json:"by_method"`
	ByStatus      map[string]Bucket `json:"by_status"`
}

type Service interface {
	Revenue(ctx context.Context, req RangeRequest) (*RevenueResponse, error)
	Daily(ctx context.Context, req RangeRequest) (*DailyResponse, error)
	PaymentStats(ctx context.Context, req RangeRequest) (*PaymentStatsResponse, error)
}

// MaxDailySpan caps how many days a daily report may cover.
const MaxDailySpan = 366

var (
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrRangeTooLarge    = errors.New("range_too_large")
)
