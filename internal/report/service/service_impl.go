package service

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/tillpoint/internal/clock"
	"github.com/smallbiznis/tillpoint/internal/config"
	paymentdomain "github.com/smallbiznis/tillpoint/internal/payment/domain"
	reportdomain "github.com/smallbiznis/tillpoint/internal/report/domain"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("tillpoint/report")

const defaultDailyWindow = 30

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Config config.Config
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	location *time.Location
	currency string
}

func NewService(p Params) reportdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Config.Currency))
	if currency == "" {
		currency = "ALL"
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("report.service"),
		clock:    c,
		location: p.Config.Location(),
		currency: currency,
	}
}

// Revenue sums what paid payments kept, amount_paid minus change, over the
// inclusive range. Refunded payments are excluded.
func (s *Service) Revenue(ctx context.Context, req reportdomain.RangeRequest) (*reportdomain.RevenueResponse, error) {
	ctx, span := tracer.Start(ctx, "report.revenue")
	defer span.End()

	if err := validateRange(req); err != nil {
		return nil, err
	}

	total, err := s.loadRevenue(ctx, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	resp := &reportdomain.RevenueResponse{
		Revenue:      total.Revenue,
		PaymentCount: total.PaymentCount,
		Currency:     s.currency,
		Period:       period(req),
	}

	if req.Compare && req.Start != nil && req.End != nil {
		prevStart, prevEnd := shiftRange(*req.Start, *req.End)
		previous, err := s.loadRevenue(ctx, &prevStart, &prevEnd)
		if err != nil {
			return nil, err
		}
		resp.Previous = &previous.Revenue
		resp.GrowthAmount, resp.GrowthRate = computeGrowth(total.Revenue, previous.Revenue)
	}

	return resp, nil
}

// Daily breaks revenue down per business day. Days without payments are
// reported with zero revenue. Without bounds it covers the last 30 days.
func (s *Service) Daily(ctx context.Context, req reportdomain.RangeRequest) (*reportdomain.DailyResponse, error) {
	ctx, span := tracer.Start(ctx, "report.daily")
	defer span.End()

	if err := validateRange(req); err != nil {
		return nil, err
	}

	end := s.clock.Now()
	if req.End != nil {
		end = *req.End
	}
	start := startOfDay(end.In(s.location)).AddDate(0, 0, -(defaultDailyWindow - 1))
	if req.Start != nil {
		start = *req.Start
	}

	firstDay := startOfDay(start.In(s.location))
	lastDay := startOfDay(end.In(s.location))
	if daySpan(firstDay, lastDay) > reportdomain.MaxDailySpan {
		return nil, reportdomain.ErrRangeTooLarge
	}

	var rows []settledRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT processed_at, amount_paid - change_amount AS amount
		FROM payments
		WHERE status = ? AND processed_at >= ? AND processed_at <= ?
		ORDER BY processed_at ASC`,
		string(paymentdomain.StatusPaid),
		start.UTC(),
		end.UTC(),
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	index := make(map[string]int)
	days := make([]reportdomain.DailyRevenue, 0, daySpan(firstDay, lastDay))
	for day := firstDay; !day.After(lastDay); day = day.AddDate(0, 0, 1) {
		key := day.Format(time.DateOnly)
		index[key] = len(days)
		days = append(days, reportdomain.DailyRevenue{Date: key})
	}

	var total int64
	for _, row := range rows {
		i, ok := index[row.ProcessedAt.In(s.location).Format(time.DateOnly)]
		if !ok {
			continue
		}
		days[i].Revenue += row.Amount
		days[i].PaymentCount++
		total += row.Amount
	}

	return &reportdomain.DailyResponse{
		Currency: s.currency,
		Period:   reportdomain.Period{StartDate: &start, EndDate: &end},
		Total:    total,
		Days:     days,
	}, nil
}

// PaymentStats counts every payment attempt in range by method and status.
// Amounts are what each attempt settled or tried to settle.
func (s *Service) PaymentStats(ctx context.Context, req reportdomain.RangeRequest) (*reportdomain.PaymentStatsResponse, error) {
	ctx, span := tracer.Start(ctx, "report.payment_stats")
	defer span.End()

	if err := validateRange(req); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).
		Table("payments").
		Select("method, status, COUNT(*) AS count, COALESCE(SUM(amount_paid - change_amount), 0) AS amount").
		Group("method, status")
	query = applyRange(query, req.Start, req.End)

	var rows []breakdownRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}

	resp := &reportdomain.PaymentStatsResponse{
		Currency: s.currency,
		Period:   period(req),
		ByMethod: map[string]reportdomain.Bucket{},
		ByStatus: map[string]reportdomain.Bucket{},
	}
	for _, row := range rows {
		resp.TotalPayments += row.Count

		method := resp.ByMethod[row.Method]
		method.Count += row.Count
		method.Amount += row.Amount
		resp.ByMethod[row.Method] = method

		status := resp.ByStatus[row.Status]
		status.Count += row.Count
		status.Amount += row.Amount
		resp.ByStatus[row.Status] = status

		if row.Status == string(paymentdomain.StatusPaid) {
			resp.Revenue += row.Amount
		}
	}
	return resp, nil
}

type revenueRow struct {
	Revenue      int64
	PaymentCount int64
}

type settledRow struct {
	ProcessedAt time.Time
	Amount      int64
}

type breakdownRow struct {
	Method string
	Status string
	Count  int64
	Amount int64
}

func (s *Service) loadRevenue(ctx context.Context, start, end *time.Time) (revenueRow, error) {
	query := s.db.WithContext(ctx).
		Table("payments").
		Select("COALESCE(SUM(amount_paid - change_amount), 0) AS revenue, COUNT(*) AS payment_count").
		Where("status = ?", string(paymentdomain.StatusPaid))
	query = applyRange(query, start, end)

	var row revenueRow
	if err := query.Scan(&row).Error; err != nil {
		return revenueRow{}, err
	}
	return row, nil
}

func applyRange(query *gorm.DB, start, end *time.Time) *gorm.DB {
	if start != nil {
		query = query.Where("processed_at >= ?", start.UTC())
	}
	if end != nil {
		query = query.Where("processed_at <= ?", end.UTC())
	}
	return query
}

func validateRange(req reportdomain.RangeRequest) error {
	if req.Start != nil && req.End != nil && req.End.Before(*req.Start) {
		return reportdomain.ErrInvalidTimeRange
	}
	return nil
}

func period(req reportdomain.RangeRequest) reportdomain.Period {
	return reportdomain.Period{StartDate: req.Start, EndDate: req.End}
}

// shiftRange returns the window of equal length ending just before start.
func shiftRange(start, end time.Time) (time.Time, time.Time) {
	length := end.Sub(start)
	prevEnd := start.Add(-time.Nanosecond)
	return prevEnd.Add(-length), prevEnd
}

func computeGrowth(current, previous int64) (*int64, *float64) {
	amount := current - previous
	if previous == 0 {
		return &amount, nil
	}
	rate := float64(amount) / float64(previous)
	return &amount, &rate
}

func startOfDay(value time.Time) time.Time {
	year, month, day := value.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, value.Location())
}

func daySpan(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	return int((end.Sub(start)+12*time.Hour)/(24*time.Hour)) + 1
}
