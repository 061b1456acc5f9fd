package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tillpoint/internal/clock"
	"github.com/smallbiznis/tillpoint/internal/config"
	paymentdomain "github.com/smallbiznis/tillpoint/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/tillpoint/internal/payment/repository"
	"github.com/smallbiznis/tillpoint/internal/report/domain"
	"github.com/smallbiznis/tillpoint/internal/report/service"
	"github.com/smallbiznis/tillpoint/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db   *gorm.DB
	node *snowflake.Node
	svc  domain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	svc := service.NewService(service.Params{
		DB:     db,
		Log:    zap.NewNop(),
		Clock:  clock.NewFakeClock(time.Date(2026, 3, 20, 18, 0, 0, 0, time.UTC)),
		Config: config.Config{BusinessTimezone: "UTC", Currency: "ALL"},
	})
	return &fixture{db: db, node: testutil.NewNode(t), svc: svc}
}

func (f *fixture) payment(t *testing.T, method paymentdomain.Method, status paymentdomain.Status, paid, change int64, at time.Time) {
	t.Helper()
	inserted, err := paymentrepo.Provide().Insert(context.Background(), f.db, &paymentdomain.Payment{
		ID:           f.node.Generate(),
		OrderID:      f.node.Generate(),
		Method:       method,
		Status:       status,
		AmountPaid:   paid,
		AmountDue:    paid - change,
		ChangeAmount: change,
		ProcessedAt:  at,
		CreatedAt:    at,
		UpdatedAt:    at,
	})
	require.NoError(t, err)
	require.True(t, inserted)
}

func day(d, hour int) time.Time {
	return time.Date(2026, 3, d, hour, 0, 0, 0, time.UTC)
}

func bounds(from, to time.Time) domain.RangeRequest {
	return domain.RangeRequest{Start: &from, End: &to}
}

func TestRevenueExcludesRefundedAndFailed(t *testing.T) {
	f := newFixture(t)
	f.payment(t, paymentdomain.MethodCash, paymentdomain.StatusPaid, 500, 0, day(14, 10))
	f.payment(t, paymentdomain.MethodCard, paymentdomain.StatusPaid, 300, 0, day(14, 12))
	f.payment(t, paymentdomain.MethodCash, paymentdomain.StatusRefunded, 200, 0, day(14, 13))
	f.payment(t, paymentdomain.MethodCard, paymentdomain.StatusFailed, 900, 0, day(14, 14))

	resp, err := f.svc.Revenue(context.Background(), bounds(day(14, 0), day(15, 0).Add(-time.Nanosecond)))
	require.NoError(t, err)

	assert.Equal(t, int64(800), resp.Revenue)
	assert.Equal(t, int64(2), resp.PaymentCount)
	assert.Equal(t, "ALL", resp.Currency)
}

func TestRevenueCountsAmountKeptNotTendered(t *testing.T) {
	f := newFixture(t)
	f.payment(t, paymentdomain.MethodCash, paymentdomain.StatusPaid, 1200, 200, day(14, 10))

	resp, err := f.svc.Revenue(context.Background(), domain.RangeRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), resp.Revenue)
}

func TestRevenueRangeIsInclusive(t *testing.T) {
	f := newFixture(t)
	f.payment(t, paymentdomain.MethodCash, paymentdomain.StatusPaid, 100, 0, day(13, 23))
	f.payment(t, paymentdomain.MethodCash, paymentdomain.StatusPaid, 200, 0, day(14, 0))
	f.payment(t, paymentdomain.MethodCash, paymentdomain.StatusPaid, 400, 0, day(15, 0))

	resp, err := f.svc.Revenue(context.Background(), bounds(day(14, 0), day(15, 0)))
	require.NoError(t, err)
	assert.Equal(t, int64(600), resp.Revenue)

	from := day(14, 0)
	resp, err = f.svc.Revenue(context.Background(), domain.RangeRequest{Start: &from})
	require.NoError(t, err)
	assert.Equal(t, int64(600), resp.Revenue)
}

func TestRevenueCompareWithPreviousWindow(t *testing.T) {
	f := newFixture(t)
	f.payment(t, paymentdomain.MethodCash, paymentdomain.StatusPaid, 400, 0, day(13, 12))
	f.payment(t, paymentdomain.MethodCash, paymentdomain.StatusPaid, 600, 0, day(14, 12))

	req := bounds(day(14, 0), day(15, 0).Add(-time.Nanosecond))
	req.Compare = true
	resp, err := f.svc.Revenue(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, resp.Previous)
	assert.Equal(t, int64(400), *resp.Previous)
	require.NotNil(t, resp.GrowthAmount)
	assert.Equal(t, int64(200), *resp.GrowthAmount)
	require.NotNil(t, resp.GrowthRate)
	assert.InDelta(t, 0.5, *resp.GrowthRate, 0.0001)
}

func TestRevenueRejectsInvertedRange(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Revenue(context.Background(), bounds(day(15, 0), day(14, 0)))
	assert.ErrorIs(t, err, domain.ErrInvalidTimeRange)
}

func TestDailyZeroFillsDays(t *testing.T) {
	f := newFixture(t)
	f.payment(t, paymentdomain.MethodCash, paymentdomain.StatusPaid, 500, 0, day(14, 10))
	f.payment(t, paymentdomain.MethodCard, paymentdomain.StatusPaid, 300, 0, day(14, 20))
	f.payment(t, paymentdomain.MethodMobile, paymentdomain.StatusPaid, 250, 0, day(16, 9))
	f.payment(t, paymentdomain.MethodCash, paymentdomain.StatusRefunded, 999, 0, day(16, 11))

	resp, err := f.svc.Daily(context.Background(), bounds(day(14, 0), day(17, 0).Add(-time.Nanosecond)))
	require.NoError(t, err)

	assert.Equal(t, []domain.DailyRevenue{
		{Date: "2026-03-14", Revenue: 800, PaymentCount: 2},
		{Date: "2026-03-15", Revenue: 0, PaymentCount: 0},
		{Date: "2026-03-16", Revenue: 250, PaymentCount: 1},
	}, resp.Days)
	assert.Equal(t, int64(1050), resp.Total)
}

func TestDailyDefaultsToLastThirtyDays(t *testing.T) {
	f := newFixture(t)
	resp, err := f.svc.Daily(context.Background(), domain.RangeRequest{})
	require.NoError(t, err)

	require.Len(t, resp.Days, 30)
	assert.Equal(t, "2026-02-19", resp.Days[0].Date)
	assert.Equal(t, "2026-03-20", resp.Days[29].Date)
}

func TestDailyRejectsHugeRange(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Daily(context.Background(), bounds(day(1, 0).AddDate(-2, 0, 0), day(1, 0)))
	assert.ErrorIs(t, err, domain.ErrRangeTooLarge)
}

func TestPaymentStatsGroupsByMethodAndStatus(t *testing.T) {
	f := newFixture(t)
	f.payment(t, paymentdomain.MethodCash, paymentdomain.StatusPaid, 1200, 200, day(14, 10))
	f.payment(t, paymentdomain.MethodCard, paymentdomain.StatusPaid, 300, 0, day(14, 11))
	f.payment(t, paymentdomain.MethodCard, paymentdomain.StatusFailed, 300, 0, day(14, 12))
	f.payment(t, paymentdomain.MethodMobile, paymentdomain.StatusRefunded, 450, 0, day(14, 13))

	resp, err := f.svc.PaymentStats(context.Background(), domain.RangeRequest{})
	require.NoError(t, err)

	assert.Equal(t, int64(4), resp.TotalPayments)
	assert.Equal(t, int64(1300), resp.Revenue)
	assert.Equal(t, domain.Bucket{Count: 2, Amount: 600}, resp.ByMethod["card"])
	assert.Equal(t, domain.Bucket{Count: 1, Amount: 1000}, resp.ByMethod["cash"])
	assert.Equal(t, domain.Bucket{Count: 2, Amount: 1300}, resp.ByStatus["paid"])
	assert.Equal(t, domain.Bucket{Count: 1, Amount: 450}, resp.ByStatus["refunded"])
	assert.Equal(t, domain.Bucket{Count: 1, Amount: 300}, resp.ByStatus["failed"])
}
