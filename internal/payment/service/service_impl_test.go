package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditrepo "github.com/smallbiznis/tillpoint/internal/audit/repository"
	auditservice "github.com/smallbiznis/tillpoint/internal/audit/service"
	"github.com/smallbiznis/tillpoint/internal/clock"
	"github.com/smallbiznis/tillpoint/internal/config"
	inventoryrepo "github.com/smallbiznis/tillpoint/internal/inventory/repository"
	inventoryservice "github.com/smallbiznis/tillpoint/internal/inventory/service"
	ledgerservice "github.com/smallbiznis/tillpoint/internal/ledger/service"
	orderdomain "github.com/smallbiznis/tillpoint/internal/order/domain"
	orderrepo "github.com/smallbiznis/tillpoint/internal/order/repository"
	orderservice "github.com/smallbiznis/tillpoint/internal/order/service"
	"github.com/smallbiznis/tillpoint/internal/payment/adapters"
	"github.com/smallbiznis/tillpoint/internal/payment/domain"
	"github.com/smallbiznis/tillpoint/internal/payment/repository"
	"github.com/smallbiznis/tillpoint/internal/payment/service"
	productrepo "github.com/smallbiznis/tillpoint/internal/product/repository"
	productservice "github.com/smallbiznis/tillpoint/internal/product/service"
	"github.com/smallbiznis/tillpoint/internal/ratelimit"
	"github.com/smallbiznis/tillpoint/internal/sequence"
	"github.com/smallbiznis/tillpoint/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fakeGateway approves or declines every charge and counts calls.
type fakeGateway struct {
	approve bool
	delay   time.Duration
	charges atomic.Int32
	voids   atomic.Int32
}

func (g *fakeGateway) Provider() string { return "fake" }

func (g *fakeGateway) NewGateway(domain.GatewayConfig) (domain.Gateway, error) { return g, nil }

func (g *fakeGateway) Charge(ctx context.Context, req domain.ChargeRequest) (domain.ChargeResult, error) {
	g.charges.Add(1)
	if g.delay > 0 {
		select {
		case <-ctx.Done():
			return domain.ChargeResult{}, ctx.Err()
		case <-time.After(g.delay):
		}
	}
	if !g.approve {
		return domain.ChargeResult{Approved: false, Message: "Payment declined. Please try again."}, nil
	}
	return domain.ChargeResult{Approved: true, TransactionID: "TXN-01HZX3Q4J5K6M7N8P9R0S1T2V3"}, nil
}

func (g *fakeGateway) Void(context.Context, string) error {
	g.voids.Add(1)
	return nil
}

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.FakeClock
	gateway *fakeGateway
	orders  orderdomain.Service
	svc     domain.Service
}

func newFixture(t *testing.T, gateway *fakeGateway) *fixture {
	t.Helper()
	return newGuardedFixture(t, gateway, nil)
}

func newGuardedFixture(t *testing.T, gateway *fakeGateway, guard *ratelimit.SettlementGuard) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	cfg := config.Config{BusinessTimezone: "UTC", Currency: "all"}

	settlementCfg := config.DefaultSettlementConfig()
	settlementCfg.Gateway.Provider = gateway.Provider()
	settlementCfg.Gateway.Timeout = 50 * time.Millisecond
	settlement := config.NewStaticSettlementConfigHolder(settlementCfg)

	seq := sequence.NewWithLocation(time.UTC)
	audit := auditservice.NewService(auditservice.Params{DB: db, Log: zap.NewNop(), GenID: node, Repo: auditrepo.Provide()})

	orders := orderservice.NewService(orderservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  orderrepo.Provide(),
		Catalog: productservice.New(productservice.Params{
			DB:         db,
			Log:        zap.NewNop(),
			Repo:       productrepo.Provide(),
			Settlement: settlement,
		}),
		Inventory: inventoryservice.New(inventoryservice.Params{
			DB:    db,
			Log:   zap.NewNop(),
			Repo:  inventoryrepo.Provide(),
			Clock: fake,
		}),
		Sequence: seq,
		Clock:    fake,
		Config:   cfg,
		AuditSvc: audit,
	})

	svc := service.NewService(service.Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Repo:       repository.Provide(),
		Orders:     orders,
		LedgerSvc:  ledgerservice.NewService(ledgerservice.Params{DB: db, Log: zap.NewNop(), GenID: node}),
		Sequence:   seq,
		Registry:   adapters.NewRegistry(gateway),
		Settlement: settlement,
		Clock:      fake,
		Config:     cfg,
		AuditSvc:   audit,
		Guard:      guard,
	})

	return &fixture{db: db, node: node, clock: fake, gateway: gateway, orders: orders, svc: svc}
}

// readyOrder creates an order for qty units at price with the given tax rate
// and walks it to ready.
func (f *fixture) readyOrder(t *testing.T, price, qty int64, taxRate string) *orderdomain.Response {
	t.Helper()
	ctx := context.Background()
	product := testutil.SeedProduct(t, f.db, f.node, testutil.ProductSeed{Name: "Platter", Price: price, TaxRate: taxRate, Quantity: qty})

	order, err := f.orders.Create(ctx, orderdomain.CreateOrderRequest{
		Items: []orderdomain.CreateOrderItemRequest{{ProductID: product.String(), Quantity: qty}},
	})
	require.NoError(t, err)
	for _, status := range []string{"confirmed", "preparing", "ready"} {
		order, err = f.orders.Transition(ctx, order.ID, orderdomain.TransitionRequest{Status: status})
		require.NoError(t, err)
	}
	return order
}

func (f *fixture) orderStatus(t *testing.T, id string) orderdomain.Status {
	t.Helper()
	order, err := f.orders.Get(context.Background(), id)
	require.NoError(t, err)
	return order.Status
}

func TestSettleCashGivesChangeAndCompletesOrder(t *testing.T) {
	f := newFixture(t, &fakeGateway{approve: true})
	order := f.readyOrder(t, 1000, 1, "0")
	require.Equal(t, int64(1000), order.TotalAmount)

	result, err := f.svc.Settle(context.Background(), domain.SettleRequest{
		OrderID:    order.ID,
		Method:     "cash",
		AmountPaid: 1200,
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, domain.StatusPaid, result.Payment.Status)
	assert.Equal(t, int64(200), result.Payment.ChangeAmount)
	assert.Equal(t, int64(1000), result.Payment.AmountDue)
	require.NotNil(t, result.Payment.ReceiptNumber)
	assert.Equal(t, "RCP-20260314-0001", *result.Payment.ReceiptNumber)
	assert.Nil(t, result.Payment.TransactionID)
	assert.Equal(t, orderdomain.StatusCompleted, result.OrderStatus)
	assert.Equal(t, orderdomain.StatusCompleted, f.orderStatus(t, order.ID))
	assert.Equal(t, int32(0), f.gateway.charges.Load())
	assert.Equal(t, "/payments/"+result.Payment.ID+"/receipt", result.ReceiptURL)
}

func TestSettleProceedsWhenGuardRedisIsDown(t *testing.T) {
	guard, err := ratelimit.NewSettlementGuard(ratelimit.GuardParams{
		Config: config.Config{RateLimit: config.RateLimitConfig{
			Enabled:              true,
			RedisAddr:            "127.0.0.1:1",
			SettlementOrderRate:  1,
			SettlementOrderBurst: 1,
			SettlementLockTTL:    time.Second,
		}},
		Log: zap.NewNop(),
	})
	require.NoError(t, err)
	require.NotNil(t, guard)

	f := newGuardedFixture(t, &fakeGateway{approve: true}, guard)
	order := f.readyOrder(t, 1000, 1, "0")

	result, err := f.svc.Settle(context.Background(), domain.SettleRequest{
		OrderID:    order.ID,
		Method:     "cash",
		AmountPaid: 1000,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, orderdomain.StatusCompleted, f.orderStatus(t, order.ID))
}

func TestSettlePostsBalancedLedgerEntry(t *testing.T) {
	f := newFixture(t, &fakeGateway{approve: true})
	order := f.readyOrder(t, 100, 1, "0.2")
	require.Equal(t, int64(120), order.TotalAmount)

	result, err := f.svc.Settle(context.Background(), domain.SettleRequest{OrderID: order.ID, Method: "cash", AmountPaid: 150})
	require.NoError(t, err)

	type line struct {
		Code      string
		Direction string
		Amount    int64
	}
	var lines []line
	require.NoError(t, f.db.Raw(
		`SELECT a.code, l.direction, l.amount
		 FROM ledger_entries e
		 JOIN ledger_entry_lines l ON l.ledger_entry_id = e.id
		 JOIN ledger_accounts a ON a.id = l.account_id
		 WHERE e.source_type = 'payment' AND e.source_id = ?
		 ORDER BY a.code`,
		result.Payment.ID,
	).Scan(&lines).Error)

	assert.Equal(t, []line{
		{Code: "cash", Direction: "debit", Amount: 120},
		{Code: "sales_revenue", Direction: "credit", Amount: 100},
		{Code: "tax_payable", Direction: "credit", Amount: 20},
	}, lines)
}

func TestSettleRejectsUnderPayment(t *testing.T) {
	f := newFixture(t, &fakeGateway{approve: true})
	order := f.readyOrder(t, 1000, 1, "0")

	for _, method := range []string{"card", "cash", "mobile"} {
		_, err := f.svc.Settle(context.Background(), domain.SettleRequest{OrderID: order.ID, Method: method, AmountPaid: 900})
		assert.ErrorIs(t, err, domain.ErrUnderPayment, method)
	}

	assert.Equal(t, orderdomain.StatusReady, f.orderStatus(t, order.ID))
	assert.Equal(t, int64(0), testutil.Count(t, f.db, "payments", ""))
	assert.Equal(t, int32(0), f.gateway.charges.Load())
}

func TestSettleTwiceFailsAlreadySettled(t *testing.T) {
	f := newFixture(t, &fakeGateway{approve: true})
	order := f.readyOrder(t, 1000, 1, "0")
	ctx := context.Background()

	_, err := f.svc.Settle(ctx, domain.SettleRequest{OrderID: order.ID, Method: "mobile", AmountPaid: 1000})
	require.NoError(t, err)

	_, err = f.svc.Settle(ctx, domain.SettleRequest{OrderID: order.ID, Method: "cash", AmountPaid: 1000})
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
	assert.Equal(t, int64(1), testutil.Count(t, f.db, "payments", "status = 'paid'"))
}

func TestSettleCardDeclineKeepsFailedRowOnly(t *testing.T) {
	f := newFixture(t, &fakeGateway{approve: false})
	order := f.readyOrder(t, 1000, 1, "0")

	result, err := f.svc.Settle(context.Background(), domain.SettleRequest{OrderID: order.ID, Method: "card", AmountPaid: 1000})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "Payment declined. Please try again.", result.Message)
	assert.Equal(t, domain.StatusFailed, result.Payment.Status)
	assert.Nil(t, result.Payment.ReceiptNumber)
	assert.Equal(t, orderdomain.StatusReady, result.OrderStatus)
	assert.Equal(t, orderdomain.StatusReady, f.orderStatus(t, order.ID))
	assert.Equal(t, int64(1), testutil.Count(t, f.db, "payments", "status = 'failed'"))
	assert.Equal(t, int64(0), testutil.Count(t, f.db, "ledger_entries", ""))
	assert.Equal(t, int64(1), testutil.Count(t, f.db, "audit_logs", "action = 'payment.declined'"))

	// A retry after a decline is a new attempt.
	f.gateway.approve = true
	result, err = f.svc.Settle(context.Background(), domain.SettleRequest{OrderID: order.ID, Method: "card", AmountPaid: 1000})
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotNil(t, result.Payment.TransactionID)
	assert.Equal(t, orderdomain.StatusCompleted, f.orderStatus(t, order.ID))
}

func TestSettleCardTimeoutIsADecline(t *testing.T) {
	f := newFixture(t, &fakeGateway{approve: true, delay: time.Second})
	order := f.readyOrder(t, 1000, 1, "0")

	result, err := f.svc.Settle(context.Background(), domain.SettleRequest{OrderID: order.ID, Method: "card", AmountPaid: 1000})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, domain.StatusFailed, result.Payment.Status)
	require.NotNil(t, result.Payment.FailureReason)
	assert.Equal(t, orderdomain.StatusReady, f.orderStatus(t, order.ID))
}

func TestSettleCardChargesExactlyTheBalance(t *testing.T) {
	f := newFixture(t, &fakeGateway{approve: true})
	order := f.readyOrder(t, 1000, 1, "0")

	result, err := f.svc.Settle(context.Background(), domain.SettleRequest{OrderID: order.ID, Method: "card", AmountPaid: 1500})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, int64(1000), result.Payment.AmountPaid)
	assert.Equal(t, int64(0), result.Payment.ChangeAmount)
	assert.Equal(t, int32(1), f.gateway.charges.Load())
}

func TestSettleRequiresReadyOrder(t *testing.T) {
	f := newFixture(t, &fakeGateway{approve: true})
	product := testutil.SeedProduct(t, f.db, f.node, testutil.ProductSeed{Name: "Tea", Price: 300, TaxRate: "0", Quantity: 3})
	order, err := f.orders.Create(context.Background(), orderdomain.CreateOrderRequest{
		Items: []orderdomain.CreateOrderItemRequest{{ProductID: product.String(), Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = f.svc.Settle(context.Background(), domain.SettleRequest{OrderID: order.ID, Method: "card", AmountPaid: 300})
	assert.ErrorIs(t, err, orderdomain.ErrInvalidTransition)
	assert.Equal(t, int32(0), f.gateway.charges.Load())
	assert.Equal(t, orderdomain.StatusPending, f.orderStatus(t, order.ID))
}

func TestSettleValidatesInput(t *testing.T) {
	f := newFixture(t, &fakeGateway{approve: true})
	ctx := context.Background()

	_, err := f.svc.Settle(ctx, domain.SettleRequest{OrderID: "1", Method: "cheque", AmountPaid: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidMethod)

	_, err = f.svc.Settle(ctx, domain.SettleRequest{OrderID: "1", Method: "cash", AmountPaid: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.svc.Settle(ctx, domain.SettleRequest{OrderID: "nope", Method: "cash", AmountPaid: 10})
	assert.ErrorIs(t, err, orderdomain.ErrInvalidID)

	_, err = f.svc.Settle(ctx, domain.SettleRequest{OrderID: f.node.Generate().String(), Method: "cash", AmountPaid: 10})
	assert.ErrorIs(t, err, orderdomain.ErrNotFound)
}

func TestSettleIdempotencyKeyReplaysStoredPayment(t *testing.T) {
	f := newFixture(t, &fakeGateway{approve: true})
	order := f.readyOrder(t, 1000, 1, "0")
	key := "terminal-3-attempt-1"
	req := domain.SettleRequest{OrderID: order.ID, Method: "card", AmountPaid: 1000, IdempotencyKey: &key}

	first, err := f.svc.Settle(context.Background(), req)
	require.NoError(t, err)
	second, err := f.svc.Settle(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.True(t, second.Success)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.Equal(t, orderdomain.StatusCompleted, second.OrderStatus)
	assert.Equal(t, int32(1), f.gateway.charges.Load())
	assert.Equal(t, int64(1), testutil.Count(t, f.db, "payments", ""))

	req.Method = "cash"
	_, err = f.svc.Settle(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)
}

func TestConcurrentSettlementCompletesOnce(t *testing.T) {
	f := newFixture(t, &fakeGateway{approve: true})
	order := f.readyOrder(t, 1000, 1, "0")

	const terminals = 4
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		settled   atomic.Int32
	)
	for i := 0; i < terminals; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Settle(context.Background(), domain.SettleRequest{OrderID: order.ID, Method: "cash", AmountPaid: 1000})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrAlreadySettled):
				settled.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(terminals-1), settled.Load())
	assert.Equal(t, int64(1), testutil.Count(t, f.db, "payments", "status = 'paid'"))
	assert.Equal(t, orderdomain.StatusCompleted, f.orderStatus(t, order.ID))
}

func TestRefundFlipsPaymentAndKeepsOrderCompleted(t *testing.T) {
	f := newFixture(t, &fakeGateway{approve: true})
	order := f.readyOrder(t, 100, 1, "0.2")
	ctx := context.Background()

	paid, err := f.svc.Settle(ctx, domain.SettleRequest{OrderID: order.ID, Method: "cash", AmountPaid: 200})
	require.NoError(t, err)

	reason := "cold food"
	refunded, err := f.svc.Refund(ctx, paid.Payment.ID, domain.RefundRequest{Reason: &reason})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusRefunded, refunded.Status)
	require.NotNil(t, refunded.Refund)
	assert.Equal(t, int64(120), refunded.Refund.Amount)
	assert.Equal(t, "cold food", *refunded.Refund.Reason)
	assert.Equal(t, orderdomain.StatusCompleted, f.orderStatus(t, order.ID))
	assert.Equal(t, int64(1), testutil.Count(t, f.db, "ledger_entries", "source_type = 'refund'"))

	_, err = f.svc.Refund(ctx, paid.Payment.ID, domain.RefundRequest{})
	assert.ErrorIs(t, err, domain.ErrNotRefundable)

	got, err := f.svc.Get(ctx, paid.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, got.Status)
	assert.NotNil(t, got.Refund)
}

func TestRefundRejectsFailedAndUnknownPayments(t *testing.T) {
	f := newFixture(t, &fakeGateway{approve: false})
	order := f.readyOrder(t, 1000, 1, "0")
	ctx := context.Background()

	declined, err := f.svc.Settle(ctx, domain.SettleRequest{OrderID: order.ID, Method: "card", AmountPaid: 1000})
	require.NoError(t, err)

	_, err = f.svc.Refund(ctx, declined.Payment.ID, domain.RefundRequest{})
	assert.ErrorIs(t, err, domain.ErrNotRefundable)

	_, err = f.svc.Refund(ctx, f.node.Generate().String(), domain.RefundRequest{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Refund(ctx, "x", domain.RefundRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}

func TestListByOrderAndReceipt(t *testing.T) {
	f := newFixture(t, &fakeGateway{approve: false})
	order := f.readyOrder(t, 1000, 2, "0")
	ctx := context.Background()

	declined, err := f.svc.Settle(ctx, domain.SettleRequest{OrderID: order.ID, Method: "card", AmountPaid: 2000})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	paid, err := f.svc.Settle(ctx, domain.SettleRequest{OrderID: order.ID, Method: "cash", AmountPaid: 2000})
	require.NoError(t, err)

	payments, err := f.svc.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, declined.Payment.ID, payments[0].ID)
	assert.Equal(t, paid.Payment.ID, payments[1].ID)

	_, err = f.svc.ListByOrder(ctx, f.node.Generate().String())
	assert.ErrorIs(t, err, orderdomain.ErrNotFound)

	receipt, err := f.svc.Receipt(ctx, paid.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderNumber, receipt.Order.OrderNumber)
	require.Len(t, receipt.Order.Items, 1)
	assert.Equal(t, int64(2), receipt.Order.Items[0].Quantity)

	_, err = f.svc.Receipt(ctx, declined.Payment.ID)
	assert.ErrorIs(t, err, domain.ErrNoReceipt)

	list, err := f.svc.List(ctx, domain.ListRequest{Status: "paid"})
	require.NoError(t, err)
	require.Len(t, list.Payments, 1)
	assert.Equal(t, paid.Payment.ID, list.Payments[0].ID)
}
