package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tillpoint/internal/authorization"
	"github.com/smallbiznis/tillpoint/internal/config"
	obsmetrics "github.com/smallbiznis/tillpoint/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/tillpoint/internal/order/domain"
	paymentdomain "github.com/smallbiznis/tillpoint/internal/payment/domain"
	"github.com/smallbiznis/tillpoint/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeOrderService struct {
	orderdomain.Service
	orders  map[string]*orderdomain.Response
	created *orderdomain.CreateOrderRequest
}

func (f *fakeOrderService) Create(ctx context.Context, req orderdomain.CreateOrderRequest) (*orderdomain.Response, error) {
	f.created = &req
	return &orderdomain.Response{ID: "1001", OrderNumber: "ORD-20260314-0001", Status: orderdomain.StatusPending}, nil
}

func (f *fakeOrderService) Get(ctx context.Context, id string) (*orderdomain.Response, error) {
	order, ok := f.orders[id]
	if !ok {
		return nil, orderdomain.ErrNotFound
	}
	return order, nil
}

type fakePaymentService struct {
	paymentdomain.Service
	settle      func(req paymentdomain.SettleRequest) (*paymentdomain.SettleResult, error)
	settleCalls int
	lastSettle  paymentdomain.SettleRequest
	byOrder     []paymentdomain.Response
}

func (f *fakePaymentService) Settle(ctx context.Context, req paymentdomain.SettleRequest) (*paymentdomain.SettleResult, error) {
	f.settleCalls++
	f.lastSettle = req
	return f.settle(req)
}

func (f *fakePaymentService) ListByOrder(ctx context.Context, orderID string) ([]paymentdomain.Response, error) {
	return f.byOrder, nil
}

type fakeAuthz struct {
	err error
}

func (f fakeAuthz) Authorize(ctx context.Context, actorID, role, object, action string) error {
	return f.err
}

func newTestServer(t *testing.T, cfg config.Config, orders *fakeOrderService, payments *fakePaymentService, authz authorization.Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	srv := &Server{
		engine:     router,
		cfg:        cfg,
		authzSvc:   authz,
		orderSvc:   orders,
		paymentSvc: payments,
	}
	srv.registerAPIRoutes()
	return router
}

func doRequest(router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body == "" {
		reader = bytes.NewBuffer(nil)
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func staff() map[string]string {
	return map[string]string{HeaderActorID: "42", HeaderActorRole: "staff"}
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body
}

func TestRequestsWithoutActorAreRejected(t *testing.T) {
	router := newTestServer(t, config.Config{}, &fakeOrderService{}, &fakePaymentService{}, nil)

	resp := doRequest(router, http.MethodGet, "/api/v1/orders/1", "", nil)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	body := decode(t, resp)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "unauthorized", body["error"].(map[string]any)["type"])
}

func TestCreateOrderWrapsResponse(t *testing.T) {
	orders := &fakeOrderService{}
	router := newTestServer(t, config.Config{}, orders, &fakePaymentService{}, nil)

	resp := doRequest(router, http.MethodPost, "/api/v1/orders",
		`{"order_type":"dine_in","items":[{"product_id":"7","quantity":2}]}`, staff())

	require.Equal(t, http.StatusCreated, resp.Code)
	body := decode(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Order created successfully", body["message"])
	assert.Equal(t, "1001", body["data"].(map[string]any)["id"])
	require.NotNil(t, orders.created)
	require.Len(t, orders.created.Items, 1)
	assert.Equal(t, int64(2), orders.created.Items[0].Quantity)
}

func TestMalformedBodyIsValidationError(t *testing.T) {
	router := newTestServer(t, config.Config{}, &fakeOrderService{}, &fakePaymentService{}, nil)

	resp := doRequest(router, http.MethodPost, "/api/v1/orders", `{"items":`, staff())

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	body := decode(t, resp)
	assert.Equal(t, "validation_error", body["error"].(map[string]any)["type"])
}

func TestGetOrderNotFound(t *testing.T) {
	router := newTestServer(t, config.Config{}, &fakeOrderService{}, &fakePaymentService{}, nil)

	resp := doRequest(router, http.MethodGet, "/api/v1/orders/999", "", staff())

	assert.Equal(t, http.StatusNotFound, resp.Code)
	body := decode(t, resp)
	assert.Equal(t, "not_found", body["error"].(map[string]any)["type"])
}

func TestProcessPaymentStatusMapping(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		errType string
		errCode string
	}{
		{"throttled", fmt.Errorf("%w: retry after 1s", ratelimit.ErrSettlementThrottled), http.StatusTooManyRequests, "rate_limited", "settlement_throttled"},
		{"in progress", ratelimit.ErrSettlementInProgress, http.StatusConflict, "conflict", "settlement_in_progress"},
		{"idempotency conflict", paymentdomain.ErrIdempotencyConflict, http.StatusConflict, "conflict", paymentdomain.ErrIdempotencyConflict.Error()},
		{"underpayment", paymentdomain.ErrUnderPayment, http.StatusBadRequest, "domain_error", paymentdomain.ErrUnderPayment.Error()},
		{"already settled", paymentdomain.ErrAlreadySettled, http.StatusBadRequest, "domain_error", paymentdomain.ErrAlreadySettled.Error()},
		{"missing order", orderdomain.ErrNotFound, http.StatusNotFound, "not_found", orderdomain.ErrNotFound.Error()},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payments := &fakePaymentService{settle: func(paymentdomain.SettleRequest) (*paymentdomain.SettleResult, error) {
				return nil, tc.err
			}}
			router := newTestServer(t, config.Config{}, &fakeOrderService{}, payments, nil)

			resp := doRequest(router, http.MethodPost, "/api/v1/payments/process",
				`{"order_id":"1001","method":"cash","amount_paid":1000}`, staff())

			assert.Equal(t, tc.status, resp.Code)
			body := decode(t, resp)
			assert.Equal(t, false, body["success"])
			errBody := body["error"].(map[string]any)
			assert.Equal(t, tc.errType, errBody["type"])
			if tc.errCode != "" {
				assert.Equal(t, tc.errCode, errBody["code"])
			}
		})
	}
}

func TestProcessPaymentDeclineAnswersBadRequest(t *testing.T) {
	reason := "card_declined"
	payments := &fakePaymentService{settle: func(req paymentdomain.SettleRequest) (*paymentdomain.SettleResult, error) {
		return &paymentdomain.SettleResult{
			Success:     false,
			Message:     "Payment declined",
			Payment:     paymentdomain.Response{ID: "9", OrderID: req.OrderID, Status: paymentdomain.StatusFailed, FailureReason: &reason},
			OrderStatus: orderdomain.StatusReady,
		}, nil
	}}
	router := newTestServer(t, config.Config{}, &fakeOrderService{}, payments, nil)

	resp := doRequest(router, http.MethodPost, "/api/v1/payments/process",
		`{"order_id":"1001","method":"credit_card","amount_paid":1000}`, staff())

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	body := decode(t, resp)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Payment declined", body["message"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "ready", data["order_status"])
}

func TestProcessPaymentForwardsIdempotencyHeader(t *testing.T) {
	payments := &fakePaymentService{settle: func(req paymentdomain.SettleRequest) (*paymentdomain.SettleResult, error) {
		return &paymentdomain.SettleResult{Success: true, Message: "Payment processed successfully"}, nil
	}}
	router := newTestServer(t, config.Config{}, &fakeOrderService{}, payments, nil)

	headers := staff()
	headers["Idempotency-Key"] = "till-7-0001"
	resp := doRequest(router, http.MethodPost, "/api/v1/payments/process",
		`{"order_id":"1001","method":"cash","amount_paid":1000}`, headers)

	require.Equal(t, http.StatusOK, resp.Code)
	require.NotNil(t, payments.lastSettle.IdempotencyKey)
	assert.Equal(t, "till-7-0001", *payments.lastSettle.IdempotencyKey)
}

func TestAuthorizationDenialStopsHandler(t *testing.T) {
	payments := &fakePaymentService{settle: func(paymentdomain.SettleRequest) (*paymentdomain.SettleResult, error) {
		return &paymentdomain.SettleResult{Success: true}, nil
	}}
	router := newTestServer(t, config.Config{AuthzEnabled: true}, &fakeOrderService{}, payments, fakeAuthz{err: authorization.ErrForbidden})

	resp := doRequest(router, http.MethodPost, "/api/v1/payments/process",
		`{"order_id":"1001","method":"cash","amount_paid":1000}`, staff())

	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Zero(t, payments.settleCalls)
}

func TestCustomerCannotPayForSomeoneElsesOrder(t *testing.T) {
	owner := "77"
	orders := &fakeOrderService{orders: map[string]*orderdomain.Response{
		"1001": {ID: "1001", CustomerID: &owner, Status: orderdomain.StatusReady},
	}}
	payments := &fakePaymentService{settle: func(paymentdomain.SettleRequest) (*paymentdomain.SettleResult, error) {
		return &paymentdomain.SettleResult{Success: true}, nil
	}}
	router := newTestServer(t, config.Config{}, orders, payments, nil)

	resp := doRequest(router, http.MethodPost, "/api/v1/payments/process",
		`{"order_id":"1001","method":"cash","amount_paid":1000}`,
		map[string]string{HeaderActorID: "78", HeaderActorRole: "customer"})
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Zero(t, payments.settleCalls)

	resp = doRequest(router, http.MethodPost, "/api/v1/payments/process",
		`{"order_id":"1001","method":"cash","amount_paid":1000}`,
		map[string]string{HeaderActorID: owner, HeaderActorRole: "customer"})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 1, payments.settleCalls)
}

func TestPaymentsByOrderIncludesCount(t *testing.T) {
	payments := &fakePaymentService{byOrder: []paymentdomain.Response{
		{ID: "1", OrderID: "1001", Status: paymentdomain.StatusFailed},
		{ID: "2", OrderID: "1001", Status: paymentdomain.StatusPaid},
	}}
	router := newTestServer(t, config.Config{}, &fakeOrderService{}, payments, nil)

	resp := doRequest(router, http.MethodGet, "/api/v1/payments/order/1001", "", staff())

	require.Equal(t, http.StatusOK, resp.Code)
	body := decode(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(2), body["count"])
	assert.Len(t, body["data"], 2)
}

func settlementDeniedTotal(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "tillpoint_settlement_denied_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestThrottledSettlementIsCountedOnce(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := obsmetrics.New(obsmetrics.Config{ServiceName: "tillpoint"}, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	payments := &fakePaymentService{settle: func(paymentdomain.SettleRequest) (*paymentdomain.SettleResult, error) {
		m.RecordSettlementDenied(context.Background(), "throttled")
		return nil, ratelimit.ErrSettlementThrottled
	}}
	router := newTestServer(t, config.Config{}, &fakeOrderService{}, payments, nil)

	resp := doRequest(router, http.MethodPost, "/api/v1/payments/process",
		`{"order_id":"1001","method":"cash","amount_paid":1000}`, staff())

	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, int64(1), settlementDeniedTotal(t, reader))
}
