package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	return nil
}

func TestGinMiddlewareRecordsRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m, err := NewHTTPMetrics(reg)
	require.NoError(t, err)

	r := gin.New()
	r.Use(GinMiddleware(m))
	r.GET("/orders/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/42", nil))

	family := findFamily(t, reg, "tillpoint_http_requests_total")
	require.NotNil(t, family)
	require.Len(t, family.GetMetric(), 1)

	labels := map[string]string{}
	for _, pair := range family.GetMetric()[0].GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	assert.Equal(t, "/orders/:id", labels["route"])
	assert.Equal(t, "204", labels["status"])
	assert.Equal(t, 1.0, family.GetMetric()[0].GetCounter().GetValue())
}

func TestSettlementMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewSettlementMetrics(reg)
	require.NoError(t, err)

	m.ObserveSettlement("cash", "paid", 20*time.Millisecond)
	m.ObserveGateway("simulated", "declined", time.Second)

	family := findFamily(t, reg, "tillpoint_settlement_duration_seconds")
	require.NotNil(t, family)
	assert.Equal(t, uint64(1), family.GetMetric()[0].GetHistogram().GetSampleCount())

	var nilMetrics *SettlementMetrics
	nilMetrics.ObserveSettlement("cash", "paid", time.Millisecond)
}

func TestDuplicateRegistrationReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewHTTPMetrics(reg)
	require.NoError(t, err)
	_, err = NewHTTPMetrics(reg)
	require.NoError(t, err)
}
