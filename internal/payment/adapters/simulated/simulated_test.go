package simulated

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/tillpoint/internal/payment/adapters"
	"github.com/smallbiznis/tillpoint/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolvesSimulatedProvider(t *testing.T) {
	registry := adapters.NewRegistry(NewFactory(), nil)
	assert.True(t, registry.ProviderExists(" Simulated "))
	assert.False(t, registry.ProviderExists("stripe"))

	_, err := registry.NewGateway("stripe", domain.GatewayConfig{})
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)

	_, err = registry.NewGateway(Provider, domain.GatewayConfig{SuccessRate: 2})
	assert.ErrorIs(t, err, domain.ErrInvalidGatewayConfig)
}

func TestChargeApprovesWithTransactionID(t *testing.T) {
	gw, err := NewFactoryWithSource(rand.NewSource(1)).NewGateway(domain.GatewayConfig{SuccessRate: 1})
	require.NoError(t, err)

	result, err := gw.Charge(context.Background(), domain.ChargeRequest{Amount: 1000})
	require.NoError(t, err)
	assert.True(t, result.Approved)
	assert.True(t, strings.HasPrefix(result.TransactionID, "TXN-"))
	assert.Len(t, result.TransactionID, len("TXN-")+26)
}

func TestChargeDeclinesAtZeroSuccessRate(t *testing.T) {
	gw, err := NewFactoryWithSource(rand.NewSource(1)).NewGateway(domain.GatewayConfig{SuccessRate: 0})
	require.NoError(t, err)

	result, err := gw.Charge(context.Background(), domain.ChargeRequest{Amount: 1000})
	require.NoError(t, err)
	assert.False(t, result.Approved)
	assert.Empty(t, result.TransactionID)
	assert.Equal(t, DeclineMessage, result.Message)
}

func TestChargeApprovalRateIsRoughlyConfigured(t *testing.T) {
	gw, err := NewFactoryWithSource(rand.NewSource(42)).NewGateway(domain.GatewayConfig{SuccessRate: 0.95})
	require.NoError(t, err)

	approved := 0
	for i := 0; i < 2000; i++ {
		result, err := gw.Charge(context.Background(), domain.ChargeRequest{Amount: 1})
		require.NoError(t, err)
		if result.Approved {
			approved++
		}
	}
	assert.InDelta(t, 1900, approved, 60)
}

func TestChargeHonoursDeadline(t *testing.T) {
	gw, err := NewFactory().NewGateway(domain.GatewayConfig{SuccessRate: 1, Latency: time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = gw.Charge(ctx, domain.ChargeRequest{Amount: 1000})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
