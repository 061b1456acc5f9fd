package service_test

import (
	"context"
	"testing"

	"github.com/smallbiznis/tillpoint/internal/config"
	"github.com/smallbiznis/tillpoint/internal/product/domain"
	"github.com/smallbiznis/tillpoint/internal/product/repository"
	"github.com/smallbiznis/tillpoint/internal/product/service"
	"github.com/smallbiznis/tillpoint/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetPriceAndTax(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)

	cfg := config.DefaultSettlementConfig()
	cfg.DefaultTaxRate = "0.18"
	svc := service.New(service.Params{
		DB:         db,
		Log:        zap.NewNop(),
		Repo:       repository.Provide(),
		Settlement: config.NewStaticSettlementConfigHolder(cfg),
	})

	burger := testutil.SeedProduct(t, db, node, testutil.ProductSeed{Name: "Burger", Price: 100, TaxRate: "0.1", Quantity: 5})
	soda := testutil.SeedProduct(t, db, node, testutil.ProductSeed{Name: "Soda", Price: 50, Quantity: 5})

	t.Run("explicit rate", func(t *testing.T) {
		got, err := svc.GetPriceAndTax(context.Background(), nil, burger)
		require.NoError(t, err)
		assert.Equal(t, "Burger", got.Name)
		assert.Equal(t, int64(100), got.Price)
		assert.Equal(t, "0.1", got.TaxRate.String())
		assert.True(t, got.IsAvailable)
	})

	t.Run("falls back to configured default", func(t *testing.T) {
		got, err := svc.GetPriceAndTax(context.Background(), nil, soda)
		require.NoError(t, err)
		assert.Equal(t, "0.18", got.TaxRate.String())
	})

	t.Run("unknown product", func(t *testing.T) {
		_, err := svc.GetPriceAndTax(context.Background(), nil, node.Generate())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
