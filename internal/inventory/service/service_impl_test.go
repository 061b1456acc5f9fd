package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/smallbiznis/tillpoint/internal/clock"
	"github.com/smallbiznis/tillpoint/internal/inventory/domain"
	"github.com/smallbiznis/tillpoint/internal/inventory/repository"
	"github.com/smallbiznis/tillpoint/internal/inventory/service"
	"github.com/smallbiznis/tillpoint/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newService(db *gorm.DB) domain.Service {
	return service.New(service.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Repo:  repository.Provide(),
		Clock: clock.SystemClock{},
	})
}

func isAvailable(t *testing.T, db *gorm.DB, id any) bool {
	t.Helper()
	var available bool
	require.NoError(t, db.Raw(`SELECT is_available FROM products WHERE id = ?`, id).Scan(&available).Error)
	return available
}

func TestReserveDecrementsStock(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	svc := newService(db)
	id := testutil.SeedProduct(t, db, node, testutil.ProductSeed{Name: "Fries", Price: 40, Quantity: 5})

	require.NoError(t, svc.Reserve(context.Background(), nil, id, 3))
	assert.Equal(t, int64(2), testutil.Quantity(t, db, id))
	assert.True(t, isAvailable(t, db, id))
}

func TestReserveInsufficientStockLeavesQuantity(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	svc := newService(db)
	id := testutil.SeedProduct(t, db, node, testutil.ProductSeed{Name: "Fries", Price: 40, Quantity: 2})

	err := svc.Reserve(context.Background(), nil, id, 3)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, int64(2), testutil.Quantity(t, db, id))
}

func TestReserveUnknownProduct(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	svc := newService(db)

	err := svc.Reserve(context.Background(), nil, node.Generate(), 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReserveRejectsNonPositiveQuantity(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	svc := newService(db)
	id := testutil.SeedProduct(t, db, node, testutil.ProductSeed{Name: "Fries", Price: 40, Quantity: 2})

	assert.ErrorIs(t, svc.Reserve(context.Background(), nil, id, 0), domain.ErrInvalidQuantity)
}

func TestReserveToZeroClearsAvailability(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	svc := newService(db)
	id := testutil.SeedProduct(t, db, node, testutil.ProductSeed{Name: "Pie", Price: 70, Quantity: 2})

	require.NoError(t, svc.Reserve(context.Background(), nil, id, 2))
	assert.Equal(t, int64(0), testutil.Quantity(t, db, id))
	assert.False(t, isAvailable(t, db, id))

	// Release restores stock but leaves the flag for the catalog owner.
	require.NoError(t, svc.Release(context.Background(), nil, id, 2))
	assert.Equal(t, int64(2), testutil.Quantity(t, db, id))
	assert.False(t, isAvailable(t, db, id))
}

func TestReleaseIgnoresMaximum(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	svc := newService(db)
	id := testutil.SeedProduct(t, db, node, testutil.ProductSeed{Name: "Tea", Price: 20, Quantity: 10})
	require.NoError(t, db.Exec(`UPDATE inventory SET maximum_quantity = 10 WHERE product_id = ?`, id).Error)

	require.NoError(t, svc.Release(context.Background(), nil, id, 5))
	assert.Equal(t, int64(15), testutil.Quantity(t, db, id))
}

func TestReleaseMissingRowDoesNotFail(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	svc := newService(db)

	assert.NoError(t, svc.Release(context.Background(), nil, node.Generate(), 3))
}

func TestReserveRollsBackWithTransaction(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	svc := newService(db)
	a := testutil.SeedProduct(t, db, node, testutil.ProductSeed{Name: "A", Price: 100, Quantity: 5})
	b := testutil.SeedProduct(t, db, node, testutil.ProductSeed{Name: "B", Price: 50, Quantity: 0})

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := svc.Reserve(context.Background(), tx, a, 3); err != nil {
			return err
		}
		return svc.Reserve(context.Background(), tx, b, 1)
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, int64(5), testutil.Quantity(t, db, a))
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	svc := newService(db)
	id := testutil.SeedProduct(t, db, node, testutil.ProductSeed{Name: "Special", Price: 300, Quantity: 10})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		short     int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.Reserve(context.Background(), nil, id, 3)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInsufficientStock):
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 5, short)
	assert.Equal(t, int64(1), testutil.Quantity(t, db, id))
}
