package sequence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/tillpoint/internal/sequence"
	"github.com/smallbiznis/tillpoint/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestNextIsMonotonicPerDayAndScope(t *testing.T) {
	db := testutil.NewDB(t)
	gen := sequence.NewWithLocation(time.UTC)
	ctx := context.Background()
	day := time.Date(2026, 4, 17, 10, 0, 0, 0, time.UTC)

	first, err := gen.Next(ctx, db, sequence.ScopeOrder, day)
	require.NoError(t, err)
	second, err := gen.Next(ctx, db, sequence.ScopeOrder, day.Add(time.Hour))
	require.NoError(t, err)
	receipt, err := gen.Next(ctx, db, sequence.ScopeReceipt, day)
	require.NoError(t, err)
	nextDay, err := gen.Next(ctx, db, sequence.ScopeOrder, day.Add(24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, "ORD-20260417-0001", first)
	assert.Equal(t, "ORD-20260417-0002", second)
	assert.Equal(t, "RCP-20260417-0001", receipt)
	assert.Equal(t, "ORD-20260418-0001", nextDay)
}

func TestNextUsesBusinessTimezone(t *testing.T) {
	db := testutil.NewDB(t)
	loc := time.FixedZone("UTC+7", 7*60*60)
	gen := sequence.NewWithLocation(loc)

	// 20:00 UTC on the 17th is already the 18th at UTC+7.
	got, err := gen.Next(context.Background(), db, sequence.ScopeOrder, time.Date(2026, 4, 17, 20, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "ORD-20260418-0001", got)
}

func TestNextRejectsUnknownScope(t *testing.T) {
	db := testutil.NewDB(t)
	_, err := sequence.NewWithLocation(time.UTC).Next(context.Background(), db, sequence.Scope("invoice"), time.Now())
	assert.ErrorIs(t, err, sequence.ErrUnknownScope)
}

func TestFormatKeepsWideValues(t *testing.T) {
	assert.Equal(t, "RCP-20260101-12345", sequence.Format("rcp", "20260101", 12345))
}

func TestNextContinuesAfterRollback(t *testing.T) {
	db := testutil.NewDB(t)
	gen := sequence.NewWithLocation(time.UTC)
	ctx := context.Background()
	day := time.Date(2026, 4, 17, 10, 0, 0, 0, time.UTC)

	_, err := gen.Next(ctx, db, sequence.ScopeReceipt, day)
	require.NoError(t, err)

	rollback := errors.New("rollback")
	err = db.Transaction(func(tx *gorm.DB) error {
		got, err := gen.Next(ctx, tx, sequence.ScopeReceipt, day)
		require.NoError(t, err)
		assert.Equal(t, "RCP-20260417-0002", got)
		return rollback
	})
	require.ErrorIs(t, err, rollback)

	got, err := gen.Next(ctx, db, sequence.ScopeReceipt, day)
	require.NoError(t, err)
	assert.Equal(t, "RCP-20260417-0002", got)
}
