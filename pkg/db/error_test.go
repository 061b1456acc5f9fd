package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: payments.order_id, payments.idempotency_key")))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))
}

func TestIsSerializationFailure(t *testing.T) {
	assert.False(t, IsSerializationFailure(nil))
	assert.True(t, IsSerializationFailure(fmt.Errorf("settle: %w", &pgconn.PgError{Code: "40001"})))
	assert.True(t, IsSerializationFailure(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, IsSerializationFailure(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsSerializationFailure(errors.New("database is locked")))
}

func TestSqlitePath(t *testing.T) {
	assert.Equal(t, "tillpoint.db", sqlitePath(""))
	assert.Equal(t, "pos.db", sqlitePath("pos"))
	assert.Equal(t, "file::memory:", sqlitePath("file::memory:"))
}

func TestRunInTxRetriesSerializationFailures(t *testing.T) {
	conn := newTestConn(t)

	attempts := 0
	err := RunInTx(context.Background(), conn, zap.NewNop(), func(tx *gorm.DB) error {
		attempts++
		if attempts < 2 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRunInTxStopsOnOtherErrors(t *testing.T) {
	conn := newTestConn(t)

	boom := errors.New("boom")
	attempts := 0
	err := RunInTx(context.Background(), conn, nil, func(tx *gorm.DB) error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestRunInTxGivesUp(t *testing.T) {
	conn := newTestConn(t)

	attempts := 0
	err := RunInTx(context.Background(), conn, nil, func(tx *gorm.DB) error {
		attempts++
		return errors.New("database is locked")
	})
	assert.Error(t, err)
	assert.Equal(t, MaxTxAttempts, attempts)
}

func newTestConn(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}
