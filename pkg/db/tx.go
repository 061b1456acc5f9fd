package db

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const MaxTxAttempts = 3

// RunInTx runs fn in a transaction and runs it again from scratch when the
// database reports a serialization or lock conflict. fn must only touch the
// tx it is given.
func RunInTx(ctx context.Context, conn *gorm.DB, log *zap.Logger, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= MaxTxAttempts; attempt++ {
		err = conn.WithContext(ctx).Transaction(fn)
		if err == nil || !IsSerializationFailure(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		if log != nil {
			log.Warn("retrying transaction", zap.Int("attempt", attempt), zap.Error(err))
		}
	}
	return err
}
