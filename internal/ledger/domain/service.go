package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Service posts balanced entries. Both methods accept the caller's
// transaction; a nil db runs on the service connection.
type Service interface {
	// CreateEntry is idempotent per (source_type, source_id) and reports
	// whether a new entry was written.
	CreateEntry(ctx context.Context, db *gorm.DB, sourceType LedgerSourceType, sourceID snowflake.ID, currency string, occurredAt time.Time, lines []LedgerEntryLine) (bool, error)
	EnsureAccount(ctx context.Context, db *gorm.DB, code LedgerAccountCode) (snowflake.ID, error)
}

var (
	ErrInvalidSourceType    = errors.New("invalid_source_type")
	ErrInvalidSourceID      = errors.New("invalid_source_id")
	ErrInvalidCurrency      = errors.New("invalid_currency")
	ErrInvalidOccurredAt    = errors.New("invalid_occurred_at")
	ErrInvalidEntryLines    = errors.New("invalid_entry_lines")
	ErrInvalidAccount       = errors.New("invalid_account")
	ErrInvalidLineDirection = errors.New("invalid_line_direction")
	ErrInvalidLineAmount    = errors.New("invalid_line_amount")
	ErrUnbalancedEntry      = errors.New("unbalanced_entry")
)

// ValidateBalanced checks that debits equal credits.
func ValidateBalanced(lines []LedgerEntryLine) error {
	var debit, credit int64
	for _, line := range lines {
		switch line.Direction {
		case LedgerEntryDirectionDebit:
			debit += line.Amount
		case LedgerEntryDirectionCredit:
			credit += line.Amount
		default:
			return ErrInvalidLineDirection
		}
	}
	if debit != credit {
		return ErrUnbalancedEntry
	}
	return nil
}
