// Package sequence issues per-day counters for human-facing numbers such as
// ORD-20260417-0001. Counters live in daily_sequences and are bumped with an
// upsert that holds the row lock until the caller's transaction ends, so
// concurrent callers never observe the same value.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/tillpoint/internal/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Scope string

const (
	ScopeOrder   Scope = "order"
	ScopeReceipt Scope = "receipt"
)

var prefixes = map[Scope]string{
	ScopeOrder:   "ORD",
	ScopeReceipt: "RCP",
}

var ErrUnknownScope = errors.New("unknown_sequence_scope")

var Module = fx.Module("sequence",
	fx.Provide(New),
)

type dailySequence struct {
	Scope string `gorm:"primaryKey"`
	Day   string `gorm:"primaryKey"`
	Value int64  `gorm:"not null"`
}

func (dailySequence) TableName() string { return "daily_sequences" }

type Generator struct {
	loc *time.Location
}

func New(cfg config.Config) *Generator {
	return NewWithLocation(cfg.Location())
}

func NewWithLocation(loc *time.Location) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{loc: loc}
}

// Next reserves the next number for scope on the business day containing at.
// It must run on the caller's transaction so a rolled back order does not
// consume a visible number.
func (g *Generator) Next(ctx context.Context, tx *gorm.DB, scope Scope, at time.Time) (string, error) {
	prefix, ok := prefixes[scope]
	if !ok {
		return "", ErrUnknownScope
	}

	day := at.In(g.loc).Format("20060102")
	if err := bump(tx.WithContext(ctx), scope, day).Error; err != nil {
		return "", fmt.Errorf("next %s sequence: %w", scope, err)
	}

	var row dailySequence
	err := tx.WithContext(ctx).
		Where("scope = ? AND day = ?", string(scope), day).
		Take(&row).Error
	if err != nil {
		return "", fmt.Errorf("next %s sequence: %w", scope, err)
	}
	if row.Value == 0 {
		return "", fmt.Errorf("next %s sequence: no value returned", scope)
	}

	return Format(prefix, day, row.Value), nil
}

// bump inserts the first value of the day or increments the existing one.
// gorm renders the conflict clause for each dialect.
func bump(tx *gorm.DB, scope Scope, day string) *gorm.DB {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]any{"value": gorm.Expr("daily_sequences.value + 1")}),
	}).Create(&dailySequence{Scope: string(scope), Day: day, Value: 1})
}

// Format renders PREFIX-YYYYMMDD-NNNN. Values past 9999 keep all digits.
func Format(prefix, day string, value int64) string {
	return fmt.Sprintf("%s-%s-%04d", strings.ToUpper(prefix), day, value)
}
