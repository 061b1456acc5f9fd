// Package testutil opens in-memory SQLite databases carrying the service
// schema and seeds catalog rows for package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE products (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		selling_price INTEGER NOT NULL,
		tax_rate NUMERIC,
		is_available BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE inventory (
		product_id INTEGER PRIMARY KEY,
		current_quantity INTEGER NOT NULL DEFAULT 0 CHECK (current_quantity >= 0),
		minimum_quantity INTEGER NOT NULL DEFAULT 0,
		maximum_quantity INTEGER,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE daily_sequences (
		scope TEXT NOT NULL,
		day TEXT NOT NULL,
		value INTEGER NOT NULL,
		PRIMARY KEY (scope, day)
	)`,
	`CREATE TABLE orders (
		id INTEGER PRIMARY KEY,
		order_number TEXT NOT NULL UNIQUE,
		customer_id TEXT,
		staff_id TEXT,
		order_type TEXT NOT NULL,
		table_number TEXT,
		status TEXT NOT NULL,
		subtotal INTEGER NOT NULL,
		discount_amount INTEGER NOT NULL DEFAULT 0,
		discount_reason TEXT,
		tax_amount INTEGER NOT NULL,
		total_amount INTEGER NOT NULL CHECK (total_amount >= 0),
		notes TEXT,
		cancellation_reason TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME,
		cancelled_at DATETIME
	)`,
	`CREATE TABLE order_items (
		id INTEGER PRIMARY KEY,
		order_id INTEGER NOT NULL,
		product_id INTEGER NOT NULL,
		product_name TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price INTEGER NOT NULL,
		tax_rate NUMERIC NOT NULL,
		tax_amount INTEGER NOT NULL,
		discount_amount INTEGER NOT NULL DEFAULT 0,
		subtotal INTEGER NOT NULL,
		total_price INTEGER NOT NULL,
		notes TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE payments (
		id INTEGER PRIMARY KEY,
		order_id INTEGER NOT NULL,
		method TEXT NOT NULL,
		status TEXT NOT NULL,
		amount_paid INTEGER NOT NULL,
		amount_due INTEGER NOT NULL,
		change_amount INTEGER NOT NULL DEFAULT 0,
		transaction_id TEXT,
		receipt_number TEXT UNIQUE,
		failure_reason TEXT,
		processed_by TEXT,
		notes TEXT,
		idempotency_key TEXT,
		processed_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_payments_order_idempotency ON payments (order_id, idempotency_key) WHERE idempotency_key IS NOT NULL`,
	`CREATE TABLE payment_refunds (
		id INTEGER PRIMARY KEY,
		payment_id INTEGER NOT NULL UNIQUE,
		order_id INTEGER NOT NULL,
		amount INTEGER NOT NULL,
		reason TEXT,
		refunded_by TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE ledger_accounts (
		id INTEGER PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE ledger_entries (
		id INTEGER PRIMARY KEY,
		source_type TEXT NOT NULL,
		source_id INTEGER NOT NULL,
		currency TEXT NOT NULL,
		occurred_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (source_type, source_id)
	)`,
	`CREATE TABLE ledger_entry_lines (
		id INTEGER PRIMARY KEY,
		ledger_entry_id INTEGER NOT NULL,
		account_id INTEGER NOT NULL,
		direction TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE audit_logs (
		id INTEGER PRIMARY KEY,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT,
		ip_address TEXT,
		user_agent TEXT,
		created_at DATETIME NOT NULL
	)`,
}

// NewDB returns an isolated in-memory database with the full schema applied.
// The pool is pinned to one connection, so callers inside a transaction must
// only use the transaction handle.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}

// NewNode returns a snowflake node for the test.
func NewNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(7)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// ProductSeed describes a catalog row with its stock level.
type ProductSeed struct {
	Name      string
	Price     int64
	TaxRate   string
	Quantity  int64
	Available *bool
}

// SeedProduct inserts a product and its inventory row.
func SeedProduct(t *testing.T, db *gorm.DB, node *snowflake.Node, seed ProductSeed) snowflake.ID {
	t.Helper()

	id := node.Generate()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Stock at zero always leaves the product unavailable.
	available := seed.Quantity > 0
	if seed.Available != nil {
		available = *seed.Available
	}
	var taxRate any
	if seed.TaxRate != "" {
		taxRate = decimal.RequireFromString(seed.TaxRate)
	}

	if err := db.WithContext(context.Background()).Exec(
		`INSERT INTO products (id, name, selling_price, tax_rate, is_available, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, seed.Name, seed.Price, taxRate, available, now, now,
	).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if err := db.Exec(
		`INSERT INTO inventory (product_id, current_quantity, minimum_quantity, maximum_quantity, updated_at)
		 VALUES (?, ?, 0, NULL, ?)`,
		id, seed.Quantity, now,
	).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}
	return id
}

// Quantity reads the current stock level for a product.
func Quantity(t *testing.T, db *gorm.DB, productID snowflake.ID) int64 {
	t.Helper()
	var qty int64
	if err := db.Raw(`SELECT current_quantity FROM inventory WHERE product_id = ?`, productID).Scan(&qty).Error; err != nil {
		t.Fatalf("read quantity: %v", err)
	}
	return qty
}

// Count returns the number of rows in table matching the optional where clause.
func Count(t *testing.T, db *gorm.DB, table, where string, args ...any) int64 {
	t.Helper()
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}
