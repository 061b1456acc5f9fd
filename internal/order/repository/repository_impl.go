package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tillpoint/internal/order/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	if order == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO orders (
			id, order_number, customer_id, staff_id, order_type, table_number, status,
			subtotal, discount_amount, discount_reason, tax_amount, total_amount, notes,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.OrderNumber,
		order.CustomerID,
		order.StaffID,
		string(order.OrderType),
		order.TableNumber,
		string(order.Status),
		order.Subtotal,
		order.DiscountAmount,
		order.DiscountReason,
		order.TaxAmount,
		order.TotalAmount,
		order.Notes,
		order.CreatedAt,
		order.UpdatedAt,
	).Error
}

func (r *repo) InsertItems(ctx context.Context, db *gorm.DB, items []domain.OrderItem) error {
	for _, item := range items {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO order_items (
				id, order_id, product_id, product_name, quantity, unit_price, tax_rate,
				tax_amount, discount_amount, subtotal, total_price, notes, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.ProductName,
			item.Quantity,
			item.UnitPrice,
			item.TaxRate,
			item.TaxAmount,
			item.DiscountAmount,
			item.Subtotal,
			item.TotalPrice,
			item.Notes,
			item.CreatedAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	return r.take(db.WithContext(ctx), id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	return r.take(db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *repo) take(stmt *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	err := stmt.Model(&domain.Order{}).Where("id = ?", id).Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repo) FindItems(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]domain.OrderItem, error) {
	return r.FindItemsByOrderIDs(ctx, db, []snowflake.ID{orderID})
}

func (r *repo) FindItemsByOrderIDs(ctx context.Context, db *gorm.DB, orderIDs []snowflake.ID) ([]domain.OrderItem, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	var items []domain.OrderItem
	err := db.WithContext(ctx).
		Model(&domain.OrderItem{}).
		Where("order_id IN ?", orderIDs).
		Order("order_id asc, id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Order, error) {
	var orders []*domain.Order
	stmt := db.WithContext(ctx).Model(&domain.Order{})

	if filter.Status != nil {
		stmt = stmt.Where("status = ?", string(*filter.Status))
	}
	if filter.CustomerID != "" {
		stmt = stmt.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.CreatedFrom != nil {
		stmt = stmt.Where("created_at >= ?", filter.CreatedFrom.UTC())
	}
	if filter.CreatedTo != nil {
		stmt = stmt.Where("created_at <= ?", filter.CreatedTo.UTC())
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) CountByStatus(ctx context.Context, db *gorm.DB, from, to *time.Time) ([]domain.StatusCount, error) {
	var rows []domain.StatusCount
	stmt := db.WithContext(ctx).
		Model(&domain.Order{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(total_amount), 0) AS amount")
	if from != nil {
		stmt = stmt.Where("created_at >= ?", from.UTC())
	}
	if to != nil {
		stmt = stmt.Where("created_at <= ?", to.UTC())
	}
	if err := stmt.Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, order *domain.Order, expected domain.Status) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, started_at = ?, completed_at = ?, cancelled_at = ?,
		     cancellation_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(order.Status),
		order.StartedAt,
		order.CompletedAt,
		order.CancelledAt,
		order.CancellationReason,
		order.UpdatedAt,
		order.ID,
		string(expected),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpdateTotals(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET subtotal = ?, discount_amount = ?, discount_reason = ?, tax_amount = ?,
		     total_amount = ?, updated_at = ?
		 WHERE id = ?`,
		order.Subtotal,
		order.DiscountAmount,
		order.DiscountReason,
		order.TaxAmount,
		order.TotalAmount,
		order.UpdatedAt,
		order.ID,
	).Error
}

func (r *repo) SettledAmount(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (int64, error) {
	var settled int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount_paid - change_amount), 0)
		 FROM payments WHERE order_id = ? AND status = ?`,
		orderID,
		"paid",
	).Scan(&settled).Error
	if err != nil {
		return 0, err
	}
	return settled, nil
}
