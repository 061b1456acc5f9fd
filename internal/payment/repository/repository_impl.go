package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tillpoint/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const paymentColumns = `id, order_id, method, status, amount_paid, amount_due, change_amount,
	transaction_id, receipt_number, failure_reason, processed_by, notes,
	idempotency_key, processed_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (order_id, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING`,
		payment.ID,
		payment.OrderID,
		string(payment.Method),
		string(payment.Status),
		payment.AmountPaid,
		payment.AmountDue,
		payment.ChangeAmount,
		payment.TransactionID,
		payment.ReceiptNumber,
		payment.FailureReason,
		payment.ProcessedBy,
		payment.Notes,
		payment.IdempotencyKey,
		payment.ProcessedAt,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	return r.take(db.WithContext(ctx), id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	return r.take(db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *repo) take(stmt *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := stmt.Model(&domain.Payment{}).Where("id = ?", id).Take(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, orderID snowflake.ID, key string) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE order_id = ? AND idempotency_key = ?
		 LIMIT 1`,
		orderID,
		key,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) ListByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]domain.Payment, error) {
	var payments []domain.Payment
	err := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("processed_at ASC").
		Order("id ASC").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Payment, error) {
	stmt := db.WithContext(ctx).Model(&domain.Payment{})
	if filter.Status != nil {
		stmt = stmt.Where("status = ?", string(*filter.Status))
	}
	if filter.Method != nil {
		stmt = stmt.Where("method = ?", string(*filter.Method))
	}
	if filter.From != nil {
		stmt = stmt.Where("processed_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		stmt = stmt.Where("processed_at <= ?", filter.To.UTC())
	}
	if filter.Cursor != nil {
		stmt = stmt.Where(
			"(processed_at < ?) OR (processed_at = ? AND id < ?)",
			filter.Cursor.ProcessedAt,
			filter.Cursor.ProcessedAt,
			filter.Cursor.ID,
		)
	}
	stmt = stmt.Order("processed_at DESC").Order("id DESC")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var payments []*domain.Payment
	if err := stmt.Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) SettledAmount(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (int64, error) {
	var settled int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount_paid - change_amount), 0)
		 FROM payments
		 WHERE order_id = ? AND status = ?`,
		orderID,
		string(domain.StatusPaid),
	).Scan(&settled).Error
	if err != nil {
		return 0, err
	}
	return settled, nil
}

func (r *repo) MarkRefunded(ctx context.Context, db *gorm.DB, payment *domain.Payment) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(domain.StatusRefunded),
		payment.UpdatedAt,
		payment.ID,
		string(domain.StatusPaid),
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertRefund(ctx context.Context, db *gorm.DB, refund *domain.Refund) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_refunds (id, payment_id, order_id, amount, reason, refunded_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		refund.ID,
		refund.PaymentID,
		refund.OrderID,
		refund.Amount,
		refund.Reason,
		refund.RefundedBy,
		refund.CreatedAt,
	).Error
}

func (r *repo) FindRefund(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (*domain.Refund, error) {
	var refund domain.Refund
	err := db.WithContext(ctx).Raw(
		`SELECT id, payment_id, order_id, amount, reason, refunded_by, created_at
		 FROM payment_refunds
		 WHERE payment_id = ?`,
		paymentID,
	).Scan(&refund).Error
	if err != nil {
		return nil, err
	}
	if refund.ID == 0 {
		return nil, nil
	}
	return &refund, nil
}
