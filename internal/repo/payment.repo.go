package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"order-fulfillment/internal/domain"
)

type PaymentRepo interface {
	CreatePayment(ctx context.Context, tx *sql.Tx, payment *domain.Payment) error
	// FindByOrderId returns the most recent payment attempt of the order.
	FindByOrderId(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (*domain.Payment, error)
	FindByTransactionId(ctx context.Context, transactionID string) (*domain.Payment, error)
	// LockByTransactionId row-locks the payment so concurrent webhook deliveries serialize.
	LockByTransactionId(ctx context.Context, tx *sql.Tx, transactionID string) (*domain.Payment, error)
	// TransitionStatus only moves a pending payment; it reports false otherwise.
	TransitionStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, to domain.PaymentStatus, at time.Time) (bool, error)
	FindPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error)
}

type paymentRepo struct {
	db *sql.DB
}

func NewPaymentRepo(db *sql.DB) PaymentRepo {
	return &paymentRepo{db: db}
}

const paymentColumns = `id, user_id, order_id, amount, currency, status, payment_method, transaction_id, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (domain.Payment, error) {
	var (
		p     domain.Payment
		txnID sql.NullString
	)
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.OrderID,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.Method,
		&txnID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if txnID.Valid {
		p.TransactionID = &txnID.String
	}
	return p, err
}

func (r *paymentRepo) CreatePayment(ctx context.Context, tx *sql.Tx, payment *domain.Payment) error {
	query := `INSERT INTO payments (` + paymentColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := tx.ExecContext(
		ctx, query,
		payment.ID, payment.UserID, payment.OrderID, payment.Amount, payment.Currency,
		payment.Status, payment.Method, payment.TransactionID, payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepo) FindByOrderId(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (*domain.Payment, error) {
	return r.findOne(ctx, pick(r.db, tx),
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1`,
		orderID,
	)
}

func (r *paymentRepo) FindByTransactionId(ctx context.Context, transactionID string) (*domain.Payment, error) {
	return r.findOne(ctx, r.db, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1`, transactionID)
}

func (r *paymentRepo) LockByTransactionId(ctx context.Context, tx *sql.Tx, transactionID string) (*domain.Payment, error) {
	return r.findOne(ctx, tx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1 FOR UPDATE`, transactionID)
}

func (r *paymentRepo) findOne(ctx context.Context, q querier, query string, arg any) (*domain.Payment, error) {
	p, err := scanPayment(q.QueryRowContext(ctx, query, arg))
	if isNoRows(err) {
		return nil, domain.NewNotFound("payment", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("select payment: %w", err)
	}
	return &p, nil
}

func (r *paymentRepo) TransitionStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, to domain.PaymentStatus, at time.Time) (bool, error) {
	query := `
		UPDATE payments
		SET status = $2,
		    updated_at = $3
		WHERE id = $1 AND status = 'pending'
	`
	res, err := tx.ExecContext(ctx, query, id, to, at)
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *paymentRepo) FindPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + ` FROM payments
		WHERE status = $1
		AND transaction_id IS NOT NULL
		AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, domain.PaymentPending, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
