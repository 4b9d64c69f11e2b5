package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"order-fulfillment/internal/domain"
)

type LoyaltyRepo interface {
	// LockAccount creates the account on first use and takes a row lock on it
	// for the rest of tx. This is the per-user guard for balance changes.
	LockAccount(ctx context.Context, tx *sql.Tx, userID uuid.UUID, baseTier string) (*domain.LoyaltyAccount, error)
	FindAccount(ctx context.Context, userID uuid.UUID) (*domain.LoyaltyAccount, error)
	// AppendTransaction inserts the log row and moves the cached balance by the same delta.
	AppendTransaction(ctx context.Context, tx *sql.Tx, txn *domain.LoyaltyTransaction) (int64, error)
	UpdateTier(ctx context.Context, tx *sql.Tx, userID uuid.UUID, tier string, at time.Time) error
	ListTransactions(ctx context.Context, userID uuid.UUID) ([]domain.LoyaltyTransaction, error)
	// LedgerSum returns the sum of all transaction deltas for the user.
	LedgerSum(ctx context.Context, userID uuid.UUID) (int64, error)
}

type loyaltyRepo struct {
	db *sql.DB
}

func NewLoyaltyRepo(db *sql.DB) LoyaltyRepo {
	return &loyaltyRepo{db: db}
}

func (r *loyaltyRepo) LockAccount(ctx context.Context, tx *sql.Tx, userID uuid.UUID, baseTier string) (*domain.LoyaltyAccount, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO loyalty_accounts (user_id, balance, tier, updated_at) VALUES ($1, 0, $2, now())
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, baseTier,
	); err != nil {
		return nil, fmt.Errorf("ensure loyalty account: %w", err)
	}

	var acc domain.LoyaltyAccount
	err := tx.QueryRowContext(ctx,
		`SELECT user_id, balance, tier, updated_at FROM loyalty_accounts WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&acc.UserID, &acc.Balance, &acc.Tier, &acc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("lock loyalty account: %w", err)
	}
	return &acc, nil
}

func (r *loyaltyRepo) FindAccount(ctx context.Context, userID uuid.UUID) (*domain.LoyaltyAccount, error) {
	var acc domain.LoyaltyAccount
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, balance, tier, updated_at FROM loyalty_accounts WHERE user_id = $1`,
		userID,
	).Scan(&acc.UserID, &acc.Balance, &acc.Tier, &acc.UpdatedAt)
	if isNoRows(err) {
		return nil, domain.NewNotFound("loyalty account", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("select loyalty account: %w", err)
	}
	return &acc, nil
}

func (r *loyaltyRepo) AppendTransaction(ctx context.Context, tx *sql.Tx, txn *domain.LoyaltyTransaction) (int64, error) {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO loyalty_transactions (id, user_id, points, type, description, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		txn.ID, txn.UserID, txn.Points, txn.Kind, txn.Description, txn.CreatedAt,
	); err != nil {
		return 0, fmt.Errorf("insert loyalty transaction: %w", err)
	}

	var balance int64
	err := tx.QueryRowContext(ctx,
		`UPDATE loyalty_accounts SET balance = balance + $2, updated_at = $3 WHERE user_id = $1 RETURNING balance`,
		txn.UserID, txn.Points, txn.CreatedAt,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("update loyalty balance: %w", err)
	}
	return balance, nil
}

func (r *loyaltyRepo) UpdateTier(ctx context.Context, tx *sql.Tx, userID uuid.UUID, tier string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE loyalty_accounts SET tier = $2, updated_at = $3 WHERE user_id = $1`,
		userID, tier, at,
	)
	if err != nil {
		return fmt.Errorf("update loyalty tier: %w", err)
	}
	return nil
}

func (r *loyaltyRepo) ListTransactions(ctx context.Context, userID uuid.UUID) ([]domain.LoyaltyTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, points, type, description, created_at FROM loyalty_transactions
		 WHERE user_id = $1 ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select loyalty transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.LoyaltyTransaction
	for rows.Next() {
		var t domain.LoyaltyTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Points, &t.Kind, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *loyaltyRepo) LedgerSum(ctx context.Context, userID uuid.UUID) (int64, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(points), 0) FROM loyalty_transactions WHERE user_id = $1`,
		userID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum loyalty transactions: %w", err)
	}
	return sum, nil
}
