package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"order-fulfillment/internal/domain"
)

type Product struct {
	ID       uuid.UUID
	Name     string
	Price    int64
	Currency string
}

type CatalogRepo interface {
	// PricesOf resolves unit prices in one query. Unknown ids are simply absent from the result.
	PricesOf(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Money, error)
	UpsertProduct(ctx context.Context, p Product) error
}

type catalogRepo struct {
	db *sql.DB
}

func NewCatalogRepo(db *sql.DB) CatalogRepo {
	return &catalogRepo{db: db}
}

func (r *catalogRepo) PricesOf(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Money, error) {
	out := make(map[uuid.UUID]domain.Money, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, price, currency FROM products WHERE id = ANY($1::uuid[])`,
		uuidStrings(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("select product prices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id       uuid.UUID
			price    int64
			currency string
		)
		if err := rows.Scan(&id, &price, &currency); err != nil {
			return nil, err
		}
		out[id] = domain.NewMoney(price, currency)
	}
	return out, rows.Err()
}

func (r *catalogRepo) UpsertProduct(ctx context.Context, p Product) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO products (id, name, price, currency, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price, currency = EXCLUDED.currency, updated_at = EXCLUDED.updated_at`,
		p.ID, p.Name, p.Price, domain.NormalizeCurrency(p.Currency), now,
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}
