package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"order-fulfillment/internal/domain"
)

type OrderRepo interface {
	// CreateOrderWithItems writes the order row and every item row in tx.
	CreateOrderWithItems(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	// UpdateOrder rewrites address and total and upserts items by (order_id, product_id).
	// Items whose product is absent from order.Items are removed.
	UpdateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	// UpdateOrderStatus is a conditional write; it reports false when the order was not in `from`.
	UpdateOrderStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.OrderStatus, at time.Time) (bool, error)
	FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FindByIdForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error)
	FindByUser(ctx context.Context, userID uuid.UUID) ([]domain.Order, error)
	FindByPaymentCorrelationId(ctx context.Context, correlationID string) (*domain.Order, error)
	// FindAwaitingPayment lists pending orders older than `before` that have no payment row.
	FindAwaitingPayment(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `o.id, o.user_id, o.address_id, o.total_price, o.discount_amount, o.points_redeemed, o.currency, o.status, o.delivery, o.created_at, o.updated_at`

func scanOrder(row interface{ Scan(...any) error }) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.AddressID,
		&o.TotalPrice,
		&o.DiscountAmount,
		&o.PointsRedeemed,
		&o.Currency,
		&o.Status,
		&o.Delivery,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	return o, err
}

func (r *orderRepo) CreateOrderWithItems(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	if err := order.CheckTotal(); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, address_id, total_price, discount_amount, points_redeemed, currency, status, delivery, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		order.ID, order.UserID, order.AddressID, order.TotalPrice, order.DiscountAmount, order.PointsRedeemed,
		order.Currency, order.Status, order.Delivery, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO order_items (id, order_id, product_id, size_id, quantity, price) VALUES ($1, $2, $3, $4, $5, $6)`,
			item.ID, item.OrderID, item.ProductID, item.SizeID, item.Quantity, item.Price,
		)
		if err != nil {
			return fmt.Errorf("insert order item %s: %w", item.ProductID, err)
		}
	}
	return nil
}

func (r *orderRepo) UpdateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	if err := order.CheckTotal(); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET address_id = $2, total_price = $3, updated_at = $4 WHERE id = $1`,
		order.ID, order.AddressID, order.TotalPrice, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFound("order", order.ID)
	}

	productIDs := make([]uuid.UUID, 0, len(order.Items))
	for _, item := range order.Items {
		productIDs = append(productIDs, item.ProductID)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM order_items WHERE order_id = $1 AND NOT (product_id = ANY($2::uuid[]))`,
		order.ID, uuidStrings(productIDs),
	); err != nil {
		return fmt.Errorf("prune order items: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		err := tx.QueryRowContext(ctx,
			`INSERT INTO order_items (id, order_id, product_id, size_id, quantity, price)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (order_id, product_id)
			 DO UPDATE SET size_id = EXCLUDED.size_id, quantity = EXCLUDED.quantity, price = EXCLUDED.price
			 RETURNING id`,
			item.ID, item.OrderID, item.ProductID, item.SizeID, item.Quantity, item.Price,
		).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("upsert order item %s: %w", item.ProductID, err)
		}
	}
	return nil
}

func (r *orderRepo) UpdateOrderStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.OrderStatus, at time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2",
		id, from, to, at,
	)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *orderRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.findOne(ctx, r.db, "SELECT "+orderColumns+" FROM orders o WHERE o.id = $1", id)
}

func (r *orderRepo) FindByIdForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	return r.findOne(ctx, tx, "SELECT "+orderColumns+" FROM orders o WHERE o.id = $1 FOR UPDATE", id)
}

func (r *orderRepo) FindByPaymentCorrelationId(ctx context.Context, correlationID string) (*domain.Order, error) {
	order, err := r.findOne(ctx, r.db,
		"SELECT "+orderColumns+" FROM orders o JOIN payments p ON p.order_id = o.id WHERE p.transaction_id = $1",
		correlationID,
	)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewNotFound("payment", correlationID)
	}
	return order, err
}

func (r *orderRepo) findOne(ctx context.Context, q querier, query string, arg any) (*domain.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, query, arg))
	if isNoRows(err) {
		return nil, domain.NewNotFound("order", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("select order: %w", err)
	}
	items, err := r.loadItems(ctx, q, []uuid.UUID{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return &order, nil
}

func (r *orderRepo) FindByUser(ctx context.Context, userID uuid.UUID) ([]domain.Order, error) {
	return r.findMany(ctx,
		"SELECT "+orderColumns+" FROM orders o WHERE o.user_id = $1 ORDER BY o.created_at DESC",
		userID,
	)
}

func (r *orderRepo) FindAwaitingPayment(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	return r.findMany(ctx,
		`SELECT `+orderColumns+` FROM orders o
		 WHERE o.status = 'pending' AND o.updated_at < $1
		   AND NOT EXISTS (SELECT 1 FROM payments p WHERE p.order_id = o.id)
		 ORDER BY o.updated_at
		 LIMIT $2`,
		before, limit,
	)
}

func (r *orderRepo) findMany(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]uuid.UUID, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	items, err := r.loadItems(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (r *orderRepo) loadItems(ctx context.Context, q querier, orderIDs []uuid.UUID) (map[uuid.UUID][]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, product_id, size_id, quantity, price FROM order_items
		 WHERE order_id = ANY($1::uuid[]) ORDER BY order_id, product_id`,
		uuidStrings(orderIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.SizeID, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		out[item.OrderID] = append(out[item.OrderID], item)
	}
	return out, rows.Err()
}
