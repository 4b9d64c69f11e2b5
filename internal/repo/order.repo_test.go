package repo

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-fulfillment/internal/domain"
	"order-fulfillment/internal/testutil"
)

func newOrder(userID uuid.UUID, items ...domain.OrderItem) *domain.Order {
	now := time.Now().UTC().Add(-time.Hour)
	return &domain.Order{
		ID:         uuid.New(),
		UserID:     userID,
		AddressID:  uuid.New(),
		TotalPrice: domain.SumItems(items),
		Currency:   "USD",
		Status:     domain.OrderPending,
		Items:      items,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func item(productID uuid.UUID, qty int, price int64) domain.OrderItem {
	return domain.OrderItem{ProductID: productID, SizeID: uuid.New(), Quantity: qty, Price: price}
}

func inTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func TestCreateOrderWithItemsIsAtomic(t *testing.T) {
	db := testutil.Postgres(t)
	orders := NewOrderRepo(db)
	ctx := context.Background()

	dup := uuid.New()
	bad := newOrder(uuid.New(), item(dup, 1, 100), item(dup, 2, 100))
	err := inTx(t, db, func(tx *sql.Tx) error { return orders.CreateOrderWithItems(ctx, tx, bad) })
	require.Error(t, err)

	_, err = orders.FindById(ctx, bad.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM order_items WHERE order_id = $1`, bad.ID).Scan(&n))
	assert.Zero(t, n)

	skewed := newOrder(uuid.New(), item(uuid.New(), 1, 100))
	skewed.TotalPrice = 99
	err = inTx(t, db, func(tx *sql.Tx) error { return orders.CreateOrderWithItems(ctx, tx, skewed) })
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = orders.FindById(ctx, skewed.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	good := newOrder(uuid.New(), item(uuid.New(), 2, 500), item(uuid.New(), 1, 300))
	require.NoError(t, inTx(t, db, func(tx *sql.Tx) error { return orders.CreateOrderWithItems(ctx, tx, good) }))

	stored, err := orders.FindById(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1300), stored.TotalPrice)
	assert.Len(t, stored.Items, 2)
	for _, it := range stored.Items {
		assert.Equal(t, good.ID, it.OrderID)
		assert.NotEqual(t, uuid.Nil, it.ID)
	}
}

func TestUpdateOrderStatusIsConditional(t *testing.T) {
	db := testutil.Postgres(t)
	orders := NewOrderRepo(db)
	ctx := context.Background()

	order := newOrder(uuid.New(), item(uuid.New(), 1, 100))
	require.NoError(t, inTx(t, db, func(tx *sql.Tx) error { return orders.CreateOrderWithItems(ctx, tx, order) }))

	var first, second bool
	require.NoError(t, inTx(t, db, func(tx *sql.Tx) error {
		var err error
		first, err = orders.UpdateOrderStatus(ctx, tx, order.ID, domain.OrderPending, domain.OrderCompleted, time.Now())
		if err != nil {
			return err
		}
		second, err = orders.UpdateOrderStatus(ctx, tx, order.ID, domain.OrderPending, domain.OrderCancelled, time.Now())
		return err
	}))
	assert.True(t, first)
	assert.False(t, second)

	stored, err := orders.FindById(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCompleted, stored.Status)
}

func TestPaymentLookupsAndAwaitingOrders(t *testing.T) {
	db := testutil.Postgres(t)
	orders := NewOrderRepo(db)
	payments := NewPaymentRepo(db)
	ctx := context.Background()
	userID := uuid.New()

	withPayment := newOrder(userID, item(uuid.New(), 1, 100))
	withoutPayment := newOrder(userID, item(uuid.New(), 1, 200))
	correlationID := "tx_" + uuid.NewString()

	require.NoError(t, inTx(t, db, func(tx *sql.Tx) error {
		if err := orders.CreateOrderWithItems(ctx, tx, withPayment); err != nil {
			return err
		}
		if err := orders.CreateOrderWithItems(ctx, tx, withoutPayment); err != nil {
			return err
		}
		return payments.CreatePayment(ctx, tx, &domain.Payment{
			ID:            uuid.New(),
			UserID:        userID,
			OrderID:       withPayment.ID,
			Amount:        100,
			Currency:      "USD",
			Status:        domain.PaymentPending,
			Method:        "bank_card",
			TransactionID: &correlationID,
			CreatedAt:     withPayment.CreatedAt,
			UpdatedAt:     withPayment.CreatedAt,
		})
	}))

	found, err := orders.FindByPaymentCorrelationId(ctx, correlationID)
	require.NoError(t, err)
	assert.Equal(t, withPayment.ID, found.ID)

	_, err = orders.FindByPaymentCorrelationId(ctx, "tx_missing")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "payment", nf.Kind)

	awaiting, err := orders.FindAwaitingPayment(ctx, time.Now().UTC(), 1000)
	require.NoError(t, err)
	ids := map[uuid.UUID]bool{}
	for _, o := range awaiting {
		ids[o.ID] = true
	}
	assert.True(t, ids[withoutPayment.ID])
	assert.False(t, ids[withPayment.ID])

	byUser, err := orders.FindByUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	p, err := payments.FindByTransactionId(ctx, correlationID)
	require.NoError(t, err)
	var moved, again bool
	require.NoError(t, inTx(t, db, func(tx *sql.Tx) error {
		locked, err := payments.LockByTransactionId(ctx, tx, correlationID)
		if err != nil {
			return err
		}
		if moved, err = payments.TransitionStatus(ctx, tx, locked.ID, domain.PaymentSucceeded, time.Now()); err != nil {
			return err
		}
		again, err = payments.TransitionStatus(ctx, tx, locked.ID, domain.PaymentFailed, time.Now())
		return err
	}))
	assert.True(t, moved)
	assert.False(t, again)

	stored, err := payments.FindByTransactionId(ctx, correlationID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, stored.ID)
	assert.Equal(t, domain.PaymentSucceeded, stored.Status)
}

func TestCatalogPricesOf(t *testing.T) {
	db := testutil.Postgres(t)
	catalog := NewCatalogRepo(db)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	require.NoError(t, catalog.UpsertProduct(ctx, Product{ID: a, Name: "A", Price: 500, Currency: "usd"}))
	require.NoError(t, catalog.UpsertProduct(ctx, Product{ID: b, Name: "B", Price: 300, Currency: "USD"}))
	require.NoError(t, catalog.UpsertProduct(ctx, Product{ID: b, Name: "B", Price: 350, Currency: "USD"}))

	prices, err := catalog.PricesOf(ctx, []uuid.UUID{a, b, uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]domain.Money{
		a: {Amount: 500, Currency: "USD"},
		b: {Amount: 350, Currency: "USD"},
	}, prices)
}
