package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"order-fulfillment/internal/domain"
	"order-fulfillment/internal/infrastructure/payment"
	"order-fulfillment/internal/repo"
	"order-fulfillment/internal/testutil"
)

type fixture struct {
	db       *sql.DB
	orders   repo.OrderRepo
	payments repo.PaymentRepo
	catalog  repo.CatalogRepo
	loyalty  *LoyaltyService
	gateway  *payment.MockGateway
	svc      *OrderService
}

// testTiers puts 1000 points in a 10% tier so the loyalty scenarios use round numbers.
func testTiers(t *testing.T) domain.TierTable {
	t.Helper()
	tiers, err := domain.NewTierTable([]domain.Tier{
		{Name: "basic", MinPoints: 0, DiscountPercentage: 0},
		{Name: "gold", MinPoints: 1000, DiscountPercentage: 10},
	})
	require.NoError(t, err)
	return tiers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.Postgres(t)
	logger := zaptest.NewLogger(t)

	f := &fixture{
		db:       db,
		orders:   repo.NewOrderRepo(db),
		payments: repo.NewPaymentRepo(db),
		catalog:  repo.NewCatalogRepo(db),
		gateway:  payment.NewMockGateway(),
	}
	f.loyalty = NewLoyaltyService(db, repo.NewLoyaltyRepo(db), testTiers(t), logger)

	svc, err := NewOrderService(OrderServiceDeps{
		DB:            db,
		Orders:        f.orders,
		Payments:      f.payments,
		Catalog:       NewCatalogService(f.catalog, "USD"),
		Loyalty:       f.loyalty,
		Gateway:       f.gateway,
		Currency:      "USD",
		DefaultMethod: "bank_card",
		EarnPercent:   5,
		Logger:        logger,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) product(t *testing.T, price int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, f.catalog.UpsertProduct(context.Background(), repo.Product{
		ID: id, Name: "product " + id.String()[:8], Price: price, Currency: "USD",
	}))
	return id
}

// exampleCart is product A at 500 x2 plus product B at 300 x1.
func (f *fixture) exampleCart(t *testing.T) []LineItemRequest {
	t.Helper()
	return []LineItemRequest{
		{ProductID: f.product(t, 500), SizeID: uuid.New(), Quantity: 2},
		{ProductID: f.product(t, 300), SizeID: uuid.New(), Quantity: 1},
	}
}

func (f *fixture) createOrder(t *testing.T, userID uuid.UUID, useLoyalty bool) CreateOrderResult {
	t.Helper()
	res, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
		UserID:     userID,
		AddressID:  uuid.New(),
		UseLoyalty: useLoyalty,
		Items:      f.exampleCart(t),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Payment)
	return res
}

func (f *fixture) countRows(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRowContext(context.Background(), query, args...).Scan(&n))
	return n
}
