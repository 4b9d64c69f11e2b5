package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"order-fulfillment/internal/config"
	"order-fulfillment/internal/database"
	"order-fulfillment/internal/domain"
	"order-fulfillment/internal/infrastructure/payment"
	"order-fulfillment/internal/observability"
	"order-fulfillment/internal/repo"
	"order-fulfillment/internal/service"
	"order-fulfillment/internal/worker"
)

const (
	simulatedOrders = 20
	gatewayTimeout  = 150 * time.Millisecond
	slowGateway     = 400 * time.Millisecond
)

var catalogNamespace = uuid.MustParse("6f1c1d2e-8a53-4a57-9a0e-3b1f0c6a2d11")

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer db.Close()
	if err := database.Migrate(ctx, db.DB()); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	catalogRepo := repo.NewCatalogRepo(db.DB())
	orderRepo := repo.NewOrderRepo(db.DB())
	paymentRepo := repo.NewPaymentRepo(db.DB())
	loyaltyRepo := repo.NewLoyaltyRepo(db.DB())

	products, err := seedCatalog(ctx, catalogRepo, cfg.Payment.Currency)
	if err != nil {
		logger.Fatal("seed catalog", zap.Error(err))
	}

	gateway := payment.NewMockGateway(payment.WithChaos(slowGateway))
	loyaltyService := service.NewLoyaltyService(db.DB(), loyaltyRepo, cfg.Loyalty.Tiers, logger)
	orderService, err := service.NewOrderService(service.OrderServiceDeps{
		DB:             db.DB(),
		Orders:         orderRepo,
		Payments:       paymentRepo,
		Catalog:        service.NewCatalogService(catalogRepo, cfg.Payment.Currency),
		Loyalty:        loyaltyService,
		Gateway:        gateway,
		Currency:       cfg.Payment.Currency,
		DefaultMethod:  cfg.Payment.DefaultMethod,
		GatewayTimeout: gatewayTimeout,
		EarnPercent:    cfg.Loyalty.EarnPercent,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("order service", zap.Error(err))
	}

	userID := uuid.New()
	if _, err := loyaltyService.AddPoints(ctx, userID, 500, "welcome bonus"); err != nil {
		logger.Fatal("seed loyalty", zap.Error(err))
	}

	fmt.Printf("--- STARTING SIMULATION (%d ORDERS) ---\n", simulatedOrders)
	var unpaid []uuid.UUID
	for i := 0; i < simulatedOrders; i++ {
		req := service.CreateOrderRequest{
			UserID:     userID,
			AddressID:  uuid.New(),
			UseLoyalty: i%4 == 0,
			Items:      randomCart(products),
		}

		res, err := orderService.CreateOrder(ctx, req)
		var gerr *domain.GatewayError
		switch {
		case errors.As(err, &gerr):
			fmt.Printf("[%02d] order %s PENDING, payment failed (unknown outcome=%v): %v\n", i+1, res.Order.ID, gerr.Unknown, err)
			unpaid = append(unpaid, res.Order.ID)
			continue
		case err != nil:
			fmt.Printf("[%02d] rejected: %v\n", i+1, err)
			continue
		}
		fmt.Printf("[%02d] order %s due %s, intent %s\n", i+1, res.Order.ID, res.Order.Due(), res.Payment.CorrelationID())

		// The customer finishes (or abandons) checkout; the gateway then notifies us, twice.
		outcome := payment.RemoteSucceeded
		if rand.IntN(5) == 0 {
			outcome = payment.RemoteFailed
		}
		if err := gateway.Settle(res.Payment.CorrelationID(), outcome); err != nil {
			logger.Fatal("settle", zap.Error(err))
		}
		for attempt := 1; attempt <= 2; attempt++ {
			rec, err := orderService.ReconcileWebhook(ctx, payment.WebhookEvent{
				Type:          "payment.updated",
				CorrelationID: res.Payment.CorrelationID(),
				Status:        outcome,
			})
			if err != nil {
				fmt.Printf("    webhook #%d failed: %v\n", attempt, err)
				continue
			}
			fmt.Printf("    webhook #%d -> %s (order %s, +%d points)\n", attempt, rec.Outcome, rec.OrderStatus, rec.PointsCredited)
		}
	}

	fmt.Printf("--- RETRYING %d UNPAID ORDERS (webhooks lost) ---\n", len(unpaid))
	for _, orderID := range unpaid {
		res, err := orderService.RetryPayment(ctx, orderID, userID, "")
		if err != nil {
			fmt.Printf("    order %s still unpaid: %v\n", orderID, err)
			continue
		}
		_ = gateway.Settle(res.Payment.CorrelationID(), payment.RemoteSucceeded)
		fmt.Printf("    order %s intent %s settled remotely\n", orderID, res.Payment.CorrelationID())
	}

	rw := worker.NewReconciliationWorker(paymentRepo, orderRepo, gateway, orderService, worker.Config{
		StaleAfter: time.Nanosecond,
		BatchSize:  cfg.Reconcile.BatchSize,
	}, logger)
	report, err := rw.RunOnce(ctx)
	if err != nil {
		logger.Fatal("reconciliation", zap.Error(err))
	}
	fmt.Printf("--- RECONCILIATION: checked=%d applied=%d pending=%d failed=%d awaitingIntent=%d recovered=%d ---\n",
		report.Checked, report.Applied, report.StillPending, report.Failed, report.AwaitingIntent, report.IntentsRecovered)

	orders, err := orderService.ListOrders(ctx, userID)
	if err != nil {
		logger.Fatal("list orders", zap.Error(err))
	}
	counts := map[domain.OrderStatus]int{}
	for _, o := range orders {
		counts[o.Status]++
	}
	acc, _ := loyaltyService.Account(ctx, userID)
	fmt.Printf("orders: completed=%d cancelled=%d pending=%d\n", counts[domain.OrderCompleted], counts[domain.OrderCancelled], counts[domain.OrderPending])
	fmt.Printf("loyalty: balance=%d tier=%s\n", acc.Balance, acc.Tier)
	if err := loyaltyService.VerifyLedger(ctx, userID); err != nil {
		fmt.Printf("LEDGER MISMATCH: %v\n", err)
		os.Exit(1)
	}
}

func seedCatalog(ctx context.Context, catalog repo.CatalogRepo, currency string) ([]repo.Product, error) {
	seed := []struct{ name, price string }{
		{"Classic Tee", "15.00"},
		{"Hoodie", "42.00"},
		{"Cap", "9.00"},
		{"Socks (3-pack)", "6.50"},
	}
	products := make([]repo.Product, len(seed))
	for i, item := range seed {
		price, err := domain.ParseMoney(item.price, currency)
		if err != nil {
			return nil, fmt.Errorf("seed %s: %w", item.name, err)
		}
		products[i] = repo.Product{
			ID:       uuid.NewSHA1(catalogNamespace, []byte(item.name)),
			Name:     item.name,
			Price:    price.Amount,
			Currency: price.Currency,
		}
		if err := catalog.UpsertProduct(ctx, products[i]); err != nil {
			return nil, err
		}
	}
	return products, nil
}

func randomCart(products []repo.Product) []service.LineItemRequest {
	n := 1 + rand.IntN(len(products))
	picked := rand.Perm(len(products))[:n]
	items := make([]service.LineItemRequest, n)
	for i, idx := range picked {
		items[i] = service.LineItemRequest{
			ProductID: products[idx].ID,
			SizeID:    uuid.New(),
			Quantity:  1 + rand.IntN(3),
		}
	}
	return items
}
