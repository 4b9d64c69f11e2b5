package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"order-fulfillment/internal/config"
	"order-fulfillment/internal/database"
	"order-fulfillment/internal/infrastructure/payment"
	"order-fulfillment/internal/observability"
	"order-fulfillment/internal/repo"
	"order-fulfillment/internal/service"
	"order-fulfillment/internal/transport/httpapi"
	"order-fulfillment/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("fulfillment")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, cfg.Database, logger.Named("database"))
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("database close error", zap.Error(err))
		}
	}()
	if err := database.Migrate(ctx, db.DB()); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	gateway, err := newGateway(cfg.Payment, logger.Named("payments"))
	if err != nil {
		logger.Fatal("failed to initialise payment gateway", zap.Error(err))
	}

	orderRepo := repo.NewOrderRepo(db.DB())
	paymentRepo := repo.NewPaymentRepo(db.DB())
	loyaltyRepo := repo.NewLoyaltyRepo(db.DB())
	catalogRepo := repo.NewCatalogRepo(db.DB())

	loyaltyService := service.NewLoyaltyService(db.DB(), loyaltyRepo, cfg.Loyalty.Tiers, logger.Named("loyalty"))
	orderService, err := service.NewOrderService(service.OrderServiceDeps{
		DB:             db.DB(),
		Orders:         orderRepo,
		Payments:       paymentRepo,
		Catalog:        service.NewCatalogService(catalogRepo, cfg.Payment.Currency),
		Loyalty:        loyaltyService,
		Gateway:        gateway,
		Currency:       cfg.Payment.Currency,
		DefaultMethod:  cfg.Payment.DefaultMethod,
		GatewayTimeout: cfg.Payment.GatewayTimeout,
		EarnPercent:    cfg.Loyalty.EarnPercent,
		Logger:         logger.Named("orders"),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	reconciler := worker.NewReconciliationWorker(paymentRepo, orderRepo, gateway, orderService, worker.Config{
		Interval:   cfg.Reconcile.Interval,
		StaleAfter: cfg.Reconcile.StaleAfter,
		BatchSize:  cfg.Reconcile.BatchSize,
	}, logger.Named("reconciliation"))

	gin.SetMode(gin.ReleaseMode)
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Orders:         orderService,
		Loyalty:        loyaltyService,
		Health:         db,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		WebhookSecret:  cfg.Payment.StripeWebhookSecret,
		Logger:         logger.Named("http"),
	})
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http.listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return reconciler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("fulfillment stopped with error", zap.Error(err))
	}
}

func newGateway(cfg config.PaymentConfig, logger *zap.Logger) (payment.PaymentGateway, error) {
	switch cfg.Provider {
	case "stripe":
		return payment.NewStripeGateway(payment.StripeGatewayConfig{
			APIKey: cfg.StripeAPIKey,
			Logger: logger,
		})
	case "mock", "":
		logger.Warn("using mock payment gateway")
		return payment.NewMockGateway(), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}
