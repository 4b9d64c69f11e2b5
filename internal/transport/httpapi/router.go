package httpapi

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"order-fulfillment/internal/domain"
	"order-fulfillment/internal/infrastructure/payment"
	"order-fulfillment/internal/observability"
	"order-fulfillment/internal/service"
)

// OrderAPI is the slice of *service.OrderService the HTTP surface drives.
type OrderAPI interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (service.CreateOrderResult, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (domain.Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID) ([]domain.Order, error)
	CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (domain.Order, error)
	ConfirmPayment(ctx context.Context, orderID uuid.UUID) (service.ReconcileResult, error)
	RetryPayment(ctx context.Context, orderID, userID uuid.UUID, method string) (service.CreateOrderResult, error)
	AdmUpdateOrder(ctx context.Context, req service.AdminUpdateOrderRequest) (domain.Order, error)
	ReconcileWebhook(ctx context.Context, event payment.WebhookEvent) (service.ReconcileResult, error)
}

type LoyaltyAPI interface {
	Account(ctx context.Context, userID uuid.UUID) (domain.LoyaltyAccount, error)
	Transactions(ctx context.Context, userID uuid.UUID) ([]domain.LoyaltyTransaction, error)
}

type HealthChecker interface {
	Health() map[string]string
}

type RouterConfig struct {
	Orders         OrderAPI
	Loyalty        LoyaltyAPI
	Health         HealthChecker
	AllowedOrigins []string
	WebhookSecret  string
	Logger         *zap.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), observability.GinLogger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	orders := &OrderHandler{orders: cfg.Orders}
	loyalty := &LoyaltyHandler{loyalty: cfg.Loyalty}
	webhooks := &WebhookHandler{orders: cfg.Orders, secret: cfg.WebhookSecret, logger: logger}

	r.GET("/health", func(c *gin.Context) {
		if cfg.Health == nil {
			c.JSON(200, gin.H{"status": "up"})
			return
		}
		stats := cfg.Health.Health()
		status := 200
		if stats["status"] != "up" {
			status = 503
		}
		c.JSON(status, stats)
	})

	customer := r.Group("/", requireUser())
	customer.POST("/orders", orders.Create)
	customer.GET("/orders", orders.List)
	customer.GET("/orders/:id", orders.Get)
	customer.POST("/orders/:id/cancel", orders.Cancel)
	customer.POST("/orders/:id/confirm", orders.Confirm)
	customer.POST("/orders/:id/payment", orders.RetryPayment)
	customer.GET("/loyalty/me", loyalty.Me)

	r.PUT("/admin/orders/:id", orders.AdminUpdate)
	r.POST("/webhooks/payments", webhooks.Receive)

	return r
}
