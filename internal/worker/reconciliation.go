package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"order-fulfillment/internal/domain"
	"order-fulfillment/internal/infrastructure/payment"
	"order-fulfillment/internal/observability"
	"order-fulfillment/internal/service"
)

const (
	defaultInterval    = 30 * time.Second
	defaultStaleAfter  = time.Minute
	defaultBatchSize   = 100
	defaultConcurrency = 4
	statusCheckTimeout = 10 * time.Second
)

// PendingPayments lists payments that have waited too long for a webhook.
type PendingPayments interface {
	FindPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error)
}

// StalledOrders lists pending orders that never got a payment intent.
type StalledOrders interface {
	FindAwaitingPayment(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
}

// Reconciler is the orchestrator surface the worker drives. RetryPayment reuses the
// order id as idempotency key, so it recovers an intent a timed-out call already created.
type Reconciler interface {
	ReconcileWebhook(ctx context.Context, event payment.WebhookEvent) (service.ReconcileResult, error)
	RetryPayment(ctx context.Context, orderID, userID uuid.UUID, method string) (service.CreateOrderResult, error)
}

type Config struct {
	Interval    time.Duration
	StaleAfter  time.Duration
	BatchSize   int
	Concurrency int
}

// Report summarises one sweep.
type Report struct {
	Checked        int
	Applied        int
	StillPending   int
	Failed         int
	AwaitingIntent int
	// IntentsRecovered counts awaiting orders that now have a persisted payment.
	IntentsRecovered int
}

// ReconciliationWorker asks the gateway about payments whose webhook never arrived
// and feeds the answers through the same path webhooks take.
type ReconciliationWorker struct {
	payments   PendingPayments
	orders     StalledOrders
	gateway    payment.PaymentGateway
	reconciler Reconciler
	logger     *zap.Logger
	cfg        Config
	now        func() time.Time
}

func NewReconciliationWorker(
	payments PendingPayments,
	orders StalledOrders,
	gateway payment.PaymentGateway,
	reconciler Reconciler,
	cfg Config,
	logger *zap.Logger,
) *ReconciliationWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationWorker{
		payments:   payments,
		orders:     orders,
		gateway:    gateway,
		reconciler: reconciler,
		logger:     logger,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (rw *ReconciliationWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(rw.cfg.Interval)
	defer ticker.Stop()

	rw.logger.Info("reconciliation.started", zap.Duration("interval", rw.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("reconciliation.stopped")
			return nil
		case <-ticker.C:
			if _, err := rw.RunOnce(ctx); err != nil && ctx.Err() == nil {
				rw.logger.Error("reconciliation.failed", zap.Error(err))
			}
		}
	}
}

func (rw *ReconciliationWorker) RunOnce(ctx context.Context) (Report, error) {
	cutoff := rw.now().Add(-rw.cfg.StaleAfter)

	pending, err := rw.payments.FindPendingBefore(ctx, cutoff, rw.cfg.BatchSize)
	if err != nil {
		return Report{}, err
	}

	var (
		mu     sync.Mutex
		report = Report{Checked: len(pending)}
	)
	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rw.cfg.Concurrency)
	for _, p := range pending {
		g.Go(func() error {
			log := rw.logger.With(
				zap.String("paymentId", p.ID.String()),
				zap.String("orderId", p.OrderID.String()),
				zap.String("correlationId", p.CorrelationID()),
			)

			cctx, cancel := context.WithTimeout(gctx, statusCheckTimeout)
			status, err := rw.gateway.PaymentStatus(cctx, p.CorrelationID())
			cancel()
			if err != nil {
				log.Warn("reconciliation.status_check_failed", zap.Error(err))
				count(&report.Failed)
				return nil
			}
			if !status.IsTerminal() {
				count(&report.StillPending)
				return nil
			}

			result, err := rw.reconciler.ReconcileWebhook(gctx, payment.WebhookEvent{
				Type:          "reconciliation.poll",
				CorrelationID: p.CorrelationID(),
				Status:        status,
			})
			if err != nil {
				log.Error("reconciliation.apply_failed", zap.Error(err))
				count(&report.Failed)
				return nil
			}
			if result.Outcome == service.OutcomeApplied {
				log.Info("reconciliation.recovered_missed_webhook", zap.String("status", string(status)))
				count(&report.Applied)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	stalled, err := rw.orders.FindAwaitingPayment(ctx, cutoff, rw.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	for _, order := range stalled {
		log := rw.logger.With(
			zap.String("orderId", order.ID.String()),
			zap.Time("createdAt", order.CreatedAt),
		)
		res, err := rw.reconciler.RetryPayment(ctx, order.ID, order.UserID, "")
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			log.Warn("reconciliation.order_without_payment", observability.Alert(), zap.Error(err))
			report.Failed++
			continue
		}
		report.IntentsRecovered++
		log.Info("reconciliation.recovered_payment_intent", zap.String("correlationId", correlationOf(res)))
	}
	report.AwaitingIntent = len(stalled)

	if report.Checked > 0 || report.AwaitingIntent > 0 {
		rw.logger.Info("reconciliation.sweep",
			zap.Int("checked", report.Checked),
			zap.Int("applied", report.Applied),
			zap.Int("stillPending", report.StillPending),
			zap.Int("failed", report.Failed),
			zap.Int("awaitingIntent", report.AwaitingIntent),
			zap.Int("intentsRecovered", report.IntentsRecovered),
		)
	}
	return report, nil
}

func correlationOf(res service.CreateOrderResult) string {
	if res.Payment == nil {
		return ""
	}
	return res.Payment.CorrelationID()
}
