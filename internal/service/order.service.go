package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"order-fulfillment/internal/domain"
	"order-fulfillment/internal/infrastructure/payment"
	"order-fulfillment/internal/observability"
	"order-fulfillment/internal/repo"
)

const defaultGatewayTimeout = 10 * time.Second

var tracer = observability.Tracer("order-fulfillment/internal/service")

// PriceLookup resolves unit prices for a batch of products.
type PriceLookup interface {
	PriceOf(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]int64, error)
}

type OrderServiceDeps struct {
	DB       *sql.DB
	Orders   repo.OrderRepo
	Payments repo.PaymentRepo
	Catalog  PriceLookup
	Loyalty  *LoyaltyService
	Gateway  payment.PaymentGateway

	Currency       string
	DefaultMethod  string
	GatewayTimeout time.Duration
	// EarnPercent of the amount paid is credited as points when a payment succeeds.
	EarnPercent int64

	Logger *zap.Logger
	Clock  func() time.Time
}

// OrderService coordinates pricing, loyalty, persistence and the payment gateway,
// and owns the order/payment state machine.
type OrderService struct {
	db             *sql.DB
	orders         repo.OrderRepo
	payments       repo.PaymentRepo
	catalog        PriceLookup
	loyalty        *LoyaltyService
	gateway        payment.PaymentGateway
	currency       string
	defaultMethod  string
	gatewayTimeout time.Duration
	earnPercent    int64
	logger         *zap.Logger
	now            func() time.Time
}

func NewOrderService(deps OrderServiceDeps) (*OrderService, error) {
	switch {
	case deps.DB == nil:
		return nil, errors.New("order service: db is required")
	case deps.Orders == nil || deps.Payments == nil:
		return nil, errors.New("order service: repositories are required")
	case deps.Catalog == nil:
		return nil, errors.New("order service: catalog is required")
	case deps.Loyalty == nil:
		return nil, errors.New("order service: loyalty service is required")
	case deps.Gateway == nil:
		return nil, errors.New("order service: payment gateway is required")
	case deps.EarnPercent < 0 || deps.EarnPercent > 100:
		return nil, fmt.Errorf("order service: earn percent %d out of range", deps.EarnPercent)
	}

	timeout := deps.GatewayTimeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	currency := domain.NormalizeCurrency(deps.Currency)
	if currency == "" {
		currency = "USD"
	}

	return &OrderService{
		db:             deps.DB,
		orders:         deps.Orders,
		payments:       deps.Payments,
		catalog:        deps.Catalog,
		loyalty:        deps.Loyalty,
		gateway:        deps.Gateway,
		currency:       currency,
		defaultMethod:  deps.DefaultMethod,
		gatewayTimeout: timeout,
		earnPercent:    deps.EarnPercent,
		logger:         logger,
		now:            func() time.Time { return clock().UTC() },
	}, nil
}

type CreateOrderResult struct {
	Order           domain.Order
	Payment         *domain.Payment
	Discount        *domain.DiscountPlan
	ConfirmationURL string
}

// CreateOrder prices the cart, optionally applies the loyalty discount, persists the
// order with its items, and creates the payment intent.
//
// On a *domain.GatewayError the returned result still carries the persisted pending
// order: the order is not rolled back and RetryPayment can pick it up.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (result CreateOrderResult, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.CreateOrder",
		trace.WithAttributes(attribute.String("user.id", req.UserID.String())))
	defer func() { endSpan(span, err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return CreateOrderResult{}, err
	}

	prices, err := s.catalog.PriceOf(ctx, productIDs(req.Items))
	if err != nil {
		return CreateOrderResult{}, err
	}
	cart, err := PriceCart(req.Items, prices)
	if err != nil {
		return CreateOrderResult{}, err
	}

	orderID := uuid.New()
	amountDue := cart.Total
	var plan *domain.DiscountPlan

	if req.UseLoyalty {
		computed, err := s.loyalty.ComputeDiscount(ctx, req.UserID, cart.Total)
		if err != nil {
			return CreateOrderResult{}, err
		}
		if computed.FinalAmount <= 0 {
			return CreateOrderResult{}, fmt.Errorf("%w: total %d, discount %d, points %d",
				domain.ErrZeroAmount, computed.OriginalAmount, computed.DiscountAmount, computed.PointsRedeemed)
		}
		// Points are spent here, before the order exists. A failure further down
		// leaves them spent; that window is logged as an alert below.
		committed, err := s.loyalty.CommitDiscount(ctx, req.UserID, computed, fmt.Sprintf("discount for order %s", orderID))
		if err != nil {
			return CreateOrderResult{}, err
		}
		plan = &committed
		amountDue = committed.FinalAmount
	}
	if amountDue <= 0 {
		return CreateOrderResult{}, fmt.Errorf("%w: total %d", domain.ErrZeroAmount, amountDue)
	}

	now := s.now()
	order := domain.Order{
		ID:         orderID,
		UserID:     req.UserID,
		AddressID:  req.AddressID,
		TotalPrice: cart.Total,
		Currency:   s.currency,
		Status:     domain.OrderPending,
		Delivery:   req.Delivery,
		Items:      cart.Items(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if plan != nil {
		order.DiscountAmount = plan.DiscountAmount
		order.PointsRedeemed = plan.PointsRedeemed
	}

	err = runInTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.orders.CreateOrderWithItems(ctx, tx, &order)
	})
	if err != nil {
		if plan != nil && plan.PointsRedeemed > 0 {
			s.logger.Error("loyalty.points_spent_without_order",
				observability.Alert(),
				zap.String("userId", req.UserID.String()),
				zap.String("orderId", orderID.String()),
				zap.Int64("points", plan.PointsRedeemed),
				zap.Error(err),
			)
		}
		return CreateOrderResult{}, fmt.Errorf("persist order: %w", err)
	}

	s.logger.Info("order.created",
		zap.String("orderId", order.ID.String()),
		zap.String("userId", order.UserID.String()),
		zap.Int64("total", order.TotalPrice),
		zap.Int64("amountDue", order.AmountDue()),
	)

	result = CreateOrderResult{Order: order, Discount: plan}
	method := req.PaymentMethod
	if method == "" {
		method = s.defaultMethod
	}
	p, url, err := s.initiatePayment(ctx, &order, method)
	if err != nil {
		return result, err
	}
	result.Payment = p
	result.ConfirmationURL = url
	return result, nil
}

// RetryPayment creates the payment intent for a pending order that has none yet.
// When a pending payment already exists it is returned unchanged.
func (s *OrderService) RetryPayment(ctx context.Context, orderID, userID uuid.UUID, method string) (result CreateOrderResult, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.RetryPayment",
		trace.WithAttributes(attribute.String("order.id", orderID.String())))
	defer func() { endSpan(span, err) }()

	order, err := s.ownedOrder(ctx, orderID, userID)
	if err != nil {
		return CreateOrderResult{}, err
	}
	if order.Status.IsTerminal() {
		return CreateOrderResult{}, domain.AlreadyProcessed("order", order.ID, string(order.Status))
	}
	result = CreateOrderResult{Order: *order}

	existing, err := s.payments.FindByOrderId(ctx, nil, order.ID)
	switch {
	case err == nil && existing.Status == domain.PaymentPending:
		result.Payment = existing
		return result, nil
	case err == nil:
		return CreateOrderResult{}, domain.AlreadyProcessed("payment", existing.ID, string(existing.Status))
	case !errors.Is(err, domain.ErrNotFound):
		return CreateOrderResult{}, err
	}

	if method == "" {
		method = s.defaultMethod
	}
	p, url, err := s.initiatePayment(ctx, order, method)
	if err != nil {
		return result, err
	}
	result.Payment = p
	result.ConfirmationURL = url
	return result, nil
}

// initiatePayment is the compensatable step: the order is already committed and is
// never rolled back from here. The order id is the idempotency key, so a retry after
// an unknown outcome yields the same remote intent.
func (s *OrderService) initiatePayment(ctx context.Context, order *domain.Order, method string) (*domain.Payment, string, error) {
	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	intent, err := s.gateway.CreatePaymentIntent(gctx, payment.IntentRequest{
		Amount:         order.AmountDue(),
		Currency:       order.Currency,
		Description:    fmt.Sprintf("Order %s (%s)", order.ID, order.Due()),
		Method:         method,
		IdempotencyKey: order.ID.String(),
		Metadata: map[string]string{
			"order_id": order.ID.String(),
			"user_id":  order.UserID.String(),
		},
	})
	if err != nil {
		gerr := s.gatewayError(order.ID, err)
		s.logger.Warn("payment.intent.failed",
			zap.String("orderId", order.ID.String()),
			zap.Bool("unknownOutcome", gerr.Unknown),
			zap.Error(err),
		)
		return nil, "", gerr
	}

	now := s.now()
	correlationID := intent.CorrelationID
	p := &domain.Payment{
		ID:            uuid.New(),
		UserID:        order.UserID,
		OrderID:       order.ID,
		Amount:        order.AmountDue(),
		Currency:      order.Currency,
		Status:        domain.PaymentPending,
		Method:        method,
		TransactionID: &correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = runInTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.payments.CreatePayment(ctx, tx, p)
	})
	if err != nil {
		// A concurrent retry may have recorded the same intent first.
		if existing, lookupErr := s.payments.FindByTransactionId(ctx, correlationID); lookupErr == nil {
			return existing, intent.ConfirmationURL, nil
		}
		s.logger.Error("payment.persist_failed",
			observability.Alert(),
			zap.String("orderId", order.ID.String()),
			zap.String("correlationId", correlationID),
			zap.Error(err),
		)
		return nil, "", &domain.GatewayError{
			OrderID:   order.ID,
			Reason:    "payment intent created but not recorded",
			Retryable: true,
			Err:       err,
		}
	}

	s.logger.Info("payment.intent.created",
		zap.String("orderId", order.ID.String()),
		zap.String("correlationId", correlationID),
		zap.Int64("amount", p.Amount),
	)
	return p, intent.ConfirmationURL, nil
}

func (s *OrderService) gatewayError(orderID uuid.UUID, err error) *domain.GatewayError {
	gerr := &domain.GatewayError{OrderID: orderID, Retryable: true, Err: err}
	var rejected *payment.RejectedError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		gerr.Unknown = true
	case errors.As(err, &rejected):
		gerr.Reason = rejected.Reason
		gerr.Retryable = false
	}
	return gerr
}

// CancelOrder moves the user's pending order to cancelled and cancels its pending payment.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (order domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.CancelOrder",
		trace.WithAttributes(attribute.String("order.id", orderID.String())))
	defer func() { endSpan(span, err) }()

	err = runInTx(ctx, s.db, func(tx *sql.Tx) error {
		locked, err := s.orders.FindByIdForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if locked.UserID != userID {
			return domain.NewNotFound("order", orderID)
		}
		if !locked.Status.CanTransition(domain.OrderCancelled) {
			return domain.AlreadyProcessed("order", orderID, string(locked.Status))
		}

		now := s.now()
		if _, err := s.orders.UpdateOrderStatus(ctx, tx, orderID, domain.OrderPending, domain.OrderCancelled, now); err != nil {
			return err
		}
		p, err := s.payments.FindByOrderId(ctx, tx, orderID)
		switch {
		case err == nil && p.Status.CanTransition(domain.PaymentCancelled):
			if _, err := s.payments.TransitionStatus(ctx, tx, p.ID, domain.PaymentCancelled, now); err != nil {
				return err
			}
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return err
		}

		locked.Status = domain.OrderCancelled
		locked.UpdatedAt = now
		order = *locked
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.logger.Info("order.cancelled", zap.String("orderId", orderID.String()))
	return order, nil
}

type ReconcileOutcome string

const (
	OutcomeApplied   ReconcileOutcome = "applied"
	OutcomeDuplicate ReconcileOutcome = "duplicate"
	OutcomeConflict  ReconcileOutcome = "conflict"
	OutcomeIgnored   ReconcileOutcome = "ignored"
	OutcomeUnmatched ReconcileOutcome = "unmatched"
)

type ReconcileResult struct {
	Outcome        ReconcileOutcome
	OrderID        uuid.UUID
	PaymentID      uuid.UUID
	OrderStatus    domain.OrderStatus
	PaymentStatus  domain.PaymentStatus
	PointsCredited int64
}

func targetPaymentStatus(remote payment.RemoteStatus) (domain.PaymentStatus, bool) {
	switch remote {
	case payment.RemoteSucceeded:
		return domain.PaymentSucceeded, true
	case payment.RemoteCanceled:
		return domain.PaymentCancelled, true
	case payment.RemoteFailed:
		return domain.PaymentFailed, true
	default:
		return "", false
	}
}

// ReconcileWebhook applies a gateway notification. It is safe under at-least-once
// delivery: the first terminal status wins, replays are reported as duplicates and
// never re-credit points. Unknown correlation ids are acknowledged, not failed.
func (s *OrderService) ReconcileWebhook(ctx context.Context, event payment.WebhookEvent) (result ReconcileResult, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.ReconcileWebhook",
		trace.WithAttributes(
			attribute.String("payment.correlation_id", event.CorrelationID),
			attribute.String("payment.remote_status", string(event.Status)),
		))
	defer func() {
		span.SetAttributes(attribute.String("reconcile.outcome", string(result.Outcome)))
		endSpan(span, err)
	}()

	log := s.logger.With(
		zap.String("correlationId", event.CorrelationID),
		zap.String("remoteStatus", string(event.Status)),
		zap.String("eventType", event.Type),
	)

	target, terminal := targetPaymentStatus(event.Status)
	if !terminal {
		log.Debug("webhook.ignored")
		return ReconcileResult{Outcome: OutcomeIgnored}, nil
	}

	found, err := s.payments.FindByTransactionId(ctx, event.CorrelationID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Error("webhook.unmatched", observability.Alert())
		return ReconcileResult{Outcome: OutcomeUnmatched}, nil
	}
	if err != nil {
		return ReconcileResult{}, err
	}

	err = runInTx(ctx, s.db, func(tx *sql.Tx) error {
		// Order row first, then payment row: the same lock order CancelOrder uses.
		order, err := s.orders.FindByIdForUpdate(ctx, tx, found.OrderID)
		if err != nil {
			return err
		}
		p, err := s.payments.LockByTransactionId(ctx, tx, event.CorrelationID)
		if err != nil {
			return err
		}
		result = ReconcileResult{
			OrderID:       order.ID,
			PaymentID:     p.ID,
			OrderStatus:   order.Status,
			PaymentStatus: p.Status,
		}

		if !p.Status.CanTransition(target) {
			if p.Status == target {
				result.Outcome = OutcomeDuplicate
				log.Info("webhook.duplicate", zap.String("orderId", order.ID.String()))
			} else {
				result.Outcome = OutcomeConflict
				log.Error("webhook.conflicting_status",
					observability.Alert(),
					zap.String("orderId", order.ID.String()),
					zap.String("recordedStatus", string(p.Status)),
				)
			}
			return nil
		}

		now := s.now()
		if _, err := s.payments.TransitionStatus(ctx, tx, p.ID, target, now); err != nil {
			return err
		}
		result.PaymentStatus = target
		result.Outcome = OutcomeApplied

		orderTarget := target.OrderStatus()
		if !order.Status.CanTransition(orderTarget) {
			if target == domain.PaymentSucceeded {
				log.Error("payment.succeeded_on_closed_order",
					observability.Alert(),
					zap.String("orderId", order.ID.String()),
					zap.String("orderStatus", string(order.Status)),
				)
			}
			return nil
		}

		if _, err := s.orders.UpdateOrderStatus(ctx, tx, order.ID, domain.OrderPending, orderTarget, now); err != nil {
			return err
		}
		result.OrderStatus = orderTarget

		if target == domain.PaymentSucceeded {
			points := domain.PercentOf(p.Amount, s.earnPercent)
			if points > 0 {
				if _, err := s.loyalty.addPointsTx(ctx, tx, order.UserID, points, fmt.Sprintf("order %s completed", order.ID)); err != nil {
					return err
				}
				result.PointsCredited = points
			}
		}
		return nil
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	if result.Outcome == OutcomeApplied {
		log.Info("webhook.applied",
			zap.String("orderId", result.OrderID.String()),
			zap.String("orderStatus", string(result.OrderStatus)),
			zap.Int64("pointsCredited", result.PointsCredited),
		)
	}
	return result, nil
}

// ConfirmPayment polls the gateway for the order's payment and reconciles the answer.
func (s *OrderService) ConfirmPayment(ctx context.Context, orderID uuid.UUID) (result ReconcileResult, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.ConfirmPayment",
		trace.WithAttributes(attribute.String("order.id", orderID.String())))
	defer func() { endSpan(span, err) }()

	order, err := s.orders.FindById(ctx, orderID)
	if err != nil {
		return ReconcileResult{}, err
	}
	if order.Status.IsTerminal() {
		return ReconcileResult{}, domain.AlreadyProcessed("order", order.ID, string(order.Status))
	}
	p, err := s.payments.FindByOrderId(ctx, nil, orderID)
	if err != nil {
		return ReconcileResult{}, err
	}
	correlationID := p.CorrelationID()
	if correlationID == "" {
		return ReconcileResult{}, domain.NewNotFound("payment intent", orderID)
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	remote, err := s.gateway.PaymentStatus(gctx, correlationID)
	if err != nil {
		return ReconcileResult{}, s.gatewayError(orderID, err)
	}

	return s.ReconcileWebhook(ctx, payment.WebhookEvent{
		Type:          "payment.confirm",
		CorrelationID: correlationID,
		Status:        remote,
	})
}

// AdmUpdateOrder re-prices a pending order and replaces its items. Loyalty is not touched.
func (s *OrderService) AdmUpdateOrder(ctx context.Context, req AdminUpdateOrderRequest) (order domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.AdmUpdateOrder",
		trace.WithAttributes(attribute.String("order.id", req.OrderID.String())))
	defer func() { endSpan(span, err) }()

	if err := req.Validate(); err != nil {
		return domain.Order{}, err
	}
	prices, err := s.catalog.PriceOf(ctx, productIDs(req.Items))
	if err != nil {
		return domain.Order{}, err
	}
	cart, err := PriceCart(req.Items, prices)
	if err != nil {
		return domain.Order{}, err
	}

	err = runInTx(ctx, s.db, func(tx *sql.Tx) error {
		locked, err := s.orders.FindByIdForUpdate(ctx, tx, req.OrderID)
		if err != nil {
			return err
		}
		if locked.Status.IsTerminal() {
			return domain.AlreadyProcessed("order", locked.ID, string(locked.Status))
		}

		locked.AddressID = req.AddressID
		locked.TotalPrice = cart.Total
		locked.Items = cart.Items()
		locked.UpdatedAt = s.now()
		if err := s.orders.UpdateOrder(ctx, tx, locked); err != nil {
			return err
		}

		if p, err := s.payments.FindByOrderId(ctx, tx, locked.ID); err == nil && p.Status == domain.PaymentPending && p.Amount != locked.AmountDue() {
			s.logger.Warn("order.admin_update.payment_amount_mismatch",
				zap.String("orderId", locked.ID.String()),
				zap.Int64("paymentAmount", p.Amount),
				zap.Int64("amountDue", locked.AmountDue()),
			)
		}
		order = *locked
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.logger.Info("order.admin_updated", zap.String("orderId", order.ID.String()), zap.Int64("total", order.TotalPrice))
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (domain.Order, error) {
	order, err := s.orders.FindById(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, userID uuid.UUID) ([]domain.Order, error) {
	return s.orders.FindByUser(ctx, userID)
}

func (s *OrderService) FindByPaymentCorrelationId(ctx context.Context, correlationID string) (domain.Order, error) {
	order, err := s.orders.FindByPaymentCorrelationId(ctx, correlationID)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

// PaymentForOrder returns the latest payment attempt, or a NotFoundError while the
// order is still awaiting its payment intent.
func (s *OrderService) PaymentForOrder(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	return s.payments.FindByOrderId(ctx, nil, orderID)
}

func (s *OrderService) ownedOrder(ctx context.Context, orderID, userID uuid.UUID) (*domain.Order, error) {
	order, err := s.orders.FindById(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, domain.NewNotFound("order", orderID)
	}
	return order, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
