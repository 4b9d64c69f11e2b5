package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"order-fulfillment/internal/domain"
	"order-fulfillment/internal/infrastructure/payment"
	"order-fulfillment/internal/observability"
	"order-fulfillment/internal/service"
)

const (
	userHeader      = "X-User-ID"
	userKey         = "userID"
	maxWebhookBody  = 1 << 16
	stripeSigHeader = "Stripe-Signature"
)

// requireUser reads the caller identity. Authentication happens upstream.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.GetHeader(userHeader))
		if err != nil || id == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + userHeader})
			return
		}
		c.Set(userKey, id)
		c.Next()
	}
}

func userFrom(c *gin.Context) uuid.UUID {
	id, _ := c.Get(userKey)
	userID, _ := id.(uuid.UUID)
	return userID
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id", "field": "id"})
		return uuid.Nil, false
	}
	return id, true
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Minor    int64  `json:"minor"`
	Currency string `json:"currency"`
}

func toMoney(amount int64, currency string) moneyJSON {
	return moneyOf(domain.NewMoney(amount, currency))
}

func moneyOf(m domain.Money) moneyJSON {
	return moneyJSON{
		Amount:   m.Decimal().StringFixed(domain.MinorUnitExponent(m.Currency)),
		Minor:    m.Amount,
		Currency: m.Currency,
	}
}

type orderItemJSON struct {
	ID        uuid.UUID `json:"id"`
	ProductID uuid.UUID `json:"productId"`
	SizeID    uuid.UUID `json:"sizeId"`
	Quantity  int       `json:"quantity"`
	UnitPrice moneyJSON `json:"unitPrice"`
	LineTotal moneyJSON `json:"lineTotal"`
}

type orderJSON struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"userId"`
	AddressID      uuid.UUID       `json:"addressId"`
	Status         string          `json:"status"`
	Delivery       string          `json:"delivery,omitempty"`
	Total          moneyJSON       `json:"total"`
	Discount       moneyJSON       `json:"discount"`
	PointsRedeemed int64           `json:"pointsRedeemed"`
	AmountDue      moneyJSON       `json:"amountDue"`
	Items          []orderItemJSON `json:"items"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func toOrder(o domain.Order) orderJSON {
	items := make([]orderItemJSON, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemJSON{
			ID:        item.ID,
			ProductID: item.ProductID,
			SizeID:    item.SizeID,
			Quantity:  item.Quantity,
			UnitPrice: toMoney(item.Price, o.Currency),
			LineTotal: toMoney(item.LineTotal(), o.Currency),
		}
	}
	return orderJSON{
		ID:             o.ID,
		UserID:         o.UserID,
		AddressID:      o.AddressID,
		Status:         string(o.Status),
		Delivery:       o.Delivery,
		Total:          moneyOf(o.Total()),
		Discount:       toMoney(o.DiscountAmount, o.Currency),
		PointsRedeemed: o.PointsRedeemed,
		AmountDue:      moneyOf(o.Due()),
		Items:          items,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

type paymentJSON struct {
	ID            uuid.UUID `json:"id"`
	Status        string    `json:"status"`
	Method        string    `json:"method"`
	Amount        moneyJSON `json:"amount"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

func toCreateResponse(res service.CreateOrderResult) gin.H {
	body := gin.H{"order": toOrder(res.Order)}
	if res.Payment != nil {
		body["payment"] = paymentJSON{
			ID:            res.Payment.ID,
			Status:        string(res.Payment.Status),
			Method:        res.Payment.Method,
			Amount:        toMoney(res.Payment.Amount, res.Payment.Currency),
			CorrelationID: res.Payment.CorrelationID(),
		}
	}
	if res.ConfirmationURL != "" {
		body["confirmationUrl"] = res.ConfirmationURL
	}
	return body
}

func toReconcile(res service.ReconcileResult) gin.H {
	return gin.H{
		"outcome":        res.Outcome,
		"orderId":        res.OrderID,
		"orderStatus":    res.OrderStatus,
		"paymentStatus":  res.PaymentStatus,
		"pointsCredited": res.PointsCredited,
	}
}

type OrderHandler struct {
	orders OrderAPI
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	req.UserID = userFrom(c)

	res, err := h.orders.CreateOrder(c.Request.Context(), req)
	if err != nil {
		// A gateway failure still created the order; return it so the client can retry payment.
		var gerr *domain.GatewayError
		if errors.As(err, &gerr) && res.Order.ID != uuid.Nil {
			body := toCreateResponse(res)
			for k, v := range errorBody(err) {
				body[k] = v
			}
			_ = c.Error(err)
			c.JSON(http.StatusBadGateway, body)
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCreateResponse(res))
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err == nil && order.UserID != userFrom(c) {
		err = domain.NewNotFound("order", id)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrder(order))
}

func (h *OrderHandler) List(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), userFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]orderJSON, len(orders))
	for i, o := range orders {
		out[i] = toOrder(o)
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	order, err := h.orders.CancelOrder(c.Request.Context(), id, userFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrder(order))
}

func (h *OrderHandler) Confirm(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err == nil && order.UserID != userFrom(c) {
		err = domain.NewNotFound("order", id)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.orders.ConfirmPayment(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toReconcile(res))
}

type retryPaymentBody struct {
	PaymentMethod string `json:"paymentMethod"`
}

func (h *OrderHandler) RetryPayment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body retryPaymentBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
	}
	res, err := h.orders.RetryPayment(c.Request.Context(), id, userFrom(c), body.PaymentMethod)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCreateResponse(res))
}

func (h *OrderHandler) AdminUpdate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.AdminUpdateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	req.OrderID = id

	order, err := h.orders.AdmUpdateOrder(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrder(order))
}

type LoyaltyHandler struct {
	loyalty LoyaltyAPI
}

type loyaltyTransactionJSON struct {
	Points      int64     `json:"points"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (h *LoyaltyHandler) Me(c *gin.Context) {
	userID := userFrom(c)
	acc, err := h.loyalty.Account(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	txns, err := h.loyalty.Transactions(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]loyaltyTransactionJSON, len(txns))
	for i, t := range txns {
		out[i] = loyaltyTransactionJSON{
			Points:      t.Points,
			Type:        string(t.Kind),
			Description: t.Description,
			CreatedAt:   t.CreatedAt,
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"balance":      acc.Balance,
		"tier":         acc.Tier,
		"transactions": out,
	})
}

// WebhookHandler is the payment gateway's inbound notification endpoint. Gateways
// retry on non-2xx, so anything well-formed is acknowledged with 200.
type WebhookHandler struct {
	orders OrderAPI
	secret string
	logger *zap.Logger
}

func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if err := payment.VerifyStripeSignature(body, c.GetHeader(stripeSigHeader), h.secret); err != nil {
		h.logger.Warn("webhook.signature_rejected", observability.Alert(), zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	event, err := payment.DecodeWebhook(body)
	if err != nil {
		h.logger.Warn("webhook.malformed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.orders.ReconcileWebhook(c.Request.Context(), event)
	if err != nil {
		// 5xx makes the gateway redeliver; reconciliation is idempotent.
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": res.Outcome})
}
