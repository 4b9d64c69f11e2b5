package service

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"order-fulfillment/internal/domain"
)

const (
	maxCartLines      = 100
	maxDeliveryLength = 64
)

type LineItemRequest struct {
	ProductID uuid.UUID `json:"productId"`
	SizeID    uuid.UUID `json:"sizeId"`
	Quantity  int       `json:"quantity"`
}

type CreateOrderRequest struct {
	UserID        uuid.UUID         `json:"-"`
	AddressID     uuid.UUID         `json:"addressId"`
	Delivery      string            `json:"delivery"`
	PaymentMethod string            `json:"paymentMethod"`
	UseLoyalty    bool              `json:"useLoyalty"`
	Items         []LineItemRequest `json:"items"`
}

// Normalize trims free-text fields so the stored values are the validated ones.
func (r *CreateOrderRequest) Normalize() {
	r.Delivery = strings.TrimSpace(r.Delivery)
	r.PaymentMethod = strings.TrimSpace(r.PaymentMethod)
}

func (r CreateOrderRequest) Validate() error {
	if r.UserID == uuid.Nil {
		return &domain.ValidationError{Field: "userId", Reason: "required"}
	}
	if r.AddressID == uuid.Nil {
		return &domain.ValidationError{Field: "addressId", Reason: "required"}
	}
	if len(r.Delivery) > maxDeliveryLength {
		return &domain.ValidationError{Field: "delivery", Reason: fmt.Sprintf("longer than %d characters", maxDeliveryLength)}
	}
	return validateLines(r.Items)
}

type AdminUpdateOrderRequest struct {
	OrderID   uuid.UUID         `json:"-"`
	AddressID uuid.UUID         `json:"addressId"`
	Items     []LineItemRequest `json:"items"`
}

func (r AdminUpdateOrderRequest) Validate() error {
	if r.OrderID == uuid.Nil {
		return &domain.ValidationError{Field: "orderId", Reason: "required"}
	}
	if r.AddressID == uuid.Nil {
		return &domain.ValidationError{Field: "addressId", Reason: "required"}
	}
	return validateLines(r.Items)
}

// Items are keyed by (order, product), so one product may appear only once per cart.
func validateLines(items []LineItemRequest) error {
	if len(items) == 0 {
		return domain.ErrEmptyCart
	}
	if len(items) > maxCartLines {
		return &domain.ValidationError{Field: "items", Reason: fmt.Sprintf("more than %d lines", maxCartLines)}
	}
	seen := make(map[uuid.UUID]struct{}, len(items))
	for i, item := range items {
		if item.ProductID == uuid.Nil {
			return &domain.ValidationError{Field: fmt.Sprintf("items[%d].productId", i), Reason: "required"}
		}
		if item.SizeID == uuid.Nil {
			return &domain.ValidationError{Field: fmt.Sprintf("items[%d].sizeId", i), Reason: "required"}
		}
		if item.Quantity < 1 {
			return &domain.ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: "must be at least 1"}
		}
		if _, dup := seen[item.ProductID]; dup {
			return &domain.ValidationError{Field: fmt.Sprintf("items[%d].productId", i), Reason: "duplicate product"}
		}
		seen[item.ProductID] = struct{}{}
	}
	return nil
}

func productIDs(items []LineItemRequest) []uuid.UUID {
	ids := make([]uuid.UUID, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}
	return ids
}
