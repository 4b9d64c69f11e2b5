package service

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"order-fulfillment/internal/domain"
)

type PricedLine struct {
	ProductID uuid.UUID
	SizeID    uuid.UUID
	Quantity  int
	UnitPrice int64
	LineTotal int64
}

type PricedCart struct {
	Lines []PricedLine
	Total int64
}

// Items converts the priced lines into order item snapshots.
func (c PricedCart) Items() []domain.OrderItem {
	items := make([]domain.OrderItem, len(c.Lines))
	for i, line := range c.Lines {
		items[i] = domain.OrderItem{
			ProductID: line.ProductID,
			SizeID:    line.SizeID,
			Quantity:  line.Quantity,
			Price:     line.UnitPrice,
		}
	}
	return items
}

// PriceCart is pure: total = Σ unitPrice * quantity in integer minor units.
func PriceCart(items []LineItemRequest, unitPrices map[uuid.UUID]int64) (PricedCart, error) {
	if len(items) == 0 {
		return PricedCart{}, domain.ErrEmptyCart
	}

	cart := PricedCart{Lines: make([]PricedLine, 0, len(items))}
	for _, item := range items {
		unit, ok := unitPrices[item.ProductID]
		if !ok {
			return PricedCart{}, domain.NewNotFound("product", item.ProductID)
		}
		if item.Quantity < 1 {
			return PricedCart{}, &domain.ValidationError{Field: "quantity", Reason: fmt.Sprintf("product %s: quantity must be at least 1", item.ProductID)}
		}
		if unit < 0 {
			return PricedCart{}, &domain.ValidationError{Field: "price", Reason: fmt.Sprintf("product %s has a negative price", item.ProductID)}
		}
		if unit > 0 && int64(item.Quantity) > math.MaxInt64/unit {
			return PricedCart{}, &domain.ValidationError{Field: "quantity", Reason: fmt.Sprintf("product %s: line total overflows", item.ProductID)}
		}
		line := unit * int64(item.Quantity)
		if cart.Total > math.MaxInt64-line {
			return PricedCart{}, &domain.ValidationError{Field: "items", Reason: "order total overflows"}
		}
		cart.Total += line
		cart.Lines = append(cart.Lines, PricedLine{
			ProductID: item.ProductID,
			SizeID:    item.SizeID,
			Quantity:  item.Quantity,
			UnitPrice: unit,
			LineTotal: line,
		})
	}
	return cart, nil
}
