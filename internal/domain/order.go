package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

// CanTransition allows only pending -> completed|cancelled.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	return s == OrderPending && to.IsTerminal()
}

type Order struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	AddressID uuid.UUID
	// TotalPrice is the sum of item price * quantity, captured at pricing time.
	TotalPrice     int64
	DiscountAmount int64
	PointsRedeemed int64
	Currency       string
	Status         OrderStatus
	Delivery       string
	Items          []OrderItem
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AmountDue is what the customer is charged after loyalty adjustments.
func (o *Order) AmountDue() int64 {
	return max(o.TotalPrice-o.DiscountAmount-o.PointsRedeemed, 0)
}

// CheckTotal holds the pricing invariant: TotalPrice is the sum of the item line totals.
func (o *Order) CheckTotal() error {
	if sum := SumItems(o.Items); sum != o.TotalPrice {
		return &ValidationError{Field: "totalPrice", Reason: fmt.Sprintf("total %d does not match items sum %d", o.TotalPrice, sum)}
	}
	return nil
}

func (o *Order) Total() Money {
	return NewMoney(o.TotalPrice, o.Currency)
}

func (o *Order) Due() Money {
	return NewMoney(o.AmountDue(), o.Currency)
}

// OrderItem snapshots the unit price at order time.
type OrderItem struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	ProductID uuid.UUID
	SizeID    uuid.UUID
	Quantity  int
	Price     int64
}

func (i OrderItem) LineTotal() int64 {
	return i.Price * int64(i.Quantity)
}

func SumItems(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.LineTotal()
	}
	return total
}
