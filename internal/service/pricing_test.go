package service

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-fulfillment/internal/domain"
	"order-fulfillment/internal/repo"
)

func TestPriceCartExample(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	cart, err := PriceCart([]LineItemRequest{
		{ProductID: a, SizeID: uuid.New(), Quantity: 2},
		{ProductID: b, SizeID: uuid.New(), Quantity: 1},
	}, map[uuid.UUID]int64{a: 500, b: 300})
	require.NoError(t, err)

	assert.Equal(t, int64(1300), cart.Total)
	require.Len(t, cart.Lines, 2)
	assert.Equal(t, int64(1000), cart.Lines[0].LineTotal)
	assert.Equal(t, int64(300), cart.Lines[1].LineTotal)

	items := cart.Items()
	assert.Equal(t, int64(500), items[0].Price)
	assert.Equal(t, cart.Total, domain.SumItems(items))
}

func TestPriceCartRandomCartsSumExactly(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for n := 0; n < 1000; n++ {
		lines := 1 + r.IntN(20)
		prices := make(map[uuid.UUID]int64, lines)
		items := make([]LineItemRequest, lines)
		var want int64
		for i := range items {
			id := uuid.New()
			price := r.Int64N(1_000_000)
			qty := 1 + r.IntN(50)
			prices[id] = price
			items[i] = LineItemRequest{ProductID: id, SizeID: uuid.New(), Quantity: qty}
			want += price * int64(qty)
		}

		cart, err := PriceCart(items, prices)
		require.NoError(t, err)
		require.Equal(t, want, cart.Total, "cart %d", n)
		require.Equal(t, want, domain.SumItems(cart.Items()))
	}
}

func TestPriceCartErrors(t *testing.T) {
	_, err := PriceCart(nil, nil)
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
	assert.ErrorIs(t, err, domain.ErrValidation)

	known, unknown := uuid.New(), uuid.New()
	_, err = PriceCart([]LineItemRequest{
		{ProductID: known, SizeID: uuid.New(), Quantity: 1},
		{ProductID: unknown, SizeID: uuid.New(), Quantity: 1},
	}, map[uuid.UUID]int64{known: 100})
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "product", nf.Kind)
	assert.Equal(t, unknown.String(), nf.ID)

	_, err = PriceCart([]LineItemRequest{{ProductID: known, Quantity: 0}}, map[uuid.UUID]int64{known: 100})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = PriceCart([]LineItemRequest{{ProductID: known, Quantity: 3}}, map[uuid.UUID]int64{known: math.MaxInt64 / 2})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateOrderRequestValidate(t *testing.T) {
	line := LineItemRequest{ProductID: uuid.New(), SizeID: uuid.New(), Quantity: 1}
	valid := CreateOrderRequest{UserID: uuid.New(), AddressID: uuid.New(), Items: []LineItemRequest{line}}
	require.NoError(t, valid.Validate())

	cases := map[string]func(r *CreateOrderRequest){
		"missing user":    func(r *CreateOrderRequest) { r.UserID = uuid.Nil },
		"missing address": func(r *CreateOrderRequest) { r.AddressID = uuid.Nil },
		"empty cart":      func(r *CreateOrderRequest) { r.Items = nil },
		"zero quantity": func(r *CreateOrderRequest) {
			r.Items = []LineItemRequest{{ProductID: line.ProductID, SizeID: line.SizeID}}
		},
		"duplicate product": func(r *CreateOrderRequest) { r.Items = []LineItemRequest{line, line} },
		"missing size": func(r *CreateOrderRequest) {
			r.Items = []LineItemRequest{{ProductID: line.ProductID, Quantity: 1}}
		},
		"long delivery": func(r *CreateOrderRequest) { r.Delivery = strings.Repeat("x", maxDeliveryLength+1) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := valid
			mutate(&req)
			assert.ErrorIs(t, req.Validate(), domain.ErrValidation)
		})
	}
}

func TestCreateOrderRequestNormalize(t *testing.T) {
	req := CreateOrderRequest{Delivery: "  " + strings.Repeat("x", maxDeliveryLength) + "\n", PaymentMethod: " bank_card "}
	req.Normalize()
	assert.Equal(t, strings.Repeat("x", maxDeliveryLength), req.Delivery)
	assert.Equal(t, "bank_card", req.PaymentMethod)
}

type fakeCatalog struct {
	prices map[uuid.UUID]domain.Money
	calls  int
}

func (f *fakeCatalog) PricesOf(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Money, error) {
	f.calls++
	out := make(map[uuid.UUID]domain.Money)
	for _, id := range ids {
		if p, ok := f.prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakeCatalog) UpsertProduct(context.Context, repo.Product) error {
	return errors.New("read-only")
}

func TestCatalogPriceOfBatches(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	catalog := &fakeCatalog{prices: map[uuid.UUID]domain.Money{
		a: domain.NewMoney(500, "USD"),
		b: domain.NewMoney(300, "USD"),
	}}
	svc := NewCatalogService(catalog, "usd")

	prices, err := svc.PriceOf(context.Background(), []uuid.UUID{a, b, a})
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]int64{a: 500, b: 300}, prices)
	assert.Equal(t, 1, catalog.calls)

	_, err = svc.PriceOf(context.Background(), []uuid.UUID{a, uuid.New()})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCatalogPriceOfRejectsForeignCurrency(t *testing.T) {
	a := uuid.New()
	svc := NewCatalogService(&fakeCatalog{prices: map[uuid.UUID]domain.Money{a: domain.NewMoney(500, "EUR")}}, "USD")

	_, err := svc.PriceOf(context.Background(), []uuid.UUID{a})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
