package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"order-fulfillment/internal/domain"
	"order-fulfillment/internal/repo"
)

// CatalogService is the batched, read-only price lookup.
type CatalogService struct {
	catalog  repo.CatalogRepo
	currency string
}

func NewCatalogService(catalog repo.CatalogRepo, currency string) *CatalogService {
	return &CatalogService{catalog: catalog, currency: domain.NormalizeCurrency(currency)}
}

// PriceOf resolves every id in a single query. Any unresolved id fails the whole lookup.
func (s *CatalogService) PriceOf(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	unique := make([]uuid.UUID, 0, len(productIDs))
	seen := make(map[uuid.UUID]struct{}, len(productIDs))
	for _, id := range productIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	found, err := s.catalog.PricesOf(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}

	prices := make(map[uuid.UUID]int64, len(unique))
	for _, id := range unique {
		price, ok := found[id]
		if !ok {
			return nil, domain.NewNotFound("product", id)
		}
		if price.Currency != s.currency {
			return nil, &domain.ValidationError{Field: "items", Reason: fmt.Sprintf("product %s is priced in %s, store currency is %s", id, price.Currency, s.currency)}
		}
		prices[id] = price.Amount
	}
	return prices, nil
}
