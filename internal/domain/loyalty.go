package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type LoyaltyTransactionKind string

const (
	LoyaltyEarn   LoyaltyTransactionKind = "earn"
	LoyaltyRedeem LoyaltyTransactionKind = "redeem"
)

// LoyaltyAccount.Balance is a projection of the user's transaction log,
// written in the same storage transaction as each log insert.
type LoyaltyAccount struct {
	UserID    uuid.UUID
	Balance   int64
	Tier      string
	UpdatedAt time.Time
}

// LoyaltyTransaction is append-only. Points is negative for redemptions.
type LoyaltyTransaction struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Points      int64
	Kind        LoyaltyTransactionKind
	Description string
	CreatedAt   time.Time
}

type Tier struct {
	Name               string
	MinPoints          int64
	DiscountPercentage int64
}

// TierTable is ordered by MinPoints ascending and always starts at 0.
type TierTable []Tier

func NewTierTable(tiers []Tier) (TierTable, error) {
	if len(tiers) == 0 {
		return nil, &ValidationError{Field: "tiers", Reason: "at least one tier is required"}
	}
	out := make(TierTable, len(tiers))
	copy(out, tiers)
	sort.SliceStable(out, func(i, j int) bool { return out[i].MinPoints < out[j].MinPoints })

	seen := make(map[string]struct{}, len(out))
	for i, tier := range out {
		name := strings.TrimSpace(tier.Name)
		if name == "" {
			return nil, &ValidationError{Field: "tiers", Reason: fmt.Sprintf("tier %d has no name", i)}
		}
		if _, dup := seen[name]; dup {
			return nil, &ValidationError{Field: "tiers", Reason: fmt.Sprintf("duplicate tier %q", name)}
		}
		seen[name] = struct{}{}
		if tier.DiscountPercentage < 0 || tier.DiscountPercentage > 100 {
			return nil, &ValidationError{Field: "tiers", Reason: fmt.Sprintf("tier %q discount out of range", name)}
		}
		if i > 0 && tier.MinPoints == out[i-1].MinPoints {
			return nil, &ValidationError{Field: "tiers", Reason: fmt.Sprintf("tiers %q and %q share min points", out[i-1].Name, name)}
		}
		out[i].Name = name
	}
	if out[0].MinPoints != 0 {
		return nil, &ValidationError{Field: "tiers", Reason: "lowest tier must start at 0 points"}
	}
	return out, nil
}

// Resolve returns the highest tier whose MinPoints <= balance.
func (t TierTable) Resolve(balance int64) Tier {
	idx := sort.Search(len(t), func(i int) bool { return t[i].MinPoints > balance })
	if idx == 0 {
		return t[0]
	}
	return t[idx-1]
}

// ByName falls back to the base tier for unknown names, e.g. after a tier was retired.
func (t TierTable) ByName(name string) Tier {
	for _, tier := range t {
		if tier.Name == name {
			return tier
		}
	}
	return t[0]
}

// PercentOf returns floor(amount * pct / 100) for amount >= 0 and pct in [0, 100]
// without overflowing, whatever the size of amount.
func PercentOf(amount, pct int64) int64 {
	return amount/100*pct + amount%100*pct/100
}

// DiscountPlan is the outcome of a loyalty discount before (or after) points are spent.
type DiscountPlan struct {
	OriginalAmount     int64
	DiscountPercentage int64
	DiscountAmount     int64
	PointsRedeemed     int64
	FinalAmount        int64
}

// ComputeDiscount is the pure discount arithmetic. Points are valued 1:1 with
// the currency minor unit and up to the full amount may be redeemed.
func ComputeDiscount(balance int64, tier Tier, amount int64) DiscountPlan {
	discount := PercentOf(amount, tier.DiscountPercentage)
	points := min(max(balance, 0), amount)
	return DiscountPlan{
		OriginalAmount:     amount,
		DiscountPercentage: tier.DiscountPercentage,
		DiscountAmount:     discount,
		PointsRedeemed:     points,
		FinalAmount:        max(amount-discount-points, 0),
	}
}

// WithoutPoints drops the redemption part of the plan, keeping the tier discount.
func (p DiscountPlan) WithoutPoints() DiscountPlan {
	p.PointsRedeemed = 0
	p.FinalAmount = max(p.OriginalAmount-p.DiscountAmount, 0)
	return p
}
