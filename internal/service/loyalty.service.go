package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"order-fulfillment/internal/domain"
	"order-fulfillment/internal/observability"
	"order-fulfillment/internal/repo"
)

// LoyaltyService owns the point ledger. Every balance change happens inside a
// transaction holding the user's account row lock.
type LoyaltyService struct {
	db     *sql.DB
	repo   repo.LoyaltyRepo
	tiers  domain.TierTable
	logger *zap.Logger
	now    func() time.Time
}

func NewLoyaltyService(db *sql.DB, loyaltyRepo repo.LoyaltyRepo, tiers domain.TierTable, logger *zap.Logger) *LoyaltyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoyaltyService{
		db:     db,
		repo:   loyaltyRepo,
		tiers:  tiers,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *LoyaltyService) baseTier() string {
	return s.tiers[0].Name
}

// AddPoints credits points and promotes the tier when the new balance crosses a threshold.
func (s *LoyaltyService) AddPoints(ctx context.Context, userID uuid.UUID, points int64, reason string) (domain.LoyaltyAccount, error) {
	var acc domain.LoyaltyAccount
	err := runInTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		acc, err = s.addPointsTx(ctx, tx, userID, points, reason)
		return err
	})
	return acc, err
}

// addPointsTx lets callers make the credit part of a larger transaction.
func (s *LoyaltyService) addPointsTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, points int64, reason string) (domain.LoyaltyAccount, error) {
	if points <= 0 {
		return domain.LoyaltyAccount{}, &domain.ValidationError{Field: "points", Reason: "must be positive"}
	}
	acc, err := s.repo.LockAccount(ctx, tx, userID, s.baseTier())
	if err != nil {
		return domain.LoyaltyAccount{}, err
	}

	now := s.now()
	balance, err := s.repo.AppendTransaction(ctx, tx, &domain.LoyaltyTransaction{
		UserID:      userID,
		Points:      points,
		Kind:        domain.LoyaltyEarn,
		Description: reason,
		CreatedAt:   now,
	})
	if err != nil {
		return domain.LoyaltyAccount{}, err
	}
	acc.Balance = balance
	acc.UpdatedAt = now

	if tier := s.tiers.Resolve(balance); tier.Name != acc.Tier {
		if err := s.repo.UpdateTier(ctx, tx, userID, tier.Name, now); err != nil {
			return domain.LoyaltyAccount{}, err
		}
		s.logger.Info("loyalty.tier.changed",
			zap.String("userId", userID.String()),
			zap.String("from", acc.Tier),
			zap.String("to", tier.Name),
		)
		acc.Tier = tier.Name
	}
	return *acc, nil
}

// RedeemPoints spends points. It fails closed: when points exceed the balance it
// returns false and writes nothing.
func (s *LoyaltyService) RedeemPoints(ctx context.Context, userID uuid.UUID, points int64, reason string) (bool, error) {
	if points <= 0 {
		return false, &domain.ValidationError{Field: "points", Reason: "must be positive"}
	}

	err := runInTx(ctx, s.db, func(tx *sql.Tx) error {
		acc, err := s.repo.LockAccount(ctx, tx, userID, s.baseTier())
		if err != nil {
			return err
		}
		if points > acc.Balance {
			return fmt.Errorf("%w: have %d, need %d", domain.ErrInsufficientPoints, acc.Balance, points)
		}
		_, err = s.repo.AppendTransaction(ctx, tx, &domain.LoyaltyTransaction{
			UserID:      userID,
			Points:      -points,
			Kind:        domain.LoyaltyRedeem,
			Description: reason,
			CreatedAt:   s.now(),
		})
		return err
	})
	if errors.Is(err, domain.ErrInsufficientPoints) {
		s.logger.Info("loyalty.redeem.insufficient", zap.String("userId", userID.String()), zap.Int64("points", points))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Account returns the user's account; users who never earned points get an empty base-tier account.
func (s *LoyaltyService) Account(ctx context.Context, userID uuid.UUID) (domain.LoyaltyAccount, error) {
	acc, err := s.repo.FindAccount(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.LoyaltyAccount{UserID: userID, Tier: s.baseTier()}, nil
	}
	if err != nil {
		return domain.LoyaltyAccount{}, err
	}
	return *acc, nil
}

func (s *LoyaltyService) Transactions(ctx context.Context, userID uuid.UUID) ([]domain.LoyaltyTransaction, error) {
	return s.repo.ListTransactions(ctx, userID)
}

// ComputeDiscount reads the balance and tier and plans the discount without spending anything.
func (s *LoyaltyService) ComputeDiscount(ctx context.Context, userID uuid.UUID, amount int64) (domain.DiscountPlan, error) {
	acc, err := s.Account(ctx, userID)
	if err != nil {
		return domain.DiscountPlan{}, err
	}
	return domain.ComputeDiscount(acc.Balance, s.tiers.ByName(acc.Tier), amount), nil
}

// CommitDiscount spends the plan's points. If the balance no longer covers them,
// redemption is skipped and the returned plan carries only the tier discount.
func (s *LoyaltyService) CommitDiscount(ctx context.Context, userID uuid.UUID, plan domain.DiscountPlan, reason string) (domain.DiscountPlan, error) {
	if plan.PointsRedeemed <= 0 {
		return plan, nil
	}
	ok, err := s.RedeemPoints(ctx, userID, plan.PointsRedeemed, reason)
	if err != nil {
		return domain.DiscountPlan{}, err
	}
	if !ok {
		s.logger.Warn("loyalty.discount.redemption_skipped",
			zap.String("userId", userID.String()),
			zap.Int64("points", plan.PointsRedeemed),
		)
		return plan.WithoutPoints(), nil
	}
	return plan, nil
}

// ApplyDiscount computes and commits in one call. It spends points, so it is not safe to retry blindly.
func (s *LoyaltyService) ApplyDiscount(ctx context.Context, userID uuid.UUID, amount int64) (domain.DiscountPlan, error) {
	plan, err := s.ComputeDiscount(ctx, userID, amount)
	if err != nil {
		return domain.DiscountPlan{}, err
	}
	return s.CommitDiscount(ctx, userID, plan, "order discount")
}

// VerifyLedger checks that the cached balance equals the sum of the transaction log.
func (s *LoyaltyService) VerifyLedger(ctx context.Context, userID uuid.UUID) error {
	acc, err := s.Account(ctx, userID)
	if err != nil {
		return err
	}
	sum, err := s.repo.LedgerSum(ctx, userID)
	if err != nil {
		return err
	}
	if sum != acc.Balance {
		s.logger.Error("loyalty.ledger.mismatch",
			observability.Alert(),
			zap.String("userId", userID.String()),
			zap.Int64("balance", acc.Balance),
			zap.Int64("ledgerSum", sum),
		)
		return fmt.Errorf("loyalty ledger for %s: balance %d, transactions sum %d", userID, acc.Balance, sum)
	}
	return nil
}

func runInTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
