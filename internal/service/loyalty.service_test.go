package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-fulfillment/internal/domain"
)

func TestAddPointsPromotesTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	acc, err := f.loyalty.AddPoints(ctx, userID, 400, "signup")
	require.NoError(t, err)
	assert.Equal(t, int64(400), acc.Balance)
	assert.Equal(t, "basic", acc.Tier)

	acc, err = f.loyalty.AddPoints(ctx, userID, 600, "order")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), acc.Balance)
	assert.Equal(t, "gold", acc.Tier)

	stored, err := f.loyalty.Account(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "gold", stored.Tier)

	_, err = f.loyalty.AddPoints(ctx, userID, 0, "nothing")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRedeemPointsFailsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := f.loyalty.AddPoints(ctx, userID, 50, "seed")
	require.NoError(t, err)

	ok, err := f.loyalty.RedeemPoints(ctx, userID, 51, "too much")
	require.NoError(t, err)
	assert.False(t, ok)

	acc, err := f.loyalty.Account(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), acc.Balance)
	txns, err := f.loyalty.Transactions(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, txns, 1)

	ok, err = f.loyalty.RedeemPoints(ctx, userID, 50, "all of it")
	require.NoError(t, err)
	assert.True(t, ok)

	acc, err = f.loyalty.Account(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, acc.Balance)
	require.NoError(t, f.loyalty.VerifyLedger(ctx, userID))
}

func TestRedeemPointsWithoutAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	ok, err := f.loyalty.RedeemPoints(ctx, userID, 1, "nothing to spend")
	require.NoError(t, err)
	assert.False(t, ok)

	acc, err := f.loyalty.Account(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "basic", acc.Tier)
	assert.Zero(t, acc.Balance)
}

func TestConcurrentRedeemsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := f.loyalty.AddPoints(ctx, userID, 100, "seed")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		failures  atomic.Int32
		errs      = make(chan error, 50)
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.loyalty.RedeemPoints(ctx, userID, 10, "race")
			if err != nil {
				errs <- err
				return
			}
			if ok {
				successes.Add(1)
			} else {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int32(10), successes.Load())
	assert.Equal(t, int32(40), failures.Load())

	acc, err := f.loyalty.Account(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, acc.Balance)
	require.NoError(t, f.loyalty.VerifyLedger(ctx, userID))
	assert.Equal(t, 11, f.countRows(t, `SELECT count(*) FROM loyalty_transactions WHERE user_id = $1`, userID))
}

func TestApplyDiscount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := f.loyalty.AddPoints(ctx, userID, 1000, "seed")
	require.NoError(t, err)

	plan, err := f.loyalty.ApplyDiscount(ctx, userID, 1300)
	require.NoError(t, err)
	assert.Equal(t, domain.DiscountPlan{
		OriginalAmount:     1300,
		DiscountPercentage: 10,
		DiscountAmount:     130,
		PointsRedeemed:     1000,
		FinalAmount:        170,
	}, plan)

	acc, err := f.loyalty.Account(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, acc.Balance)
	// The tier is only recomputed on earn.
	assert.Equal(t, "gold", acc.Tier)
}

func TestCommitDiscountSkipsRedemptionWhenDrained(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := f.loyalty.AddPoints(ctx, userID, 1000, "seed")
	require.NoError(t, err)

	plan, err := f.loyalty.ComputeDiscount(ctx, userID, 1300)
	require.NoError(t, err)

	// Another checkout spends the balance between compute and commit.
	ok, err := f.loyalty.RedeemPoints(ctx, userID, 600, "elsewhere")
	require.NoError(t, err)
	require.True(t, ok)

	committed, err := f.loyalty.CommitDiscount(ctx, userID, plan, "late")
	require.NoError(t, err)
	assert.Zero(t, committed.PointsRedeemed)
	assert.Equal(t, int64(130), committed.DiscountAmount)
	assert.Equal(t, int64(1170), committed.FinalAmount)

	acc, err := f.loyalty.Account(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(400), acc.Balance)
}
