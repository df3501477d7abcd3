package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promomundial/verification-engine/engine"
)

// =============================================================================
// UNLOCK TESTS
// =============================================================================

func TestUnlock_Twice_ReturnsSameReward(t *testing.T) {
	// GIVEN: A reward already unlocked for (user-1, 1)
	// WHEN: Unlock runs again for the same installment
	// THEN: The original reward is returned unchanged, no duplicate

	ctx := context.Background()
	f := newFixture()

	first, err := f.rewards.Unlock(ctx, "user-1", 1)
	require.NoError(t, err)

	second, err := f.rewards.Unlock(ctx, "user-1", 1)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Status, second.Status)

	total, err := f.mem.CountRewards(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestUnlock_Concurrent_SingleReward(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	const attempts = 16
	ids := make([]string, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reward, err := f.rewards.Unlock(ctx, "user-1", 1)
			if err == nil {
				ids[i] = reward.ID
			}
		}(i)
	}
	wg.Wait()

	total, err := f.mem.CountRewards(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total, "concurrent unlocks must converge on one reward")

	for _, id := range ids {
		assert.Equal(t, ids[0], id, "every caller must see the same reward")
	}
}

func TestUnlock_IdempotentAfterClaim_DoesNotResetStatus(t *testing.T) {
	// A repeated unlock after the user claimed must not move the reward
	// back to ready.

	ctx := context.Background()
	f := newFixture()

	_, err := f.rewards.Unlock(ctx, "user-1", 1)
	require.NoError(t, err)

	client := engine.Principal{ID: "user-1", Role: engine.RoleClient}
	_, err = f.rewards.Claim(ctx, client, "user-1", 1)
	require.NoError(t, err)

	reward, err := f.rewards.Unlock(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusClaimed, reward.Status)
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestClaim_OwningClient_MovesToClaimed(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.rewards.Unlock(ctx, "user-1", 1)
	require.NoError(t, err)

	client := engine.Principal{ID: "user-1", Role: engine.RoleClient}
	reward, err := f.rewards.Claim(ctx, client, "user-1", 1)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusClaimed, reward.Status)
}

func TestClaim_OtherClient_Forbidden(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.rewards.Unlock(ctx, "user-1", 1)
	require.NoError(t, err)

	other := engine.Principal{ID: "user-2", Role: engine.RoleClient}
	_, err = f.rewards.Claim(ctx, other, "user-1", 1)
	assert.True(t, errors.Is(err, engine.ErrForbidden))
}

func TestClaim_Twice_InvalidState(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.rewards.Unlock(ctx, "user-1", 1)
	require.NoError(t, err)

	client := engine.Principal{ID: "user-1", Role: engine.RoleClient}
	_, err = f.rewards.Claim(ctx, client, "user-1", 1)
	require.NoError(t, err)

	_, err = f.rewards.Claim(ctx, client, "user-1", 1)
	assert.True(t, errors.Is(err, engine.ErrInvalidState))
}

func TestForward_FullLifecycle(t *testing.T) {
	// ready -> claimed -> dispatched -> delivered, forward only.

	ctx := context.Background()
	f := newFixture()

	_, err := f.rewards.Unlock(ctx, "user-1", 1)
	require.NoError(t, err)

	client := engine.Principal{ID: "user-1", Role: engine.RoleClient}
	_, err = f.rewards.Claim(ctx, client, "user-1", 1)
	require.NoError(t, err)

	reward, err := f.rewards.Forward(ctx, owner(), "user-1", 1, engine.StatusDispatched)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusDispatched, reward.Status)

	reward, err = f.rewards.Forward(ctx, owner(), "user-1", 1, engine.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusDelivered, reward.Status)
}

func TestForward_SkippingDispatch_InvalidState(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.rewards.Unlock(ctx, "user-1", 1)
	require.NoError(t, err)

	client := engine.Principal{ID: "user-1", Role: engine.RoleClient}
	_, err = f.rewards.Claim(ctx, client, "user-1", 1)
	require.NoError(t, err)

	_, err = f.rewards.Forward(ctx, owner(), "user-1", 1, engine.StatusDelivered)
	assert.True(t, errors.Is(err, engine.ErrInvalidState), "delivery requires a dispatch first")
}

func TestForward_UnclaimedReward_InvalidState(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.rewards.Unlock(ctx, "user-1", 1)
	require.NoError(t, err)

	_, err = f.rewards.Forward(ctx, owner(), "user-1", 1, engine.StatusDispatched)
	assert.True(t, errors.Is(err, engine.ErrInvalidState))
}

func TestForward_NonOwnerRole_Forbidden(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.rewards.Unlock(ctx, "user-1", 1)
	require.NoError(t, err)

	_, err = f.rewards.Forward(ctx, validator(), "user-1", 1, engine.StatusDispatched)
	assert.True(t, errors.Is(err, engine.ErrForbidden), "dispatch is owner only")
}

// =============================================================================
// RECONCILIATION TESTS
// =============================================================================

func TestReconcile_ValidatedWithoutReward_Repairs(t *testing.T) {
	// GIVEN: A validated installment whose unlock was lost (simulated
	//        crash between the two writes)
	// WHEN: Reconcile runs
	// THEN: The missing reward is created; intact rows are untouched

	ctx := context.Background()
	f := newFixture()

	f.submit(t, "user-1", 1)
	_, err := f.workflow.Approve(ctx, validator(), "user-1", 1)
	require.NoError(t, err)

	// Write the validated row for installment 2 directly, bypassing the
	// workflow, so no reward exists for it.
	inst, err := f.mem.GetInstallment(ctx, "user-1", 1)
	require.NoError(t, err)
	orphan := *inst
	orphan.Number = 2
	require.NoError(t, f.mem.PutInstallment(ctx, orphan, nil))

	repaired, err := f.rewards.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	reward, err := f.mem.GetReward(ctx, "user-1", 2)
	require.NoError(t, err)
	require.NotNil(t, reward)
	assert.Equal(t, engine.StatusReady, reward.Status)

	// Idempotent: a second run finds nothing to repair.
	repaired, err = f.rewards.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, repaired)
}

func TestReconcile_NothingValidated_NoOp(t *testing.T) {
	f := newFixture()

	repaired, err := f.rewards.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, repaired)
}
