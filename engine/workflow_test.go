package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promomundial/verification-engine/engine"
	"github.com/promomundial/verification-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func validator() engine.Principal {
	return engine.Principal{ID: "admin-validator", Role: engine.RoleValidator}
}

func owner() engine.Principal {
	return engine.Principal{ID: "admin-owner", Role: engine.RoleOwner}
}

func responsable() engine.Principal {
	return engine.Principal{ID: "admin-responsable", Role: engine.RoleResponsable}
}

type fixture struct {
	mem      *store.Memory
	ledger   *engine.Ledger
	workflow *engine.Workflow
	rewards  *engine.RewardService
	audit    *engine.Recorder
}

func newFixture() *fixture {
	mem := store.NewMemory()
	audit := engine.NewRecorder(mem)
	rewards := engine.NewRewardService(mem, mem, audit)
	return &fixture{
		mem:      mem,
		ledger:   engine.NewLedger(mem, audit),
		workflow: engine.NewWorkflow(mem, rewards, audit),
		rewards:  rewards,
		audit:    audit,
	}
}

func (f *fixture) submit(t *testing.T, userID string, number int) {
	t.Helper()
	_, err := f.ledger.Submit(context.Background(), userID, number, "receipts/r.jpg", amount("150.00"))
	require.NoError(t, err)
}

// =============================================================================
// TRANSITION TESTS
// =============================================================================

func TestApprove_PendingInstallment_Validated(t *testing.T) {
	// GIVEN: A pending installment
	// WHEN: A validator approves it
	// THEN: It is validated with the decision recorded, and a reward exists

	ctx := context.Background()
	f := newFixture()
	f.submit(t, "user-1", 1)

	inst, err := f.workflow.Approve(ctx, validator(), "user-1", 1)
	require.NoError(t, err)

	assert.Equal(t, engine.StateValidated, inst.State)
	require.NotNil(t, inst.DecidedBy)
	assert.Equal(t, "admin-validator", *inst.DecidedBy)
	assert.NotNil(t, inst.DecidedAt)

	reward, err := f.mem.GetReward(ctx, "user-1", 1)
	require.NoError(t, err)
	require.NotNil(t, reward, "approval must unlock a reward")
	assert.Equal(t, engine.StatusReady, reward.Status)
}

func TestReject_PendingInstallment_RecordsReason(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.submit(t, "user-1", 1)

	inst, err := f.workflow.Reject(ctx, validator(), "user-1", 1, "amount does not match plan")
	require.NoError(t, err)

	assert.Equal(t, engine.StateRejected, inst.State)
	require.NotNil(t, inst.RejectionReason)
	assert.Equal(t, "amount does not match plan", *inst.RejectionReason)

	reward, err := f.mem.GetReward(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.Nil(t, reward, "rejection must not unlock a reward")
}

func TestReject_EmptyReason_UsesPlaceholder(t *testing.T) {
	// An empty or whitespace reason is stored as the fixed placeholder,
	// never as an empty string.

	ctx := context.Background()
	f := newFixture()
	f.submit(t, "user-1", 1)

	inst, err := f.workflow.Reject(ctx, validator(), "user-1", 1, "   ")
	require.NoError(t, err)

	require.NotNil(t, inst.RejectionReason)
	assert.Equal(t, engine.DefaultRejectionReason, *inst.RejectionReason)
}

func TestApprove_OwnerRole_Allowed(t *testing.T) {
	f := newFixture()
	f.submit(t, "user-1", 1)

	_, err := f.workflow.Approve(context.Background(), owner(), "user-1", 1)
	assert.NoError(t, err, "owner can decide installments")
}

// =============================================================================
// GUARD TESTS
// =============================================================================

func TestApprove_ResponsableRole_Forbidden(t *testing.T) {
	// GIVEN: A pending installment
	// WHEN: A responsable (read-only role) tries to approve it
	// THEN: Forbidden, and the installment is untouched

	ctx := context.Background()
	f := newFixture()
	f.submit(t, "user-1", 1)

	_, err := f.workflow.Approve(ctx, responsable(), "user-1", 1)
	assert.True(t, errors.Is(err, engine.ErrForbidden))

	var forbidden *engine.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, engine.RoleResponsable, forbidden.Role)

	inst, err := f.ledger.Get(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.Equal(t, engine.StatePending, inst.State)
}

func TestApprove_ClientRole_Forbidden(t *testing.T) {
	f := newFixture()
	f.submit(t, "user-1", 1)

	client := engine.Principal{ID: "user-1", Role: engine.RoleClient}
	_, err := f.workflow.Approve(context.Background(), client, "user-1", 1)
	assert.True(t, errors.Is(err, engine.ErrForbidden), "clients never decide, not even their own")
}

func TestApprove_ForbiddenBeforeNotFound(t *testing.T) {
	// The role guard runs before existence: a forbidden actor learns
	// nothing about which installments exist.

	f := newFixture()

	_, err := f.workflow.Approve(context.Background(), responsable(), "user-1", 42)
	assert.True(t, errors.Is(err, engine.ErrForbidden))
	assert.False(t, errors.Is(err, engine.ErrNotFound))
}

func TestApprove_MissingInstallment_NotFound(t *testing.T) {
	f := newFixture()

	_, err := f.workflow.Approve(context.Background(), validator(), "user-1", 42)
	assert.True(t, engine.IsNotFound(err))
}

func TestApprove_AlreadyValidated_InvalidState(t *testing.T) {
	// GIVEN: A validated installment
	// WHEN: A second approve arrives
	// THEN: InvalidState with the current state, never a silent success

	ctx := context.Background()
	f := newFixture()
	f.submit(t, "user-1", 1)

	_, err := f.workflow.Approve(ctx, validator(), "user-1", 1)
	require.NoError(t, err)

	_, err = f.workflow.Approve(ctx, validator(), "user-1", 1)
	assert.True(t, errors.Is(err, engine.ErrInvalidState))

	var invalid *engine.InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, engine.StateValidated, invalid.Current)
}

func TestReject_AlreadyRejected_InvalidState(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.submit(t, "user-1", 1)

	_, err := f.workflow.Reject(ctx, validator(), "user-1", 1, "blurry")
	require.NoError(t, err)

	_, err = f.workflow.Reject(ctx, validator(), "user-1", 1, "blurry again")
	assert.True(t, errors.Is(err, engine.ErrInvalidState))
}

func TestApprove_RejectedInstallment_InvalidState(t *testing.T) {
	// Rejected installments must be resubmitted by the client first.

	ctx := context.Background()
	f := newFixture()
	f.submit(t, "user-1", 1)

	_, err := f.workflow.Reject(ctx, validator(), "user-1", 1, "wrong amount")
	require.NoError(t, err)

	_, err = f.workflow.Approve(ctx, validator(), "user-1", 1)
	assert.True(t, errors.Is(err, engine.ErrInvalidState))
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestApprove_ConcurrentDecisions_ExactlyOneWins(t *testing.T) {
	// GIVEN: One pending installment and many concurrent validators
	// WHEN: They all decide at once
	// THEN: Exactly one decision commits, the rest see InvalidState,
	//       and exactly one reward exists afterwards

	ctx := context.Background()
	f := newFixture()
	f.submit(t, "user-1", 1)

	const attempts = 16
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = f.workflow.Approve(ctx, validator(), "user-1", 1)
			} else {
				_, errs[i] = f.workflow.Reject(ctx, validator(), "user-1", 1, "race")
			}
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, engine.ErrInvalidState), "losers must see InvalidState, got %v", err)
	}
	assert.Equal(t, 1, wins, "exactly one concurrent decision must commit")

	inst, err := f.ledger.Get(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.True(t, inst.Decided())

	total, err := f.mem.CountRewards(ctx)
	require.NoError(t, err)
	if inst.State == engine.StateValidated {
		assert.Equal(t, 1, total, "a validated installment has exactly one reward")
	} else {
		assert.Equal(t, 0, total, "a rejected installment has no reward")
	}
}

func TestApprove_RepeatedOnValidated_NeverSecondReward(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.submit(t, "user-1", 1)

	_, err := f.workflow.Approve(ctx, validator(), "user-1", 1)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = f.workflow.Approve(ctx, validator(), "user-1", 1)
		assert.Error(t, err)
	}

	total, err := f.mem.CountRewards(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

// =============================================================================
// AUDIT TESTS
// =============================================================================

func TestWorkflow_Decisions_AreAudited(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.submit(t, "user-1", 1)
	f.submit(t, "user-1", 2)

	_, err := f.workflow.Approve(ctx, validator(), "user-1", 1)
	require.NoError(t, err)
	_, err = f.workflow.Reject(ctx, validator(), "user-1", 2, "wrong plan")
	require.NoError(t, err)

	entries, err := f.audit.ListByActor(ctx, "admin-validator")
	require.NoError(t, err)

	actions := make(map[engine.AuditAction]int)
	for _, e := range entries {
		actions[e.Action]++
	}
	assert.Equal(t, 1, actions[engine.AuditApprove])
	assert.Equal(t, 1, actions[engine.AuditReject])
}

func TestWorkflow_DeniedAttempt_AuditedAsForbidden(t *testing.T) {
	// Denied attempts still leave a trace.

	ctx := context.Background()
	f := newFixture()
	f.submit(t, "user-1", 1)

	_, err := f.workflow.Approve(ctx, responsable(), "user-1", 1)
	require.Error(t, err)

	entries, err := f.audit.ListByActor(ctx, "admin-responsable")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "forbidden", entries[0].Outcome)
}

// =============================================================================
// TRANSITION TABLE TESTS
// =============================================================================

func TestAllowed_RoleMatrix(t *testing.T) {
	cases := []struct {
		role  engine.Role
		event engine.Event
		want  bool
	}{
		{engine.RoleValidator, engine.EventApprove, true},
		{engine.RoleValidator, engine.EventReject, true},
		{engine.RoleOwner, engine.EventApprove, true},
		{engine.RoleOwner, engine.EventReject, true},
		{engine.RoleResponsable, engine.EventApprove, false},
		{engine.RoleResponsable, engine.EventReject, false},
		{engine.RoleClient, engine.EventApprove, false},
		{engine.RoleClient, engine.EventReject, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, engine.Allowed(tc.role, tc.event),
			"role=%s event=%s", tc.role, tc.event)
	}
}
