package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promomundial/verification-engine/engine"
	"github.com/promomundial/verification-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestLedger() (*engine.Ledger, *store.Memory) {
	mem := store.NewMemory()
	return engine.NewLedger(mem, engine.NewRecorder(mem)), mem
}

func amount(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// =============================================================================
// SUBMISSION TESTS
// =============================================================================

func TestSubmit_NewInstallment_StartsPending(t *testing.T) {
	// GIVEN: A user with no installments
	// WHEN: They submit a receipt for installment 1
	// THEN: The installment is created in pending with their receipt

	ctx := context.Background()
	ledger, _ := newTestLedger()

	inst, err := ledger.Submit(ctx, "user-1", 1, "receipts/abc.jpg", amount("150.00"))
	require.NoError(t, err)

	assert.Equal(t, engine.StatePending, inst.State)
	assert.Equal(t, "receipts/abc.jpg", inst.ReceiptRef)
	assert.False(t, inst.Decided())
	assert.Nil(t, inst.RejectionReason)
}

func TestSubmit_SameNumberTwice_Conflict(t *testing.T) {
	// GIVEN: A pending installment for (user-1, 1)
	// WHEN: The user submits installment 1 again
	// THEN: Conflict, and the original receipt is untouched

	ctx := context.Background()
	ledger, _ := newTestLedger()

	_, err := ledger.Submit(ctx, "user-1", 1, "receipts/first.jpg", amount("150.00"))
	require.NoError(t, err)

	_, err = ledger.Submit(ctx, "user-1", 1, "receipts/second.jpg", amount("150.00"))
	assert.Error(t, err, "duplicate pending submission should be rejected")
	assert.True(t, errors.Is(err, engine.ErrConflict))

	var conflict *engine.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, engine.StatePending, conflict.Existing)

	inst, err := ledger.Get(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "receipts/first.jpg", inst.ReceiptRef)
}

func TestSubmit_ValidatedInstallment_Conflict(t *testing.T) {
	// GIVEN: A validated installment
	// WHEN: The user submits the same number again
	// THEN: Conflict; validated records are immutable

	ctx := context.Background()
	ledger, mem := newTestLedger()
	workflow := engine.NewWorkflow(mem, engine.NewRewardService(mem, mem, nil), nil)

	_, err := ledger.Submit(ctx, "user-1", 2, "receipts/a.jpg", amount("150.00"))
	require.NoError(t, err)
	_, err = workflow.Approve(ctx, validator(), "user-1", 2)
	require.NoError(t, err)

	_, err = ledger.Submit(ctx, "user-1", 2, "receipts/b.jpg", amount("150.00"))
	assert.True(t, errors.Is(err, engine.ErrConflict))
}

func TestSubmit_RejectedInstallment_ResetsToPending(t *testing.T) {
	// GIVEN: A rejected installment with a decision recorded
	// WHEN: The user resubmits with a new receipt
	// THEN: State returns to pending and the decision fields are cleared

	ctx := context.Background()
	ledger, mem := newTestLedger()
	workflow := engine.NewWorkflow(mem, engine.NewRewardService(mem, mem, nil), nil)

	_, err := ledger.Submit(ctx, "user-1", 3, "receipts/blurry.jpg", amount("150.00"))
	require.NoError(t, err)
	_, err = workflow.Reject(ctx, validator(), "user-1", 3, "illegible receipt")
	require.NoError(t, err)

	inst, err := ledger.Submit(ctx, "user-1", 3, "receipts/clear.jpg", amount("150.00"))
	require.NoError(t, err, "resubmission after rejection should succeed")

	assert.Equal(t, engine.StatePending, inst.State)
	assert.Equal(t, "receipts/clear.jpg", inst.ReceiptRef)
	assert.Nil(t, inst.DecidedAt, "decision timestamp should be cleared")
	assert.Nil(t, inst.DecidedBy)
	assert.Nil(t, inst.RejectionReason)
}

func TestSubmit_DifferentUsersSameNumber_Independent(t *testing.T) {
	// Uniqueness is per (user, number), not per number.

	ctx := context.Background()
	ledger, _ := newTestLedger()

	_, err := ledger.Submit(ctx, "user-1", 1, "receipts/a.jpg", amount("150.00"))
	require.NoError(t, err)
	_, err = ledger.Submit(ctx, "user-2", 1, "receipts/b.jpg", amount("150.00"))
	assert.NoError(t, err, "same number for another user must not conflict")
}

func TestSubmit_InvalidInput_ValidationError(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()

	cases := []struct {
		name       string
		userID     string
		number     int
		receiptRef string
		amt        decimal.Decimal
	}{
		{"missing user", "", 1, "receipts/a.jpg", amount("150.00")},
		{"zero number", "user-1", 0, "receipts/a.jpg", amount("150.00")},
		{"negative number", "user-1", -4, "receipts/a.jpg", amount("150.00")},
		{"missing receipt", "user-1", 1, "", amount("150.00")},
		{"negative amount", "user-1", 1, "receipts/a.jpg", amount("-10")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ledger.Submit(ctx, tc.userID, tc.number, tc.receiptRef, tc.amt)
			assert.True(t, errors.Is(err, engine.ErrValidation), "expected validation error, got %v", err)
		})
	}
}

// =============================================================================
// QUERY TESTS
// =============================================================================

func TestGet_Missing_NotFound(t *testing.T) {
	ledger, _ := newTestLedger()

	_, err := ledger.Get(context.Background(), "user-1", 9)
	assert.True(t, errors.Is(err, engine.ErrNotFound))
	assert.True(t, engine.IsNotFound(err))
}

func TestListByUser_ReturnsOnlyTheirInstallments(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()

	for n := 1; n <= 3; n++ {
		_, err := ledger.Submit(ctx, "user-1", n, "receipts/a.jpg", amount("150.00"))
		require.NoError(t, err)
	}
	_, err := ledger.Submit(ctx, "user-2", 1, "receipts/b.jpg", amount("150.00"))
	require.NoError(t, err)

	mine, err := ledger.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, mine, 3)
	for i, inst := range mine {
		assert.Equal(t, "user-1", inst.UserID)
		assert.Equal(t, i+1, inst.Number, "listing should be ordered by number")
	}
}

func TestListByState_UnknownState_ValidationError(t *testing.T) {
	ledger, _ := newTestLedger()

	_, err := ledger.ListByState(context.Background(), engine.State("approved"))
	assert.True(t, errors.Is(err, engine.ErrValidation))
}
