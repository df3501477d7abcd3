/*
ledger.go - Installment ledger: submission and uniqueness invariant

PURPOSE:
  Owns the set of installment records and the per-(user, number)
  uniqueness invariant. Every submission and resubmission goes through
  Submit; nothing else creates or rewrites an installment row outside
  the workflow's decisions.

SUBMIT RULES:
  no row        -> create in pending
  pending row   -> Conflict (one live submission at a time)
  validated row -> Conflict (terminal, forever)
  rejected row  -> overwrite in place: back to pending, new receipt,
                   decision fields cleared

  Resubmission resets decided_at/decided_by/rejection_reason so a
  rejected installment re-enters review indistinguishable from a fresh
  one, except for its submission timestamp.

CONCURRENCY:
  The guards above are enforced twice: once by inspecting the loaded
  row, and again by the store's compare-and-set at commit. A racing
  writer makes the CAS fail, which Submit reports as Conflict.

SEE ALSO:
  - store.go: PutInstallment CAS contract
  - workflow.go: The only other writer of installment rows
*/
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Ledger owns installment records. Audit is optional; when set, every
// submission outcome is recorded.
type Ledger struct {
	Store InstallmentStore
	Audit *Recorder

	// Now is overridable for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewLedger creates a ledger over the given store.
func NewLedger(store InstallmentStore, audit *Recorder) *Ledger {
	return &Ledger{Store: store, Audit: audit, Now: time.Now}
}

// Submit records a receipt for one installment of the user's plan.
// Creates the installment in pending, or resets a rejected one. Fails
// with Conflict when a pending or validated row already exists.
func (l *Ledger) Submit(ctx context.Context, userID string, number int, receiptRef string, amount decimal.Decimal) (*Installment, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &ValidationError{Field: "user_id", Message: "required"}
	}
	if number <= 0 {
		return nil, &ValidationError{Field: "number", Message: "must be a positive installment number"}
	}
	if strings.TrimSpace(receiptRef) == "" {
		return nil, &ValidationError{Field: "receipt_ref", Message: "required"}
	}
	if amount.IsNegative() {
		return nil, &ValidationError{Field: "amount", Message: "must not be negative"}
	}

	existing, err := l.Store.GetInstallment(ctx, userID, number)
	if err != nil {
		return nil, fmt.Errorf("%w: loading installment: %v", ErrInternal, err)
	}

	inst := Installment{
		UserID:      userID,
		Number:      number,
		State:       StatePending,
		ReceiptRef:  receiptRef,
		Amount:      amount,
		SubmittedAt: l.Now().UTC(),
	}

	action := AuditSubmit
	var expected *State
	if existing != nil {
		switch existing.State {
		case StatePending, StateValidated:
			l.Audit.Record(ctx, &userID, AuditSubmit, userID, number, "conflict")
			return nil, &ConflictError{UserID: userID, Number: number, Existing: existing.State}
		case StateRejected:
			// Overwrite in place: decision fields stay nil in inst.
			action = AuditResubmit
			prior := StateRejected
			expected = &prior
		}
	}

	if err := l.Store.PutInstallment(ctx, inst, expected); err != nil {
		if IsRetryable(err) {
			// Lost a race with another submit or a decision.
			l.Audit.Record(ctx, &userID, action, userID, number, "conflict")
			return nil, &ConflictError{UserID: userID, Number: number, Existing: StatePending}
		}
		return nil, fmt.Errorf("%w: writing installment: %v", ErrInternal, err)
	}

	l.Audit.Record(ctx, &userID, action, userID, number, "ok")
	return &inst, nil
}

// Get returns one installment, or NotFound.
func (l *Ledger) Get(ctx context.Context, userID string, number int) (*Installment, error) {
	inst, err := l.Store.GetInstallment(ctx, userID, number)
	if err != nil {
		return nil, fmt.Errorf("%w: loading installment: %v", ErrInternal, err)
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: installment %s/%d", ErrNotFound, userID, number)
	}
	return inst, nil
}

// ListByUser returns the user's installments ordered by number.
func (l *Ledger) ListByUser(ctx context.Context, userID string) ([]Installment, error) {
	items, err := l.Store.ListInstallmentsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing installments: %v", ErrInternal, err)
	}
	return items, nil
}

// ListByState returns all installments in one state, oldest first.
// This feeds the admin review queue.
func (l *Ledger) ListByState(ctx context.Context, state State) ([]Installment, error) {
	if !state.Valid() {
		return nil, &ValidationError{Field: "state", Message: fmt.Sprintf("unknown state %q", state)}
	}
	items, err := l.Store.ListInstallmentsByState(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("%w: listing installments: %v", ErrInternal, err)
	}
	return items, nil
}
