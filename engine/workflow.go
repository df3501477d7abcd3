/*
workflow.go - Role-gated verification state machine

PURPOSE:
  The only component allowed to move installments between states. Every
  decision passes three guards in order:
    1. Role:  the actor's role must be in the transition table
    2. Exists: the installment must exist
    3. State: the current state must be the transition's source state
  Guard failures map to Forbidden, NotFound, and InvalidState.

TRANSITION TABLE:
  | From    | Event   | Roles            | To        | Side effect      |
  |---------|---------|------------------|-----------|------------------|
  | pending | approve | validator, owner | validated | unlock reward    |
  | pending | reject  | validator, owner | rejected  | record reason    |

  Resubmission (rejected -> pending) belongs to the Ledger because it
  is a submit-side operation by the owning user, not a decision.
  Responsable appears nowhere in the table: read-only oversight.

DOUBLE DECISIONS:
  Approving or rejecting an already-decided installment always fails
  with InvalidState. A duplicate network retry from an admin UI is a
  bug worth surfacing, never an idempotent success.

ATOMICITY:
  The state commit is a store-level compare-and-set; the winner of a
  race proceeds, the loser observes the final state. Reward unlock runs
  synchronously after the commit and is idempotent, so a crash between
  the two steps is repaired by RewardService.Reconcile on restart.

AUDIT:
  Every decision outcome is recorded fire-and-forget. An audit write
  failure never rolls back a committed transition; it is logged and
  counted for alerting.

SEE ALSO:
  - ledger.go: Submission side of the state machine
  - rewards.go: Unlock and Reconcile
*/
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// TRANSITION TABLE
// =============================================================================

// Event is a decision an admin actor can take on an installment.
type Event string

const (
	EventApprove Event = "approve"
	EventReject  Event = "reject"
)

type transition struct {
	From  State
	To    State
	Roles []Role
}

// transitions is the single source of truth for "who may do what from
// which state". Ad hoc role checks at call sites are a defect.
var transitions = map[Event]transition{
	EventApprove: {From: StatePending, To: StateValidated, Roles: []Role{RoleValidator, RoleOwner}},
	EventReject:  {From: StatePending, To: StateRejected, Roles: []Role{RoleValidator, RoleOwner}},
}

// Allowed reports whether role may trigger event at all, independent of
// the target's current state.
func Allowed(role Role, event Event) bool {
	tr, ok := transitions[event]
	if !ok {
		return false
	}
	for _, r := range tr.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// DefaultRejectionReason stands in when a rejecting actor supplies no
// reason. Mirrors the promotion's historical behavior of never failing
// a rejection for a missing comment.
const DefaultRejectionReason = "not specified"

// =============================================================================
// WORKFLOW
// =============================================================================

// Workflow mediates every installment state change.
type Workflow struct {
	Store   InstallmentStore
	Rewards *RewardService
	Audit   *Recorder

	Now func() time.Time
}

// NewWorkflow wires the state machine to its store and collaborators.
func NewWorkflow(store InstallmentStore, rewards *RewardService, audit *Recorder) *Workflow {
	return &Workflow{Store: store, Rewards: rewards, Audit: audit, Now: time.Now}
}

// Approve transitions a pending installment to validated and unlocks
// its reward. Fails with Forbidden, NotFound, or InvalidState per the
// guard order above.
func (w *Workflow) Approve(ctx context.Context, actor Principal, userID string, number int) (*Installment, error) {
	inst, err := w.decide(ctx, actor, EventApprove, userID, number, nil)
	if err != nil {
		return nil, err
	}

	// Synchronous unlock. Idempotent, so a retry after a crash between
	// the CAS and this call converges on the same single reward.
	if _, err := w.Rewards.Unlock(ctx, userID, number); err != nil {
		return nil, fmt.Errorf("%w: installment validated but reward unlock failed: %v", ErrInternal, err)
	}
	return inst, nil
}

// Reject transitions a pending installment to rejected. An empty
// reason is replaced with DefaultRejectionReason. No reward side
// effect.
func (w *Workflow) Reject(ctx context.Context, actor Principal, userID string, number int, reason string) (*Installment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultRejectionReason
	}
	return w.decide(ctx, actor, EventReject, userID, number, &reason)
}

// decide runs the guarded transition for one event. reason is non-nil
// only for rejections.
func (w *Workflow) decide(ctx context.Context, actor Principal, event Event, userID string, number int, reason *string) (*Installment, error) {
	tr := transitions[event]

	// Guard 1: role.
	if !Allowed(actor.Role, event) {
		w.Audit.Record(ctx, &actor.ID, auditActionFor(event), userID, number, "forbidden")
		return nil, &ForbiddenError{Role: actor.Role, Event: event}
	}

	// Guard 2: existence.
	inst, err := w.Store.GetInstallment(ctx, userID, number)
	if err != nil {
		return nil, fmt.Errorf("%w: loading installment: %v", ErrInternal, err)
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: installment %s/%d", ErrNotFound, userID, number)
	}

	// Guard 3: current state.
	if inst.State != tr.From {
		w.Audit.Record(ctx, &actor.ID, auditActionFor(event), userID, number, "invalid_state")
		return nil, &InvalidStateError{UserID: userID, Number: number, Current: inst.State, Attempted: event}
	}

	now := w.Now().UTC()
	updated := *inst
	updated.State = tr.To
	updated.DecidedAt = &now
	updated.DecidedBy = &actor.ID
	updated.RejectionReason = reason

	prior := tr.From
	if err := w.Store.PutInstallment(ctx, updated, &prior); err != nil {
		if IsRetryable(err) {
			// Lost the race. Report what the winner left behind.
			current := tr.To
			if latest, lerr := w.Store.GetInstallment(ctx, userID, number); lerr == nil && latest != nil {
				current = latest.State
			}
			w.Audit.Record(ctx, &actor.ID, auditActionFor(event), userID, number, "invalid_state")
			return nil, &InvalidStateError{UserID: userID, Number: number, Current: current, Attempted: event}
		}
		return nil, fmt.Errorf("%w: committing transition: %v", ErrInternal, err)
	}

	w.Audit.Record(ctx, &actor.ID, auditActionFor(event), userID, number, "ok")
	return &updated, nil
}

func auditActionFor(event Event) AuditAction {
	if event == EventReject {
		return AuditReject
	}
	return AuditApprove
}
