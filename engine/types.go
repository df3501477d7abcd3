/*
types.go - Core domain types for the verification engine

PURPOSE:
  Defines the entities the engine owns: installments, rewards, and the
  principals that act on them. These types are storage-agnostic; the
  store interfaces in store.go persist them.

KEY TYPES:
  Installment: One payment obligation in a promotional plan, identified
               by (UserID, Number). Carries the receipt reference and
               the verification decision.
  Reward:      The prize entitlement unlocked when an installment is
               validated. Exactly one per validated (UserID, Number).
  Principal:   An authenticated caller: a client or a privileged actor.

STATE MACHINE:
  pending ──approve──▶ validated (terminal)
     │ ▲
     │ └──resubmit── rejected
     └───reject────▶ rejected

  The transition table lives in workflow.go. Resubmission is handled by
  the Ledger (ledger.go) because it is a submit-side operation.

SEE ALSO:
  - ledger.go: Submit/resubmit rules and uniqueness invariant
  - workflow.go: Role-gated approve/reject transitions
  - rewards.go: Idempotent reward creation
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATES AND ROLES
// =============================================================================

// State is the verification state of an installment.
type State string

const (
	// StatePending means a receipt is submitted and awaiting review.
	StatePending State = "pending"

	// StateValidated is terminal. A validated installment is never
	// resubmitted or re-decided.
	StateValidated State = "validated"

	// StateRejected allows the owning user to resubmit, which returns
	// the installment to pending.
	StateRejected State = "rejected"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateValidated, StateRejected:
		return true
	}
	return false
}

// Role identifies what a principal is allowed to do.
type Role string

const (
	// RoleClient is a promotion participant. Clients submit receipts
	// and claim their own rewards.
	RoleClient Role = "client"

	// RoleValidator may approve and reject pending installments.
	RoleValidator Role = "validator"

	// RoleResponsable has read-only oversight: review queues and
	// reports, but never a state transition.
	RoleResponsable Role = "responsable"

	// RoleOwner has full permissions, including everything a
	// validator can do.
	RoleOwner Role = "owner"
)

// AdminRoles are the roles provisioned out of band. Clients are created
// through registration and are never in this set.
var AdminRoles = []Role{RoleValidator, RoleResponsable, RoleOwner}

// IsAdmin reports whether the role belongs to a privileged actor.
func (r Role) IsAdmin() bool {
	return r == RoleValidator || r == RoleResponsable || r == RoleOwner
}

// Principal is an authenticated caller. The engine never authenticates;
// it consumes principals produced by the identity provider.
type Principal struct {
	ID   string
	Role Role
}

// =============================================================================
// INSTALLMENT
// =============================================================================

// Installment is one scheduled payment in a user's promotional plan.
// At most one installment exists per (UserID, Number); resubmission
// mutates the row, it never creates a second one.
type Installment struct {
	UserID string
	Number int
	State  State

	// ReceiptRef is an opaque reference into the content store. The
	// engine holds and compares it but never interprets it.
	ReceiptRef string

	// Amount is the plan amount this receipt is expected to cover.
	Amount decimal.Decimal

	SubmittedAt time.Time

	// Decision fields. Nil while pending; reset to nil on resubmission.
	DecidedAt       *time.Time
	DecidedBy       *string
	RejectionReason *string
}

// Decided reports whether an admin actor has ruled on this installment.
func (i Installment) Decided() bool {
	return i.State == StateValidated || i.State == StateRejected
}

// =============================================================================
// REWARD
// =============================================================================

// RewardStatus is the post-unlock lifecycle of a reward. The workflow
// only ever seeds StatusReady; the later stages are driven by the
// claim/dispatch operations in rewards.go.
type RewardStatus string

const (
	StatusReady      RewardStatus = "ready"
	StatusClaimed    RewardStatus = "claimed"
	StatusDispatched RewardStatus = "dispatched"
	StatusDelivered  RewardStatus = "delivered"
)

// rewardStatusOrder makes the lifecycle forward-only.
var rewardStatusOrder = map[RewardStatus]int{
	StatusReady:      0,
	StatusClaimed:    1,
	StatusDispatched: 2,
	StatusDelivered:  3,
}

// Reward is the entitlement unlocked by a validated installment.
// Exactly one exists per (UserID, Number) that ever reached validated.
type Reward struct {
	ID     string
	UserID string
	Number int
	Status RewardStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditAction names what was attempted against an installment.
type AuditAction string

const (
	AuditSubmit        AuditAction = "installment_submitted"
	AuditResubmit      AuditAction = "installment_resubmitted"
	AuditApprove       AuditAction = "installment_approved"
	AuditReject        AuditAction = "installment_rejected"
	AuditRewardUnlock  AuditAction = "reward_unlocked"
	AuditRewardClaim   AuditAction = "reward_claimed"
	AuditRewardForward AuditAction = "reward_forwarded"
)

// AuditEntry is an immutable record of one engine operation. ActorID is
// nil when the operation had no authenticated principal (system
// re-drives, for instance).
type AuditEntry struct {
	ID      string
	ActorID *string
	Action  AuditAction
	UserID  string
	Number  int
	Outcome string
	At      time.Time
}
