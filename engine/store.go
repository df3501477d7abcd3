/*
store.go - Persistence interfaces for installments, rewards, and audit

PURPOSE:
  Defines the interface between the engine and the database. The store
  is the only shared mutable resource in the system; everything else is
  computed from it. Different implementations can use SQLite or
  in-memory storage.

KEY INTERFACES:
  InstallmentStore: Key-scoped get/put with compare-and-set on state
  RewardStore:      Reward creation and forward-only status updates
  AuditStore:       Append-only audit log persistence

COMPARE-AND-SET CONTRACT:
  PutInstallment takes the state the caller last observed. The store
  commits only if the stored state still matches; otherwise it returns
  ErrConcurrentModification. A nil expected state means "create, fail
  if any row exists". This localizes concurrency control in the store
  instead of spreading locks through the engine.

  Two concurrent approvals therefore cannot both succeed: exactly one
  CAS wins, the loser reloads and reports the terminal state.

REWARD UNIQUENESS:
  CreateReward must enforce one reward per (user, number) and return
  ErrConcurrentModification on a duplicate. The unlock engine turns
  that into idempotent success by returning the existing reward.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite (conditional UPDATE as CAS)
  - engine/store: In-memory for tests and development

SEE ALSO:
  - ledger.go: Uses InstallmentStore for submit/resubmit
  - workflow.go: Uses InstallmentStore CAS for decisions
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// INSTALLMENT STORE
// =============================================================================

// InstallmentStore persists installment records. Writes go through a
// state-guarded compare-and-set; plain blind updates do not exist.
type InstallmentStore interface {
	// GetInstallment returns the record, or nil when absent.
	GetInstallment(ctx context.Context, userID string, number int) (*Installment, error)

	// PutInstallment writes inst guarded by the expected prior state.
	//   expected == nil: insert; fails with ErrConcurrentModification
	//                    if a row for (UserID, Number) already exists.
	//   expected != nil: update; fails with ErrConcurrentModification
	//                    unless the stored state equals *expected.
	PutInstallment(ctx context.Context, inst Installment, expected *State) error

	// ListInstallmentsByUser returns a user's installments ordered by number.
	ListInstallmentsByUser(ctx context.Context, userID string) ([]Installment, error)

	// ListInstallmentsByState returns all installments in a state,
	// oldest submission first. Feeds the admin review queue.
	ListInstallmentsByState(ctx context.Context, state State) ([]Installment, error)

	// CountInstallmentsByState returns per-state totals. Pure read.
	CountInstallmentsByState(ctx context.Context) (map[State]int, error)
}

// =============================================================================
// REWARD STORE
// =============================================================================

// RewardStore persists rewards. Creation is unique per (user, number);
// status changes are forward-only and state-guarded like installments.
type RewardStore interface {
	// GetReward returns the reward, or nil when absent.
	GetReward(ctx context.Context, userID string, number int) (*Reward, error)

	// CreateReward inserts a new reward. Fails with
	// ErrConcurrentModification if one exists for (UserID, Number).
	CreateReward(ctx context.Context, r Reward) error

	// UpdateRewardStatus advances a reward from one status to another.
	// Fails with ErrConcurrentModification unless the stored status
	// equals from.
	UpdateRewardStatus(ctx context.Context, userID string, number int, from, to RewardStatus, at time.Time) error

	// ListRewardsByUser returns a user's rewards ordered by number.
	ListRewardsByUser(ctx context.Context, userID string) ([]Reward, error)

	// CountRewards returns the total number of rewards. Pure read.
	CountRewards(ctx context.Context) (int, error)
}

// =============================================================================
// AUDIT STORE
// =============================================================================

// AuditStore persists audit entries. Append-only: no update, no delete.
type AuditStore interface {
	AppendAudit(ctx context.Context, e AuditEntry) error

	// ListAuditByActor returns entries recorded for one actor,
	// chronologically.
	ListAuditByActor(ctx context.Context, actorID string) ([]AuditEntry, error)

	// ListAuditByDateRange returns entries with At in [from, to],
	// chronologically.
	ListAuditByDateRange(ctx context.Context, from, to time.Time) ([]AuditEntry, error)
}
