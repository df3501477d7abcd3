/*
audit.go - Fire-and-forget audit recording

PURPOSE:
  Wraps the AuditStore so that callers never handle audit errors
  inline. A failed audit write must not roll back a correctly
  authorized state transition; it is logged and counted instead, and
  the counter feeds alerting.

SEE ALSO:
  - store.go: AuditStore persistence contract
  - workflow.go, ledger.go, rewards.go: Producers of entries
*/
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Recorder is the write side of the audit log. A nil *Recorder is
// valid and records nothing, which keeps tests that don't care about
// auditing quiet.
type Recorder struct {
	Store AuditStore

	failures atomic.Int64
}

// NewRecorder creates a recorder over the given store.
func NewRecorder(store AuditStore) *Recorder {
	return &Recorder{Store: store}
}

// Record appends one entry. Errors are swallowed by design: logged via
// zap and counted on the operational failure counter.
func (r *Recorder) Record(ctx context.Context, actorID *string, action AuditAction, userID string, number int, outcome string) {
	if r == nil || r.Store == nil {
		return
	}

	entry := AuditEntry{
		ID:      uuid.NewString(),
		ActorID: actorID,
		Action:  action,
		UserID:  userID,
		Number:  number,
		Outcome: outcome,
		At:      time.Now().UTC(),
	}

	if err := r.Store.AppendAudit(ctx, entry); err != nil {
		r.failures.Add(1)
		zap.L().Error("audit write failed",
			zap.String("action", string(action)),
			zap.String("user_id", userID),
			zap.Int("number", number),
			zap.Error(err))
	}
}

// Failures returns the number of audit writes lost since startup.
func (r *Recorder) Failures() int64 {
	if r == nil {
		return 0
	}
	return r.failures.Load()
}

// ListByActor returns the entries recorded for one actor.
func (r *Recorder) ListByActor(ctx context.Context, actorID string) ([]AuditEntry, error) {
	return r.Store.ListAuditByActor(ctx, actorID)
}

// ListByDateRange returns the entries with At in [from, to].
func (r *Recorder) ListByDateRange(ctx context.Context, from, to time.Time) ([]AuditEntry, error) {
	return r.Store.ListAuditByDateRange(ctx, from, to)
}
