/*
rewards.go - Reward unlock engine and post-unlock lifecycle

PURPOSE:
  Creates exactly one reward per validated installment. Unlock is the
  only creation path: no handler, import, or migration writes a reward
  directly.

IDEMPOTENCY:
  Unlock(user, number) returns the existing reward unchanged when one
  already exists. This protects the workflow against retries after a
  crash between the state commit and the unlock, and makes concurrent
  duplicate approvals converge on one reward.

LIFECYCLE (outside the verification state machine):
  ready -> claimed (owning user) -> dispatched -> delivered (owner role)
  Forward-only; skipping or reversing a stage fails with InvalidState.

RECONCILE:
  Repairs the validated-without-reward gap left by a crash: walks all
  validated installments and unlocks any missing reward. Run at
  startup. Safe to run any number of times.

SEE ALSO:
  - workflow.go: The only caller of Unlock in the request path
  - store.go: CreateReward uniqueness contract
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RewardService owns reward rows.
type RewardService struct {
	Store        RewardStore
	Installments InstallmentStore
	Audit        *Recorder

	Now func() time.Time
}

// NewRewardService creates the unlock engine over the given stores.
func NewRewardService(rewards RewardStore, installments InstallmentStore, audit *Recorder) *RewardService {
	return &RewardService{Store: rewards, Installments: installments, Audit: audit, Now: time.Now}
}

// Unlock creates the reward for a validated installment, or returns the
// existing one unchanged. Never creates a duplicate.
func (rs *RewardService) Unlock(ctx context.Context, userID string, number int) (*Reward, error) {
	existing, err := rs.Store.GetReward(ctx, userID, number)
	if err != nil {
		return nil, fmt.Errorf("%w: loading reward: %v", ErrInternal, err)
	}
	if existing != nil {
		return existing, nil
	}

	now := rs.Now().UTC()
	reward := Reward{
		ID:        uuid.NewString(),
		UserID:    userID,
		Number:    number,
		Status:    StatusReady,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := rs.Store.CreateReward(ctx, reward); err != nil {
		if IsRetryable(err) {
			// A concurrent unlock won the insert. Return its reward.
			winner, gerr := rs.Store.GetReward(ctx, userID, number)
			if gerr != nil || winner == nil {
				return nil, fmt.Errorf("%w: reward exists but could not be loaded: %v", ErrInternal, gerr)
			}
			return winner, nil
		}
		return nil, fmt.Errorf("%w: creating reward: %v", ErrInternal, err)
	}

	rs.Audit.Record(ctx, nil, AuditRewardUnlock, userID, number, "ok")
	return &reward, nil
}

// Claim moves a ready reward to claimed. Only the owning user claims.
func (rs *RewardService) Claim(ctx context.Context, actor Principal, userID string, number int) (*Reward, error) {
	if actor.Role != RoleClient || actor.ID != userID {
		return nil, &ForbiddenError{Role: actor.Role, Event: "claim"}
	}
	reward, err := rs.advance(ctx, userID, number, StatusReady, StatusClaimed)
	if err != nil {
		return nil, err
	}
	rs.Audit.Record(ctx, &actor.ID, AuditRewardClaim, userID, number, "ok")
	return reward, nil
}

// Forward advances a claimed reward along dispatch and delivery. Owner
// only; forward-only.
func (rs *RewardService) Forward(ctx context.Context, actor Principal, userID string, number int, to RewardStatus) (*Reward, error) {
	if actor.Role != RoleOwner {
		return nil, &ForbiddenError{Role: actor.Role, Event: "forward"}
	}
	order, ok := rewardStatusOrder[to]
	if !ok || order < rewardStatusOrder[StatusDispatched] {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("cannot forward to %q", to)}
	}

	var from RewardStatus
	switch to {
	case StatusDispatched:
		from = StatusClaimed
	case StatusDelivered:
		from = StatusDispatched
	}

	reward, err := rs.advance(ctx, userID, number, from, to)
	if err != nil {
		return nil, err
	}
	rs.Audit.Record(ctx, &actor.ID, AuditRewardForward, userID, number, "ok")
	return reward, nil
}

// advance runs one forward-only status change through the store CAS.
func (rs *RewardService) advance(ctx context.Context, userID string, number int, from, to RewardStatus) (*Reward, error) {
	reward, err := rs.Store.GetReward(ctx, userID, number)
	if err != nil {
		return nil, fmt.Errorf("%w: loading reward: %v", ErrInternal, err)
	}
	if reward == nil {
		return nil, fmt.Errorf("%w: reward %s/%d", ErrNotFound, userID, number)
	}
	if reward.Status != from {
		return nil, &InvalidStateError{UserID: userID, Number: number, Current: State(reward.Status), Attempted: Event(to)}
	}

	now := rs.Now().UTC()
	if err := rs.Store.UpdateRewardStatus(ctx, userID, number, from, to, now); err != nil {
		if IsRetryable(err) {
			return nil, &InvalidStateError{UserID: userID, Number: number, Current: State(reward.Status), Attempted: Event(to)}
		}
		return nil, fmt.Errorf("%w: updating reward: %v", ErrInternal, err)
	}

	reward.Status = to
	reward.UpdatedAt = now
	return reward, nil
}

// ListByUser returns the user's rewards ordered by installment number.
func (rs *RewardService) ListByUser(ctx context.Context, userID string) ([]Reward, error) {
	items, err := rs.Store.ListRewardsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing rewards: %v", ErrInternal, err)
	}
	return items, nil
}

// Reconcile unlocks the missing reward for every validated installment.
// Run at startup to repair a crash between state commit and unlock.
func (rs *RewardService) Reconcile(ctx context.Context) (int, error) {
	validated, err := rs.Installments.ListInstallmentsByState(ctx, StateValidated)
	if err != nil {
		return 0, fmt.Errorf("%w: listing validated installments: %v", ErrInternal, err)
	}

	repaired := 0
	for _, inst := range validated {
		existing, err := rs.Store.GetReward(ctx, inst.UserID, inst.Number)
		if err != nil {
			return repaired, fmt.Errorf("%w: loading reward: %v", ErrInternal, err)
		}
		if existing != nil {
			continue
		}
		if _, err := rs.Unlock(ctx, inst.UserID, inst.Number); err != nil {
			return repaired, err
		}
		zap.L().Info("reconciled missing reward",
			zap.String("user_id", inst.UserID),
			zap.Int("number", inst.Number))
		repaired++
	}
	return repaired, nil
}
