/*
stats.go - Read-only aggregates for reporting collaborators

Pure reads over installment and reward state; no side effects.
*/
package engine

import (
	"context"
	"fmt"
)

// Stats is the aggregate snapshot reporting layers consume.
type Stats struct {
	InstallmentsPending   int
	InstallmentsValidated int
	InstallmentsRejected  int
	RewardsTotal          int
	AuditWriteFailures    int64
}

// ClientCounts is the per-user breakdown for the admin client listing.
type ClientCounts struct {
	Pending   int
	Validated int
	Rejected  int
}

// StatsService exposes aggregate queries over the engine's stores.
type StatsService struct {
	Installments InstallmentStore
	Rewards      RewardStore
	Audit        *Recorder
}

// Snapshot returns current totals.
func (s *StatsService) Snapshot(ctx context.Context) (*Stats, error) {
	byState, err := s.Installments.CountInstallmentsByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: counting installments: %v", ErrInternal, err)
	}
	rewards, err := s.Rewards.CountRewards(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: counting rewards: %v", ErrInternal, err)
	}

	return &Stats{
		InstallmentsPending:   byState[StatePending],
		InstallmentsValidated: byState[StateValidated],
		InstallmentsRejected:  byState[StateRejected],
		RewardsTotal:          rewards,
		AuditWriteFailures:    s.Audit.Failures(),
	}, nil
}

// CountsForUser returns one user's per-state installment counts.
func (s *StatsService) CountsForUser(ctx context.Context, userID string) (*ClientCounts, error) {
	items, err := s.Installments.ListInstallmentsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing installments: %v", ErrInternal, err)
	}

	var counts ClientCounts
	for _, inst := range items {
		switch inst.State {
		case StatePending:
			counts.Pending++
		case StateValidated:
			counts.Validated++
		case StateRejected:
			counts.Rejected++
		}
	}
	return &counts, nil
}
