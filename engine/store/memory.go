// Package store provides an in-memory implementation of the engine's
// store interfaces, used for tests and development.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/promomundial/verification-engine/auth"
	"github.com/promomundial/verification-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements InstallmentStore, RewardStore, AuditStore, and
// IdentityStore with a single mutex, which makes compare-and-set
// trivially atomic.
type Memory struct {
	mu           sync.RWMutex
	installments map[key]engine.Installment
	rewards      map[key]engine.Reward
	audit        []engine.AuditEntry
	users        map[string]auth.User      // by ID
	admins       map[string]auth.AdminActor // by username
}

type key struct {
	UserID string
	Number int
}

func NewMemory() *Memory {
	return &Memory{
		installments: make(map[key]engine.Installment),
		rewards:      make(map[key]engine.Reward),
		users:        make(map[string]auth.User),
		admins:       make(map[string]auth.AdminActor),
	}
}

// =============================================================================
// INSTALLMENT STORE
// =============================================================================

func (m *Memory) GetInstallment(_ context.Context, userID string, number int) (*engine.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.installments[key{userID, number}]
	if !ok {
		return nil, nil
	}
	cp := inst
	return &cp, nil
}

// PutInstallment commits only when the stored state matches expected.
// The check and the write happen under one lock, which is the whole
// point of this method.
func (m *Memory) PutInstallment(_ context.Context, inst engine.Installment, expected *engine.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{inst.UserID, inst.Number}
	current, exists := m.installments[k]

	if expected == nil {
		if exists {
			return engine.ErrConcurrentModification
		}
	} else {
		if !exists || current.State != *expected {
			return engine.ErrConcurrentModification
		}
	}

	m.installments[k] = inst
	return nil
}

func (m *Memory) ListInstallmentsByUser(_ context.Context, userID string) ([]engine.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.Installment
	for k, inst := range m.installments {
		if k.UserID == userID {
			result = append(result, inst)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result, nil
}

func (m *Memory) ListInstallmentsByState(_ context.Context, state engine.State) ([]engine.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.Installment
	for _, inst := range m.installments {
		if inst.State == state {
			result = append(result, inst)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SubmittedAt.Before(result[j].SubmittedAt)
	})
	return result, nil
}

func (m *Memory) CountInstallmentsByState(_ context.Context) (map[engine.State]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[engine.State]int)
	for _, inst := range m.installments {
		counts[inst.State]++
	}
	return counts, nil
}

// =============================================================================
// REWARD STORE
// =============================================================================

func (m *Memory) GetReward(_ context.Context, userID string, number int) (*engine.Reward, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rewards[key{userID, number}]
	if !ok {
		return nil, nil
	}
	cp := r
	return &cp, nil
}

func (m *Memory) CreateReward(_ context.Context, r engine.Reward) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{r.UserID, r.Number}
	if _, exists := m.rewards[k]; exists {
		return engine.ErrConcurrentModification
	}
	m.rewards[k] = r
	return nil
}

func (m *Memory) UpdateRewardStatus(_ context.Context, userID string, number int, from, to engine.RewardStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{userID, number}
	r, exists := m.rewards[k]
	if !exists || r.Status != from {
		return engine.ErrConcurrentModification
	}
	r.Status = to
	r.UpdatedAt = at
	m.rewards[k] = r
	return nil
}

func (m *Memory) ListRewardsByUser(_ context.Context, userID string) ([]engine.Reward, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.Reward
	for k, r := range m.rewards {
		if k.UserID == userID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result, nil
}

func (m *Memory) CountRewards(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rewards), nil
}

// =============================================================================
// AUDIT STORE
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, e engine.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

func (m *Memory) ListAuditByActor(_ context.Context, actorID string) ([]engine.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.AuditEntry
	for _, e := range m.audit {
		if e.ActorID != nil && *e.ActorID == actorID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *Memory) ListAuditByDateRange(_ context.Context, from, to time.Time) ([]engine.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.AuditEntry
	for _, e := range m.audit {
		if !e.At.Before(from) && !e.At.After(to) {
			result = append(result, e)
		}
	}
	return result, nil
}

// =============================================================================
// IDENTITY STORE
// =============================================================================

func (m *Memory) CreateUser(_ context.Context, u auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.DNI == u.DNI || strings.EqualFold(existing.Email, u.Email) {
			return engine.ErrConflict
		}
	}
	m.users[u.ID] = u
	return nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*auth.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetUserByID(_ context.Context, id string) (*auth.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := u
	return &cp, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]auth.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]auth.User, 0, len(m.users))
	for _, u := range m.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) CountUsers(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func (m *Memory) SaveAdmin(_ context.Context, a auth.AdminActor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admins[a.Username] = a
	return nil
}

func (m *Memory) GetAdminByUsername(_ context.Context, username string) (*auth.AdminActor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.admins[username]
	if !ok {
		return nil, nil
	}
	cp := a
	return &cp, nil
}
