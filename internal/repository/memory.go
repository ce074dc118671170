package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/waitlist-admin/internal/model"
)

// MemoryAccountRepo is a thread-safe in-memory AccountStore for tests and
// local development without MySQL.  Contents vanish with the process.
type MemoryAccountRepo struct {
	mu           sync.RWMutex
	nextID       uint64
	byID         map[uint64]*model.Account
	byIdentifier map[string]uint64
	now          func() time.Time
}

func NewMemoryAccountRepo() *MemoryAccountRepo {
	return &MemoryAccountRepo{
		byID:         map[uint64]*model.Account{},
		byIdentifier: map[string]uint64{},
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryAccountRepo) GetByIdentifier(_ context.Context, identifier string) (model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byIdentifier[NormalizeIdentifier(identifier)]
	if !ok {
		return model.Account{}, ErrAccountNotFound
	}
	return copyAccount(m.byID[id]), nil
}

func (m *MemoryAccountRepo) GetByID(_ context.Context, id uint64) (model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return model.Account{}, ErrAccountNotFound
	}
	return copyAccount(a), nil
}

func (m *MemoryAccountRepo) Create(_ context.Context, a model.Account) (uint64, error) {
	key := NormalizeIdentifier(a.Identifier)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byIdentifier[key]; exists {
		return 0, ErrIdentifierExists
	}
	m.nextID++
	now := m.now()
	a.ID = m.nextID
	a.Identifier = key
	a.Name = strings.TrimSpace(a.Name)
	a.CreatedAt, a.UpdatedAt = now, now
	m.byID[a.ID] = &a
	m.byIdentifier[key] = a.ID
	return a.ID, nil
}

func (m *MemoryAccountRepo) TouchLastLogin(_ context.Context, id uint64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	t := at.UTC()
	a.LastLoginAt = &t
	a.UpdatedAt = m.now()
	return nil
}

func (m *MemoryAccountRepo) SetActive(_ context.Context, id uint64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.Active = active
	a.UpdatedAt = m.now()
	return nil
}

func (m *MemoryAccountRepo) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID), nil
}

func copyAccount(a *model.Account) model.Account {
	out := *a
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		out.LastLoginAt = &t
	}
	return out
}
