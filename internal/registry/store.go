package registry

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Store persists recipient profiles.
type Store interface {
	Create(ctx context.Context, profile *Profile) error
	GetByWallet(ctx context.Context, wallet string) (*Profile, error)
	GetByUsername(ctx context.Context, username string) (*Profile, error)
	Update(ctx context.Context, profile *Profile) error
}

// MemoryStore is an in-memory profile store for demo/development mode.
type MemoryStore struct {
	byWallet   map[string]*Profile
	byUsername map[string]string // username -> wallet
	mu         sync.RWMutex
}

// NewMemoryStore creates a new in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byWallet:   make(map[string]*Profile),
		byUsername: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, profile *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wallet := strings.ToLower(profile.Wallet)
	username := strings.ToLower(profile.Username)
	if _, exists := m.byWallet[wallet]; exists {
		return ErrProfileExists
	}
	if _, exists := m.byUsername[username]; exists {
		return ErrUsernameTaken
	}

	cp := *profile
	cp.Wallet = wallet
	cp.Username = username
	m.byWallet[wallet] = &cp
	m.byUsername[username] = wallet
	return nil
}

func (m *MemoryStore) GetByWallet(ctx context.Context, wallet string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	profile, exists := m.byWallet[strings.ToLower(wallet)]
	if !exists {
		return nil, ErrProfileNotFound
	}
	cp := *profile
	return &cp, nil
}

func (m *MemoryStore) GetByUsername(ctx context.Context, username string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wallet, exists := m.byUsername[strings.ToLower(username)]
	if !exists {
		return nil, ErrProfileNotFound
	}
	cp := *m.byWallet[wallet]
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, profile *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wallet := strings.ToLower(profile.Wallet)
	existing, exists := m.byWallet[wallet]
	if !exists {
		return ErrProfileNotFound
	}

	username := strings.ToLower(profile.Username)
	if username != existing.Username {
		if _, taken := m.byUsername[username]; taken {
			return ErrUsernameTaken
		}
		delete(m.byUsername, existing.Username)
		m.byUsername[username] = wallet
	}

	cp := *profile
	cp.Wallet = wallet
	cp.Username = username
	cp.UpdatedAt = time.Now()
	m.byWallet[wallet] = &cp
	return nil
}
