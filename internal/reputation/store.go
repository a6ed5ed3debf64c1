package reputation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store persists the event log, vouches, blocks, and snapshots.
type Store interface {
	AppendEvent(ctx context.Context, ev *Event) error
	// ListEvents returns the wallet's events at or after since.
	ListEvents(ctx context.Context, wallet string, since time.Time) ([]*Event, error)

	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	GetSnapshot(ctx context.Context, wallet string) (*Snapshot, error)

	CreateVouch(ctx context.Context, v *Vouch) error
	ListVouchesFor(ctx context.Context, vouchee string) ([]*Vouch, error)
	CountVouchesBy(ctx context.Context, voucher string, since time.Time) (int, error)

	CreateBlock(ctx context.Context, b *Block) error
}

// MemoryStore is an in-memory reputation store for demo/development mode.
type MemoryStore struct {
	events    []*Event
	snapshots map[string]*Snapshot
	vouches   map[string]*Vouch // voucher|vouchee
	blocks    map[string]*Block // blocker|blocked
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory reputation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]*Snapshot),
		vouches:   make(map[string]*Vouch),
		blocks:    make(map[string]*Block),
	}
}

func (m *MemoryStore) AppendEvent(ctx context.Context, ev *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *ev
	cp.Wallet = strings.ToLower(ev.Wallet)
	m.events = append(m.events, &cp)
	return nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, wallet string, since time.Time) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addr := strings.ToLower(wallet)
	var result []*Event
	for _, ev := range m.events {
		if ev.Wallet == addr && !ev.OccurredAt.Before(since) {
			cp := *ev
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OccurredAt.Before(result[j].OccurredAt)
	})
	return result, nil
}

func (m *MemoryStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *snap
	cp.Wallet = strings.ToLower(snap.Wallet)
	m.snapshots[cp.Wallet] = &cp
	return nil
}

func (m *MemoryStore) GetSnapshot(ctx context.Context, wallet string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.snapshots[strings.ToLower(wallet)]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	cp := *snap
	return &cp, nil
}

func (m *MemoryStore) CreateVouch(ctx context.Context, v *Vouch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(v.Voucher) + "|" + strings.ToLower(v.Vouchee)
	if _, exists := m.vouches[key]; exists {
		return ErrDuplicateVouch
	}
	cp := *v
	cp.Voucher = strings.ToLower(v.Voucher)
	cp.Vouchee = strings.ToLower(v.Vouchee)
	m.vouches[key] = &cp
	return nil
}

func (m *MemoryStore) ListVouchesFor(ctx context.Context, vouchee string) ([]*Vouch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addr := strings.ToLower(vouchee)
	var result []*Vouch
	for _, v := range m.vouches {
		if v.Vouchee == addr {
			cp := *v
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) CountVouchesBy(ctx context.Context, voucher string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addr := strings.ToLower(voucher)
	count := 0
	for _, v := range m.vouches {
		if v.Voucher == addr && !v.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) CreateBlock(ctx context.Context, b *Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(b.Blocker) + "|" + strings.ToLower(b.Blocked)
	if _, exists := m.blocks[key]; exists {
		return ErrDuplicateBlock
	}
	cp := *b
	cp.Blocker = strings.ToLower(b.Blocker)
	cp.Blocked = strings.ToLower(b.Blocked)
	m.blocks[key] = &cp
	return nil
}
