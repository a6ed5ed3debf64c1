package messages

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/bidbox/internal/pagination"
)

// MemoryStore is an in-memory message store for demo/development mode.
type MemoryStore struct {
	messages map[string]*Message
	auths    map[string]*PaymentAuthorization // keyed by message ID
	nonces   map[string]string                // nonce -> message ID
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory message store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*Message),
		auths:    make(map[string]*PaymentAuthorization),
		nonces:   make(map[string]string),
	}
}

func (m *MemoryStore) CreateEscrow(ctx context.Context, msg *Message, auth *PaymentAuthorization) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	nonce := strings.ToLower(auth.Nonce)
	if _, ok := m.nonces[nonce]; ok {
		return ErrNonceReplayed
	}

	mc := *msg
	ac := *auth
	m.messages[msg.ID] = &mc
	m.auths[msg.ID] = &ac
	m.nonces[nonce] = msg.ID
	return nil
}

func (m *MemoryStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	cp := copyMessage(msg)
	return cp, nil
}

func (m *MemoryStore) GetAuthorization(ctx context.Context, messageID string) (*PaymentAuthorization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	auth, ok := m.auths[messageID]
	if !ok {
		return nil, ErrAuthNotFound
	}
	cp := *auth
	return &cp, nil
}

func (m *MemoryStore) Transition(ctx context.Context, from Status, msg *Message, auth *PaymentAuthorization) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.messages[msg.ID]
	if !ok {
		return ErrMessageNotFound
	}
	if stored.Status != from {
		return ErrStateConflict
	}

	mc := *msg
	m.messages[msg.ID] = &mc
	if auth != nil {
		ac := *auth
		m.auths[msg.ID] = &ac
	}
	return nil
}

func (m *MemoryStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Message
	for _, msg := range m.messages {
		if msg.Status != StatusPending || msg.OpenedAt != nil {
			continue
		}
		if !msg.ExpiresAt.Before(before) {
			continue
		}
		result = append(result, copyMessage(msg))
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) ListByWallet(ctx context.Context, wallet string, before *pagination.Cursor, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addr := strings.ToLower(wallet)
	var result []*Message
	for _, msg := range m.messages {
		if msg.SenderAddr != addr && msg.RecipientAddr != addr {
			continue
		}
		if before != nil && !olderThan(msg, before) {
			continue
		}
		result = append(result, copyMessage(msg))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].SentAt.Equal(result[j].SentAt) {
			return result[i].SentAt.After(result[j].SentAt)
		}
		return result[i].ID > result[j].ID
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// olderThan reports whether msg sorts strictly after the cursor position in
// (sentAt DESC, id DESC) order.
func olderThan(msg *Message, c *pagination.Cursor) bool {
	if msg.SentAt.Equal(c.CreatedAt) {
		return msg.ID < c.ID
	}
	return msg.SentAt.Before(c.CreatedAt)
}

func (m *MemoryStore) ListPendingBids(ctx context.Context, recipient string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addr := strings.ToLower(recipient)
	var bids []string
	for _, msg := range m.messages {
		if msg.RecipientAddr == addr && msg.Status == StatusPending {
			bids = append(bids, msg.BidUsd)
		}
	}
	return bids, nil
}

func (m *MemoryStore) ListRecentAccepted(ctx context.Context, recipient string, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addr := strings.ToLower(recipient)
	var accepted []*Message
	for _, msg := range m.messages {
		if msg.RecipientAddr != addr {
			continue
		}
		if msg.Status == StatusAccepted || msg.Status == StatusReplied {
			accepted = append(accepted, msg)
		}
	}
	sort.Slice(accepted, func(i, j int) bool {
		ai, aj := accepted[i].AcceptedAt, accepted[j].AcceptedAt
		if ai == nil || aj == nil {
			return aj == nil
		}
		return ai.After(*aj)
	})
	if len(accepted) > limit {
		accepted = accepted[:limit]
	}
	bids := make([]string, 0, len(accepted))
	for _, msg := range accepted {
		bids = append(bids, msg.BidUsd)
	}
	return bids, nil
}

// copyMessage returns a deep copy to prevent races on the shared pointer.
func copyMessage(msg *Message) *Message {
	cp := *msg
	cp.OpenedAt = copyTime(msg.OpenedAt)
	cp.RepliedAt = copyTime(msg.RepliedAt)
	cp.AcceptedAt = copyTime(msg.AcceptedAt)
	cp.DeclinedAt = copyTime(msg.DeclinedAt)
	cp.RefundedAt = copyTime(msg.RefundedAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
