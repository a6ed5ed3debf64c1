package messages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/mbd888/bidbox/internal/chain"
	"github.com/mbd888/bidbox/internal/idgen"
	"github.com/mbd888/bidbox/internal/logging"
	"github.com/mbd888/bidbox/internal/metrics"
	"github.com/mbd888/bidbox/internal/pagination"
	"github.com/mbd888/bidbox/internal/token"
	"github.com/mbd888/bidbox/internal/traces"
)

// EventRecorder logs behavioral events for reputation scoring. Implemented
// by the reputation service; logging an event and refreshing the snapshot is
// a single operation on that side.
type EventRecorder interface {
	RecordMessageEvent(ctx context.Context, eventType string, msg *Message) error
}

// Notifier pushes escrow transitions to connected clients.
type Notifier interface {
	NotifyTransition(msg *Message)
}

// RefundReasonExpired marks messages swept after their SLA passed unopened.
const RefundReasonExpired = "SLA expired"

// CreateRequest carries the verified inputs for a new escrow.
type CreateRequest struct {
	SenderAddr     string
	SenderName     string
	RecipientAddr  string
	Content        string
	BidUsd         string
	ReplyBountyUsd string
	ExpiresInHours int
	Asset          token.Asset
	Authorization  *chain.Authorization
}

// Service implements the escrow state machine. All mutual exclusion is
// optimistic: transitions re-check the stored status as part of their atomic
// persistence, so no in-process lock is held across slow chain calls.
type Service struct {
	store    Store
	adapter  chain.Adapter
	recorder EventRecorder
	notifier Notifier
}

// NewService creates an escrow service.
func NewService(store Store, adapter chain.Adapter) *Service {
	return &Service{store: store, adapter: adapter}
}

// WithRecorder adds an event recorder for reputation integration.
func (s *Service) WithRecorder(r EventRecorder) *Service {
	s.recorder = r
	return s
}

// WithNotifier adds a realtime transition notifier.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// Create persists a pending Message and its authorized escrow record
// atomically. Invoked only after the authorization verified.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Message, error) {
	if req.ExpiresInHours < MinExpiryHours || req.ExpiresInHours > MaxExpiryHours {
		return nil, fmt.Errorf("%w: expiresInHours must be within [%d, %d]",
			ErrInvalidStatus, MinExpiryHours, MaxExpiryHours)
	}
	if req.Authorization == nil {
		return nil, fmt.Errorf("%w: missing authorization", ErrInvalidStatus)
	}

	ctx, span := traces.StartSpan(ctx, "messages.Create",
		traces.Wallet(strings.ToLower(req.SenderAddr)), traces.BidUsd(req.BidUsd))
	defer span.End()

	now := time.Now()
	msg := &Message{
		ID:             idgen.WithPrefix("msg_"),
		SenderAddr:     strings.ToLower(req.SenderAddr),
		SenderName:     req.SenderName,
		RecipientAddr:  strings.ToLower(req.RecipientAddr),
		Content:        req.Content,
		BidUsd:         req.BidUsd,
		ReplyBountyUsd: req.ReplyBountyUsd,
		Status:         StatusPending,
		SentAt:         now,
		ExpiresAt:      now.Add(time.Duration(req.ExpiresInHours) * time.Hour),
		UpdatedAt:      now,
	}

	auth := &PaymentAuthorization{
		MessageID:     msg.ID,
		ChainID:       req.Authorization.ChainID,
		TokenAddress:  strings.ToLower(req.Authorization.TokenAddress),
		AmountUnits:   req.Authorization.Amount.String(),
		AmountUsd:     token.FormatAmount(req.Authorization.Amount, req.Asset.Decimals),
		SenderAddr:    strings.ToLower(req.Authorization.Sender),
		RecipientAddr: strings.ToLower(req.Authorization.Recipient),
		Nonce:         strings.ToLower(req.Authorization.Nonce),
		V:             req.Authorization.V,
		R:             req.Authorization.R,
		S:             req.Authorization.S,
		ValidAfter:    req.Authorization.ValidAfter,
		ValidBefore:   req.Authorization.ValidBefore,
		Status:        AuthAuthorized,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.CreateEscrow(ctx, msg, auth); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "escrow persist failed")
		return nil, err
	}

	metrics.MessagesTotal.WithLabelValues(string(StatusPending)).Inc()
	s.record(ctx, "sent", msg)
	s.notify(msg)
	return msg, nil
}

// Open marks a pending message opened by its recipient. Opened messages are
// no longer eligible for the expiry sweep.
func (s *Service) Open(ctx context.Context, id, callerAddr string) (*Message, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(callerAddr, msg.RecipientAddr) {
		return nil, ErrNotRecipient
	}
	if msg.IsTerminal() {
		return nil, ErrStateConflict
	}
	if msg.Status != StatusPending {
		// Already opened; report current state, nothing to do.
		return msg, nil
	}

	now := time.Now()
	msg.Status = StatusOpened
	msg.OpenedAt = &now
	msg.UpdatedAt = now

	if err := s.store.Transition(ctx, StatusPending, msg, nil); err != nil {
		return nil, err
	}

	s.record(ctx, "opened", msg)
	s.notify(msg)
	return msg, nil
}

// Accept settles the escrowed authorization on-chain and marks the message
// accepted. This is the only point in the lifecycle where funds move; every
// prior step was off-chain signature exchange.
//
// The chain call happens before the state commit and outside any lock. If
// the call fails the record is left untouched and the caller retries. If the
// commit loses a race the caller gets ErrStateConflict.
func (s *Service) Accept(ctx context.Context, id, callerAddr string) (*Message, *PaymentAuthorization, error) {
	msg, auth, err := s.loadForDecision(ctx, id, callerAddr)
	if err != nil {
		return nil, nil, err
	}
	from := msg.Status

	ctx, span := traces.StartSpan(ctx, "messages.Accept",
		traces.MessageID(msg.ID), traces.BidUsd(msg.BidUsd), traces.Nonce(auth.Nonce))
	defer span.End()

	txHash, err := s.adapter.Settle(ctx, authToChain(auth))
	if err != nil {
		// Nothing committed; message stays pending and the recipient retries.
		metrics.SettlementsTotal.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "settlement failed")
		return nil, nil, fmt.Errorf("%w: %v", ErrSettlementFail, err)
	}

	span.SetAttributes(traces.TxHash(txHash))

	now := time.Now()
	msg.Status = StatusAccepted
	msg.AcceptedAt = &now
	msg.UpdatedAt = now
	auth.Status = AuthSettled
	auth.SettlementTxHash = txHash
	auth.UpdatedAt = now

	if err := s.store.Transition(ctx, from, msg, auth); err != nil {
		// Funds moved but the record was resolved by a racing transition.
		// Surface loudly: this needs manual reconciliation, not a silent
		// overwrite of the winner.
		logging.L(ctx).Error("settlement committed on-chain but state transition lost",
			"message_id", msg.ID, "tx_hash", txHash, "error", err)
		return nil, nil, err
	}

	metrics.MessagesTotal.WithLabelValues(string(StatusAccepted)).Inc()
	metrics.SettlementsTotal.WithLabelValues("settled").Inc()
	metrics.EscrowHoldDuration.Observe(now.Sub(msg.SentAt).Seconds())
	s.notify(msg)
	return msg, auth, nil
}

// Decline voids the escrow. No chain call: funds were never collected, only
// a signed permission existed, so declining is purely a record change.
func (s *Service) Decline(ctx context.Context, id, callerAddr, note string) (*Message, error) {
	msg, auth, err := s.loadForDecision(ctx, id, callerAddr)
	if err != nil {
		return nil, err
	}
	from := msg.Status

	now := time.Now()
	msg.Status = StatusDeclined
	msg.DeclinedAt = &now
	msg.RefundReason = note
	msg.UpdatedAt = now
	auth.Status = AuthUnused
	auth.UpdatedAt = now

	if err := s.store.Transition(ctx, from, msg, auth); err != nil {
		return nil, err
	}

	metrics.MessagesTotal.WithLabelValues(string(StatusDeclined)).Inc()
	s.record(ctx, "refunded", msg)
	s.notify(msg)
	return msg, nil
}

// Reply marks an accepted message as answered.
func (s *Service) Reply(ctx context.Context, id, callerAddr string) (*Message, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(callerAddr, msg.RecipientAddr) {
		return nil, ErrNotRecipient
	}
	if msg.Status != StatusAccepted {
		return nil, ErrStateConflict
	}

	now := time.Now()
	msg.Status = StatusReplied
	msg.RepliedAt = &now
	msg.UpdatedAt = now

	if err := s.store.Transition(ctx, StatusAccepted, msg, nil); err != nil {
		return nil, err
	}

	s.record(ctx, "replied", msg)
	s.notify(msg)
	return msg, nil
}

// Expire resolves a pending, unopened message whose SLA passed. Funds never
// left the sender's custody, so no transfer is reversed: the authorization
// simply dies with the offer and the refund is a status change.
func (s *Service) Expire(ctx context.Context, msg *Message) error {
	// Re-read: the sweeper may hold a stale snapshot.
	fresh, err := s.store.GetMessage(ctx, msg.ID)
	if err != nil {
		return err
	}
	if fresh.Status != StatusPending || fresh.OpenedAt != nil {
		return ErrStateConflict
	}
	if time.Now().Before(fresh.ExpiresAt) {
		return ErrInvalidStatus
	}

	now := time.Now()
	fresh.Status = StatusExpired
	fresh.RefundedAt = &now
	fresh.RefundReason = RefundReasonExpired
	fresh.UpdatedAt = now

	if err := s.store.Transition(ctx, StatusPending, fresh, nil); err != nil {
		return err
	}

	metrics.MessagesTotal.WithLabelValues(string(StatusExpired)).Inc()
	s.record(ctx, "refunded", fresh)
	s.notify(fresh)
	return nil
}

// Get returns a message by ID.
func (s *Service) Get(ctx context.Context, id string) (*Message, error) {
	return s.store.GetMessage(ctx, id)
}

// GetAuthorization returns the escrow record for a message.
func (s *Service) GetAuthorization(ctx context.Context, messageID string) (*PaymentAuthorization, error) {
	return s.store.GetAuthorization(ctx, messageID)
}

// ListByWallet returns a page of messages a wallet sent or received, newest
// first, plus the cursor for the next page ("" on the last page).
func (s *Service) ListByWallet(ctx context.Context, wallet, cursor string, limit int) ([]*Message, string, error) {
	if limit <= 0 {
		limit = 50
	}
	before, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", ErrInvalidCursor
	}

	// Fetch one past the limit to learn whether another page exists.
	msgs, err := s.store.ListByWallet(ctx, strings.ToLower(wallet), before, limit+1)
	if err != nil {
		return nil, "", err
	}
	page, next, _ := pagination.ComputePage(msgs, limit, func(m *Message) (time.Time, string) {
		return m.SentAt, m.ID
	})
	return page, next, nil
}

// loadForDecision loads a message plus escrow record and checks the shared
// accept/decline preconditions.
func (s *Service) loadForDecision(ctx context.Context, id, callerAddr string) (*Message, *PaymentAuthorization, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !strings.EqualFold(callerAddr, msg.RecipientAddr) {
		return nil, nil, ErrNotRecipient
	}
	if msg.IsTerminal() {
		return nil, nil, ErrStateConflict
	}
	if msg.Status != StatusPending && msg.Status != StatusOpened {
		return nil, nil, ErrInvalidStatus
	}

	auth, err := s.store.GetAuthorization(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if auth.Status != AuthAuthorized {
		return nil, nil, ErrStateConflict
	}
	return msg, auth, nil
}

func (s *Service) record(ctx context.Context, eventType string, msg *Message) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordMessageEvent(ctx, eventType, msg); err != nil {
		logging.L(ctx).Warn("failed to record reputation event",
			"message_id", msg.ID, "event", eventType, "error", err)
	}
}

func (s *Service) notify(msg *Message) {
	if s.notifier != nil {
		s.notifier.NotifyTransition(msg)
	}
}

func authToChain(a *PaymentAuthorization) *chain.Authorization {
	amount, _ := token.ParseUnits(a.AmountUnits)
	return &chain.Authorization{
		ChainID:      a.ChainID,
		TokenAddress: a.TokenAddress,
		Sender:       a.SenderAddr,
		Recipient:    a.RecipientAddr,
		Amount:       amount,
		Nonce:        a.Nonce,
		ValidAfter:   a.ValidAfter,
		ValidBefore:  a.ValidBefore,
		V:            a.V,
		R:            a.R,
		S:            a.S,
	}
}
