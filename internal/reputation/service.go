package reputation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/bidbox/internal/idgen"
	"github.com/mbd888/bidbox/internal/logging"
	"github.com/mbd888/bidbox/internal/messages"
	"github.com/mbd888/bidbox/internal/metrics"
	"github.com/mbd888/bidbox/internal/syncutil"
)

// Service appends events and keeps snapshots current. Logging an event and
// recomputing the affected snapshots is one operation: callers never see a
// snapshot that lags the log.
type Service struct {
	store  Store
	engine *Engine

	// recomputeMu serializes recomputes per wallet so a recompute that read
	// an older log cannot overwrite a snapshot derived from a newer one.
	recomputeMu *syncutil.ContextShardedMutex
}

// NewService creates a reputation service.
func NewService(store Store) *Service {
	return &Service{
		store:       store,
		engine:      NewEngine(),
		recomputeMu: syncutil.NewContextShardedMutex(),
	}
}

// RecordMessageEvent maps a message transition to events for both parties and
// recomputes their snapshots. Implements the escrow service's recorder hook.
func (s *Service) RecordMessageEvent(ctx context.Context, eventType string, msg *messages.Message) error {
	now := time.Now()
	var events []*Event

	switch eventType {
	case "sent":
		events = []*Event{
			s.newEvent(msg.SenderAddr, EventSent, DirSent, msg.ID, now),
			s.newEvent(msg.RecipientAddr, EventDelivered, DirReceived, msg.ID, now),
		}
	case "opened":
		events = []*Event{
			s.newEvent(msg.SenderAddr, EventOpened, DirSent, msg.ID, now),
			s.newEvent(msg.RecipientAddr, EventOpened, DirReceived, msg.ID, now),
		}
	case "replied":
		events = []*Event{
			s.newEvent(msg.SenderAddr, EventReplied, DirSent, msg.ID, now),
			s.newEvent(msg.RecipientAddr, EventReplied, DirReceived, msg.ID, now),
		}
	case "refunded":
		events = []*Event{
			s.newEvent(msg.SenderAddr, EventRefunded, DirSent, msg.ID, now),
			s.newEvent(msg.RecipientAddr, EventRefunded, DirReceived, msg.ID, now),
		}
	default:
		return fmt.Errorf("reputation: unknown message event %q", eventType)
	}

	for _, ev := range events {
		if err := s.store.AppendEvent(ctx, ev); err != nil {
			return err
		}
	}
	return s.refreshAll(ctx, msg.SenderAddr, msg.RecipientAddr)
}

// Get returns the wallet's snapshot, computing one on the spot if the wallet
// has no cached standing yet.
func (s *Service) Get(ctx context.Context, wallet string) (*Snapshot, error) {
	wallet = strings.ToLower(wallet)
	snap, err := s.store.GetSnapshot(ctx, wallet)
	if err == nil {
		return snap, nil
	}
	if err != ErrSnapshotNotFound {
		return nil, err
	}
	return s.Recompute(ctx, wallet)
}

// Vouch creates an endorsement. The weight is the voucher's current
// recipient score over 100, frozen at creation.
func (s *Service) Vouch(ctx context.Context, voucher, vouchee string) (*Vouch, error) {
	voucher = strings.ToLower(voucher)
	vouchee = strings.ToLower(vouchee)
	if voucher == vouchee {
		return nil, ErrSelfVouch
	}

	voucherSnap, err := s.Get(ctx, voucher)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	v := &Vouch{
		Voucher:   voucher,
		Vouchee:   vouchee,
		Weight:    voucherSnap.RecipientScore / 100,
		CreatedAt: now,
	}
	if err := s.store.CreateVouch(ctx, v); err != nil {
		return nil, err
	}

	ev := s.newEvent(vouchee, EventVouched, DirReceived, "", now)
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		return nil, err
	}

	// The vouchee gains standing; the voucher's contribution changed too.
	if err := s.refreshAll(ctx, vouchee, voucher); err != nil {
		return nil, err
	}
	return v, nil
}

// Block records a negative signal from blocker against blocked.
func (s *Service) Block(ctx context.Context, blocker, blocked, reason string) (*Block, error) {
	blocker = strings.ToLower(blocker)
	blocked = strings.ToLower(blocked)

	now := time.Now()
	b := &Block{
		Blocker:   blocker,
		Blocked:   blocked,
		Reason:    reason,
		CreatedAt: now,
	}
	if err := s.store.CreateBlock(ctx, b); err != nil {
		return nil, err
	}

	ev := s.newEvent(blocked, EventBlocked, DirSent, "", now)
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		return nil, err
	}

	if err := s.refreshAll(ctx, blocked); err != nil {
		return nil, err
	}
	return b, nil
}

// Recompute rebuilds the wallet's snapshot from the event log and persists
// it. Recomputes of the same wallet are serialized; each holds the wallet's
// lock from log read through snapshot save.
func (s *Service) Recompute(ctx context.Context, wallet string) (*Snapshot, error) {
	wallet = strings.ToLower(wallet)

	unlock, err := s.recomputeMu.LockContext(ctx, wallet)
	if err != nil {
		return nil, err
	}
	defer unlock()

	since := time.Now().AddDate(0, 0, -LookbackDays)

	events, err := s.store.ListEvents(ctx, wallet, since)
	if err != nil {
		return nil, err
	}
	vouches, err := s.store.ListVouchesFor(ctx, wallet)
	if err != nil {
		return nil, err
	}
	given, err := s.store.CountVouchesBy(ctx, wallet, since)
	if err != nil {
		return nil, err
	}

	snap := s.engine.Compute(wallet, Inputs{
		Events:          events,
		VouchesReceived: vouches,
		VouchesGiven:    given,
	})
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	metrics.ReputationRecomputesTotal.Inc()
	return snap, nil
}

func (s *Service) refreshAll(ctx context.Context, wallets ...string) error {
	for _, w := range wallets {
		if _, err := s.Recompute(ctx, w); err != nil {
			logging.L(ctx).Warn("failed to recompute reputation snapshot",
				"wallet", w, "error", err)
			return err
		}
	}
	return nil
}

func (s *Service) newEvent(wallet string, t EventType, d Direction, messageID string, at time.Time) *Event {
	return &Event{
		ID:         idgen.WithPrefix("rev_"),
		Wallet:     strings.ToLower(wallet),
		Type:       t,
		Direction:  d,
		MessageID:  messageID,
		OccurredAt: at,
	}
}
