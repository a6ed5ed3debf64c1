package messages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/bidbox/internal/metrics"
)

// Sweeper periodically resolves pending messages whose SLA passed unopened.
type Sweeper struct {
	service  *Service
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewSweeper creates an expiry sweeper. interval <= 0 defaults to 5 minutes.
func NewSweeper(service *Service, store Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		service:  service,
		store:    store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is actively running.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start begins the sweep loop. Call in a goroutine. One sweep runs
// immediately so a restart doesn't leave stale offers waiting a full tick.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	s.safeSweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in expiry sweeper", "panic", fmt.Sprint(r))
		}
	}()
	s.sweep(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) {
	metrics.ExpirySweepsTotal.Inc()

	expired, err := s.store.ListExpired(ctx, time.Now(), 100)
	if err != nil {
		s.logger.Warn("failed to list expired messages", "error", err)
		return
	}

	for _, msg := range expired {
		if err := s.service.Expire(ctx, msg); err != nil {
			// Conflict means a decision landed between listing and
			// expiring; that message is no longer ours to resolve.
			if errors.Is(err, ErrStateConflict) {
				continue
			}
			s.logger.Warn("failed to expire message",
				"message_id", msg.ID,
				"error", err,
			)
			continue
		}
		metrics.MessagesExpiredTotal.Inc()
		s.logger.Info("expired unopened message",
			"message_id", msg.ID,
			"sender", msg.SenderAddr,
			"recipient", msg.RecipientAddr,
			"bid_usd", msg.BidUsd,
		)
	}
}
