package chain

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/mbd888/bidbox/internal/circuitbreaker"
)

// ErrCircuitOpen is returned when the RPC breaker is rejecting calls.
var ErrCircuitOpen = errors.New("chain: rpc circuit open, try again later")

// breakerKey groups all adapter traffic: one failing RPC endpoint takes down
// every operation, so there is no value in tracking them separately.
const breakerKey = "rpc"

// Guarded wraps an Adapter with a circuit breaker so that a dead RPC
// endpoint fails fast instead of stalling every settlement for the full
// confirmation timeout. Domain rejections (bad signature, consumed nonce,
// reverted transaction) never trip the breaker; only infrastructure
// failures do.
type Guarded struct {
	inner   Adapter
	breaker *circuitbreaker.Breaker
}

// NewGuarded wraps inner with a breaker that opens after threshold
// consecutive infrastructure failures and probes again after openDuration.
func NewGuarded(inner Adapter, threshold int, openDuration time.Duration) *Guarded {
	return &Guarded{
		inner:   inner,
		breaker: circuitbreaker.New(threshold, openDuration),
	}
}

var _ Adapter = (*Guarded)(nil)

func (g *Guarded) VerifyAuthorization(ctx context.Context, auth *Authorization) error {
	if !g.breaker.Allow(breakerKey) {
		return ErrCircuitOpen
	}
	err := g.inner.VerifyAuthorization(ctx, auth)
	g.record(err)
	return err
}

func (g *Guarded) Settle(ctx context.Context, auth *Authorization) (string, error) {
	if !g.breaker.Allow(breakerKey) {
		return "", ErrCircuitOpen
	}
	txHash, err := g.inner.Settle(ctx, auth)
	g.record(err)
	return txHash, err
}

func (g *Guarded) Refund(ctx context.Context, wallet string, amount *big.Int) (string, error) {
	if !g.breaker.Allow(breakerKey) {
		return "", ErrCircuitOpen
	}
	txHash, err := g.inner.Refund(ctx, wallet, amount)
	g.record(err)
	return txHash, err
}

// State reports the breaker state, for health checks.
func (g *Guarded) State() circuitbreaker.State {
	return g.breaker.State(breakerKey)
}

// Close releases the wrapped adapter's resources if it holds any.
func (g *Guarded) Close() {
	if closer, ok := g.inner.(interface{ Close() }); ok {
		closer.Close()
	}
}

func (g *Guarded) record(err error) {
	if err == nil {
		g.breaker.RecordSuccess(breakerKey)
		return
	}
	if infrastructureFailure(err) {
		g.breaker.RecordFailure(breakerKey)
	} else {
		// A definitive on-chain answer means the endpoint is healthy.
		g.breaker.RecordSuccess(breakerKey)
	}
}

// infrastructureFailure distinguishes a sick RPC endpoint from the chain
// telling us "no".
func infrastructureFailure(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidSignature),
		errors.Is(err, ErrNonceUsed),
		errors.Is(err, ErrInvalidNonce),
		errors.Is(err, ErrTransactionFailed):
		return false
	}
	return true
}
