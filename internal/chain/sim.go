package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/mbd888/bidbox/internal/idgen"
)

// Simulated is an in-process adapter for demo/development mode. It performs
// real EIP-712 signature recovery but tracks nonce consumption in memory and
// fabricates transaction hashes instead of touching a chain.
type Simulated struct {
	domain Domain

	mu    sync.Mutex
	used  map[string]bool // sender|nonce -> consumed
	fail  error           // forced failure for tests
	calls []string
}

var _ Adapter = (*Simulated)(nil)

// NewSimulated creates a simulated adapter for the given EIP-712 domain.
func NewSimulated(domain Domain) *Simulated {
	return &Simulated{
		domain: domain,
		used:   make(map[string]bool),
	}
}

// FailWith forces subsequent Settle/Refund calls to return err. Pass nil to
// restore normal behavior.
func (s *Simulated) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// Calls returns the operations performed, for test assertions.
func (s *Simulated) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Simulated) VerifyAuthorization(_ context.Context, auth *Authorization) error {
	signer, err := RecoverSigner(s.domain, auth)
	if err != nil {
		return err
	}
	if !strings.EqualFold(signer, auth.Sender) {
		return fmt.Errorf("%w: recovered %s, claimed %s", ErrInvalidSignature, signer, auth.Sender)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "verify")
	if s.used[nonceKey(auth.Sender, auth.Nonce)] {
		return ErrNonceUsed
	}
	return nil
}

func (s *Simulated) Settle(_ context.Context, auth *Authorization) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "settle")
	if s.fail != nil {
		return "", &SettleError{Op: "settle", Err: s.fail}
	}
	key := nonceKey(auth.Sender, auth.Nonce)
	if s.used[key] {
		return "", ErrNonceUsed
	}
	s.used[key] = true
	return "0x" + idgen.Hex(32), nil
}

func (s *Simulated) Refund(_ context.Context, _ string, _ *big.Int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "refund")
	if s.fail != nil {
		return "", &SettleError{Op: "refund", Err: s.fail}
	}
	return "0x" + idgen.Hex(32), nil
}

func nonceKey(sender, nonce string) string {
	return strings.ToLower(sender) + "|" + strings.ToLower(strings.TrimPrefix(nonce, "0x"))
}
