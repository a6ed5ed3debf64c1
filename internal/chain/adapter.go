// Package chain handles all blockchain interactions for escrow settlement.
//
// The rest of the system treats the chain as a capability boundary: verify
// that a signed authorization is valid and unused, execute the authorized
// transfer on acceptance, and execute a plain transfer for refunds. Nothing
// outside this package builds transactions or touches RPC.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
)

// -----------------------------------------------------------------------------
// Errors - typed errors for programmatic handling
// -----------------------------------------------------------------------------

var (
	ErrInvalidPrivateKey = errors.New("chain: invalid private key")
	ErrInvalidSignature  = errors.New("chain: signature does not recover to sender")
	ErrNonceUsed         = errors.New("chain: authorization nonce already consumed on-chain")
	ErrInvalidNonce      = errors.New("chain: nonce must be 32 bytes of hex")
	ErrTransactionFailed = errors.New("chain: transaction reverted")
	ErrTimeout           = errors.New("chain: operation timed out")
	ErrRPCConnection     = errors.New("chain: RPC connection failed")
)

// SettleError wraps settlement/refund failures with context.
type SettleError struct {
	Op     string // Operation that failed
	TxHash string // Transaction hash if available
	Err    error  // Underlying error
}

func (e *SettleError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("chain: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("chain: %s failed: %v", e.Op, e.Err)
}

func (e *SettleError) Unwrap() error { return e.Err }

// -----------------------------------------------------------------------------
// Adapter boundary
// -----------------------------------------------------------------------------

// Authorization is the chain-level view of a signed EIP-3009 transfer
// permission. Amount is in smallest integer units of the token.
type Authorization struct {
	ChainID      int64
	TokenAddress string
	Sender       string
	Recipient    string
	Amount       *big.Int
	Nonce        string // 32 bytes, hex encoded
	ValidAfter   int64
	ValidBefore  int64
	V            uint8
	R            string
	S            string
}

// Adapter is the escrow core's view of the chain.
type Adapter interface {
	// VerifyAuthorization checks that the signature is cryptographically
	// valid for the claimed sender over the EIP-712 structured message, and
	// that the nonce has not already been consumed on-chain. It never moves
	// funds.
	VerifyAuthorization(ctx context.Context, auth *Authorization) error

	// Settle executes the authorized transfer and waits for one confirmed
	// receipt. Returns the settlement transaction hash.
	Settle(ctx context.Context, auth *Authorization) (string, error)

	// Refund executes a plain token transfer from the platform treasury back
	// to a wallet. Only used by flows that pre-collected funds.
	Refund(ctx context.Context, wallet string, amount *big.Int) (string, error)
}

func bigFromInt64(v int64) *big.Int {
	return new(big.Int).SetInt64(v)
}

func bigFromString(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}
