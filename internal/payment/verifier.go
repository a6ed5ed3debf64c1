package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/mbd888/bidbox/internal/chain"
	"github.com/mbd888/bidbox/internal/token"
	"github.com/mbd888/bidbox/pkg/x402"
)

// AmountTolerance absorbs unit-rounding between client and server, in
// smallest token units. Never more than a few units.
const AmountTolerance = 2

// millisecondFloor: unix timestamps above this magnitude are milliseconds.
// (1e12 seconds is the year 33658.)
const millisecondFloor = 1_000_000_000_000

// RejectReason identifies why an authorization was refused. Every distinct
// cause gets its own reason so fraud attempts can be diagnosed from logs.
type RejectReason string

const (
	ReasonMalformed         RejectReason = "malformed"
	ReasonChainMismatch     RejectReason = "chain_mismatch"
	ReasonTokenMismatch     RejectReason = "token_mismatch"
	ReasonAmountMismatch    RejectReason = "amount_mismatch"
	ReasonExpired           RejectReason = "authorization_expired"
	ReasonRecipientMismatch RejectReason = "recipient_mismatch"
	ReasonBadSignature      RejectReason = "bad_signature"
	ReasonNonceUsed         RejectReason = "nonce_used"
)

// AuthError is a failed verification with its reason.
type AuthError struct {
	Reason RejectReason
	Detail string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("authorization rejected (%s): %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("authorization rejected (%s)", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

func reject(reason RejectReason, format string, args ...any) *AuthError {
	return &AuthError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Expected carries the server-computed values an authorization must match.
// Recipient comes from the server's own lookup, never from the client: a
// malicious client must not be able to redirect funds.
type Expected struct {
	Recipient string
	Asset     token.Asset
	Amount    *big.Int
}

// Verifier validates submitted authorizations. It never executes a transfer;
// success only authorizes persisting an `authorized` escrow record.
type Verifier struct {
	adapter chain.Adapter
	logger  *slog.Logger
	now     func() time.Time
}

// NewVerifier creates an authorization verifier.
func NewVerifier(adapter chain.Adapter, logger *slog.Logger) *Verifier {
	return &Verifier{adapter: adapter, logger: logger, now: time.Now}
}

// Verify runs the fail-closed validation sequence against the proof and
// returns the chain-level authorization on success.
func (v *Verifier) Verify(ctx context.Context, proof *x402.PaymentProof, expected Expected) (*chain.Authorization, error) {
	// 1. Structural completeness
	if err := proof.Validate(); err != nil {
		return nil, &AuthError{Reason: ReasonMalformed, Detail: err.Error(), Err: err}
	}

	// 2. Chain equality
	if proof.ChainID != expected.Asset.ChainID {
		return nil, reject(ReasonChainMismatch, "got chain %d, expected %d", proof.ChainID, expected.Asset.ChainID)
	}

	// 3. Token equality, case-insensitive
	if !strings.EqualFold(proof.TokenAddress, expected.Asset.Address) {
		return nil, reject(ReasonTokenMismatch, "got token %s, expected %s", proof.TokenAddress, expected.Asset.Address)
	}

	// 4. Amount equality within the rounding tolerance
	amount, err := token.ParseUnits(proof.Amount)
	if err != nil {
		return nil, reject(ReasonAmountMismatch, "unparseable amount %q", proof.Amount)
	}
	diff := new(big.Int).Sub(amount, expected.Amount)
	if diff.CmpAbs(big.NewInt(AmountTolerance)) > 0 {
		return nil, reject(ReasonAmountMismatch, "got %s units, expected %s", amount, expected.Amount)
	}

	// 5. Expiry, normalizing seconds-vs-milliseconds by magnitude
	validBefore := proof.ValidBefore
	if validBefore > millisecondFloor {
		validBefore /= 1000
	}
	if v.now().Unix() >= validBefore {
		return nil, reject(ReasonExpired, "validBefore %d has passed", validBefore)
	}

	// 6. Recipient equality against the server-resolved wallet. A mismatch
	// means a client tried to redirect funds; treat as a security event.
	if !strings.EqualFold(proof.Recipient, expected.Recipient) {
		v.logger.Warn("security: authorization recipient mismatch",
			"claimed_recipient", proof.Recipient,
			"resolved_recipient", expected.Recipient,
			"sender", proof.Sender,
		)
		return nil, reject(ReasonRecipientMismatch, "recipient %s does not match resolved wallet", proof.Recipient)
	}

	// 7. Cryptographic validity and on-chain nonce state
	auth, err := chain.AuthorizationFromProof(proof)
	if err != nil {
		return nil, &AuthError{Reason: ReasonMalformed, Detail: err.Error(), Err: err}
	}
	if err := v.adapter.VerifyAuthorization(ctx, auth); err != nil {
		if errors.Is(err, chain.ErrNonceUsed) {
			return nil, &AuthError{Reason: ReasonNonceUsed, Detail: "nonce already consumed", Err: err}
		}
		return nil, &AuthError{Reason: ReasonBadSignature, Detail: err.Error(), Err: err}
	}

	return auth, nil
}
