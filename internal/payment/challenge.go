// Package payment implements the x402 negotiation for message commits:
// issuing payment-required challenges and verifying the signed transfer
// authorizations that answer them.
package payment

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mbd888/bidbox/internal/token"
	"github.com/mbd888/bidbox/pkg/x402"
)

// OfferTTL is how long a challenge's authorization offer stays valid. This is
// the negotiation window, distinct from the message's own sender-chosen SLA.
const OfferTTL = 15 * time.Minute

// Issuer builds payment-required challenges. It persists nothing: a record is
// only created once a valid authorization arrives.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer creates a challenge issuer. The secret keys nonce generation.
func NewIssuer(secret []byte) *Issuer {
	return &Issuer{secret: secret, now: time.Now}
}

// Challenge builds the 402 response body for a bid. The integer amount is
// derived by scaling the decimal bid through the asset's precision with exact
// integer arithmetic.
func (i *Issuer) Challenge(recipientWallet, bidUsd string, asset token.Asset) (*x402.PaymentRequired, error) {
	amount, err := token.ParseAmount(bidUsd, asset.Decimals)
	if err != nil {
		return nil, fmt.Errorf("challenge: bad bid %q: %w", bidUsd, err)
	}

	nonce, err := i.newNonce()
	if err != nil {
		return nil, err
	}

	return &x402.PaymentRequired{
		PaymentRequirements: []x402.PaymentRequirements{{
			Amount:     amount.String(),
			Network:    x402.Network{ChainID: asset.ChainID},
			Asset:      x402.Asset{Address: asset.Address, Symbol: asset.Symbol, Decimals: asset.Decimals},
			Recipient:  recipientWallet,
			Nonce:      nonce,
			Expiration: i.now().Add(OfferTTL).Unix(),
		}},
		Quote: x402.Quote{BidUsd: bidUsd, Symbol: asset.Symbol},
	}, nil
}

// newNonce produces a 32-byte unpredictable nonce: a keyed hash of fresh
// random bytes, so an attacker can neither guess nor replay one.
func (i *Issuer) newNonce() (string, error) {
	seed := make([]byte, 16)
	if _, err := rand.Read(seed); err != nil {
		return "", fmt.Errorf("challenge: nonce entropy: %w", err)
	}
	mac := hmac.New(sha256.New, i.secret)
	mac.Write(seed)
	return "0x" + hex.EncodeToString(mac.Sum(nil)), nil
}
