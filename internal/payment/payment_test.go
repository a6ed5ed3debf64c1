package payment

import (
	"context"
	"encoding/hex"
	"log/slog"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/bidbox/internal/chain"
	"github.com/mbd888/bidbox/internal/token"
	"github.com/mbd888/bidbox/pkg/x402"
)

var testAsset = token.Asset{
	ChainID:  84532,
	Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	Symbol:   "USDC",
	Decimals: 6,
}

var testChainDomain = chain.Domain{
	Name:              "USD Coin",
	Version:           "2",
	ChainID:           testAsset.ChainID,
	VerifyingContract: testAsset.Address,
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newSigner(t *testing.T) *chain.AuthSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := chain.NewAuthSigner(hex.EncodeToString(crypto.FromECDSA(key)), testChainDomain)
	require.NoError(t, err)
	return signer
}

func TestIssuer_Challenge(t *testing.T) {
	issuer := NewIssuer([]byte("test-secret"))

	pr, err := issuer.Challenge("0x2222222222222222222222222222222222222222", "0.50", testAsset)
	require.NoError(t, err)
	require.Len(t, pr.PaymentRequirements, 1)

	reqs := pr.PaymentRequirements[0]
	assert.Equal(t, "500000", reqs.Amount, "0.50 USD at 6 decimals is 500000 units")
	assert.Equal(t, testAsset.ChainID, reqs.Network.ChainID)
	assert.Equal(t, testAsset.Address, reqs.Asset.Address)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", reqs.Recipient)
	assert.Equal(t, "0.50", pr.Quote.BidUsd)
	assert.Equal(t, "USDC", pr.Quote.Symbol)

	// Offer expiry is ~15 minutes, far shorter than any message SLA.
	now := time.Now().Unix()
	assert.InDelta(t, now+int64(OfferTTL.Seconds()), reqs.Expiration, 5)

	// 32-byte nonce
	assert.Len(t, reqs.Nonce, 2+64)
}

func TestIssuer_ExactIntegerScaling(t *testing.T) {
	issuer := NewIssuer([]byte("k"))
	recipient := "0x2222222222222222222222222222222222222222"

	tests := []struct {
		bid  string
		want string
	}{
		{"0.05", "50000"},
		{"0.10", "100000"},
		{"1", "1000000"},
		{"123.456789", "123456789"},
		{"0.000001", "1"},
	}
	for _, tt := range tests {
		pr, err := issuer.Challenge(recipient, tt.bid, testAsset)
		require.NoError(t, err)
		assert.Equal(t, tt.want, pr.PaymentRequirements[0].Amount, "bid %s", tt.bid)
	}

	// Precision beyond the token's decimals cannot be represented exactly.
	_, err := issuer.Challenge(recipient, "0.0000001", testAsset)
	assert.Error(t, err)
}

func TestIssuer_NoncesNeverRepeat(t *testing.T) {
	issuer := NewIssuer([]byte("k"))
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		pr, err := issuer.Challenge("0x2222222222222222222222222222222222222222", "1", testAsset)
		require.NoError(t, err)
		nonce := pr.PaymentRequirements[0].Nonce
		assert.False(t, seen[nonce], "nonce repeated")
		seen[nonce] = true
	}
}

// buildProof signs a proof matching `expected` and then lets the test mutate it.
func buildProof(t *testing.T, signer *chain.AuthSigner, recipient string, amount string) *x402.PaymentProof {
	t.Helper()
	issuer := NewIssuer([]byte("k"))
	pr, err := issuer.Challenge(recipient, amount, testAsset)
	require.NoError(t, err)
	reqs := pr.PaymentRequirements[0]

	proof := &x402.PaymentProof{
		ChainID:      reqs.Network.ChainID,
		TokenAddress: reqs.Asset.Address,
		Amount:       reqs.Amount,
		Sender:       signer.Address(),
		Recipient:    reqs.Recipient,
		Nonce:        reqs.Nonce,
		ValidAfter:   0,
		ValidBefore:  reqs.Expiration,
	}
	sig, err := signer.SignTransferAuthorization(context.Background(), proof)
	require.NoError(t, err)
	proof.Signature = sig
	return proof
}

func TestVerifier_Accepts(t *testing.T) {
	signer := newSigner(t)
	recipient := "0x2222222222222222222222222222222222222222"
	proof := buildProof(t, signer, recipient, "0.50")

	v := NewVerifier(chain.NewSimulated(testChainDomain), testLogger())
	auth, err := v.Verify(context.Background(), proof, Expected{
		Recipient: recipient,
		Asset:     testAsset,
		Amount:    big.NewInt(500000),
	})
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), auth.Sender)
	assert.Equal(t, "500000", auth.Amount.String())
}

func TestVerifier_RejectionReasons(t *testing.T) {
	signer := newSigner(t)
	recipient := "0x2222222222222222222222222222222222222222"

	expected := Expected{Recipient: recipient, Asset: testAsset, Amount: big.NewInt(500000)}

	tests := []struct {
		name   string
		mutate func(*x402.PaymentProof)
		reason RejectReason
	}{
		{"missing signature", func(p *x402.PaymentProof) { p.Signature = x402.Signature{} }, ReasonMalformed},
		{"wrong chain", func(p *x402.PaymentProof) { p.ChainID = 1 }, ReasonChainMismatch},
		{"wrong token", func(p *x402.PaymentProof) { p.TokenAddress = "0x1111111111111111111111111111111111111111" }, ReasonTokenMismatch},
		{"amount too low", func(p *x402.PaymentProof) { p.Amount = "400000" }, ReasonAmountMismatch},
		{"amount garbage", func(p *x402.PaymentProof) { p.Amount = "-5" }, ReasonAmountMismatch},
		{"expired", func(p *x402.PaymentProof) { p.ValidBefore = time.Now().Add(-time.Minute).Unix() }, ReasonExpired},
		{"expired in milliseconds", func(p *x402.PaymentProof) { p.ValidBefore = time.Now().Add(-time.Minute).UnixMilli() }, ReasonExpired},
		{"redirected recipient", func(p *x402.PaymentProof) {
			p.Recipient = "0x3333333333333333333333333333333333333333"
		}, ReasonRecipientMismatch},
		{"tampered signature", func(p *x402.PaymentProof) { p.Amount = "500001" }, ReasonBadSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proof := buildProof(t, signer, recipient, "0.50")
			tt.mutate(proof)

			v := NewVerifier(chain.NewSimulated(testChainDomain), testLogger())
			_, err := v.Verify(context.Background(), proof, expected)
			require.Error(t, err)

			var authErr *AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.reason, authErr.Reason, "got detail: %s", authErr.Detail)
		})
	}
}

// Recipient mismatch must fail even when the signature over the redirected
// recipient is itself perfectly valid.
func TestVerifier_RecipientMismatchBeatsValidSignature(t *testing.T) {
	signer := newSigner(t)
	attacker := "0x3333333333333333333333333333333333333333"
	proof := buildProof(t, signer, attacker, "0.50") // validly signed to the attacker

	v := NewVerifier(chain.NewSimulated(testChainDomain), testLogger())
	_, err := v.Verify(context.Background(), proof, Expected{
		Recipient: "0x2222222222222222222222222222222222222222",
		Asset:     testAsset,
		Amount:    big.NewInt(500000),
	})
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ReasonRecipientMismatch, authErr.Reason)
}

func TestVerifier_AmountWithinTolerance(t *testing.T) {
	signer := newSigner(t)
	recipient := "0x2222222222222222222222222222222222222222"

	// Signed over 500001 units; server expects 500000. Within tolerance, so
	// the amount check passes and the signature check (over 500001) succeeds.
	proof := buildProof(t, signer, recipient, "0.500001")

	v := NewVerifier(chain.NewSimulated(testChainDomain), testLogger())
	_, err := v.Verify(context.Background(), proof, Expected{
		Recipient: recipient,
		Asset:     testAsset,
		Amount:    big.NewInt(500000),
	})
	assert.NoError(t, err)
}

func TestVerifier_ReplayedNonce(t *testing.T) {
	signer := newSigner(t)
	recipient := "0x2222222222222222222222222222222222222222"
	proof := buildProof(t, signer, recipient, "0.50")

	sim := chain.NewSimulated(testChainDomain)
	v := NewVerifier(sim, testLogger())
	expected := Expected{Recipient: recipient, Asset: testAsset, Amount: big.NewInt(500000)}

	auth, err := v.Verify(context.Background(), proof, expected)
	require.NoError(t, err)

	// Settle consumes the nonce on-chain; re-verification must fail.
	_, err = sim.Settle(context.Background(), auth)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), proof, expected)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ReasonNonceUsed, authErr.Reason)
}
