package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/bidbox/internal/idgen"
	"github.com/mbd888/bidbox/pkg/x402"
)

var testDomain = Domain{
	Name:              "USD Coin",
	Version:           "2",
	ChainID:           84532,
	VerifyingContract: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
}

// newTestSigner generates a fresh key and returns the signer plus its address.
func newTestSigner(t *testing.T) *AuthSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := NewAuthSigner(hex.EncodeToString(crypto.FromECDSA(key)), testDomain)
	require.NoError(t, err)
	return signer
}

func signedProof(t *testing.T, signer *AuthSigner) *x402.PaymentProof {
	t.Helper()
	proof := &x402.PaymentProof{
		ChainID:      testDomain.ChainID,
		TokenAddress: testDomain.VerifyingContract,
		Amount:       "500000",
		Sender:       signer.Address(),
		Recipient:    "0x2222222222222222222222222222222222222222",
		Nonce:        "0x" + idgen.Hex(32),
		ValidAfter:   0,
		ValidBefore:  1900000000,
	}
	sig, err := signer.SignTransferAuthorization(context.Background(), proof)
	require.NoError(t, err)
	proof.Signature = sig
	return proof
}

func TestRecoverSigner_RoundTrip(t *testing.T) {
	signer := newTestSigner(t)
	proof := signedProof(t, signer)

	auth, err := AuthorizationFromProof(proof)
	require.NoError(t, err)

	recovered, err := RecoverSigner(testDomain, auth)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)
}

func TestRecoverSigner_TamperedAmount(t *testing.T) {
	signer := newTestSigner(t)
	proof := signedProof(t, signer)

	auth, err := AuthorizationFromProof(proof)
	require.NoError(t, err)
	auth.Amount = big.NewInt(1) // tampering changes the digest

	recovered, err := RecoverSigner(testDomain, auth)
	if err == nil {
		assert.NotEqual(t, signer.Address(), recovered)
	}
}

func TestRecoverSigner_BadNonce(t *testing.T) {
	signer := newTestSigner(t)
	proof := signedProof(t, signer)
	auth, err := AuthorizationFromProof(proof)
	require.NoError(t, err)
	auth.Nonce = "0xdead"

	_, err = RecoverSigner(testDomain, auth)
	assert.ErrorIs(t, err, ErrInvalidNonce)
}

func TestSimulated_VerifyAndSettle(t *testing.T) {
	signer := newTestSigner(t)
	proof := signedProof(t, signer)
	auth, err := AuthorizationFromProof(proof)
	require.NoError(t, err)

	sim := NewSimulated(testDomain)
	ctx := context.Background()

	require.NoError(t, sim.VerifyAuthorization(ctx, auth))

	txHash, err := sim.Settle(ctx, auth)
	require.NoError(t, err)
	assert.NotEmpty(t, txHash)

	// Nonce consumed: verification and a second settle both fail.
	assert.ErrorIs(t, sim.VerifyAuthorization(ctx, auth), ErrNonceUsed)
	_, err = sim.Settle(ctx, auth)
	assert.ErrorIs(t, err, ErrNonceUsed)
}

func TestSimulated_RejectsWrongSender(t *testing.T) {
	signer := newTestSigner(t)
	other := newTestSigner(t)
	proof := signedProof(t, signer)
	proof.Sender = other.Address() // claims another wallet signed it

	auth, err := AuthorizationFromProof(proof)
	require.NoError(t, err)

	sim := NewSimulated(testDomain)
	err = sim.VerifyAuthorization(context.Background(), auth)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestSimulated_ForcedFailure(t *testing.T) {
	signer := newTestSigner(t)
	proof := signedProof(t, signer)
	auth, err := AuthorizationFromProof(proof)
	require.NoError(t, err)

	sim := NewSimulated(testDomain)
	boom := errors.New("rpc down")
	sim.FailWith(boom)

	_, err = sim.Settle(context.Background(), auth)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var se *SettleError
	assert.ErrorAs(t, err, &se)
}
