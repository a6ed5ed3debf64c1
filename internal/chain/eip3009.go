package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mbd888/bidbox/pkg/x402"
)

// EIP-712 type hashes for EIP-3009 transferWithAuthorization.
var (
	transferWithAuthTypeHash = crypto.Keccak256(
		[]byte("TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"))
	domainTypeHash = crypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
)

// Domain identifies the token contract for EIP-712 signing. Name and Version
// must match the token's own domain (USDC uses "USD Coin" / "2").
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract string
}

// separator computes the EIP-712 domain separator.
func (d Domain) separator() []byte {
	return crypto.Keccak256(
		domainTypeHash,
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		common.LeftPadBytes(bigFromInt64(d.ChainID).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(d.VerifyingContract).Bytes(), 32),
	)
}

// AuthorizationDigest computes the EIP-712 digest a sender signs for a
// transferWithAuthorization call.
func AuthorizationDigest(domain Domain, auth *Authorization) ([]byte, error) {
	nonce, err := parseNonce(auth.Nonce)
	if err != nil {
		return nil, err
	}

	structHash := crypto.Keccak256(
		transferWithAuthTypeHash,
		common.LeftPadBytes(common.HexToAddress(auth.Sender).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(auth.Recipient).Bytes(), 32),
		common.LeftPadBytes(auth.Amount.Bytes(), 32),
		common.LeftPadBytes(bigFromInt64(auth.ValidAfter).Bytes(), 32),
		common.LeftPadBytes(bigFromInt64(auth.ValidBefore).Bytes(), 32),
		nonce[:],
	)

	return crypto.Keccak256([]byte{0x19, 0x01}, domain.separator(), structHash), nil
}

// RecoverSigner recovers the address that produced the authorization's
// signature over the EIP-712 digest.
func RecoverSigner(domain Domain, auth *Authorization) (string, error) {
	digest, err := AuthorizationDigest(domain, auth)
	if err != nil {
		return "", err
	}

	r, err := parseWord(auth.R)
	if err != nil {
		return "", fmt.Errorf("%w: bad r: %v", ErrInvalidSignature, err)
	}
	s, err := parseWord(auth.S)
	if err != nil {
		return "", fmt.Errorf("%w: bad s: %v", ErrInvalidSignature, err)
	}

	v := auth.V
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return "", fmt.Errorf("%w: bad v: %d", ErrInvalidSignature, auth.V)
	}

	sig := make([]byte, 65)
	copy(sig[0:32], r[:])
	copy(sig[32:64], s[:])
	sig[64] = v

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// parseNonce decodes a hex nonce into bytes32.
func parseNonce(s string) ([32]byte, error) {
	var nonce [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(raw) != 32 {
		return nonce, ErrInvalidNonce
	}
	copy(nonce[:], raw)
	return nonce, nil
}

// parseWord decodes a 32-byte hex value (signature r/s component).
func parseWord(s string) ([32]byte, error) {
	var word [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return word, err
	}
	if len(raw) > 32 {
		return word, fmt.Errorf("value longer than 32 bytes")
	}
	copy(word[32-len(raw):], raw)
	return word, nil
}

// -----------------------------------------------------------------------------
// Sender-side signer
// -----------------------------------------------------------------------------

// AuthSigner signs EIP-3009 authorizations with a local private key.
// It backs the x402 client for sender agents and tests.
type AuthSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	domain  Domain
}

var _ x402.Signer = (*AuthSigner)(nil)

// NewAuthSigner creates a signer from a hex private key.
func NewAuthSigner(privateKeyHex string, domain Domain) (*AuthSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return &AuthSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		domain:  domain,
	}, nil
}

// Address returns the signer's wallet address.
func (s *AuthSigner) Address() string {
	return s.address.Hex()
}

// SignTransferAuthorization signs the EIP-712 digest for the proof and
// returns the v/r/s components.
func (s *AuthSigner) SignTransferAuthorization(_ context.Context, proof *x402.PaymentProof) (x402.Signature, error) {
	auth, err := AuthorizationFromProof(proof)
	if err != nil {
		return x402.Signature{}, err
	}

	digest, err := AuthorizationDigest(s.domain, auth)
	if err != nil {
		return x402.Signature{}, err
	}

	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return x402.Signature{}, fmt.Errorf("sign digest: %w", err)
	}

	return x402.Signature{
		V: sig[64] + 27,
		R: "0x" + hex.EncodeToString(sig[0:32]),
		S: "0x" + hex.EncodeToString(sig[32:64]),
	}, nil
}

// AuthorizationFromProof converts wire-format proof fields into the
// chain-level authorization, parsing the integer amount.
func AuthorizationFromProof(proof *x402.PaymentProof) (*Authorization, error) {
	amount, ok := bigFromString(proof.Amount)
	if !ok {
		return nil, fmt.Errorf("chain: invalid amount %q", proof.Amount)
	}
	return &Authorization{
		ChainID:      proof.ChainID,
		TokenAddress: proof.TokenAddress,
		Sender:       proof.Sender,
		Recipient:    proof.Recipient,
		Amount:       amount,
		Nonce:        proof.Nonce,
		ValidAfter:   proof.ValidAfter,
		ValidBefore:  proof.ValidBefore,
		V:            proof.Signature.V,
		R:            proof.Signature.R,
		S:            proof.Signature.S,
	}, nil
}
