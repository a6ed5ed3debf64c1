package bidbox

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
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

// BaseSepoliaUSDC is the domain for the USDC deployment on Base Sepolia,
// the default testnet token BidBox settles against.
var BaseSepoliaUSDC = Domain{
	Name:              "USD Coin",
	Version:           "2",
	ChainID:           84532,
	VerifyingContract: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
}

func (d Domain) separator() []byte {
	return crypto.Keccak256(
		domainTypeHash,
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		common.LeftPadBytes(big.NewInt(d.ChainID).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(d.VerifyingContract).Bytes(), 32),
	)
}

// Signer signs EIP-3009 transfer authorizations with a local private key.
// It answers the server's 402 challenges; signing grants a permission, it
// never moves funds.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	domain  Domain
}

var _ x402.Signer = (*Signer)(nil)

// NewSigner creates a signer from a hex private key.
func NewSigner(privateKeyHex string, domain Domain) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("bidbox: invalid private key: %v", err)
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		domain:  domain,
	}, nil
}

// Address returns the signer's wallet address.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// SignTransferAuthorization signs the EIP-712 digest for the proof and
// returns the v/r/s components.
func (s *Signer) SignTransferAuthorization(_ context.Context, proof *x402.PaymentProof) (x402.Signature, error) {
	digest, err := s.digest(proof)
	if err != nil {
		return x402.Signature{}, err
	}

	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return x402.Signature{}, fmt.Errorf("bidbox: sign digest: %w", err)
	}

	return x402.Signature{
		V: sig[64] + 27,
		R: "0x" + hex.EncodeToString(sig[0:32]),
		S: "0x" + hex.EncodeToString(sig[32:64]),
	}, nil
}

func (s *Signer) digest(proof *x402.PaymentProof) ([]byte, error) {
	amount, ok := new(big.Int).SetString(proof.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("bidbox: invalid amount %q", proof.Amount)
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(proof.Nonce, "0x"))
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("bidbox: nonce must be 32 bytes of hex")
	}
	var nonce [32]byte
	copy(nonce[:], raw)

	structHash := crypto.Keccak256(
		transferWithAuthTypeHash,
		common.LeftPadBytes(common.HexToAddress(proof.Sender).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(proof.Recipient).Bytes(), 32),
		common.LeftPadBytes(amount.Bytes(), 32),
		common.LeftPadBytes(big.NewInt(proof.ValidAfter).Bytes(), 32),
		common.LeftPadBytes(big.NewInt(proof.ValidBefore).Bytes(), 32),
		nonce[:],
	)

	return crypto.Keccak256([]byte{0x19, 0x01}, s.domain.separator(), structHash), nil
}
