package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mbd888/bidbox/internal/retry"
)

// Minimal token ABI: EIP-3009 settlement, nonce state, and plain transfer.
const tokenABI = `[
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"authorizer","type":"address"},{"name":"nonce","type":"bytes32"}],"name":"authorizationState","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"validAfter","type":"uint256"},{"name":"validBefore","type":"uint256"},{"name":"nonce","type":"bytes32"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"name":"transferWithAuthorization","outputs":[],"type":"function"}
]`

const (
	// DefaultGasLimit for token transfers when estimation fails.
	DefaultGasLimit = uint64(120000)

	// DefaultConfirmationTimeout for waiting on settlement receipts.
	DefaultConfirmationTimeout = 60 * time.Second

	// ConfirmationPollInterval between receipt checks.
	ConfirmationPollInterval = 2 * time.Second

	// stateCallAttempts bounds retries of read-only contract calls. Write
	// paths are never retried: resubmitting a transaction is not idempotent.
	stateCallAttempts = 3
	stateCallBackoff  = 200 * time.Millisecond
)

// EthClient abstracts the go-ethereum client for testing.
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Config for creating an EVM adapter.
type Config struct {
	RPCURL              string
	PrivateKey          string // relayer key submitting settlement transactions
	ChainID             int64
	TokenContract       string
	TokenName           string // EIP-712 domain name, e.g. "USD Coin"
	TokenVersion        string // EIP-712 domain version, e.g. "2"
	ConfirmationTimeout time.Duration
}

// Option configures the adapter.
type Option func(*EVM)

// WithClient sets a custom Ethereum client (useful for testing).
func WithClient(client EthClient) Option {
	return func(e *EVM) {
		e.client = client
	}
}

// EVM settles escrowed authorizations against an ERC-20 token supporting
// EIP-3009 on an Ethereum-compatible chain.
type EVM struct {
	client         EthClient
	privateKey     *ecdsa.PrivateKey
	address        common.Address
	chainID        *big.Int
	tokenContract  common.Address
	tokenABI       abi.ABI
	domain         Domain
	confirmTimeout time.Duration
}

// Compile-time interface check
var _ Adapter = (*EVM)(nil)

// NewEVM creates a chain adapter connected to the configured RPC endpoint.
func NewEVM(cfg Config, opts ...Option) (*EVM, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(tokenABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token ABI: %w", err)
	}

	confirmTimeout := cfg.ConfirmationTimeout
	if confirmTimeout == 0 {
		confirmTimeout = DefaultConfirmationTimeout
	}

	e := &EVM{
		privateKey:    privateKey,
		address:       crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:       big.NewInt(cfg.ChainID),
		tokenContract: common.HexToAddress(cfg.TokenContract),
		tokenABI:      parsedABI,
		domain: Domain{
			Name:              cfg.TokenName,
			Version:           cfg.TokenVersion,
			ChainID:           cfg.ChainID,
			VerifyingContract: cfg.TokenContract,
		},
		confirmTimeout: confirmTimeout,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		e.client = client
	}

	return e, nil
}

func validateConfig(cfg Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	key := strings.TrimPrefix(cfg.PrivateKey, "0x")
	if len(key) != 64 {
		return fmt.Errorf("%w: must be 64 hex characters", ErrInvalidPrivateKey)
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("chain ID required")
	}
	if cfg.TokenContract == "" {
		return fmt.Errorf("token contract address required")
	}
	if cfg.TokenName == "" || cfg.TokenVersion == "" {
		return fmt.Errorf("token EIP-712 domain name and version required")
	}
	return nil
}

// Address returns the relayer's address.
func (e *EVM) Address() string {
	return e.address.Hex()
}

// VerifyAuthorization recovers the signer of the EIP-712 digest and checks
// the nonce is still unused on-chain.
func (e *EVM) VerifyAuthorization(ctx context.Context, auth *Authorization) error {
	signer, err := RecoverSigner(e.domain, auth)
	if err != nil {
		return err
	}
	if !strings.EqualFold(signer, auth.Sender) {
		return fmt.Errorf("%w: recovered %s, claimed %s", ErrInvalidSignature, signer, auth.Sender)
	}

	used, err := e.authorizationState(ctx, common.HexToAddress(auth.Sender), auth.Nonce)
	if err != nil {
		return fmt.Errorf("chain: authorizationState call: %w", err)
	}
	if used {
		return ErrNonceUsed
	}
	return nil
}

// Settle submits transferWithAuthorization and waits for one confirmed
// receipt. The caller holds no locks around this call.
func (e *EVM) Settle(ctx context.Context, auth *Authorization) (string, error) {
	nonce, err := parseNonce(auth.Nonce)
	if err != nil {
		return "", err
	}
	r, err := parseWord(auth.R)
	if err != nil {
		return "", &SettleError{Op: "settle", Err: err}
	}
	s, err := parseWord(auth.S)
	if err != nil {
		return "", &SettleError{Op: "settle", Err: err}
	}

	data, err := e.tokenABI.Pack("transferWithAuthorization",
		common.HexToAddress(auth.Sender),
		common.HexToAddress(auth.Recipient),
		auth.Amount,
		bigFromInt64(auth.ValidAfter),
		bigFromInt64(auth.ValidBefore),
		nonce,
		auth.V,
		r,
		s,
	)
	if err != nil {
		return "", &SettleError{Op: "pack", Err: err}
	}

	txHash, err := e.submit(ctx, data)
	if err != nil {
		return "", err
	}

	if _, err := e.waitForReceipt(ctx, txHash); err != nil {
		return "", err
	}
	return txHash, nil
}

// Refund sends a plain token transfer from the relayer treasury.
func (e *EVM) Refund(ctx context.Context, wallet string, amount *big.Int) (string, error) {
	data, err := e.tokenABI.Pack("transfer", common.HexToAddress(wallet), amount)
	if err != nil {
		return "", &SettleError{Op: "pack", Err: err}
	}

	txHash, err := e.submit(ctx, data)
	if err != nil {
		return "", err
	}

	if _, err := e.waitForReceipt(ctx, txHash); err != nil {
		return "", err
	}
	return txHash, nil
}

// submit signs and sends a transaction against the token contract.
func (e *EVM) submit(ctx context.Context, data []byte) (string, error) {
	accountNonce, err := e.client.PendingNonceAt(ctx, e.address)
	if err != nil {
		return "", &SettleError{Op: "nonce", Err: err}
	}

	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", &SettleError{Op: "gas_price", Err: err}
	}

	gasLimit, err := e.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  e.address,
		To:    &e.tokenContract,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		// Use default if estimation fails
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(accountNonce, e.tokenContract, big.NewInt(0), gasLimit, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(e.chainID), e.privateKey)
	if err != nil {
		return "", &SettleError{Op: "sign", Err: err}
	}

	if err := e.client.SendTransaction(ctx, signedTx); err != nil {
		return "", &SettleError{Op: "send", TxHash: signedTx.Hash().Hex(), Err: err}
	}

	return signedTx.Hash().Hex(), nil
}

// waitForReceipt polls until the transaction is mined or the timeout passes.
func (e *EVM) waitForReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	hash := common.HexToHash(txHash)

	ctx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(ConfirmationPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: waiting for tx %s", ErrTimeout, txHash)
			}
			return nil, ctx.Err()

		case <-ticker.C:
			receipt, err := e.client.TransactionReceipt(ctx, hash)
			if err != nil {
				// Transaction not yet mined, continue waiting
				continue
			}
			if receipt.Status == 0 {
				return nil, &SettleError{Op: "confirm", TxHash: txHash, Err: ErrTransactionFailed}
			}
			return receipt, nil
		}
	}
}

// authorizationState asks the token whether the nonce was consumed. The call
// is read-only, so transient RPC failures are retried with backoff.
func (e *EVM) authorizationState(ctx context.Context, authorizer common.Address, nonceHex string) (bool, error) {
	nonce, err := parseNonce(nonceHex)
	if err != nil {
		return false, err
	}

	data, err := e.tokenABI.Pack("authorizationState", authorizer, nonce)
	if err != nil {
		return false, fmt.Errorf("pack authorizationState: %w", err)
	}

	var result []byte
	err = retry.Do(ctx, stateCallAttempts, stateCallBackoff, func() error {
		var callErr error
		result, callErr = e.client.CallContract(ctx, ethereum.CallMsg{
			To:   &e.tokenContract,
			Data: data,
		}, nil)
		return callErr
	})
	if err != nil {
		return false, err
	}

	return len(result) == 32 && result[31] == 1, nil
}

// Close releases the underlying RPC connection.
func (e *EVM) Close() {
	if e.client != nil {
		e.client.Close()
	}
}
