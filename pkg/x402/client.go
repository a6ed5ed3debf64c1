package x402

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"
)

// Signer produces EIP-3009 authorization signatures for a sender wallet.
// The concrete implementation lives with the chain adapter; the client only
// needs the signature, never a private key.
type Signer interface {
	Address() string
	SignTransferAuthorization(ctx context.Context, proof *PaymentProof) (Signature, error)
}

// Client wraps http.Client with automatic 402 authorization handling.
// Unlike a pay-per-call client, no funds move here: the client answers a
// challenge with a signed permission and the recipient settles it later.
type Client struct {
	httpClient *http.Client
	signer     Signer

	// Configuration
	MaxRetries int    // Max authorization retries (default: 1)
	AutoSign   bool   // Automatically answer 402s (default: true)
	MaxBid     string // Max smallest-unit amount to authorize (default: unlimited)

	// OnAuthorize is called before each authorization is attached.
	OnAuthorize func(reqs *PaymentRequirements, proof *PaymentProof)
}

// NewClient creates a new x402-enabled HTTP client.
func NewClient(signer Signer) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		signer:     signer,
		MaxRetries: 1,
		AutoSign:   true,
	}
}

// Do performs an HTTP request with automatic 402 authorization handling.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoContext(req.Context(), req)
}

// DoContext performs an HTTP request with context and automatic 402 handling.
func (c *Client) DoContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	// Clone the request body if present (we might need to retry)
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		_ = req.Body.Close()
	}

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		// Not a 402 - return response as-is
		if resp.StatusCode != http.StatusPaymentRequired {
			return resp, nil
		}

		if !c.AutoSign {
			return resp, nil
		}

		pr, err := ParsePaymentRequired(resp)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to parse payment requirements: %w", err)
		}
		reqs := pr.PaymentRequirements[0]

		if c.MaxBid != "" {
			if err := c.checkBidLimit(reqs.Amount); err != nil {
				return nil, err
			}
		}

		proof, err := c.authorize(ctx, &reqs)
		if err != nil {
			return nil, fmt.Errorf("authorization failed: %w", err)
		}

		if c.OnAuthorize != nil {
			c.OnAuthorize(&reqs, proof)
		}

		if err := AddProofToRequest(req, proof); err != nil {
			return nil, fmt.Errorf("failed to add proof: %w", err)
		}
	}

	return nil, fmt.Errorf("max retries exceeded")
}

// authorize builds and signs an EIP-3009 authorization matching the challenge.
func (c *Client) authorize(ctx context.Context, reqs *PaymentRequirements) (*PaymentProof, error) {
	proof := &PaymentProof{
		ChainID:      reqs.Network.ChainID,
		TokenAddress: reqs.Asset.Address,
		Amount:       reqs.Amount,
		Sender:       c.signer.Address(),
		Recipient:    reqs.Recipient,
		Nonce:        reqs.Nonce,
		ValidAfter:   0,
		ValidBefore:  reqs.Expiration,
	}

	sig, err := c.signer.SignTransferAuthorization(ctx, proof)
	if err != nil {
		return nil, fmt.Errorf("sign authorization: %w", err)
	}
	proof.Signature = sig

	return proof, nil
}

func (c *Client) checkBidLimit(amount string) error {
	maxAmount, ok := new(big.Int).SetString(c.MaxBid, 10)
	if !ok {
		return fmt.Errorf("invalid max bid: %s", c.MaxBid)
	}
	reqAmount, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return fmt.Errorf("invalid challenge amount: %s", amount)
	}
	if reqAmount.Cmp(maxAmount) > 0 {
		return fmt.Errorf("challenge amount %s exceeds max bid %s", amount, c.MaxBid)
	}
	return nil
}
