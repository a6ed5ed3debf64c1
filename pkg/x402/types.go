// Package x402 implements the x402 deferred-settlement payment protocol types.
//
// A server answering 402 Payment Required describes what a valid transfer
// authorization must contain (PaymentRequirements). The client answers with a
// signed EIP-3009 authorization (PaymentProof) carried in the X-Payment
// header. Funds do not move until the recipient settles the authorization.
package x402

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// PaymentHeader is the HTTP header carrying a serialized PaymentProof.
const PaymentHeader = "X-Payment"

// Network identifies the chain an authorization is valid on.
type Network struct {
	ChainID int64 `json:"chainId"`
}

// Asset describes the token the authorization transfers.
type Asset struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// PaymentRequirements is one acceptable payment option in a 402 response.
// Amount is in smallest integer units of the asset, as a decimal string.
type PaymentRequirements struct {
	Amount     string  `json:"amount"`
	Network    Network `json:"network"`
	Asset      Asset   `json:"asset"`
	Recipient  string  `json:"recipient"`
	Nonce      string  `json:"nonce"`
	Expiration int64   `json:"expiration"` // unix seconds
}

// Quote echoes the human-readable bid alongside the integer requirements.
type Quote struct {
	BidUsd string `json:"bidUsd"`
	Symbol string `json:"symbol"`
}

// PaymentRequired is the full 402 response body.
type PaymentRequired struct {
	PaymentRequirements []PaymentRequirements `json:"paymentRequirements"`
	Quote               Quote                 `json:"quote"`
}

// Signature holds the EIP-712 signature components of an authorization.
type Signature struct {
	V uint8  `json:"v"`
	R string `json:"r"`
	S string `json:"s"`
}

// PaymentProof is a signed EIP-3009 transferWithAuthorization permission.
// It is an off-chain promise; the transfer executes only when settled.
type PaymentProof struct {
	ChainID      int64     `json:"chainId"`
	TokenAddress string    `json:"tokenAddress"`
	Amount       string    `json:"amount"` // smallest integer units
	Sender       string    `json:"sender"`
	Recipient    string    `json:"recipient"`
	Nonce        string    `json:"nonce"`
	ValidAfter   int64     `json:"validAfter"`
	ValidBefore  int64     `json:"validBefore"`
	Signature    Signature `json:"signature"`
}

// Validate checks structural completeness. Anything incomplete is rejected
// here, before the proof reaches signature verification.
func (p *PaymentProof) Validate() error {
	switch {
	case p.ChainID == 0:
		return fmt.Errorf("payment proof: missing chainId")
	case p.TokenAddress == "":
		return fmt.Errorf("payment proof: missing tokenAddress")
	case p.Amount == "":
		return fmt.Errorf("payment proof: missing amount")
	case p.Sender == "":
		return fmt.Errorf("payment proof: missing sender")
	case p.Recipient == "":
		return fmt.Errorf("payment proof: missing recipient")
	case p.Nonce == "":
		return fmt.Errorf("payment proof: missing nonce")
	case p.ValidBefore == 0:
		return fmt.Errorf("payment proof: missing validBefore")
	case p.Signature.R == "" || p.Signature.S == "":
		return fmt.Errorf("payment proof: missing signature")
	}
	return nil
}

// ToHeader serializes the proof for the X-Payment header.
func (p *PaymentProof) ToHeader() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payment proof: %w", err)
	}
	return string(data), nil
}

// ParseProofHeader decodes and structurally validates an X-Payment header.
func ParseProofHeader(header string) (*PaymentProof, error) {
	var proof PaymentProof
	if err := json.Unmarshal([]byte(header), &proof); err != nil {
		return nil, fmt.Errorf("parse payment proof: %w", err)
	}
	if err := proof.Validate(); err != nil {
		return nil, err
	}
	return &proof, nil
}

// Error represents an x402 error response.
type Error struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is402Response checks if an HTTP response is a 402 Payment Required.
func Is402Response(resp *http.Response) bool {
	return resp.StatusCode == http.StatusPaymentRequired
}

// ParsePaymentRequired extracts the challenge from a 402 response.
func ParsePaymentRequired(resp *http.Response) (*PaymentRequired, error) {
	if resp.StatusCode != http.StatusPaymentRequired {
		return nil, fmt.Errorf("not a 402 response: got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var pr PaymentRequired
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("failed to parse payment requirements: %w", err)
	}
	if len(pr.PaymentRequirements) == 0 {
		return nil, fmt.Errorf("402 response carried no payment requirements")
	}

	return &pr, nil
}

// AddProofToRequest attaches the payment proof header to an HTTP request.
func AddProofToRequest(req *http.Request, proof *PaymentProof) error {
	header, err := proof.ToHeader()
	if err != nil {
		return err
	}
	req.Header.Set(PaymentHeader, header)
	return nil
}
