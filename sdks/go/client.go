// Package bidbox is the Go client for the BidBox paid-messaging API.
//
// A sender commits a bid by attaching a signed EIP-3009 transfer
// authorization to the message; funds only move if the recipient accepts.
// The client handles the 402 challenge negotiation automatically through
// the embedded signer.
package bidbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mbd888/bidbox/pkg/x402"
)

// identityHeader names the wallet identity header on recipient operations.
const identityHeader = "X-Wallet-Address"

// Client talks to a BidBox server on behalf of one wallet.
type Client struct {
	baseURL string
	signer  *Signer
	x402    *x402.Client
	http    *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client for non-payment requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMaxBid caps the smallest-unit amount the client will authorize when
// answering a challenge.
func WithMaxBid(units string) Option {
	return func(c *Client) { c.x402.MaxBid = units }
}

// New creates a client for the given server, signing authorizations with
// privateKeyHex against domain.
func New(baseURL, privateKeyHex string, domain Domain, opts ...Option) (*Client, error) {
	signer, err := NewSigner(privateKeyHex, domain)
	if err != nil {
		return nil, err
	}

	c := &Client{
		baseURL: baseURL,
		signer:  signer,
		x402:    x402.NewClient(signer),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Address returns the wallet address this client acts as.
func (c *Client) Address() string {
	return c.signer.Address()
}

// SendMessage commits a bid. The call transparently answers the server's
// 402 challenge with a signed authorization.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*SendMessageResponse, error) {
	if req.SenderAddr == "" {
		req.SenderAddr = c.signer.Address()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.x402.DoContext(ctx, httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out SendMessageResponse
	if err := decode(resp, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Message fetches a single message.
func (c *Client) Message(ctx context.Context, id string) (*Message, error) {
	var out struct {
		Message *Message `json:"message"`
	}
	if err := c.get(ctx, "/v1/messages/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return out.Message, nil
}

// Messages lists messages the wallet sent or received, newest first. Pass
// the returned next cursor to fetch the following page; it is empty on the
// last page.
func (c *Client) Messages(ctx context.Context, wallet, cursor string, limit int) ([]*Message, string, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/agents/" + url.PathEscape(wallet) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Messages   []*Message `json:"messages"`
		NextCursor string     `json:"nextCursor"`
	}
	if err := c.get(ctx, path, &out); err != nil {
		return nil, "", err
	}
	return out.Messages, out.NextCursor, nil
}

// Open marks a message opened. Recipient only.
func (c *Client) Open(ctx context.Context, id string) (*Decision, error) {
	return c.decide(ctx, id, "open", nil)
}

// Accept settles the escrowed authorization on-chain. This is the only
// operation that moves funds.
func (c *Client) Accept(ctx context.Context, id string) (*Decision, error) {
	return c.decide(ctx, id, "accept", nil)
}

// Decline voids the authorization; nothing ever moved.
func (c *Client) Decline(ctx context.Context, id, note string) (*Decision, error) {
	var body any
	if note != "" {
		body = map[string]string{"note": note}
	}
	return c.decide(ctx, id, "decline", body)
}

// Reply marks an accepted message answered.
func (c *Client) Reply(ctx context.Context, id string) (*Decision, error) {
	return c.decide(ctx, id, "reply", nil)
}

// Reputation returns the wallet's reputation snapshot.
func (c *Client) Reputation(ctx context.Context, wallet string) (*Reputation, error) {
	var out struct {
		Reputation *Reputation `json:"reputation"`
	}
	if err := c.get(ctx, "/v1/reputation/"+url.PathEscape(wallet), &out); err != nil {
		return nil, err
	}
	return out.Reputation, nil
}

// Vouch endorses another wallet.
func (c *Client) Vouch(ctx context.Context, vouchee string) error {
	body := map[string]string{"voucher": c.signer.Address(), "vouchee": vouchee}
	return c.post(ctx, "/v1/vouches", body, http.StatusCreated, nil)
}

// Block records a negative signal against another wallet.
func (c *Client) Block(ctx context.Context, blocked, reason string) error {
	body := map[string]string{"blocker": c.signer.Address(), "blocked": blocked, "reason": reason}
	return c.post(ctx, "/v1/blocks", body, http.StatusCreated, nil)
}

// PriceGuide returns suggested bid levels for a recipient (username or
// wallet address).
func (c *Client) PriceGuide(ctx context.Context, recipient string) (*PriceGuide, error) {
	var out PriceGuide
	if err := c.get(ctx, "/v1/recipients/"+url.PathEscape(recipient)+"/price-guide", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterProfile claims a username and minimum bid for this wallet.
func (c *Client) RegisterProfile(ctx context.Context, req RegisterProfileRequest) (*Profile, error) {
	if req.Wallet == "" {
		req.Wallet = c.signer.Address()
	}
	var out struct {
		Profile *Profile `json:"profile"`
	}
	if err := c.post(ctx, "/v1/profiles", req, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	return out.Profile, nil
}

// Profile fetches the profile registered for a wallet.
func (c *Client) Profile(ctx context.Context, wallet string) (*Profile, error) {
	var out struct {
		Profile *Profile `json:"profile"`
	}
	if err := c.get(ctx, "/v1/profiles/"+url.PathEscape(wallet), &out); err != nil {
		return nil, err
	}
	return out.Profile, nil
}

func (c *Client) decide(ctx context.Context, id, action string, body any) (*Decision, error) {
	path := "/v1/messages/" + url.PathEscape(id) + "/" + action
	var out Decision
	if err := c.post(ctx, path, body, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set(identityHeader, c.signer.Address())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	return decode(resp, http.StatusOK, out)
}

func (c *Client) post(ctx context.Context, path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(identityHeader, c.signer.Address())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	return decode(resp, wantStatus, out)
}

// decode reads the body and unmarshals into out on the expected status, or
// surfaces the server's error envelope otherwise.
func decode(resp *http.Response, wantStatus int, out any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != wantStatus {
		var apiErr x402.Error
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Code != "" {
			return &apiErr
		}
		return fmt.Errorf("bidbox: unexpected status %d: %s", resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
