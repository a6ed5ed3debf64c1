// Package messages owns the deferred-settlement escrow lifecycle.
//
// Flow:
//  1. Sender commits a bid → challenge issued, sender answers with a signed
//     transfer authorization → Message (pending) + PaymentAuthorization
//     (authorized) persisted atomically
//  2. Recipient opens → openedAt set, message leaves sweeper eligibility
//  3. Recipient accepts → authorization settled on-chain, funds move
//  4. Recipient declines → authorization voided, nothing ever moved
//  5. SLA passes unopened → sweeper expires the message; funds never left
//     the sender's custody, so the "refund" is purely a status change
package messages

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/bidbox/internal/pagination"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrAuthNotFound    = errors.New("payment authorization not found")
	ErrStateConflict   = errors.New("message already resolved")
	ErrNotRecipient    = errors.New("caller is not the recipient of record")
	ErrNonceReplayed   = errors.New("authorization nonce already used")
	ErrInvalidStatus   = errors.New("invalid message status for this operation")
	ErrSettlementFail  = errors.New("on-chain settlement failed")
	ErrInvalidCursor   = errors.New("invalid pagination cursor")
)

// Status represents the state of a message in the escrow lifecycle.
type Status string

const (
	StatusPending  Status = "pending"  // authorization escrowed, awaiting recipient
	StatusOpened   Status = "opened"   // recipient opened, still undecided
	StatusAccepted Status = "accepted" // settled on-chain
	StatusReplied  Status = "replied"  // accepted and answered
	StatusDeclined Status = "declined" // voided by recipient
	StatusExpired  Status = "expired"  // SLA passed unopened, bid released
)

// Sender-chosen SLA bounds, in hours.
const (
	MinExpiryHours = 1
	MaxExpiryHours = 168
)

// Message is one bid to deliver content to a recipient. Rows are never
// deleted: the table is the audit trail reputation is derived from.
type Message struct {
	ID             string     `json:"id"`
	SenderAddr     string     `json:"senderAddr"`
	SenderName     string     `json:"senderName,omitempty"`
	RecipientAddr  string     `json:"recipientAddr"`
	Content        string     `json:"content"`
	BidUsd         string     `json:"bidUsd"`
	ReplyBountyUsd string     `json:"replyBountyUsd,omitempty"`
	Status         Status     `json:"status"`
	SentAt         time.Time  `json:"sentAt"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	OpenedAt       *time.Time `json:"openedAt,omitempty"`
	RepliedAt      *time.Time `json:"repliedAt,omitempty"`
	AcceptedAt     *time.Time `json:"acceptedAt,omitempty"`
	DeclinedAt     *time.Time `json:"declinedAt,omitempty"`
	RefundedAt     *time.Time `json:"refundedAt,omitempty"`
	RefundReason   string     `json:"refundReason,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// IsTerminal returns true once the message can no longer change hands.
func (m *Message) IsTerminal() bool {
	switch m.Status {
	case StatusAccepted, StatusReplied, StatusDeclined, StatusExpired:
		return true
	}
	return false
}

// AuthStatus represents the state of an escrowed authorization.
type AuthStatus string

const (
	AuthAuthorized AuthStatus = "authorized" // signed permission held, funds untouched
	AuthSettled    AuthStatus = "settled"    // transfer executed
	AuthUnused     AuthStatus = "unused"     // voided, never executed
)

// PaymentAuthorization is the escrow record: one signed transfer permission
// tied 1:1 to a Message. AmountUnits (smallest integer units) is
// authoritative; AmountUsd is a display echo.
type PaymentAuthorization struct {
	MessageID        string     `json:"messageId"`
	ChainID          int64      `json:"chainId"`
	TokenAddress     string     `json:"tokenAddress"`
	AmountUnits      string     `json:"amountUnits"`
	AmountUsd        string     `json:"amountUsd"`
	SenderAddr       string     `json:"senderAddr"`
	RecipientAddr    string     `json:"recipientAddr"`
	Nonce            string     `json:"nonce"`
	V                uint8      `json:"v"`
	R                string     `json:"r"`
	S                string     `json:"s"`
	ValidAfter       int64      `json:"validAfter"`
	ValidBefore      int64      `json:"validBefore"`
	Status           AuthStatus `json:"status"`
	SettlementTxHash string     `json:"settlementTxHash,omitempty"`
	RefundTxHash     string     `json:"refundTxHash,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Store persists messages and their escrow records.
//
// Transition is the concurrency primitive: it applies the new message (and
// optionally authorization) state only if the message is still in `from`,
// returning ErrStateConflict otherwise. Races between a recipient accept and
// the sweeper resolve to exactly one winner without any external lock.
type Store interface {
	// CreateEscrow persists the message and authorization atomically: both
	// exist or neither does. Returns ErrNonceReplayed if the authorization
	// nonce was seen before.
	CreateEscrow(ctx context.Context, msg *Message, auth *PaymentAuthorization) error

	GetMessage(ctx context.Context, id string) (*Message, error)
	GetAuthorization(ctx context.Context, messageID string) (*PaymentAuthorization, error)

	// Transition conditionally applies msg (and auth, if non-nil) where the
	// stored message status still equals from.
	Transition(ctx context.Context, from Status, msg *Message, auth *PaymentAuthorization) error

	// ListExpired returns pending, unopened messages whose SLA passed.
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Message, error)

	// ListByWallet returns messages the wallet sent or received, newest
	// first. A non-nil cursor restricts results to messages strictly older
	// than the cursor position.
	ListByWallet(ctx context.Context, wallet string, before *pagination.Cursor, limit int) ([]*Message, error)

	// ListPendingBids returns bid amounts of messages currently pending for
	// the recipient.
	ListPendingBids(ctx context.Context, recipient string) ([]string, error)

	// ListRecentAccepted returns bid amounts of the recipient's most
	// recently accepted messages, most recent first.
	ListRecentAccepted(ctx context.Context, recipient string, limit int) ([]string, error)
}
