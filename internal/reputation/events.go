// Package reputation derives wallet scores from message behavior.
//
// Every message transition appends immutable ReputationEvents for both
// parties and synchronously recomputes their snapshots from the event log.
// Scores are conservative on thin history: open and reply rates go through a
// Wilson lower bound, so one lucky early interaction cannot inflate a score.
package reputation

import (
	"errors"
	"time"
)

var (
	ErrSnapshotNotFound = errors.New("reputation: no snapshot for wallet")
	ErrSelfVouch        = errors.New("reputation: cannot vouch for yourself")
	ErrDuplicateVouch   = errors.New("reputation: vouch already exists")
	ErrDuplicateBlock   = errors.New("reputation: block already exists")
)

// EventType classifies a behavioral fact.
type EventType string

const (
	EventSent      EventType = "sent"      // wallet committed a bid
	EventDelivered EventType = "delivered" // wallet received a bid
	EventOpened    EventType = "opened"
	EventReplied   EventType = "replied"
	EventRefunded  EventType = "refunded" // declined or expired
	EventBlocked   EventType = "blocked"
	EventVouched   EventType = "vouched"
)

// Direction states which side of the message the wallet was on.
type Direction string

const (
	DirSent     Direction = "sent"
	DirReceived Direction = "received"
)

// Event is one append-only behavioral fact. Never mutated or deleted.
type Event struct {
	ID         string            `json:"id"`
	Wallet     string            `json:"wallet"`
	Type       EventType         `json:"type"`
	Direction  Direction         `json:"direction"`
	MessageID  string            `json:"messageId,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Vouch is a directed endorsement. Weight is the voucher's recipient score
// over 100 at creation time, frozen thereafter.
type Vouch struct {
	Voucher   string    `json:"voucher"`
	Vouchee   string    `json:"vouchee"`
	Weight    float64   `json:"weight"`
	CreatedAt time.Time `json:"createdAt"`
}

// Block is a directed negative signal.
type Block struct {
	Blocker   string    `json:"blocker"`
	Blocked   string    `json:"blocked"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Snapshot is a wallet's current standing, fully recomputed from the event
// log on every logged event. Replaced whole, never patched.
type Snapshot struct {
	Wallet         string    `json:"wallet"`
	SenderScore    float64   `json:"senderScore"`
	RecipientScore float64   `json:"recipientScore"`
	OpenRate       float64   `json:"openRate"`
	ReplyRate      float64   `json:"replyRate"`
	RefundRate     float64   `json:"refundRate"`
	BlockRate      float64   `json:"blockRate"`
	VouchCount     int       `json:"vouchCount"`
	TotalSent      int       `json:"totalSent"`
	TotalReceived  int       `json:"totalReceived"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
