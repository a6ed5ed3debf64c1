package bidbox

import "time"

// SendMessageRequest commits a bid to a recipient (username or 0x wallet).
type SendMessageRequest struct {
	Recipient      string `json:"recipient"`
	Content        string `json:"content"`
	BidUsd         string `json:"bidUsd"`
	SenderAddr     string `json:"senderAddr"`
	SenderName     string `json:"senderName,omitempty"`
	ReplyBountyUsd string `json:"replyBountyUsd,omitempty"`
	ExpiresInHours int    `json:"expiresInHours,omitempty"`
}

// SendMessageResponse confirms the escrow was created.
type SendMessageResponse struct {
	MessageID string    `json:"messageId"`
	Status    string    `json:"status"`
	BidUsd    string    `json:"bidUsd"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Message is a committed bid and its lifecycle state.
type Message struct {
	ID             string     `json:"id"`
	SenderAddr     string     `json:"senderAddr"`
	SenderName     string     `json:"senderName,omitempty"`
	RecipientAddr  string     `json:"recipientAddr"`
	Content        string     `json:"content"`
	BidUsd         string     `json:"bidUsd"`
	ReplyBountyUsd string     `json:"replyBountyUsd,omitempty"`
	Status         string     `json:"status"`
	SentAt         time.Time  `json:"sentAt"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	OpenedAt       *time.Time `json:"openedAt,omitempty"`
	RepliedAt      *time.Time `json:"repliedAt,omitempty"`
	AcceptedAt     *time.Time `json:"acceptedAt,omitempty"`
	DeclinedAt     *time.Time `json:"declinedAt,omitempty"`
	RefundedAt     *time.Time `json:"refundedAt,omitempty"`
	RefundReason   string     `json:"refundReason,omitempty"`
}

// Decision is the outcome of an open/accept/decline/reply call.
type Decision struct {
	MessageID        string     `json:"messageId"`
	Status           string     `json:"status"`
	SettlementTxHash string     `json:"settlementTxHash,omitempty"`
	OpenedAt         *time.Time `json:"openedAt,omitempty"`
	RepliedAt        *time.Time `json:"repliedAt,omitempty"`
	Note             string     `json:"note,omitempty"`
}

// Reputation is a wallet's behavioral standing.
type Reputation struct {
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

// PriceGuide suggests bid levels for reaching a recipient.
type PriceGuide struct {
	MinBaseUsd   string `json:"minBaseUsd"`
	P25          string `json:"p25"`
	Median       string `json:"median"`
	P75          string `json:"p75"`
	SampleSize   int    `json:"sampleSize"`
	IsRegistered bool   `json:"isRegistered"`
	Username     string `json:"username,omitempty"`
}

// RegisterProfileRequest claims a username and minimum bid.
type RegisterProfileRequest struct {
	Wallet      string `json:"wallet"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	MinBidUsd   string `json:"minBidUsd"`
}

// Profile is a registered recipient.
type Profile struct {
	Wallet      string    `json:"wallet"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName,omitempty"`
	MinBidUsd   string    `json:"minBidUsd"`
	CreatedAt   time.Time `json:"createdAt"`
}
