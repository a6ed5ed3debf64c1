// Package registry holds recipient profiles: the wallet a username maps to
// and the minimum bid that wallet will entertain.
package registry

import (
	"errors"
	"regexp"
	"time"
)

var (
	ErrProfileNotFound = errors.New("registry: profile not found")
	ErrProfileExists   = errors.New("registry: wallet already registered")
	ErrUsernameTaken   = errors.New("registry: username already taken")
	ErrInvalidUsername = errors.New("registry: invalid username")
)

// DefaultMinBidUsd applies to wallets without a profile. Anyone addressable
// by wallet can receive bids; registration only customizes the floor.
const DefaultMinBidUsd = "0.50"

var usernameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{2,31}$`)

// ValidUsername reports whether a username is acceptable: lowercase
// alphanumeric plus _ and -, 3 to 32 chars, starting alphanumeric.
func ValidUsername(name string) bool {
	return usernameRegex.MatchString(name)
}

// Profile is a registered recipient.
type Profile struct {
	Wallet      string    `json:"wallet"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName,omitempty"`
	MinBidUsd   string    `json:"minBidUsd"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Recipient is a resolved bid target: a profile if one exists, otherwise a
// bare wallet with the default floor.
type Recipient struct {
	Wallet       string `json:"wallet"`
	Username     string `json:"username,omitempty"`
	MinBidUsd    string `json:"minBidUsd"`
	IsRegistered bool   `json:"isRegistered"`
}

// RegisterRequest is the payload for profile registration.
type RegisterRequest struct {
	Wallet      string `json:"wallet" binding:"required"`
	Username    string `json:"username" binding:"required"`
	DisplayName string `json:"displayName"`
	MinBidUsd   string `json:"minBidUsd"`
}
