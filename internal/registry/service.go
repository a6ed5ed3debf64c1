package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mbd888/bidbox/internal/validation"
)

// Service resolves bid targets and manages profiles.
type Service struct {
	store Store
}

// NewService creates a registry service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Register creates a profile for a wallet.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Profile, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if !ValidUsername(username) {
		return nil, ErrInvalidUsername
	}

	minBid := req.MinBidUsd
	if minBid == "" {
		minBid = DefaultMinBidUsd
	}

	now := time.Now()
	profile := &Profile{
		Wallet:      strings.ToLower(req.Wallet),
		Username:    username,
		DisplayName: strings.TrimSpace(req.DisplayName),
		MinBidUsd:   minBid,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// Get returns the profile for a wallet.
func (s *Service) Get(ctx context.Context, wallet string) (*Profile, error) {
	return s.store.GetByWallet(ctx, wallet)
}

// Resolve turns a recipient reference — username or 0x wallet — into a bid
// target. Unregistered wallets resolve to the default minimum bid; an
// unknown username is an error since there is no wallet to pay.
func (s *Service) Resolve(ctx context.Context, ref string) (*Recipient, error) {
	ref = strings.TrimSpace(ref)

	if validation.IsValidEthAddress(ref) {
		wallet := strings.ToLower(ref)
		profile, err := s.store.GetByWallet(ctx, wallet)
		if errors.Is(err, ErrProfileNotFound) {
			return &Recipient{Wallet: wallet, MinBidUsd: DefaultMinBidUsd}, nil
		}
		if err != nil {
			return nil, err
		}
		return recipientFromProfile(profile), nil
	}

	profile, err := s.store.GetByUsername(ctx, ref)
	if err != nil {
		return nil, err
	}
	return recipientFromProfile(profile), nil
}

func recipientFromProfile(p *Profile) *Recipient {
	return &Recipient{
		Wallet:       p.Wallet,
		Username:     p.Username,
		MinBidUsd:    p.MinBidUsd,
		IsRegistered: true,
	}
}
