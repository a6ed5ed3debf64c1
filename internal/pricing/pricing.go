// Package pricing computes bid guidance for a recipient from live and
// recently settled escrow activity.
//
// The guide is display advice for senders composing a bid, not a settlement
// input: amounts move through the escrow path as exact integer units, while
// the percentiles here are computed in floating point over the decimal view.
package pricing

import (
	"context"
	"sort"
	"strconv"

	"github.com/mbd888/bidbox/internal/logging"
	"github.com/mbd888/bidbox/internal/registry"
)

// minSampleSize is the target sample before recent accepted bids are pulled
// in to pad out thin pending activity.
const minSampleSize = 5

// recentAcceptedLimit caps how far back the guide reaches for settled bids.
const recentAcceptedLimit = 20

// Guide is the per-recipient bid guidance.
type Guide struct {
	MinBaseUsd   string `json:"minBaseUsd"`
	P25          string `json:"p25"`
	Median       string `json:"median"`
	P75          string `json:"p75"`
	SampleSize   int    `json:"sampleSize"`
	IsRegistered bool   `json:"isRegistered"`
	Username     string `json:"username,omitempty"`
}

// BidSource provides the bid amounts the guide samples from.
// *messages.MemoryStore and *messages.PostgresStore both satisfy it.
type BidSource interface {
	ListPendingBids(ctx context.Context, recipient string) ([]string, error)
	ListRecentAccepted(ctx context.Context, recipient string, limit int) ([]string, error)
}

// Resolver maps a recipient handle (username or wallet) to a profile.
type Resolver interface {
	Resolve(ctx context.Context, recipient string) (*registry.Recipient, error)
}

// Service computes price guides.
type Service struct {
	bids     BidSource
	resolver Resolver
}

// NewService creates a pricing service.
func NewService(bids BidSource, resolver Resolver) *Service {
	return &Service{bids: bids, resolver: resolver}
}

// PriceGuide computes the winsorized bid percentiles for a recipient.
// The recipient may be a username or a bare wallet address.
func (s *Service) PriceGuide(ctx context.Context, recipient string) (*Guide, error) {
	rec, err := s.resolver.Resolve(ctx, recipient)
	if err != nil {
		return nil, err
	}

	minBid, err := strconv.ParseFloat(rec.MinBidUsd, 64)
	if err != nil {
		logging.L(ctx).Warn("profile has unparseable minimum bid, using default",
			"wallet", rec.Wallet, "minBidUsd", rec.MinBidUsd)
		minBid, _ = strconv.ParseFloat(registry.DefaultMinBidUsd, 64)
	}

	sample, err := s.gatherSample(ctx, rec.Wallet)
	if err != nil {
		return nil, err
	}

	guide := &Guide{
		MinBaseUsd:   formatUsd(minBid),
		SampleSize:   len(sample),
		IsRegistered: rec.IsRegistered,
		Username:     rec.Username,
	}

	if len(sample) == 0 {
		guide.P25 = guide.MinBaseUsd
		guide.Median = guide.MinBaseUsd
		guide.P75 = guide.MinBaseUsd
		return guide, nil
	}

	sort.Float64s(sample)
	clipped := winsorize(sample, minBid)
	guide.P25 = formatUsd(percentile(clipped, 0.25))
	guide.Median = formatUsd(percentile(clipped, 0.50))
	guide.P75 = formatUsd(percentile(clipped, 0.75))
	return guide, nil
}

// gatherSample collects pending bids and, when there are fewer than five,
// pads the sample with the recipient's most recently accepted bids.
func (s *Service) gatherSample(ctx context.Context, wallet string) ([]float64, error) {
	pending, err := s.bids.ListPendingBids(ctx, wallet)
	if err != nil {
		return nil, err
	}

	raw := pending
	if len(pending) < minSampleSize {
		accepted, err := s.bids.ListRecentAccepted(ctx, wallet, recentAcceptedLimit)
		if err != nil {
			return nil, err
		}
		need := minSampleSize - len(pending)
		if need > len(accepted) {
			need = len(accepted)
		}
		raw = append(append([]string{}, pending...), accepted[:need]...)
	}

	sample := make([]float64, 0, len(raw))
	for _, bid := range raw {
		v, err := strconv.ParseFloat(bid, 64)
		if err != nil {
			logging.L(ctx).Warn("skipping unparseable bid amount", "wallet", wallet, "bid", bid)
			continue
		}
		sample = append(sample, v)
	}
	return sample, nil
}

// winsorize clips every value into [minBid, p95 of the raw sorted sample] so
// a single whale bid cannot drag the displayed guidance. Input must be sorted.
func winsorize(sorted []float64, minBid float64) []float64 {
	hi := percentile(sorted, 0.95)
	if hi < minBid {
		hi = minBid
	}
	clipped := make([]float64, len(sorted))
	for i, v := range sorted {
		switch {
		case v < minBid:
			clipped[i] = minBid
		case v > hi:
			clipped[i] = hi
		default:
			clipped[i] = v
		}
	}
	return clipped
}

// percentile returns the q-th percentile of a sorted sample using linear
// interpolation between the two closest ranks.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := q * float64(len(sorted)-1)
	lo := int(rank)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

func formatUsd(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
