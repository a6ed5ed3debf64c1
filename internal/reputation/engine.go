package reputation

import (
	"math"
	"time"
)

// Scoring window and decay parameters.
const (
	LookbackDays  = 90
	HalfLifeDays  = 75.0
	WilsonZ       = 1.96 // 95% confidence
	MaxVouchScore = 10.0
	MaxContrib    = 5.0
)

// Engine computes snapshots from raw behavioral inputs. Pure computation:
// the same inputs always produce the same snapshot (modulo the clock).
type Engine struct {
	now func() time.Time
}

// NewEngine creates a scoring engine.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// Inputs are everything a recompute needs, pre-fetched by the service.
type Inputs struct {
	Events          []*Event // wallet's events within the lookback window
	VouchesReceived []*Vouch
	VouchesGiven    int // within the window
}

// tally accumulates decayed counts for one direction of traffic.
type tally struct {
	total    float64
	opened   float64
	replied  float64
	refunded float64
	blocked  float64
	rawTotal int
}

// Compute derives a fresh snapshot for the wallet. The returned snapshot
// fully replaces any previous one.
func (e *Engine) Compute(wallet string, in Inputs) *Snapshot {
	now := e.now()
	cutoff := now.AddDate(0, 0, -LookbackDays)

	var sent, received tally
	for _, ev := range in.Events {
		if ev.OccurredAt.Before(cutoff) {
			continue
		}
		w := decayWeight(now.Sub(ev.OccurredAt))

		t := &sent
		if ev.Direction == DirReceived {
			t = &received
		}
		switch ev.Type {
		case EventSent, EventDelivered:
			t.total += w
			t.rawTotal++
		case EventOpened:
			t.opened += w
		case EventReplied:
			t.replied += w
		case EventRefunded:
			t.refunded += w
		case EventBlocked:
			t.blocked += w
		}
	}

	vouchScore := 0.0
	for _, v := range in.VouchesReceived {
		vouchScore += v.Weight
	}
	if vouchScore > MaxVouchScore {
		vouchScore = MaxVouchScore
	}
	hasAnyVouch := len(in.VouchesReceived) > 0
	contrib := math.Min(MaxContrib, float64(in.VouchesGiven))

	sentOpenLB := wilsonLowerBound(sent.opened, sent.total)
	sentReplyLB := wilsonLowerBound(sent.replied, sent.total)
	sentRefundRate := rate(sent.refunded, sent.total)
	sentBlockRate := rate(sent.blocked, sent.total)

	recvOpenLB := wilsonLowerBound(received.opened, received.total)
	recvReplyLB := wilsonLowerBound(received.replied, received.total)
	recvRefundRate := rate(received.refunded, received.total)

	senderScore := 45*sentReplyLB + 20*sentOpenLB +
		8*(vouchScore/MaxVouchScore) + 5*(contrib/MaxContrib) -
		6*sentRefundRate - 7*sentBlockRate

	recipientScore := 40*recvOpenLB + 30*recvReplyLB - 10*recvRefundRate
	if hasAnyVouch {
		recipientScore += 10
	}

	return &Snapshot{
		Wallet:         wallet,
		SenderScore:    clamp(senderScore, 0, 100),
		RecipientScore: clamp(recipientScore, 0, 100),
		OpenRate:       rate(received.opened, received.total),
		ReplyRate:      rate(received.replied, received.total),
		RefundRate:     recvRefundRate,
		BlockRate:      sentBlockRate,
		VouchCount:     len(in.VouchesReceived),
		TotalSent:      sent.rawTotal,
		TotalReceived:  received.rawTotal,
		UpdatedAt:      now,
	}
}

// decayWeight halves an event's contribution every HalfLifeDays.
func decayWeight(age time.Duration) float64 {
	days := age.Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Pow(0.5, days/HalfLifeDays)
}

// wilsonLowerBound returns the lower bound of the Wilson score interval for
// successes/total. Small samples are pulled toward zero, which is the point:
// the estimate is conservative until the history earns confidence.
func wilsonLowerBound(successes, total float64) float64 {
	if total <= 0 {
		return 0
	}
	p := successes / total
	if p > 1 {
		p = 1
	}
	z := WilsonZ
	z2 := z * z
	denom := 1 + z2/total
	center := p + z2/(2*total)
	margin := z * math.Sqrt((p*(1-p)+z2/(4*total))/total)
	lb := (center - margin) / denom
	if lb < 0 {
		return 0
	}
	return lb
}

func rate(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	r := part / total
	if r > 1 {
		return 1
	}
	return r
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
