package reputation

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedEngine(now time.Time) *Engine {
	e := NewEngine()
	e.now = func() time.Time { return now }
	return e
}

func sentBatch(wallet string, n int, at time.Time, withType EventType, k int) []*Event {
	var events []*Event
	for i := 0; i < n; i++ {
		events = append(events, &Event{
			ID: fmt.Sprintf("ev_sent_%d", i), Wallet: wallet,
			Type: EventSent, Direction: DirSent, OccurredAt: at,
		})
	}
	for i := 0; i < k; i++ {
		events = append(events, &Event{
			ID: fmt.Sprintf("ev_%s_%d", withType, i), Wallet: wallet,
			Type: withType, Direction: DirSent, OccurredAt: at,
		})
	}
	return events
}

func TestWilsonLowerBound(t *testing.T) {
	// No data means no credit.
	assert.Zero(t, wilsonLowerBound(0, 0))

	// A perfect small sample must stay well below 1.
	small := wilsonLowerBound(2, 2)
	assert.Less(t, small, 0.75)
	assert.Greater(t, small, 0.0)

	// Confidence grows with sample size at the same observed rate.
	larger := wilsonLowerBound(80, 100)
	largest := wilsonLowerBound(800, 1000)
	assert.Less(t, larger, largest)
	assert.Less(t, largest, 0.8)

	// Known value: 80/100 at z=1.96 is about 0.7112.
	assert.InDelta(t, 0.7112, larger, 0.001)
}

func TestDecayWeight(t *testing.T) {
	assert.InDelta(t, 1.0, decayWeight(0), 1e-9)
	assert.InDelta(t, 0.5, decayWeight(75*24*time.Hour), 1e-9)
	assert.InDelta(t, 0.25, decayWeight(150*24*time.Hour), 1e-9)
	// Clock skew never produces weight above 1.
	assert.InDelta(t, 1.0, decayWeight(-time.Hour), 1e-9)
}

func TestCompute_Deterministic(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	engine := fixedEngine(now)

	events := sentBatch("0xwallet", 10, now.AddDate(0, 0, -5), EventReplied, 6)
	in := Inputs{Events: events}

	first := engine.Compute("0xwallet", in)
	second := engine.Compute("0xwallet", in)
	assert.Equal(t, first.SenderScore, second.SenderScore)
	assert.Equal(t, first.RecipientScore, second.RecipientScore)
}

func TestCompute_EmptyHistory(t *testing.T) {
	engine := fixedEngine(time.Now())
	snap := engine.Compute("0xwallet", Inputs{})

	assert.Zero(t, snap.SenderScore)
	assert.Zero(t, snap.RecipientScore)
	assert.Zero(t, snap.TotalSent)
	assert.Zero(t, snap.TotalReceived)
}

func TestCompute_IgnoresEventsOutsideWindow(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	engine := fixedEngine(now)

	old := sentBatch("0xwallet", 20, now.AddDate(0, 0, -120), EventReplied, 20)
	snap := engine.Compute("0xwallet", Inputs{Events: old})
	assert.Zero(t, snap.SenderScore)
	assert.Zero(t, snap.TotalSent)
}

func TestCompute_RecentBehaviorDominates(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	engine := fixedEngine(now)

	// Same counts, different ages: refunds long ago should sting less than
	// refunds yesterday.
	oldRefunds := append(
		sentBatch("0xwallet", 10, now.AddDate(0, 0, -1), EventReplied, 5),
		sentBatch("0xwallet", 10, now.AddDate(0, 0, -80), EventRefunded, 8)...,
	)
	freshRefunds := append(
		sentBatch("0xwallet", 10, now.AddDate(0, 0, -80), EventReplied, 5),
		sentBatch("0xwallet", 10, now.AddDate(0, 0, -1), EventRefunded, 8)...,
	)

	oldSnap := engine.Compute("0xwallet", Inputs{Events: oldRefunds})
	freshSnap := engine.Compute("0xwallet", Inputs{Events: freshRefunds})
	assert.Greater(t, oldSnap.SenderScore, freshSnap.SenderScore)
}

func TestCompute_VouchScoreCapped(t *testing.T) {
	now := time.Now()
	engine := fixedEngine(now)

	var many []*Vouch
	for i := 0; i < 30; i++ {
		many = append(many, &Vouch{Weight: 0.9, CreatedAt: now})
	}
	capped := engine.Compute("0xwallet", Inputs{VouchesReceived: many})
	ten := engine.Compute("0xwallet", Inputs{VouchesReceived: many[:12]})

	// 12 * 0.9 > 10 already hits the cap; more vouches add nothing.
	assert.Equal(t, ten.SenderScore, capped.SenderScore)
	assert.InDelta(t, 8.0+5.0*0, capped.SenderScore, 1e-9) // 8*(10/10)
}

func TestCompute_ContributionCapped(t *testing.T) {
	engine := fixedEngine(time.Now())

	five := engine.Compute("0xwallet", Inputs{VouchesGiven: 5})
	fifty := engine.Compute("0xwallet", Inputs{VouchesGiven: 50})
	assert.Equal(t, five.SenderScore, fifty.SenderScore)
	assert.InDelta(t, 5.0, five.SenderScore, 1e-9) // 5*(5/5)
}

func TestCompute_RecipientScore(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	engine := fixedEngine(now)

	at := now.AddDate(0, 0, -2)
	var events []*Event
	for i := 0; i < 40; i++ {
		events = append(events, &Event{Wallet: "0xw", Type: EventDelivered, Direction: DirReceived, OccurredAt: at})
	}
	for i := 0; i < 30; i++ {
		events = append(events, &Event{Wallet: "0xw", Type: EventOpened, Direction: DirReceived, OccurredAt: at})
	}
	for i := 0; i < 20; i++ {
		events = append(events, &Event{Wallet: "0xw", Type: EventReplied, Direction: DirReceived, OccurredAt: at})
	}

	snap := engine.Compute("0xw", Inputs{Events: events})
	assert.Equal(t, 40, snap.TotalReceived)
	assert.InDelta(t, 0.75, snap.OpenRate, 1e-9)
	assert.InDelta(t, 0.5, snap.ReplyRate, 1e-9)
	assert.Greater(t, snap.RecipientScore, 0.0)

	// A single vouch adds the flat 10-point bonus.
	vouched := engine.Compute("0xw", Inputs{
		Events:          events,
		VouchesReceived: []*Vouch{{Weight: 0.4, CreatedAt: now}},
	})
	assert.InDelta(t, snap.RecipientScore+10, vouched.RecipientScore, 1e-9)
}

func TestCompute_ScoresClamped(t *testing.T) {
	now := time.Now()
	engine := fixedEngine(now)

	// All refunds and blocks: raw sender score would go negative.
	events := sentBatch("0xw", 10, now.Add(-24*time.Hour), EventRefunded, 10)
	events = append(events, sentBatch("0xw", 0, now.Add(-24*time.Hour), EventBlocked, 10)...)

	snap := engine.Compute("0xw", Inputs{Events: events})
	require.GreaterOrEqual(t, snap.SenderScore, 0.0)
	assert.LessOrEqual(t, snap.SenderScore, 100.0)
	assert.InDelta(t, 1.0, snap.BlockRate, 1e-9)
	assert.False(t, math.IsNaN(snap.SenderScore))
}
