package messages

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/bidbox/internal/chain"
	"github.com/mbd888/bidbox/internal/token"
)

var testAsset = token.Asset{
	ChainID:  84532,
	Address:  "0x036cbd53842c5426634e7929541ec2318f3dcf7e",
	Symbol:   "USDC",
	Decimals: 6,
}

var testDomain = chain.Domain{
	Name:              "USD Coin",
	Version:           "2",
	ChainID:           84532,
	VerifyingContract: testAsset.Address,
}

const (
	senderAddr    = "0x1111111111111111111111111111111111111111"
	recipientAddr = "0x2222222222222222222222222222222222222222"
	strangerAddr  = "0x3333333333333333333333333333333333333333"
)

type recordedEvent struct {
	eventType string
	messageID string
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeRecorder) RecordMessageEvent(_ context.Context, eventType string, msg *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{eventType, msg.ID})
	return nil
}

func (f *fakeRecorder) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.eventType)
	}
	return out
}

func testCreateRequest(nonce string) CreateRequest {
	return CreateRequest{
		SenderAddr:     senderAddr,
		SenderName:     "alice",
		RecipientAddr:  recipientAddr,
		Content:        "would love your take on this",
		BidUsd:         "2.50",
		ExpiresInHours: 24,
		Asset:          testAsset,
		Authorization: &chain.Authorization{
			ChainID:      testAsset.ChainID,
			TokenAddress: testAsset.Address,
			Sender:       senderAddr,
			Recipient:    recipientAddr,
			Amount:       big.NewInt(2_500_000),
			Nonce:        nonce,
			ValidBefore:  time.Now().Add(15 * time.Minute).Unix(),
			V:            27,
			R:            "0x01",
			S:            "0x02",
		},
	}
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *chain.Simulated, *fakeRecorder) {
	t.Helper()
	store := NewMemoryStore()
	sim := chain.NewSimulated(testDomain)
	rec := &fakeRecorder{}
	svc := NewService(store, sim).WithRecorder(rec)
	return svc, store, sim, rec
}

func TestCreate_PersistsMessageAndAuthorization(t *testing.T) {
	svc, store, _, rec := newTestService(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, testCreateRequest("0xaa01"))
	require.NoError(t, err)

	assert.Equal(t, StatusPending, msg.Status)
	assert.Equal(t, "2.50", msg.BidUsd)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), msg.ExpiresAt, time.Minute)

	auth, err := store.GetAuthorization(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, AuthAuthorized, auth.Status)
	assert.Equal(t, "2500000", auth.AmountUnits)
	assert.Equal(t, "2.500000", auth.AmountUsd)

	assert.Equal(t, []string{"sent"}, rec.types())
}

func TestCreate_RejectsReplayedNonce(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, testCreateRequest("0xaa02"))
	require.NoError(t, err)

	_, err = svc.Create(ctx, testCreateRequest("0xaa02"))
	assert.ErrorIs(t, err, ErrNonceReplayed)
}

func TestCreate_RejectsBadExpiry(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	for _, hours := range []int{0, -1, 169} {
		req := testCreateRequest("0xaa03")
		req.ExpiresInHours = hours
		_, err := svc.Create(context.Background(), req)
		assert.Error(t, err, "hours=%d", hours)
	}
}

func TestOpen_SetsOpenedAt(t *testing.T) {
	svc, _, _, rec := newTestService(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, testCreateRequest("0xaa04"))
	require.NoError(t, err)

	opened, err := svc.Open(ctx, msg.ID, recipientAddr)
	require.NoError(t, err)
	assert.Equal(t, StatusOpened, opened.Status)
	require.NotNil(t, opened.OpenedAt)

	assert.Contains(t, rec.types(), "opened")
}

func TestOpen_Idempotent(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, testCreateRequest("0xaa05"))
	require.NoError(t, err)

	first, err := svc.Open(ctx, msg.ID, recipientAddr)
	require.NoError(t, err)
	second, err := svc.Open(ctx, msg.ID, recipientAddr)
	require.NoError(t, err)
	assert.Equal(t, first.OpenedAt.Unix(), second.OpenedAt.Unix())
}

func TestOpen_RejectsNonRecipient(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, testCreateRequest("0xaa06"))
	require.NoError(t, err)

	_, err = svc.Open(ctx, msg.ID, strangerAddr)
	assert.ErrorIs(t, err, ErrNotRecipient)

	_, err = svc.Open(ctx, msg.ID, senderAddr)
	assert.ErrorIs(t, err, ErrNotRecipient)
}

func TestAccept_SettlesAndMarksAccepted(t *testing.T) {
	svc, store, sim, _ := newTestService(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, testCreateRequest("0xaa07"))
	require.NoError(t, err)

	accepted, auth, err := svc.Accept(ctx, msg.ID, recipientAddr)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, accepted.Status)
	assert.Equal(t, AuthSettled, auth.Status)
	assert.NotEmpty(t, auth.SettlementTxHash)
	assert.Contains(t, sim.Calls(), "settle")

	stored, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, stored.Status)
}

func TestAccept_FromOpened(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, testCreateRequest("0xaa08"))
	require.NoError(t, err)
	_, err = svc.Open(ctx, msg.ID, recipientAddr)
	require.NoError(t, err)

	accepted, _, err := svc.Accept(ctx, msg.ID, recipientAddr)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, accepted.Status)
}

func TestAccept_SettlementFailureLeavesStateUntouched(t *testing.T) {
	svc, store, sim, _ := newTestService(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, testCreateRequest("0xaa09"))
	require.NoError(t, err)

	sim.FailWith(chain.ErrRPCConnection)
	_, _, err = svc.Accept(ctx, msg.ID, recipientAddr)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSettlementFail)

	stored, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)

	auth, err := store.GetAuthorization(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, AuthAuthorized, auth.Status)

	// Retry once the chain recovers.
	sim.FailWith(nil)
	accepted, _, err := svc.Accept(ctx, msg.ID, recipientAddr)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, accepted.Status)
}

func TestAccept_AlreadyResolved(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, testCreateRequest("0xaa10"))
	require.NoError(t, err)

	_, _, err = svc.Accept(ctx, msg.ID, recipientAddr)
	require.NoError(t, err)

	_, _, err = svc.Accept(ctx, msg.ID, recipientAddr)
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestDecline_VoidsWithoutChainCall(t *testing.T) {
	svc, store, sim, rec := newTestService(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, testCreateRequest("0xaa11"))
	require.NoError(t, err)

	declined, err := svc.Decline(ctx, msg.ID, recipientAddr, "not my field")
	require.NoError(t, err)
	assert.Equal(t, StatusDeclined, declined.Status)
	assert.Equal(t, "not my field", declined.RefundReason)

	auth, err := store.GetAuthorization(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, AuthUnused, auth.Status)
	assert.Empty(t, auth.SettlementTxHash)

	// Declines never touch the chain.
	assert.NotContains(t, sim.Calls(), "settle")
	assert.NotContains(t, sim.Calls(), "refund")

	assert.Contains(t, rec.types(), "refunded")
}

func TestReply_RequiresAccepted(t *testing.T) {
	svc, _, _, rec := newTestService(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, testCreateRequest("0xaa12"))
	require.NoError(t, err)

	_, err = svc.Reply(ctx, msg.ID, recipientAddr)
	assert.ErrorIs(t, err, ErrStateConflict)

	_, _, err = svc.Accept(ctx, msg.ID, recipientAddr)
	require.NoError(t, err)

	replied, err := svc.Reply(ctx, msg.ID, recipientAddr)
	require.NoError(t, err)
	assert.Equal(t, StatusReplied, replied.Status)
	assert.Contains(t, rec.types(), "replied")
}

func TestExpire_PendingUnopenedPastSLA(t *testing.T) {
	svc, store, sim, rec := newTestService(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, testCreateRequest("0xaa13"))
	require.NoError(t, err)

	// Backdate the SLA.
	stored, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	stored.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.Transition(ctx, StatusPending, stored, nil))

	require.NoError(t, svc.Expire(ctx, stored))

	final, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, final.Status)
	assert.Equal(t, RefundReasonExpired, final.RefundReason)
	require.NotNil(t, final.RefundedAt)

	// Expiry is a pure status change; no chain traffic.
	assert.NotContains(t, sim.Calls(), "settle")
	assert.NotContains(t, sim.Calls(), "refund")
	assert.Contains(t, rec.types(), "refunded")
}

func TestExpire_SkipsOpenedMessage(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, testCreateRequest("0xaa14"))
	require.NoError(t, err)
	_, err = svc.Open(ctx, msg.ID, recipientAddr)
	require.NoError(t, err)

	stored, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	err = svc.Expire(ctx, stored)
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestExpire_LosesRaceToAccept(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, testCreateRequest("0xaa15"))
	require.NoError(t, err)

	stale, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)

	_, _, err = svc.Accept(ctx, msg.ID, recipientAddr)
	require.NoError(t, err)

	// The sweeper's stale snapshot must not clobber the accept.
	err = svc.Expire(ctx, stale)
	assert.ErrorIs(t, err, ErrStateConflict)

	final, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, final.Status)
}

func TestConcurrentAccepts_ExactlyOneWinner(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, testCreateRequest("0xaa16"))
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.Accept(ctx, msg.ID, recipientAddr)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			ok := errors.Is(err, ErrStateConflict) || errors.Is(err, ErrSettlementFail)
			assert.True(t, ok, "unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one accept must win")
}

func seedListMessages(t *testing.T, store *MemoryStore, n int) {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		msg := &Message{
			ID:            fmt.Sprintf("msg-%02d", i),
			SenderAddr:    senderAddr,
			RecipientAddr: recipientAddr,
			Content:       "page me",
			BidUsd:        "1.00",
			Status:        StatusPending,
			SentAt:        base.Add(time.Duration(i) * time.Minute),
			ExpiresAt:     base.Add(24 * time.Hour),
		}
		auth := &PaymentAuthorization{
			MessageID: msg.ID,
			Nonce:     fmt.Sprintf("0xfeed%02d", i),
			Status:    AuthAuthorized,
		}
		require.NoError(t, store.CreateEscrow(context.Background(), msg, auth))
	}
}

func TestListByWallet_PagesNewestFirst(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()
	seedListMessages(t, store, 5)

	page1, cursor, err := svc.ListByWallet(ctx, senderAddr, "", 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "msg-04", page1[0].ID)
	assert.Equal(t, "msg-03", page1[1].ID)
	require.NotEmpty(t, cursor)

	page2, cursor, err := svc.ListByWallet(ctx, senderAddr, cursor, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "msg-02", page2[0].ID)
	assert.Equal(t, "msg-01", page2[1].ID)
	require.NotEmpty(t, cursor)

	page3, cursor, err := svc.ListByWallet(ctx, senderAddr, cursor, 2)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, "msg-00", page3[0].ID)
	assert.Empty(t, cursor, "last page has no next cursor")
}

func TestListByWallet_ExactPageBoundary(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()
	seedListMessages(t, store, 4)

	page, cursor, err := svc.ListByWallet(ctx, recipientAddr, "", 4)
	require.NoError(t, err)
	assert.Len(t, page, 4)
	assert.Empty(t, cursor, "full result set fits in one page")
}

func TestListByWallet_RejectsMalformedCursor(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, _, err := svc.ListByWallet(context.Background(), senderAddr, "not-base64!!", 10)
	assert.ErrorIs(t, err, ErrInvalidCursor)
}
