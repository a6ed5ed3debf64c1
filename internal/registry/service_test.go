package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_Basic(t *testing.T) {
	svc := NewService(NewMemoryStore())

	profile, err := svc.Register(context.Background(), RegisterRequest{
		Wallet:    "0xABCDEF1234567890abcdef1234567890ABCDEF12",
		Username:  "Alice",
		MinBidUsd: "2.50",
	})
	require.NoError(t, err)

	assert.Equal(t, "0xabcdef1234567890abcdef1234567890abcdef12", profile.Wallet)
	assert.Equal(t, "alice", profile.Username)
	assert.Equal(t, "2.50", profile.MinBidUsd)
}

func TestRegister_DefaultMinBid(t *testing.T) {
	svc := NewService(NewMemoryStore())

	profile, err := svc.Register(context.Background(), RegisterRequest{
		Wallet:   "0xabcdef1234567890abcdef1234567890abcdef12",
		Username: "bob",
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultMinBidUsd, profile.MinBidUsd)
}

func TestRegister_InvalidUsername(t *testing.T) {
	svc := NewService(NewMemoryStore())

	for _, name := range []string{"ab", "-leading", "has space", "UPPER!", ""} {
		_, err := svc.Register(context.Background(), RegisterRequest{
			Wallet:   "0xabcdef1234567890abcdef1234567890abcdef12",
			Username: name,
		})
		assert.ErrorIs(t, err, ErrInvalidUsername, "username %q", name)
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{
		Wallet:   "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Username: "carol",
	})
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterRequest{
		Wallet:   "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		Username: "carol",
	})
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestResolve_ByUsername(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{
		Wallet:    "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Username:  "dave",
		MinBidUsd: "5.00",
	})
	require.NoError(t, err)

	r, err := svc.Resolve(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", r.Wallet)
	assert.Equal(t, "5.00", r.MinBidUsd)
	assert.True(t, r.IsRegistered)
}

func TestResolve_UnregisteredWallet(t *testing.T) {
	svc := NewService(NewMemoryStore())

	r, err := svc.Resolve(context.Background(), "0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC")
	require.NoError(t, err)
	assert.Equal(t, "0xcccccccccccccccccccccccccccccccccccccccc", r.Wallet)
	assert.Equal(t, DefaultMinBidUsd, r.MinBidUsd)
	assert.False(t, r.IsRegistered)
}

func TestResolve_UnknownUsername(t *testing.T) {
	svc := NewService(NewMemoryStore())

	_, err := svc.Resolve(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}
