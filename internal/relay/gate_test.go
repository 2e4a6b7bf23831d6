package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dreamlab-ai/nostr-relay/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingWhitelist records lookups, and can be made to fail.
type countingWhitelist struct {
	members map[string]bool
	lookups int
	err     error
}

func (w *countingWhitelist) IsWhitelisted(ctx context.Context, pubkey string) (bool, error) {
	w.lookups++
	if w.err != nil {
		return false, w.err
	}
	return w.members[pubkey], nil
}

func TestGate(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	wl := &countingWhitelist{members: map[string]bool{"member": true}}
	g := NewGate(wl, []string{"admin"}, 100, 0)

	for _, kind := range []int{0, 9024} {
		ok, err := g.Allowed(ctx, "stranger", kind)
		require.NoError(err)
		assert.True(ok, "bootstrap kind %d", kind)
	}
	assert.Equal(0, wl.lookups)

	ok, err := g.Allowed(ctx, "admin", 1)
	require.NoError(err)
	assert.True(ok)
	assert.Equal(0, wl.lookups)

	ok, err = g.Allowed(ctx, "member", 1)
	require.NoError(err)
	assert.True(ok)

	for _, kind := range []int{1, 3, 7, 30023} {
		ok, err = g.Allowed(ctx, "stranger", kind)
		require.NoError(err)
		assert.False(ok, "kind %d", kind)
	}

	// caching disabled: every call hits the source
	assert.Equal(5, wl.lookups)

	wl.err = errors.New("database unavailable")
	_, err = g.Allowed(ctx, "member", 1)
	assert.Error(err)
}

func TestGateCache(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	wl := &countingWhitelist{members: map[string]bool{"member": true}}
	g := NewGate(wl, nil, 100, time.Minute)

	for i := 0; i < 3; i++ {
		ok, _ := g.Allowed(ctx, "member", 1)
		assert.True(ok)
		ok, _ = g.Allowed(ctx, "stranger", 1)
		assert.False(ok)
	}
	assert.Equal(2, wl.lookups)

	// failures are not cached
	wl.err = errors.New("timeout")
	_, err := g.Allowed(ctx, "other", 1)
	assert.Error(err)
	wl.err = nil
	wl.members["other"] = true
	ok, err := g.Allowed(ctx, "other", 1)
	assert.NoError(err)
	assert.True(ok)
}

func TestGateStaticWhitelist(t *testing.T) {
	g := NewGate(store.NewStaticWhitelist([]string{"member"}), nil, 0, 0)
	ok, err := g.Allowed(context.Background(), "member", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGateLookup(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	wl := &countingWhitelist{members: map[string]bool{"member": true}}
	g := NewGate(wl, []string{" ADMIN "}, 0, 0)

	member, admin, err := g.Lookup(ctx, "admin")
	assert.NoError(err)
	assert.False(member)
	assert.True(admin)

	member, admin, err = g.Lookup(ctx, "member")
	assert.NoError(err)
	assert.True(member)
	assert.False(admin)

	member, admin, err = g.Lookup(ctx, "stranger")
	assert.NoError(err)
	assert.False(member || admin)
	assert.Equal(2, wl.lookups)
}
