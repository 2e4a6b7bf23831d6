package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dreamlab-ai/nostr-relay/pkg/robusthttp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPWhitelist(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/api/check-whitelist" {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Query().Get("pubkey") {
		case pkAlice:
			json.NewEncoder(w).Encode(map[string]any{"isWhitelisted": true, "isAdmin": false})
		case pkBob:
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		default:
			json.NewEncoder(w).Encode(map[string]any{"isWhitelisted": false})
		}
	}))
	defer srv.Close()

	wl, err := NewHTTPWhitelist(srv.URL+"/api/check-whitelist", robusthttp.WithMaxRetries(1), robusthttp.WithRetryWait(time.Millisecond, time.Millisecond))
	require.NoError(err)

	ok, err := wl.IsWhitelisted(ctx, pkAlice)
	require.NoError(err)
	assert.True(ok)

	ok, err = wl.IsWhitelisted(ctx, pkCarol)
	require.NoError(err)
	assert.False(ok)

	// server errors are retried, then surfaced
	calls.Store(0)
	_, err = wl.IsWhitelisted(ctx, pkBob)
	assert.Error(err)
	assert.Equal(int32(2), calls.Load())

	opened, err := OpenWhitelist(ctx, srv.URL+"/api/check-whitelist", "", nil, GormOptions{})
	require.NoError(err)
	assert.IsType(&HTTPWhitelist{}, opened)
}
