package robusthttp

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetries(t *testing.T) {
	assert := assert.New(t)

	var calls atomic.Int32
	status := atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	client := NewClient(WithMaxRetries(2), WithRetryWait(time.Millisecond, time.Millisecond))

	// server errors are retried, then reported
	status.Store(http.StatusBadGateway)
	_, err := client.Get(srv.URL)
	assert.Error(err)
	assert.Equal(int32(3), calls.Load())

	// rate limiting is handed straight back
	calls.Store(0)
	status.Store(http.StatusTooManyRequests)
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(int32(1), calls.Load())
}
