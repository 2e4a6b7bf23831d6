package main

import (
	"strings"
	"testing"
	"time"

	"github.com/dreamlab-ai/nostr-relay/nostr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignEvent(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	k, err := nostr.ParsePrivateKeyHex(strings.Repeat("0", 63) + "1")
	require.NoError(err)
	now := time.Unix(1700000000, 0)

	evt, err := signEvent(strings.NewReader(`{"kind":9024,"content":"please add me","tags":[["t","intro"]]}`), k, now)
	require.NoError(err)
	assert.Equal(now.Unix(), evt.CreatedAt)
	assert.Equal(k.PublicKeyHex(), evt.PubKey)
	assert.NoError(nostr.VerifyEvent(evt))

	evt, err = signEvent(strings.NewReader(`{"kind":1,"content":"x","created_at":1600000000}`), k, now)
	require.NoError(err)
	assert.Equal(int64(1600000000), evt.CreatedAt)
	assert.NotNil(evt.Tags)
	assert.NoError(nostr.VerifyEvent(evt))

	_, err = signEvent(strings.NewReader(`not json`), k, now)
	assert.Error(err)
}

func TestRunKeygen(t *testing.T) {
	require.NoError(t, run([]string{"relay", "keygen"}))
	assert.Error(t, run([]string{"relay", "sign", "--secret-key", "zz"}))
}
