package relay

import (
	"time"

	"github.com/dreamlab-ai/nostr-relay/nostr"
)

// Session is one client connection to a shard. Its subscriptions and closed flag belong
// to the shard actor; the connection goroutines only use the outgoing and kick channels.
type Session struct {
	ID     uint64
	Origin string

	outgoing chan []byte
	// closed by the actor when the session is removed
	kick chan struct{}

	subs        map[string]nostr.Filters
	closed      bool
	connectedAt time.Time
}

func newSession(id uint64, origin string, queueSize int) *Session {
	return &Session{
		ID:          id,
		Origin:      origin,
		outgoing:    make(chan []byte, queueSize),
		kick:        make(chan struct{}),
		subs:        make(map[string]nostr.Filters),
		connectedAt: time.Now(),
	}
}

// Outgoing is the queue of encoded messages for the client, in order.
func (s *Session) Outgoing() <-chan []byte {
	return s.outgoing
}

// Kicked is closed once the relay has removed the session; the connection should close.
func (s *Session) Kicked() <-chan struct{} {
	return s.kick
}
