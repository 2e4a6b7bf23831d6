package relay

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/dreamlab-ai/nostr-relay/internal/store"
	"github.com/dreamlab-ai/nostr-relay/nostr"
)

// Config holds the limits and ceilings of one shard.
type Config struct {
	MaxContentBytes          int
	MaxBootstrapContentBytes int
	MaxTags                  int
	MaxTagValueBytes         int
	MaxTimestampDrift        time.Duration

	EventsPerSecond         int
	MaxConnectionsPerOrigin int

	MaxSubscriptions int
	MaxFilters       int
	MaxSubIDLength   int
	DefaultLimit     int
	MaxLimit         int

	// per-session outbound queue; a session which lets it fill up is dropped
	OutboundQueueSize int
	MaxMessageBytes   int64
	StoreTimeout      time.Duration

	// wall clock, for tests
	Now func() time.Time
}

// DefaultConfig returns the production limits.
func DefaultConfig() *Config {
	return &Config{
		MaxContentBytes:          64 * 1024,
		MaxBootstrapContentBytes: 8 * 1024,
		MaxTags:                  2000,
		MaxTagValueBytes:         1024,
		MaxTimestampDrift:        7 * 24 * time.Hour,
		EventsPerSecond:          10,
		MaxConnectionsPerOrigin:  20,
		MaxSubscriptions:         20,
		MaxFilters:               10,
		MaxSubIDLength:           64,
		DefaultLimit:             500,
		MaxLimit:                 1000,
		OutboundQueueSize:        4096,
		MaxMessageBytes:          1 << 20,
		StoreTimeout:             5 * time.Second,
	}
}

func (c *Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Relay is the actor for one shard. All session, subscription and rate limit state is
// owned by the Run goroutine; everything else talks to it over the ops channel.
type Relay struct {
	Config Config

	shard     string
	log       *slog.Logger
	store     store.Store
	gate      *Gate
	validator *Validator

	ops  chan *operation
	done chan struct{}

	// owned by Run
	sessions map[uint64]*Session
	limits   *originLimits
	nextID   uint64
}

const (
	opConnect = iota
	opDisconnect
	opMessage
)

type operation struct {
	op     int
	sess   *Session
	origin string
	data   []byte
	reply  chan *Session
}

// New creates the actor for a shard; a nil config means DefaultConfig. Call Run to start it.
func New(shard string, st store.Store, gate *Gate, config *Config) *Relay {
	if config == nil {
		config = DefaultConfig()
	}
	r := &Relay{
		Config:   *config,
		shard:    shard,
		log:      slog.Default().With("system", "relay", "shard", shard),
		store:    st,
		gate:     gate,
		ops:      make(chan *operation),
		done:     make(chan struct{}),
		sessions: make(map[uint64]*Session),
		limits:   newOriginLimits(config.MaxConnectionsPerOrigin, config.EventsPerSecond),
	}
	r.validator = NewValidator(&r.Config)
	return r
}

func (r *Relay) Shard() string {
	return r.shard
}

// Run processes operations until ctx is cancelled, then drops every session.
func (r *Relay) Run(ctx context.Context) {
	defer close(r.done)
	r.log.Info("shard started")

	for {
		select {
		case op := <-r.ops:
			r.dispatch(ctx, op)
		case <-ctx.Done():
			for _, s := range r.sessions {
				r.drop(s, "shutdown")
			}
			r.log.Info("shard stopped")
			return
		}
	}
}

func (r *Relay) submit(op *operation) error {
	select {
	case r.ops <- op:
		return nil
	case <-r.done:
		return ErrShutdown
	}
}

// Connect registers a new session for origin. It returns ErrTooManyConnections when the
// origin is already at its connection cap.
func (r *Relay) Connect(origin string) (*Session, error) {
	op := &operation{op: opConnect, origin: origin, reply: make(chan *Session, 1)}
	if err := r.submit(op); err != nil {
		return nil, err
	}
	select {
	case s := <-op.reply:
		if s == nil {
			return nil, ErrTooManyConnections
		}
		return s, nil
	case <-r.done:
		return nil, ErrShutdown
	}
}

// Disconnect tears down a session and all of its subscriptions. It is safe to call more
// than once, and after the relay has dropped the session itself.
func (r *Relay) Disconnect(s *Session) error {
	return r.submit(&operation{op: opDisconnect, sess: s})
}

// Deliver hands one client frame to the actor.
func (r *Relay) Deliver(s *Session, data []byte) error {
	return r.submit(&operation{op: opMessage, sess: s, data: data})
}

func (r *Relay) dispatch(ctx context.Context, op *operation) {
	defer func() {
		if rec := recover(); rec != nil {
			panicsRecovered.WithLabelValues(r.shard).Inc()
			r.log.Error("panic while handling operation", "op", op.op, "panic", rec, "stack", string(debug.Stack()))
			if op.sess != nil {
				r.send(op.sess, nostr.NoticeMessage(ReasonInternalError))
			}
			if op.reply != nil {
				select {
				case op.reply <- nil:
				default:
				}
			}
		}
	}()

	switch op.op {
	case opConnect:
		op.reply <- r.connect(op.origin)
	case opDisconnect:
		if !op.sess.closed {
			r.log.Info("session disconnected", "session_id", op.sess.ID, "origin", op.sess.Origin, "connected_duration", time.Since(op.sess.connectedAt))
		}
		r.remove(op.sess)
	case opMessage:
		r.handleMessage(ctx, op.sess, op.data)
	default:
		r.log.Error("unrecognized relay operation", "op", op.op)
	}
}

func (r *Relay) connect(origin string) *Session {
	if !r.limits.acquireConn(origin) {
		connectionsRefused.WithLabelValues(r.shard).Inc()
		r.log.Warn("refusing connection, origin at connection cap", "origin", origin)
		return nil
	}
	r.nextID++
	s := newSession(r.nextID, origin, r.Config.OutboundQueueSize)
	r.sessions[s.ID] = s
	activeSessions.WithLabelValues(r.shard).Inc()
	r.log.Info("new session", "session_id", s.ID, "origin", origin)
	return s
}

// remove is the single teardown path for a session. It is idempotent.
func (r *Relay) remove(s *Session) {
	if s.closed {
		return
	}
	s.closed = true
	delete(r.sessions, s.ID)
	r.limits.releaseConn(s.Origin)
	activeSessions.WithLabelValues(r.shard).Dec()
	activeSubscriptions.WithLabelValues(r.shard).Sub(float64(len(s.subs)))
	s.subs = nil
	close(s.kick)
}

// drop removes a session on the relay's initiative, signalling its connection to close.
func (r *Relay) drop(s *Session, reason string) {
	if s.closed {
		return
	}
	sessionsDropped.WithLabelValues(r.shard, reason).Inc()
	r.log.Warn("dropping session", "session_id", s.ID, "origin", s.Origin, "reason", reason)
	r.remove(s)
}

// send queues a message for a session without blocking. A session whose queue is full is
// dropped; send then returns false.
func (r *Relay) send(s *Session, msg []byte) bool {
	if s.closed {
		return false
	}
	select {
	case s.outgoing <- msg:
		return true
	default:
		r.drop(s, "too slow")
		return false
	}
}

func (r *Relay) handleMessage(ctx context.Context, s *Session, data []byte) {
	if s.closed {
		return
	}

	msg, err := nostr.ParseClientMessage(data)
	if err != nil {
		r.send(s, nostr.NoticeMessage(ReasonInvalidMessage+": "+err.Error()))
		return
	}

	start := time.Now()
	switch m := msg.(type) {
	case *nostr.EventEnvelope:
		r.handleEvent(ctx, s, m)
	case *nostr.ReqEnvelope:
		r.handleReq(ctx, s, m)
	case *nostr.CloseEnvelope:
		r.handleClose(s, m)
	}
	opDuration.WithLabelValues(r.shard, msg.Label()).Observe(time.Since(start).Seconds())
}
