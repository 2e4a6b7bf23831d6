package relay

import (
	"context"
	"errors"

	"github.com/dreamlab-ai/nostr-relay/internal/store"
	"github.com/dreamlab-ai/nostr-relay/nostr"
)

// handleEvent runs a submitted event through the pipeline: rate limit, validate, verify,
// gate, persist, acknowledge, broadcast. Any rejection ends the pipeline with no side
// effects.
func (r *Relay) handleEvent(ctx context.Context, s *Session, env *nostr.EventEnvelope) {
	eventsReceived.WithLabelValues(r.shard).Inc()

	if !r.limits.allowEvent(s.Origin, r.Config.now()) {
		eventsRejected.WithLabelValues(r.shard, "rate_limited").Inc()
		r.send(s, nostr.NoticeMessage(ReasonRateLimited))
		if id, ok := nostr.PeekEventID(env.Event); ok {
			r.send(s, nostr.OKMessage(id, false, ReasonRateLimited))
		}
		return
	}

	evt, reason := r.validator.Validate(env.Event)
	if evt == nil {
		id, _ := nostr.PeekEventID(env.Event)
		r.reject(s, id, "invalid", reason)
		return
	}

	if err := nostr.VerifyEvent(evt); err != nil {
		if errors.Is(err, nostr.ErrIDMismatch) {
			r.reject(s, evt.ID, "bad_id", ReasonBadID)
		} else {
			r.reject(s, evt.ID, "bad_signature", ReasonBadSignature)
		}
		return
	}

	allowed, err := r.gate.Allowed(ctx, evt.PubKey, evt.Kind)
	if err != nil {
		r.log.Error("whitelist lookup failed", "pubkey", evt.PubKey, "err", err)
		r.reject(s, evt.ID, "whitelist_error", ReasonWhitelistError)
		return
	}
	if !allowed {
		r.reject(s, evt.ID, "blocked", ReasonBlocked)
		return
	}

	treatment := nostr.ClassifyKind(evt.Kind)
	if treatment != nostr.Ephemeral {
		sctx, cancel := context.WithTimeout(ctx, r.Config.StoreTimeout)
		err := r.store.Put(sctx, evt, treatment)
		cancel()
		switch {
		case errors.Is(err, store.ErrDuplicate):
			r.send(s, nostr.OKMessage(evt.ID, true, ReasonDuplicate))
			return
		case errors.Is(err, store.ErrSuperseded):
			r.send(s, nostr.OKMessage(evt.ID, true, ReasonSuperseded))
			return
		case err != nil:
			r.log.Error("failed to store event", "id", evt.ID, "kind", evt.Kind, "err", err)
			r.reject(s, evt.ID, "store_error", ReasonStoreError)
			return
		}
	}

	eventsAccepted.WithLabelValues(r.shard, treatment.String()).Inc()
	r.send(s, nostr.OKMessage(evt.ID, true, ""))
	r.broadcast(evt)
}

func (r *Relay) reject(s *Session, id, class, reason string) {
	eventsRejected.WithLabelValues(r.shard, class).Inc()
	r.send(s, nostr.OKMessage(id, false, reason))
}

// broadcast queues the event to every live subscription it matches. The event is
// encoded once; slow sessions are dropped rather than waited on.
func (r *Relay) broadcast(evt *nostr.Event) {
	raw := evt.JSON()
	for _, s := range r.sessions {
		for subID, filters := range s.subs {
			if !filters.Match(evt) {
				continue
			}
			if !r.send(s, nostr.EventMessage(subID, raw)) {
				break
			}
			eventsBroadcast.WithLabelValues(r.shard).Inc()
		}
	}
}
