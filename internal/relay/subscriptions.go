package relay

import (
	"context"

	"github.com/dreamlab-ai/nostr-relay/nostr"
)

// handleReq opens or replaces a subscription: stored matches are streamed first, then
// EOSE, then the subscription goes live. All of it happens in one actor turn, so no
// broadcast can slip in between backfill and registration.
func (r *Relay) handleReq(ctx context.Context, s *Session, req *nostr.ReqEnvelope) {
	subID := req.SubscriptionID
	if subID == "" || len(subID) > r.Config.MaxSubIDLength {
		r.send(s, nostr.NoticeMessage(ReasonBadSubscriptionID))
		return
	}
	if len(req.Filters) == 0 || len(req.Filters) > r.Config.MaxFilters {
		r.send(s, nostr.NoticeMessage(ReasonBadFilterCount))
		return
	}
	filters, err := req.ParseFilters()
	if err != nil {
		r.send(s, nostr.NoticeMessage("invalid: "+err.Error()))
		return
	}

	_, replacing := s.subs[subID]
	if !replacing && len(s.subs) >= r.Config.MaxSubscriptions {
		r.send(s, nostr.NoticeMessage(ReasonTooManySubs))
		return
	}

	sctx, cancel := context.WithTimeout(ctx, r.Config.StoreTimeout)
	events, err := r.store.Query(sctx, filters, r.backfillLimit(filters))
	cancel()
	if err != nil {
		r.log.Error("backfill query failed", "session_id", s.ID, "sub", subID, "err", err)
		r.send(s, nostr.NoticeMessage(ReasonQueryError))
		events = nil
	}
	backfillEvents.WithLabelValues(r.shard).Observe(float64(len(events)))

	for _, evt := range events {
		if !r.send(s, nostr.EventMessage(subID, evt.JSON())) {
			return
		}
	}
	if !r.send(s, nostr.EOSEMessage(subID)) {
		return
	}

	s.subs[subID] = filters
	if !replacing {
		activeSubscriptions.WithLabelValues(r.shard).Inc()
	}
}

// backfillLimit bounds the total stored events returned for one REQ: the largest limit
// the client asked for, or the default, and never more than MaxLimit.
func (r *Relay) backfillLimit(filters nostr.Filters) int {
	limit := 0
	for i := range filters {
		if filters[i].Limit > limit {
			limit = filters[i].Limit
		}
	}
	if limit == 0 {
		limit = r.Config.DefaultLimit
	}
	if limit > r.Config.MaxLimit {
		limit = r.Config.MaxLimit
	}
	return limit
}

func (r *Relay) handleClose(s *Session, req *nostr.CloseEnvelope) {
	if _, ok := s.subs[req.SubscriptionID]; !ok {
		return
	}
	delete(s.subs, req.SubscriptionID)
	activeSubscriptions.WithLabelValues(r.shard).Dec()
}
