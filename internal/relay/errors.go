package relay

import "errors"

var (
	ErrShutdown           = errors.New("relay shut down")
	ErrTooManyConnections = errors.New("too many connections")
	ErrUnknownShard       = errors.New("unknown shard")
)

// Client-visible reasons. The prefixes are stable and understood by clients.
const (
	ReasonRateLimited       = "rate limit exceeded"
	ReasonBlocked           = "blocked: pubkey not whitelisted"
	ReasonBadID             = "invalid: event id verification failed"
	ReasonBadSignature      = "invalid: signature verification failed"
	ReasonWhitelistError    = "error: whitelist lookup failed"
	ReasonStoreError        = "error: failed to save event"
	ReasonQueryError        = "error: failed to query events"
	ReasonInternalError     = "error: internal error"
	ReasonDuplicate         = "duplicate: already have this event"
	ReasonSuperseded        = "duplicate: a newer version of this event is stored"
	ReasonTooManySubs       = "too many subscriptions"
	ReasonInvalidMessage    = "invalid: malformed message"
	ReasonBadSubscriptionID = "invalid: subscription id is empty or too long"
	ReasonBadFilterCount    = "invalid: wrong number of filters"
)
