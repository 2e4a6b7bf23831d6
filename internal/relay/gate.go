package relay

import (
	"context"
	"strings"
	"time"

	"github.com/dreamlab-ai/nostr-relay/internal/store"
	"github.com/dreamlab-ai/nostr-relay/nostr"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Gate decides whether an identity may write a given kind.
type Gate struct {
	whitelist store.Whitelist
	admins    map[string]bool

	// positive and negative lookups; nil when caching is disabled
	cache *expirable.LRU[string, bool]
}

// NewGate wraps a whitelist source. Lookups are cached for cacheTTL; a zero or negative
// TTL disables the cache so that revocations take effect immediately.
func NewGate(wl store.Whitelist, admins []string, cacheSize int, cacheTTL time.Duration) *Gate {
	g := &Gate{
		whitelist: wl,
		admins:    make(map[string]bool, len(admins)),
	}
	for _, pk := range admins {
		pk = strings.ToLower(strings.TrimSpace(pk))
		if pk != "" {
			g.admins[pk] = true
		}
	}
	if cacheTTL > 0 && cacheSize > 0 {
		g.cache = expirable.NewLRU[string, bool](cacheSize, nil, cacheTTL)
	}
	return g
}

// Allowed reports whether pubkey may publish an event of the given kind. Bootstrap kinds
// are open to everyone, admins are always allowed, and everyone else must be on the
// whitelist.
func (g *Gate) Allowed(ctx context.Context, pubkey string, kind int) (bool, error) {
	if nostr.IsBootstrapKind(kind) {
		return true, nil
	}
	member, admin, err := g.Lookup(ctx, pubkey)
	if err != nil {
		return false, err
	}
	return member || admin, nil
}

// Lookup reports whitelist membership and admin status for pubkey. Admins are not looked
// up in the whitelist.
func (g *Gate) Lookup(ctx context.Context, pubkey string) (member, admin bool, err error) {
	if g.admins[pubkey] {
		whitelistLookups.WithLabelValues("admin").Inc()
		return false, true, nil
	}
	if g.cache != nil {
		if ok, found := g.cache.Get(pubkey); found {
			whitelistLookups.WithLabelValues("cache").Inc()
			return ok, false, nil
		}
	}

	whitelistLookups.WithLabelValues("source").Inc()
	ok, err := g.whitelist.IsWhitelisted(ctx, pubkey)
	if err != nil {
		return false, false, err
	}
	if g.cache != nil {
		g.cache.Add(pubkey, ok)
	}
	return ok, false, nil
}
