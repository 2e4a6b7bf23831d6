// Package store holds the durable event stores and whitelist sources used by the relay.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dreamlab-ai/nostr-relay/nostr"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("store")

var (
	// ErrDuplicate is returned by Put when an event with the same id is already stored.
	ErrDuplicate = errors.New("event already stored")
	// ErrSuperseded is returned by Put when a replaceable event is older than the one
	// currently stored for its key.
	ErrSuperseded = errors.New("newer replaceable event already stored")
)

// Store is the durable event store. Implementations must be safe for concurrent use by
// multiple relay shards: Put for replaceable treatments is atomic per key, and
// duplicate-id inserts are idempotent.
type Store interface {
	// Put stores an event according to its treatment. Ephemeral events are never passed.
	Put(ctx context.Context, evt *nostr.Event, treatment nostr.Treatment) error

	// Query returns stored events matching any of the filters, newest first, with no
	// duplicates and at most limit results.
	Query(ctx context.Context, filters nostr.Filters, limit int) ([]*nostr.Event, error)

	Ping(ctx context.Context) error
	Close() error
}

// replaceableKey identifies the slot that a replaceable or parameterized-replaceable event
// occupies. For plain replaceable events the parameter is always empty.
type replaceableKey struct {
	PubKey string
	Kind   int
	DTag   string
}

func keyFor(evt *nostr.Event, treatment nostr.Treatment) replaceableKey {
	k := replaceableKey{PubKey: evt.PubKey, Kind: evt.Kind}
	if treatment == nostr.ParameterizedReplaceable {
		k.DTag = evt.Tags.DTag()
	}
	return k
}

// supersedes reports whether a should replace b in a replaceable slot: the newer
// created_at wins, and the lowest id breaks ties.
func supersedes(a, b *nostr.Event) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID < b.ID
}

// newerFirst orders events by created_at descending, then by id, for query results.
func newerFirst(events []*nostr.Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt > events[j].CreatedAt
		}
		return events[i].ID < events[j].ID
	})
}

// filterLimit is the number of results a single filter may contribute: its own limit,
// capped by the overall query limit.
func filterLimit(f *nostr.Filter, limit int) int {
	if f.Limit > 0 && (limit <= 0 || f.Limit < limit) {
		return f.Limit
	}
	return limit
}

// collect deduplicates candidate events which match the filters, then sorts and truncates.
func collect(candidates []*nostr.Event, filters nostr.Filters, limit int) []*nostr.Event {
	seen := make(map[string]bool, len(candidates))
	out := make([]*nostr.Event, 0, len(candidates))
	for _, evt := range candidates {
		if seen[evt.ID] || !filters.Match(evt) {
			continue
		}
		seen[evt.ID] = true
		out = append(out, evt)
	}
	newerFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Open selects a Store implementation from a URL:
//
//	memory://              in-process map
//	pebble://<dir>         embedded pebble key/value store
//	sqlite://<path>, postgres://..., etc   SQL through gorm (see SetupDatabase)
func Open(ctx context.Context, url string, opts GormOptions) (Store, error) {
	switch {
	case url == "" || url == "memory://":
		return NewMemStore(), nil
	case strings.HasPrefix(url, "pebble://"):
		return OpenPebbleStore(strings.TrimPrefix(url, "pebble://"))
	default:
		db, err := SetupDatabase(url, opts)
		if err != nil {
			return nil, fmt.Errorf("setting up event database: %w", err)
		}
		return NewGormStore(ctx, db)
	}
}
