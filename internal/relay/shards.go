package relay

import (
	"context"
	"sync"

	"github.com/dreamlab-ai/nostr-relay/internal/store"
)

const DefaultShard = "main"

// ShardSet is a fixed set of independent relay shards sharing one store and gate. Shards
// do not coordinate: an event published on one shard is only broadcast on that shard.
type ShardSet struct {
	shards map[string]*Relay
	keys   []string
}

func NewShardSet(keys []string, st store.Store, gate *Gate, config *Config) *ShardSet {
	if len(keys) == 0 {
		keys = []string{DefaultShard}
	}
	ss := &ShardSet{shards: make(map[string]*Relay, len(keys))}
	for _, k := range keys {
		if _, ok := ss.shards[k]; ok || k == "" {
			continue
		}
		ss.shards[k] = New(k, st, gate, config)
		ss.keys = append(ss.keys, k)
	}
	return ss
}

// Get returns the shard for key, or ErrUnknownShard.
func (ss *ShardSet) Get(key string) (*Relay, error) {
	r, ok := ss.shards[key]
	if !ok {
		return nil, ErrUnknownShard
	}
	return r, nil
}

func (ss *ShardSet) Keys() []string {
	return ss.keys
}

// Run runs every shard until ctx is cancelled, and returns once all of them have stopped.
func (ss *ShardSet) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range ss.shards {
		wg.Add(1)
		go func(r *Relay) {
			defer wg.Done()
			r.Run(ctx)
		}(r)
	}
	wg.Wait()
}
