package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dreamlab-ai/nostr-relay/nostr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := SetupDatabase("sqlite://"+filepath.Join(dir, "events.sqlite"), GormOptions{})
	require.NoError(t, err)
	gs, err := NewGormStore(ctx, db)
	require.NoError(t, err)

	ps, err := OpenPebbleStore(filepath.Join(dir, "pebble"))
	require.NoError(t, err)

	stores := map[string]Store{
		"memory": NewMemStore(),
		"sqlite": gs,
		"pebble": ps,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func testKey(t *testing.T) *nostr.PrivateKey {
	key, err := nostr.GeneratePrivateKey()
	require.NoError(t, err)
	return key
}

func mkEvent(t *testing.T, key *nostr.PrivateKey, kind int, createdAt int64, tags nostr.Tags, content string) *nostr.Event {
	evt := &nostr.Event{Kind: kind, CreatedAt: createdAt, Tags: tags, Content: content}
	require.NoError(t, key.SignEvent(evt))
	return evt
}

func ids(events []*nostr.Event) []string {
	out := make([]string, len(events))
	for i, evt := range events {
		out[i] = evt.ID
	}
	return out
}

func TestStoreRegular(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			key := testKey(t)

			e1 := mkEvent(t, key, 1, 1000, nostr.Tags{{"t", "go"}}, "first")
			e2 := mkEvent(t, key, 1, 2000, nostr.Tags{{"t", "rust"}, {"e", e1.ID}}, "second")
			e3 := mkEvent(t, key, 7, 1500, nil, "+")
			for _, evt := range []*nostr.Event{e1, e2, e3} {
				require.NoError(s.Put(ctx, evt, nostr.Regular))
			}
			assert.ErrorIs(s.Put(ctx, e1, nostr.Regular), ErrDuplicate)

			all, err := s.Query(ctx, nostr.Filters{{}}, 0)
			require.NoError(err)
			assert.Equal([]string{e2.ID, e3.ID, e1.ID}, ids(all))

			got, err := s.Query(ctx, nostr.Filters{{IDs: []string{e1.ID}}}, 0)
			require.NoError(err)
			require.Len(got, 1)
			assert.Equal(*e1, *got[0])

			got, err = s.Query(ctx, nostr.Filters{{Kinds: []int{1}}}, 0)
			require.NoError(err)
			assert.Equal([]string{e2.ID, e1.ID}, ids(got))

			since := int64(1500)
			got, err = s.Query(ctx, nostr.Filters{{Since: &since}}, 0)
			require.NoError(err)
			assert.Equal([]string{e2.ID, e3.ID}, ids(got))

			until := int64(1500)
			got, err = s.Query(ctx, nostr.Filters{{Authors: []string{key.PublicKeyHex()}, Until: &until}}, 0)
			require.NoError(err)
			assert.Equal([]string{e3.ID, e1.ID}, ids(got))

			got, err = s.Query(ctx, nostr.Filters{{Tags: map[string][]string{"t": {"rust"}}}}, 0)
			require.NoError(err)
			assert.Equal([]string{e2.ID}, ids(got))

			got, err = s.Query(ctx, nostr.Filters{{Tags: map[string][]string{"e": {e1.ID[:10]}}}}, 0)
			require.NoError(err)
			assert.Empty(got)

			got, err = s.Query(ctx, nostr.Filters{{Kinds: []int{}}}, 0)
			require.NoError(err)
			assert.Empty(got)

			// overlapping filters do not produce duplicates
			got, err = s.Query(ctx, nostr.Filters{{Kinds: []int{1}}, {Authors: []string{key.PublicKeyHex()}}}, 0)
			require.NoError(err)
			assert.Equal([]string{e2.ID, e3.ID, e1.ID}, ids(got))

			got, err = s.Query(ctx, nostr.Filters{{}}, 2)
			require.NoError(err)
			assert.Equal([]string{e2.ID, e3.ID}, ids(got))

			got, err = s.Query(ctx, nostr.Filters{{Limit: 1}}, 10)
			require.NoError(err)
			assert.Equal([]string{e2.ID}, ids(got))
		})
	}
}

func TestStoreReplaceable(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			key := testKey(t)

			older := mkEvent(t, key, 0, 1000, nil, `{"name":"old"}`)
			newer := mkEvent(t, key, 0, 2000, nil, `{"name":"new"}`)

			// newer arrives first; the older one is rejected
			require.NoError(s.Put(ctx, newer, nostr.Replaceable))
			assert.ErrorIs(s.Put(ctx, older, nostr.Replaceable), ErrSuperseded)
			assert.ErrorIs(s.Put(ctx, newer, nostr.Replaceable), ErrDuplicate)

			got, err := s.Query(ctx, nostr.Filters{{Authors: []string{key.PublicKeyHex()}, Kinds: []int{0}}}, 0)
			require.NoError(err)
			assert.Equal([]string{newer.ID}, ids(got))

			// in-order arrival prunes the older event
			other := testKey(t)
			o1 := mkEvent(t, other, 10002, 1000, nil, "a")
			o2 := mkEvent(t, other, 10002, 1001, nil, "b")
			require.NoError(s.Put(ctx, o1, nostr.Replaceable))
			require.NoError(s.Put(ctx, o2, nostr.Replaceable))
			got, err = s.Query(ctx, nostr.Filters{{Authors: []string{other.PublicKeyHex()}}}, 0)
			require.NoError(err)
			assert.Equal([]string{o2.ID}, ids(got))
			got, err = s.Query(ctx, nostr.Filters{{IDs: []string{o1.ID}}}, 0)
			require.NoError(err)
			assert.Empty(got)

			// equal timestamps keep the lowest id
			t1 := mkEvent(t, other, 3, 5000, nil, "x")
			t2 := mkEvent(t, other, 3, 5000, nil, "y")
			low, high := t1, t2
			if high.ID < low.ID {
				low, high = high, low
			}
			require.NoError(s.Put(ctx, high, nostr.Replaceable))
			require.NoError(s.Put(ctx, low, nostr.Replaceable))
			assert.ErrorIs(s.Put(ctx, high, nostr.Replaceable), ErrSuperseded)
			got, err = s.Query(ctx, nostr.Filters{{Authors: []string{other.PublicKeyHex()}, Kinds: []int{3}}}, 0)
			require.NoError(err)
			assert.Equal([]string{low.ID}, ids(got))
		})
	}
}

func TestStoreParameterizedReplaceable(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			key := testKey(t)

			a1 := mkEvent(t, key, 30023, 1000, nostr.Tags{{"d", "alpha"}}, "a1")
			a2 := mkEvent(t, key, 30023, 2000, nostr.Tags{{"d", "alpha"}}, "a2")
			b1 := mkEvent(t, key, 30023, 1500, nostr.Tags{{"d", "beta"}}, "b1")
			none := mkEvent(t, key, 30023, 1200, nil, "no d tag")
			emptyD := mkEvent(t, key, 30023, 1300, nostr.Tags{{"d", ""}}, "empty d tag")

			require.NoError(s.Put(ctx, a2, nostr.ParameterizedReplaceable))
			assert.ErrorIs(s.Put(ctx, a1, nostr.ParameterizedReplaceable), ErrSuperseded)
			require.NoError(s.Put(ctx, b1, nostr.ParameterizedReplaceable))
			require.NoError(s.Put(ctx, none, nostr.ParameterizedReplaceable))
			// a missing d tag and an empty one share a slot
			require.NoError(s.Put(ctx, emptyD, nostr.ParameterizedReplaceable))

			got, err := s.Query(ctx, nostr.Filters{{Kinds: []int{30023}}}, 0)
			require.NoError(err)
			assert.Equal([]string{a2.ID, b1.ID, emptyD.ID}, ids(got))

			got, err = s.Query(ctx, nostr.Filters{{Tags: map[string][]string{"d": {"beta"}}}}, 0)
			require.NoError(err)
			assert.Equal([]string{b1.ID}, ids(got))
		})
	}
}

func TestStoreConcurrentReplaceable(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			key := testKey(t)

			var events []*nostr.Event
			for i := 0; i < 20; i++ {
				events = append(events, mkEvent(t, key, 10000, int64(1000+i), nil, fmt.Sprintf("v%d", i)))
			}

			var wg sync.WaitGroup
			for _, evt := range events {
				wg.Add(1)
				go func(evt *nostr.Event) {
					defer wg.Done()
					s.Put(ctx, evt, nostr.Replaceable)
				}(evt)
			}
			wg.Wait()

			got, err := s.Query(ctx, nostr.Filters{{Kinds: []int{10000}}}, 0)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, events[len(events)-1].ID, got[0].ID)
		})
	}
}

func TestStorePing(t *testing.T) {
	for name, s := range testStores(t) {
		assert.NoError(t, s.Ping(context.Background()), name)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, "memory://", GormOptions{})
	require.NoError(t, err)
	assert.IsType(t, &MemStore{}, s)

	s, err = Open(ctx, "pebble://"+filepath.Join(dir, "p"), GormOptions{})
	require.NoError(t, err)
	assert.IsType(t, &PebbleStore{}, s)
	s.Close()

	s, err = Open(ctx, "sqlite://"+filepath.Join(dir, "sub", "db.sqlite"), GormOptions{})
	require.NoError(t, err)
	assert.IsType(t, &GormStore{}, s)
	s.Close()

	_, err = Open(ctx, "mysql://nope", GormOptions{})
	assert.Error(t, err)
}
