package store

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/dreamlab-ai/nostr-relay/nostr"

	"github.com/cockroachdb/pebble"
	"go.opentelemetry.io/otel/attribute"
)

// PebbleStore implements Store on the pebble embedded key/value store.
//
// Key layout (ts is created_at, inverted so that iteration runs newest first):
//
//	e/<id>                       event JSON
//	t/<ts>/<id>                  time index
//	a/<pubkey>/<ts>/<id>         author index
//	k/<kind>/<ts>/<id>           kind index
//	g/<name>\x00<value>\x00<ts>/<id>   tag index
//	r/<pubkey>/<kind>/<d>        current event id for a replaceable key
type PebbleStore struct {
	db *pebble.DB

	// serializes Put, so that a replaceable prune and insert is atomic per key
	writeLk sync.Mutex
}

func OpenPebbleStore(path string) (*PebbleStore, error) {
	if path == "" {
		return nil, fmt.Errorf("pebble store requires a directory path")
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

// invertedTime maps created_at to a fixed-width key fragment which sorts newest first.
func invertedTime(ts int64) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], ^(uint64(ts) ^ (1 << 63)))
	return hex.EncodeToString(b[:])
}

func eventKey(id string) []byte {
	return []byte("e/" + id)
}

func replaceableKeyBytes(k replaceableKey) []byte {
	return []byte("r/" + k.PubKey + "/" + strconv.Itoa(k.Kind) + "/" + k.DTag)
}

func authorPrefix(pubkey string) string { return "a/" + pubkey + "/" }
func kindPrefix(kind int) string        { return "k/" + strconv.Itoa(kind) + "/" }
func tagPrefix(name, value string) string {
	return "g/" + name + "\x00" + value + "\x00"
}

const timePrefix = "t/"

// indexKeys returns every index entry for an event.
func indexKeys(evt *nostr.Event) [][]byte {
	suffix := invertedTime(evt.CreatedAt) + "/" + evt.ID
	keys := [][]byte{
		[]byte(timePrefix + suffix),
		[]byte(authorPrefix(evt.PubKey) + suffix),
		[]byte(kindPrefix(evt.Kind) + suffix),
	}
	seen := make(map[string]bool)
	for _, t := range evt.Tags {
		if len(t) < 2 {
			continue
		}
		k := tagPrefix(t[0], t[1])
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, []byte(k+suffix))
	}
	return keys
}

func (s *PebbleStore) getEvent(id string) (*nostr.Event, error) {
	val, closer, err := s.db.Get(eventKey(id))
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var evt nostr.Event
	if err := json.Unmarshal(val, &evt); err != nil {
		return nil, fmt.Errorf("decoding stored event %s: %w", id, err)
	}
	return &evt, nil
}

func (s *PebbleStore) Put(ctx context.Context, evt *nostr.Event, treatment nostr.Treatment) error {
	_, span := tracer.Start(ctx, "PebbleStore.Put")
	defer span.End()
	span.SetAttributes(attribute.Int("kind", evt.Kind), attribute.String("treatment", treatment.String()))

	s.writeLk.Lock()
	defer s.writeLk.Unlock()

	_, closer, err := s.db.Get(eventKey(evt.ID))
	if err == nil {
		closer.Close()
		return ErrDuplicate
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if treatment == nostr.Replaceable || treatment == nostr.ParameterizedReplaceable {
		rkey := replaceableKeyBytes(keyFor(evt, treatment))
		val, closer, err := s.db.Get(rkey)
		switch {
		case err == nil:
			curID := string(val)
			closer.Close()
			cur, err := s.getEvent(curID)
			if err != nil && !errors.Is(err, pebble.ErrNotFound) {
				return err
			}
			if cur != nil {
				if !supersedes(evt, cur) {
					return ErrSuperseded
				}
				if err := batch.Delete(eventKey(cur.ID), pebble.Sync); err != nil {
					return err
				}
				for _, k := range indexKeys(cur) {
					if err := batch.Delete(k, pebble.Sync); err != nil {
						return err
					}
				}
			}
		case errors.Is(err, pebble.ErrNotFound):
		default:
			return err
		}
		if err := batch.Set(rkey, []byte(evt.ID), pebble.Sync); err != nil {
			return err
		}
	}

	if err := batch.Set(eventKey(evt.ID), evt.JSON(), pebble.Sync); err != nil {
		return err
	}
	for _, k := range indexKeys(evt) {
		if err := batch.Set(k, nil, pebble.Sync); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) Query(ctx context.Context, filters nostr.Filters, limit int) ([]*nostr.Event, error) {
	_, span := tracer.Start(ctx, "PebbleStore.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("filters", len(filters)), attribute.Int("limit", limit))

	var candidates []*nostr.Event
	for i := range filters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := &filters[i]
		n := filterLimit(f, limit)
		found, err := s.queryFilter(f, n)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, collect(found, filters[i:i+1], n)...)
	}
	return collect(candidates, filters, limit), nil
}

// queryFilter picks the most selective index for the filter and scans it newest first,
// returning at most n matching events (n <= 0 means unbounded).
func (s *PebbleStore) queryFilter(f *nostr.Filter, n int) ([]*nostr.Event, error) {
	if f.IDs != nil {
		var out []*nostr.Event
		for _, id := range f.IDs {
			evt, err := s.getEvent(id)
			if errors.Is(err, pebble.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if f.Matches(evt) {
				out = append(out, evt)
			}
		}
		return out, nil
	}

	var prefixes []string
	switch {
	case f.Authors != nil:
		for _, pk := range f.Authors {
			prefixes = append(prefixes, authorPrefix(pk))
		}
	case len(f.Tags) > 0:
		// any one tag constraint narrows the scan; the rest are checked per event
		for name, values := range f.Tags {
			for _, v := range values {
				prefixes = append(prefixes, tagPrefix(name, v))
			}
			break
		}
	case f.Kinds != nil:
		for _, kind := range f.Kinds {
			prefixes = append(prefixes, kindPrefix(kind))
		}
	default:
		prefixes = []string{timePrefix}
	}

	var out []*nostr.Event
	for _, prefix := range prefixes {
		found, err := s.scanIndex(prefix, f, n)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

func (s *PebbleStore) scanIndex(prefix string, f *nostr.Filter, n int) ([]*nostr.Event, error) {
	lower := []byte(prefix)
	if f.Until != nil {
		lower = []byte(prefix + invertedTime(*f.Until))
	}
	// '0' sorts after the '/' which follows the timestamp in every index key
	upper := []byte(prefix + "\xff")
	if f.Since != nil {
		upper = []byte(prefix + invertedTime(*f.Since) + "0")
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*nostr.Event
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) < 64 {
			continue
		}
		id := string(key[len(key)-64:])
		evt, err := s.getEvent(id)
		if errors.Is(err, pebble.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !f.Matches(evt) {
			continue
		}
		out = append(out, evt)
		if n > 0 && len(out) >= n {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PebbleStore) Ping(ctx context.Context) error {
	_, closer, err := s.db.Get([]byte("e/"))
	if err == nil {
		closer.Close()
		return nil
	}
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	return err
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
