package store

import (
	"context"
	"sync"

	"github.com/dreamlab-ai/nostr-relay/nostr"
)

// MemStore keeps events in process memory. Contents are lost on restart; it is meant for
// tests and throwaway deployments.
type MemStore struct {
	lk          sync.RWMutex
	events      map[string]*nostr.Event
	replaceable map[replaceableKey]string
}

func NewMemStore() *MemStore {
	return &MemStore{
		events:      make(map[string]*nostr.Event),
		replaceable: make(map[replaceableKey]string),
	}
}

func (s *MemStore) Put(ctx context.Context, evt *nostr.Event, treatment nostr.Treatment) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	if _, ok := s.events[evt.ID]; ok {
		return ErrDuplicate
	}

	if treatment == nostr.Replaceable || treatment == nostr.ParameterizedReplaceable {
		key := keyFor(evt, treatment)
		if curID, ok := s.replaceable[key]; ok {
			cur := s.events[curID]
			if !supersedes(evt, cur) {
				return ErrSuperseded
			}
			delete(s.events, curID)
		}
		s.replaceable[key] = evt.ID
	}

	cp := *evt
	s.events[evt.ID] = &cp
	return nil
}

func (s *MemStore) Query(ctx context.Context, filters nostr.Filters, limit int) ([]*nostr.Event, error) {
	s.lk.RLock()
	candidates := make([]*nostr.Event, 0, len(s.events))
	for _, evt := range s.events {
		candidates = append(candidates, evt)
	}
	s.lk.RUnlock()

	var matched []*nostr.Event
	for i := range filters {
		matched = append(matched, collect(candidates, filters[i:i+1], filterLimit(&filters[i], limit))...)
	}
	return collect(matched, filters, limit), nil
}

func (s *MemStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemStore) Close() error {
	return nil
}
