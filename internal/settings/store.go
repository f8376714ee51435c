// Package settings provides the settings store the coordination core writes
// through to. A store notifies listeners about local writes; writes made with
// suppressBroadcast set are applied silently.
package settings

import (
	"errors"
	"sort"
	"sync"
)

var ErrNotReady = errors.New("settings store not ready")

// Store is the collaborator interface consumed by the sync manager.
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any, suppressBroadcast bool) error
	SetMultiple(values map[string]any, suppressBroadcast bool) error
}

// Change describes one local write. Bulk is set for SetMultiple calls.
type Change struct {
	Key      string
	Value    any
	OldValue any
	Bulk     map[string]any
}

// Listener receives changes made without suppressBroadcast.
type Listener func(Change)

// MemoryStore keeps settings in a map. Safe for concurrent use; listeners run
// on the writer's goroutine after the lock is released.
type MemoryStore struct {
	mu        sync.RWMutex
	values    map[string]any
	listeners []Listener
	persist   func(map[string]any) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]any)}
}

func (s *MemoryStore) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *MemoryStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key. A nil value deletes the key.
func (s *MemoryStore) Set(key string, value any, suppressBroadcast bool) error {
	s.mu.Lock()
	old := s.values[key]
	err := s.applyLocked(map[string]any{key: value})
	listeners := s.listeners
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if !suppressBroadcast {
		for _, l := range listeners {
			l(Change{Key: key, Value: value, OldValue: old})
		}
	}
	return nil
}

func (s *MemoryStore) SetMultiple(values map[string]any, suppressBroadcast bool) error {
	s.mu.Lock()
	err := s.applyLocked(values)
	listeners := s.listeners
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if !suppressBroadcast && len(values) > 0 {
		bulk := make(map[string]any, len(values))
		for k, v := range values {
			bulk[k] = v
		}
		for _, l := range listeners {
			l(Change{Bulk: bulk})
		}
	}
	return nil
}

// Snapshot returns a copy of every stored value.
func (s *MemoryStore) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Keys returns the stored keys in order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// applyLocked writes changes into a copy of the current values and only
// keeps it once it has been persisted, so a failed write changes nothing.
func (s *MemoryStore) applyLocked(changes map[string]any) error {
	if s.persist == nil {
		applyChanges(s.values, changes)
		return nil
	}
	next := make(map[string]any, len(s.values)+len(changes))
	for k, v := range s.values {
		next[k] = v
	}
	applyChanges(next, changes)
	if err := s.persist(next); err != nil {
		return err
	}
	s.values = next
	return nil
}

func applyChanges(dst, changes map[string]any) {
	for k, v := range changes {
		if v == nil {
			delete(dst, k)
		} else {
			dst[k] = v
		}
	}
}
