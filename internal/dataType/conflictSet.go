package dataType

import (
	"sort"
	"time"
)

type resolvedEntry struct {
	value      any
	resolvedAt int64
}

// ConflictSet holds pending conflict records and remembers recently resolved
// conflict ids so a record is resolved at most once. Single-goroutine owned.
type ConflictSet struct {
	pending  map[string]*ConflictRecord
	resolved map[string]resolvedEntry
	ttl      int64
}

func NewConflictSet(ttl time.Duration) *ConflictSet {
	return &ConflictSet{
		pending:  make(map[string]*ConflictRecord),
		resolved: make(map[string]resolvedEntry),
		ttl:      ttl.Milliseconds(),
	}
}

func (cs *ConflictSet) Add(rec *ConflictRecord) {
	cs.pending[rec.ID] = rec
}

func (cs *ConflictSet) Pending(id string) (*ConflictRecord, bool) {
	rec, ok := cs.pending[id]
	return rec, ok
}

func (cs *ConflictSet) PendingCount() int {
	return len(cs.pending)
}

// PendingRecords returns copies of the pending records ordered by creation time.
func (cs *ConflictSet) PendingRecords() []ConflictRecord {
	out := make([]ConflictRecord, 0, len(cs.pending))
	for _, rec := range cs.pending {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MarkResolved drops the pending record for id, if any, and remembers the outcome.
func (cs *ConflictSet) MarkResolved(id string, value any, now int64) {
	delete(cs.pending, id)
	cs.resolved[id] = resolvedEntry{value: value, resolvedAt: now}
}

// Resolved reports whether id was resolved recently, and with which value.
func (cs *ConflictSet) Resolved(id string) (any, bool) {
	e, ok := cs.resolved[id]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Cleanup drops pending records and resolved ids older than the ttl and
// returns the pending records that were dropped.
func (cs *ConflictSet) Cleanup(now int64) []ConflictRecord {
	var dropped []ConflictRecord
	for id, rec := range cs.pending {
		if now-rec.CreatedAt > cs.ttl {
			dropped = append(dropped, *rec)
			delete(cs.pending, id)
		}
	}
	for id, e := range cs.resolved {
		if now-e.resolvedAt > cs.ttl {
			delete(cs.resolved, id)
		}
	}
	return dropped
}
