package dataType

import (
	"sort"
	"time"
)

// PeerRegistry is the local, advisory mirror of every known peer.
// It is owned by a single goroutine and does no locking.
type PeerRegistry struct {
	peers   map[string]*Peer
	timeout int64
}

func NewPeerRegistry(timeout time.Duration) *PeerRegistry {
	return &PeerRegistry{
		peers:   make(map[string]*Peer),
		timeout: timeout.Milliseconds(),
	}
}

// Upsert merges fields into the entry for id, creating it when missing, and
// refreshes its last-seen time. It reports whether the entry was created.
func (r *PeerRegistry) Upsert(id string, fields PeerFields, now int64) bool {
	p, exists := r.peers[id]
	if !exists {
		p = &Peer{ID: id}
		r.peers[id] = p
	}

	// last-seen never moves backwards
	if now > p.LastSeen {
		p.LastSeen = now
	}
	if fields.RegisteredAt > 0 && p.RegisteredAt == 0 {
		p.RegisteredAt = fields.RegisteredAt
	}
	if fields.IsActive != nil {
		p.IsActive = *fields.IsActive
	}
	if fields.IsLeader != nil {
		p.IsLeader = *fields.IsLeader
	}
	if len(fields.Metadata) > 0 {
		if p.Metadata == nil {
			p.Metadata = make(map[string]string, len(fields.Metadata))
		}
		for k, v := range fields.Metadata {
			p.Metadata[k] = v
		}
	}
	return !exists
}

// Remove deletes the entry for id. Removing an unknown id is a no-op.
func (r *PeerRegistry) Remove(id string) bool {
	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	return true
}

func (r *PeerRegistry) Get(id string) (Peer, bool) {
	p, ok := r.peers[id]
	if !ok {
		return Peer{}, false
	}
	return p.clone(), true
}

func (r *PeerRegistry) Len() int {
	return len(r.peers)
}

// IsLive reports whether p was seen within the liveness timeout of now.
func (r *PeerRegistry) IsLive(p Peer, now int64) bool {
	return now-p.LastSeen <= r.timeout
}

// LivePeers returns a copy of every live entry, ordered by id.
func (r *PeerRegistry) LivePeers(now int64) []Peer {
	live := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if r.IsLive(*p, now) {
			live = append(live, p.clone())
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })
	return live
}

// Expired returns the entries that have been silent for longer than the timeout.
func (r *PeerRegistry) Expired(now int64) []Peer {
	var expired []Peer
	for _, p := range r.peers {
		if !r.IsLive(*p, now) {
			expired = append(expired, p.clone())
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired
}

// GetSnapshot returns a copy of all entries, live or not.
func (r *PeerRegistry) GetSnapshot() []Peer {
	all := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		all = append(all, p.clone())
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}
