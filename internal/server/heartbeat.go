package server

import (
	"settings_sync/internal/dataType"
	"settings_sync/internal/election"

	"go.uber.org/zap"
)

// Tick runs one heartbeat round: evict silent peers, re-elect if that
// changed the live set, announce ourselves and service pending conflicts.
func (m *SyncManager) Tick() {
	if !m.started || m.stopped {
		return
	}
	now := m.now()
	m.registry.Upsert(m.selfID, dataType.PeerFields{}, now)

	evicted := false
	for _, p := range m.registry.Expired(now) {
		if p.ID == m.selfID {
			continue
		}
		m.registry.Remove(p.ID)
		evicted = true
		m.emit(dataType.Event{Type: dataType.EventPeerTimeout, PeerID: p.ID})
		m.logger.Info("peer timed out",
			zap.String("source", p.ID),
			zap.Int64("lastSeen", p.LastSeen),
			zap.Bool("wasLeader", p.ID == m.leaderID))
	}
	if evicted {
		m.elect()
	}

	m.sendHeartbeat()
	m.serviceConflicts(now)
}

func (m *SyncManager) sendHeartbeat() {
	now := m.now()
	m.registry.Upsert(m.selfID, dataType.PeerFields{
		IsActive: dataType.Bool(m.isActive),
		IsLeader: dataType.Bool(m.isLeader),
	}, now)
	m.publish(dataType.Heartbeat{
		PeerID:       m.selfID,
		Timestamp:    now,
		IsActive:     m.isActive,
		IsLeader:     m.isLeader,
		RegisteredAt: m.registeredAt,
	})
}

// elect recomputes the leader over the live peers. Only a false to true
// transition of the local flag is announced.
func (m *SyncManager) elect() {
	now := m.now()
	m.registry.Upsert(m.selfID, dataType.PeerFields{}, now)

	winner, ok := election.Elect(m.registry.LivePeers(now))
	next := ""
	if ok {
		next = winner.ID
	}

	wasLeader := m.isLeader
	m.isLeader = next == m.selfID
	m.registry.Upsert(m.selfID, dataType.PeerFields{IsLeader: dataType.Bool(m.isLeader)}, now)

	if next != m.leaderID {
		prev := m.leaderID
		m.leaderID = next
		m.emit(dataType.Event{Type: dataType.EventLeaderChanged, PeerID: next, Previous: prev})
		m.logger.Info("leader changed", zap.String("leader", next), zap.String("previous", prev))
	}

	if m.isLeader && !wasLeader {
		m.publish(dataType.LeaderElected{PeerID: m.selfID, RegisteredAt: m.registeredAt})
		m.emit(dataType.Event{Type: dataType.EventLeaderElected, PeerID: m.selfID})
	}
}
