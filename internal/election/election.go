// Package election picks the coordinating peer of a channel.
//
// The rule is a pure function of the live peer set: the peer that registered
// first wins, and equal registration times are broken by the lexicographically
// smallest id. Every peer that sees the same set therefore picks the same
// leader without exchanging votes. Peers whose registration time is not yet
// known are skipped until a heartbeat or registration carries it.
package election

import "settings_sync/internal/dataType"

// Elect returns the leader among live. ok is false when no peer is electable.
func Elect(live []dataType.Peer) (leader dataType.Peer, ok bool) {
	for _, p := range live {
		if p.RegisteredAt <= 0 {
			continue
		}
		if !ok || precedes(p, leader) {
			leader = p
			ok = true
		}
	}
	return leader, ok
}

func precedes(a, b dataType.Peer) bool {
	if a.RegisteredAt != b.RegisteredAt {
		return a.RegisteredAt < b.RegisteredAt
	}
	return a.ID < b.ID
}
