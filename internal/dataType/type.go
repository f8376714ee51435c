package dataType

const SettingsSyncVersion = "0.3.0"

// Peer is one participant of a channel, as seen by the local peer.
// All timestamps are unix milliseconds. RegisteredAt is 0 until it is learned.
type Peer struct {
	ID           string            `json:"peerId"`
	RegisteredAt int64             `json:"registeredAt"`
	LastSeen     int64             `json:"lastSeen"`
	IsActive     bool              `json:"isActive"`
	IsLeader     bool              `json:"isLeader"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// PeerFields is a partial update for a registry entry. Nil pointers and zero
// RegisteredAt leave the stored field untouched.
type PeerFields struct {
	RegisteredAt int64
	IsActive     *bool
	IsLeader     *bool
	Metadata     map[string]string
}

func (p Peer) clone() Peer {
	if p.Metadata != nil {
		md := make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			md[k] = v
		}
		p.Metadata = md
	}
	return p
}

// Bool returns a pointer to b, for PeerFields literals.
func Bool(b bool) *bool {
	return &b
}

type ConflictState int

const (
	ConflictDetecting ConflictState = iota
	ConflictNone
	ConflictConflicting
	ConflictResolving
	ConflictResolved
)

func (s ConflictState) String() string {
	switch s {
	case ConflictDetecting:
		return "detecting"
	case ConflictNone:
		return "no-conflict"
	case ConflictConflicting:
		return "conflicting"
	case ConflictResolving:
		return "resolving"
	case ConflictResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// ConflictRecord describes one disagreement between the local value of a key
// and a value received from a remote peer.
type ConflictRecord struct {
	ID              string        `json:"conflictId"`
	Key             string        `json:"key"`
	LocalValue      any           `json:"localValue"`
	RemoteValue     any           `json:"remoteValue"`
	RemoteOldValue  any           `json:"remoteOldValue"`
	Source          string        `json:"source"`
	RemoteTimestamp int64         `json:"remoteTimestamp"`
	CreatedAt       int64         `json:"createdAt"`
	State           ConflictState `json:"state"`
	Strategy        string        `json:"strategy,omitempty"`
	ResolvedValue   any           `json:"resolvedValue,omitempty"`
}
