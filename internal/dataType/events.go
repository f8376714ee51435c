package dataType

import "encoding/json"

type EventType string

const (
	EventPeerRegistered     EventType = "peer-registered"
	EventPeerUnregistered   EventType = "peer-unregistered"
	EventPeerTimeout        EventType = "peer-timeout"
	EventLeaderElected      EventType = "leader-elected"
	EventLeaderChanged      EventType = "leader-changed"
	EventConflictDetected   EventType = "conflict-detected"
	EventConflictResolved   EventType = "conflict-resolved"
	EventSettingsSynced     EventType = "settings-synced"
	EventSettingsBulkSynced EventType = "settings-bulk-synced"
	EventDomain             EventType = "domain-event"
)

// Event is an informational notification for other subsystems. Only the
// fields relevant to Type are set.
type Event struct {
	Type     EventType
	At       int64
	PeerID   string
	Previous string
	Key      string
	Value    any
	Changes  map[string]any
	Conflict *ConflictRecord
	Kind     Kind
	Data     json.RawMessage
}
