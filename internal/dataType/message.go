package dataType

import (
	"encoding/json"
	"fmt"
)

// Kind is the discriminator of a Message.
type Kind string

const (
	KindHeartbeat           Kind = "heartbeat"
	KindTabRegistered       Kind = "tab-registered"
	KindTabUnregistered     Kind = "tab-unregistered"
	KindLeaderElected       Kind = "leader-elected"
	KindSettingsChanged     Kind = "settings-changed"
	KindSettingsBulkChanged Kind = "settings-bulk-changed"
	KindConflictResolution  Kind = "conflict-resolution"

	// informational, never merged into state
	KindAutoSaveCompleted   Kind = "auto-save-completed"
	KindLiveEditActivated   Kind = "live-edit-activated"
	KindLiveEditDeactivated Kind = "live-edit-deactivated"
)

var domainKinds = map[Kind]struct{}{
	KindAutoSaveCompleted:   {},
	KindLiveEditActivated:   {},
	KindLiveEditDeactivated: {},
}

// IsDomainKind reports whether k is an informational domain event kind.
func IsDomainKind(k Kind) bool {
	_, ok := domainKinds[k]
	return ok
}

// Message is the envelope exchanged between peers. It is treated as immutable
// once built by NewMessage.
type Message struct {
	Type      Kind            `json:"type"`
	Data      json.RawMessage `json:"data"`
	Source    string          `json:"source"`
	Timestamp int64           `json:"timestamp"` // unix ms
	Signature string          `json:"sig,omitempty"`
}

// Payload is implemented by every message body.
type Payload interface {
	Kind() Kind
}

func NewMessage(source string, timestamp int64, p Payload) (Message, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", p.Kind(), err)
	}
	return Message{
		Type:      p.Kind(),
		Data:      data,
		Source:    source,
		Timestamp: timestamp,
	}, nil
}

// DecodeData unmarshals the message body into p.
func (m Message) DecodeData(p Payload) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s message has no data", m.Type)
	}
	if err := json.Unmarshal(m.Data, p); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

type Heartbeat struct {
	PeerID       string `json:"peerId"`
	Timestamp    int64  `json:"timestamp"`
	IsActive     bool   `json:"isActive"`
	IsLeader     bool   `json:"isLeader"`
	RegisteredAt int64  `json:"registeredAt"`
}

func (Heartbeat) Kind() Kind { return KindHeartbeat }

type TabRegistered struct {
	Peer Peer `json:"peer"`
}

func (TabRegistered) Kind() Kind { return KindTabRegistered }

type TabUnregistered struct {
	PeerID string `json:"peerId"`
}

func (TabUnregistered) Kind() Kind { return KindTabUnregistered }

type LeaderElected struct {
	PeerID       string `json:"peerId"`
	RegisteredAt int64  `json:"registeredAt"`
}

func (LeaderElected) Kind() Kind { return KindLeaderElected }

// SettingsChanged propagates a single key write. A nil value means the key is unset.
type SettingsChanged struct {
	Key      string `json:"key"`
	Value    any    `json:"value"`
	OldValue any    `json:"oldValue"`
}

func (SettingsChanged) Kind() Kind { return KindSettingsChanged }

type SettingsBulkChanged struct {
	Changes map[string]any `json:"changes"`
}

func (SettingsBulkChanged) Kind() Kind { return KindSettingsBulkChanged }

type ConflictResolution struct {
	ConflictID    string `json:"conflictId"`
	Key           string `json:"key"`
	Strategy      string `json:"strategy"`
	ResolvedValue any    `json:"resolvedValue"`
}

func (ConflictResolution) Kind() Kind { return KindConflictResolution }

// DomainEvent carries one of the informational kinds. Detail is sent as the
// message data as-is.
type DomainEvent struct {
	Event  Kind
	Detail map[string]any
}

func (d DomainEvent) Kind() Kind { return d.Event }

func (d DomainEvent) MarshalJSON() ([]byte, error) {
	if d.Detail == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d.Detail)
}
