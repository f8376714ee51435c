package server

import (
	"errors"
	"fmt"
	"time"

	"settings_sync/internal/config"
	"settings_sync/internal/conflict"
	"settings_sync/internal/dataType"
	"settings_sync/internal/settings"
	"settings_sync/internal/transport"
	"settings_sync/internal/utils"

	"go.uber.org/zap"
)

var ErrNotDomainKind = errors.New("not a domain event kind")

const defaultEventBuffer = 256

type Options struct {
	Config    *config.MainConfig
	PeerID    string // generated when empty
	Transport transport.Transport
	// Store may be nil; settings handlers no-op until one is attached.
	Store    settings.Store
	Clock    utils.Clock
	Logger   *zap.Logger
	Metadata map[string]string
	// EventBuffer is the capacity of the Events channel. Events are dropped
	// when it is full.
	EventBuffer int
}

// SyncManager is the coordination core of one peer. It is not safe for
// concurrent use: every method must be called from a single goroutine,
// which is what Node does.
type SyncManager struct {
	cfg       *config.MainConfig
	selfID    string
	transport transport.Transport
	codec     *utils.Codec
	store     settings.Store
	clock     utils.Clock
	logger    *zap.Logger

	registry  *dataType.PeerRegistry
	conflicts *dataType.ConflictSet
	strategy  conflict.Strategy

	registeredAt int64
	isActive     bool
	isLeader     bool
	leaderID     string
	metadata     map[string]string

	// unix ms of the last write of each key applied on this peer
	localWrites map[string]int64

	routes map[dataType.Kind]route
	events chan dataType.Event

	started bool
	stopped bool

	droppedEvents   uint64
	droppedMessages uint64
}

func NewSyncManager(opts Options) (*SyncManager, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("sync manager requires a config")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("sync manager requires a transport")
	}
	if opts.PeerID == "" {
		opts.PeerID = utils.NewPeerID()
	}
	if opts.Clock == nil {
		opts.Clock = utils.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}

	strategy, ok := conflict.ParseStrategy(opts.Config.ConflictStrategy)
	if !ok {
		opts.Logger.Warn("unknown conflict strategy, resolving as remote-wins",
			zap.String("strategy", opts.Config.ConflictStrategy))
	}

	m := &SyncManager{
		cfg:         opts.Config,
		selfID:      opts.PeerID,
		transport:   opts.Transport,
		codec:       utils.NewCodec(opts.Config.SharedSecret),
		store:       opts.Store,
		clock:       opts.Clock,
		logger:      opts.Logger,
		registry:    dataType.NewPeerRegistry(opts.Config.PeerTimeout),
		conflicts:   dataType.NewConflictSet(opts.Config.ConflictTTL),
		strategy:    strategy,
		isActive:    true,
		metadata:    opts.Metadata,
		localWrites: make(map[string]int64),
		events:      make(chan dataType.Event, opts.EventBuffer),
	}
	m.routes = m.buildRoutes()
	return m, nil
}

func (m *SyncManager) ID() string { return m.selfID }

func (m *SyncManager) now() int64 { return utils.NowMillis(m.clock) }

// SetStore attaches the settings store once it becomes available.
func (m *SyncManager) SetStore(s settings.Store) {
	m.store = s
}

// Events delivers informational notifications. Slow readers lose events.
func (m *SyncManager) Events() <-chan dataType.Event {
	return m.events
}

// Startup registers the local peer, announces it and runs the first election.
func (m *SyncManager) Startup() {
	if m.started {
		return
	}
	m.started = true
	now := m.now()
	m.registeredAt = now
	m.registry.Upsert(m.selfID, dataType.PeerFields{
		RegisteredAt: now,
		IsActive:     dataType.Bool(m.isActive),
		IsLeader:     dataType.Bool(false),
		Metadata:     m.metadata,
	}, now)

	self, _ := m.registry.Get(m.selfID)
	m.publish(dataType.TabRegistered{Peer: self})
	m.logger.Info("peer registered", zap.String("channel", m.cfg.ChannelName), zap.Int64("registeredAt", now))
	m.elect()
}

// Shutdown announces the departure and closes the transport. The
// announcement is advisory; other peers converge via timeout without it.
func (m *SyncManager) Shutdown() error {
	if m.stopped {
		return nil
	}
	m.stopped = true
	if m.started {
		m.publish(dataType.TabUnregistered{PeerID: m.selfID})
	}
	m.logger.Info("peer leaving")
	return m.transport.Shutdown()
}

// SetActive records a foreground/background change. Coming back to the
// foreground sends a heartbeat right away.
func (m *SyncManager) SetActive(active bool) {
	was := m.isActive
	m.isActive = active
	if !m.started || m.stopped {
		return
	}
	m.registry.Upsert(m.selfID, dataType.PeerFields{IsActive: dataType.Bool(active)}, m.now())
	if active && !was {
		m.sendHeartbeat()
	}
}

// OnLocalChange publishes a write made on this peer. It is registered as a
// listener on the settings store.
func (m *SyncManager) OnLocalChange(c settings.Change) {
	if m.stopped {
		return
	}
	now := m.now()
	if c.Bulk != nil {
		for k := range c.Bulk {
			m.localWrites[k] = now
		}
		m.publish(dataType.SettingsBulkChanged{Changes: c.Bulk})
		return
	}
	m.localWrites[c.Key] = now
	m.publish(dataType.SettingsChanged{Key: c.Key, Value: c.Value, OldValue: c.OldValue})
}

// PublishEvent broadcasts an informational domain event.
func (m *SyncManager) PublishEvent(kind dataType.Kind, detail map[string]any) error {
	if !dataType.IsDomainKind(kind) {
		return fmt.Errorf("%w: %s", ErrNotDomainKind, kind)
	}
	if m.stopped {
		return transport.ErrClosed
	}
	m.publish(dataType.DomainEvent{Event: kind, Detail: detail})
	return nil
}

func (m *SyncManager) Peers() []dataType.Peer {
	return m.registry.GetSnapshot()
}

func (m *SyncManager) LeaderID() string { return m.leaderID }

func (m *SyncManager) IsLeader() bool { return m.isLeader }

func (m *SyncManager) PendingConflicts() []dataType.ConflictRecord {
	return m.conflicts.PendingRecords()
}

// DroppedEvents returns the number of notifications lost to a full channel.
func (m *SyncManager) DroppedEvents() uint64 { return m.droppedEvents }

// DroppedMessages returns the number of inbound messages rejected before routing.
func (m *SyncManager) DroppedMessages() uint64 { return m.droppedMessages }

func (m *SyncManager) publish(p dataType.Payload) {
	msg, err := dataType.NewMessage(m.selfID, m.now(), p)
	if err != nil {
		m.logger.Error("failed to build message", zap.Error(err))
		return
	}
	raw, err := m.codec.Encode(msg)
	if err != nil {
		m.logger.Error("failed to encode message", zap.String("type", string(msg.Type)), zap.Error(err))
		return
	}
	if err := m.transport.Publish(raw); err != nil {
		m.logger.Warn("publish failed", zap.String("type", string(msg.Type)), zap.Error(err))
	}
}

func (m *SyncManager) emit(ev dataType.Event) {
	if ev.At == 0 {
		ev.At = m.now()
	}
	select {
	case m.events <- ev:
	default:
		m.droppedEvents++
	}
}

func millis(d time.Duration) int64 { return d.Milliseconds() }
