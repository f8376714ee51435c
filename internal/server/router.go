package server

import (
	"encoding/json"

	"settings_sync/internal/dataType"

	"go.uber.org/zap"
)

// inbound is one decoded message on its way through a handler.
type inbound struct {
	msg     dataType.Message
	payload dataType.Payload
	// created is set when the source was unknown before this message.
	created bool
}

// route decodes and handles one message kind. handle reports whether the
// membership or the electable inputs changed.
type route struct {
	payload func() dataType.Payload
	handle  func(in inbound) bool
}

func (m *SyncManager) buildRoutes() map[dataType.Kind]route {
	routes := map[dataType.Kind]route{
		dataType.KindHeartbeat: {
			payload: func() dataType.Payload { return &dataType.Heartbeat{} },
			handle:  m.onHeartbeat,
		},
		dataType.KindTabRegistered: {
			payload: func() dataType.Payload { return &dataType.TabRegistered{} },
			handle:  m.onTabRegistered,
		},
		dataType.KindTabUnregistered: {
			payload: func() dataType.Payload { return &dataType.TabUnregistered{} },
			handle:  m.onTabUnregistered,
		},
		dataType.KindLeaderElected: {
			payload: func() dataType.Payload { return &dataType.LeaderElected{} },
			handle:  m.onLeaderElected,
		},
		dataType.KindSettingsChanged: {
			payload: func() dataType.Payload { return &dataType.SettingsChanged{} },
			handle:  m.onSettingsChanged,
		},
		dataType.KindSettingsBulkChanged: {
			payload: func() dataType.Payload { return &dataType.SettingsBulkChanged{} },
			handle:  m.onSettingsBulkChanged,
		},
		dataType.KindConflictResolution: {
			payload: func() dataType.Payload { return &dataType.ConflictResolution{} },
			handle:  m.onConflictResolution,
		},
	}
	for _, k := range []dataType.Kind{
		dataType.KindAutoSaveCompleted,
		dataType.KindLiveEditActivated,
		dataType.KindLiveEditDeactivated,
	} {
		routes[k] = route{handle: m.onDomainEvent}
	}
	return routes
}

// HandleMessage is the single inbound entry point. It never fails: anything
// that cannot be routed is logged and dropped.
func (m *SyncManager) HandleMessage(raw []byte) {
	if !m.started || m.stopped {
		return
	}
	msg, err := m.codec.Decode(raw)
	if err != nil {
		m.droppedMessages++
		m.logger.Warn("dropping undecodable message", zap.Int("size", len(raw)), zap.Error(err))
		return
	}
	if msg.Source == m.selfID {
		return
	}

	now := m.now()
	if now-msg.Timestamp > millis(m.cfg.MaxMessageAge) {
		m.droppedMessages++
		m.logger.Debug("dropping stale message", zap.String("source", msg.Source),
			zap.String("type", string(msg.Type)), zap.Int64("ts", msg.Timestamp))
		return
	}
	if msg.Timestamp-now > millis(m.cfg.MaxClockSkew) {
		m.droppedMessages++
		m.logger.Debug("dropping message from the future", zap.String("source", msg.Source),
			zap.String("type", string(msg.Type)), zap.Int64("ts", msg.Timestamp))
		return
	}

	r, ok := m.routes[msg.Type]
	if !ok {
		m.logger.Info("ignoring unknown message kind", zap.String("type", string(msg.Type)), zap.String("source", msg.Source))
		return
	}

	in := inbound{msg: msg}
	if r.payload != nil {
		p := r.payload()
		if err := msg.DecodeData(p); err != nil {
			m.droppedMessages++
			m.logger.Warn("dropping malformed payload", zap.String("source", msg.Source), zap.Error(err))
			return
		}
		in.payload = p
	} else if len(msg.Data) > 0 && !json.Valid(msg.Data) {
		m.droppedMessages++
		m.logger.Warn("dropping malformed payload", zap.String("source", msg.Source), zap.String("type", string(msg.Type)))
		return
	}

	// a departure must not register the peer it removes
	if msg.Type == dataType.KindTabUnregistered {
		if r.handle(in) {
			m.elect()
		}
		return
	}

	in.created = m.registry.Upsert(msg.Source, dataType.PeerFields{}, now)
	if in.created {
		m.emit(dataType.Event{Type: dataType.EventPeerRegistered, PeerID: msg.Source})
		m.logger.Info("peer discovered", zap.String("source", msg.Source), zap.String("via", string(msg.Type)))
	}

	changed := r.handle(in)
	if in.created || changed {
		m.elect()
	}
}

func (m *SyncManager) onHeartbeat(in inbound) bool {
	hb := in.payload.(*dataType.Heartbeat)
	src := in.msg.Source
	if hb.PeerID != "" && hb.PeerID != src {
		m.logger.Debug("heartbeat peer id does not match source", zap.String("source", src), zap.String("peerId", hb.PeerID))
	}

	before, _ := m.registry.Get(src)
	m.registry.Upsert(src, dataType.PeerFields{
		RegisteredAt: hb.RegisteredAt,
		IsActive:     dataType.Bool(hb.IsActive),
		IsLeader:     dataType.Bool(hb.IsLeader),
	}, m.now())

	learned := before.RegisteredAt == 0 && hb.RegisteredAt != 0
	disputed := hb.IsLeader && m.leaderID != src
	return learned || disputed
}

func (m *SyncManager) onTabRegistered(in inbound) bool {
	tr := in.payload.(*dataType.TabRegistered)
	src := in.msg.Source

	before, _ := m.registry.Get(src)
	fields := dataType.PeerFields{
		RegisteredAt: tr.Peer.RegisteredAt,
		IsActive:     dataType.Bool(tr.Peer.IsActive),
		Metadata:     tr.Peer.Metadata,
	}
	if fields.RegisteredAt == 0 {
		fields.RegisteredAt = in.msg.Timestamp
	}
	m.registry.Upsert(src, fields, m.now())

	// let the newcomer learn about us without waiting for the next tick
	if in.created || before.RegisteredAt == 0 {
		m.sendHeartbeat()
	}
	return true
}

func (m *SyncManager) onTabUnregistered(in inbound) bool {
	src := in.msg.Source
	if !m.registry.Remove(src) {
		return false
	}
	m.emit(dataType.Event{Type: dataType.EventPeerUnregistered, PeerID: src})
	m.logger.Info("peer left", zap.String("source", src))
	return true
}

func (m *SyncManager) onLeaderElected(in inbound) bool {
	le := in.payload.(*dataType.LeaderElected)
	src := in.msg.Source
	if le.PeerID == "" {
		le.PeerID = src
	}

	if le.PeerID == src {
		m.registry.Upsert(src, dataType.PeerFields{
			RegisteredAt: le.RegisteredAt,
			IsLeader:     dataType.Bool(true),
		}, m.now())
	}
	m.emit(dataType.Event{Type: dataType.EventLeaderElected, PeerID: le.PeerID})
	return le.PeerID != m.leaderID
}

func (m *SyncManager) onDomainEvent(in inbound) bool {
	m.emit(dataType.Event{
		Type:   dataType.EventDomain,
		PeerID: in.msg.Source,
		Kind:   in.msg.Type,
		Data:   in.msg.Data,
	})
	return false
}
