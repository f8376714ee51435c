package transport

import (
	"fmt"

	"settings_sync/internal/config"

	"go.uber.org/zap"
)

// Open builds the transport selected by cfg.Transport for peerID.
//
//	auto      websocket hub, sqlite file for messages the hub cannot take
//	websocket websocket hub only
//	sqlite    sqlite file only
//	memory    bus only (bus must be non-nil)
func Open(cfg *config.MainConfig, peerID string, bus *Bus, logger *zap.Logger) (Transport, error) {
	ws := func() *WebSocket {
		return NewWebSocket(WebSocketConfig{
			HubURL:  cfg.HubURL,
			Channel: cfg.ChannelName,
			PeerID:  peerID,
		}, logger)
	}
	lite := func() (*SQLite, error) {
		return OpenSQLite(SQLiteConfig{
			Path:         cfg.FallbackPath,
			Channel:      cfg.ChannelName,
			PeerID:       peerID,
			PollInterval: cfg.FallbackPollInterval,
			RecordTTL:    cfg.FallbackRecordTTL,
		}, logger)
	}

	switch cfg.Transport {
	case config.TransportWebSocket:
		return ws(), nil
	case config.TransportSQLite:
		return lite()
	case config.TransportMemory:
		if bus == nil {
			return nil, fmt.Errorf("memory transport requires a bus")
		}
		return bus.Join(cfg.ChannelName, peerID), nil
	default:
		secondary, err := lite()
		if err != nil {
			logger.Warn("fallback transport unavailable, running on the hub only", zap.Error(err))
			return NewFallback(ws(), nil, logger), nil
		}
		return NewFallback(ws(), secondary, logger), nil
	}
}
