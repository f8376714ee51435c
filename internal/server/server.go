package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"settings_sync/internal/dataType"

	"go.uber.org/zap"
)

const channelPrefix = "/channel/"

// NewHubMux serves the hub under /channel/ and a status document under /healthz.
func NewHubMux(hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(channelPrefix, hub.Handler(channelPrefix))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"version":  dataType.SettingsSyncVersion,
			"channels": hub.Members(),
			"dropped":  hub.Dropped(),
		}); err != nil {
			hub.logger.Warn("failed to write health response", zap.Error(err))
		}
	})
	return mux
}

// StartHub listens on addr and relays channel traffic until ctx is cancelled.
func StartHub(ctx context.Context, addr string, logger *zap.Logger) error {
	hub := NewHub(logger)
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHubMux(hub),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("hub listening", zap.String("addr", addr))
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("stopping hub")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hub.Close()
		return srv.Shutdown(shutdownCtx)
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
