package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"settings_sync/internal/config"
	"settings_sync/internal/settings"
	"settings_sync/internal/transport"
	"settings_sync/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(zaptest.NewLogger(t))
	srv := httptest.NewServer(NewHubMux(hub))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/channel"
}

type frames struct {
	mu  sync.Mutex
	got []string
}

func (f *frames) add(raw []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, string(raw))
}

func (f *frames) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.got...)
}

func dialHub(t *testing.T, hubURL, channel, peer string) (*transport.WebSocket, *frames) {
	t.Helper()
	ws := transport.NewWebSocket(transport.WebSocketConfig{HubURL: hubURL, Channel: channel, PeerID: peer}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = ws.Shutdown() })
	require.True(t, ws.Connected(), "dial %s", peer)
	got := &frames{}
	ws.Subscribe(got.add)
	return ws, got
}

func TestHubRelaysWithinChannelOnly(t *testing.T) {
	hub, url := startHub(t)
	a, gotA := dialHub(t, url, "room", "a")
	_, gotB := dialHub(t, url, "room", "b")
	_, gotC := dialHub(t, url, "elsewhere", "c")

	require.Eventually(t, func() bool {
		m := hub.Members()
		return m["room"] == 2 && m["elsewhere"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Publish([]byte(`{"type":"heartbeat"}`)))

	require.Eventually(t, func() bool { return len(gotB.list()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, `{"type":"heartbeat"}`, gotB.list()[0])

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, gotA.list(), "the hub must not echo to the sender")
	assert.Empty(t, gotC.list())
}

func TestHubHealthz(t *testing.T) {
	_, url := startHub(t)
	dialHub(t, url, "room", "a")

	httpURL := "http" + strings.TrimSuffix(strings.TrimPrefix(url, "ws"), "/channel") + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(httpURL)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body struct {
			Channels map[string]int `json:"channels"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false
		}
		return body.Channels["room"] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubRejectsMissingChannel(t *testing.T) {
	_, url := startHub(t)
	httpURL := "http" + strings.TrimPrefix(url, "ws") + "/"
	resp, err := http.Get(httpURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPeersConvergeOverHub(t *testing.T) {
	_, url := startHub(t)
	clock := utils.NewManualClock(epoch)

	start := func(id string) (*Node, *settings.MemoryStore) {
		cfg := testConfig()
		cfg.Transport = config.TransportWebSocket
		cfg.HubURL = url
		tr, err := transport.Open(cfg, id, nil, zaptest.NewLogger(t))
		require.NoError(t, err)

		store := settings.NewMemoryStore()
		m, err := NewSyncManager(Options{Config: cfg, PeerID: id, Transport: tr, Store: store, Clock: clock, Logger: zaptest.NewLogger(t).Named(id)})
		require.NoError(t, err)
		node := NewNode(m, func(time.Duration) Ticker { return NewManualTicker() })
		store.OnChange(node.OnLocalChange)

		ctx, cancel := context.WithCancel(context.Background())
		go func() { _ = node.Run(ctx) }()
		t.Cleanup(func() {
			cancel()
			<-node.Done()
		})
		return node, store
	}

	a, storeA := start("a")
	clock.Advance(time.Second)
	b, storeB := start("b")

	leaderOf := func(n *Node) string {
		var id string
		_ = n.Do(func(m *SyncManager) { id = m.LeaderID() })
		return id
	}
	require.Eventually(t, func() bool {
		return leaderOf(a) == "a" && leaderOf(b) == "a"
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, storeB.Set("theme.color", "blue", false))
	require.Eventually(t, func() bool {
		v, _ := storeA.Get("theme.color")
		return v == "blue"
	}, 3*time.Second, 10*time.Millisecond)
}
