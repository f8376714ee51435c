package server

import (
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	hubSendBuffer   = 256
	hubWriteTimeout = 5 * time.Second
	hubPongWait     = 90 * time.Second
	hubMaxFrame     = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub relays every frame a connection sends to all other connections of
// the same channel. It keeps no history and never echoes a frame back.
type Hub struct {
	logger *zap.Logger

	mu       sync.RWMutex
	channels map[string]map[*hubClient]struct{}

	dropped atomic.Uint64
}

type hubClient struct {
	channel string
	peer    string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:   logger.Named("hub"),
		channels: make(map[string]map[*hubClient]struct{}),
	}
}

// Handler serves /channel/<name>?peer=<id> under the given prefix.
func (h *Hub) Handler(prefix string) http.HandlerFunc {
	prefix = strings.TrimRight(prefix, "/") + "/"
	return func(w http.ResponseWriter, r *http.Request) {
		channel := strings.TrimPrefix(r.URL.Path, prefix)
		if channel == "" || channel == r.URL.Path || strings.Contains(channel, "/") {
			http.Error(w, "channel name required", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
			return
		}

		c := &hubClient{
			channel: channel,
			peer:    r.URL.Query().Get("peer"),
			conn:    conn,
			send:    make(chan []byte, hubSendBuffer),
			done:    make(chan struct{}),
		}
		h.join(c)
		go h.writePump(c)
		h.readPump(c)
	}
}

func (h *Hub) join(c *hubClient) {
	h.mu.Lock()
	members, ok := h.channels[c.channel]
	if !ok {
		members = make(map[*hubClient]struct{})
		h.channels[c.channel] = members
	}
	members[c] = struct{}{}
	n := len(members)
	h.mu.Unlock()
	h.logger.Info("peer connected", zap.String("channel", c.channel), zap.String("peer", c.peer), zap.Int("members", n))
}

func (h *Hub) leave(c *hubClient) {
	h.mu.Lock()
	if members, ok := h.channels[c.channel]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.channels, c.channel)
		}
	}
	h.mu.Unlock()
	c.close()
	h.logger.Info("peer disconnected", zap.String("channel", c.channel), zap.String("peer", c.peer))
}

func (h *Hub) broadcast(from *hubClient, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.channels[from.channel] {
		if c == from {
			continue
		}
		select {
		case c.send <- frame:
		default:
			// slow reader, the frame is lost like any other broadcast loss
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) readPump(c *hubClient) {
	defer h.leave(c)
	c.conn.SetReadLimit(hubMaxFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	c.conn.SetPingHandler(func(data string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
		select {
		case c.send <- nil:
		default:
		}
		return nil
	})

	for {
		kind, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("read failed", zap.String("peer", c.peer), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		h.broadcast(c, frame)
	}
}

func (h *Hub) writePump(c *hubClient) {
	defer c.close()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			var err error
			if frame == nil {
				err = c.conn.WriteMessage(websocket.PongMessage, nil)
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, frame)
			}
			if err != nil {
				return
			}
		}
	}
}

// Members returns the number of connections per channel.
func (h *Hub) Members() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int, len(h.channels))
	for name, members := range h.channels {
		out[name] = len(members)
	}
	return out
}

// Dropped returns the number of frames lost to slow readers.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*hubClient
	for _, members := range h.channels {
		for c := range members {
			all = append(all, c)
		}
	}
	h.mu.Unlock()
	for _, c := range all {
		c.close()
	}
}
