package transport

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WebSocketConfig struct {
	// HubURL is the channel endpoint prefix of the hub, e.g. ws://host:25580/channel
	HubURL         string
	Channel        string
	PeerID         string
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	RedialInterval time.Duration
	SendBuffer     int
}

func (c *WebSocketConfig) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 3 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.RedialInterval <= 0 {
		c.RedialInterval = 2 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
}

// WebSocket is the primary transport: a connection to a hub that relays
// every frame to the other connections of the same channel. The hub never
// echoes a frame back to its sender.
type WebSocket struct {
	cfg    WebSocketConfig
	logger *zap.Logger

	mu       sync.Mutex
	session  *wsSession
	handlers handlerList
	dialing  bool
	lastDial time.Time
	closed   bool
	wg       sync.WaitGroup
}

type wsSession struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (s *wsSession) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// NewWebSocket connects to the hub. A failed first dial is logged and
// retried lazily from Publish.
func NewWebSocket(cfg WebSocketConfig, logger *zap.Logger) *WebSocket {
	cfg.applyDefaults()
	w := &WebSocket{cfg: cfg, logger: logger.Named("websocket")}

	w.mu.Lock()
	w.dialing = true
	w.lastDial = time.Now()
	w.mu.Unlock()
	if err := w.dial(); err != nil {
		w.logger.Warn("initial hub connection failed", zap.String("url", w.endpoint()), zap.Error(err))
	}
	return w
}

func (w *WebSocket) endpoint() string {
	base := strings.TrimRight(w.cfg.HubURL, "/")
	q := url.Values{}
	q.Set("peer", w.cfg.PeerID)
	return base + "/" + url.PathEscape(w.cfg.Channel) + "?" + q.Encode()
}

// Connected reports whether a hub session is currently open.
func (w *WebSocket) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session != nil
}

func (w *WebSocket) dial() error {
	defer func() {
		w.mu.Lock()
		w.dialing = false
		w.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.DialTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.endpoint(), nil)
	if err != nil {
		return err
	}

	s := &wsSession{
		conn: conn,
		send: make(chan []byte, w.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	w.session = s
	w.mu.Unlock()

	w.wg.Add(2)
	go w.readPump(s)
	go w.writePump(s)
	w.logger.Info("connected to hub", zap.String("url", w.endpoint()))
	return nil
}

// Publish queues raw for the hub. It never blocks: without an open session
// or with a full send buffer it returns ErrUnavailable and, if enough time
// has passed, starts a background redial.
func (w *WebSocket) Publish(raw []byte) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	s := w.session
	if s == nil {
		if !w.dialing && time.Since(w.lastDial) >= w.cfg.RedialInterval {
			w.dialing = true
			w.lastDial = time.Now()
			go func() {
				if err := w.dial(); err != nil {
					w.logger.Debug("hub redial failed", zap.Error(err))
				}
			}()
		}
		w.mu.Unlock()
		return ErrUnavailable
	}
	w.mu.Unlock()

	select {
	case s.send <- raw:
		return nil
	case <-s.done:
		return ErrUnavailable
	default:
		return ErrUnavailable
	}
}

func (w *WebSocket) Subscribe(h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers.add(h)
}

func (w *WebSocket) Shutdown() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	s := w.session
	w.session = nil
	w.mu.Unlock()

	if s != nil {
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leaving"), deadline)
		s.close()
	}
	w.wg.Wait()
	return nil
}

func (w *WebSocket) dropSession(s *wsSession) {
	s.close()
	w.mu.Lock()
	if w.session == s {
		w.session = nil
	}
	w.mu.Unlock()
}

func (w *WebSocket) readPump(s *wsSession) {
	defer w.wg.Done()
	defer w.dropSession(s)

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				w.logger.Warn("hub connection lost", zap.Error(err))
			}
			return
		}
		w.mu.Lock()
		handlers := w.handlers.snapshot()
		w.mu.Unlock()
		for _, h := range handlers {
			h(msg)
		}
	}
}

func (w *WebSocket) writePump(s *wsSession) {
	defer w.wg.Done()
	defer w.dropSession(s)

	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				w.logger.Warn("hub write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
