package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"settings_sync/internal/settings"

	"go.uber.org/zap"
)

var ErrNodeStopped = errors.New("node stopped")

const (
	inboxSize = 1024
	localSize = 256
)

// Node runs a SyncManager on one goroutine. Transport deliveries, local
// setting changes, timer ticks and calls from other goroutines are all
// serialized through Run, so the manager never needs a lock.
type Node struct {
	m      *SyncManager
	sched  *Scheduler
	logger *zap.Logger

	inbox chan []byte
	local chan settings.Change
	calls chan func()

	done     chan struct{}
	doneOnce sync.Once
	running  atomic.Bool

	droppedInbound atomic.Uint64
	droppedLocal   atomic.Uint64
}

// NewNode wires m to its transport and to a scheduler ticking every
// heartbeat interval. newTicker may be nil for a real timer.
func NewNode(m *SyncManager, newTicker func(time.Duration) Ticker) *Node {
	n := &Node{
		m:      m,
		logger: m.logger,
		inbox:  make(chan []byte, inboxSize),
		local:  make(chan settings.Change, localSize),
		calls:  make(chan func()),
		done:   make(chan struct{}),
	}
	n.sched = &Scheduler{
		Interval:  m.cfg.HeartbeatInterval,
		OnTick:    m.Tick,
		NewTicker: newTicker,
		OnShutdown: func() {
			if err := m.Shutdown(); err != nil {
				n.logger.Warn("transport shutdown failed", zap.Error(err))
			}
		},
	}
	m.transport.Subscribe(n.deliver)
	return n
}

// Manager returns the wrapped manager. Only use it from inside Do.
func (n *Node) Manager() *SyncManager { return n.m }

// Run starts the peer and processes events until ctx is cancelled. The
// departure announcement and transport shutdown happen before it returns.
func (n *Node) Run(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return errors.New("node already running")
	}
	defer n.doneOnce.Do(func() { close(n.done) })

	tick := n.sched.start()
	n.m.Startup()

	for {
		select {
		case <-ctx.Done():
			n.sched.stop()
			return nil
		case raw := <-n.inbox:
			n.m.HandleMessage(raw)
		case c := <-n.local:
			n.m.OnLocalChange(c)
		case <-tick:
			n.sched.tick()
		case fn := <-n.calls:
			fn()
		}
	}
}

// Done is closed once Run has returned.
func (n *Node) Done() <-chan struct{} { return n.done }

// Do runs fn on the loop goroutine and waits for it. It must not be called
// from inside another Do callback.
func (n *Node) Do(fn func(m *SyncManager)) error {
	reply := make(chan struct{})
	call := func() {
		fn(n.m)
		close(reply)
	}
	select {
	case n.calls <- call:
	case <-n.done:
		return ErrNodeStopped
	}
	select {
	case <-reply:
		return nil
	case <-n.done:
		return ErrNodeStopped
	}
}

// OnLocalChange is the settings store listener. It never blocks the writer.
func (n *Node) OnLocalChange(c settings.Change) {
	select {
	case n.local <- c:
	default:
		n.droppedLocal.Add(1)
		n.logger.Warn("local change queue full, change not broadcast", zap.String("key", c.Key))
	}
}

func (n *Node) deliver(raw []byte) {
	select {
	case <-n.done:
		return
	default:
	}
	select {
	case n.inbox <- raw:
	default:
		n.droppedInbound.Add(1)
	}
}

// Dropped returns the number of inbound messages and local changes lost to
// full queues.
func (n *Node) Dropped() (inbound, local uint64) {
	return n.droppedInbound.Load(), n.droppedLocal.Load()
}
