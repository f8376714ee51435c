package transport

import (
	"sync"
)

// Bus is an in-process broadcast medium. Peers join a named channel and
// receive every message published there by the other members.
//
// A manual bus queues deliveries until Flush is called, which keeps
// single-goroutine tests deterministic.
type Bus struct {
	mu      sync.Mutex
	members map[string][]*MemoryTransport
	manual  bool
	queue   []delivery
	drop    func(from, to string, raw []byte) bool
}

type delivery struct {
	to  *MemoryTransport
	raw []byte
}

func NewBus() *Bus {
	return &Bus{members: make(map[string][]*MemoryTransport)}
}

func NewManualBus() *Bus {
	b := NewBus()
	b.manual = true
	return b
}

// SetDropFunc installs a loss model. Returning true drops that delivery.
func (b *Bus) SetDropFunc(f func(from, to string, raw []byte) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drop = f
}

func (b *Bus) Join(channel, peerID string) *MemoryTransport {
	t := &MemoryTransport{bus: b, channel: channel, id: peerID}
	b.mu.Lock()
	b.members[channel] = append(b.members[channel], t)
	b.mu.Unlock()
	return t
}

func (b *Bus) leave(t *MemoryTransport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	members := b.members[t.channel]
	for i, m := range members {
		if m == t {
			b.members[t.channel] = append(members[:i:i], members[i+1:]...)
			break
		}
	}
}

func (b *Bus) broadcast(from *MemoryTransport, raw []byte) {
	b.mu.Lock()
	var out []delivery
	for _, m := range b.members[from.channel] {
		if m == from {
			continue
		}
		if b.drop != nil && b.drop(from.id, m.id, raw) {
			continue
		}
		out = append(out, delivery{to: m, raw: append([]byte(nil), raw...)})
	}
	if b.manual {
		b.queue = append(b.queue, out...)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	for _, d := range out {
		d.to.deliver(d.raw)
	}
}

// Flush delivers queued messages, including those published while flushing,
// until the queue is empty. It returns the number of deliveries made.
func (b *Bus) Flush() int {
	n := 0
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return n
		}
		d := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		d.to.deliver(d.raw)
		n++
	}
}

// Pending returns the number of queued deliveries.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// MemoryTransport is one peer's membership of a Bus channel.
type MemoryTransport struct {
	bus     *Bus
	channel string
	id      string

	mu       sync.Mutex
	handlers handlerList
	closed   bool
	failing  bool
}

func (t *MemoryTransport) Publish(raw []byte) error {
	t.mu.Lock()
	closed, failing := t.closed, t.failing
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if failing {
		return ErrUnavailable
	}
	t.bus.broadcast(t, raw)
	return nil
}

func (t *MemoryTransport) Subscribe(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers.add(h)
}

func (t *MemoryTransport) Shutdown() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	t.bus.leave(t)
	return nil
}

// SetFailing makes Publish return ErrUnavailable, to exercise fallbacks.
func (t *MemoryTransport) SetFailing(failing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failing = failing
}

func (t *MemoryTransport) deliver(raw []byte) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	handlers := t.handlers.snapshot()
	t.mu.Unlock()
	for _, h := range handlers {
		h(raw)
	}
}
