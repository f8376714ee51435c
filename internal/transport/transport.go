// Package transport moves encoded envelopes between the peers of a channel.
//
// Every implementation is fire-and-forget: Publish never waits for another
// peer, delivery is unordered and at most once, and a peer never receives
// its own messages.
package transport

import "errors"

var (
	ErrUnavailable = errors.New("transport unavailable")
	ErrClosed      = errors.New("transport closed")
)

// Handler receives one raw inbound envelope. It must not block.
type Handler func(raw []byte)

type Transport interface {
	Publish(raw []byte) error
	Subscribe(h Handler)
	Shutdown() error
}

// handlerList is the subscription bookkeeping shared by the implementations.
type handlerList struct {
	handlers []Handler
}

func (l *handlerList) add(h Handler) {
	l.handlers = append(l.handlers, h)
}

func (l *handlerList) snapshot() []Handler {
	return append([]Handler(nil), l.handlers...)
}
