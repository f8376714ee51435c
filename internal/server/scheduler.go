package server

import (
	"sync"
	"time"
)

// Ticker is the part of time.Ticker the scheduler needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// ManualTicker fires only when Fire is called.
type ManualTicker struct {
	ch   chan time.Time
	once sync.Once
	stop chan struct{}
}

func NewManualTicker() *ManualTicker {
	return &ManualTicker{ch: make(chan time.Time), stop: make(chan struct{})}
}

func (m *ManualTicker) C() <-chan time.Time { return m.ch }

func (m *ManualTicker) Stop() {
	m.once.Do(func() { close(m.stop) })
}

// Fire delivers one tick and waits until it has been taken. It returns
// false once the ticker is stopped.
func (m *ManualTicker) Fire() bool {
	select {
	case m.ch <- time.Now():
		return true
	case <-m.stop:
		return false
	}
}

// Scheduler owns the periodic timer of a peer. OnTick runs on every tick and
// OnShutdown once when the scheduler stops; both run on the loop goroutine.
type Scheduler struct {
	Interval   time.Duration
	OnTick     func()
	OnShutdown func()
	// NewTicker defaults to NewRealTicker.
	NewTicker func(time.Duration) Ticker

	ticker Ticker
}

func (s *Scheduler) start() <-chan time.Time {
	newTicker := s.NewTicker
	if newTicker == nil {
		newTicker = NewRealTicker
	}
	s.ticker = newTicker(s.Interval)
	return s.ticker.C()
}

func (s *Scheduler) tick() {
	if s.OnTick != nil {
		s.OnTick()
	}
}

func (s *Scheduler) stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.OnShutdown != nil {
		s.OnShutdown()
	}
}
