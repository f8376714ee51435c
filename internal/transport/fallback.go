package transport

import (
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// Fallback publishes through primary and, when that fails for a message,
// through secondary for that message only. The primary is tried again for
// the next message.
type Fallback struct {
	primary   Transport
	secondary Transport
	logger    *zap.Logger
	degraded  atomic.Uint64
}

// NewFallback combines two transports. Either may be nil.
func NewFallback(primary, secondary Transport, logger *zap.Logger) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *Fallback) Publish(raw []byte) error {
	err := ErrUnavailable
	if f.primary != nil {
		if err = safePublish(f.primary, raw); err == nil {
			return nil
		}
		if f.secondary != nil {
			count := f.degraded.Add(1)
			f.logger.Warn("primary transport failed, publishing through fallback",
				zap.Error(err), zap.Uint64("degraded_total", count))
		}
	}
	if f.secondary == nil {
		return err
	}
	return safePublish(f.secondary, raw)
}

func (f *Fallback) Subscribe(h Handler) {
	if f.primary != nil {
		f.primary.Subscribe(h)
	}
	if f.secondary != nil {
		f.secondary.Subscribe(h)
	}
}

func (f *Fallback) Shutdown() error {
	var errs []error
	if f.primary != nil {
		errs = append(errs, f.primary.Shutdown())
	}
	if f.secondary != nil {
		errs = append(errs, f.secondary.Shutdown())
	}
	return errors.Join(errs...)
}

// Degraded returns how many messages went through the fallback.
func (f *Fallback) Degraded() uint64 {
	return f.degraded.Load()
}

func safePublish(t Transport, raw []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: publish panicked: %v", ErrUnavailable, r)
		}
	}()
	return t.Publish(raw)
}
