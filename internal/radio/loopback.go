package radio

import (
	"context"
	"sync"
	"time"
)

// Loopback is an in-memory link: everything transmitted is received on the
// same link, in order. Transmit blocks while the buffer is full.
type Loopback struct {
	frames chan Frame
	done   chan struct{}
	once   sync.Once
	now    func() time.Time
}

// NewLoopback returns a link buffering up to depth frames.
func NewLoopback(depth int) *Loopback {
	return &Loopback{
		frames: make(chan Frame, depth),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

func (l *Loopback) Transmit(ctx context.Context, payload []byte) error {
	f := Frame{Payload: copyPayload(payload), ReceivedAt: l.now()}
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.frames <- f:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loopback) Receive(ctx context.Context) (Frame, error) {
	select {
	case f := <-l.frames:
		return f, nil
	case <-l.done:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (l *Loopback) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}
