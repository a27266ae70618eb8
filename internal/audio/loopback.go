// internal/audio/loopback.go
package audio

import (
	"context"
	"sync"

	"github.com/user/voicehub/internal/types"
)

// Loopback is a channel-backed transport with no real audio device
// behind it. The demo command and tests drive the capture side with
// Inject and observe the playback side with Delivered.
type Loopback struct {
	id       types.TransportID
	captured chan Frame

	mu        sync.Mutex
	delivered []Frame
	texts     []string
	failNext  error
	closed    bool
}

func NewLoopback(id types.TransportID) *Loopback {
	return &Loopback{
		id:       id,
		captured: make(chan Frame, 64),
	}
}

func (l *Loopback) ID() types.TransportID { return l.id }

// FailWith makes the next Deliver or DeliverText call return err.
func (l *Loopback) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

func (l *Loopback) takeFailure() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.failNext
	l.failNext = nil
	return err
}

func (l *Loopback) Deliver(ctx context.Context, frames []Frame) error {
	if err := l.takeFailure(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delivered = append(l.delivered, frames...)
	return nil
}

func (l *Loopback) DeliverText(ctx context.Context, text string) error {
	if err := l.takeFailure(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.texts = append(l.texts, text)
	return nil
}

func (l *Loopback) Captured() <-chan Frame { return l.captured }

// Inject pushes a frame onto the capture stream, as if the remote
// party had spoken. Safe to call from any goroutine until Close.
func (l *Loopback) Inject(f Frame) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	l.captured <- f
}

// Delivered returns a copy of all frames played back so far.
func (l *Loopback) Delivered() []Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Frame, len(l.delivered))
	copy(out, l.delivered)
	return out
}

// DeliveredTexts returns all text-only deliveries so far.
func (l *Loopback) DeliveredTexts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.texts))
	copy(out, l.texts)
	return out
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.captured)
	}
	return nil
}
