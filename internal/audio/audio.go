// Package audio defines the transport boundary the session engine
// consumes. The core treats capture and playback as a capability that
// delivers and accepts PCM frames; codec internals live elsewhere.
package audio

import (
	"context"
	"time"

	"github.com/user/voicehub/internal/types"
)

type Format struct {
	SampleRate int
	Channels   int
	Encoding   string
}

// Frame is a chunk of PCM audio. An empty Data slice is an explicit
// utterance delimiter from transports that segment upstream.
type Frame struct {
	Data      []byte
	Format    Format
	Timestamp time.Time
}

// Transport is the singleton audio channel a session exclusively owns
// while connected. Deliver pushes synthesized audio toward the remote
// party; DeliverText is the text-only fallback when synthesis fails.
type Transport interface {
	ID() types.TransportID
	Deliver(ctx context.Context, frames []Frame) error
	DeliverText(ctx context.Context, text string) error
	Captured() <-chan Frame
	Close() error
}
