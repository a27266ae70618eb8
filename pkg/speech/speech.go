// Package speech defines the external transcription, synthesis,
// response generation, and analysis capabilities the core consumes. Implementations live behind
// these interfaces; the engine never depends on a concrete provider.
package speech

import (
	"context"

	"github.com/user/voicehub/internal/audio"
	"github.com/user/voicehub/internal/prompt"
	"github.com/user/voicehub/internal/types"
)

// Transcript is the result of transcribing captured audio.
type Transcript struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Entities   []string `json:"entities,omitempty"`
}

// Transcriber converts captured audio frames into text. A confidence
// below the configured floor surfaces as types.ErrLowConfidence: no
// usable text, not a failure.
type Transcriber interface {
	Transcribe(ctx context.Context, frames []audio.Frame) (*Transcript, error)
}

// Synthesizer converts text into playable audio frames. Failures are
// reported so callers can fall back to text-only delivery.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]audio.Frame, error)
}

// Responder sends an assembled prompt to the creative endpoint and
// returns the reply text. The endpoint is external; callers skip the
// reply when it is unavailable rather than failing the session.
type Responder interface {
	Respond(ctx context.Context, messages []prompt.Message) (string, error)
}

// Analyzer attaches advisory sentiment/priority/entity annotations.
// It must never block a session: callers degrade to an unannotated
// message when analysis is unavailable.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*types.Annotation, error)
}

// Config carries the shared settings for capability clients.
type Config struct {
	BaseURL         string
	APIKey          string
	ConfidenceFloor float64
}
