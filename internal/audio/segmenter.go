// internal/audio/segmenter.go
package audio

import "time"

// Segmenter groups a capture stream into silence-delimited utterances.
// A boundary is an explicit empty frame from the transport, or a gap
// between frame timestamps longer than the configured silence gap.
type Segmenter struct {
	gap     time.Duration
	pending []Frame
	lastAt  time.Time
}

func NewSegmenter(silenceGap time.Duration) *Segmenter {
	if silenceGap <= 0 {
		silenceGap = 700 * time.Millisecond
	}
	return &Segmenter{gap: silenceGap}
}

// Push feeds one frame in. It returns a completed utterance and true
// when the frame closed one, otherwise nil and false.
func (s *Segmenter) Push(f Frame) ([]Frame, bool) {
	if len(f.Data) == 0 {
		return s.Flush()
	}
	if len(s.pending) > 0 && f.Timestamp.Sub(s.lastAt) > s.gap {
		done := s.pending
		s.pending = []Frame{f}
		s.lastAt = f.Timestamp
		return done, true
	}
	s.pending = append(s.pending, f)
	s.lastAt = f.Timestamp
	return nil, false
}

// FlushIfIdle returns the buffered frames as an utterance when no new
// frame has arrived for longer than the silence gap.
func (s *Segmenter) FlushIfIdle(now time.Time) ([]Frame, bool) {
	if len(s.pending) > 0 && now.Sub(s.lastAt) > s.gap {
		return s.Flush()
	}
	return nil, false
}

// Flush returns any buffered frames as a final utterance.
func (s *Segmenter) Flush() ([]Frame, bool) {
	if len(s.pending) == 0 {
		return nil, false
	}
	done := s.pending
	s.pending = nil
	return done, true
}
