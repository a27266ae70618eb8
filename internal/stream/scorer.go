// internal/stream/scorer.go
package stream

import (
	"strings"
	"time"

	"github.com/user/voicehub/internal/types"
)

// Marker groups by kind. A segment matching any marker of a kind earns
// that kind's configured weight once, no matter how many markers hit.
var markerKinds = []struct {
	kind    string
	markers []string
}{
	{"exciting", []string{"amazing", "incredible", "breakthrough", "wow", "fantastic"}},
	{"question", []string{"?", "how", "what", "why", "when"}},
	{"engagement", []string{"comment", "like", "share", "subscribe"}},
}

const (
	confidenceBoostFloor = 0.9
	confidenceBoost      = 0.2
)

// score rates one segment from transcription confidence, lexical
// markers, and local recency within the window span. The kind is the
// highest-weighted marker group that matched, or "general".
func (c *Coordinator) score(s types.Segment, oldest, newest time.Time) (float64, string) {
	score := s.Confidence
	kind := "general"
	bestWeight := 0.0

	text := strings.ToLower(s.Text)
	for _, g := range markerKinds {
		weight, ok := c.cfg.KeywordWeights[g.kind]
		if !ok || weight == 0 {
			continue
		}
		for _, m := range g.markers {
			if strings.Contains(text, m) {
				score += weight
				if weight > bestWeight {
					bestWeight = weight
					kind = g.kind
				}
				break
			}
		}
	}

	if s.Confidence > confidenceBoostFloor {
		score += confidenceBoost
	}

	// Local recency: position of the segment within the window's time
	// span, scaled by the recency weight.
	if span := newest.Sub(oldest); span > 0 {
		score += c.cfg.RecencyWeight * float64(s.At.Sub(oldest)) / float64(span)
	} else {
		score += c.cfg.RecencyWeight
	}
	return score, kind
}
