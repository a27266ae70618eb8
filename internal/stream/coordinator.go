// Package stream turns live transcript feeds into highlight and clip
// suggestion events. The coordinator is advisory: it never blocks the
// audio path and never returns errors for unknown or empty streams.
package stream

import (
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/voicehub/internal/types"
)

// Config tunes window retention and scoring.
type Config struct {
	HighlightThreshold float64
	WindowRetention    time.Duration
	ClipPreMargin      time.Duration
	ClipPostMargin     time.Duration
	RecencyWeight      float64
	// KeywordWeights maps a marker kind (exciting, question,
	// engagement) to the score it contributes when any of the kind's
	// markers appears in a segment.
	KeywordWeights map[string]float64
	MaxConcurrent  int64
}

// DefaultConfig mirrors the shipped configuration defaults.
func DefaultConfig() Config {
	return Config{
		HighlightThreshold: 0.7,
		WindowRetention:    5 * time.Minute,
		ClipPreMargin:      10 * time.Second,
		ClipPostMargin:     10 * time.Second,
		RecencyWeight:      0.1,
		KeywordWeights: map[string]float64{
			"exciting":   0.3,
			"question":   0.2,
			"engagement": 0.2,
		},
		MaxConcurrent: 3,
	}
}

// window is one live stream's rolling transcript buffer.
type window struct {
	startedAt time.Time
	segments  []types.Segment
}

// Coordinator tracks a rolling transcript window per live stream and
// scores it on demand.
type Coordinator struct {
	cfg    Config
	logger *slog.Logger
	sem    *semaphore.Weighted

	mu      sync.RWMutex
	windows map[types.StreamID]*window
}

func NewCoordinator(cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.WindowRetention <= 0 {
		cfg.WindowRetention = 5 * time.Minute
	}
	return &Coordinator{
		cfg:     cfg,
		logger:  logger,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		windows: make(map[types.StreamID]*window),
	}
}

// StartStream opens a window for the stream. Starting an already-open
// stream is a no-op. The concurrent stream count is capped; at
// capacity the stream is refused rather than queued.
func (c *Coordinator) StartStream(id types.StreamID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.windows[id]; ok {
		return nil
	}
	if !c.sem.TryAcquire(1) {
		return fmt.Errorf("stream %s refused: %d streams already active", id, c.cfg.MaxConcurrent)
	}
	c.windows[id] = &window{startedAt: time.Now()}
	c.logger.Info("stream started", "stream_id", id)
	return nil
}

// EndStream discards the stream's window and frees its slot.
// Idempotent.
func (c *Coordinator) EndStream(id types.StreamID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.windows[id]; !ok {
		return
	}
	delete(c.windows, id)
	c.sem.Release(1)
	c.logger.Info("stream ended", "stream_id", id)
}

// ActiveStreams lists the streams with open windows.
func (c *Coordinator) ActiveStreams() []types.StreamID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.StreamID, 0, len(c.windows))
	for id := range c.windows {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Ingest appends a transcript segment to the stream's window and
// evicts segments that fell out of the retention span. Segments for
// streams that were never started are dropped.
func (c *Coordinator) Ingest(id types.StreamID, seg types.Segment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.windows[id]
	if !ok {
		c.logger.Debug("segment for unknown stream dropped", "stream_id", id)
		return
	}
	w.segments = append(w.segments, seg)

	// Eviction is time-based relative to the newest segment, so a
	// burst of speech cannot push still-recent context out.
	cutoff := seg.At.Add(-c.cfg.WindowRetention)
	keep := w.segments[:0]
	for _, s := range w.segments {
		if !s.At.Before(cutoff) {
			keep = append(keep, s)
		}
	}
	w.segments = keep
}

// SegmentCount reports the retained window size for a stream.
func (c *Coordinator) SegmentCount(id types.StreamID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if w, ok := c.windows[id]; ok {
		return len(w.segments)
	}
	return 0
}

// KeyMoments returns the stream's highlights above the configured
// threshold, highest score first. The sequence is lazy and
// restartable: each iteration re-scores the window as it stands at
// that moment. Unknown or empty streams yield nothing.
func (c *Coordinator) KeyMoments(id types.StreamID) iter.Seq[types.Highlight] {
	return c.KeyMomentsAbove(id, c.cfg.HighlightThreshold)
}

// KeyMomentsAbove is KeyMoments with an explicit score threshold.
func (c *Coordinator) KeyMomentsAbove(id types.StreamID, threshold float64) iter.Seq[types.Highlight] {
	return func(yield func(types.Highlight) bool) {
		for _, h := range c.scoreWindow(id, threshold) {
			if !yield(h) {
				return
			}
		}
	}
}

func (c *Coordinator) scoreWindow(id types.StreamID, threshold float64) []types.Highlight {
	c.mu.RLock()
	w, ok := c.windows[id]
	var segs []types.Segment
	if ok {
		segs = append(segs, w.segments...)
	}
	c.mu.RUnlock()
	if len(segs) == 0 {
		return nil
	}

	oldest, newest := segs[0].At, segs[0].At
	for _, s := range segs[1:] {
		if s.At.Before(oldest) {
			oldest = s.At
		}
		if s.At.After(newest) {
			newest = s.At
		}
	}

	var out []types.Highlight
	for _, s := range segs {
		score, kind := c.score(s, oldest, newest)
		if score >= threshold {
			out = append(out, types.Highlight{Segment: s, Score: score, Kind: kind})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// SuggestClip proposes a clip range around the highlight, padded by
// the configured margins and clamped to the stream's elapsed span. It
// reads the current window state and has no side effects.
func (c *Coordinator) SuggestClip(id types.StreamID, h types.Highlight) types.ClipSuggestion {
	start := h.Segment.At.Add(-c.cfg.ClipPreMargin)
	end := h.Segment.At.Add(c.cfg.ClipPostMargin)

	c.mu.RLock()
	w, ok := c.windows[id]
	if ok {
		if start.Before(w.startedAt) {
			start = w.startedAt
		}
	}
	c.mu.RUnlock()
	if now := time.Now(); end.After(now) {
		end = now
	}

	reach := "medium"
	if h.Score > 0.8 {
		reach = "high"
	}
	return types.ClipSuggestion{
		Highlight: h,
		Start:     start,
		End:       end,
		Rationale: fmt.Sprintf("%s moment scored %.2f, %s reach potential", h.Kind, h.Score, reach),
	}
}

// Insight condenses the stream's current top highlight into one line
// suitable for injection into a conversation, or "" when the window
// has nothing above threshold.
func (c *Coordinator) Insight(id types.StreamID) string {
	for h := range c.KeyMoments(id) {
		return fmt.Sprintf("live stream %s: %s (%s, score %.2f)", id, h.Segment.Text, h.Kind, h.Score)
	}
	return ""
}

// Close discards all windows and releases their slots.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.windows {
		delete(c.windows, id)
		c.sem.Release(1)
	}
}
