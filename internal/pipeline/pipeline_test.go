package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/voicehub/internal/audio"
	"github.com/user/voicehub/internal/prompt"
	"github.com/user/voicehub/internal/store"
	"github.com/user/voicehub/internal/stream"
	"github.com/user/voicehub/internal/types"
	"github.com/user/voicehub/pkg/speech"
)

type seqTranscriber struct {
	mu    sync.Mutex
	calls int
	// errs are returned in order before the final success.
	errs []error
	text string
	conf float64
}

func (s *seqTranscriber) Transcribe(_ context.Context, _ []audio.Frame) (*speech.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return &speech.Transcript{Text: s.text, Confidence: s.conf}, nil
}

func (s *seqTranscriber) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubAnalyzer struct {
	ann *types.Annotation
	err error
}

func (s *stubAnalyzer) Analyze(context.Context, string) (*types.Annotation, error) {
	return s.ann, s.err
}

type stubResponder struct {
	mu      sync.Mutex
	prompts [][]prompt.Message
	text    string
	err     error
}

func (s *stubResponder) Respond(_ context.Context, messages []prompt.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, messages)
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

func (s *stubResponder) lastPrompt() []prompt.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prompts) == 0 {
		return nil
	}
	return s.prompts[len(s.prompts)-1]
}

type stubSynth struct{}

func (stubSynth) Synthesize(_ context.Context, text string) ([]audio.Frame, error) {
	return []audio.Frame{{Data: []byte(text), Timestamp: time.Now()}}, nil
}

func fastRetry() *RetryPolicy {
	return &RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1.0, MaxDelay: time.Millisecond}
}

func startPipeline(t *testing.T, st types.ContextStore, tr speech.Transcriber, an speech.Analyzer, co *stream.Coordinator) *Pipeline {
	t.Helper()
	p := New(st, tr, an, co)
	p.SetRetryPolicy(fastRetry())
	p.Start(context.Background())
	t.Cleanup(p.Stop)
	return p
}

func TestPipelineStoresAnnotatedMessage(t *testing.T) {
	st := store.NewMemoryStore(time.Hour, time.Hour)
	ctx := context.Background()
	threadID, err := st.CreateThread(ctx, types.ThreadAudioSession, types.TTLDefault, nil)
	if err != nil {
		t.Fatal(err)
	}

	p := startPipeline(t, st,
		&seqTranscriber{text: "hello pipeline", conf: 0.93},
		&stubAnalyzer{ann: &types.Annotation{Sentiment: "positive"}},
		nil)

	var got atomic.Pointer[types.Message]
	err = p.HandleUtterance(threadID, nil, WithOnComplete(func(m types.Message) {
		got.Store(&m)
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !p.Queue.WaitIdle(2 * time.Second) {
		t.Fatal("pipeline never went idle")
	}

	msg := got.Load()
	if msg == nil {
		t.Fatal("completion callback never fired")
	}
	if msg.Text != "hello pipeline" || msg.Role != types.RoleUser {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.Annotation == nil || msg.Annotation.Sentiment != "positive" {
		t.Error("expected the analyzer's annotation")
	}

	msgs, _ := st.GetContext(ctx, threadID, 0)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 stored message, got %d", len(msgs))
	}

	// The in-flight utterance left a working memory trace.
	slot := types.NewSlotKey("pipeline", string(threadID))
	val, err := st.GetWorkingMemory(ctx, slot)
	if err != nil || val == nil {
		t.Errorf("expected working memory slot, got %v / %v", val, err)
	}
}

func TestPipelineSkipsLowConfidence(t *testing.T) {
	st := store.NewMemoryStore(time.Hour, time.Hour)
	ctx := context.Background()
	threadID, _ := st.CreateThread(ctx, types.ThreadAudioSession, types.TTLDefault, nil)

	tr := &seqTranscriber{errs: []error{fmt.Errorf("transcribe: %w", types.ErrLowConfidence)}}
	p := startPipeline(t, st, tr, nil, nil)

	var completed atomic.Int32
	p.HandleUtterance(threadID, nil, WithOnComplete(func(types.Message) { completed.Add(1) }))
	if !p.Queue.WaitIdle(2 * time.Second) {
		t.Fatal("pipeline never went idle")
	}

	if n := tr.callCount(); n != 1 {
		t.Errorf("low confidence must not be retried, got %d calls", n)
	}
	if completed.Load() != 0 {
		t.Error("skipped utterance must not complete")
	}
	if msgs, _ := st.GetContext(ctx, threadID, 0); len(msgs) != 0 {
		t.Errorf("skipped utterance must not be stored, got %d", len(msgs))
	}
}

func TestPipelineRetriesUnavailableService(t *testing.T) {
	st := store.NewMemoryStore(time.Hour, time.Hour)
	ctx := context.Background()
	threadID, _ := st.CreateThread(ctx, types.ThreadAudioSession, types.TTLDefault, nil)

	tr := &seqTranscriber{
		errs: []error{
			fmt.Errorf("transcribe: %w", types.ErrServiceUnavailable),
			fmt.Errorf("transcribe: %w", types.ErrServiceUnavailable),
		},
		text: "third time lucky",
		conf: 0.9,
	}
	p := startPipeline(t, st, tr, nil, nil)

	p.HandleUtterance(threadID, nil)
	if !p.Queue.WaitIdle(2 * time.Second) {
		t.Fatal("pipeline never went idle")
	}

	if n := tr.callCount(); n != 3 {
		t.Errorf("expected 3 transcription attempts, got %d", n)
	}
	msgs, _ := st.GetContext(ctx, threadID, 0)
	if len(msgs) != 1 || msgs[0].Text != "third time lucky" {
		t.Errorf("expected the retried transcript stored, got %v", msgs)
	}
}

func TestPipelineDegradesOnAnalyzerFailure(t *testing.T) {
	st := store.NewMemoryStore(time.Hour, time.Hour)
	ctx := context.Background()
	threadID, _ := st.CreateThread(ctx, types.ThreadAudioSession, types.TTLDefault, nil)

	p := startPipeline(t, st,
		&seqTranscriber{text: "still stored", conf: 0.9},
		&stubAnalyzer{err: fmt.Errorf("analyze: %w", types.ErrServiceUnavailable)},
		nil)

	p.HandleUtterance(threadID, nil)
	if !p.Queue.WaitIdle(2 * time.Second) {
		t.Fatal("pipeline never went idle")
	}

	msgs, _ := st.GetContext(ctx, threadID, 0)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 stored message, got %d", len(msgs))
	}
	if msgs[0].Annotation != nil {
		t.Error("analyzer failure should store the message unannotated")
	}
}

func TestPipelineFeedsHighlightCoordinator(t *testing.T) {
	st := store.NewMemoryStore(time.Hour, time.Hour)
	ctx := context.Background()
	threadID, _ := st.CreateThread(ctx, types.ThreadLiveStream, types.TTLDefault, nil)

	co := stream.NewCoordinator(stream.DefaultConfig(), nil)
	streamID := types.StreamID("live-pipe")
	if err := co.StartStream(streamID); err != nil {
		t.Fatal(err)
	}
	defer co.EndStream(streamID)

	p := startPipeline(t, st,
		&seqTranscriber{text: "an amazing moment on stream", conf: 0.95},
		nil, co)

	p.HandleUtterance(threadID, nil, WithStream(streamID))
	if !p.Queue.WaitIdle(2 * time.Second) {
		t.Fatal("pipeline never went idle")
	}

	if n := co.SegmentCount(streamID); n != 1 {
		t.Errorf("expected 1 segment in the stream window, got %d", n)
	}
}

func TestPipelineSpeaksGeneratedReply(t *testing.T) {
	st := store.NewMemoryStore(time.Hour, time.Hour)
	ctx := context.Background()
	threadID, _ := st.CreateThread(ctx, types.ThreadAudioSession, types.TTLDefault, nil)

	co := stream.NewCoordinator(stream.DefaultConfig(), nil)
	streamID := types.StreamID("live-reply")
	if err := co.StartStream(streamID); err != nil {
		t.Fatal(err)
	}
	defer co.EndStream(streamID)

	engine, err := prompt.New("gpt-4", 8000, 1024, 10)
	if err != nil {
		t.Fatal(err)
	}
	responder := &stubResponder{text: "glad you enjoyed it"}
	transport := audio.NewLoopback("reply-line")

	p := startPipeline(t, st,
		&seqTranscriber{text: "that demo was amazing", conf: 0.95},
		nil, co)
	p.EnableReplies(engine, responder, stubSynth{}, transport, func() string {
		return co.Insight(streamID)
	})

	p.HandleUtterance(threadID, nil, WithStream(streamID))
	if !p.Queue.WaitIdle(2 * time.Second) {
		t.Fatal("pipeline never went idle")
	}

	// The reply went out as synthesized audio.
	frames := transport.Delivered()
	if len(frames) != 1 || string(frames[0].Data) != "glad you enjoyed it" {
		t.Fatalf("unexpected delivery: %v", frames)
	}

	// Both sides of the exchange are on the thread.
	msgs, _ := st.GetContext(ctx, threadID, 0)
	if len(msgs) != 2 {
		t.Fatalf("expected user+assistant messages, got %d", len(msgs))
	}
	if msgs[1].Role != types.RoleAssistant || msgs[1].Text != "glad you enjoyed it" {
		t.Errorf("unexpected assistant message: %+v", msgs[1])
	}

	// The prompt carried the stored history plus the stream insight.
	built := responder.lastPrompt()
	if len(built) != 2 || built[0].Role != "system" {
		t.Fatalf("unexpected prompt shape: %+v", built)
	}
	if !strings.Contains(built[0].Content, "amazing") {
		t.Error("stream insight missing from system prompt")
	}
	if built[1].Content != "that demo was amazing" {
		t.Errorf("history missing from prompt: %+v", built[1])
	}
}

func TestPipelineSkipsReplyWhenCreativeDown(t *testing.T) {
	st := store.NewMemoryStore(time.Hour, time.Hour)
	ctx := context.Background()
	threadID, _ := st.CreateThread(ctx, types.ThreadAudioSession, types.TTLDefault, nil)

	engine, err := prompt.New("gpt-4", 8000, 1024, 10)
	if err != nil {
		t.Fatal(err)
	}
	responder := &stubResponder{err: fmt.Errorf("respond: %w", types.ErrServiceUnavailable)}
	transport := audio.NewLoopback("silent-line")

	p := startPipeline(t, st, &seqTranscriber{text: "hello?", conf: 0.9}, nil, nil)
	p.EnableReplies(engine, responder, nil, transport, nil)

	var completed atomic.Int32
	p.HandleUtterance(threadID, nil, WithOnComplete(func(types.Message) { completed.Add(1) }))
	if !p.Queue.WaitIdle(2 * time.Second) {
		t.Fatal("pipeline never went idle")
	}

	// The utterance is stored, the reply is dropped, the job completes.
	msgs, _ := st.GetContext(ctx, threadID, 0)
	if len(msgs) != 1 || msgs[0].Role != types.RoleUser {
		t.Fatalf("expected only the user message, got %+v", msgs)
	}
	if texts := transport.DeliveredTexts(); len(texts) != 0 {
		t.Errorf("nothing should have been delivered, got %v", texts)
	}
	if completed.Load() != 1 {
		t.Error("creative outage must not fail the job")
	}
}

func TestPipelineSurvivesStoreMiss(t *testing.T) {
	st := store.NewMemoryStore(time.Hour, time.Hour)

	p := startPipeline(t, st, &seqTranscriber{text: "orphan", conf: 0.9}, nil, nil)

	// The thread never existed. The append fails inside the pipeline
	// but the job still completes.
	var completed atomic.Int32
	p.HandleUtterance("ghost-thread", nil, WithOnComplete(func(types.Message) { completed.Add(1) }))
	if !p.Queue.WaitIdle(2 * time.Second) {
		t.Fatal("pipeline never went idle")
	}
	if completed.Load() != 1 {
		t.Error("store miss must not fail the job")
	}
}
