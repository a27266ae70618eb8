//go:build integration

package test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/user/voicehub/internal/audio"
	"github.com/user/voicehub/internal/pipeline"
	"github.com/user/voicehub/internal/prompt"
	"github.com/user/voicehub/internal/session"
	"github.com/user/voicehub/internal/store"
	"github.com/user/voicehub/internal/stream"
	"github.com/user/voicehub/internal/types"
	"github.com/user/voicehub/pkg/speech"
)

// echoTranscriber is a test double that returns the frame bytes as text.
type echoTranscriber struct {
	conf float64
}

func (e *echoTranscriber) Transcribe(_ context.Context, frames []audio.Frame) (*speech.Transcript, error) {
	var sb strings.Builder
	for _, f := range frames {
		sb.Write(f.Data)
	}
	return &speech.Transcript{Text: sb.String(), Confidence: e.conf}, nil
}

type echoSynth struct{}

func (echoSynth) Synthesize(_ context.Context, text string) ([]audio.Frame, error) {
	return []audio.Frame{{Data: []byte(text), Timestamp: time.Now()}}, nil
}

func speakInto(transport *audio.Loopback, text string) {
	transport.Inject(audio.Frame{Data: []byte(text), Timestamp: time.Now()})
	transport.Inject(audio.Frame{Timestamp: time.Now()})
}

// TestEndToEndConversationLoop drives captured audio through the full
// path: loopback transport, session segmentation, pipeline
// transcription and storage, stream scoring, prompt assembly.
func TestEndToEndConversationLoop(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(time.Hour, time.Hour)

	coordinator := stream.NewCoordinator(stream.DefaultConfig(), nil)
	streamID := types.StreamID("live-e2e")
	if err := coordinator.StartStream(streamID); err != nil {
		t.Fatal(err)
	}
	defer coordinator.EndStream(streamID)

	pipe := pipeline.New(st, &echoTranscriber{conf: 0.95}, nil, coordinator)
	pipe.Start(ctx)
	defer pipe.Stop()

	transport := audio.NewLoopback("e2e-line")
	sess := session.New(transport, session.NewRegistry(), st, &echoTranscriber{conf: 0.95}, echoSynth{}, session.Config{
		SilenceGap:      40 * time.Millisecond,
		ResponseTimeout: time.Second,
	})
	if err := sess.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer sess.Disconnect()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	loopDone := make(chan error, 1)
	go func() {
		loopDone <- sess.StartConversationLoop(loopCtx, func(_ context.Context, frames []audio.Frame, threadID types.ThreadID) {
			if err := pipe.HandleUtterance(threadID, frames, pipeline.WithStream(streamID)); err != nil {
				t.Errorf("utterance dropped: %v", err)
			}
		})
	}()

	speakInto(transport, "hello there")
	speakInto(transport, "this demo is amazing")

	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs, _ := st.GetContext(ctx, sess.ThreadID(), 0)
		if len(msgs) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("utterances never stored, have %d", len(msgs))
		}
		time.Sleep(10 * time.Millisecond)
	}

	msgs, _ := st.GetContext(ctx, sess.ThreadID(), 0)
	if msgs[0].Text != "hello there" || msgs[1].Text != "this demo is amazing" {
		t.Errorf("messages out of order: %q, %q", msgs[0].Text, msgs[1].Text)
	}

	// The excited utterance should surface as a highlight.
	var highlights []types.Highlight
	for h := range coordinator.KeyMoments(streamID) {
		highlights = append(highlights, h)
	}
	if len(highlights) == 0 {
		t.Fatal("expected at least one highlight")
	}
	if !strings.Contains(highlights[0].Segment.Text, "amazing") {
		t.Errorf("unexpected top highlight: %q", highlights[0].Segment.Text)
	}
	clip := coordinator.SuggestClip(streamID, highlights[0])
	if clip.Rationale == "" || clip.End.Before(clip.Start) {
		t.Errorf("bad clip suggestion: %+v", clip)
	}

	// Prompt assembly sees the stored history plus the live insight.
	engine, err := prompt.New("gpt-4", 8000, 1024, 10)
	if err != nil {
		t.Fatal(err)
	}
	thread, err := st.GetThread(ctx, sess.ThreadID())
	if err != nil {
		t.Fatal(err)
	}
	built, err := engine.BuildPrompt(thread, coordinator.Insight(streamID))
	if err != nil {
		t.Fatal(err)
	}
	if len(built) != 3 {
		t.Fatalf("expected system + 2 history messages, got %d", len(built))
	}
	if !strings.Contains(built[0].Content, "amazing") {
		t.Error("insight missing from system prompt")
	}

	cancel()
	select {
	case err := <-loopDone:
		if err != nil {
			t.Fatalf("loop exit: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("conversation loop did not exit")
	}
}

// TestEndToEndSendAndReply exercises the request/response side: text
// out through TTS, reply captured, both stored on the thread.
func TestEndToEndSendAndReply(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(time.Hour, time.Hour)

	transport := audio.NewLoopback("reply-line")
	sess := session.New(transport, session.NewRegistry(), st, &echoTranscriber{conf: 0.9}, echoSynth{}, session.Config{
		SilenceGap:      40 * time.Millisecond,
		ResponseTimeout: time.Second,
	})
	if err := sess.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer sess.Disconnect()

	go func() {
		time.Sleep(30 * time.Millisecond)
		speakInto(transport, "loud and clear")
	}()

	reply, err := sess.SendMessage(ctx, "can you hear me?", session.SendOptions{
		UseTTS:          true,
		WaitForResponse: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Text != "loud and clear" {
		t.Errorf("unexpected reply: %q", reply.Text)
	}

	// The spoken prompt was synthesized and delivered as audio.
	if frames := transport.Delivered(); len(frames) == 0 {
		t.Error("expected synthesized audio delivery")
	}

	msgs, _ := st.GetContext(ctx, sess.ThreadID(), 0)
	if len(msgs) != 2 || msgs[0].Role != types.RoleUser || msgs[1].Role != types.RoleAssistant {
		t.Fatalf("expected stored user+assistant exchange, got %+v", msgs)
	}
}
