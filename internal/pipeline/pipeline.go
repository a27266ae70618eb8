// Package pipeline wires external transcription and analysis results
// into the context store and the stream highlight coordinator. Every
// capability failure is absorbed here: an utterance is skipped or
// stored unannotated, never turned into a session-fatal error.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/user/voicehub/internal/audio"
	"github.com/user/voicehub/internal/prompt"
	"github.com/user/voicehub/internal/stream"
	"github.com/user/voicehub/internal/types"
	"github.com/user/voicehub/pkg/speech"
)

// Pipeline orchestrates utterance jobs: transcribe, annotate, store,
// feed live-stream scoring, and optionally speak a generated reply.
type Pipeline struct {
	store       types.ContextStore
	transcriber speech.Transcriber
	analyzer    speech.Analyzer
	coordinator *stream.Coordinator
	Queue       *Queue
	retry       *RetryPolicy
	logger      *slog.Logger
	replies     *replier

	ctx    context.Context
	cancel context.CancelFunc
}

// replier holds everything the reply step needs: the prompt engine,
// the creative endpoint, and the way back out to the caller.
type replier struct {
	engine    *prompt.Engine
	creative  speech.Responder
	synth     speech.Synthesizer
	transport audio.Transport
	insight   func() string
}

// New creates a Pipeline wired to the given store and capabilities.
// analyzer and coordinator may be nil; the matching steps are skipped.
func New(store types.ContextStore, transcriber speech.Transcriber, analyzer speech.Analyzer, coordinator *stream.Coordinator, maxConcurrent ...int64) *Pipeline {
	var concurrency int64 = 2
	if len(maxConcurrent) > 0 && maxConcurrent[0] > 0 {
		concurrency = maxConcurrent[0]
	}
	p := &Pipeline{
		store:       store,
		transcriber: transcriber,
		analyzer:    analyzer,
		coordinator: coordinator,
		Queue:       NewQueue(concurrency),
		retry:       DefaultRetryPolicy(),
		logger:      slog.Default(),
	}
	p.Queue.SetProcessor(p.process)
	return p
}

// EnableReplies turns on reply generation: after an utterance is
// stored, the pipeline assembles a prompt from the thread, asks the
// creative endpoint, and delivers the answer back over the transport,
// spoken when a synthesizer is available. insight may be nil; when set
// it supplies the live-stream summary injected into the prompt.
func (p *Pipeline) EnableReplies(engine *prompt.Engine, creative speech.Responder, synth speech.Synthesizer, transport audio.Transport, insight func() string) {
	p.replies = &replier{
		engine:    engine,
		creative:  creative,
		synth:     synth,
		transport: transport,
		insight:   insight,
	}
}

// SetRetryPolicy replaces the default capability retry policy.
func (p *Pipeline) SetRetryPolicy(policy *RetryPolicy) {
	p.retry = policy
}

// Start initialises the pipeline's context and starts the queue.
func (p *Pipeline) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.Queue.Start(p.ctx)
}

// Stop cancels the pipeline context and waits for in-flight jobs.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.Queue.Stop()
}

// JobOption configures optional behavior on a Job.
type JobOption func(*Job)

// WithStream routes the job's transcript into the highlight
// coordinator for the given live stream.
func WithStream(id types.StreamID) JobOption {
	return func(j *Job) { j.StreamID = id }
}

// WithOnComplete sets a callback invoked with the stored message.
func WithOnComplete(fn func(types.Message)) JobOption {
	return func(j *Job) { j.OnComplete = fn }
}

// HandleUtterance wraps captured frames in a Job and enqueues it on
// the thread's lane.
func (p *Pipeline) HandleUtterance(threadID types.ThreadID, frames []audio.Frame, opts ...JobOption) error {
	job := NewJob(threadID, frames)
	for _, opt := range opts {
		opt(job)
	}
	return p.Queue.Enqueue(job)
}

// workingMemo is the scratch record describing the utterance currently
// in flight. It expires on its own; nothing cleans it up explicitly.
type workingMemo struct {
	JobID types.JobID `json:"job_id"`
	Text  string      `json:"text"`
	At    time.Time   `json:"at"`
}

func (p *Pipeline) process(job *Job) error {
	ctx := job.Ctx
	job.Status = JobStatusRunning

	var tr *speech.Transcript
	err := p.retry.Execute(func() error {
		job.Attempts++
		var terr error
		tr, terr = p.transcriber.Transcribe(ctx, job.Frames)
		return terr
	})
	if err != nil {
		job.Status = JobStatusSkipped
		job.Error = err
		if errors.Is(err, types.ErrLowConfidence) {
			p.logger.Debug("utterance below confidence floor, skipped",
				"job_id", job.ID, "thread_id", job.ThreadID)
		} else {
			p.logger.Warn("transcription unavailable, utterance skipped",
				"job_id", job.ID, "thread_id", job.ThreadID, "attempts", job.Attempts, "error", err)
		}
		return nil
	}

	// Track the in-flight utterance in working memory. The slot's
	// fixed TTL is the only cleanup.
	memo, _ := json.Marshal(workingMemo{JobID: job.ID, Text: tr.Text, At: time.Now()})
	slot := types.NewSlotKey("pipeline", string(job.ThreadID))
	if err := p.store.SetWorkingMemory(ctx, slot, memo); err != nil {
		p.logger.Warn("working memory write failed", "job_id", job.ID, "error", err)
	}

	var ann *types.Annotation
	if p.analyzer != nil {
		ann, err = p.analyzer.Analyze(ctx, tr.Text)
		if err != nil {
			p.logger.Warn("analysis unavailable, storing unannotated",
				"job_id", job.ID, "thread_id", job.ThreadID, "error", err)
			ann = nil
		}
	}
	if ann == nil && len(tr.Entities) > 0 {
		ann = &types.Annotation{Entities: tr.Entities}
	}

	msg := types.Message{
		ID:         types.NewMessageID(),
		ThreadID:   job.ThreadID,
		Role:       types.RoleUser,
		Text:       tr.Text,
		Annotation: ann,
		At:         time.Now(),
	}
	if err := p.store.AppendMessage(ctx, job.ThreadID, msg); err != nil {
		p.logger.Warn("message not stored, continuing without context",
			"job_id", job.ID, "thread_id", job.ThreadID, "error", err)
	}

	if job.StreamID != "" && p.coordinator != nil {
		p.coordinator.Ingest(job.StreamID, types.Segment{
			Text:       tr.Text,
			Confidence: tr.Confidence,
			At:         msg.At,
		})
	}

	if p.replies != nil {
		p.reply(ctx, job)
	}

	job.Status = JobStatusComplete
	if job.OnComplete != nil {
		job.OnComplete(msg)
	}
	return nil
}

// reply generates and delivers the assistant's answer to the utterance
// just stored. Like every other step, failure degrades: the reply is
// dropped with a log line, the job still completes.
func (p *Pipeline) reply(ctx context.Context, job *Job) {
	thread, err := p.store.GetThread(ctx, job.ThreadID)
	if err != nil {
		p.logger.Warn("thread unavailable, reply skipped",
			"job_id", job.ID, "thread_id", job.ThreadID, "error", err)
		return
	}

	var insight string
	if p.replies.insight != nil {
		insight = p.replies.insight()
	}
	messages, err := p.replies.engine.BuildPrompt(thread, insight)
	if err != nil {
		p.logger.Warn("prompt assembly failed, reply skipped",
			"job_id", job.ID, "thread_id", job.ThreadID, "error", err)
		return
	}

	var text string
	err = p.retry.Execute(func() error {
		var rerr error
		text, rerr = p.replies.creative.Respond(ctx, messages)
		return rerr
	})
	if err != nil {
		p.logger.Warn("creative endpoint unavailable, reply skipped",
			"job_id", job.ID, "thread_id", job.ThreadID, "error", err)
		return
	}

	delivered := false
	if p.replies.synth != nil {
		if frames, err := p.replies.synth.Synthesize(ctx, text); err != nil {
			p.logger.Warn("synthesis failed, falling back to text",
				"job_id", job.ID, "error", err)
		} else if err := p.replies.transport.Deliver(ctx, frames); err == nil {
			delivered = true
		}
	}
	if !delivered {
		if err := p.replies.transport.DeliverText(ctx, text); err != nil {
			p.logger.Warn("reply delivery failed",
				"job_id", job.ID, "thread_id", job.ThreadID, "error", err)
			return
		}
	}

	if err := p.store.AppendMessage(ctx, job.ThreadID, types.Message{
		Role: types.RoleAssistant,
		Text: text,
	}); err != nil {
		p.logger.Warn("reply not stored", "job_id", job.ID, "error", err)
	}
}
