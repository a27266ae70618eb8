// internal/session/session.go
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/voicehub/internal/audio"
	"github.com/user/voicehub/internal/types"
	"github.com/user/voicehub/pkg/speech"
)

// Config carries the per-session timing knobs.
type Config struct {
	ResponseTimeout time.Duration
	IdleTimeout     time.Duration
	SilenceGap      time.Duration
	UtteranceBuffer int
}

// DefaultConfig returns the timings used when a field is zero.
func DefaultConfig() Config {
	return Config{
		ResponseTimeout: 30 * time.Second,
		IdleTimeout:     5 * time.Minute,
		SilenceGap:      700 * time.Millisecond,
		UtteranceBuffer: 16,
	}
}

// SendOptions configures a single SendMessage call.
type SendOptions struct {
	UseTTS          bool
	WaitForResponse bool
	// Timeout bounds the wait for a reply; zero means the session's
	// configured response timeout.
	Timeout time.Duration
}

// Reply is the outcome of a completed SendMessage exchange.
type Reply struct {
	Text          string
	Confidence    float64
	CorrelationID string
}

// UtteranceHandler receives each completed utterance captured during a
// conversation loop, together with the session's thread id.
type UtteranceHandler func(ctx context.Context, frames []audio.Frame, threadID types.ThreadID)

// Session is the state machine owning one live audio conversation.
// Operations on a session are strictly sequential: the op mutex
// serializes Connect, SendMessage, and the conversation loop, so the
// machine is never reentered. Disconnect deliberately bypasses the op
// mutex; it is the guaranteed-safe exit from any state, including
// mid-wait.
type Session struct {
	id          types.SessionID
	target      types.TransportID
	transport   audio.Transport
	registry    *Registry
	store       types.ContextStore
	transcriber speech.Transcriber
	synth       speech.Synthesizer
	cfg         Config

	opMu sync.Mutex

	mu           sync.Mutex
	state        State
	threadID     types.ThreadID
	startedAt    time.Time
	idleDeadline time.Time
	pendingReq   string
	stop         chan struct{}
	utterances   chan []audio.Frame
	pumpDone     chan struct{}
	lateCancel   chan struct{}
	lateDone     chan struct{}
}

// New creates a disconnected session bound to the given transport.
// The synthesizer may be nil; sends then always go out as text.
func New(transport audio.Transport, registry *Registry, store types.ContextStore, transcriber speech.Transcriber, synth speech.Synthesizer, cfg Config) *Session {
	def := DefaultConfig()
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = def.ResponseTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.SilenceGap <= 0 {
		cfg.SilenceGap = def.SilenceGap
	}
	if cfg.UtteranceBuffer <= 0 {
		cfg.UtteranceBuffer = def.UtteranceBuffer
	}
	return &Session{
		id:          types.NewSessionID(),
		target:      transport.ID(),
		transport:   transport,
		registry:    registry,
		store:       store,
		transcriber: transcriber,
		synth:       synth,
		cfg:         cfg,
		state:       StateDisconnected,
	}
}

// ID returns the session identifier.
func (s *Session) ID() types.SessionID { return s.id }

// ThreadID returns the conversation thread backing this session.
func (s *Session) ThreadID() types.ThreadID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect acquires exclusive use of the transport and transitions to
// Connected. Calling Connect while already Connected to the same
// transport is a no-op success. Valid only from Disconnected.
func (s *Session) Connect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	switch s.state {
	case StateConnected:
		// Idempotent reconnect to the same target.
		s.mu.Unlock()
		return nil
	case StateDisconnected:
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("connect from %s: invalid transition", state)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	if err := s.registry.Acquire(s.target, s.id); err != nil {
		s.setState(StateDisconnected)
		return err
	}
	if err := ctx.Err(); err != nil {
		s.registry.Release(s.target, s.id)
		s.setState(StateDisconnected)
		return err
	}

	// Reuse the existing thread when it is still live; an expired
	// thread is never resurrected, a fresh one takes its place.
	if err := s.ensureThread(ctx); err != nil {
		s.registry.Release(s.target, s.id)
		s.setState(StateDisconnected)
		return err
	}

	now := time.Now()
	s.mu.Lock()
	s.stop = make(chan struct{})
	s.utterances = make(chan []audio.Frame, s.cfg.UtteranceBuffer)
	s.pumpDone = make(chan struct{})
	s.startedAt = now
	s.idleDeadline = now.Add(s.cfg.IdleTimeout)
	s.state = StateConnected
	stop, utterances, pumpDone := s.stop, s.utterances, s.pumpDone
	s.mu.Unlock()

	go s.pump(stop, utterances, pumpDone)

	slog.Info("session connected",
		"session_id", string(s.id),
		"transport_id", string(s.target),
		"thread_id", string(s.ThreadID()),
	)
	return nil
}

func (s *Session) ensureThread(ctx context.Context) error {
	s.mu.Lock()
	threadID := s.threadID
	s.mu.Unlock()

	if threadID != "" {
		if _, err := s.store.GetThread(ctx, threadID); err == nil {
			return nil
		}
	}
	id, err := s.store.CreateThread(ctx, types.ThreadAudioSession, types.TTLDefault, nil)
	if err != nil {
		return fmt.Errorf("create session thread: %w", err)
	}
	s.mu.Lock()
	s.threadID = id
	s.mu.Unlock()
	return nil
}

// pump drains the transport's capture stream, groups frames into
// silence-delimited utterances, and feeds the bounded utterance
// channel. It is the only writer to that channel and closes it on exit.
func (s *Session) pump(stop chan struct{}, utterances chan []audio.Frame, done chan struct{}) {
	defer close(done)
	defer close(utterances)

	seg := audio.NewSegmenter(s.cfg.SilenceGap)
	captured := s.transport.Captured()
	ticker := time.NewTicker(s.cfg.SilenceGap / 2)
	defer ticker.Stop()

	emit := func(frames []audio.Frame) {
		select {
		case utterances <- frames:
		default:
			slog.Warn("utterance buffer full, dropping oldest",
				"session_id", string(s.id))
			select {
			case <-utterances:
			default:
			}
			select {
			case utterances <- frames:
			default:
			}
		}
	}

	for {
		select {
		case frame, ok := <-captured:
			if !ok {
				s.transportLost()
				return
			}
			if u, complete := seg.Push(frame); complete {
				emit(u)
			}
		case <-ticker.C:
			if u, complete := seg.FlushIfIdle(time.Now()); complete {
				emit(u)
			}
		case <-stop:
			return
		}
	}
}

// transportLost records an unrecoverable transport failure unless the
// session is already tearing down.
func (s *Session) transportLost() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnecting || s.state == StateDisconnected {
		return
	}
	s.state = StateError
	slog.Error("transport lost", "session_id", string(s.id), "transport_id", string(s.target))
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// fail transitions to Error unless a disconnect is already underway,
// and returns the given error.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	if s.state != StateDisconnecting && s.state != StateDisconnected {
		s.state = StateError
	}
	s.mu.Unlock()
	return err
}

// SendMessage dispatches text over the transport, appends the user
// message, and optionally waits for a transcribed reply. Valid only
// from Connected. A timeout is a non-fatal outcome: the session
// returns to Connected and the caller may retry; if the reply arrives
// late it is still appended for audit but never delivered to the
// timed-out caller.
func (s *Session) SendMessage(ctx context.Context, text string, opts SendOptions) (*Reply, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != StateConnected {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("send from %s: invalid transition", state)
	}
	s.state = StateSending
	s.idleDeadline = time.Now().Add(s.cfg.IdleTimeout)
	stop, utterances := s.stop, s.utterances
	s.mu.Unlock()

	s.cancelLateAudit()

	corr := uuid.New().String()

	delivered := false
	if opts.UseTTS && s.synth != nil {
		frames, err := s.synth.Synthesize(ctx, text)
		if err != nil {
			// Synthesis failure is never fatal; fall back to text.
			slog.Warn("synthesis failed, falling back to text",
				"session_id", string(s.id), "error", err)
		} else if err := s.transport.Deliver(ctx, frames); err != nil {
			return nil, s.fail(fmt.Errorf("%w: deliver audio: %v", types.ErrTransport, err))
		} else {
			delivered = true
		}
	}
	if !delivered {
		if err := s.transport.DeliverText(ctx, text); err != nil {
			return nil, s.fail(fmt.Errorf("%w: deliver text: %v", types.ErrTransport, err))
		}
	}

	if err := s.store.AppendMessage(ctx, s.ThreadID(), types.Message{
		Role: types.RoleUser,
		Text: text,
	}); err != nil {
		// Store trouble degrades to an unrecorded message.
		slog.Warn("append user message", "session_id", string(s.id), "error", err)
	}

	if !opts.WaitForResponse {
		s.setState(StateConnected)
		return &Reply{CorrelationID: corr}, nil
	}

	s.mu.Lock()
	s.state = StateAwaitingResponse
	s.pendingReq = corr
	s.mu.Unlock()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.ResponseTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case frames, ok := <-utterances:
			if !ok {
				s.clearPending()
				return nil, s.fail(fmt.Errorf("%w: capture stream ended", types.ErrTransport))
			}
			reply, err := s.captureReply(ctx, frames, corr, false)
			if err != nil {
				// Unusable transcription: keep waiting for a
				// better utterance until the deadline.
				slog.Debug("discarding unusable reply utterance",
					"session_id", string(s.id), "error", err)
				continue
			}
			s.clearPending()
			s.setState(StateConnected)
			return reply, nil

		case <-timer.C:
			s.clearPending()
			s.setState(StateConnected)
			s.spawnLateAudit(corr, timeout, stop, utterances)
			return nil, types.ErrTimedOut

		case <-ctx.Done():
			// Caller cancellation leaves the machine Connected;
			// the transport itself is fine.
			s.clearPending()
			s.setState(StateConnected)
			return nil, ctx.Err()

		case <-stop:
			s.clearPending()
			return nil, fmt.Errorf("session disconnected while awaiting reply")
		}
	}
}

func (s *Session) clearPending() {
	s.mu.Lock()
	s.pendingReq = ""
	s.mu.Unlock()
}

// captureReply transcribes an utterance and appends it as an assistant
// message. late marks replies that arrived after the caller gave up.
func (s *Session) captureReply(ctx context.Context, frames []audio.Frame, corr string, late bool) (*Reply, error) {
	transcript, err := s.transcriber.Transcribe(ctx, frames)
	if err != nil {
		return nil, err
	}

	msg := types.Message{
		Role: types.RoleAssistant,
		Text: transcript.Text,
	}
	if late || len(transcript.Entities) > 0 {
		msg.Annotation = &types.Annotation{
			Entities: transcript.Entities,
			Late:     late,
		}
	}
	if err := s.store.AppendMessage(ctx, s.ThreadID(), msg); err != nil {
		slog.Warn("append assistant message", "session_id", string(s.id), "error", err)
	}

	return &Reply{
		Text:          transcript.Text,
		Confidence:    transcript.Confidence,
		CorrelationID: corr,
	}, nil
}

// spawnLateAudit waits a bounded window for the reply that missed its
// deadline and appends it, flagged late, for audit. A new operation on
// the session cancels the wait so the utterance stream is never
// contended.
func (s *Session) spawnLateAudit(corr string, window time.Duration, stop chan struct{}, utterances chan []audio.Frame) {
	cancel := make(chan struct{})
	done := make(chan struct{})
	s.mu.Lock()
	s.lateCancel = cancel
	s.lateDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		timer := time.NewTimer(window)
		defer timer.Stop()
		select {
		case frames, ok := <-utterances:
			if !ok {
				return
			}
			ctx, release := context.WithTimeout(context.Background(), 10*time.Second)
			defer release()
			if _, err := s.captureReply(ctx, frames, corr, true); err != nil {
				slog.Debug("late reply unusable", "session_id", string(s.id), "error", err)
				return
			}
			slog.Info("late reply appended for audit",
				"session_id", string(s.id), "correlation_id", corr)
		case <-timer.C:
		case <-cancel:
		case <-stop:
		}
	}()
}

// cancelLateAudit stops a pending late-reply wait and blocks until the
// audit goroutine has exited. Without the join, the audit and the next
// operation would both select on the utterance channel and the audit
// could win the race for an utterance meant for the new operation.
func (s *Session) cancelLateAudit() {
	s.mu.Lock()
	cancel, done := s.lateCancel, s.lateDone
	s.lateCancel, s.lateDone = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		close(cancel)
		<-done
	}
}

// StartConversationLoop consumes captured utterances and invokes the
// handler for each one. Valid only from Connected. Runs until the
// context is cancelled, Disconnect is called, the idle timeout fires
// (ErrTimedOut, retryable), or the transport fails (ErrTransport).
func (s *Session) StartConversationLoop(ctx context.Context, onUtterance UtteranceHandler) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != StateConnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("conversation loop from %s: invalid transition", state)
	}
	stop, utterances, threadID := s.stop, s.utterances, s.threadID
	s.mu.Unlock()

	s.cancelLateAudit()

	for {
		idle := time.NewTimer(s.cfg.IdleTimeout)
		select {
		case frames, ok := <-utterances:
			idle.Stop()
			if !ok {
				return s.fail(fmt.Errorf("%w: capture stream ended", types.ErrTransport))
			}
			onUtterance(ctx, frames, threadID)
			s.mu.Lock()
			s.idleDeadline = time.Now().Add(s.cfg.IdleTimeout)
			s.mu.Unlock()

		case <-idle.C:
			return types.ErrTimedOut

		case <-ctx.Done():
			idle.Stop()
			return nil

		case <-stop:
			idle.Stop()
			return nil
		}
	}
}

// Disconnect tears the session down from any state, releasing the
// transport unconditionally. Idempotent; this is the one exit path
// that must succeed even after an Error transition.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.state = StateDisconnecting
	stop := s.stop
	s.stop = nil
	pumpDone := s.pumpDone
	s.pumpDone = nil
	s.pendingReq = ""
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	s.cancelLateAudit()
	if pumpDone != nil {
		<-pumpDone
	}

	s.registry.Release(s.target, s.id)
	s.setState(StateDisconnected)
	slog.Info("session disconnected", "session_id", string(s.id), "transport_id", string(s.target))
	return nil
}
