package pipeline

import (
	"context"
	"time"

	"github.com/user/voicehub/internal/audio"
	"github.com/user/voicehub/internal/types"
)

// JobStatus represents the lifecycle state of a Job.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "complete"
	JobStatusSkipped  JobStatus = "skipped"
	JobStatusFailed   JobStatus = "failed"
)

// Job tracks one utterance moving through the pipeline: transcription,
// analysis, storage, and optional live-stream scoring.
type Job struct {
	ID       types.JobID
	ThreadID types.ThreadID
	// StreamID routes the transcript into the highlight coordinator
	// when set.
	StreamID  types.StreamID
	Frames    []audio.Frame
	Status    JobStatus
	Attempts  int
	CreatedAt time.Time
	Error     error
	// OnComplete receives the stored message. Not called for skipped
	// utterances.
	OnComplete func(types.Message)

	Ctx context.Context
}

// NewJob creates a Job in the Queued state for the given thread.
func NewJob(threadID types.ThreadID, frames []audio.Frame) *Job {
	return &Job{
		ID:        types.NewJobID(),
		ThreadID:  threadID,
		Frames:    frames,
		Status:    JobStatusQueued,
		CreatedAt: time.Now(),
	}
}
