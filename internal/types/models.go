// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// ThreadType identifies the interaction context a thread belongs to.
type ThreadType string

const (
	ThreadDirectMessage ThreadType = "direct_message"
	ThreadMention       ThreadType = "mention"
	ThreadLiveStream    ThreadType = "live_stream"
	ThreadAudioSession  ThreadType = "audio_session"
)

// TTLClass controls how a thread's expiry timer behaves. Default-class
// threads slide their expiry forward on every append; working-memory
// threads expire at a fixed point measured from creation.
type TTLClass string

const (
	TTLDefault       TTLClass = "default"
	TTLWorkingMemory TTLClass = "working_memory"
)

// Role is the author of a message within a thread.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Annotation carries advisory analysis results attached to a message.
// All fields are optional; an unannotated message is always valid.
type Annotation struct {
	Sentiment string   `json:"sentiment,omitempty"`
	Priority  string   `json:"priority,omitempty"`
	Entities  []string `json:"entities,omitempty"`
	// Late marks an assistant reply that arrived after the waiting
	// caller had already timed out. Kept for audit.
	Late bool `json:"late,omitempty"`
}

// Message is one immutable entry in a conversation thread.
type Message struct {
	ID         MessageID   `json:"id"`
	ThreadID   ThreadID    `json:"thread_id"`
	Role       Role        `json:"role"`
	Text       string      `json:"text"`
	Annotation *Annotation `json:"annotation,omitempty"`
	At         time.Time   `json:"at"`
}

// ConversationThread is an ordered conversation history. Owned by the
// context store; other components hold only its ID.
type ConversationThread struct {
	ID           ThreadID        `json:"id"`
	Type         ThreadType      `json:"type"`
	Class        TTLClass        `json:"class"`
	Messages     []Message       `json:"messages"`
	Seed         json.RawMessage `json:"seed,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	LastActivity time.Time       `json:"last_activity"`
}

// ThreadLink is a weak cross-platform association between two threads.
// It never couples their lifecycles.
type ThreadLink struct {
	A         ThreadID  `json:"a"`
	B         ThreadID  `json:"b"`
	Relation  string    `json:"relation"`
	CreatedAt time.Time `json:"created_at"`
}

// Segment is one transcript fragment from a live stream feed.
type Segment struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`
}

// Highlight is a scored, notable transcript segment.
type Highlight struct {
	Segment Segment `json:"segment"`
	Score   float64 `json:"score"`
	Kind    string  `json:"kind"`
}

// ClipSuggestion proposes a bounded time range around a highlight.
type ClipSuggestion struct {
	Highlight Highlight `json:"highlight"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Rationale string    `json:"rationale"`
}
