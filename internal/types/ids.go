// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type ThreadID string
type MessageID string
type SessionID string
type StreamID string
type TransportID string
type SlotKey string
type JobID string

func NewThreadID() ThreadID {
	return ThreadID(uuid.New().String())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewStreamID() StreamID {
	return StreamID(uuid.New().String())
}

func NewJobID() JobID {
	return JobID(uuid.New().String())
}

func NewSlotKey(parts ...string) SlotKey {
	return SlotKey(strings.Join(parts, ":"))
}
