// internal/types/interfaces.go
package types

import (
	"context"
	"encoding/json"
)

// ContextStore is the hierarchical, TTL-governed conversation store.
// Expiry is checked lazily on every read and write; a read of an
// expired thread behaves exactly like a read of a nonexistent one.
type ContextStore interface {
	// CreateThread creates a new thread of the given type and TTL
	// class. Fails only when the backing store is unreachable.
	CreateThread(ctx context.Context, typ ThreadType, class TTLClass, seed json.RawMessage) (ThreadID, error)

	// AppendMessage appends an immutable message, refreshes the
	// thread's last-activity timestamp, and re-arms the TTL countdown
	// for default-class threads. Returns ErrThreadNotFound for an
	// expired or unknown thread.
	AppendMessage(ctx context.Context, id ThreadID, msg Message) error

	// GetContext returns the most recent maxMessages messages in
	// chronological order. An unknown or expired thread yields an
	// empty result, not an error.
	GetContext(ctx context.Context, id ThreadID, maxMessages int) ([]Message, error)

	// GetThread returns the full thread, or ErrThreadNotFound.
	GetThread(ctx context.Context, id ThreadID) (*ConversationThread, error)

	// ListThreads returns all live (unexpired) threads.
	ListThreads(ctx context.Context) ([]*ConversationThread, error)

	// LinkThreads records a weak association between two threads.
	// Neither thread's lifecycle is affected.
	LinkThreads(ctx context.Context, a, b ThreadID, relation string) error

	// LinkedThreads returns the associations involving the thread.
	LinkedThreads(ctx context.Context, id ThreadID) ([]ThreadLink, error)

	// SetWorkingMemory stores scratch state under a fixed,
	// non-sliding TTL measured from this call.
	SetWorkingMemory(ctx context.Context, key SlotKey, value json.RawMessage) error

	// GetWorkingMemory returns the stored value, or nil if the slot
	// is absent or expired.
	GetWorkingMemory(ctx context.Context, key SlotKey) (json.RawMessage, error)
}
