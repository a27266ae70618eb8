// internal/store/memory.go
package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/user/voicehub/internal/types"
)

// MemoryStore is an in-process context store. Each thread is guarded by
// its own mutex; the store-level lock only protects the maps. Expiry is
// checked lazily on every read and write, so correctness never depends
// on the periodic sweep.
type MemoryStore struct {
	defaultTTL time.Duration
	workingTTL time.Duration

	mu      sync.RWMutex
	threads map[types.ThreadID]*threadEntry
	links   []types.ThreadLink
	slots   map[types.SlotKey]slotEntry
}

type threadEntry struct {
	mu        sync.Mutex
	thread    types.ConversationThread
	expiresAt time.Time
	// gone is set under mu when the entry is removed from the map.
	// Holders of a stale pointer must re-check it after locking, or a
	// sweep racing an append would accept the message into an entry
	// nothing can read anymore.
	gone bool
}

type slotEntry struct {
	value     json.RawMessage
	expiresAt time.Time
}

// NewMemoryStore creates a MemoryStore with the given TTLs for the
// default (sliding) and working-memory (fixed) classes.
func NewMemoryStore(defaultTTL, workingTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		defaultTTL: defaultTTL,
		workingTTL: workingTTL,
		threads:    make(map[types.ThreadID]*threadEntry),
		slots:      make(map[types.SlotKey]slotEntry),
	}
}

func (s *MemoryStore) classTTL(class types.TTLClass) time.Duration {
	if class == types.TTLWorkingMemory {
		return s.workingTTL
	}
	return s.defaultTTL
}

// CreateThread creates a new thread. The memory backend is always
// reachable, so this cannot fail.
func (s *MemoryStore) CreateThread(_ context.Context, typ types.ThreadType, class types.TTLClass, seed json.RawMessage) (types.ThreadID, error) {
	if class == "" {
		class = types.TTLDefault
	}
	now := time.Now()
	id := types.NewThreadID()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[id] = &threadEntry{
		thread: types.ConversationThread{
			ID:           id,
			Type:         typ,
			Class:        class,
			Seed:         seed,
			CreatedAt:    now,
			LastActivity: now,
		},
		expiresAt: now.Add(s.classTTL(class)),
	}
	return id, nil
}

// live returns the entry for id, removing it first if it has expired.
// An expired thread is indistinguishable from a nonexistent one.
func (s *MemoryStore) live(id types.ThreadID) *threadEntry {
	s.mu.RLock()
	e, ok := s.threads[id]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	if time.Now().After(e.expiresAt) {
		s.mu.Lock()
		// Re-check under the write lock; another reader may have won.
		if cur, ok := s.threads[id]; ok && time.Now().After(cur.expiresAt) {
			delete(s.threads, id)
			cur.mu.Lock()
			cur.gone = true
			cur.mu.Unlock()
			slog.Debug("thread expired", "thread_id", string(id), "class", string(cur.thread.Class))
		}
		s.mu.Unlock()
		return nil
	}
	return e
}

func (s *MemoryStore) AppendMessage(_ context.Context, id types.ThreadID, msg types.Message) error {
	e := s.live(id)
	if e == nil {
		return types.ErrThreadNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return types.ErrThreadNotFound
	}
	now := time.Now()
	if msg.ID == "" {
		msg.ID = types.NewMessageID()
	}
	msg.ThreadID = id
	if msg.At.IsZero() {
		msg.At = now
	}
	e.thread.Messages = append(e.thread.Messages, msg)
	e.thread.LastActivity = now
	// Sliding expiry for the default class only; working-memory
	// threads keep their fixed deadline from creation.
	if e.thread.Class == types.TTLDefault {
		e.expiresAt = now.Add(s.defaultTTL)
	}
	return nil
}

func (s *MemoryStore) GetContext(_ context.Context, id types.ThreadID, maxMessages int) ([]types.Message, error) {
	e := s.live(id)
	if e == nil {
		// No context is a valid outcome for prompt builders.
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return nil, nil
	}
	msgs := e.thread.Messages
	if maxMessages > 0 && len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	out := make([]types.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) GetThread(_ context.Context, id types.ThreadID) (*types.ConversationThread, error) {
	e := s.live(id)
	if e == nil {
		return nil, types.ErrThreadNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return nil, types.ErrThreadNotFound
	}
	t := e.thread
	t.Messages = make([]types.Message, len(e.thread.Messages))
	copy(t.Messages, e.thread.Messages)
	return &t, nil
}

func (s *MemoryStore) ListThreads(_ context.Context) ([]*types.ConversationThread, error) {
	s.mu.RLock()
	ids := make([]types.ThreadID, 0, len(s.threads))
	for id := range s.threads {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var out []*types.ConversationThread
	for _, id := range ids {
		e := s.live(id)
		if e == nil {
			continue
		}
		e.mu.Lock()
		if e.gone {
			e.mu.Unlock()
			continue
		}
		t := e.thread
		t.Messages = make([]types.Message, len(e.thread.Messages))
		copy(t.Messages, e.thread.Messages)
		e.mu.Unlock()
		out = append(out, &t)
	}
	return out, nil
}

// LinkThreads records a weak association. Neither thread is required to
// exist or stay alive; the link is lookup-only.
func (s *MemoryStore) LinkThreads(_ context.Context, a, b types.ThreadID, relation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links, types.ThreadLink{
		A:         a,
		B:         b,
		Relation:  relation,
		CreatedAt: time.Now(),
	})
	return nil
}

func (s *MemoryStore) LinkedThreads(_ context.Context, id types.ThreadID) ([]types.ThreadLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.ThreadLink
	for _, l := range s.links {
		if l.A == id || l.B == id {
			out = append(out, l)
		}
	}
	return out, nil
}

// SetWorkingMemory stores scratch state under a fixed TTL from now.
// Reads never extend it; expiry is the sole cleanup mechanism.
func (s *MemoryStore) SetWorkingMemory(_ context.Context, key types.SlotKey, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[key] = slotEntry{
		value:     value,
		expiresAt: time.Now().Add(s.workingTTL),
	}
	return nil
}

func (s *MemoryStore) GetWorkingMemory(_ context.Context, key types.SlotKey) (json.RawMessage, error) {
	s.mu.RLock()
	e, ok := s.slots[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if time.Now().After(e.expiresAt) {
		s.mu.Lock()
		if cur, ok := s.slots[key]; ok && time.Now().After(cur.expiresAt) {
			delete(s.slots, key)
		}
		s.mu.Unlock()
		return nil, nil
	}
	return e.value, nil
}

// SweepExpired removes expired threads and slots eagerly. Lazy checks
// keep the store correct without it; this just reclaims memory sooner.
func (s *MemoryStore) SweepExpired(_ context.Context) (int, error) {
	now := time.Now()
	removed := 0

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.threads {
		if now.After(e.expiresAt) {
			delete(s.threads, id)
			e.mu.Lock()
			e.gone = true
			e.mu.Unlock()
			removed++
		}
	}
	for key, e := range s.slots {
		if now.After(e.expiresAt) {
			delete(s.slots, key)
			removed++
		}
	}
	return removed, nil
}
