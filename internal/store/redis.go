// internal/store/redis.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/voicehub/internal/types"
)

// RedisStore is a context store backed by Redis, leaning on native key
// expiry for both TTL classes: the default class re-arms its TTL on
// every append, the working-memory class is written once with a fixed
// TTL and never refreshed.
//
// Key layout:
//
//	thread:<type>:<id>  thread JSON, class TTL
//	tidx:<id>           pointer to the thread key, same TTL
//	link:<id>           list of link JSON records
//	wm:<key>            working-memory value, fixed TTL
type RedisStore struct {
	client     *redis.Client
	defaultTTL time.Duration
	workingTTL time.Duration
}

// NewRedisStore connects to Redis at addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr string, db int, defaultTTL, workingTTL time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w: %v", types.ErrStoreUnavailable, err)
	}
	return &RedisStore{
		client:     client,
		defaultTTL: defaultTTL,
		workingTTL: workingTTL,
	}, nil
}

func threadKey(typ types.ThreadType, id types.ThreadID) string {
	return fmt.Sprintf("thread:%s:%s", typ, id)
}

func indexKey(id types.ThreadID) string {
	return "tidx:" + string(id)
}

func linkKey(id types.ThreadID) string {
	return "link:" + string(id)
}

func memoryKey(key types.SlotKey) string {
	return "wm:" + string(key)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %v", op, types.ErrStoreUnavailable, err)
}

func (s *RedisStore) classTTL(class types.TTLClass) time.Duration {
	if class == types.TTLWorkingMemory {
		return s.workingTTL
	}
	return s.defaultTTL
}

func (s *RedisStore) CreateThread(ctx context.Context, typ types.ThreadType, class types.TTLClass, seed json.RawMessage) (types.ThreadID, error) {
	if class == "" {
		class = types.TTLDefault
	}
	now := time.Now()
	id := types.NewThreadID()
	thread := types.ConversationThread{
		ID:           id,
		Type:         typ,
		Class:        class,
		Seed:         seed,
		CreatedAt:    now,
		LastActivity: now,
	}
	data, err := json.Marshal(&thread)
	if err != nil {
		return "", fmt.Errorf("marshal thread: %w", err)
	}

	ttl := s.classTTL(class)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, threadKey(typ, id), data, ttl)
	pipe.Set(ctx, indexKey(id), threadKey(typ, id), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", unavailable("create thread", err)
	}
	return id, nil
}

// lookup resolves a thread id to its key and current JSON. A missing or
// expired thread returns ("", nil, nil).
func (s *RedisStore) lookup(ctx context.Context, id types.ThreadID) (string, *types.ConversationThread, error) {
	key, err := s.client.Get(ctx, indexKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, unavailable("lookup thread", err)
	}
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, unavailable("get thread", err)
	}
	var thread types.ConversationThread
	if err := json.Unmarshal(data, &thread); err != nil {
		return "", nil, fmt.Errorf("unmarshal thread: %w", err)
	}
	return key, &thread, nil
}

func (s *RedisStore) AppendMessage(ctx context.Context, id types.ThreadID, msg types.Message) error {
	key, thread, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	if thread == nil {
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
	thread.Messages = append(thread.Messages, msg)
	thread.LastActivity = now

	data, err := json.Marshal(thread)
	if err != nil {
		return fmt.Errorf("marshal thread: %w", err)
	}

	if thread.Class == types.TTLDefault {
		// Sliding expiry: the write re-arms the TTL on both keys.
		pipe := s.client.TxPipeline()
		pipe.Set(ctx, key, data, s.defaultTTL)
		pipe.Expire(ctx, indexKey(id), s.defaultTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			return unavailable("append message", err)
		}
		return nil
	}
	// Fixed expiry: keep whatever TTL remains from creation.
	if err := s.client.SetArgs(ctx, key, data, redis.SetArgs{KeepTTL: true}).Err(); err != nil {
		return unavailable("append message", err)
	}
	return nil
}

func (s *RedisStore) GetContext(ctx context.Context, id types.ThreadID, maxMessages int) ([]types.Message, error) {
	_, thread, err := s.lookup(ctx, id)
	if err != nil || thread == nil {
		return nil, err
	}
	msgs := thread.Messages
	if maxMessages > 0 && len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	return msgs, nil
}

func (s *RedisStore) GetThread(ctx context.Context, id types.ThreadID) (*types.ConversationThread, error) {
	_, thread, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, types.ErrThreadNotFound
	}
	return thread, nil
}

func (s *RedisStore) ListThreads(ctx context.Context) ([]*types.ConversationThread, error) {
	var out []*types.ConversationThread
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "thread:*", 100).Result()
		if err != nil {
			return nil, unavailable("scan threads", err)
		}
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, unavailable("get thread", err)
			}
			var thread types.ConversationThread
			if err := json.Unmarshal(data, &thread); err != nil {
				continue
			}
			out = append(out, &thread)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func (s *RedisStore) LinkThreads(ctx context.Context, a, b types.ThreadID, relation string) error {
	link := types.ThreadLink{A: a, B: b, Relation: relation, CreatedAt: time.Now()}
	data, err := json.Marshal(&link)
	if err != nil {
		return fmt.Errorf("marshal link: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, linkKey(a), data)
	pipe.RPush(ctx, linkKey(b), data)
	pipe.Expire(ctx, linkKey(a), s.defaultTTL)
	pipe.Expire(ctx, linkKey(b), s.defaultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("link threads", err)
	}
	return nil
}

func (s *RedisStore) LinkedThreads(ctx context.Context, id types.ThreadID) ([]types.ThreadLink, error) {
	items, err := s.client.LRange(ctx, linkKey(id), 0, -1).Result()
	if err != nil {
		return nil, unavailable("linked threads", err)
	}
	var out []types.ThreadLink
	for _, item := range items {
		var link types.ThreadLink
		if err := json.Unmarshal([]byte(item), &link); err != nil {
			continue
		}
		out = append(out, link)
	}
	return out, nil
}

func (s *RedisStore) SetWorkingMemory(ctx context.Context, key types.SlotKey, value json.RawMessage) error {
	if err := s.client.Set(ctx, memoryKey(key), []byte(value), s.workingTTL).Err(); err != nil {
		return unavailable("set working memory", err)
	}
	return nil
}

func (s *RedisStore) GetWorkingMemory(ctx context.Context, key types.SlotKey) (json.RawMessage, error) {
	data, err := s.client.Get(ctx, memoryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get working memory", err)
	}
	return json.RawMessage(data), nil
}

// SweepExpired is a no-op for Redis; native expiry already reclaims keys.
func (s *RedisStore) SweepExpired(context.Context) (int, error) {
	return 0, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// ParseThreadKey splits a thread key into its type and id components.
// Used by operational tooling; returns false for non-thread keys.
func ParseThreadKey(key string) (types.ThreadType, types.ThreadID, bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] != "thread" {
		return "", "", false
	}
	return types.ThreadType(parts[1]), types.ThreadID(parts[2]), true
}
