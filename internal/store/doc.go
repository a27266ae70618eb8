// Package store provides the TTL-governed conversation context store.
package store

import "github.com/user/voicehub/internal/types"

// Compile-time interface compliance checks.
var _ types.ContextStore = (*MemoryStore)(nil)
var _ types.ContextStore = (*RedisStore)(nil)
