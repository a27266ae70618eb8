// internal/session/registry.go
package session

import (
	"sync"

	"github.com/user/voicehub/internal/types"
)

// Registry maps transport id to the session that owns it. The audio
// transport is a singleton resource: at most one connected session may
// hold it at a time.
type Registry struct {
	mu     sync.Mutex
	owners map[types.TransportID]types.SessionID
}

// NewRegistry creates an empty transport registry.
func NewRegistry() *Registry {
	return &Registry{
		owners: make(map[types.TransportID]types.SessionID),
	}
}

// Acquire claims the transport for the session. Re-acquiring a
// transport the session already owns is a no-op; a transport held by
// another session returns ErrAlreadyConnected.
func (r *Registry) Acquire(transport types.TransportID, session types.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, held := r.owners[transport]
	if held && owner != session {
		return types.ErrAlreadyConnected
	}
	r.owners[transport] = session
	return nil
}

// Release frees the transport if the session owns it. Releasing a
// transport held by someone else (or by nobody) is a no-op, so error
// paths can always call it safely.
func (r *Registry) Release(transport types.TransportID, session types.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owners[transport] == session {
		delete(r.owners, transport)
	}
}

// Owner returns the session currently holding the transport.
func (r *Registry) Owner(transport types.TransportID) (types.SessionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, held := r.owners[transport]
	return owner, held
}
