// internal/types/errors.go
package types

import "errors"

// Error taxonomy. Only ErrTransport is fatal to a session; everything
// else is absorbed at the component boundary and surfaced as a degraded
// result.
var (
	// ErrTransport indicates the audio transport itself failed.
	// Forces the owning session through Error -> Disconnecting.
	ErrTransport = errors.New("transport failure")

	// ErrAlreadyConnected is returned when a session tries to acquire
	// a transport held by a different session.
	ErrAlreadyConnected = errors.New("transport already held by another session")

	// ErrTimedOut is the non-fatal outcome of a blocking wait that
	// exceeded its ceiling. Callers may retry.
	ErrTimedOut = errors.New("timed out")

	// ErrThreadNotFound is returned on writes to a thread that has
	// expired or never existed.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrStoreUnavailable indicates the backing store is unreachable.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrServiceUnavailable indicates an external capability is down.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrLowConfidence means a transcription fell below the configured
	// confidence floor and produced no usable text.
	ErrLowConfidence = errors.New("transcription confidence below floor")
)
