// Package transport abstracts the byte-stream channel underneath the
// protocol layer. The protocol core does not establish connections; callers
// supply an established duplex stream and the package wraps it with the
// readiness polling and bounded reads the polling loop needs.
package transport

import (
	"errors"
	"time"
)

// Errors returned by transport operations.
var (
	// ErrTimeout means no data became readable within the wait bound.
	// It is the normal outcome of a readiness poll, not a fault.
	ErrTimeout = errors.New("transport timeout")

	// ErrClosed means the stream is permanently closed.
	ErrClosed = errors.New("transport closed")
)

// Transport is a byte-oriented duplex channel with readiness polling.
// Implementations must allow concurrent writers; Wait and ReadFull are
// called only from the connection's polling loop.
type Transport interface {
	// Write transmits the given bytes in full.
	Write(p []byte) error

	// Wait blocks until at least one byte is readable or the wait bound
	// elapses. Returns nil when readable, ErrTimeout on the bound, and
	// ErrClosed when the stream ended.
	Wait(bound time.Duration) error

	// ReadFull reads exactly len(p) bytes into p.
	ReadFull(p []byte) error

	// Close permanently shuts the stream down.
	Close() error
}
