package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to callers.
var (
	// ErrRetransmitExhausted fires when a packet's retry budget is spent
	// without an acknowledgment.
	ErrRetransmitExhausted = errors.New("retransmission budget exhausted")

	// ErrInactivityTimeout fires after the inactivity window elapses with
	// no traffic on the connection.
	ErrInactivityTimeout = errors.New("connection inactive")

	// ErrConnClosed is returned by operations on a closed connection.
	ErrConnClosed = errors.New("connection closed")

	// ErrInvalidKey is returned when the session key has the wrong size.
	ErrInvalidKey = errors.New("invalid key size")
)

// FramingError reports an undersized frame or a payload length mismatch.
// It is handled locally: the frame is discarded and a retransmission
// request is emitted.
type FramingError struct {
	Reason string
	Got    int
	Want   int
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing: %s (got %d, want %d)", e.Reason, e.Got, e.Want)
}

// ChecksumError reports an integrity check failure. Handled locally, like
// FramingError.
type ChecksumError struct {
	Sequence uint8
	Got      uint16
	Want     uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for packet %d: embedded %d, computed %d", e.Sequence, e.Got, e.Want)
}

// CipherError reports a failed decrypt. Treated identically to a checksum
// failure by the receive path.
type CipherError struct {
	Sequence uint8
	Err      error
}

func (e *CipherError) Error() string {
	return fmt.Sprintf("decrypt failed for packet %d: %v", e.Sequence, e.Err)
}

func (e *CipherError) Unwrap() error { return e.Err }

// DeliveryError wraps a terminal failure for one outbound packet, surfaced
// through the connection's error channel.
type DeliveryError struct {
	Sequence   uint8
	PacketType byte
	Category   Category
	Attempts   int
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed for packet %d (type %d, %s) after %d attempts: %v",
		e.Sequence, e.PacketType, e.Category, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
