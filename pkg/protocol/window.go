package protocol

import "sync"

// WindowSize is the span of the sliding seen-bitmask, in sequence numbers.
const WindowSize = 64

// Classification is the replay window's verdict on an inbound sequence.
type Classification int

const (
	// ClassNew means the sequence advances the window and the packet is
	// delivered to the caller.
	ClassNew Classification = iota

	// ClassDuplicate means the packet was already accepted; it is re-acked
	// to quiet the sender but never redelivered.
	ClassDuplicate

	// ClassStale means the sequence is behind the window with no record of
	// acceptance; the packet is dropped silently.
	ClassStale
)

func (c Classification) String() string {
	switch c {
	case ClassNew:
		return "new"
	case ClassDuplicate:
		return "duplicate"
	case ClassStale:
		return "stale"
	default:
		return "unknown"
	}
}

// ReplayWindow tracks which of the last WindowSize sequence numbers from a
// peer have been accepted, defending against replay and ordinary duplicate
// delivery. It also records this side's sequences awaiting acknowledgment.
// Safe for concurrent use.
type ReplayWindow struct {
	mu     sync.Mutex
	primed bool
	latest uint8
	seen   uint64
	acks   map[uint8]struct{}
}

// NewReplayWindow creates an empty window for one peer.
func NewReplayWindow() *ReplayWindow {
	return &ReplayWindow{acks: make(map[uint8]struct{})}
}

// Observe classifies an inbound sequence number and updates window state
// when it is new. Classification uses the 8-bit distance
// diff = (seq - latest) mod 256:
//
//   - diff == 0: exact duplicate of the most recent packet.
//   - 0 < diff < 128: ahead of the window; the bitmask shifts by diff and
//     seq becomes the latest accepted. A gap of WindowSize or more discards
//     all history, so the mask resets to a single set bit.
//   - diff >= 128: behind the window. If the sequence is within the mask's
//     span and its bit is set it was accepted before and is a duplicate;
//     otherwise it is stale and dropped without an ack.
func (w *ReplayWindow) Observe(seq uint8) Classification {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.primed {
		w.primed = true
		w.latest = seq
		w.seen = 1
		return ClassNew
	}

	diff := seq - w.latest // uint8 arithmetic is mod 256
	switch {
	case diff == 0:
		return ClassDuplicate

	case diff < 128:
		if diff >= WindowSize {
			w.seen = 1
		} else {
			w.seen = w.seen<<diff | 1
		}
		w.latest = seq
		return ClassNew

	default:
		back := w.latest - seq
		if back < WindowSize && w.seen&(1<<back) != 0 {
			return ClassDuplicate
		}
		return ClassStale
	}
}

// Latest returns the most recently accepted sequence number.
func (w *ReplayWindow) Latest() uint8 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latest
}

// AddPending records an outbound sequence awaiting acknowledgment.
func (w *ReplayWindow) AddPending(seq uint8) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.acks[seq] = struct{}{}
}

// Acknowledge clears a pending sequence. It reports whether the sequence
// was pending; acknowledging an unknown sequence is a harmless no-op.
func (w *ReplayWindow) Acknowledge(seq uint8) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.acks[seq]
	delete(w.acks, seq)
	return ok
}

// PendingAcks returns the number of outbound sequences still unacknowledged.
func (w *ReplayWindow) PendingAcks() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.acks)
}
