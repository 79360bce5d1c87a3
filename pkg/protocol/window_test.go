package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindowFirstPacket(t *testing.T) {
	w := NewReplayWindow()
	assert.Equal(t, ClassNew, w.Observe(5))
	assert.Equal(t, uint8(5), w.Latest())
}

func TestWindowClassification(t *testing.T) {
	w := NewReplayWindow()
	w.Observe(5)

	// Ahead by one: new, window advances.
	assert.Equal(t, ClassNew, w.Observe(6))
	assert.Equal(t, uint8(6), w.Latest())

	// 5 was accepted and is still inside the window: duplicate, re-acked,
	// never redelivered.
	assert.Equal(t, ClassDuplicate, w.Observe(5))

	// 3 was never accepted and sits behind the window's record: stale.
	assert.Equal(t, ClassStale, w.Observe(3))

	// Exact repeat of the latest packet.
	assert.Equal(t, ClassDuplicate, w.Observe(6))
}

func TestWindowWraparound(t *testing.T) {
	w := NewReplayWindow()
	w.Observe(255)

	// diff = (0 - 255) mod 256 = 1: new.
	assert.Equal(t, ClassNew, w.Observe(0))
	assert.Equal(t, uint8(0), w.Latest())

	// 255 remains visible as a duplicate across the wrap.
	assert.Equal(t, ClassDuplicate, w.Observe(255))
}

func TestWindowOutOfOrderWithinSpan(t *testing.T) {
	w := NewReplayWindow()
	w.Observe(10)
	w.Observe(20) // gap: 11..19 never seen

	// Behind the latest but never accepted: stale, dropped.
	assert.Equal(t, ClassStale, w.Observe(15))

	// Both accepted sequences re-classify as duplicates.
	assert.Equal(t, ClassDuplicate, w.Observe(10))
	assert.Equal(t, ClassDuplicate, w.Observe(20))
}

// A jump of WindowSize or more discards all history: the shift would be
// undefined, so the mask resets to just the newest bit.
func TestWindowLargeGapResets(t *testing.T) {
	w := NewReplayWindow()
	w.Observe(0)
	assert.Equal(t, ClassNew, w.Observe(100))

	// 0 fell off the window: no longer recognized as accepted.
	assert.Equal(t, ClassStale, w.Observe(0))
}

func TestWindowStaleBoundary(t *testing.T) {
	w := NewReplayWindow()
	w.Observe(200)

	// diff = 128 is the far-side boundary: behind, stale.
	assert.Equal(t, ClassStale, w.Observe(200-128))

	// diff = (71 - 200) mod 256 = 127 is still ahead: new.
	assert.Equal(t, ClassNew, w.Observe(71))
}

func TestPendingAcks(t *testing.T) {
	w := NewReplayWindow()
	w.AddPending(9)
	w.AddPending(10)
	assert.Equal(t, 2, w.PendingAcks())

	assert.True(t, w.Acknowledge(9))
	assert.Equal(t, 1, w.PendingAcks())

	// Acknowledging an already-removed or unknown sequence is a no-op.
	assert.False(t, w.Acknowledge(9))
	assert.False(t, w.Acknowledge(77))
	assert.Equal(t, 1, w.PendingAcks())
}
