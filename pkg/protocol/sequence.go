package protocol

import "sync"

// SequenceGenerator issues monotonically increasing 8-bit sequence numbers,
// wrapping 255 -> 0. It is safe for concurrent use: the application
// goroutine and the retransmission sweep may both request numbers, and the
// values handed out are strictly sequential modulo 256 across all callers.
type SequenceGenerator struct {
	mu   sync.Mutex
	next uint8
}

// Next returns the current counter value and advances it by one.
func (g *SequenceGenerator) Next() uint8 {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.next
	g.next++ // uint8 arithmetic wraps at 256
	return v
}

// Current returns the next value Next would hand out, without advancing.
// The retention sweep uses it to measure sequence distance.
func (g *SequenceGenerator) Current() uint8 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.next
}
