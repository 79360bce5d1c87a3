package protocol

import "time"

// Category classifies an outbound packet for timeout/retry policy selection.
// Senders tag packets explicitly at enqueue time; the reliability layer
// never inspects payload content.
type Category int

const (
	// CategoryRegular covers ordinary messages (chat, system notices).
	CategoryRegular Category = iota

	// CategoryMove covers player firing moves.
	CategoryMove

	// CategoryTurnTransition covers turn handoff notices, which need a
	// longer settle delay after acknowledgment.
	CategoryTurnTransition

	// CategoryCritical covers game state messages that must survive within
	// the connection's inactivity budget.
	CategoryCritical
)

func (c Category) String() string {
	switch c {
	case CategoryRegular:
		return "regular"
	case CategoryMove:
		return "move"
	case CategoryTurnTransition:
		return "turn-transition"
	case CategoryCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Policy holds the retry parameters for one category.
type Policy struct {
	// Timeout is how long to wait for an acknowledgment before each
	// retransmission.
	Timeout time.Duration

	// PostAckDelay paces the sender after a successful acknowledgment.
	PostAckDelay time.Duration

	// MaxRetries bounds retransmissions after the initial send.
	MaxRetries int
}

// PolicyTable maps categories to their retry policy. Read-only at runtime.
type PolicyTable map[Category]Policy

// DefaultPolicies returns the standard policy table. Critical packets get
// three retries spaced to fit inside the 30 second inactivity budget.
func DefaultPolicies() PolicyTable {
	return PolicyTable{
		CategoryMove:           {Timeout: time.Second, PostAckDelay: 50 * time.Millisecond, MaxRetries: 2},
		CategoryTurnTransition: {Timeout: time.Second, PostAckDelay: 100 * time.Millisecond, MaxRetries: 2},
		CategoryRegular:        {Timeout: 500 * time.Millisecond, PostAckDelay: 50 * time.Millisecond, MaxRetries: 2},
		CategoryCritical:       {Timeout: 10 * time.Second, MaxRetries: 3},
	}
}

// categoryFor derives the effective category for a packet. Type overrides
// come first: game state is always critical and player moves default to the
// move policy. The caller's tag decides everything else.
func categoryFor(typ byte, tagged Category) Category {
	switch typ {
	case PacketGameState:
		return CategoryCritical
	case PacketPlayerMove:
		if tagged == CategoryRegular {
			return CategoryMove
		}
	}
	return tagged
}
