package protocol

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"gamewire/pkg/transport"
)

// Default engine parameters.
const (
	// DefaultSweepInterval bounds the polling loop: it never blocks longer
	// than this without re-checking retransmission deadlines.
	DefaultSweepInterval = 50 * time.Millisecond

	// DefaultInactivityTimeout is the silence budget after which the
	// connection is declared unhealthy.
	DefaultInactivityTimeout = 30 * time.Second

	// DefaultDeliveryBuffer is the capacity of the delivery channel.
	DefaultDeliveryBuffer = 64
)

// Delivery is one accepted inbound message handed to the caller. Payload is
// plaintext; deliveries for a given peer arrive in non-decreasing sequence
// order with duplicates suppressed.
type Delivery struct {
	Type     byte
	Sequence uint8
	Payload  []byte
}

// Options tunes a connection. The zero value selects defaults.
type Options struct {
	SweepInterval     time.Duration
	InactivityTimeout time.Duration
	Policies          PolicyTable
	DeliveryBuffer    int
}

func (o *Options) withDefaults() {
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.InactivityTimeout <= 0 {
		o.InactivityTimeout = DefaultInactivityTimeout
	}
	if o.Policies == nil {
		o.Policies = DefaultPolicies()
	}
	if o.DeliveryBuffer <= 0 {
		o.DeliveryBuffer = DefaultDeliveryBuffer
	}
}

// pendingSend is the retry bookkeeping for one unacknowledged packet. The
// frame is kept verbatim so retransmissions reuse the same sequence number
// and ciphertext.
type pendingSend struct {
	frame      []byte
	packetType byte
	category   Category
	retries    int
	deadline   time.Time
}

// Conn is the reliability engine for one peer connection. It owns the
// sequence counter, the store of unacknowledged sent packets, and the
// peer's replay window; nothing is shared across connections.
//
// Sends may originate from any goroutine. A single polling loop multiplexes
// transport readability with the sweep interval, so timeouts are re-checked
// at least that often. Corrupt frames are handled locally (discard, request
// retransmission); only terminal failures reach the Errors channel.
type Conn struct {
	tr       transport.Transport
	cipher   *Cipher
	seq      *SequenceGenerator
	window   *ReplayWindow
	opts     Options
	policies PolicyTable

	mu          sync.Mutex
	pending     map[uint8]*pendingSend
	paceUntil   time.Time
	lastTraffic time.Time

	deliveries chan Delivery
	errs       chan error

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConn creates a connection over an established transport with a 32-byte
// pre-shared key (see DeriveKey). Start must be called before use.
func NewConn(parentCtx context.Context, tr transport.Transport, key []byte, opts Options) (*Conn, error) {
	cipher, err := NewCipher(key)
	if err != nil {
		return nil, err
	}

	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	opts.withDefaults()
	return &Conn{
		tr:          tr,
		cipher:      cipher,
		seq:         &SequenceGenerator{},
		window:      NewReplayWindow(),
		opts:        opts,
		policies:    opts.Policies,
		pending:     make(map[uint8]*pendingSend),
		lastTraffic: time.Now(),
		deliveries:  make(chan Delivery, opts.DeliveryBuffer),
		errs:        make(chan error, 8),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start launches the polling loop.
func (c *Conn) Start() {
	go c.pollLoop()
}

// Deliveries returns the channel of accepted inbound messages. The caller
// must drain it; a full buffer stalls the polling loop.
func (c *Conn) Deliveries() <-chan Delivery { return c.deliveries }

// Errors returns the channel of terminal failure signals: DeliveryError
// wrapping ErrRetransmitExhausted, ErrInactivityTimeout, or ErrConnClosed.
func (c *Conn) Errors() <-chan error { return c.errs }

// Done is closed when the connection has stopped.
func (c *Conn) Done() <-chan struct{} { return c.ctx.Done() }

// Send transmits a message with the default category for its type.
func (c *Conn) Send(typ byte, payload []byte) error {
	return c.SendTagged(typ, payload, CategoryRegular)
}

// SendText transmits a text message, canonicalized to UTF-8 bytes.
func (c *Conn) SendText(typ byte, text string) error {
	return c.SendTagged(typ, []byte(text), CategoryRegular)
}

// SendTagged transmits a message with an explicit category tag. Game state
// packets are always critical and player moves default to the move policy
// regardless of the tag.
func (c *Conn) SendTagged(typ byte, payload []byte, tag Category) error {
	if c.ctx.Err() != nil {
		return ErrConnClosed
	}

	cat := categoryFor(typ, tag)
	c.pace()

	seq := c.seq.Next()
	frame, err := Pack(typ, seq, c.cipher.Encrypt(seq, payload))
	if err != nil {
		return err
	}

	if err := c.tr.Write(frame); err != nil {
		return ErrConnClosed
	}

	now := time.Now()
	pol := c.policies[cat]
	c.mu.Lock()
	c.pending[seq] = &pendingSend{
		frame:      frame,
		packetType: typ,
		category:   cat,
		deadline:   now.Add(pol.Timeout),
	}
	c.lastTraffic = now
	c.mu.Unlock()
	c.window.AddPending(seq)

	log.Debug().Uint8("seq", seq).Int("type", int(typ)).Stringer("category", cat).Msg("Packet sent")
	return nil
}

// Close stops the polling loop, closes the transport, and discards pending
// store and window state. In-flight retransmissions are abandoned. Safe to
// call multiple times.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.tr.Close()
		c.mu.Lock()
		c.pending = make(map[uint8]*pendingSend)
		c.mu.Unlock()
	})
	return nil
}

// pace waits out any post-ack delay before the next send.
func (c *Conn) pace() {
	c.mu.Lock()
	until := c.paceUntil
	c.mu.Unlock()

	if d := time.Until(until); d > 0 {
		select {
		case <-time.After(d):
		case <-c.ctx.Done():
		}
	}
}

// pollLoop multiplexes transport readability with timeout sweeps. It is the
// only reader of the transport.
func (c *Conn) pollLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		err := c.tr.Wait(c.opts.SweepInterval)
		switch {
		case err == nil:
			if !c.readPacket() {
				c.fail(ErrConnClosed)
				return
			}
		case errors.Is(err, transport.ErrTimeout):
			// Nothing readable within the sweep bound.
		default:
			c.fail(ErrConnClosed)
			return
		}

		if !c.sweep(time.Now()) {
			return
		}
	}
}

// readPacket reads one frame and dispatches it. Returns false only when the
// transport is gone; corrupt frames are consumed and handled locally.
func (c *Conn) readPacket() bool {
	header := make([]byte, HeaderSize)
	if err := c.tr.ReadFull(header); err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			// Half a header and then silence: the stream is desynced
			// beyond local recovery.
			log.Warn().Msg("Truncated header, requesting retransmission")
			c.requestRetransmit(c.window.Latest() + 1)
			return true
		}
		return false
	}

	frame := header
	if length := binary.BigEndian.Uint16(header[4:6]); length > 0 {
		frame = append(frame, make([]byte, length)...)
		if err := c.tr.ReadFull(frame[HeaderSize:]); err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				log.Warn().Uint8("seq", header[1]).Msg("Truncated payload, requesting retransmission")
				c.requestRetransmit(header[1])
				return true
			}
			return false
		}
	}

	pkt, err := Unpack(frame)
	if err != nil {
		// The header is intact, so the corrupted packet's sequence is known.
		log.Warn().Err(err).Uint8("seq", header[1]).Time("at", time.Now()).Msg("Discarding corrupt packet")
		c.requestRetransmit(header[1])
		return true
	}

	c.touch()
	c.dispatch(pkt)
	return true
}

// dispatch routes a verified packet.
func (c *Conn) dispatch(pkt *Packet) {
	switch pkt.Type {
	case PacketAck:
		c.onAck(pkt.Sequence)
	case PacketRetransmission:
		c.onRetransmitRequest(pkt.Sequence)
	default:
		c.onData(pkt)
	}
}

// onAck settles a pending packet. Duplicate acks for already-removed
// sequences are no-ops.
func (c *Conn) onAck(seq uint8) {
	c.window.Acknowledge(seq)

	c.mu.Lock()
	p, ok := c.pending[seq]
	if ok {
		delete(c.pending, seq)
		if delay := c.policies[p.category].PostAckDelay; delay > 0 {
			c.paceUntil = time.Now().Add(delay)
		}
	}
	c.mu.Unlock()

	if ok {
		log.Debug().Uint8("seq", seq).Int("retries", p.retries).Msg("Packet acknowledged")
	}
}

// onRetransmitRequest re-sends the recorded frame immediately if the store
// still holds the sequence; otherwise the packet is too old and the request
// is ignored.
func (c *Conn) onRetransmitRequest(seq uint8) {
	c.mu.Lock()
	p, ok := c.pending[seq]
	var frame []byte
	if ok {
		frame = p.frame
		p.deadline = time.Now().Add(c.policies[p.category].Timeout)
	}
	c.mu.Unlock()

	if !ok {
		log.Debug().Uint8("seq", seq).Msg("Retransmission requested for untracked packet")
		return
	}
	if err := c.tr.Write(frame); err == nil {
		c.touch()
	}
}

// onData decrypts, classifies, and delivers an inbound data packet.
func (c *Conn) onData(pkt *Packet) {
	plaintext, err := c.cipher.Decrypt(pkt.Sequence, pkt.Payload)
	if err != nil {
		log.Warn().Err(err).Uint8("seq", pkt.Sequence).Time("at", time.Now()).Msg("Discarding undecryptable packet")
		c.requestRetransmit(pkt.Sequence)
		return
	}

	switch class := c.window.Observe(pkt.Sequence); class {
	case ClassNew:
		c.sendAck(pkt.Sequence)
		select {
		case c.deliveries <- Delivery{Type: pkt.Type, Sequence: pkt.Sequence, Payload: plaintext}:
		case <-c.ctx.Done():
		}

	case ClassDuplicate:
		// Re-ack without redelivery to quiet the sender.
		log.Debug().Uint8("seq", pkt.Sequence).Stringer("class", class).Msg("Suppressing repeat packet")
		c.sendAck(pkt.Sequence)

	case ClassStale:
		log.Debug().Uint8("seq", pkt.Sequence).Stringer("class", class).Msg("Dropping stale packet")
	}
}

// sweep retransmits overdue packets, purges entries outside the retention
// window, and checks the inactivity budget. Returns false when the sweep
// killed the connection.
func (c *Conn) sweep(now time.Time) bool {
	var resend [][]byte
	var failed []*DeliveryError

	c.mu.Lock()
	for seq, p := range c.pending {
		if now.Before(p.deadline) {
			continue
		}
		pol := c.policies[p.category]
		if p.retries >= pol.MaxRetries {
			delete(c.pending, seq)
			failed = append(failed, &DeliveryError{
				Sequence:   seq,
				PacketType: p.packetType,
				Category:   p.category,
				Attempts:   p.retries + 1,
				Err:        ErrRetransmitExhausted,
			})
			continue
		}
		p.retries++
		p.deadline = now.Add(pol.Timeout)
		resend = append(resend, p.frame)
	}

	// Retention: entries older than the replay window cannot be usefully
	// retransmitted, acked or not.
	current := c.seq.Current()
	var purged []uint8
	for seq := range c.pending {
		if current-seq > WindowSize {
			delete(c.pending, seq)
			purged = append(purged, seq)
		}
	}

	inactive := now.Sub(c.lastTraffic) > c.opts.InactivityTimeout
	c.mu.Unlock()

	for _, seq := range purged {
		c.window.Acknowledge(seq)
		log.Debug().Uint8("seq", seq).Msg("Purged packet outside retention window")
	}

	for _, frame := range resend {
		if err := c.tr.Write(frame); err != nil {
			c.fail(ErrConnClosed)
			return false
		}
		c.touch()
		log.Debug().Uint8("seq", frame[1]).Msg("Retransmitted packet")
	}

	for _, f := range failed {
		c.window.Acknowledge(f.Sequence)
		log.Warn().Uint8("seq", f.Sequence).Int("attempts", f.Attempts).Stringer("category", f.Category).
			Msg("Delivery failed, retries exhausted")
		c.emitErr(f)
	}

	if inactive {
		c.fail(ErrInactivityTimeout)
		return false
	}
	return true
}

// sendAck acknowledges the peer's sequence number. Acks echo the inbound
// sequence and are never tracked for retry.
func (c *Conn) sendAck(seq uint8) {
	frame, err := Pack(PacketAck, seq, nil)
	if err != nil {
		return
	}
	if err := c.tr.Write(frame); err == nil {
		c.touch()
	}
}

// requestRetransmit asks the peer to re-send the given sequence.
func (c *Conn) requestRetransmit(seq uint8) {
	frame, err := Pack(PacketRetransmission, seq, nil)
	if err != nil {
		return
	}
	if err := c.tr.Write(frame); err == nil {
		c.touch()
	}
}

// touch records traffic for the inactivity watchdog.
func (c *Conn) touch() {
	c.mu.Lock()
	c.lastTraffic = time.Now()
	c.mu.Unlock()
}

// fail surfaces a terminal error and shuts the connection down.
func (c *Conn) fail(err error) {
	c.emitErr(err)
	c.Close()
}

// emitErr pushes to the error channel without ever blocking the loop.
func (c *Conn) emitErr(err error) {
	select {
	case c.errs <- err:
	default:
		log.Warn().Err(err).Msg("Error channel full, dropping signal")
	}
}
