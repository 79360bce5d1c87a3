package transport

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// Deadlines for operations that should never wedge the polling loop. A
// frame's remaining bytes follow its first byte almost immediately on any
// healthy stream, so a stalled ReadFull indicates a broken peer.
const (
	readTimeout  = 2 * time.Second
	writeTimeout = 5 * time.Second
)

// Stream adapts a net.Conn to the Transport interface. Reads go through a
// buffered reader so readiness polling can peek without consuming; writes
// are serialized so the application and the retransmission sweep can both
// send.
type Stream struct {
	conn net.Conn
	r    *bufio.Reader

	wmu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to a TCP address and wraps the result. A convenience for
// clients; servers wrap accepted connections with NewStream directly.
func Dial(addr string) (*Stream, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return NewStream(conn), nil
}

// NewStream wraps an established connection.
func NewStream(conn net.Conn) *Stream {
	return &Stream{
		conn:   conn,
		r:      bufio.NewReader(conn),
		closed: make(chan struct{}),
	}
}

// Write sends p in full. Safe for concurrent use.
func (s *Stream) Write(p []byte) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return ErrClosed
	}
	if _, err := s.conn.Write(p); err != nil {
		return s.mapErr(err)
	}
	return nil
}

// Wait blocks until a byte is readable or the bound elapses.
func (s *Stream) Wait(bound time.Duration) error {
	if err := s.conn.SetReadDeadline(time.Now().Add(bound)); err != nil {
		return ErrClosed
	}
	if _, err := s.r.Peek(1); err != nil {
		return s.mapErr(err)
	}
	return nil
}

// ReadFull reads exactly len(p) bytes.
func (s *Stream) ReadFull(p []byte) error {
	if err := s.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return ErrClosed
	}
	if _, err := io.ReadFull(s.r, p); err != nil {
		return s.mapErr(err)
	}
	return nil
}

// Close shuts the stream down. Safe to call multiple times.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

// mapErr normalizes net.Conn errors to the transport taxonomy.
func (s *Stream) mapErr(err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ErrTimeout
	}
	return ErrClosed
}
