package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamPair(t *testing.T) (*Stream, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	select {
	case server := <-accepted:
		s := NewStream(client)
		t.Cleanup(func() { s.Close(); server.Close() })
		return s, server
	case <-time.After(2 * time.Second):
		t.Fatal("accept timed out")
		return nil, nil
	}
}

func TestStreamWriteRead(t *testing.T) {
	s, peer := streamPair(t)

	require.NoError(t, s.Write([]byte("ping")))

	buf := make([]byte, 4)
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := peer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	_, err = peer.Write([]byte("pong"))
	require.NoError(t, err)

	require.NoError(t, s.Wait(2*time.Second))
	got := make([]byte, 4)
	require.NoError(t, s.ReadFull(got))
	assert.Equal(t, "pong", string(got))
}

func TestStreamWaitTimeout(t *testing.T) {
	s, _ := streamPair(t)

	start := time.Now()
	err := s.Wait(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

// Wait must not consume the byte it polls for.
func TestStreamWaitPreservesData(t *testing.T) {
	s, peer := streamPair(t)

	_, err := peer.Write([]byte{0x42})
	require.NoError(t, err)

	require.NoError(t, s.Wait(2*time.Second))
	got := make([]byte, 1)
	require.NoError(t, s.ReadFull(got))
	assert.Equal(t, byte(0x42), got[0])
}

func TestStreamClosed(t *testing.T) {
	s, _ := streamPair(t)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Write([]byte("x")), ErrClosed)

	// Close is idempotent.
	assert.NoError(t, s.Close())
}

func TestStreamPeerGone(t *testing.T) {
	s, peer := streamPair(t)
	peer.Close()

	assert.ErrorIs(t, s.Wait(time.Second), ErrClosed)
}
