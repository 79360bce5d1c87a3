package main

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamewire/pkg/game"
	"gamewire/pkg/protocol"
	"gamewire/pkg/transport"
)

// loopback returns both ends of a TCP connection.
func loopback(t *testing.T) (net.Conn, net.Conn) {
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
		t.Cleanup(func() { client.Close(); server.Close() })
		return client, server
	case <-time.After(2 * time.Second):
		t.Fatal("accept timed out")
		return nil, nil
	}
}

// matchFixture builds a server with two registered players and returns the
// client-side connection for each, bypassing the accept loop.
func matchFixture(t *testing.T) (*Server, []*protocol.Conn) {
	t.Helper()

	key, err := protocol.DeriveKey([]byte("server test secret"))
	require.NoError(t, err)
	opts := protocol.Options{SweepInterval: 5 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := NewServer(ctx, key, opts)
	var clients []*protocol.Conn
	for i := 1; i <= activePlayers; i++ {
		serverSide, clientSide := loopback(t)

		sc, err := protocol.NewConn(ctx, transport.NewStream(serverSide), key, opts)
		require.NoError(t, err)
		cc, err := protocol.NewConn(ctx, transport.NewStream(clientSide), key, opts)
		require.NoError(t, err)
		sc.Start()
		cc.Start()
		t.Cleanup(func() { sc.Close(); cc.Close() })

		s.players = append(s.players, &Peer{ID: uuid.New(), Conn: sc, Player: i})
		clients = append(clients, cc)
	}
	return s, clients
}

// awaitDelivery drains a client connection until a packet of the given type
// containing substr arrives.
func awaitDelivery(t *testing.T, c *protocol.Conn, typ byte, substr string) string {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case d := <-c.Deliveries():
			if d.Type == typ && strings.Contains(string(d.Payload), substr) {
				return string(d.Payload)
			}
		case <-deadline:
			t.Fatalf("no packet of type %d containing %q", typ, substr)
			return ""
		}
	}
}

// A departing player ends the match: the opponent wins by forfeit and the
// match loop returns instead of waiting on the gone player's move.
func TestMatchForfeitOnPlayerDrop(t *testing.T) {
	s, clients := matchFixture(t)
	leaver := s.players[1]

	done := make(chan struct{})
	go func() {
		s.runMatch()
		close(done)
	}()

	awaitDelivery(t, clients[0], protocol.PacketGameState, "GAME START")

	s.drop(leaver)

	awaitDelivery(t, clients[0], protocol.PacketSystemMessage, "Your opponent forfeited. You win!")
	state := awaitDelivery(t, clients[0], protocol.PacketGameState, "GAME OVER")
	assert.Equal(t, "GAME OVER - Player 1 wins by forfeit", state)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("match loop did not stop after the forfeit")
	}
}

// At match start each player receives an owner view of their own fleet.
func TestMatchStartSendsFleetBoards(t *testing.T) {
	s, clients := matchFixture(t)
	p1 := s.players[0]

	go s.runMatch()
	t.Cleanup(func() { s.drop(p1) })

	for _, c := range clients {
		board := awaitDelivery(t, c, protocol.PacketBoardUpdate, "")
		assert.Contains(t, board, string(game.CellShip),
			"fleet board must reveal the player's own ships")
	}
}
