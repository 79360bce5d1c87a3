// Package main implements the battleship game server. It hosts two active
// players plus any number of observers, with one protocol connection per
// peer; game rules live in pkg/game and wire behavior in pkg/protocol.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gamewire/pkg/config"
	"gamewire/pkg/game"
	"gamewire/pkg/protocol"
	"gamewire/pkg/transport"
)

// Exit codes.
const (
	Success        = 0
	ErrBadConfig   = 1
	ErrListenError = 2
)

const activePlayers = 2

// Peer is one connected participant.
type Peer struct {
	ID     uuid.UUID
	Conn   *protocol.Conn
	Player int // 1-based for players, 0 for observers
}

// Server accepts peers and runs one match at a time.
type Server struct {
	listener net.Listener
	key      []byte
	opts     protocol.Options

	mu        sync.Mutex
	players   []*Peer
	observers []*Peer

	moves chan move
	drops chan int
	ctx   context.Context
}

type move struct {
	player int
	coord  string
}

// NewServer creates a server from the session key and engine options.
func NewServer(ctx context.Context, key []byte, opts protocol.Options) *Server {
	return &Server{
		key:   key,
		opts:  opts,
		moves: make(chan move, 8),
		drops: make(chan int, activePlayers),
		ctx:   ctx,
	}
}

// Listen binds the listen address and starts accepting peers.
func (s *Server) Listen(addr string) error {
	var err error
	s.listener, err = net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	log.Info().Str("addr", addr).Msg("Server listening")
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() == nil {
				log.Error().Err(err).Msg("Accept failed")
			}
			return
		}
		go s.admit(netConn)
	}
}

// admit wires a raw connection into the protocol layer and registers the
// peer as a player or observer.
func (s *Server) admit(netConn net.Conn) {
	conn, err := protocol.NewConn(s.ctx, transport.NewStream(netConn), s.key, s.opts)
	if err != nil {
		log.Error().Err(err).Msg("Peer setup failed")
		netConn.Close()
		return
	}
	conn.Start()

	peer := &Peer{ID: uuid.New(), Conn: conn}

	s.mu.Lock()
	if len(s.players) < activePlayers {
		peer.Player = len(s.players) + 1
		s.players = append(s.players, peer)
	} else {
		s.observers = append(s.observers, peer)
	}
	ready := len(s.players) == activePlayers
	player := peer.Player
	s.mu.Unlock()

	log.Info().Stringer("peer", peer.ID).Str("addr", netConn.RemoteAddr().String()).
		Int("player", player).Msg("Peer connected")

	if player > 0 {
		conn.SendText(protocol.PacketSystemMessage, fmt.Sprintf("You are Player %d.", player))
		if !ready {
			conn.SendText(protocol.PacketSystemMessage, "Waiting for Player 2 to connect...")
		}
	} else {
		conn.SendText(protocol.PacketSystemMessage, "You are an observer - you can only watch the game.")
	}

	go s.pump(peer)

	if ready && player == activePlayers {
		go s.runMatch()
	}
}

// pump routes one peer's deliveries: moves go to the match loop, chat is
// relayed, everything else is ignored. It also watches the error channel.
func (s *Server) pump(peer *Peer) {
	for {
		select {
		case d := <-peer.Conn.Deliveries():
			switch d.Type {
			case protocol.PacketPlayerMove:
				if peer.Player > 0 {
					select {
					case s.moves <- move{player: peer.Player, coord: string(d.Payload)}:
					default:
						log.Warn().Int("player", peer.Player).Msg("Move dropped, match not ready")
					}
				}
			case protocol.PacketChatMessage:
				s.relayChat(peer, string(d.Payload))
			default:
				log.Debug().Int("type", int(d.Type)).Uint8("seq", d.Sequence).Msg("Unexpected packet from peer")
			}

		case err := <-peer.Conn.Errors():
			log.Warn().Err(err).Stringer("peer", peer.ID).Msg("Peer connection unhealthy")
			s.drop(peer)
			return

		case <-peer.Conn.Done():
			s.drop(peer)
			return

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) relayChat(from *Peer, text string) {
	label := "Observer"
	if from.Player > 0 {
		label = fmt.Sprintf("Player %d", from.Player)
	}
	s.broadcastExcept(from, protocol.PacketChatMessage, fmt.Sprintf("[%s] %s", label, text), protocol.CategoryRegular)
}

func (s *Server) drop(peer *Peer) {
	peer.Conn.Close()
	s.mu.Lock()
	for i, p := range s.players {
		if p == peer {
			s.players = append(s.players[:i], s.players[i+1:]...)
			break
		}
	}
	for i, p := range s.observers {
		if p == peer {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	log.Info().Stringer("peer", peer.ID).Msg("Peer disconnected")

	// A departing player forfeits any running match.
	if peer.Player > 0 {
		select {
		case s.drops <- peer.Player:
		default:
		}
	}
}

// peersSnapshot returns players and the full audience under one lock.
func (s *Server) peersSnapshot() (players []*Peer, everyone []*Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	players = append(players, s.players...)
	everyone = append(everyone, s.players...)
	everyone = append(everyone, s.observers...)
	return players, everyone
}

func (s *Server) broadcastExcept(skip *Peer, typ byte, text string, cat protocol.Category) {
	_, everyone := s.peersSnapshot()
	for _, p := range everyone {
		if p == skip {
			continue
		}
		if err := p.Conn.SendTagged(typ, []byte(text), cat); err != nil {
			log.Warn().Err(err).Stringer("peer", p.ID).Msg("Broadcast send failed")
		}
	}
}

func (s *Server) broadcast(typ byte, text string, cat protocol.Category) {
	s.broadcastExcept(nil, typ, text, cat)
}

// runMatch drives one game between the two registered players.
func (s *Server) runMatch() {
	players, _ := s.peersSnapshot()
	if len(players) < activePlayers {
		return
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	// boards[i] belongs to player i+1 and is fired at by the other player.
	boards := make([]*game.Board, activePlayers)
	for i := range boards {
		boards[i] = game.NewBoard(game.BoardSize)
		boards[i].PlaceFleetRandomly(rng, game.Fleet)
	}

	log.Info().Msg("Match starting")
	s.broadcast(protocol.PacketGameState, "GAME START", protocol.CategoryCritical)

	// Each player sees their own fleet before the first shot.
	for _, p := range players {
		if p.Player > 0 {
			p.Conn.SendText(protocol.PacketSystemMessage, "Your fleet:")
			p.Conn.Send(protocol.PacketBoardUpdate, []byte(boards[p.Player-1].Render(true)))
		}
	}

	current := 1
	for {
		s.promptTurn(players, current)

		var m move
		select {
		case m = <-s.moves:
		case gone := <-s.drops:
			s.forfeit(gone)
			return
		case <-s.ctx.Done():
			return
		}
		if m.player != current {
			// Out-of-turn fire; remind the sender and keep waiting.
			if p := playerByNumber(players, m.player); p != nil {
				p.Conn.SendText(protocol.PacketSystemMessage, "It is not your turn.")
			}
			continue
		}

		target := boards[opponentOf(current)-1]
		r, c, err := game.ParseCoordinate(m.coord)
		if err != nil {
			if p := playerByNumber(players, current); p != nil {
				p.Conn.SendText(protocol.PacketSystemMessage, fmt.Sprintf("Invalid coordinate %q, try again.", m.coord))
			}
			continue
		}

		result, sunk := target.Fire(r, c)
		report := fmt.Sprintf("Player %d fired at %s: %s", current, game.FormatCoordinate(r, c), result)
		if result == game.Sunk {
			report = fmt.Sprintf("%s (%s sunk!)", report, sunk)
		}
		log.Info().Int("player", current).Str("coord", m.coord).Stringer("result", result).Msg("Move resolved")

		s.broadcast(protocol.PacketGameUpdate, report, protocol.CategoryRegular)
		s.broadcast(protocol.PacketBoardUpdate, target.Render(false), protocol.CategoryRegular)

		if target.AllSunk() {
			s.broadcast(protocol.PacketGameState,
				fmt.Sprintf("GAME OVER - Player %d wins", current), protocol.CategoryCritical)
			log.Info().Int("winner", current).Msg("Match finished")
			return
		}

		if result == game.Miss {
			current = opponentOf(current)
		}
		// Hits grant another turn, matching the original rules.
	}
}

// forfeit ends the match when a player leaves: the opponent wins.
func (s *Server) forfeit(gone int) {
	winner := opponentOf(gone)
	if p := playerByNumber(s.playersNow(), winner); p != nil {
		p.Conn.SendText(protocol.PacketSystemMessage, "Your opponent forfeited. You win!")
	}
	s.broadcast(protocol.PacketGameState,
		fmt.Sprintf("GAME OVER - Player %d wins by forfeit", winner), protocol.CategoryCritical)
	log.Info().Int("winner", winner).Int("forfeited", gone).Msg("Match forfeited")
}

func (s *Server) playersNow() []*Peer {
	players, _ := s.peersSnapshot()
	return players
}

func (s *Server) promptTurn(players []*Peer, current int) {
	for _, p := range players {
		if p.Player == current {
			p.Conn.SendTagged(protocol.PacketSystemMessage,
				[]byte("It's your turn! Fire with a coordinate like B5."), protocol.CategoryTurnTransition)
		} else {
			p.Conn.SendTagged(protocol.PacketSystemMessage,
				[]byte(fmt.Sprintf("Waiting for Player %d to move...", current)), protocol.CategoryTurnTransition)
		}
	}
}

func playerByNumber(players []*Peer, n int) *Peer {
	for _, p := range players {
		if p.Player == n {
			return p
		}
	}
	return nil
}

func opponentOf(n int) int {
	if n == 1 {
		return 2
	}
	return 1
}

// Stop closes the listener and every peer connection.
func (s *Server) Stop() {
	if s.listener != nil {
		s.listener.Close()
	}
	_, everyone := s.peersSnapshot()
	for _, p := range everyone {
		p.Conn.Close()
	}
}

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	addr := flag.String("addr", "", "listen address override")
	secret := flag.String("secret", "", "shared secret override")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	configureLogging(*verbose)

	cfg := config.Server{ListenAddr: ":5599"}
	if *configPath != "" {
		var err error
		cfg, err = config.LoadServer(*configPath)
		if err != nil {
			log.Error().Err(err).Msg("Failed to load config")
			os.Exit(ErrBadConfig)
		}
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *secret != "" {
		cfg.Secret = *secret
	}
	if cfg.Secret == "" {
		log.Error().Msg("A shared secret is required (-secret or config file)")
		os.Exit(ErrBadConfig)
	}

	key, err := config.Key(cfg.Secret)
	if err != nil {
		log.Error().Err(err).Msg("Key derivation failed")
		os.Exit(ErrBadConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := NewServer(ctx, key, cfg.Protocol.Options())
	if err := server.Listen(cfg.ListenAddr); err != nil {
		log.Error().Err(err).Str("addr", cfg.ListenAddr).Msg("Failed to listen")
		os.Exit(ErrListenError)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down")
	cancel()
	server.Stop()
	os.Exit(Success)
}

// configureLogging sets up console output with timestamps.
func configureLogging(verbose bool) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
	})

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
