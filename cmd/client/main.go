// Package main implements the interactive battleship client.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/desertbit/grumble"
	"github.com/jedib0t/go-pretty/table"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gamewire/pkg/config"
	"gamewire/pkg/game"
	"gamewire/pkg/protocol"
	"gamewire/pkg/transport"
)

// CLI banner with version.
const banner = `
   ____                                _
  / ___| __ _ _ __ ___   _____      _(_)_ __ ___
 | |  _ / _` + "`" + ` | '_ ` + "`" + ` _ \ / _ \ \ /\ / / | '__/ _ \
 | |_| | (_| | | | | | |  __/\ V  V /| | | |  __/
  \____|\__,_|_| |_| |_|\___| \_/\_/ |_|_|  \___|

   Battleship over a reliable encrypted channel (v1.0)
   ---------------------------------------------------

`

// session is the client's single server connection plus the last board
// snapshot received.
type session struct {
	mu    sync.Mutex
	conn  *protocol.Conn
	board string

	cancel context.CancelFunc
}

var current = &session{}

// defaults holds values from an optional TOML config file; command flags
// override them.
var defaults config.Client

func (s *session) active() *protocol.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *session) set(conn *protocol.Conn, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.cancel()
	}
	s.conn = conn
	s.cancel = cancel
	s.board = ""
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.cancel()
		s.conn = nil
	}
}

func (s *session) setBoard(grid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.board = grid
}

func (s *session) lastBoard() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board
}

// connect dials the server and starts the receive pump.
func connect(app *grumble.App, addr, secret string) error {
	key, err := config.Key(secret)
	if err != nil {
		return fmt.Errorf("key derivation failed: %v", err)
	}

	tr, err := transport.Dial(addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %v", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn, err := protocol.NewConn(ctx, tr, key, defaults.Protocol.Options())
	if err != nil {
		cancel()
		tr.Close()
		return err
	}
	conn.Start()
	current.set(conn, cancel)

	go receivePump(app, conn)

	log.Info().Str("addr", addr).Msg("Connected")
	return nil
}

// receivePump prints deliveries until the connection ends.
func receivePump(app *grumble.App, conn *protocol.Conn) {
	for {
		select {
		case d := <-conn.Deliveries():
			switch d.Type {
			case protocol.PacketBoardUpdate:
				current.setBoard(string(d.Payload))
				app.Println(RenderBoard(string(d.Payload)))
			case protocol.PacketGameState:
				app.Printf(">>> %s\n", string(d.Payload))
			case protocol.PacketChatMessage:
				app.Printf("%s\n", string(d.Payload))
			default:
				app.Printf("[server] %s\n", string(d.Payload))
			}

		case err := <-conn.Errors():
			log.Warn().Err(err).Msg("Connection unhealthy")

		case <-conn.Done():
			log.Info().Msg("Disconnected")
			return
		}
	}
}

// RenderBoard formats a newline-separated grid into a labeled table:
// columns 1..N across the top, row letters down the side.
func RenderBoard(grid string) string {
	rows := strings.Split(strings.TrimSpace(grid), "\n")
	if len(rows) == 0 {
		return grid
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)

	header := table.Row{""}
	for i := range rows[0] {
		header = append(header, i+1)
	}
	t.AppendHeader(header)

	for r, cells := range rows {
		row := table.Row{string(rune('A' + r))}
		for _, cell := range cells {
			row = append(row, string(cell))
		}
		t.AppendRow(row)
	}

	return t.Render()
}

// AddCommands registers all CLI commands with the application.
func AddCommands(app *grumble.App) {
	app.AddCommand(&grumble.Command{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "connect to a game server",
		Flags: func(f *grumble.Flags) {
			f.String("a", "addr", "", "server address")
			f.String("s", "secret", "", "shared secret")
		},
		Run: func(c *grumble.Context) error {
			addr := c.Flags.String("addr")
			if addr == "" {
				addr = defaults.ServerAddr
			}
			if addr == "" {
				addr = "127.0.0.1:5599"
			}
			secret := c.Flags.String("secret")
			if secret == "" {
				secret = defaults.Secret
			}
			if secret == "" {
				return fmt.Errorf("a shared secret is required (--secret or config file)")
			}
			return connect(c.App, addr, secret)
		},
	})

	app.AddCommand(&grumble.Command{
		Name:    "fire",
		Aliases: []string{"f"},
		Help:    "fire at a coordinate, e.g. 'fire B5'",
		Args: func(a *grumble.Args) {
			a.String("coordinate", "target coordinate, letter row + number column")
		},
		Run: func(c *grumble.Context) error {
			conn := current.active()
			if conn == nil {
				return fmt.Errorf("not connected")
			}
			coord := c.Args.String("coordinate")
			if _, _, err := game.ParseCoordinate(coord); err != nil {
				return err
			}
			return conn.SendTagged(protocol.PacketPlayerMove, []byte(coord), protocol.CategoryMove)
		},
	})

	app.AddCommand(&grumble.Command{
		Name: "chat",
		Help: "send a chat message to everyone",
		Args: func(a *grumble.Args) {
			a.StringList("message", "text to send")
		},
		Run: func(c *grumble.Context) error {
			conn := current.active()
			if conn == nil {
				return fmt.Errorf("not connected")
			}
			text := strings.Join(c.Args.StringList("message"), " ")
			return conn.SendText(protocol.PacketChatMessage, text)
		},
	})

	app.AddCommand(&grumble.Command{
		Name:    "board",
		Aliases: []string{"b"},
		Help:    "show the last board update",
		Run: func(c *grumble.Context) error {
			grid := current.lastBoard()
			if grid == "" {
				c.App.Println("No board received yet.")
				return nil
			}
			c.App.Println(RenderBoard(grid))
			return nil
		},
	})

	app.AddCommand(&grumble.Command{
		Name:    "disconnect",
		Aliases: []string{"dc"},
		Help:    "close the server connection",
		Run: func(c *grumble.Context) error {
			current.close()
			return nil
		},
	})
}

// setupCLI initializes the command-line interface.
func setupCLI() *grumble.App {
	var histFile string
	home, err := os.UserHomeDir()
	if err != nil {
		histFile = ".gamewire"
	} else {
		histFile = filepath.Join(home, ".gamewire")
	}

	app := grumble.New(&grumble.Config{
		Name:        "gamewire",
		HistoryFile: histFile,
		Flags: func(f *grumble.Flags) {
			f.String("c", "config", "", "path to TOML config file")
		},
	})

	app.SetPrintASCIILogo(func(a *grumble.App) {
		fmt.Print(banner)
	})

	// Load config file defaults when the app starts.
	app.OnInit(func(a *grumble.App, flags grumble.FlagMap) error {
		path := flags.String("config")
		if path == "" {
			return nil
		}
		cfg, err := config.LoadClient(path)
		if err != nil {
			return err
		}
		defaults = cfg
		return nil
	})

	return app
}

// configureLogging sets up console output with timestamps.
func configureLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
	})

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	configureLogging()

	app := setupCLI()
	AddCommands(app)

	defer current.close()
	if err := app.Run(); err != nil {
		log.Error().Err(err).Msg("CLI error")
		os.Exit(1)
	}
}
