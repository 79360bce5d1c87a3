// Package config loads gamewire configuration from TOML files.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"gamewire/pkg/protocol"
)

// Server configures the game server.
type Server struct {
	ListenAddr string   `toml:"listen_addr"`
	Secret     string   `toml:"secret"`
	LogLevel   string   `toml:"log_level"`
	Protocol   Protocol `toml:"protocol"`
}

// Client configures the interactive client.
type Client struct {
	ServerAddr string   `toml:"server_addr"`
	Secret     string   `toml:"secret"`
	LogLevel   string   `toml:"log_level"`
	Protocol   Protocol `toml:"protocol"`
}

// Protocol holds optional overrides for the reliability engine. Zero values
// keep the protocol defaults.
type Protocol struct {
	SweepIntervalMs     int `toml:"sweep_interval_ms"`
	InactivityTimeoutS  int `toml:"inactivity_timeout_s"`
	DeliveryBufferSlots int `toml:"delivery_buffer_slots"`
}

// LoadServer reads a server configuration and applies defaults. The secret
// may stay empty here; callers enforce it after flag overrides.
func LoadServer(path string) (Server, error) {
	var cfg Server
	if err := loadToml(path, &cfg); err != nil {
		return Server{}, err
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":5599"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// LoadClient reads a client configuration and applies defaults. The secret
// may stay empty here; callers enforce it after flag overrides.
func LoadClient(path string) (Client, error) {
	var cfg Client
	if err := loadToml(path, &cfg); err != nil {
		return Client{}, err
	}
	if cfg.ServerAddr == "" {
		cfg.ServerAddr = "127.0.0.1:5599"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// Key derives the 32-byte session key from the configured secret. A secret
// of exactly 64 hex digits is used as the raw key; anything else is treated
// as a passphrase and run through the protocol's key derivation.
func Key(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) == 2*protocol.KeySize {
		if raw, err := hex.DecodeString(secret); err == nil {
			return raw, nil
		}
	}
	return protocol.DeriveKey([]byte(secret))
}

// Options converts the overrides into engine options.
func (p Protocol) Options() protocol.Options {
	var opts protocol.Options
	if p.SweepIntervalMs > 0 {
		opts.SweepInterval = msDuration(p.SweepIntervalMs)
	}
	if p.InactivityTimeoutS > 0 {
		opts.InactivityTimeout = msDuration(p.InactivityTimeoutS * 1000)
	}
	if p.DeliveryBufferSlots > 0 {
		opts.DeliveryBuffer = p.DeliveryBufferSlots
	}
	return opts
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func loadToml(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
