// Package config assembles reactor settings: compile-time defaults from
// constants, optionally overlaid by a JSON file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"wsreactor/constants"
)

// Config is everything the reactor and main need at startup.
type Config struct {
	Addr         string        // listen address, host:port
	Backlog      int           // listen(2) backlog
	ReadChunk    int           // bytes per non-blocking read
	MaxHeadBytes int           // bound on an unfinished request head
	MaxEvents    int           // readiness events per wait
	PollInterval time.Duration // longest single wait
	IdleTimeout  time.Duration // unfinished handshakes older than this are dropped; 0 = never
	JournalPath  string        // sqlite handshake journal; "" = disabled
	Quiet        bool          // suppress per-connection log lines
}

// file mirrors Config on disk. Pointers distinguish "absent" from zero.
type file struct {
	Addr         *string `json:"addr"`
	Backlog      *int    `json:"backlog"`
	ReadChunk    *int    `json:"read_chunk"`
	MaxHeadBytes *int    `json:"max_head_bytes"`
	MaxEvents    *int    `json:"max_events"`
	PollInterval *string `json:"poll_interval"`
	IdleTimeout  *string `json:"idle_timeout"`
	JournalPath  *string `json:"journal_path"`
	Quiet        *bool   `json:"quiet"`
}

// Default returns the compile-time defaults.
func Default() Config {
	return Config{
		Addr:         constants.ListenAddr,
		Backlog:      constants.ListenBacklog,
		ReadChunk:    constants.ReadChunk,
		MaxHeadBytes: constants.MaxHeadBytes,
		MaxEvents:    constants.MaxEvents,
		PollInterval: constants.PollInterval,
		IdleTimeout:  constants.IdleTimeout,
	}
}

// Load reads a JSON file and overlays it on Default. Keys missing from the
// file keep their defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse overlays the JSON document data on Default and validates the result.
func Parse(data []byte) (Config, error) {
	var f file
	if err := sonnet.Unmarshal(data, &f); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if f.Addr != nil {
		cfg.Addr = *f.Addr
	}
	if f.Backlog != nil {
		cfg.Backlog = *f.Backlog
	}
	if f.ReadChunk != nil {
		cfg.ReadChunk = *f.ReadChunk
	}
	if f.MaxHeadBytes != nil {
		cfg.MaxHeadBytes = *f.MaxHeadBytes
	}
	if f.MaxEvents != nil {
		cfg.MaxEvents = *f.MaxEvents
	}
	if f.JournalPath != nil {
		cfg.JournalPath = *f.JournalPath
	}
	if f.Quiet != nil {
		cfg.Quiet = *f.Quiet
	}
	if f.PollInterval != nil {
		d, err := time.ParseDuration(*f.PollInterval)
		if err != nil {
			return Config{}, fmt.Errorf("poll_interval: %w", err)
		}
		cfg.PollInterval = d
	}
	if f.IdleTimeout != nil {
		d, err := time.ParseDuration(*f.IdleTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("idle_timeout: %w", err)
		}
		cfg.IdleTimeout = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var (
	ErrNoAddr       = errors.New("config: empty listen address")
	ErrBadReadChunk = errors.New("config: read_chunk must be positive")
	ErrBadEvents    = errors.New("config: max_events must be positive")
	ErrBadInterval  = errors.New("config: poll_interval must be positive")
	ErrBadIdle      = errors.New("config: idle_timeout must not be negative")
	ErrBadBacklog   = errors.New("config: backlog must be positive")
)

// Validate rejects settings the reactor cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return ErrNoAddr
	case c.Backlog <= 0:
		return ErrBadBacklog
	case c.ReadChunk <= 0:
		return ErrBadReadChunk
	case c.MaxEvents <= 0:
		return ErrBadEvents
	case c.PollInterval <= 0:
		return ErrBadInterval
	case c.IdleTimeout < 0:
		return ErrBadIdle
	}
	return nil
}
