// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: constants.go - Reactor tunables and handshake defaults
//
// Purpose:
//   - Compile-time defaults for the listener, the read path and the poller
//   - config.Default() starts from these values
//
// ⚠️ No runtime logic here - all values must be compile-time resolvable
// ─────────────────────────────────────────────────────────────────────────────

package constants

import "time"

// ───────────────────────────── Listener ──────────────────────────────

const (
	// ListenAddr is the address bound when nothing else is configured.
	ListenAddr = "0.0.0.0:10000"

	// ListenBacklog is passed to listen(2). The kernel clamps it to somaxconn.
	ListenBacklog = 1024
)

// ───────────────────────────── Read Path ─────────────────────────────

const (
	// ReadChunk is the size of one non-blocking read. Each chunk is handed
	// to the tokenizer as soon as it arrives.
	ReadChunk = 2048

	// MaxHeadBytes bounds an unfinished request head. A client that streams
	// more than this without a blank line is dropped.
	MaxHeadBytes = 16 << 10
)

// ───────────────────────────── Poller ────────────────────────────────

const (
	// MaxEvents is the number of readiness events fetched per wait.
	MaxEvents = 256

	// PollInterval caps a single wait so the loop can observe its stop
	// flag and sweep idle connections.
	PollInterval = 200 * time.Millisecond

	// IdleTimeout is the default bound on an unfinished handshake. Zero
	// disables the sweep.
	IdleTimeout = 30 * time.Second
)

// ───────────────────────────── Journal ───────────────────────────────

// JournalBacklog caps records queued between flushes. Past it, new records
// are dropped and counted until a flush succeeds.
const JournalBacklog = 4096
