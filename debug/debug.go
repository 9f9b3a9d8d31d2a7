// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: debug.go - Cold-path diagnostic logging for the reactor
//
// Purpose:
//   - Logs accept/read/write failures and connection lifecycle events
//   - One "PREFIX: message" line per call, written straight to stderr
//
// Notes:
//   - No fmt, no log package: string concatenation only
//   - Safe from the reactor thread; lines from other goroutines may interleave
//
// ⚠️ Never invoke per byte or per chunk - only on state changes and failures.
// ─────────────────────────────────────────────────────────────────────────────

package debug

import (
	"sync/atomic"

	"wsreactor/utils"
)

// quiet suppresses DropMessage output. Errors are always printed.
var quiet uint32

// SetQuiet toggles informational output. Tests and benchmarks silence the
// per-connection chatter with it.
func SetQuiet(on bool) {
	if on {
		atomic.StoreUint32(&quiet, 1)
		return
	}
	atomic.StoreUint32(&quiet, 0)
}

// DropError logs prefix and err. A nil err prints the prefix alone, which is
// how tagged warnings without an error value are emitted.
//
//go:inline
func DropError(prefix string, err error) {
	if err != nil {
		utils.PrintWarning(prefix + ": " + err.Error() + "\n")
		return
	}
	utils.PrintWarning(prefix + "\n")
}

// DropMessage logs an informational line, e.g. handshake completion.
//
//go:inline
func DropMessage(prefix, message string) {
	if atomic.LoadUint32(&quiet) == 1 {
		return
	}
	utils.PrintWarning(prefix + ": " + message + "\n")
}
