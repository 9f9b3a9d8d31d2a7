// control.go - Process-wide stop flag for the pinned reactor loop
// ============================================================================
// SYSTEM CONTROL ORCHESTRATION
// ============================================================================
//
// The reactor runs on one locked OS thread and never blocks longer than one
// poll interval. It polls a plain uint32 owned by this package to learn that
// the process is going down; the signal handler in main flips it.
//
// Threading model:
//   • Signal goroutine calls Shutdown()
//   • Reactor loop reads the pointer returned by Flags() once per iteration
//   • main waits on ShutdownWG until the loop has closed its sockets

package control

import (
	"sync"
	"sync/atomic"
)

var (
	// stop is 1 once shutdown has been requested.
	stop uint32

	// ShutdownWG tracks loops that must finish before the process exits.
	ShutdownWG sync.WaitGroup
)

// Shutdown requests termination of every loop watching Flags().
func Shutdown() {
	atomic.StoreUint32(&stop, 1)
}

// Stopping reports whether Shutdown has been called.
func Stopping() bool {
	return atomic.LoadUint32(&stop) == 1
}

// Flags returns the address of the global stop flag for loops that poll it
// directly. The pointer stays valid for the life of the process.
func Flags() *uint32 {
	return &stop
}

// Reset clears the stop flag. Only tests call it.
func Reset() {
	atomic.StoreUint32(&stop, 0)
}
