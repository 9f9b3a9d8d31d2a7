// ════════════════════════════════════════════════════════════════════════════════════════════════
// WebSocket Handshake Reactor - Main Entry Point
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Single-threaded WebSocket opening-handshake server
// Component: Bootstrap & Lifecycle
//
// Description:
//   Loads configuration, opens the optional handshake journal, binds the reactor and runs it
//   on a locked OS thread until SIGINT/SIGTERM.
//
// Architecture:
//   - Phase 0: flags + JSON config overlay
//   - Phase 1: journal and listener setup (any failure exits 1)
//   - Phase 2: event loop until the control stop flag flips
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wsreactor/config"
	"wsreactor/control"
	"wsreactor/debug"
	"wsreactor/journal"
	"wsreactor/reactor"
	"wsreactor/utils"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// MAIN ORCHESTRATION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is main without os.Exit so deferred closes execute.
func run(args []string) int {
	fs := flag.NewFlagSet("wsreactor", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "JSON config file overlaying the built-in defaults")
	addr := fs.String("addr", "", "listen address, overrides config")
	journalPath := fs.String("journal", "", "sqlite handshake journal, overrides config")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// PHASE 0: configuration
	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			debug.DropError("CONFIG", err)
			return 1
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *journalPath != "" {
		cfg.JournalPath = *journalPath
	}
	debug.SetQuiet(cfg.Quiet)

	// PHASE 1: journal and listener
	var opts []reactor.Option
	var j *journal.Journal
	if cfg.JournalPath != "" {
		var err error
		if j, err = journal.Open(cfg.JournalPath); err != nil {
			debug.DropError("JOURNAL", err)
			return 1
		}
		defer closeJournal(j)
		opts = append(opts, reactor.WithJournal(j))
	}

	srv, err := reactor.New(cfg, opts...)
	if err != nil {
		debug.DropError("LISTEN", err)
		return 1
	}

	setupSignalHandling()

	// PHASE 2: event loop
	control.ShutdownWG.Add(1)
	err = srv.Run(control.Flags())
	control.ShutdownWG.Done()
	if control.Stopping() {
		debug.DropMessage("STOP", "listener and connections closed")
	}

	st := srv.Stats()
	debug.DropMessage("STATS", "accepted "+utils.Utoa(st.Accepted)+
		", upgraded "+utils.Utoa(st.Upgraded)+
		", closed "+utils.Utoa(st.Closed)+
		", expired "+utils.Utoa(st.Expired))

	if err != nil {
		debug.DropError("LOOP", err)
		return 1
	}
	return 0
}

// closeJournal flushes the journal and reports nonces seen on more than
// one connection.
func closeJournal(j *journal.Journal) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := j.Flush(); err != nil {
		debug.DropError("JOURNAL", err)
	}
	if n, err := j.Count(ctx); err == nil {
		debug.DropMessage("JOURNAL", utils.Itoa(n)+" handshakes recorded")
	}
	if d := j.Dropped(); d > 0 {
		debug.DropMessage("JOURNAL", utils.Utoa(d)+" records dropped on a full queue")
	}
	if reused, err := j.Reused(ctx); err == nil && len(reused) > 0 {
		debug.DropMessage("JOURNAL", utils.Itoa(len(reused))+" nonces reused")
	}
	if err := j.Close(); err != nil {
		debug.DropError("JOURNAL", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SYSTEM LIFECYCLE MANAGEMENT
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// setupSignalHandling flips the control stop flag on SIGINT/SIGTERM. The
// loop notices within one poll interval and closes every socket.
func setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		debug.DropMessage("SIGNAL", "Received interrupt, shutting down...")
		control.Shutdown()
		control.ShutdownWG.Wait()
		debug.DropMessage("SIGNAL", "Event loop stopped")
	}()
}
