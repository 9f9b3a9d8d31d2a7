// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: reactor.go - Single-threaded readiness loop for the handshake
//
// Purpose:
//   - Owns the listening socket, the poller and the connection table
//   - Accepts until EAGAIN on every listener edge
//   - Runs one Conn step per client event, then re-arms with its interest
//
// Notes:
//   - Token 0 is the listener; clients get 1, 2, 3, ... never reused
//   - Clients are registered edge-triggered + one-shot: a token that is not
//     re-armed after its event never fires again
//   - Any per-connection failure closes that socket and drops its entry;
//     the loop keeps serving everyone else
//
// ⚠️ Run locks its goroutine to one OS thread. Nothing else may touch the
//    table; Len and Stats are the only concurrent-safe reads.
// ─────────────────────────────────────────────────────────────────────────────

package reactor

import (
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync/atomic"
	"time"

	"wsreactor/config"
	"wsreactor/control"
	"wsreactor/debug"
	"wsreactor/journal"
	"wsreactor/netfd"
	"wsreactor/poll"
	"wsreactor/session"
	"wsreactor/utils"
)

// Recorder receives completed handshakes. Append is called from the loop
// and must not block; Flush is called once per loop iteration.
type Recorder interface {
	Append(journal.Record)
	Flush() error
}

// Stats are cumulative counters, safe to read from any goroutine.
type Stats struct {
	Accepted uint64
	Upgraded uint64
	Closed   uint64
	Expired  uint64
}

// Option customises a Server at construction.
type Option func(*Server)

// WithJournal journals every completed handshake to r.
func WithJournal(r Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithClock replaces time.Now, for idle-timeout tests.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.clock = now }
}

// Server is the reactor.
type Server struct {
	cfg      config.Config
	listener *netfd.Listener
	poller   *poll.Poller
	conns    map[poll.Token]*session.Conn
	next     poll.Token
	events   []poll.Event
	recorder Recorder
	clock    func() time.Time
	swept    time.Time
	closed   bool

	accept     func() (*netfd.Socket, error)
	backlogged bool

	live     atomic.Int64
	accepted atomic.Uint64
	upgraded atomic.Uint64
	dropped  atomic.Uint64
	expired  atomic.Uint64
}

// New binds the listener and registers it with a fresh poller. Any failure
// here is fatal for the process.
func New(cfg config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		conns:  make(map[poll.Token]*session.Conn),
		events: make([]poll.Event, cfg.MaxEvents),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	l, err := netfd.Listen(cfg.Addr, cfg.Backlog)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	p, err := poll.New()
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("poller: %w", err)
	}
	if err := p.Add(l.Fd(), poll.ListenerToken, poll.Readable, false); err != nil {
		p.Close()
		l.Close()
		return nil, fmt.Errorf("register listener: %w", err)
	}

	s.listener, s.poller = l, p
	s.accept = l.Accept
	s.swept = s.clock()
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() *net.TCPAddr { return s.listener.Addr() }

// Len returns the number of live client connections.
func (s *Server) Len() int { return int(s.live.Load()) }

// Stats returns a snapshot of the counters.
func (s *Server) Stats() Stats {
	return Stats{
		Accepted: s.accepted.Load(),
		Upgraded: s.upgraded.Load(),
		Closed:   s.dropped.Load(),
		Expired:  s.expired.Load(),
	}
}

// ───────────────────────────── Event Loop ─────────────────────────────

// Run loops until *stop becomes non-zero, then closes every socket. A nil
// stop watches the process-wide flag in control.
func (s *Server) Run(stop *uint32) error {
	if stop == nil {
		stop = control.Flags()
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer s.Close()

	debug.DropMessage("LISTEN", s.Addr().String())
	for atomic.LoadUint32(stop) == 0 {
		if err := s.Poll(s.cfg.PollInterval); err != nil {
			return err
		}
	}
	return nil
}

// Poll runs one iteration: wait up to timeout, dispatch every event, sweep
// idle handshakes and flush the journal. Only a poller failure is returned.
func (s *Server) Poll(timeout time.Duration) error {
	n, err := s.poller.Wait(s.events, timeout)
	if err != nil {
		return fmt.Errorf("poll wait: %w", err)
	}

	for _, ev := range s.events[:n] {
		if ev.Token == poll.ListenerToken {
			s.acceptAll()
			continue
		}
		s.ready(ev)
	}

	// The listener is edge-triggered: connections left queued by a failed
	// burst raise no new event, so retry them here.
	if s.backlogged {
		s.acceptAll()
	}
	s.sweep()
	if s.recorder != nil {
		if err := s.recorder.Flush(); err != nil {
			debug.DropError("journal flush", err)
		}
	}
	return nil
}

// acceptAll drains the listener backlog. Edge triggering reports a burst of
// arrivals once, so stopping early would strand the rest. A burst cut short
// by an error (EMFILE, ENFILE) marks the server backlogged until a later
// burst reaches would-block.
func (s *Server) acceptAll() {
	for {
		sock, err := s.accept()
		if errors.Is(err, netfd.ErrWouldBlock) {
			s.backlogged = false
			return
		}
		if err != nil {
			s.backlogged = true
			debug.DropError("accept", err)
			return
		}

		s.next++
		tok := s.next
		c := session.New(sock, session.Options{
			ReadChunk:    s.cfg.ReadChunk,
			MaxHeadBytes: s.cfg.MaxHeadBytes,
			Clock:        s.clock,
		})

		s.conns[tok] = c
		if err := s.poller.Add(sock.Fd(), tok, c.Interest(), true); err != nil {
			delete(s.conns, tok)
			sock.Close()
			debug.DropError("register token "+utils.Utoa(uint64(tok)), err)
			continue
		}
		s.live.Add(1)
		s.accepted.Add(1)
		debug.DropMessage("ACCEPT", "token "+utils.Utoa(uint64(tok))+" from "+c.Remote())
	}
}

// ready runs one step for a client and re-arms it.
func (s *Server) ready(ev poll.Event) {
	c, ok := s.conns[ev.Token]
	if !ok {
		// The poller never reports a token after its registration is gone.
		panic("reactor: event for unknown token " + utils.Utoa(uint64(ev.Token)))
	}

	before := c.State()
	if err := c.Handle(ev); err != nil {
		s.terminate(ev.Token, c, err)
		return
	}
	if before != session.Connected && c.State() == session.Connected {
		s.upgraded.Add(1)
		debug.DropMessage("UPGRADE", "token "+utils.Utoa(uint64(ev.Token))+" accept "+c.Accept())
		if s.recorder != nil {
			s.recorder.Append(journal.Record{
				Token:  uint64(ev.Token),
				Remote: c.Remote(),
				Target: c.Target(),
				Nonce:  c.Nonce(),
				Accept: c.Accept(),
				At:     s.clock(),
			})
		}
	}

	if err := s.poller.Rearm(c.Fd(), ev.Token, c.Interest()); err != nil {
		s.terminate(ev.Token, c, err)
	}
}

// terminate deregisters, closes and forgets a connection.
func (s *Server) terminate(tok poll.Token, c *session.Conn, reason error) {
	_ = s.poller.Remove(c.Fd())
	_ = c.Close()
	delete(s.conns, tok)
	s.live.Add(-1)
	s.dropped.Add(1)

	id := "token " + utils.Utoa(uint64(tok))
	if errors.Is(reason, session.ErrPeerClosed) {
		age := s.clock().Sub(c.Created()).Round(time.Millisecond)
		debug.DropMessage("CLOSE", id+" ("+c.State().String()+", "+age.String()+")")
		return
	}
	debug.DropError(id, reason)
}

var errIdle = errors.New("handshake idle timeout")

// sweep drops handshakes that have stalled longer than IdleTimeout. It runs
// at most once per PollInterval.
func (s *Server) sweep() {
	if s.cfg.IdleTimeout <= 0 {
		return
	}
	now := s.clock()
	if now.Sub(s.swept) < s.cfg.PollInterval {
		return
	}
	s.swept = now

	for tok, c := range s.conns {
		if c.Expired(now, s.cfg.IdleTimeout) {
			s.expired.Add(1)
			s.terminate(tok, c, errIdle)
		}
	}
}

// Close closes every connection, the listener and the poller. It is safe
// to call more than once; Run calls it on exit.
func (s *Server) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	for tok, c := range s.conns {
		_ = s.poller.Remove(c.Fd())
		_ = c.Close()
		delete(s.conns, tok)
		s.live.Add(-1)
	}
	lerr := s.listener.Close()
	perr := s.poller.Close()
	return errors.Join(lerr, perr)
}
