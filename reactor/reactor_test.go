//go:build linux || darwin

package reactor

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gorilla/websocket"

	"wsreactor/config"
	"wsreactor/debug"
	"wsreactor/journal"
	"wsreactor/netfd"
	"wsreactor/poll"
	wsaccept "wsreactor/ws"
)

// ==============================================================================
// TEST HARNESS
// ==============================================================================

func TestMain(m *testing.M) {
	debug.SetQuiet(true)
	os.Exit(m.Run())
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.PollInterval = 10 * time.Millisecond
	cfg.IdleTimeout = 0
	return cfg
}

// runServer starts a reactor on its own goroutine and stops it at cleanup.
func runServer(t *testing.T, cfg config.Config, opts ...Option) *Server {
	t.Helper()
	s, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var stop uint32
	done := make(chan error, 1)
	go func() { done <- s.Run(&stop) }()
	t.Cleanup(func() {
		atomic.StoreUint32(&stop, 1)
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after stop")
		}
	})
	return s
}

// pump drives the loop from the test goroutine until cond holds.
func pump(t *testing.T, s *Server, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached; stats %+v len %d", s.Stats(), s.Len())
		}
		if err := s.Poll(5 * time.Millisecond); err != nil {
			t.Fatalf("Poll: %v", err)
		}
	}
}

// waitFor polls a condition that a running server will eventually satisfy.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func nonce(t *testing.T) string {
	t.Helper()
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(b[:])
}

func request(key string) string {
	return "GET /chat HTTP/1.1\r\n" +
		"Host: localhost\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// expect101 reads one response and checks it against key.
func expect101(t *testing.T, c net.Conn, key string) {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(c), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Upgrade"); got != "websocket" {
		t.Errorf("Upgrade = %q", got)
	}
	if got := resp.Header.Get("Connection"); got != "Upgrade" {
		t.Errorf("Connection = %q", got)
	}
	if got, want := resp.Header.Get("Sec-WebSocket-Accept"), wsaccept.AcceptKey(key); got != want {
		t.Errorf("accept %q, want %q", got, want)
	}
}

// expectEOF waits for the server to drop the connection. A reset counts as
// well as an orderly close.
func expectEOF(t *testing.T, c net.Conn) {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	var b [64]byte
	n, err := c.Read(b[:])
	if n != 0 || err == nil {
		t.Fatalf("expected close, got n=%d err=%v", n, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		t.Fatalf("connection still open: %v", err)
	}
}

// ==============================================================================
// CONSTRUCTION
// ==============================================================================

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEvents = 0
	if _, err := New(cfg); err != config.ErrBadEvents {
		t.Errorf("got %v", err)
	}
}

func TestNewBindFailure(t *testing.T) {
	s, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	cfg := testConfig()
	cfg.Addr = s.Addr().String()
	if other, err := New(cfg); err == nil {
		other.Close()
		t.Fatal("second bind on the same port succeeded")
	}
}

func TestCloseIdempotent(t *testing.T) {
	s, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

// ==============================================================================
// HANDSHAKE SCENARIOS
// ==============================================================================

func TestHandshakeSingleWrite(t *testing.T) {
	s := runServer(t, testConfig())
	c := dial(t, s)

	if _, err := io.WriteString(c, request("dGhlIHNhbXBsZSBub25jZQ==")); err != nil {
		t.Fatal(err)
	}
	expect101(t, c, "dGhlIHNhbXBsZSBub25jZQ==")

	waitFor(t, "upgrade count", func() bool { return s.Stats().Upgraded == 1 })
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestHandshakeSplitWrites(t *testing.T) {
	s := runServer(t, testConfig())
	c := dial(t, s)

	req := request("x3JJHMbDL1EzLkh9GBhXDw==")
	parts := []string{req[:7], req[7:40], req[40:]}
	for _, p := range parts {
		if _, err := io.WriteString(c, p); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	expect101(t, c, "x3JJHMbDL1EzLkh9GBhXDw==")
}

func TestPeerClosesBeforeHandshake(t *testing.T) {
	s := runServer(t, testConfig())

	a := dial(t, s)
	io.WriteString(a, "GET / HTTP/1.1\r\nUpgrade: websocket\r\n")

	b := dial(t, s)
	waitFor(t, "both accepted", func() bool { return s.Stats().Accepted == 2 })
	b.Close()
	waitFor(t, "b removed", func() bool { return s.Stats().Closed == 1 })
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}

	io.WriteString(a, "Connection: upgrade\r\nSec-WebSocket-Key: abc\r\n\r\n")
	expect101(t, a, "abc")
}

func TestConcurrentClients(t *testing.T) {
	s := runServer(t, testConfig())

	const clients = 100
	var wg sync.WaitGroup
	errs := make(chan string, clients)
	for i := 0; i < clients; i++ {
		key := nonce(t)
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := net.Dial("tcp", s.Addr().String())
			if err != nil {
				errs <- err.Error()
				return
			}
			defer c.Close()
			if _, err := io.WriteString(c, request(key)); err != nil {
				errs <- err.Error()
				return
			}
			c.SetReadDeadline(time.Now().Add(5 * time.Second))
			resp, err := http.ReadResponse(bufio.NewReader(c), nil)
			if err != nil {
				errs <- err.Error()
				return
			}
			if got := resp.Header.Get("Sec-WebSocket-Accept"); got != wsaccept.AcceptKey(key) {
				errs <- "wrong accept for " + key + ": " + got
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
	if got := s.Stats().Accepted; got != clients {
		t.Errorf("Accepted = %d, want %d", got, clients)
	}
}

func TestNonUpgradeClosed(t *testing.T) {
	s := runServer(t, testConfig())
	c := dial(t, s)

	io.WriteString(c, "GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n")
	expectEOF(t, c)
	waitFor(t, "removal", func() bool { return s.Len() == 0 })
}

func TestMalformedRequestClosed(t *testing.T) {
	s := runServer(t, testConfig())
	c := dial(t, s)

	io.WriteString(c, "NOT A REQUEST\r\n\r\n")
	expectEOF(t, c)
	waitFor(t, "removal", func() bool { return s.Len() == 0 })
}

func TestConnectedPeerClose(t *testing.T) {
	s := runServer(t, testConfig())
	c := dial(t, s)

	io.WriteString(c, request("abc"))
	expect101(t, c, "abc")
	io.WriteString(c, "\x81\x05hello")
	waitFor(t, "upgrade", func() bool { return s.Stats().Upgraded == 1 })

	c.Close()
	waitFor(t, "removal", func() bool { return s.Len() == 0 })
	if got := s.Stats().Closed; got != 1 {
		t.Errorf("Closed = %d", got)
	}
}

// ==============================================================================
// THIRD-PARTY CLIENTS
// ==============================================================================

func TestGobwasDialer(t *testing.T) {
	s := runServer(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, hs, err := ws.Dial(ctx, "ws://"+s.Addr().String()+"/feed")
	if err != nil {
		t.Fatalf("gobwas dial: %v", err)
	}
	defer conn.Close()
	if hs.Protocol != "" {
		t.Errorf("unexpected subprotocol %q", hs.Protocol)
	}
}

func TestGorillaDialer(t *testing.T) {
	s := runServer(t, testConfig())

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	for i := 0; i < 10; i++ {
		conn, resp, err := d.Dial("ws://"+s.Addr().String()+"/", nil)
		if err != nil {
			t.Fatalf("gorilla dial %d: %v", i, err)
		}
		if resp.StatusCode != http.StatusSwitchingProtocols {
			t.Errorf("status %d", resp.StatusCode)
		}
		conn.Close()
	}
	waitFor(t, "upgrades", func() bool { return s.Stats().Upgraded == 10 })
}

// ==============================================================================
// TABLE INVARIANTS (loop driven from the test goroutine)
// ==============================================================================

func TestTokensUniqueAndNonZero(t *testing.T) {
	s, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	const n = 20
	for i := 0; i < n; i++ {
		dial(t, s)
	}
	pump(t, s, func() bool { return s.Len() == n })

	seen := make(map[poll.Token]bool, n)
	for tok := range s.conns {
		if tok == poll.ListenerToken {
			t.Fatal("client holds the listener token")
		}
		if seen[tok] {
			t.Fatalf("duplicate token %d", tok)
		}
		seen[tok] = true
	}
	if s.next != n {
		t.Errorf("next = %d, want %d", s.next, n)
	}

	// Tokens are never recycled.
	for tok, c := range s.conns {
		s.terminate(tok, c, io.EOF)
	}
	dial(t, s)
	pump(t, s, func() bool { return s.Len() == 1 })
	for tok := range s.conns {
		if tok != n+1 {
			t.Errorf("fresh token %d, want %d", tok, n+1)
		}
	}
}

func TestUnknownTokenPanics(t *testing.T) {
	s, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	defer func() {
		if recover() == nil {
			t.Error("no panic for unknown token")
		}
	}()
	s.ready(poll.Event{Token: 42, Readable: true})
}

func TestAcceptRetriedAfterError(t *testing.T) {
	s, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	failures := 1
	accept := s.accept
	s.accept = func() (*netfd.Socket, error) {
		if failures > 0 {
			failures--
			return nil, errors.New("too many open files")
		}
		return accept()
	}

	const n = 3
	for i := 0; i < n; i++ {
		dial(t, s)
	}
	// No further dials: only the retry can drain the queue.
	pump(t, s, func() bool { return s.Len() == n })
	if s.backlogged {
		t.Error("still backlogged after draining")
	}
	if got := s.Stats().Accepted; got != n {
		t.Errorf("Accepted = %d, want %d", got, n)
	}
}

func TestIdleSweep(t *testing.T) {
	var now atomic.Int64
	now.Store(time.Unix(1700000000, 0).UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	cfg := testConfig()
	cfg.IdleTimeout = time.Second
	s, err := New(cfg, WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	stalled := dial(t, s)
	io.WriteString(stalled, "GET / HTTP/1.1\r\n")
	pump(t, s, func() bool { return received(s) > 0 })

	now.Add(int64(2 * time.Second))
	pump(t, s, func() bool { return s.Len() == 0 })
	if got := s.Stats().Expired; got != 1 {
		t.Errorf("Expired = %d", got)
	}
	expectEOF(t, stalled)
}

// received sums the bytes read across the table. Only safe while the loop
// runs on the calling goroutine.
func received(s *Server) int {
	n := 0
	for _, c := range s.conns {
		n += c.Received()
	}
	return n
}

func TestJournalRecordsUpgrades(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "j.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	s, err := New(testConfig(), WithJournal(j))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	keys := []string{"dGhlIHNhbXBsZSBub25jZQ==", "x3JJHMbDL1EzLkh9GBhXDw==", "dGhlIHNhbXBsZSBub25jZQ=="}
	for _, k := range keys {
		c := dial(t, s)
		io.WriteString(c, request(k))
	}
	pump(t, s, func() bool { return s.Stats().Upgraded == uint64(len(keys)) && j.Pending() == 0 })

	ctx := context.Background()
	if n, err := j.Count(ctx); err != nil || n != len(keys) {
		t.Fatalf("Count = %d, %v", n, err)
	}
	reused, err := j.Reused(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(reused) != 1 || reused[0] != journal.Fingerprint("dGhlIHNhbXBsZSBub25jZQ==") {
		t.Errorf("Reused = %v", reused)
	}
	recent, err := j.Recent(ctx, 1)
	if err != nil || len(recent) != 1 {
		t.Fatalf("Recent = %v, %v", recent, err)
	}
	if recent[0].Target != "/chat" {
		t.Errorf("Target = %q", recent[0].Target)
	}
}
