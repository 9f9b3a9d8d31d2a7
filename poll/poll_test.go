//go:build linux || darwin

package poll

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// ============================================================================
// TEST HELPERS
// ============================================================================

// socketPair returns two connected non-blocking stream sockets.
func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			t.Fatal(err)
		}
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newPoller(t *testing.T) *Poller {
	t.Helper()
	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func waitOne(t *testing.T, p *Poller, timeout time.Duration) (Event, bool) {
	t.Helper()
	var evs [8]Event
	n, err := p.Wait(evs[:], timeout)
	if err != nil {
		t.Fatal(err)
	}
	if n == 0 {
		return Event{}, false
	}
	return evs[0], true
}

// ============================================================================
// INTEREST
// ============================================================================

func TestInterestString(t *testing.T) {
	tests := map[Interest]string{
		0:                   "none",
		Readable:            "readable",
		Writable:            "writable",
		Readable | Writable: "readable|writable",
		Interest(0x80):      "invalid",
	}
	for in, want := range tests {
		if got := in.String(); got != want {
			t.Errorf("Interest(%d).String() = %q, want %q", in, got, want)
		}
	}
	if !Readable.IsReadable() || Readable.IsWritable() {
		t.Error("Readable predicates wrong")
	}
}

// ============================================================================
// READINESS
// ============================================================================

func TestReadableCarriesToken(t *testing.T) {
	p := newPoller(t)
	a, b := socketPair(t)

	const tok = Token(1<<40 | 7)
	if err := p.Add(a, tok, Readable, true); err != nil {
		t.Fatal(err)
	}
	if _, err := unix.Write(b, []byte("ping")); err != nil {
		t.Fatal(err)
	}

	ev, ok := waitOne(t, p, time.Second)
	if !ok {
		t.Fatal("no event")
	}
	if ev.Token != tok {
		t.Errorf("token = %#x, want %#x", ev.Token, tok)
	}
	if !ev.Readable {
		t.Error("event not readable")
	}
}

func TestOneShotRequiresRearm(t *testing.T) {
	p := newPoller(t)
	a, b := socketPair(t)

	if err := p.Add(a, 1, Readable, true); err != nil {
		t.Fatal(err)
	}
	unix.Write(b, []byte("x"))
	if _, ok := waitOne(t, p, time.Second); !ok {
		t.Fatal("first event missing")
	}

	// More data arrives but the registration is disarmed.
	unix.Write(b, []byte("y"))
	if ev, ok := waitOne(t, p, 50*time.Millisecond); ok {
		t.Fatalf("one-shot fired twice: %+v", ev)
	}

	if err := p.Rearm(a, 1, Readable); err != nil {
		t.Fatal(err)
	}
	if _, ok := waitOne(t, p, time.Second); !ok {
		t.Fatal("rearmed registration did not fire")
	}
}

func TestRearmSwitchesToWritable(t *testing.T) {
	p := newPoller(t)
	a, _ := socketPair(t)

	if err := p.Add(a, 3, Readable, true); err != nil {
		t.Fatal(err)
	}
	if ev, ok := waitOne(t, p, 50*time.Millisecond); ok {
		t.Fatalf("unexpected event %+v", ev)
	}

	if err := p.Rearm(a, 3, Writable); err != nil {
		t.Fatal(err)
	}
	ev, ok := waitOne(t, p, time.Second)
	if !ok {
		t.Fatal("writable event missing")
	}
	if !ev.Writable || ev.Token != 3 {
		t.Errorf("event = %+v", ev)
	}
}

func TestPeerCloseReported(t *testing.T) {
	p := newPoller(t)
	a, b := socketPair(t)

	if err := p.Add(a, 9, Readable, true); err != nil {
		t.Fatal(err)
	}
	unix.Shutdown(b, unix.SHUT_WR)

	ev, ok := waitOne(t, p, time.Second)
	if !ok {
		t.Fatal("close not reported")
	}
	if !ev.Readable {
		t.Errorf("half-close must wake the reader: %+v", ev)
	}
}

func TestRemoveStopsEvents(t *testing.T) {
	p := newPoller(t)
	a, b := socketPair(t)

	if err := p.Add(a, 5, Readable, false); err != nil {
		t.Fatal(err)
	}
	if err := p.Remove(a); err != nil {
		t.Fatal(err)
	}
	unix.Write(b, []byte("z"))
	if ev, ok := waitOne(t, p, 50*time.Millisecond); ok {
		t.Fatalf("event after Remove: %+v", ev)
	}
}

func TestWaitTimeout(t *testing.T) {
	p := newPoller(t)
	start := time.Now()
	if _, ok := waitOne(t, p, 30*time.Millisecond); ok {
		t.Fatal("event on empty poller")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Wait returned before timeout")
	}
}
