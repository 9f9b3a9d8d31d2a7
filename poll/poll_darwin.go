//go:build darwin

// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: poll_darwin.go - kqueue backend
//
// Notes:
//   - Readable/Writable map to EVFILT_READ/EVFILT_WRITE with EV_CLEAR (edge)
//   - One-shot registrations add EV_ONESHOT; Rearm re-adds wanted filters and
//     deletes the others
//   - Tokens are kept in a side table keyed by fd; Udata is a pointer on this
//     platform and cannot carry an integer safely
// ─────────────────────────────────────────────────────────────────────────────

package poll

import (
	"time"

	"golang.org/x/sys/unix"
)

// Poller wraps one kqueue instance. It is not safe for concurrent use.
type Poller struct {
	kq     int
	tokens map[int]Token
	raw    []unix.Kevent_t
}

// New creates a kqueue with close-on-exec set.
func New() (*Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &Poller{kq: kq, tokens: make(map[int]Token)}, nil
}

func (p *Poller) apply(fd int, in Interest, oneshot bool, fresh bool) error {
	flags := uint16(unix.EV_ADD | unix.EV_ENABLE | unix.EV_CLEAR)
	if oneshot {
		flags |= unix.EV_ONESHOT
	}

	var changes [2]unix.Kevent_t
	n := 0
	if in.IsReadable() {
		unix.SetKevent(&changes[n], fd, unix.EVFILT_READ, int(flags))
		n++
	}
	if in.IsWritable() {
		unix.SetKevent(&changes[n], fd, unix.EVFILT_WRITE, int(flags))
		n++
	}
	if n > 0 {
		if _, err := unix.Kevent(p.kq, changes[:n], nil, nil); err != nil {
			return err
		}
	}
	if fresh {
		return nil
	}

	// Drop filters no longer wanted; ENOENT means a one-shot already fired.
	for _, f := range [...]struct {
		want   bool
		filter int
	}{{in.IsReadable(), unix.EVFILT_READ}, {in.IsWritable(), unix.EVFILT_WRITE}} {
		if f.want {
			continue
		}
		var del [1]unix.Kevent_t
		unix.SetKevent(&del[0], fd, f.filter, unix.EV_DELETE)
		if _, err := unix.Kevent(p.kq, del[:], nil, nil); err != nil && err != unix.ENOENT {
			return err
		}
	}
	return nil
}

// Add registers fd under token t, edge-triggered.
func (p *Poller) Add(fd int, t Token, in Interest, oneshot bool) error {
	if err := p.apply(fd, in, oneshot, true); err != nil {
		return err
	}
	p.tokens[fd] = t
	return nil
}

// Rearm re-enables a fired one-shot registration with a possibly different
// interest set.
func (p *Poller) Rearm(fd int, t Token, in Interest) error {
	p.tokens[fd] = t
	return p.apply(fd, in, true, false)
}

// Remove drops every filter registered for fd.
func (p *Poller) Remove(fd int) error {
	delete(p.tokens, fd)
	var del [2]unix.Kevent_t
	unix.SetKevent(&del[0], fd, unix.EVFILT_READ, unix.EV_DELETE)
	unix.SetKevent(&del[1], fd, unix.EVFILT_WRITE, unix.EV_DELETE)
	for i := range del {
		if _, err := unix.Kevent(p.kq, del[i:i+1], nil, nil); err != nil && err != unix.ENOENT {
			return err
		}
	}
	return nil
}

// Wait blocks up to timeout for readiness and fills events. A negative
// timeout blocks indefinitely.
func (p *Poller) Wait(events []Event, timeout time.Duration) (int, error) {
	if cap(p.raw) < len(events) {
		p.raw = make([]unix.Kevent_t, len(events))
	}
	raw := p.raw[:len(events)]

	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}

	n, err := unix.Kevent(p.kq, nil, raw, ts)
	if err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	out := 0
	for i := 0; i < n; i++ {
		fd := int(raw[i].Ident)
		t, ok := p.tokens[fd]
		if !ok {
			continue
		}
		closed := raw[i].Flags&(unix.EV_EOF|unix.EV_ERROR) != 0
		ev := Event{Token: t, Closed: closed}
		switch raw[i].Filter {
		case unix.EVFILT_READ:
			ev.Readable = true
		case unix.EVFILT_WRITE:
			ev.Writable = true
		}
		if closed {
			ev.Readable, ev.Writable = true, true
		}
		events[out] = ev
		out++
	}
	return out, nil
}

// Close releases the kqueue descriptor.
func (p *Poller) Close() error {
	return unix.Close(p.kq)
}
