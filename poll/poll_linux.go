//go:build linux

// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: poll_linux.go - epoll backend
//
// Notes:
//   - Every registration carries EPOLLET; clients add EPOLLONESHOT
//   - The 64-bit token is split across the Fd/Pad words of epoll_data
//   - EPOLLRDHUP is requested with Readable so half-closes wake the reader
// ─────────────────────────────────────────────────────────────────────────────

package poll

import (
	"time"

	"golang.org/x/sys/unix"
)

// Poller wraps one epoll instance. It is not safe for concurrent use.
type Poller struct {
	epfd int
	raw  []unix.EpollEvent
}

// New creates an epoll instance with close-on-exec set.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{epfd: epfd}, nil
}

func toEpoll(t Token, in Interest, oneshot bool) unix.EpollEvent {
	ev := unix.EpollEvent{
		Events: unix.EPOLLET,
		Fd:     int32(uint32(t)),
		Pad:    int32(uint32(t >> 32)),
	}
	if in.IsReadable() {
		ev.Events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if in.IsWritable() {
		ev.Events |= unix.EPOLLOUT
	}
	if oneshot {
		ev.Events |= unix.EPOLLONESHOT
	}
	return ev
}

// Add registers fd under token t, edge-triggered.
func (p *Poller) Add(fd int, t Token, in Interest, oneshot bool) error {
	ev := toEpoll(t, in, oneshot)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Rearm re-enables a fired one-shot registration with a possibly different
// interest set.
func (p *Poller) Rearm(fd int, t Token, in Interest) error {
	ev := toEpoll(t, in, true)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Remove drops fd's registration. Closing fd also does this implicitly,
// but only once every duplicate of the descriptor is gone.
func (p *Poller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks up to timeout for readiness and fills events. A negative
// timeout blocks indefinitely.
func (p *Poller) Wait(events []Event, timeout time.Duration) (int, error) {
	if cap(p.raw) < len(events) {
		p.raw = make([]unix.EpollEvent, len(events))
	}
	raw := p.raw[:len(events)]

	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	n, err := unix.EpollWait(p.epfd, raw, ms)
	if err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	for i := 0; i < n; i++ {
		e := raw[i].Events
		closed := e&(unix.EPOLLHUP|unix.EPOLLERR|unix.EPOLLRDHUP) != 0
		events[i] = Event{
			Token:    Token(uint32(raw[i].Fd)) | Token(uint32(raw[i].Pad))<<32,
			Readable: e&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 || closed,
			Writable: e&unix.EPOLLOUT != 0 || e&(unix.EPOLLHUP|unix.EPOLLERR) != 0,
			Closed:   closed,
		}
	}
	return n, nil
}

// Close releases the epoll descriptor.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
