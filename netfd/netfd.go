//go:build linux || darwin

// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: netfd.go - Non-blocking TCP sockets on raw descriptors
//
// Purpose:
//   - Listener and Socket types the reactor registers with its poller
//   - EAGAIN becomes ErrWouldBlock, a zero-length read becomes io.EOF
//
// Notes:
//   - Descriptors never touch the Go runtime netpoller
//   - EINTR is retried in place
//   - A zero-length read into a zero-length buffer is not end-of-stream
// ─────────────────────────────────────────────────────────────────────────────

package netfd

import (
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// Listener is a non-blocking listening TCP socket.
type Listener struct {
	fd   int
	addr *net.TCPAddr
}

// Listen binds and listens on addr ("host:port"). The socket is non-blocking
// with SO_REUSEADDR set. Port 0 picks a free port; see Addr.
func Listen(addr string, backlog int) (*Listener, error) {
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}

	family := unix.AF_INET
	if ta.IP != nil && ta.IP.To4() == nil {
		family = unix.AF_INET6
	}

	fd, err := newSocket(family)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, toSockaddr(family, ta)); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, err
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &Listener{fd: fd, addr: fromSockaddr(sa)}, nil
}

// Fd returns the listening descriptor.
func (l *Listener) Fd() int { return l.fd }

// Addr returns the bound address, with the kernel-chosen port if 0 was asked.
func (l *Listener) Addr() *net.TCPAddr { return l.addr }

// Accept takes one pending connection. It returns ErrWouldBlock when the
// backlog is empty, which under edge triggering is routine.
func (l *Listener) Accept() (*Socket, error) {
	if l.fd < 0 {
		return nil, ErrClosed
	}
	for {
		nfd, sa, err := accept(l.fd)
		switch err {
		case nil:
		case unix.EINTR, unix.ECONNABORTED:
			continue
		case unix.EAGAIN:
			return nil, ErrWouldBlock
		default:
			return nil, err
		}

		_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		return &Socket{fd: nfd, remote: fromSockaddr(sa)}, nil
	}
}

// Close closes the listening descriptor. Further calls are no-ops.
func (l *Listener) Close() error {
	if l.fd < 0 {
		return nil
	}
	err := unix.Close(l.fd)
	l.fd = -1
	return err
}

// Socket is one accepted, non-blocking TCP connection.
type Socket struct {
	fd     int
	remote *net.TCPAddr
}

// Fd returns the connection's descriptor.
func (s *Socket) Fd() int { return s.fd }

// Remote returns the peer address as "ip:port", or "" if unknown.
func (s *Socket) Remote() string {
	if s.remote == nil {
		return ""
	}
	return s.remote.String()
}

// Read reads what is available now. It returns ErrWouldBlock when the socket
// buffer is empty and io.EOF once the peer has closed its side.
func (s *Socket) Read(b []byte) (int, error) {
	if s.fd < 0 {
		return 0, ErrClosed
	}
	for {
		n, err := unix.Read(s.fd, b)
		switch err {
		case nil:
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, ErrWouldBlock
		default:
			return 0, err
		}
		if n == 0 && len(b) > 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write writes as much of b as the socket buffer takes. A short count with
// ErrWouldBlock means the rest must wait for writability.
func (s *Socket) Write(b []byte) (int, error) {
	if s.fd < 0 {
		return 0, ErrClosed
	}
	total := 0
	for total < len(b) {
		n, err := unix.Write(s.fd, b[total:])
		switch err {
		case nil:
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return total, ErrWouldBlock
		default:
			return total, err
		}
		total += n
	}
	return total, nil
}

// Close closes the descriptor. Further calls are no-ops.
func (s *Socket) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

func toSockaddr(family int, a *net.TCPAddr) unix.Sockaddr {
	if family == unix.AF_INET6 {
		sa := &unix.SockaddrInet6{Port: a.Port}
		copy(sa.Addr[:], a.IP.To16())
		if a.Zone != "" {
			if ifi, err := net.InterfaceByName(a.Zone); err == nil {
				sa.ZoneId = uint32(ifi.Index)
			}
		}
		return sa
	}
	sa := &unix.SockaddrInet4{Port: a.Port}
	if ip4 := a.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}
	return sa
}

func fromSockaddr(sa unix.Sockaddr) *net.TCPAddr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IPv4(v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3]), Port: v.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, v.Addr[:])
		return &net.TCPAddr{IP: ip, Port: v.Port}
	}
	return nil
}
