//go:build darwin

package netfd

import "golang.org/x/sys/unix"

// Darwin has neither SOCK_NONBLOCK nor accept4; flags are set afterwards.

func newSocket(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	if err := prepare(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func accept(fd int) (int, unix.Sockaddr, error) {
	nfd, sa, err := unix.Accept(fd)
	if err != nil {
		return -1, nil, err
	}
	if err := prepare(nfd); err != nil {
		unix.Close(nfd)
		return -1, nil, err
	}
	// Writes to a reset peer must fail with EPIPE, not raise SIGPIPE.
	_ = unix.SetsockoptInt(nfd, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)
	return nfd, sa, nil
}

func prepare(fd int) error {
	unix.CloseOnExec(fd)
	return unix.SetNonblock(fd, true)
}
