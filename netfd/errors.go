package netfd

import "errors"

var (
	// ErrWouldBlock reports that a non-blocking call has nothing to do right now.
	ErrWouldBlock = errors.New("netfd: operation would block")

	// ErrClosed is returned by operations on a closed descriptor.
	ErrClosed = errors.New("netfd: use of closed descriptor")
)
