// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: poll.go - Readiness notification shared types
//
// Purpose:
//   - Token, Interest and Event used by the reactor regardless of platform
//   - Platform files provide Poller over epoll (linux) or kqueue (darwin)
//
// Semantics (both platforms):
//   - Registrations are edge-triggered: an event fires once per transition
//     into readiness. Consumers MUST drain reads/accepts until EAGAIN.
//   - One-shot registrations are disabled after they fire. Rearm must be
//     called after every delivered event or the token starves forever.
//   - Hangup and error conditions are reported regardless of interest and
//     surface as Closed plus Readable/Writable so the owner hits the error.
//   - An interrupted wait (EINTR) returns zero events and no error.
// ─────────────────────────────────────────────────────────────────────────────

package poll

// Token is the opaque identifier a registration reports back.
type Token uint64

// ListenerToken is reserved for the listening socket and never handed to a
// client connection.
const ListenerToken Token = 0

// Interest is the readiness set a registration waits for.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// IsReadable reports whether i contains Readable.
func (i Interest) IsReadable() bool { return i&Readable != 0 }

// IsWritable reports whether i contains Writable.
func (i Interest) IsWritable() bool { return i&Writable != 0 }

func (i Interest) String() string {
	switch i {
	case 0:
		return "none"
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	case Readable | Writable:
		return "readable|writable"
	}
	return "invalid"
}

// Event is one readiness notification.
type Event struct {
	Token    Token
	Readable bool
	Writable bool
	Closed   bool // peer hangup or socket error
}
