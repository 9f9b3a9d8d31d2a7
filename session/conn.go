// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: conn.go - Per-connection opening-handshake state machine
//
// Purpose:
//   - Drains a non-blocking socket into the request-head tokenizer
//   - Switches interest from readable to writable once an upgrade is seen
//   - Writes the 101 response, resuming partial writes on the next event
//
// Transitions:
//   AwaitingHandshake --upgrade seen--> HandshakeResponse --response sent--> Connected
//
// Notes:
//   - Any error returned from a handler means: close and forget this Conn
//   - After the handshake the connection keeps Readable interest only to
//     notice end-of-stream; bytes received then are discarded
//
// ⚠️ Owned by the reactor thread. No method is safe for concurrent use.
// ─────────────────────────────────────────────────────────────────────────────

package session

import (
	"errors"
	"io"
	"time"

	"wsreactor/constants"
	"wsreactor/httpparse"
	"wsreactor/netfd"
	"wsreactor/poll"
	"wsreactor/ws"
)

// KeyHeader is the request header whose value seeds the accept key.
const KeyHeader = "Sec-WebSocket-Key"

var (
	// ErrPeerClosed reports an orderly end-of-stream from the client.
	ErrPeerClosed = errors.New("session: peer closed connection")

	// ErrNotUpgrade reports a complete request head that did not ask for
	// a protocol switch. The connection is closed without a reply.
	ErrNotUpgrade = errors.New("session: request is not an upgrade")
)

// Socket is the slice of a non-blocking connection the state machine needs.
// Read and Write report netfd.ErrWouldBlock when they cannot progress, and
// Read reports io.EOF once the peer has closed.
type Socket interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
	Fd() int
	Remote() string
}

// Options tunes a Conn. Zero fields take the defaults from constants; a
// negative MaxHeadBytes removes the head bound.
type Options struct {
	ReadChunk    int
	MaxHeadBytes int
	Clock        func() time.Time
}

// Conn is one client connection and its handshake progress.
type Conn struct {
	sock      Socket
	parser    *httpparse.Parser
	collector Collector
	header    Header
	state     State
	interest  poll.Interest

	buf     []byte
	out     []byte
	written int

	clock      func() time.Time
	created    time.Time
	lastActive time.Time
	received   int
	discarded  int
}

// New wraps sock in AwaitingHandshake with Readable interest.
func New(sock Socket, opts Options) *Conn {
	if opts.ReadChunk <= 0 {
		opts.ReadChunk = constants.ReadChunk
	}
	if opts.MaxHeadBytes == 0 {
		opts.MaxHeadBytes = constants.MaxHeadBytes
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	now := opts.Clock()
	return &Conn{
		sock:       sock,
		parser:     httpparse.New(opts.MaxHeadBytes),
		header:     make(Header),
		state:      AwaitingHandshake,
		interest:   poll.Readable,
		buf:        make([]byte, opts.ReadChunk),
		clock:      opts.Clock,
		created:    now,
		lastActive: now,
	}
}

// ───────────────────────────── Event Handling ─────────────────────────────

// Handle runs the step matching ev and the current interest. Readiness the
// connection did not ask for (other than hangup) is ignored.
func (c *Conn) Handle(ev poll.Event) error {
	if ev.Readable && c.interest.IsReadable() {
		if err := c.HandleReadable(); err != nil {
			return err
		}
	}
	if ev.Writable && c.interest.IsWritable() {
		return c.HandleWritable()
	}
	return nil
}

// HandleReadable drains the socket. In AwaitingHandshake the bytes feed the
// tokenizer; in Connected they are discarded.
func (c *Conn) HandleReadable() error {
	switch c.state {
	case AwaitingHandshake:
		return c.readHandshake()
	case Connected:
		return c.drain()
	}
	return nil
}

func (c *Conn) readHandshake() error {
	for {
		n, err := c.read()
		if err != nil || n == 0 {
			return err
		}

		used, err := c.collector.Feed(c.parser, c.header, c.buf[:n])
		if err != nil {
			return err
		}
		if c.parser.IsUpgrade() {
			c.discarded += n - used
			c.advance(HandshakeResponse)
			c.interest = (c.interest &^ poll.Readable) | poll.Writable
			return nil
		}
		if c.parser.Done() {
			return ErrNotUpgrade
		}
	}
}

func (c *Conn) drain() error {
	for {
		n, err := c.read()
		if err != nil || n == 0 {
			return err
		}
		c.discarded += n
	}
}

// read performs one non-blocking read. (0, nil) means "nothing now".
func (c *Conn) read() (int, error) {
	n, err := c.sock.Read(c.buf)
	switch {
	case errors.Is(err, netfd.ErrWouldBlock):
		return 0, nil
	case err == io.EOF:
		return 0, ErrPeerClosed
	case err != nil:
		return 0, err
	}
	if n > 0 {
		c.received += n
		c.lastActive = c.clock()
	}
	return n, nil
}

// HandleWritable sends the 101 response, continuing where a previous short
// write stopped. On completion the connection is Connected and no longer
// interested in writability.
func (c *Conn) HandleWritable() error {
	if c.state != HandshakeResponse {
		return nil
	}
	if c.out == nil {
		c.out = ws.AppendResponse(make([]byte, 0, ws.ResponseLen()), c.header.Get(KeyHeader))
	}

	for c.written < len(c.out) {
		n, err := c.sock.Write(c.out[c.written:])
		c.written += n
		if errors.Is(err, netfd.ErrWouldBlock) {
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		c.lastActive = c.clock()
	}

	c.advance(Connected)
	c.interest = poll.Readable
	return nil
}

// advance moves to the next state. Anything but the single forward step is
// a bug in this package.
func (c *Conn) advance(to State) {
	if !c.state.CanAdvance(to) {
		panic("session: illegal transition " + c.state.String() + " -> " + to.String())
	}
	c.state = to
}

// ───────────────────────────── Lifecycle ─────────────────────────────

// Expired reports whether an unfinished handshake has been idle longer than
// idle. Connected sessions never expire; idle <= 0 disables the check.
func (c *Conn) Expired(now time.Time, idle time.Duration) bool {
	return idle > 0 && c.state != Connected && now.Sub(c.lastActive) > idle
}

// Close closes the socket.
func (c *Conn) Close() error { return c.sock.Close() }

// ───────────────────────────── Accessors ─────────────────────────────

func (c *Conn) State() State            { return c.state }
func (c *Conn) Interest() poll.Interest { return c.interest }
func (c *Conn) Header() Header          { return c.header }
func (c *Conn) Fd() int                 { return c.sock.Fd() }
func (c *Conn) Remote() string          { return c.sock.Remote() }
func (c *Conn) Target() string          { return c.parser.Target() }
func (c *Conn) Created() time.Time      { return c.created }
func (c *Conn) Received() int           { return c.received }
func (c *Conn) Discarded() int          { return c.discarded }

// Nonce returns the client's Sec-WebSocket-Key, "" if it never sent one.
func (c *Conn) Nonce() string { return c.header.Get(KeyHeader) }

// Accept returns the Sec-WebSocket-Accept value this connection answers with.
func (c *Conn) Accept() string { return ws.AcceptKey(c.Nonce()) }
