// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: parser.go - Incremental HTTP/1.x request-head tokenizer
//
// Purpose:
//   - Consumes a request head in arbitrary chunks as they come off a
//     non-blocking socket
//   - Reports header-field / header-value / headers-complete events to a
//     Handler supplied per call
//   - Decides on its own whether the request asks for a protocol upgrade
//
// Notes:
//   - Only complete names and values are emitted: a line split across reads
//     is carried internally, so N chunks produce the same events as one
//   - Bodies are never consumed; parsing stops at the blank line
//   - Slices passed to the Handler are only valid during the callback
//
// ⚠️ A Parser belongs to one connection and one goroutine.
// ─────────────────────────────────────────────────────────────────────────────

package httpparse

import (
	"bytes"
	"errors"
	"strings"

	"golang.org/x/net/http/httpguts"

	"wsreactor/utils"
)

// Handler receives the events of one request head. Returning false from
// OnHeaderField or OnHeaderValue aborts the parse with ErrAborted. The result
// of OnHeadersComplete tells the parser whether the caller expects a body;
// false means the head is all there is.
type Handler interface {
	OnHeaderField(name []byte) bool
	OnHeaderValue(value []byte) bool
	OnHeadersComplete() bool
}

var (
	ErrBadRequestLine = errors.New("httpparse: malformed request line")
	ErrBadHeader      = errors.New("httpparse: malformed header line")
	ErrObsFold        = errors.New("httpparse: obsolete line folding")
	ErrHeadTooLarge   = errors.New("httpparse: request head too large")
	ErrAborted        = errors.New("httpparse: aborted by handler")
	ErrDone           = errors.New("httpparse: head already complete")
)

type phase uint8

const (
	phaseRequestLine phase = iota
	phaseHeaders
	phaseDone
)

// Parser tokenizes one request head. The zero value is not usable; call New.
type Parser struct {
	carry []byte // unfinished line from the previous chunk
	max   int    // bound on head bytes, 0 = unbounded
	seen  int    // head bytes consumed so far
	phase phase
	err   error // sticky

	method  string
	target  string
	version string

	hasUpgrade bool
	connection []string
	upgrade    bool
	wantsBody  bool
}

// New returns a Parser that rejects heads longer than maxHead bytes.
// A maxHead of zero disables the bound.
func New(maxHead int) *Parser {
	return &Parser{max: maxHead}
}

// Reset prepares p for a new request head, keeping its bound and buffer.
func (p *Parser) Reset() {
	*p = Parser{carry: p.carry[:0], max: p.max}
}

// Parse feeds data to the tokenizer. It returns the number of bytes that
// belong to the head; once the head is complete, data[n:] is untouched.
// Errors are sticky: every later call returns the same error.
func (p *Parser) Parse(data []byte, h Handler) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	if p.phase == phaseDone {
		return 0, ErrDone
	}

	off := 0
	for off < len(data) {
		i := bytes.IndexByte(data[off:], '\n')
		if i < 0 {
			p.carry = append(p.carry, data[off:]...)
			if p.max > 0 && p.seen+len(p.carry) > p.max {
				return len(data), p.fail(ErrHeadTooLarge)
			}
			return len(data), nil
		}

		end := off + i + 1
		line := data[off : end-1]
		if len(p.carry) > 0 {
			p.carry = append(p.carry, line...)
			line = p.carry
		}
		p.seen += len(line) + 1
		if p.max > 0 && p.seen > p.max {
			return end, p.fail(ErrHeadTooLarge)
		}
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}

		err := p.line(line, h)
		p.carry = p.carry[:0]
		off = end
		if err != nil {
			return off, p.fail(err)
		}
		if p.phase == phaseDone {
			return off, nil
		}
	}
	return off, nil
}

// line dispatches one complete line with its terminator stripped.
func (p *Parser) line(line []byte, h Handler) error {
	switch p.phase {
	case phaseRequestLine:
		// Leading blank lines before the request line are ignored.
		if len(line) == 0 {
			return nil
		}
		return p.requestLine(line)

	case phaseHeaders:
		if len(line) == 0 {
			p.complete(h)
			return nil
		}
		return p.headerLine(line, h)
	}
	return ErrDone
}

// requestLine parses "METHOD SP target SP HTTP/1.x".
func (p *Parser) requestLine(line []byte) error {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return ErrBadRequestLine
	}
	rest := line[sp1+1:]
	sp2 := bytes.IndexByte(rest, ' ')
	if sp2 <= 0 {
		return ErrBadRequestLine
	}

	method := line[:sp1]
	target := rest[:sp2]
	version := rest[sp2+1:]

	if !httpguts.ValidHeaderFieldName(utils.B2s(method)) {
		return ErrBadRequestLine
	}
	for _, c := range target {
		if c <= ' ' || c == 0x7f {
			return ErrBadRequestLine
		}
	}
	switch utils.B2s(version) {
	case "HTTP/1.1", "HTTP/1.0":
	default:
		return ErrBadRequestLine
	}

	p.method = string(method)
	p.target = string(target)
	p.version = string(version)
	p.phase = phaseHeaders
	return nil
}

// headerLine parses "name: OWS value OWS" and emits both halves.
func (p *Parser) headerLine(line []byte, h Handler) error {
	if line[0] == ' ' || line[0] == '\t' {
		return ErrObsFold
	}
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return ErrBadHeader
	}
	name := line[:colon]
	value := trimOWS(line[colon+1:])

	if !httpguts.ValidHeaderFieldName(utils.B2s(name)) {
		return ErrBadHeader
	}
	if !httpguts.ValidHeaderFieldValue(utils.B2s(value)) {
		return ErrBadHeader
	}

	switch {
	case strings.EqualFold(utils.B2s(name), "Upgrade"):
		p.hasUpgrade = p.hasUpgrade || len(value) > 0
	case strings.EqualFold(utils.B2s(name), "Connection"):
		p.connection = append(p.connection, string(value))
	}

	if h == nil {
		return nil
	}
	if !h.OnHeaderField(name) {
		return ErrAborted
	}
	if !h.OnHeaderValue(value) {
		return ErrAborted
	}
	return nil
}

// complete finishes the head. The upgrade decision is made before the
// handler hears about it, so the handler may already consult IsUpgrade.
func (p *Parser) complete(h Handler) {
	p.upgrade = p.method == "CONNECT" ||
		(p.hasUpgrade && httpguts.HeaderValuesContainsToken(p.connection, "upgrade"))
	p.phase = phaseDone
	if h != nil {
		p.wantsBody = h.OnHeadersComplete()
	}
}

func (p *Parser) fail(err error) error {
	p.err = err
	return err
}

func trimOWS(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}

// ───────────────────────────── Accessors ─────────────────────────────

// IsUpgrade reports whether a complete head asked to switch protocols:
// an Upgrade header together with the "upgrade" token in Connection, or
// a CONNECT request. It is false until the head is complete.
func (p *Parser) IsUpgrade() bool { return p.upgrade }

// Done reports whether the blank line ending the head has been seen.
func (p *Parser) Done() bool { return p.phase == phaseDone }

// WantsBody is what the handler returned from OnHeadersComplete.
func (p *Parser) WantsBody() bool { return p.wantsBody }

// Err returns the sticky error, if any.
func (p *Parser) Err() error { return p.err }

// Method returns the request method, e.g. "GET".
func (p *Parser) Method() string { return p.method }

// Target returns the request target exactly as sent.
func (p *Parser) Target() string { return p.target }

// Version returns "HTTP/1.1" or "HTTP/1.0".
func (p *Parser) Version() string { return p.version }

// Consumed returns the number of head bytes accepted so far.
func (p *Parser) Consumed() int { return p.seen + len(p.carry) }
