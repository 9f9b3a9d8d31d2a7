package session

import "wsreactor/httpparse"

// Header maps field names, exactly as received, to their last value.
// No case folding is applied.
type Header map[string]string

// Get returns the value stored under name, matched case-sensitively.
func (h Header) Get(name string) string { return h[name] }

// Collector turns tokenizer events into Header entries. A value is stored
// under the most recently seen field name; at most one name is pending.
//
// The Header it writes to is lent for the duration of Feed only, so the
// owning connection remains the single owner of its header map.
type Collector struct {
	header     Header
	pending    string
	hasPending bool
}

var _ httpparse.Handler = (*Collector)(nil)

// Feed parses data with p, collecting header fields into h.
func (c *Collector) Feed(p *httpparse.Parser, h Header, data []byte) (int, error) {
	c.header = h
	defer func() { c.header = nil }()
	return p.Parse(data, c)
}

// OnHeaderField remembers name. An unconsumed previous name is discarded.
func (c *Collector) OnHeaderField(name []byte) bool {
	c.pending = string(name)
	c.hasPending = true
	return true
}

// OnHeaderValue stores value under the pending name. With no pending name
// (or outside Feed) it stops the parse.
func (c *Collector) OnHeaderValue(value []byte) bool {
	if !c.hasPending || c.header == nil {
		return false
	}
	c.header[c.pending] = string(value)
	c.pending, c.hasPending = "", false
	return true
}

// OnHeadersComplete returns false: a handshake request carries no body.
func (c *Collector) OnHeadersComplete() bool {
	return false
}

// Pending reports the field name still waiting for its value, if any.
func (c *Collector) Pending() (string, bool) {
	return c.pending, c.hasPending
}
