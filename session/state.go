package session

// State is the handshake progress of one connection. It only moves forward.
type State uint8

const (
	AwaitingHandshake State = iota
	HandshakeResponse
	Connected
)

func (s State) String() string {
	switch s {
	case AwaitingHandshake:
		return "AwaitingHandshake"
	case HandshakeResponse:
		return "HandshakeResponse"
	case Connected:
		return "Connected"
	}
	return "State(?)"
}

// CanAdvance reports whether to is the sole successor of s.
func (s State) CanAdvance(to State) bool {
	return s < Connected && to == s+1
}
