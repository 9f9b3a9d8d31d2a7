// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: ws.go - Server side of the WebSocket opening handshake
//
// Purpose:
//   - Derives Sec-WebSocket-Accept from the client's Sec-WebSocket-Key
//   - Builds the 101 Switching Protocols response
//
// Notes:
//   - The constant part of the response is prebuilt once in init()
//   - The nonce is NOT validated: any input yields some digest
//   - Pure functions, safe from any goroutine
// ─────────────────────────────────────────────────────────────────────────────

package ws

import (
	"crypto/sha1"
	"encoding/base64"
)

// GUID is the fixed string appended to the client nonce before hashing.
const GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptLen is the length of an encoded accept key: base64 of a 20-byte digest.
const AcceptLen = 28

var (
	// responsePrefix holds every byte of the 101 response up to the accept value.
	responsePrefix [128]byte
	prefixLen      int

	responseSuffix = [4]byte{'\r', '\n', '\r', '\n'}
)

// init prebuilds the static response head.
func init() {
	prefixLen = 0
	prefixLen += copy(responsePrefix[prefixLen:], "HTTP/1.1 101 Switching Protocols\r\n")
	prefixLen += copy(responsePrefix[prefixLen:], "Upgrade: websocket\r\n")
	prefixLen += copy(responsePrefix[prefixLen:], "Connection: Upgrade\r\n")
	prefixLen += copy(responsePrefix[prefixLen:], "Sec-WebSocket-Accept: ")

	if prefixLen == len(responsePrefix) {
		panic("response prefix truncated")
	}
}

// AcceptKey returns base64(SHA-1(nonce + GUID)) with standard padding.
func AcceptKey(nonce string) string {
	var out [AcceptLen]byte
	appendAccept(out[:0], nonce)
	return string(out[:])
}

// appendAccept appends the encoded accept key for nonce to dst.
func appendAccept(dst []byte, nonce string) []byte {
	h := sha1.New()
	h.Write([]byte(nonce))
	h.Write([]byte(GUID))

	var sum [sha1.Size]byte
	h.Sum(sum[:0])

	n := len(dst)
	dst = append(dst, make([]byte, AcceptLen)...)
	base64.StdEncoding.Encode(dst[n:], sum[:])
	return dst
}

// AppendResponse appends the complete 101 response for nonce to dst,
// including the blank line that ends the header block.
func AppendResponse(dst []byte, nonce string) []byte {
	dst = append(dst, responsePrefix[:prefixLen]...)
	dst = appendAccept(dst, nonce)
	return append(dst, responseSuffix[:]...)
}

// ResponseLen is the exact length AppendResponse adds for any nonce.
func ResponseLen() int {
	return prefixLen + AcceptLen + len(responseSuffix)
}
