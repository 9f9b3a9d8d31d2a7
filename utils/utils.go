// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: utils.go - Zero-alloc conversion and stderr print helpers
//
// Purpose:
//   - Byte/string casts that avoid copies on cold diagnostic paths
//   - Integer formatting without fmt
//   - Raw stderr writes used by the debug package
//
// ⚠️ B2s/S2b results alias their input - never mutate either side afterwards
// ─────────────────────────────────────────────────────────────────────────────

package utils

import (
	"os"
	"unsafe"
)

///////////////////////////////////////////////////////////////////////////////
// Conversion Utilities - Zero-Alloc Casts
///////////////////////////////////////////////////////////////////////////////

// B2s converts a []byte to a string **without** allocation.
// ⚠️ Caller must ensure the input slice remains valid and unchanged.
//
//go:nosplit
//go:inline
func B2s(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// S2b views a string as a read-only []byte without copying.
//
//go:nosplit
//go:inline
func S2b(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

///////////////////////////////////////////////////////////////////////////////
// Integer Formatting
///////////////////////////////////////////////////////////////////////////////

// Itoa formats a signed integer in base 10 using a stack buffer.
func Itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	u := uint64(n)
	if neg {
		u = uint64(-n)
	}
	for u > 0 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Utoa formats an unsigned 64-bit integer in base 10.
func Utoa(u uint64) string {
	if u == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for u > 0 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	return string(buf[i:])
}

///////////////////////////////////////////////////////////////////////////////
// Output
///////////////////////////////////////////////////////////////////////////////

// PrintWarning writes msg to stderr unbuffered. Write errors are ignored;
// there is nowhere left to report them.
func PrintWarning(msg string) {
	_, _ = os.Stderr.Write(S2b(msg))
}
