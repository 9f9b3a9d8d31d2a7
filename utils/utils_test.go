package utils

import (
	"math"
	"strconv"
	"testing"
)

// ============================================================================
// ZERO-ALLOCATION TYPE CONVERSION TESTS
// ============================================================================

func TestB2s(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{name: "Empty slice", input: []byte{}, expected: ""},
		{name: "Nil slice", input: nil, expected: ""},
		{name: "ASCII", input: []byte("Upgrade"), expected: "Upgrade"},
		{name: "With CRLF", input: []byte("a\r\nb"), expected: "a\r\nb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := B2s(tt.input); got != tt.expected {
				t.Errorf("B2s(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestS2bRoundTrip(t *testing.T) {
	for _, s := range []string{"", "x", "Sec-WebSocket-Key"} {
		if got := B2s(S2b(s)); got != s {
			t.Errorf("round trip of %q gave %q", s, got)
		}
	}
}

// ============================================================================
// INTEGER FORMATTING TESTS
// ============================================================================

func TestItoa(t *testing.T) {
	for _, n := range []int{0, 1, -1, 9, 10, 2048, -10000, math.MaxInt64, math.MinInt64 + 1} {
		if got, want := Itoa(n), strconv.Itoa(n); got != want {
			t.Errorf("Itoa(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestUtoa(t *testing.T) {
	for _, u := range []uint64{0, 1, 10, 1 << 32, math.MaxUint64} {
		if got, want := Utoa(u), strconv.FormatUint(u, 10); got != want {
			t.Errorf("Utoa(%d) = %q, want %q", u, got, want)
		}
	}
}

func BenchmarkItoa(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = Itoa(i)
	}
}
