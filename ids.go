package activityz

import (
	"encoding/hex"
)

const (
	traceIDHexLen = 32
	spanIDHexLen  = 16
)

// TraceID identifies a whole trace. The zero value is the explicit default
// and renders as 32 zeros; it is never produced by parsing or generation.
type TraceID [16]byte

// SpanID identifies a single activity within a trace.
type SpanID [8]byte

// TraceFlags carries the W3C trace-flags byte.
type TraceFlags byte

// Trace flag values.
const (
	FlagsNone     TraceFlags = 0
	FlagsRecorded TraceFlags = 1
)

// NewTraceID returns a random, non-zero trace id from the installed IDGenerator.
func NewTraceID() TraceID {
	return currentGenerator().NewTraceID()
}

// NewSpanID returns a random, non-zero span id from the installed IDGenerator.
func NewSpanID() SpanID {
	return currentGenerator().NewSpanID()
}

// TraceIDFromHex parses a 32 character lowercase hex trace id.
func TraceIDFromHex(s string) (TraceID, error) {
	var id TraceID
	if len(s) != traceIDHexLen || !isLowerHexNotAllZeros(s) {
		return id, ErrInvalidTraceID
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return TraceID{}, ErrInvalidTraceID
	}
	return id, nil
}

// SpanIDFromHex parses a 16 character lowercase hex span id.
func SpanIDFromHex(s string) (SpanID, error) {
	var id SpanID
	if len(s) != spanIDHexLen || !isLowerHexNotAllZeros(s) {
		return id, ErrInvalidSpanID
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return SpanID{}, ErrInvalidSpanID
	}
	return id, nil
}

// String returns the lowercase hex form.
func (t TraceID) String() string {
	return hex.EncodeToString(t[:])
}

// IsValid reports whether the id is not the zero default.
func (t TraceID) IsValid() bool {
	return t != TraceID{}
}

// String returns the lowercase hex form.
func (s SpanID) String() string {
	return hex.EncodeToString(s[:])
}

// IsValid reports whether the id is not the zero default.
func (s SpanID) IsValid() bool {
	return s != SpanID{}
}

// IsRecorded reports whether the recorded bit is set.
func (f TraceFlags) IsRecorded() bool {
	return f&FlagsRecorded != 0
}

// String returns the two character hex form used on the wire.
func (f TraceFlags) String() string {
	return string([]byte{hexDigits[f>>4], hexDigits[f&0x0f]})
}

const hexDigits = "0123456789abcdef"

func isLowerHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f')
}

// isLowerHexNotAllZeros rejects anything but lowercase hex, and the all-zero value.
func isLowerHexNotAllZeros(s string) bool {
	nonZero := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isLowerHex(c) {
			return false
		}
		if c != '0' {
			nonZero = true
		}
	}
	return nonZero
}

func parseHexByte(hi, lo byte) (byte, bool) {
	if !isLowerHex(hi) || !isLowerHex(lo) {
		return 0, false
	}
	return unhex(hi)<<4 | unhex(lo), true
}

func unhex(c byte) byte {
	if c <= '9' {
		return c - '0'
	}
	return c - 'a' + 10
}

// MarshalText renders the hex form.
func (t TraceID) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses the hex form.
func (t *TraceID) UnmarshalText(b []byte) error {
	if string(b) == (TraceID{}).String() {
		*t = TraceID{}
		return nil
	}
	id, err := TraceIDFromHex(string(b))
	if err != nil {
		return err
	}
	*t = id
	return nil
}

// MarshalText renders the hex form.
func (s SpanID) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the hex form.
func (s *SpanID) UnmarshalText(b []byte) error {
	if string(b) == (SpanID{}).String() {
		*s = SpanID{}
		return nil
	}
	id, err := SpanIDFromHex(string(b))
	if err != nil {
		return err
	}
	*s = id
	return nil
}
