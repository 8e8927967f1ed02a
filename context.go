package activityz

// W3C id layout: 00-{32 hex trace}-{16 hex span}-{2 hex flags}.
const (
	w3cIDLen          = 55
	w3cTraceIDOffset  = 3
	w3cSpanIDOffset   = 36
	w3cFlagsOffset    = 53
	w3cVersionDefault = "00"
)

// ActivityContext is an immutable, propagatable snapshot of trace identity.
type ActivityContext struct {
	TraceState string
	TraceID    TraceID
	SpanID     SpanID
	TraceFlags TraceFlags
	IsRemote   bool
}

// NewActivityContext builds a context from its parts.
func NewActivityContext(traceID TraceID, spanID SpanID, flags TraceFlags, traceState string, isRemote bool) ActivityContext {
	return ActivityContext{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		TraceState: traceState,
		IsRemote:   isRemote,
	}
}

// IsZero reports whether c is the default context.
func (c ActivityContext) IsZero() bool {
	return c == ActivityContext{}
}

// IsValid reports whether both ids are set.
func (c ActivityContext) IsValid() bool {
	return c.TraceID.IsValid() && c.SpanID.IsValid()
}

// TraceParent renders the W3C traceparent value.
func (c ActivityContext) TraceParent() string {
	return formatW3CID(c.TraceID, c.SpanID, c.TraceFlags)
}

// ParseActivityContext parses a W3C traceparent value.
func ParseActivityContext(traceParent, traceState string, isRemote bool) (ActivityContext, error) {
	c, ok := TryConvertIDToContext(traceParent, traceState, isRemote)
	if !ok {
		return ActivityContext{}, ErrInvalidTraceParent
	}
	return c, nil
}

// TryParseActivityContext is ParseActivityContext with a boolean result.
func TryParseActivityContext(traceParent, traceState string, isRemote bool) (ActivityContext, bool) {
	return TryConvertIDToContext(traceParent, traceState, isRemote)
}

// TryConvertIDToContext parses a 55 character W3C id. Input from untrusted
// peers is expected to be malformed at times, so failure is a false result.
func TryConvertIDToContext(id, traceState string, isRemote bool) (ActivityContext, bool) {
	if !IsW3CID(id) || id[2] != '-' || id[35] != '-' || id[52] != '-' {
		return ActivityContext{}, false
	}

	traceID, err := TraceIDFromHex(id[w3cTraceIDOffset : w3cTraceIDOffset+traceIDHexLen])
	if err != nil {
		return ActivityContext{}, false
	}
	spanID, err := SpanIDFromHex(id[w3cSpanIDOffset : w3cSpanIDOffset+spanIDHexLen])
	if err != nil {
		return ActivityContext{}, false
	}
	flags, ok := parseHexByte(id[w3cFlagsOffset], id[w3cFlagsOffset+1])
	if !ok {
		return ActivityContext{}, false
	}

	return ActivityContext{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: TraceFlags(flags),
		TraceState: traceState,
		IsRemote:   isRemote,
	}, true
}

// IsW3CID reports whether id has the shape of a W3C id: 55 characters
// starting with a lowercase hex version other than ff.
func IsW3CID(id string) bool {
	return len(id) == w3cIDLen &&
		isLowerHex(id[0]) && isLowerHex(id[1]) &&
		(id[0] != 'f' || id[1] != 'f')
}

func formatW3CID(traceID TraceID, spanID SpanID, flags TraceFlags) string {
	b := make([]byte, 0, w3cIDLen)
	b = append(b, w3cVersionDefault...)
	b = append(b, '-')
	b = append(b, traceID.String()...)
	b = append(b, '-')
	b = append(b, spanID.String()...)
	b = append(b, '-')
	b = append(b, flags.String()...)
	return string(b)
}

// w3cFlags extracts the flags of a W3C shaped id, zero if unparsable.
func w3cFlags(id string) TraceFlags {
	if !IsW3CID(id) {
		return FlagsNone
	}
	f, ok := parseHexByte(id[w3cFlagsOffset], id[w3cFlagsOffset+1])
	if !ok {
		return FlagsNone
	}
	return TraceFlags(f)
}
