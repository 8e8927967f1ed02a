package activityz

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// IDFormat selects how activity ids are rendered.
type IDFormat uint32

// Id formats.
const (
	IDFormatUnknown IDFormat = iota
	IDFormatHierarchical
	IDFormatW3C
)

func (f IDFormat) String() string {
	switch f {
	case IDFormatUnknown:
		return "unknown"
	case IDFormatHierarchical:
		return "hierarchical"
	case IDFormatW3C:
		return "w3c"
	default:
		return "invalid"
	}
}

func (f IDFormat) valid() bool {
	return f == IDFormatUnknown || f == IDFormatHierarchical || f == IDFormatW3C
}

// requestIDMaxLength bounds hierarchical ids; longer ids are trimmed at a
// delimiter and tagged with a random overflow suffix.
const requestIDMaxLength = 1024

var (
	defaultIDFormat      atomic.Uint32
	forceDefaultIDFormat atomic.Bool
)

func init() {
	defaultIDFormat.Store(uint32(IDFormatW3C))
}

// DefaultIDFormat is used for activities without a parent. It starts as W3C.
func DefaultIDFormat() IDFormat {
	return IDFormat(defaultIDFormat.Load())
}

// SetDefaultIDFormat changes the process default. Unknown is rejected.
func SetDefaultIDFormat(format IDFormat) {
	if format == IDFormatUnknown || !format.valid() {
		notifyError(&ActivityError{Op: "SetDefaultIDFormat", Name: format.String(), Err: ErrInvalidIDFormat})
		return
	}
	defaultIDFormat.Store(uint32(format))
}

// ForceDefaultIDFormat reports whether every activity uses DefaultIDFormat
// regardless of its parent.
func ForceDefaultIDFormat() bool {
	return forceDefaultIDFormat.Load()
}

// SetForceDefaultIDFormat toggles ForceDefaultIDFormat.
func SetForceDefaultIDFormat(force bool) {
	forceDefaultIDFormat.Store(force)
}

// resolveIDFormat picks the format at start: explicit, forced default,
// parent activity, explicit parent context, default, then the shape of the
// parent id string.
func (a *Activity) resolveIDFormat() IDFormat {
	if f := a.IDFormat(); f != IDFormatUnknown {
		return f
	}
	switch {
	case ForceDefaultIDFormat():
		return DefaultIDFormat()
	case a.parent != nil && a.parent.IDFormat() != IDFormatUnknown:
		return a.parent.IDFormat()
	case a.parent != nil:
		return DefaultIDFormat()
	case a.parentSpanID.IsValid():
		return IDFormatW3C
	case a.parentIDStr == "":
		return DefaultIDFormat()
	case IsW3CID(a.parentIDStr):
		return IDFormatW3C
	default:
		return IDFormatHierarchical
	}
}

func (a *Activity) generateW3CID() {
	if !a.traceID.IsValid() {
		switch {
		case a.parent != nil && a.parent.IDFormat() == IDFormatW3C:
			a.traceID = a.parent.TraceID()
		case IsW3CID(a.parentIDStr):
			if id, err := TraceIDFromHex(a.parentIDStr[w3cTraceIDOffset : w3cTraceIDOffset+traceIDHexLen]); err == nil {
				a.traceID = id
			}
		}
		if !a.traceID.IsValid() {
			a.traceID = NewTraceID()
		}
	}
	a.spanID = NewSpanID()

	a.mu.Lock()
	set := a.flagsSet
	a.mu.Unlock()
	if !set {
		a.SetTraceFlags(a.TraceFlags())
	}
}

func (a *Activity) generateHierarchicalID() {
	var id string
	switch {
	case a.parent != nil:
		child := a.parent.currentChildID.Add(1)
		id = appendSuffix(a.parent.ID(), strconv.FormatInt(child, 10), '.')
	case a.parentIDStr != "":
		parentID := a.parentIDStr
		if parentID[0] != '|' {
			parentID = "|" + parentID
		}
		if last := parentID[len(parentID)-1]; last != '.' && last != '_' {
			parentID += "."
		}
		id = appendSuffix(parentID, nextRootCounterHex(), '_')
	default:
		id = generateRootID()
	}
	a.id.Store(&id)
}

// appendSuffix extends a hierarchical parent id, trimming at the last
// delimiter before the overflow window when the result would be too long.
func appendSuffix(parentID, suffix string, delimiter byte) string {
	if len(parentID)+len(suffix) < requestIDMaxLength {
		return parentID + suffix + string(delimiter)
	}

	trim := requestIDMaxLength - 9
	if trim > len(parentID) {
		trim = len(parentID)
	}
	for trim > 1 {
		if c := parentID[trim-1]; c == '.' || c == '_' {
			break
		}
		trim--
	}
	if trim == 1 {
		return generateRootID()
	}
	return parentID[:trim] + fmt.Sprintf("%08x", randomUint32()) + "#"
}

// ID returns the activity id, empty before start. W3C ids are rendered on
// first use and cached.
func (a *Activity) ID() string {
	if a == nil {
		return ""
	}
	if p := a.id.Load(); p != nil {
		return *p
	}
	if a.IDFormat() != IDFormatW3C || !a.spanID.IsValid() {
		return ""
	}
	id := formatW3CID(a.traceID, a.spanID, a.TraceFlags())
	a.id.CompareAndSwap(nil, &id)
	return *a.id.Load()
}

// ParentID returns the id of the parent: the string parent id, the W3C
// rendering of an explicit parent context, or the parent activity's id.
func (a *Activity) ParentID() string {
	if a == nil {
		return ""
	}
	if p := a.parentID.Load(); p != nil {
		return *p
	}

	var id string
	switch {
	case a.parentIDStr != "":
		id = a.parentIDStr
	case a.parentSpanID.IsValid():
		a.mu.Lock()
		flags := a.parentTraceFlags
		a.mu.Unlock()
		id = formatW3CID(a.traceID, a.parentSpanID, flags)
	case a.parent != nil:
		id = a.parent.ID()
	}
	if id == "" {
		return ""
	}
	a.parentID.CompareAndSwap(nil, &id)
	return *a.parentID.Load()
}

// RootID returns the trace-wide root: the trace id for W3C activities, the
// leading segment of the id for hierarchical ones.
func (a *Activity) RootID() string {
	if a == nil {
		return ""
	}
	if p := a.rootID.Load(); p != nil {
		return *p
	}

	var root string
	if id := a.ID(); id != "" {
		root = rootIDOf(id)
	} else if pid := a.ParentID(); pid != "" {
		root = rootIDOf(pid)
	}
	if root == "" {
		return ""
	}
	a.rootID.CompareAndSwap(nil, &root)
	return *a.rootID.Load()
}

func rootIDOf(id string) string {
	if IsW3CID(id) {
		return id[w3cTraceIDOffset : w3cTraceIDOffset+traceIDHexLen]
	}
	start := 0
	if id[0] == '|' {
		start = 1
	}
	end := strings.IndexByte(id, '.')
	if end < 0 {
		end = len(id)
	}
	if end < start {
		return ""
	}
	return id[start:end]
}

// TraceID returns the W3C trace id, zero for hierarchical activities.
func (a *Activity) TraceID() TraceID {
	if a == nil || a.IDFormat() != IDFormatW3C {
		return TraceID{}
	}
	return a.traceID
}

// SpanID returns the W3C span id, zero for hierarchical activities.
func (a *Activity) SpanID() SpanID {
	if a == nil || a.IDFormat() != IDFormatW3C {
		return SpanID{}
	}
	return a.spanID
}

// ParentSpanID returns the span id of the W3C parent, if known.
func (a *Activity) ParentSpanID() SpanID {
	if a == nil {
		return SpanID{}
	}
	switch {
	case a.parentSpanID.IsValid():
		return a.parentSpanID
	case a.parent != nil && a.parent.IDFormat() == IDFormatW3C:
		return a.parent.SpanID()
	case IsW3CID(a.parentIDStr):
		if id, err := SpanIDFromHex(a.parentIDStr[w3cSpanIDOffset : w3cSpanIDOffset+spanIDHexLen]); err == nil {
			return id
		}
	}
	return SpanID{}
}
