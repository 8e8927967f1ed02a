package activityz

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
)

// ActivityKind describes the role of an activity in a trace.
type ActivityKind int

// Activity kinds.
const (
	KindInternal ActivityKind = iota
	KindServer
	KindClient
	KindProducer
	KindConsumer
)

func (k ActivityKind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	case KindProducer:
		return "producer"
	case KindConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

func (k ActivityKind) valid() bool {
	return k >= KindInternal && k <= KindConsumer
}

// StatusCode is the outcome of an activity.
type StatusCode int

// Status codes.
const (
	StatusUnset StatusCode = iota
	StatusOK
	StatusError
)

func (c StatusCode) String() string {
	switch c {
	case StatusUnset:
		return "unset"
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Packed state layout.
const (
	stateFormatMask uint32 = 0b0011
	stateStarted    uint32 = 0b0100
	stateFinished   uint32 = 0b1000
)

// minDuration is what a non-positive measured duration is clamped to.
const minDuration = time.Nanosecond

var defaultClock clockz.Clock = clockz.RealClock

// Activity is a single timed operation within a trace.
//
// Identity fields are written once by Start. Tags, baggage, events and
// custom properties may be read and written from any goroutine. A nil
// *Activity is a valid no-op activity.
//
//nolint:govet // Field order follows lifecycle grouping
type Activity struct {
	startTime      time.Time
	parent         *Activity
	previousActive *Activity
	source         *ActivitySource
	scope          *scope
	clock          clockz.Clock

	tags    atomic.Pointer[tagList]
	baggage atomic.Pointer[baggageList]
	events  atomic.Pointer[linkedList[ActivityEvent]]
	links   atomic.Pointer[linkedList[ActivityLink]]
	props   atomic.Pointer[propertyBag]

	id       atomic.Pointer[string]
	parentID atomic.Pointer[string]
	rootID   atomic.Pointer[string]

	operationName string
	parentIDStr   string
	traceID       TraceID
	spanID        SpanID
	parentSpanID  SpanID

	mu                 sync.Mutex // guards the fields below
	duration           time.Duration
	displayName        string
	statusDescription  string
	traceState         string
	status             StatusCode
	traceFlags         TraceFlags
	parentTraceFlags   TraceFlags
	flagsSet           bool
	isAllDataRequested bool
	hasRemoteParent    bool

	currentChildID atomic.Int64
	state          atomic.Uint32
	kind           ActivityKind
}

// NewActivity creates an activity that is not yet started. It belongs to the
// default source, whose listeners are notified when it starts and stops.
func NewActivity(operationName string) *Activity {
	a := newActivity(operationName, defaultSource)
	if operationName == "" {
		a.misuse("NewActivity", ErrInvalidOperationName)
	}
	return a
}

func newActivity(operationName string, source *ActivitySource) *Activity {
	clock := defaultClock
	if source != nil && source.clock != nil {
		clock = source.clock
	}
	return &Activity{
		operationName: operationName,
		source:        source,
		clock:         clock,
	}
}

func (a *Activity) now() time.Time {
	return a.clock.Now().UTC()
}

// OperationName returns the name given at creation.
func (a *Activity) OperationName() string {
	if a == nil {
		return ""
	}
	return a.operationName
}

// DisplayName returns the display name, defaulting to the operation name.
func (a *Activity) DisplayName() string {
	if a == nil {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.displayName == "" {
		return a.operationName
	}
	return a.displayName
}

// SetDisplayName overrides the display name.
func (a *Activity) SetDisplayName(name string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.displayName = name
}

// Source returns the source that created the activity.
func (a *Activity) Source() *ActivitySource {
	if a == nil {
		return nil
	}
	return a.source
}

// Kind returns the activity kind.
func (a *Activity) Kind() ActivityKind {
	if a == nil {
		return KindInternal
	}
	return a.kind
}

// Parent returns the in-process parent, if any. The parent is not kept
// alive or owned by the child.
func (a *Activity) Parent() *Activity {
	if a == nil {
		return nil
	}
	return a.parent
}

// SetParent links an in-process parent before start.
func (a *Activity) SetParent(parent *Activity) {
	if a == nil {
		return
	}
	switch {
	case a.isStarted():
		a.misuse("SetParent", ErrAlreadyStarted)
	case a.hasParent():
		a.misuse("SetParent", ErrParentAlreadySet)
	default:
		a.parent = parent
	}
}

// SetParentID sets a string parent id, W3C or hierarchical, before start.
func (a *Activity) SetParentID(parentID string) {
	if a == nil {
		return
	}
	switch {
	case a.isStarted():
		a.misuse("SetParentID", ErrAlreadyStarted)
	case a.hasParent():
		a.misuse("SetParentID", ErrParentAlreadySet)
	case parentID == "":
		a.misuse("SetParentID", ErrInvalidParentID)
	default:
		a.parentIDStr = parentID
	}
}

// SetParentContext sets an explicit W3C parent before start.
func (a *Activity) SetParentContext(traceID TraceID, spanID SpanID, flags TraceFlags) {
	if a == nil {
		return
	}
	switch {
	case a.isStarted():
		a.misuse("SetParentContext", ErrAlreadyStarted)
	case a.hasParent():
		a.misuse("SetParentContext", ErrParentAlreadySet)
	case !traceID.IsValid() || !spanID.IsValid():
		a.misuse("SetParentContext", ErrInvalidParentID)
	default:
		a.traceID = traceID
		a.parentSpanID = spanID
		a.mu.Lock()
		a.traceFlags = flags
		a.parentTraceFlags = flags
		a.flagsSet = true
		a.mu.Unlock()
	}
}

func (a *Activity) hasParent() bool {
	return a.parent != nil || a.parentIDStr != "" || a.parentSpanID.IsValid()
}

// IDFormat returns the id format, Unknown until resolved.
func (a *Activity) IDFormat() IDFormat {
	if a == nil {
		return IDFormatUnknown
	}
	return IDFormat(a.state.Load() & stateFormatMask)
}

// SetIDFormat fixes the id format before start.
func (a *Activity) SetIDFormat(format IDFormat) {
	if a == nil {
		return
	}
	if !format.valid() {
		a.misuse("SetIDFormat", ErrInvalidIDFormat)
		return
	}
	if a.isStarted() {
		a.misuse("SetIDFormat", ErrFormatAfterStart)
		return
	}
	a.setFormat(format)
}

func (a *Activity) setFormat(format IDFormat) {
	for {
		old := a.state.Load()
		next := old&^stateFormatMask | uint32(format)
		if a.state.CompareAndSwap(old, next) {
			return
		}
	}
}

func (a *Activity) isStarted() bool {
	return a.state.Load()&stateStarted != 0
}

// IsStopped reports whether Stop has run.
func (a *Activity) IsStopped() bool {
	if a == nil {
		return false
	}
	return a.state.Load()&stateFinished != 0
}

// claim sets flag once; it reports false if it was already set.
func (a *Activity) claim(flag uint32) bool {
	for {
		old := a.state.Load()
		if old&flag != 0 {
			return false
		}
		if a.state.CompareAndSwap(old, old|flag) {
			return true
		}
	}
}

// StartTime returns the UTC start time, zero before start.
func (a *Activity) StartTime() time.Time {
	if a == nil {
		return time.Time{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startTime
}

// SetStartTime overrides the start time before start.
func (a *Activity) SetStartTime(t time.Time) {
	if a == nil {
		return
	}
	if a.isStarted() {
		a.misuse("SetStartTime", ErrStartTimeAfterStart)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.startTime = t.UTC()
}

// Duration is zero until the activity stops or SetEndTime is called, and
// strictly positive afterwards.
func (a *Activity) Duration() time.Duration {
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.duration
}

// SetEndTime fixes the duration relative to the start time.
func (a *Activity) SetEndTime(end time.Time) {
	if a == nil {
		return
	}
	a.mu.Lock()
	if a.startTime.IsZero() {
		a.mu.Unlock()
		a.misuse("SetEndTime", ErrEndTimeBeforeStart)
		return
	}
	a.setEndTimeLocked(end)
	a.mu.Unlock()
}

func (a *Activity) setEndTimeLocked(end time.Time) {
	d := end.Sub(a.startTime)
	if d <= 0 {
		d = minDuration
	}
	a.duration = d
}

// Start assigns ids, adopts the current activity of ctx as parent when no
// parent was given, makes itself current and notifies listeners. The
// returned context carries a new slot holding the activity; ctx itself is
// left untouched, so siblings started from the same ctx share a parent.
func (a *Activity) Start(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if a == nil {
		return ctx
	}
	if !a.claim(stateStarted) {
		a.misuse("Start", ErrAlreadyStarted)
		return ctx
	}

	a.previousActive = Current(ctx)
	sc := &scope{}
	a.scope = sc
	if !a.hasParent() && a.previousActive != nil {
		a.parent = a.previousActive
	}

	a.mu.Lock()
	if a.startTime.IsZero() {
		a.startTime = a.now()
	}
	a.mu.Unlock()

	format := a.resolveIDFormat()
	if format == IDFormatW3C {
		a.generateW3CID()
	} else {
		a.generateHierarchicalID()
	}
	a.setFormat(format)

	sc.current.Store(a)
	a.source.notifyStart(a)
	return context.WithValue(ctx, scopeKey, sc)
}

// Stop finalizes the duration, notifies listeners and resets the slot
// returned by Start to whatever was current when Start ran. Calling it again is a no-op.
func (a *Activity) Stop() {
	if a == nil {
		return
	}
	if !a.isStarted() {
		a.misuse("Stop", ErrNotStarted)
		return
	}
	if !a.claim(stateFinished) {
		return
	}

	a.mu.Lock()
	if a.duration == 0 {
		a.setEndTimeLocked(a.now())
	}
	a.mu.Unlock()

	a.source.notifyStop(a)

	if a.scope != nil {
		a.scope.current.Store(a.previousActive)
	}
}

// IsAllDataRequested reports whether listeners asked for full data.
func (a *Activity) IsAllDataRequested() bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isAllDataRequested
}

// SetAllDataRequested overrides the sampling decision for data collection.
func (a *Activity) SetAllDataRequested(v bool) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.isAllDataRequested = v
}

// HasRemoteParent reports whether the parent context came from another process.
func (a *Activity) HasRemoteParent() bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasRemoteParent
}

// TraceFlags returns the W3C flags, inherited from the parent when never set.
func (a *Activity) TraceFlags() TraceFlags {
	if a == nil {
		return FlagsNone
	}
	a.mu.Lock()
	if a.flagsSet {
		f := a.traceFlags
		a.mu.Unlock()
		return f
	}
	a.mu.Unlock()

	switch {
	case a.parent != nil:
		return a.parent.TraceFlags()
	case a.parentIDStr != "":
		return w3cFlags(a.parentIDStr)
	}
	return FlagsNone
}

// SetTraceFlags sets the W3C flags.
func (a *Activity) SetTraceFlags(flags TraceFlags) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.traceFlags = flags
	a.flagsSet = true
}

// Recorded reports whether the recorded flag is set.
func (a *Activity) Recorded() bool {
	return a.TraceFlags().IsRecorded()
}

// TraceState returns the W3C tracestate, inherited from the parent when unset.
func (a *Activity) TraceState() string {
	if a == nil {
		return ""
	}
	a.mu.Lock()
	ts := a.traceState
	a.mu.Unlock()
	if ts == "" && a.parent != nil {
		return a.parent.TraceState()
	}
	return ts
}

// SetTraceState sets the W3C tracestate.
func (a *Activity) SetTraceState(traceState string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.traceState = traceState
}

// Context returns the propagatable identity of the activity.
func (a *Activity) Context() ActivityContext {
	if a == nil {
		return ActivityContext{}
	}
	return ActivityContext{
		TraceID:    a.TraceID(),
		SpanID:     a.SpanID(),
		TraceFlags: a.TraceFlags(),
		TraceState: a.TraceState(),
	}
}

// SetStatus records the outcome. The description is kept only for StatusError.
func (a *Activity) SetStatus(code StatusCode, description string) {
	if a == nil {
		return
	}
	if code < StatusUnset || code > StatusError {
		a.misuse("SetStatus", ErrInvalidStatus)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = code
	if code == StatusError {
		a.statusDescription = description
	} else {
		a.statusDescription = ""
	}
}

// Status returns the status code.
func (a *Activity) Status() StatusCode {
	if a == nil {
		return StatusUnset
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// StatusDescription returns the error description, empty unless StatusError.
func (a *Activity) StatusDescription() string {
	if a == nil {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statusDescription
}

type propertyBag struct {
	m  map[string]any
	mu sync.Mutex
}

// SetCustomProperty attaches an arbitrary value that is not exported with
// the activity. A nil value removes the property.
func (a *Activity) SetCustomProperty(key string, value any) {
	if a == nil {
		return
	}
	bag := a.props.Load()
	if bag == nil {
		a.props.CompareAndSwap(nil, &propertyBag{m: make(map[string]any)})
		bag = a.props.Load()
	}
	bag.mu.Lock()
	defer bag.mu.Unlock()
	if value == nil {
		delete(bag.m, key)
		return
	}
	bag.m[key] = value
}

// GetCustomProperty returns a value set with SetCustomProperty.
func (a *Activity) GetCustomProperty(key string) any {
	if a == nil {
		return nil
	}
	bag := a.props.Load()
	if bag == nil {
		return nil
	}
	bag.mu.Lock()
	defer bag.mu.Unlock()
	return bag.m[key]
}
