package activityz

import (
	"sync"
)

// SamplingResult is a listener's vote. Votes are merged by taking the maximum.
type SamplingResult int

// Sampling results, weakest first.
const (
	SamplingNone SamplingResult = iota
	SamplingPropagationData
	SamplingAllData
	SamplingAllDataAndRecorded
)

func (r SamplingResult) String() string {
	switch r {
	case SamplingNone:
		return "none"
	case SamplingPropagationData:
		return "propagation"
	case SamplingAllData:
		return "all"
	case SamplingAllDataAndRecorded:
		return "recorded"
	default:
		return "invalid"
	}
}

// ParseSamplingResult accepts the names produced by String.
func ParseSamplingResult(s string) (SamplingResult, bool) {
	switch s {
	case "none":
		return SamplingNone, true
	case "propagation":
		return SamplingPropagationData, true
	case "all":
		return SamplingAllData, true
	case "recorded":
		return SamplingAllDataAndRecorded, true
	default:
		return SamplingNone, false
	}
}

// ParentType is the parent carried by creation options: a parsed context or
// a raw parent id string.
type ParentType interface {
	ActivityContext | string
}

// ActivityCreationOptions describes an activity that has not been created
// yet. Samplers receive a pointer and may add sampling tags or a trace state.
//
//nolint:govet // Field order mirrors the creation call
type ActivityCreationOptions[T ParentType] struct {
	Source   *ActivitySource
	Name     string
	Kind     ActivityKind
	Parent   T
	Tags     []KeyValue
	Links    []ActivityLink
	IDFormat IDFormat

	// parentContext is Parent as a context: the parent itself, or the
	// parsed form of a W3C parent id string.
	parentContext ActivityContext
	generateTrace bool
	shared        *samplingState
}

// samplingState is shared by the string and context flavours of the options
// built for one creation, so either sampler sees the other's additions.
type samplingState struct {
	tags          []KeyValue
	traceState    string
	traceID       TraceID
	mu            sync.Mutex
	traceStateSet bool
}

// SetSamplingTag adds a tag that will be attached to the created activity.
func (o *ActivityCreationOptions[T]) SetSamplingTag(key string, value any) {
	o.shared.mu.Lock()
	defer o.shared.mu.Unlock()
	o.shared.tags = append(o.shared.tags, KeyValue{Key: key, Value: value})
}

// SamplingTags returns the tags added by samplers so far.
func (o *ActivityCreationOptions[T]) SamplingTags() []KeyValue {
	o.shared.mu.Lock()
	defer o.shared.mu.Unlock()
	out := make([]KeyValue, len(o.shared.tags))
	copy(out, o.shared.tags)
	return out
}

// TraceState returns the trace state the activity will carry.
func (o *ActivityCreationOptions[T]) TraceState() string {
	o.shared.mu.Lock()
	defer o.shared.mu.Unlock()
	if o.shared.traceStateSet {
		return o.shared.traceState
	}
	return o.parentContext.TraceState
}

// SetTraceState overrides the trace state the activity will carry.
func (o *ActivityCreationOptions[T]) SetTraceState(traceState string) {
	o.shared.mu.Lock()
	defer o.shared.mu.Unlock()
	o.shared.traceState = traceState
	o.shared.traceStateSet = true
}

// TraceID returns the trace id the activity will belong to. For a W3C root
// activity it is generated on first call and reused for the activity, so
// trace-id based samplers agree with the final id.
func (o *ActivityCreationOptions[T]) TraceID() TraceID {
	if o.parentContext.TraceID.IsValid() {
		return o.parentContext.TraceID
	}
	if !o.generateTrace {
		return TraceID{}
	}
	o.shared.mu.Lock()
	defer o.shared.mu.Unlock()
	if !o.shared.traceID.IsValid() {
		o.shared.traceID = NewTraceID()
	}
	return o.shared.traceID
}

// ParentContext returns the parent as an ActivityContext; zero for
// hierarchical parent ids.
func (o *ActivityCreationOptions[T]) ParentContext() ActivityContext {
	return o.parentContext
}

// generatedTraceID reports a trace id produced during sampling, if any.
func (s *samplingState) generatedTraceID() TraceID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.traceID
}
