package activityz

import (
	"sync/atomic"
)

// WildcardSource is the SourceName of listeners that vote only when no
// specifically matched listener asked for the activity.
const WildcardSource = "*"

// SampleActivity decides how much of an activity is recorded. It may add
// sampling tags and set the trace state on options.
type SampleActivity[T ParentType] func(options *ActivityCreationOptions[T]) SamplingResult

// ActivityListener is the callback bundle a consumer registers to observe
// activities. Any callback may be nil.
//
// SourceName narrows the sources listened to: an exact source name,
// WildcardSource for every source, or empty to rely on ShouldListenTo alone.
// When SourceName is set, ShouldListenTo, if present, further filters.
//
//nolint:govet // Field order mirrors the callback protocol
type ActivityListener struct {
	SourceName          string
	ShouldListenTo      func(source *ActivitySource) bool
	Sample              SampleActivity[ActivityContext]
	SampleUsingParentID SampleActivity[string]
	ActivityStarted     func(activity *Activity)
	ActivityStopped     func(activity *Activity)

	registered atomic.Bool
}

// IsWildcard reports whether the listener is a fallback voter.
func (l *ActivityListener) IsWildcard() bool {
	return l.SourceName == WildcardSource
}

// AddActivityListener registers l with every current and future source it
// listens to.
func AddActivityListener(l *ActivityListener) {
	if l == nil || !l.registered.CompareAndSwap(false, true) {
		return
	}
	allListeners.Add(l)
	activeSources.Each(func(s *ActivitySource) bool {
		if l.listensTo(s) {
			s.addListener(l)
		}
		return true
	})
}

// Close unregisters the listener from every source.
func (l *ActivityListener) Close() {
	if l == nil || !l.registered.CompareAndSwap(true, false) {
		return
	}
	allListeners.Remove(l)
	activeSources.Each(func(s *ActivitySource) bool {
		s.removeListener(l)
		return true
	})
}

func (l *ActivityListener) listensTo(s *ActivitySource) (ok bool) {
	switch l.SourceName {
	case "":
		if l.ShouldListenTo == nil {
			return false
		}
	case WildcardSource:
	default:
		if l.SourceName != s.Name {
			return false
		}
	}
	if l.ShouldListenTo == nil {
		return true
	}

	defer func() {
		if r := recover(); r != nil {
			notifyError(&ListenerPanicError{Callback: "ShouldListenTo", Source: s.Name, Value: r})
			ok = false
		}
	}()
	return l.ShouldListenTo(s)
}

func (l *ActivityListener) activityStarted(a *Activity) {
	if l.ActivityStarted == nil {
		return
	}
	defer l.recoverCallback("ActivityStarted", a.source)
	l.ActivityStarted(a)
}

func (l *ActivityListener) activityStopped(a *Activity) {
	if l.ActivityStopped == nil {
		return
	}
	defer l.recoverCallback("ActivityStopped", a.source)
	l.ActivityStopped(a)
}

func (l *ActivityListener) recoverCallback(callback string, s *ActivitySource) {
	if r := recover(); r != nil {
		name := ""
		if s != nil {
			name = s.Name
		}
		notifyError(&ListenerPanicError{Callback: callback, Source: name, Value: r})
	}
}

// callSampler runs fn, treating a panic or an out-of-range result as None.
func callSampler[T ParentType](fn SampleActivity[T], opts *ActivityCreationOptions[T]) (result SamplingResult) {
	defer func() {
		if r := recover(); r != nil {
			name := ""
			if opts.Source != nil {
				name = opts.Source.Name
			}
			notifyError(&ListenerPanicError{Callback: "Sample", Source: name, Value: r})
			result = SamplingNone
		}
	}()
	result = fn(opts)
	if result < SamplingNone || result > SamplingAllDataAndRecorded {
		return SamplingNone
	}
	return result
}
