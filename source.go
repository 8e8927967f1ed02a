package activityz

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
)

// ActivitySource is a named factory of activities. It only creates
// activities while at least one interested listener is registered and
// votes for them.
//
//nolint:govet // Field order optimized for the no-listener fast path
type ActivitySource struct {
	listeners atomic.Pointer[syncList[*ActivityListener]]
	clock     clockz.Clock
	Name      string
	Version   string
	closed    atomic.Bool
}

// defaultSource owns activities created with NewActivity.
var defaultSource = NewActivitySource("")

// SourceOption configures an ActivitySource.
type SourceOption func(*ActivitySource)

// WithVersion sets the source version.
func WithVersion(version string) SourceOption {
	return func(s *ActivitySource) { s.Version = version }
}

// WithClock sets the clock used to time the source's activities.
// Enables clock injection for deterministic testing.
func WithClock(clock clockz.Clock) SourceOption {
	return func(s *ActivitySource) { s.clock = clock }
}

// NewActivitySource creates and registers a source, attaching every
// registered listener that wants it.
func NewActivitySource(name string, opts ...SourceOption) *ActivitySource {
	s := &ActivitySource{Name: name, clock: defaultClock}
	for _, opt := range opts {
		opt(s)
	}

	activeSources.Add(s)
	allListeners.Each(func(l *ActivityListener) bool {
		if l.listensTo(s) {
			s.addListener(l)
		}
		return true
	})
	return s
}

// Close unregisters the source and drops its listeners.
func (s *ActivitySource) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	activeSources.Remove(s)
	s.listeners.Store(nil)
}

// HasListeners reports whether any listener is attached.
func (s *ActivitySource) HasListeners() bool {
	l := s.listeners.Load()
	return l != nil && l.count.Load() > 0
}

func (s *ActivitySource) addListener(l *ActivityListener) {
	if s.closed.Load() {
		return
	}
	list := s.listeners.Load()
	if list == nil {
		s.listeners.CompareAndSwap(nil, &syncList[*ActivityListener]{})
		list = s.listeners.Load()
		if list == nil {
			return
		}
	}
	list.Add(l)
}

func (s *ActivitySource) removeListener(l *ActivityListener) {
	if list := s.listeners.Load(); list != nil {
		list.Remove(l)
	}
}

func (s *ActivitySource) notifyStart(a *Activity) {
	if s == nil {
		return
	}
	if list := s.listeners.Load(); list != nil {
		list.Each(func(l *ActivityListener) bool {
			l.activityStarted(a)
			return true
		})
	}
}

func (s *ActivitySource) notifyStop(a *Activity) {
	if s == nil {
		return
	}
	if list := s.listeners.Load(); list != nil {
		list.Each(func(l *ActivityListener) bool {
			l.activityStopped(a)
			return true
		})
	}
}

// startConfig collects StartOption values.
//
//nolint:govet // Field order mirrors the option list
type startConfig struct {
	parentContext ActivityContext
	parentID      string
	tags          []KeyValue
	links         []ActivityLink
	startTime     time.Time
	kind          ActivityKind
	idFormat      IDFormat
}

// StartOption configures an activity created by a source.
type StartOption func(*startConfig)

// WithKind sets the activity kind.
func WithKind(kind ActivityKind) StartOption {
	return func(c *startConfig) { c.kind = kind }
}

// WithParentContext sets an explicit parent context, typically extracted
// from a remote peer.
func WithParentContext(parent ActivityContext) StartOption {
	return func(c *startConfig) { c.parentContext = parent }
}

// WithParentID sets a W3C or hierarchical parent id string.
func WithParentID(parentID string) StartOption {
	return func(c *startConfig) { c.parentID = parentID }
}

// WithTags sets initial tags, visible to samplers.
func WithTags(tags ...KeyValue) StartOption {
	return func(c *startConfig) { c.tags = append(c.tags, tags...) }
}

// WithLinks sets the links of the activity.
func WithLinks(links ...ActivityLink) StartOption {
	return func(c *startConfig) { c.links = append(c.links, links...) }
}

// WithStartTime overrides the start time.
func WithStartTime(t time.Time) StartOption {
	return func(c *startConfig) { c.startTime = t }
}

// WithIDFormat forces the id format of the activity.
func WithIDFormat(format IDFormat) StartOption {
	return func(c *startConfig) { c.idFormat = format }
}

// StartActivity creates and starts an activity. It returns ctx unchanged and
// a nil activity when no listener is attached or every listener declined.
func (s *ActivitySource) StartActivity(ctx context.Context, name string, opts ...StartOption) (context.Context, *Activity) {
	if !s.HasListeners() {
		return ctx, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	a := s.createActivity(ctx, name, opts)
	if a == nil {
		return ctx, nil
	}
	return a.Start(ctx), a
}

// CreateActivity runs the sampling protocol and returns an activity that is
// not yet started, or nil.
func (s *ActivitySource) CreateActivity(ctx context.Context, name string, opts ...StartOption) *Activity {
	if !s.HasListeners() {
		return nil
	}
	return s.createActivity(ctx, name, opts)
}

func (s *ActivitySource) createActivity(ctx context.Context, name string, opts []StartOption) *Activity {
	cfg := startConfig{kind: KindInternal}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.kind.valid() {
		notifyError(&ActivityError{Op: "CreateActivity", Name: name, Err: ErrInvalidKind})
		cfg.kind = KindInternal
	}
	if !cfg.idFormat.valid() {
		notifyError(&ActivityError{Op: "CreateActivity", Name: name, Err: ErrInvalidIDFormat})
		cfg.idFormat = IDFormatUnknown
	}

	current := Current(ctx)
	idFormat := cfg.idFormat
	if idFormat == IDFormatUnknown && ForceDefaultIDFormat() {
		idFormat = DefaultIDFormat()
	}

	shared := &samplingState{}
	var (
		result    SamplingResult
		parentCtx = cfg.parentContext
		baseFlags TraceFlags
	)

	if cfg.parentID != "" {
		byID := &ActivityCreationOptions[string]{
			Source: s, Name: name, Kind: cfg.kind, Parent: cfg.parentID,
			Tags: cfg.tags, Links: cfg.links, IDFormat: idFormat, shared: shared,
		}
		if byID.IDFormat != IDFormatHierarchical {
			if c, ok := TryConvertIDToContext(cfg.parentID, "", false); ok {
				byID.parentContext = c
				if byID.IDFormat == IDFormatUnknown {
					byID.IDFormat = IDFormatW3C
				}
			} else if byID.IDFormat == IDFormatUnknown {
				byID.IDFormat = IDFormatHierarchical
			}
		}

		var byContext *ActivityCreationOptions[ActivityContext]
		if byID.IDFormat == IDFormatW3C {
			byContext = &ActivityCreationOptions[ActivityContext]{
				Source: s, Name: name, Kind: cfg.kind, Parent: byID.parentContext,
				Tags: cfg.tags, Links: cfg.links, IDFormat: IDFormatW3C,
				parentContext: byID.parentContext, shared: shared,
			}
		}

		result = s.sample(func(l *ActivityListener) SamplingResult {
			if l.SampleUsingParentID != nil {
				return callSampler(l.SampleUsingParentID, byID)
			}
			if byContext != nil && l.Sample != nil {
				return callSampler(l.Sample, byContext)
			}
			return SamplingNone
		})
		idFormat = byID.IDFormat
		baseFlags = byID.parentContext.TraceFlags
	} else {
		useCurrent := parentCtx.IsZero() && current != nil
		parent := parentCtx
		if useCurrent {
			parent = current.Context()
		}

		byContext := &ActivityCreationOptions[ActivityContext]{
			Source: s, Name: name, Kind: cfg.kind, Parent: parent,
			Tags: cfg.tags, Links: cfg.links, IDFormat: idFormat,
			parentContext: parent, shared: shared,
		}
		if byContext.IDFormat == IDFormatUnknown {
			switch {
			case useCurrent:
				byContext.IDFormat = current.IDFormat()
			case !parent.IsZero():
				byContext.IDFormat = IDFormatW3C
			default:
				byContext.IDFormat = DefaultIDFormat()
			}
		}
		byContext.generateTrace = byContext.IDFormat == IDFormatW3C && !parent.TraceID.IsValid()

		result = s.sample(func(l *ActivityListener) SamplingResult {
			if l.Sample != nil {
				return callSampler(l.Sample, byContext)
			}
			return SamplingNone
		})

		// A trace id generated while sampling becomes the root of the new trace.
		if !useCurrent {
			if id := shared.generatedTraceID(); id.IsValid() && !parentCtx.TraceID.IsValid() {
				parentCtx.TraceID = id
			}
		}
		idFormat = byContext.IDFormat
		baseFlags = parent.TraceFlags
	}

	if result == SamplingNone {
		return nil
	}

	a := newActivity(name, s)
	a.kind = cfg.kind
	if idFormat != IDFormatUnknown {
		a.setFormat(idFormat)
	}
	a.setLinks(cfg.links)
	a.addTags(cfg.tags)
	a.addTags(shared.tags)

	if cfg.parentID != "" {
		a.parentIDStr = cfg.parentID
	} else if !parentCtx.IsZero() {
		a.traceID = parentCtx.TraceID
		if parentCtx.SpanID.IsValid() {
			a.parentSpanID = parentCtx.SpanID
		}
		a.parentTraceFlags = parentCtx.TraceFlags
		a.hasRemoteParent = parentCtx.IsRemote
	}

	a.isAllDataRequested = result >= SamplingAllData
	a.traceFlags = baseFlags &^ FlagsRecorded
	if result == SamplingAllDataAndRecorded {
		a.traceFlags |= FlagsRecorded
	}
	a.flagsSet = true

	if shared.traceStateSet {
		a.traceState = shared.traceState
	} else if !parentCtx.IsZero() {
		a.traceState = parentCtx.TraceState
	}
	if !cfg.startTime.IsZero() {
		a.startTime = cfg.startTime.UTC()
	}
	return a
}

// sample merges listener votes. Specifically matched listeners vote first,
// in registration order, and stop early on the strongest vote. Wildcard
// listeners are consulted only when every other listener voted None. Each
// listener is asked at most once; registrations during the vote are not
// seen until the next activity.
func (s *ActivitySource) sample(vote func(*ActivityListener) SamplingResult) SamplingResult {
	list := s.listeners.Load()
	if list == nil {
		return SamplingNone
	}

	exact := SamplingNone
	var wildcards []*ActivityListener
	for _, l := range list.Snapshot() {
		if l.IsWildcard() {
			wildcards = append(wildcards, l)
			continue
		}
		if r := vote(l); r > exact {
			exact = r
		}
		if exact == SamplingAllDataAndRecorded {
			break
		}
	}
	if exact != SamplingNone {
		return exact
	}

	fallback := SamplingNone
	for _, l := range wildcards {
		if r := vote(l); r > fallback {
			fallback = r
		}
		if fallback == SamplingAllDataAndRecorded {
			break
		}
	}
	return fallback
}
