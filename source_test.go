package activityz

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// voter returns a listener for source that always votes result.
func voter(source string, result SamplingResult) *ActivityListener {
	return &ActivityListener{
		SourceName: source,
		Sample: func(*ActivityCreationOptions[ActivityContext]) SamplingResult {
			return result
		},
		SampleUsingParentID: func(*ActivityCreationOptions[string]) SamplingResult {
			return result
		},
	}
}

// listen registers listeners for the duration of the test.
func listen(t *testing.T, listeners ...*ActivityListener) {
	t.Helper()
	for _, l := range listeners {
		AddActivityListener(l)
		t.Cleanup(l.Close)
	}
}

func newSource(t *testing.T, name string, opts ...SourceOption) *ActivitySource {
	t.Helper()
	src := NewActivitySource(name, opts...)
	t.Cleanup(src.Close)
	return src
}

func TestStartActivityWithoutListeners(t *testing.T) {
	src := newSource(t, "test.no-listeners")
	ctx := context.Background()

	newCtx, a := src.StartActivity(ctx, "ignored")
	if a != nil {
		t.Error("Expected nil activity without listeners")
	}
	if newCtx != ctx {
		t.Error("Expected context to be returned unchanged")
	}
	if src.HasListeners() {
		t.Error("Expected no listeners")
	}

	allocs := testing.AllocsPerRun(1000, func() {
		_, _ = src.StartActivity(ctx, "ignored")
	})
	if allocs != 0 {
		t.Errorf("Expected zero allocations on the fast path, got %v", allocs)
	}
}

func TestListenerAttachesToExistingAndFutureSources(t *testing.T) {
	before := newSource(t, "test.attach")
	l := voter("test.attach", SamplingAllData)
	listen(t, l)
	after := newSource(t, "test.attach")
	other := newSource(t, "test.attach-other")

	if !before.HasListeners() || !after.HasListeners() {
		t.Error("Expected listener attached to both matching sources")
	}
	if other.HasListeners() {
		t.Error("Expected non-matching source to stay empty")
	}

	l.Close()
	if before.HasListeners() || after.HasListeners() {
		t.Error("Expected listener detached after Close")
	}
}

func TestListenerShouldListenTo(t *testing.T) {
	a := newSource(t, "test.predicate-a", WithVersion("1.0"))
	b := newSource(t, "test.predicate-b")

	listen(t, &ActivityListener{
		ShouldListenTo: func(s *ActivitySource) bool { return s.Version == "1.0" },
	})

	if !a.HasListeners() {
		t.Error("Expected predicate to accept versioned source")
	}
	if b.HasListeners() {
		t.Error("Expected predicate to reject unversioned source")
	}
}

func TestSamplingMaxMerge(t *testing.T) {
	cases := []struct {
		name         string
		votes        []SamplingResult
		created      bool
		allRequested bool
		recorded     bool
	}{
		{"all none", []SamplingResult{SamplingNone, SamplingNone}, false, false, false},
		{"propagation only", []SamplingResult{SamplingNone, SamplingPropagationData}, true, false, false},
		{"all data wins", []SamplingResult{SamplingPropagationData, SamplingAllData}, true, true, false},
		{"recorded wins", []SamplingResult{SamplingAllData, SamplingAllDataAndRecorded}, true, true, true},
	}

	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			name := "test.merge." + string(rune('a'+i))
			src := newSource(t, name)
			for _, v := range tc.votes {
				listen(t, voter(name, v))
			}

			_, a := src.StartActivity(context.Background(), "op")
			if (a != nil) != tc.created {
				t.Fatalf("Expected created=%v, got %v", tc.created, a != nil)
			}
			if a == nil {
				return
			}
			defer a.Stop()
			if a.IsAllDataRequested() != tc.allRequested {
				t.Errorf("Expected all data requested=%v", tc.allRequested)
			}
			if a.Recorded() != tc.recorded {
				t.Errorf("Expected recorded=%v", tc.recorded)
			}
		})
	}
}

func TestSamplingShortCircuit(t *testing.T) {
	src := newSource(t, "test.short-circuit")
	var second atomic.Int32
	listen(t,
		voter(src.Name, SamplingAllDataAndRecorded),
		&ActivityListener{
			SourceName: src.Name,
			Sample: func(*ActivityCreationOptions[ActivityContext]) SamplingResult {
				second.Add(1)
				return SamplingNone
			},
		},
	)

	_, a := src.StartActivity(context.Background(), "op")
	defer a.Stop()
	if second.Load() != 0 {
		t.Error("Expected the strongest vote to stop sampling")
	}
}

func TestWildcardFallback(t *testing.T) {
	src := newSource(t, "test.wildcard")
	var wildcardCalls atomic.Int32
	wildcard := &ActivityListener{
		SourceName: WildcardSource,
		ShouldListenTo: func(s *ActivitySource) bool {
			return s.Name == "test.wildcard"
		},
		Sample: func(*ActivityCreationOptions[ActivityContext]) SamplingResult {
			wildcardCalls.Add(1)
			return SamplingAllDataAndRecorded
		},
	}
	exact := &atomic.Int32{}
	exact.Store(int32(SamplingNone))
	listen(t, wildcard, &ActivityListener{
		SourceName: src.Name,
		Sample: func(*ActivityCreationOptions[ActivityContext]) SamplingResult {
			return SamplingResult(exact.Load())
		},
	})

	_, a := src.StartActivity(context.Background(), "fallback")
	if a == nil || !a.Recorded() {
		t.Fatal("Expected wildcard vote when the exact listener declined")
	}
	a.Stop()
	if wildcardCalls.Load() != 1 {
		t.Errorf("Expected one wildcard call, got %d", wildcardCalls.Load())
	}

	exact.Store(int32(SamplingPropagationData))
	_, b := src.StartActivity(context.Background(), "exact")
	if b == nil {
		t.Fatal("Expected activity from the exact vote")
	}
	b.Stop()
	if b.IsAllDataRequested() {
		t.Error("Wildcard must not upgrade a specific vote")
	}
	if wildcardCalls.Load() != 1 {
		t.Errorf("Expected wildcard to be skipped, got %d calls", wildcardCalls.Load())
	}
}

func TestStartActivityFromTraceParent(t *testing.T) {
	src := newSource(t, "test.traceparent")
	var gotParent ActivityContext
	listen(t, &ActivityListener{
		SourceName: src.Name,
		Sample: func(o *ActivityCreationOptions[ActivityContext]) SamplingResult {
			gotParent = o.Parent
			return SamplingAllDataAndRecorded
		},
	})

	_, a := src.StartActivity(context.Background(), "incoming",
		WithParentID(sampleTraceParent), WithKind(KindServer))
	if a == nil {
		t.Fatal("Expected activity")
	}
	defer a.Stop()

	pattern := regexp.MustCompile(`^00-0af7651916cd43dd8448eb211c80319c-[0-9a-f]{16}-01$`)
	if !pattern.MatchString(a.ID()) {
		t.Errorf("Unexpected id %q", a.ID())
	}
	if a.ParentSpanID().String() != "b7ad6b7169203331" {
		t.Errorf("Unexpected parent span id %s", a.ParentSpanID())
	}
	if a.ParentID() != sampleTraceParent {
		t.Errorf("Unexpected parent id %s", a.ParentID())
	}
	if a.Kind() != KindServer {
		t.Errorf("Expected server kind, got %s", a.Kind())
	}
	if gotParent.SpanID.String() != "b7ad6b7169203331" {
		t.Error("Expected the sampler to see the parsed parent")
	}
}

func TestRecordedFlagFollowsDecision(t *testing.T) {
	src := newSource(t, "test.recorded")
	listen(t, voter(src.Name, SamplingAllData))

	_, a := src.StartActivity(context.Background(), "op", WithParentID(sampleTraceParent))
	defer a.Stop()
	if a.Recorded() {
		t.Error("Expected recorded flag cleared without AllDataAndRecorded")
	}
	if a.ID()[53:] != "00" {
		t.Errorf("Expected flags 00 in id, got %s", a.ID()[53:])
	}
}

func TestHierarchicalParentUsesParentIDSampler(t *testing.T) {
	src := newSource(t, "test.hierarchical-parent")
	var seen string
	listen(t,
		&ActivityListener{
			SourceName: src.Name,
			Sample: func(*ActivityCreationOptions[ActivityContext]) SamplingResult {
				t.Error("Context sampler must not see hierarchical parents")
				return SamplingAllData
			},
		},
		&ActivityListener{
			SourceName: src.Name,
			SampleUsingParentID: func(o *ActivityCreationOptions[string]) SamplingResult {
				seen = o.Parent
				return SamplingAllData
			},
		},
	)

	_, a := src.StartActivity(context.Background(), "op", WithParentID("|abc.1."))
	if a == nil {
		t.Fatal("Expected activity")
	}
	defer a.Stop()
	if seen != "|abc.1." {
		t.Errorf("Expected raw parent id, got %q", seen)
	}
	if a.IDFormat() != IDFormatHierarchical {
		t.Errorf("Expected hierarchical format, got %s", a.IDFormat())
	}
}

func TestSamplerTagsAndTraceState(t *testing.T) {
	src := newSource(t, "test.sampler-extras")
	var sampledTraceID TraceID
	listen(t, &ActivityListener{
		SourceName: src.Name,
		Sample: func(o *ActivityCreationOptions[ActivityContext]) SamplingResult {
			if len(o.Tags) != 1 || o.Tags[0].Key != "tenant" {
				t.Errorf("Expected creation tags, got %v", o.Tags)
			}
			sampledTraceID = o.TraceID()
			o.SetSamplingTag("sampler", "ratio")
			o.SetTraceState("vendor=1")
			return SamplingAllData
		},
	})

	_, a := src.StartActivity(context.Background(), "op", WithTags(KeyValue{Key: "tenant", Value: "acme"}))
	defer a.Stop()

	if v, ok := a.GetTagItem("sampler"); !ok || v != "ratio" {
		t.Error("Expected sampling tag on the activity")
	}
	if v, _ := a.GetTagItem("tenant"); v != "acme" {
		t.Error("Expected creation tag on the activity")
	}
	if a.TraceState() != "vendor=1" {
		t.Errorf("Expected trace state from sampler, got %q", a.TraceState())
	}
	if !sampledTraceID.IsValid() || a.TraceID() != sampledTraceID {
		t.Errorf("Expected trace id %s seen by sampler, got %s", sampledTraceID, a.TraceID())
	}
}

func TestListenerRegisteredDuringVote(t *testing.T) {
	src := newSource(t, "test.register-during-vote")
	late := voter(src.Name, SamplingPropagationData)
	t.Cleanup(late.Close)

	var calls atomic.Int32
	listen(t, &ActivityListener{
		SourceName: src.Name,
		Sample: func(o *ActivityCreationOptions[ActivityContext]) SamplingResult {
			if calls.Add(1) == 1 {
				AddActivityListener(late)
			}
			o.SetSamplingTag("sampler", "first")
			return SamplingAllData
		},
	})

	_, a := src.StartActivity(context.Background(), "op")
	if a == nil {
		t.Fatal("Expected activity")
	}
	defer a.Stop()

	if n := calls.Load(); n != 1 {
		t.Errorf("Expected sampler to be asked once, got %d", n)
	}
	count := 0
	for k := range a.TagObjects() {
		if k == "sampler" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected one sampler tag, got %d", count)
	}
	if !a.IsAllDataRequested() {
		t.Error("Expected the original vote to stand")
	}
}

func TestStartActivityUsesCurrentParent(t *testing.T) {
	src := newSource(t, "test.current-parent")
	listen(t, voter(src.Name, SamplingAllDataAndRecorded))

	ctx, parent := src.StartActivity(context.Background(), "parent")
	defer parent.Stop()
	_, child := src.StartActivity(ctx, "child")
	defer child.Stop()

	if child.Parent() != parent {
		t.Fatal("Expected current activity as parent")
	}
	if child.TraceID() != parent.TraceID() {
		t.Error("Expected shared trace")
	}
	if child.ParentSpanID() != parent.SpanID() {
		t.Error("Expected parent span id")
	}
}

func TestStartActivityHierarchicalCurrent(t *testing.T) {
	withDefaultFormat(t, IDFormatHierarchical)
	src := newSource(t, "test.hierarchical-current")
	listen(t, voter(src.Name, SamplingAllDataAndRecorded))

	ctx, parent := src.StartActivity(context.Background(), "parent")
	defer parent.Stop()
	_, child := src.StartActivity(ctx, "child")
	defer child.Stop()

	if child.IDFormat() != IDFormatHierarchical {
		t.Errorf("Expected child to follow the parent format, got %s", child.IDFormat())
	}
	if child.ID() != parent.ID()+"1." {
		t.Errorf("Expected %q, got %q", parent.ID()+"1.", child.ID())
	}
}

func TestStartActivityWithRemoteParentContext(t *testing.T) {
	src := newSource(t, "test.remote")
	listen(t, voter(src.Name, SamplingAllData))

	remote, _ := ParseActivityContext(sampleTraceParent, "congo=1", true)
	_, a := src.StartActivity(context.Background(), "op", WithParentContext(remote))
	defer a.Stop()

	if !a.HasRemoteParent() {
		t.Error("Expected remote parent")
	}
	if a.TraceID() != remote.TraceID || a.ParentSpanID() != remote.SpanID {
		t.Error("Expected ids from remote context")
	}
	if a.TraceState() != "congo=1" {
		t.Errorf("Expected inherited trace state, got %q", a.TraceState())
	}
}

func TestCreateActivityDoesNotStart(t *testing.T) {
	src := newSource(t, "test.create")
	listen(t, voter(src.Name, SamplingAllData))

	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	link := ActivityLink{Context: NewActivityContext(NewTraceID(), NewSpanID(), FlagsNone, "", false)}
	a := src.CreateActivity(context.Background(), "later", WithStartTime(start), WithLinks(link))
	if a == nil {
		t.Fatal("Expected activity")
	}
	if a.ID() != "" {
		t.Error("Expected no id before start")
	}
	if len(a.Links()) != 1 || a.Links()[0].Context != link.Context {
		t.Error("Expected link on the activity")
	}

	ctx := a.Start(context.Background())
	defer a.Stop()
	if !a.StartTime().Equal(start) {
		t.Errorf("Expected start %v, got %v", start, a.StartTime())
	}
	if Current(ctx) != a {
		t.Error("Expected activity to be current once started")
	}
}

func TestInvalidKindReported(t *testing.T) {
	errs := captureErrors(t)
	src := newSource(t, "test.kind")
	listen(t, voter(src.Name, SamplingAllData))

	_, a := src.StartActivity(context.Background(), "op", WithKind(ActivityKind(99)))
	defer a.Stop()
	if a.Kind() != KindInternal {
		t.Errorf("Expected fallback to internal, got %s", a.Kind())
	}
	if !hasError(errs(), ErrInvalidKind) {
		t.Error("Expected ErrInvalidKind")
	}
}

func TestListenerPanicsRecovered(t *testing.T) {
	errs := captureErrors(t)
	src := newSource(t, "test.panics")
	listen(t,
		&ActivityListener{
			SourceName: src.Name,
			Sample: func(*ActivityCreationOptions[ActivityContext]) SamplingResult {
				panic("sampler failure")
			},
		},
		&ActivityListener{
			SourceName: src.Name,
			Sample: func(*ActivityCreationOptions[ActivityContext]) SamplingResult {
				return SamplingAllData
			},
			ActivityStarted: func(*Activity) { panic("start failure") },
			ActivityStopped: func(*Activity) { panic("stop failure") },
		},
	)

	_, a := src.StartActivity(context.Background(), "op")
	if a == nil {
		t.Fatal("Expected healthy listener vote to survive a panicking sampler")
	}
	a.Stop()

	var panics int
	for _, err := range errs() {
		var pe *ListenerPanicError
		if errors.As(err, &pe) {
			panics++
		}
	}
	if panics != 3 {
		t.Errorf("Expected 3 recovered panics, got %d", panics)
	}
}

func TestOutOfRangeVoteIgnored(t *testing.T) {
	src := newSource(t, "test.out-of-range")
	listen(t, voter(src.Name, SamplingResult(42)))

	if _, a := src.StartActivity(context.Background(), "op"); a != nil {
		t.Error("Expected out of range vote to count as None")
	}
}

func TestClosedSourceCreatesNothing(t *testing.T) {
	src := NewActivitySource("test.closed")
	listen(t, voter(src.Name, SamplingAllData))
	src.Close()

	if src.HasListeners() {
		t.Error("Expected closed source to drop listeners")
	}
	if _, a := src.StartActivity(context.Background(), "op"); a != nil {
		t.Error("Expected nil activity from closed source")
	}
}

func TestStartedStoppedCallbacks(t *testing.T) {
	src := newSource(t, "test.callbacks")
	var mu sync.Mutex
	var events []string
	listen(t, &ActivityListener{
		SourceName: src.Name,
		Sample: func(*ActivityCreationOptions[ActivityContext]) SamplingResult {
			return SamplingAllData
		},
		ActivityStarted: func(a *Activity) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, "start:"+a.OperationName())
		},
		ActivityStopped: func(a *Activity) {
			mu.Lock()
			defer mu.Unlock()
			if a.Duration() <= 0 {
				t.Error("Expected duration final when stop is observed")
			}
			events = append(events, "stop:"+a.OperationName())
		},
	})

	ctx, outer := src.StartActivity(context.Background(), "outer")
	_, inner := src.StartActivity(ctx, "inner")
	inner.Stop()
	outer.Stop()

	want := []string{"start:outer", "start:inner", "stop:inner", "stop:outer"}
	if len(events) != len(want) {
		t.Fatalf("Expected %v, got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, events)
			break
		}
	}
}

func TestConcurrentListenersAndActivities(t *testing.T) {
	src := newSource(t, "test.concurrent")
	listen(t, voter(src.Name, SamplingAllData))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := Fork(context.Background())
			for j := 0; j < 200; j++ {
				_, a := src.StartActivity(ctx, "work")
				a.SetTag("iteration", j)
				a.Stop()
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l := voter(src.Name, SamplingPropagationData)
				AddActivityListener(l)
				l.Close()
			}
		}()
	}
	wg.Wait()

	if !src.HasListeners() {
		t.Error("Expected the long-lived listener to remain")
	}
}
