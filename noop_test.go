package activityz

import (
	"context"
	"errors"
	"testing"
	"time"
)

func BenchmarkNoOpActivity(b *testing.B) {
	src := NewActivitySource("bench.noop")
	defer src.Close()

	ctx := context.Background()

	b.Run("no-listeners", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_, a := src.StartActivity(ctx, "test-op")
			a.SetTag("key", "value")
			a.SetTag("int", 123)
			a.Stop()
		}
	})

	b.Run("with-listener", func(b *testing.B) {
		l := &ActivityListener{
			SourceName: src.Name,
			Sample: func(*ActivityCreationOptions[ActivityContext]) SamplingResult {
				return SamplingAllData
			},
		}
		AddActivityListener(l)
		defer l.Close()

		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_, a := src.StartActivity(ctx, "test-op")
			a.SetTag("key", "value")
			a.SetTag("int", 123)
			a.Stop()
		}
	})
}

func TestNilActivityIsNoOp(t *testing.T) {
	errs := captureErrors(t)

	var a *Activity
	ctx := context.Background()

	if got := a.Start(ctx); got != ctx {
		t.Error("Expected nil activity to return ctx unchanged")
	}
	a.SetTag("key", "value")
	a.AddTag("key", "value")
	a.AddBaggage("k", "v")
	a.SetBaggage("k", "v")
	a.RemoveBaggage("k")
	a.AddEvent(ActivityEvent{Name: "event"})
	a.AddException(errors.New("ignored"))
	a.SetStatus(StatusError, "ignored")
	a.SetDisplayName("ignored")
	a.SetParentID("|x.")
	a.SetIDFormat(IDFormatHierarchical)
	a.SetStartTime(time.Now())
	a.SetEndTime(time.Now())
	a.SetTraceState("k=v")
	a.SetTraceFlags(FlagsRecorded)
	a.SetCustomProperty("k", 1)
	a.Stop()

	if a.ID() != "" || a.ParentID() != "" || a.RootID() != "" {
		t.Error("Expected empty ids for nil activity")
	}
	if a.TraceID().IsValid() || a.SpanID().IsValid() {
		t.Error("Expected zero W3C ids for nil activity")
	}
	if a.GetBaggageItem("k") != "" || a.GetCustomProperty("k") != nil {
		t.Error("Expected no data on nil activity")
	}
	if _, ok := a.GetTagItem("key"); ok {
		t.Error("Expected no tags on nil activity")
	}
	for range a.TagObjects() {
		t.Error("Expected no tags to iterate")
	}
	for range a.Baggage() {
		t.Error("Expected no baggage to iterate")
	}
	if a.Duration() != 0 || !a.StartTime().IsZero() {
		t.Error("Expected zero timing on nil activity")
	}
	if a.Context() != (ActivityContext{}) {
		t.Error("Expected zero context for nil activity")
	}
	if rec := a.Record(); rec.ID != "" {
		t.Error("Expected empty record for nil activity")
	}
	if len(errs()) != 0 {
		t.Errorf("Expected nil activity to report nothing, got %v", errs())
	}
}

func TestNoListenerActivityChain(t *testing.T) {
	src := NewActivitySource("test.noop-chain")
	defer src.Close()

	ctx := context.Background()
	ctx, parent := src.StartActivity(ctx, "parent")
	_, child := src.StartActivity(ctx, "child")
	child.SetTag("k", "v")
	child.Stop()
	parent.Stop()

	if Current(ctx) != nil {
		t.Error("Expected no current activity when nothing was sampled")
	}
}
