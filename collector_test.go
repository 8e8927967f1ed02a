package activityz

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func startedActivity(name string) *Activity {
	a := NewActivity(name)
	a.Start(context.Background())
	a.Stop()
	return a
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector("test-collector", 100)
	defer collector.Close()

	if collector.Name() != "test-collector" {
		t.Errorf("Expected name 'test-collector', got %s", collector.Name())
	}
	if collector.Count() != 0 {
		t.Errorf("Expected 0 records initially, got %d", collector.Count())
	}
	if collector.DroppedCount() != 0 {
		t.Errorf("Expected 0 dropped records initially, got %d", collector.DroppedCount())
	}
}

func TestCollectorBasicCollection(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true) // Enable sync for deterministic testing.
	defer collector.Close()

	a := startedActivity("test-operation")
	collector.Collect(a)

	if collector.Count() != 1 {
		t.Errorf("Expected 1 record, got %d", collector.Count())
	}

	records := collector.Export()
	if len(records) != 1 {
		t.Fatalf("Expected 1 exported record, got %d", len(records))
	}
	if records[0].ID != a.ID() {
		t.Errorf("Expected id %s, got %s", a.ID(), records[0].ID)
	}
	if records[0].OperationName != "test-operation" {
		t.Errorf("Expected operation 'test-operation', got %s", records[0].OperationName)
	}

	// After export, collector should be empty.
	if collector.Count() != 0 {
		t.Errorf("Expected 0 records after export, got %d", collector.Count())
	}
	if collector.Export() != nil {
		t.Error("Expected nil export when empty")
	}
}

func TestCollectorNilActivityDropped(t *testing.T) {
	collector := NewCollector("nil", 10)
	collector.SetSyncMode(true)
	defer collector.Close()

	collector.Collect(nil)
	if collector.Count() != 0 || collector.DroppedCount() != 1 {
		t.Errorf("Expected nil activity dropped, got count=%d dropped=%d",
			collector.Count(), collector.DroppedCount())
	}
}

func TestCollectorBackpressure(t *testing.T) {
	collector := NewCollector("test", 2)
	defer collector.Close()

	// Flood faster than the loop drains; some records must be dropped or buffered.
	const total = 1000
	rec := startedActivity("flood").Record()
	for i := 0; i < total; i++ {
		collector.CollectRecord(rec)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if int64(collector.Count())+collector.DroppedCount() == total {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if got := int64(collector.Count()) + collector.DroppedCount(); got != total {
		t.Errorf("Expected buffered+dropped=%d, got %d", total, got)
	}
}

func TestCollectorExportOrder(t *testing.T) {
	collector := NewCollector("order", 10)
	collector.SetSyncMode(true)
	defer collector.Close()

	names := []string{"first", "second", "third"}
	for _, n := range names {
		collector.Collect(startedActivity(n))
	}

	records := collector.Export()
	for i, n := range names {
		if records[i].OperationName != n {
			t.Errorf("Expected %s at %d, got %s", n, i, records[i].OperationName)
		}
	}
}

func TestCollectorReset(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true)
	defer collector.Close()

	for i := 0; i < 5; i++ {
		collector.Collect(startedActivity("reset"))
	}
	collector.Collect(nil)

	collector.Reset()

	if collector.Count() != 0 {
		t.Errorf("Expected 0 records after reset, got %d", collector.Count())
	}
	if collector.DroppedCount() != 0 {
		t.Errorf("Expected 0 dropped after reset, got %d", collector.DroppedCount())
	}
}

func TestCollectorShutdown(t *testing.T) {
	collector := NewCollector("test", 10)

	collector.Collect(startedActivity("before-close"))
	collector.Close()

	// Records queued before Close are drained into the buffer.
	if collector.Count() != 1 {
		t.Errorf("Expected queued record drained on close, got %d", collector.Count())
	}

	collector.Collect(startedActivity("after-close"))
	if collector.DroppedCount() != 1 {
		t.Errorf("Expected record after close to be dropped, got %d", collector.DroppedCount())
	}

	// Multiple closes should be safe.
	collector.Close()
}

func TestCollectorConcurrentCollection(t *testing.T) {
	collector := NewCollector("test", 1000)
	collector.SetSyncMode(true)
	defer collector.Close()

	var wg sync.WaitGroup
	numGoroutines := 10
	perGoroutine := 100
	rec := startedActivity("concurrent").Record()

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				collector.CollectRecord(rec)
			}
		}()
	}
	wg.Wait()

	if collector.Count() != numGoroutines*perGoroutine {
		t.Errorf("Expected %d records, got %d", numGoroutines*perGoroutine, collector.Count())
	}
}

func TestCollectorCloseDuringCollection(t *testing.T) {
	for round := 0; round < 20; round++ {
		collector := NewCollector("test", 4096)
		rec := startedActivity("racing").Record()

		var wg sync.WaitGroup
		numGoroutines := 8
		perGoroutine := 200
		start := make(chan struct{})

		for i := 0; i < numGoroutines; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < perGoroutine; j++ {
					collector.CollectRecord(rec)
				}
			}()
		}
		close(start)
		collector.Close()
		wg.Wait()

		// Every record is either buffered or counted as dropped.
		total := int64(collector.Count()) + collector.DroppedCount()
		if total != int64(numGoroutines*perGoroutine) {
			t.Fatalf("round %d: expected %d records accounted for, got %d buffered + %d dropped",
				round, numGoroutines*perGoroutine, collector.Count(), collector.DroppedCount())
		}
	}
}

func TestCollectorConcurrentExport(t *testing.T) {
	collector := NewCollector("test", 1000)
	collector.SetSyncMode(true)
	defer collector.Close()

	rec := startedActivity("export").Record()
	var wg sync.WaitGroup
	total := 0
	var mu sync.Mutex

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				collector.CollectRecord(rec)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				n := len(collector.Export())
				mu.Lock()
				total += n
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	total += len(collector.Export())
	if total != 1000 {
		t.Errorf("Expected every record exported exactly once, got %d", total)
	}
}

func TestCollectorListener(t *testing.T) {
	src := NewActivitySource("test.collector-listener")
	defer src.Close()

	collector := NewCollector("listener", 10)
	collector.SetSyncMode(true)
	defer collector.Close()

	l := collector.Listener(src.Name, SamplingAllDataAndRecorded)
	AddActivityListener(l)
	defer l.Close()

	ctx, parent := src.StartActivity(context.Background(), "parent")
	parent.AddBaggage("tenant", "acme")
	_, child := src.StartActivity(ctx, "child", WithKind(KindClient))
	child.SetStatus(StatusError, "timeout")
	child.Stop()
	parent.Stop()

	records := collector.Export()
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	r := records[0]
	if r.OperationName != "child" || r.Kind != "client" {
		t.Errorf("Unexpected child record %+v", r)
	}
	if r.ParentSpanID != parent.SpanID().String() || r.TraceID != parent.TraceID().String() {
		t.Error("Expected parent linkage in record")
	}
	if r.Status != "error" || r.StatusDescription != "timeout" {
		t.Errorf("Unexpected status %s %q", r.Status, r.StatusDescription)
	}
	if len(r.Baggage) != 1 || r.Baggage[0].Value != "acme" {
		t.Errorf("Expected inherited baggage, got %v", r.Baggage)
	}
	if !r.Recorded || r.Source != src.Name {
		t.Error("Expected recorded record from the source")
	}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var back ActivityRecord
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back.ID != r.ID || back.Duration != r.Duration {
		t.Error("Expected record to survive JSON")
	}
}
