package integration

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/activityz"
)

// MockCollector wraps a real collector with test utilities.
// Collection is synchronous so records are visible as soon as Stop returns.
//
//nolint:govet // Field alignment optimized for test helper readability
type MockCollector struct {
	exported []activityz.ActivityRecord
	*activityz.Collector
	listener *activityz.ActivityListener
	t        *testing.T
	mu       sync.Mutex
}

// NewMockCollector creates a collector that records every activity of
// sourceName and unregisters itself when the test ends.
func NewMockCollector(t *testing.T, sourceName string, bufferSize int) *MockCollector {
	t.Helper()
	collector := activityz.NewCollector(sourceName, bufferSize)
	collector.SetSyncMode(true)

	m := &MockCollector{
		Collector: collector,
		t:         t,
		listener:  collector.Listener(sourceName, activityz.SamplingAllDataAndRecorded),
	}
	activityz.AddActivityListener(m.listener)
	t.Cleanup(func() {
		m.listener.Close()
		collector.Close()
	})
	return m
}

// Export returns collected records and clears the buffer.
func (m *MockCollector) Export() []activityz.ActivityRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.Collector.Export()
	m.exported = append(m.exported, records...)
	return records
}

// GetAll returns every record exported so far without losing any.
func (m *MockCollector) GetAll() []activityz.ActivityRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current := m.Collector.Export(); len(current) > 0 {
		m.exported = append(m.exported, current...)
	}
	all := make([]activityz.ActivityRecord, len(m.exported))
	copy(all, m.exported)
	return all
}

// AssertCount verifies the exact number of records collected so far.
func (m *MockCollector) AssertCount(expected int) {
	m.t.Helper()
	if records := m.GetAll(); len(records) != expected {
		m.t.Errorf("Expected %d records, got %d", expected, len(records))
	}
}

// AssertNamed returns the first record with the operation name.
func (m *MockCollector) AssertNamed(name string) *activityz.ActivityRecord {
	m.t.Helper()
	records := m.GetAll()
	for i := range records {
		if records[i].OperationName == name {
			return &records[i]
		}
	}
	m.t.Errorf("Record named '%s' not found", name)
	return nil
}

// AssertParentChild verifies that childName was started under parentName.
func (m *MockCollector) AssertParentChild(parentName, childName string) {
	m.t.Helper()
	parent := m.AssertNamed(parentName)
	child := m.AssertNamed(childName)
	if parent == nil || child == nil {
		return
	}
	if child.ParentID != parent.ID {
		m.t.Errorf("Parent-child relationship broken: %s is not parent of %s. Child ParentID=%s, Parent ID=%s",
			parentName, childName, child.ParentID, parent.ID)
	}
	if child.RootID != parent.RootID {
		m.t.Errorf("Root id mismatch: parent=%s, child=%s", parent.RootID, child.RootID)
	}
}

// RecordTree is a hierarchical view of records.
type RecordTree struct {
	Record   activityz.ActivityRecord
	Children []*RecordTree
}

// BuildRecordTree links records by ParentID. Records whose parent is not in
// the set become roots.
func BuildRecordTree(records []activityz.ActivityRecord) []*RecordTree {
	nodes := make(map[string]*RecordTree, len(records))
	for i := range records {
		nodes[records[i].ID] = &RecordTree{Record: records[i]}
	}

	var roots []*RecordTree
	for i := range records {
		node := nodes[records[i].ID]
		if parent, ok := nodes[records[i].ParentID]; ok && records[i].ParentID != "" {
			parent.Children = append(parent.Children, node)
			continue
		}
		roots = append(roots, node)
	}
	return roots
}

// PrintRecordTree formats trees for failure messages.
func PrintRecordTree(trees []*RecordTree) string {
	var sb strings.Builder
	for _, tree := range trees {
		printTreeNode(&sb, tree, 0)
	}
	return sb.String()
}

func printTreeNode(sb *strings.Builder, node *RecordTree, depth int) {
	fmt.Fprintf(sb, "%s%s %s (%.2fms)\n",
		strings.Repeat("  ", depth), node.Record.OperationName, node.Record.ID,
		node.Record.Duration.Seconds()*1000)
	for _, child := range node.Children {
		printTreeNode(sb, child, depth+1)
	}
}

// MockService simulates a downstream service that traces its calls.
type MockService struct {
	source       *activityz.ActivitySource
	name         string
	latency      time.Duration
	mu           sync.Mutex
	requestCount int
	failureRate  float32
}

// NewMockService creates a simulated service on source.
func NewMockService(name string, source *activityz.ActivitySource) *MockService {
	return &MockService{
		name:    name,
		latency: time.Millisecond,
		source:  source,
	}
}

// SetLatency configures response time.
func (m *MockService) SetLatency(d time.Duration) {
	m.mu.Lock()
	m.latency = d
	m.mu.Unlock()
}

// SetFailureRate configures error probability (0.0-1.0).
func (m *MockService) SetFailureRate(rate float32) {
	m.mu.Lock()
	m.failureRate = rate
	m.mu.Unlock()
}

// Call simulates a traced service call.
func (m *MockService) Call(ctx context.Context, operation string) error {
	m.mu.Lock()
	m.requestCount++
	count := m.requestCount
	latency := m.latency
	shouldFail := rand.Float32() < m.failureRate
	m.mu.Unlock()

	_, a := m.source.StartActivity(ctx, m.name+"."+operation, activityz.WithKind(activityz.KindClient))
	defer a.Stop()

	a.SetTag("service", m.name)
	a.SetTag("operation", operation)
	a.SetTag("request_id", count)

	time.Sleep(latency)

	if shouldFail {
		err := fmt.Errorf("%s: simulated failure", m.name)
		a.AddException(err)
		a.SetStatus(activityz.StatusError, err.Error())
		return err
	}
	a.SetStatus(activityz.StatusOK, "")
	return nil
}

// RecordMatcher provides fluent assertions for one record.
type RecordMatcher struct {
	t      *testing.T
	record *activityz.ActivityRecord
}

// NewRecordMatcher creates a matcher for record assertions.
func NewRecordMatcher(t *testing.T, record *activityz.ActivityRecord) *RecordMatcher {
	return &RecordMatcher{t: t, record: record}
}

// HasTag verifies the first tag with key has value.
func (m *RecordMatcher) HasTag(key string, value any) *RecordMatcher {
	m.t.Helper()
	if m.record == nil {
		return m
	}
	for _, kv := range m.record.Tags {
		if kv.Key != key {
			continue
		}
		if kv.Value != value {
			m.t.Errorf("Record %s tag '%s': expected '%v', got '%v'",
				m.record.OperationName, key, value, kv.Value)
		}
		return m
	}
	m.t.Errorf("Record %s missing tag '%s'", m.record.OperationName, key)
	return m
}

// HasBaggage verifies the effective baggage value for key.
func (m *RecordMatcher) HasBaggage(key, value string) *RecordMatcher {
	m.t.Helper()
	if m.record == nil {
		return m
	}
	for _, b := range m.record.Baggage {
		if b.Key == key {
			if b.Value != value {
				m.t.Errorf("Record %s baggage '%s': expected '%s', got '%s'",
					m.record.OperationName, key, value, b.Value)
			}
			return m
		}
	}
	m.t.Errorf("Record %s missing baggage '%s'", m.record.OperationName, key)
	return m
}

// HasParent verifies the parent id.
func (m *RecordMatcher) HasParent(parentID string) *RecordMatcher {
	m.t.Helper()
	if m.record != nil && m.record.ParentID != parentID {
		m.t.Errorf("Record %s wrong parent: expected %s, got %s",
			m.record.OperationName, parentID, m.record.ParentID)
	}
	return m
}

// HasStatus verifies the status name.
func (m *RecordMatcher) HasStatus(status string) *RecordMatcher {
	m.t.Helper()
	if m.record != nil && m.record.Status != status {
		m.t.Errorf("Record %s status: expected %s, got %s",
			m.record.OperationName, status, m.record.Status)
	}
	return m
}

// TraceAnalyzer provides trace-level assertions.
type TraceAnalyzer struct {
	byName map[string][]activityz.ActivityRecord
	trees  []*RecordTree
	count  int
}

// NewTraceAnalyzer indexes records.
func NewTraceAnalyzer(records []activityz.ActivityRecord) *TraceAnalyzer {
	a := &TraceAnalyzer{
		byName: make(map[string][]activityz.ActivityRecord),
		trees:  BuildRecordTree(records),
		count:  len(records),
	}
	for i := range records {
		a.byName[records[i].OperationName] = append(a.byName[records[i].OperationName], records[i])
	}
	return a
}

// ByName returns every record with the operation name.
func (a *TraceAnalyzer) ByName(name string) []activityz.ActivityRecord {
	return a.byName[name]
}

// CountRecords returns the total record count.
func (a *TraceAnalyzer) CountRecords() int {
	return a.count
}

// CountTrees returns the number of roots.
func (a *TraceAnalyzer) CountTrees() int {
	return len(a.trees)
}

// Trees returns the root nodes.
func (a *TraceAnalyzer) Trees() []*RecordTree {
	return a.trees
}

// VerifyChain checks that the first record of each name is the parent of the
// first record of the next.
func (a *TraceAnalyzer) VerifyChain(names ...string) error {
	if len(names) < 2 {
		return fmt.Errorf("chain requires at least 2 records")
	}

	var prev *activityz.ActivityRecord
	for i, name := range names {
		records := a.ByName(name)
		if len(records) == 0 {
			return fmt.Errorf("record '%s' not found", name)
		}
		r := records[0]
		if prev != nil && r.ParentID != prev.ID {
			return fmt.Errorf("broken chain: %s is not child of %s", name, names[i-1])
		}
		prev = &r
	}
	return nil
}
