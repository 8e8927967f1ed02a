package activityz

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
)

// Collector buffers records of stopped activities for batch export.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Collector struct {
	buffer       *queue.Queue
	recordsCh    chan ActivityRecord
	stopCh       chan struct{}
	done         chan struct{}
	droppedCount atomic.Int64
	name         string
	mu           sync.Mutex
	intake       sync.RWMutex // Held for reading across a send; Close takes it to fence senders.
	closeOnce    sync.Once
	closed       atomic.Bool
	syncMode     atomic.Bool // Bypass channel for synchronous collection.
}

// NewCollector creates a new collector with the specified name and intake
// buffer size.
func NewCollector(name string, bufferSize int) *Collector {
	c := &Collector{
		name:      name,
		buffer:    queue.New(),
		recordsCh: make(chan ActivityRecord, bufferSize),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.start()
	return c
}

// Name returns the collector name.
func (c *Collector) Name() string {
	return c.name
}

// start runs the collector's main loop, receiving records from the channel.
func (c *Collector) start() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain remaining records before shutdown.
			for {
				select {
				case r := <-c.recordsCh:
					c.bufferRecord(r)
				default:
					return
				}
			}
		case r := <-c.recordsCh:
			c.bufferRecord(r)
		}
	}
}

// Close shuts the collector down, waiting briefly for queued records.
// Buffered records remain exportable.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		c.intake.Lock()
		c.closed.Store(true)
		c.intake.Unlock()
		close(c.stopCh)
		select {
		case <-c.done:
		case <-time.After(100 * time.Millisecond):
			Logger().Warn("collector shutdown timed out")
		}
	})
}

// Collect snapshots a stopped activity. It has the shape of
// ActivityListener.ActivityStopped. If the intake channel is full the
// record is dropped and the drop counter is incremented.
func (c *Collector) Collect(a *Activity) {
	if a == nil {
		c.droppedCount.Add(1)
		return
	}
	c.CollectRecord(a.Record())
}

// CollectRecord buffers an existing record.
func (c *Collector) CollectRecord(r ActivityRecord) {
	c.intake.RLock()
	defer c.intake.RUnlock()

	if c.closed.Load() {
		c.droppedCount.Add(1)
		return
	}

	if c.syncMode.Load() {
		c.bufferRecord(r)
		return
	}

	select {
	case c.recordsCh <- r:
	default:
		// Channel full - drop to prevent blocking the instrumented call.
		c.droppedCount.Add(1)
	}
}

func (c *Collector) bufferRecord(r ActivityRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffer.Add(r)
}

// Export returns all buffered records in arrival order and clears the buffer.
func (c *Collector) Export() []ActivityRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.buffer.Length()
	if n == 0 {
		return nil
	}
	result := make([]ActivityRecord, 0, n)
	for c.buffer.Length() > 0 {
		// The ring buffer shrinks itself as it drains.
		result = append(result, c.buffer.Remove().(ActivityRecord))
	}
	return result
}

// Count returns the current number of buffered records.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.Length()
}

// DroppedCount returns the total number of records dropped due to backpressure.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// SetSyncMode enables synchronous collection for testing.
// When enabled, records are buffered directly without using the channel.
func (c *Collector) SetSyncMode(sync bool) {
	c.syncMode.Store(sync)
}

// Reset clears all buffered records and resets the drop counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buffer = queue.New()
	c.droppedCount.Store(0)
}

// Listener returns a listener that votes sampling for sourceName (or every
// source when sourceName is WildcardSource) and collects stopped activities.
func (c *Collector) Listener(sourceName string, sampling SamplingResult) *ActivityListener {
	return &ActivityListener{
		SourceName: sourceName,
		Sample: func(*ActivityCreationOptions[ActivityContext]) SamplingResult {
			return sampling
		},
		SampleUsingParentID: func(*ActivityCreationOptions[string]) SamplingResult {
			return sampling
		},
		ActivityStopped: c.Collect,
	}
}
