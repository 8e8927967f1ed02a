package activityz

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	mrand "math/rand/v2"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator produces random trace and span ids. Implementations must be
// safe for concurrent use and must never return the zero id.
type IDGenerator interface {
	NewTraceID() TraceID
	NewSpanID() SpanID
}

// poolGenerator serves ids out of pre-filled pools.
type poolGenerator struct {
	traceIDs *IDPool[TraceID]
	spanIDs  *IDPool[SpanID]
}

// NewPooledIDGenerator returns the default generator: crypto/rand backed ids
// pre-generated by background pools sized by CPU count.
func NewPooledIDGenerator() IDGenerator {
	poolSize := runtime.NumCPU() * 100
	return &poolGenerator{
		traceIDs: NewIDPool(poolSize, randomTraceID),
		spanIDs:  NewIDPool(poolSize, randomSpanID),
	}
}

func (g *poolGenerator) NewTraceID() TraceID { return g.traceIDs.Get() }

func (g *poolGenerator) NewSpanID() SpanID { return g.spanIDs.Get() }

// Close stops the background refill goroutines.
func (g *poolGenerator) Close() {
	g.traceIDs.Close()
	g.spanIDs.Close()
}

var (
	generatorOnce sync.Once
	generator     atomic.Pointer[IDGenerator]
)

func currentGenerator() IDGenerator {
	if g := generator.Load(); g != nil {
		return *g
	}
	generatorOnce.Do(func() {
		g := NewPooledIDGenerator()
		generator.CompareAndSwap(nil, &g)
	})
	return *generator.Load()
}

// SetIDGenerator replaces the process-wide id generator. Passing nil restores
// a pooled crypto/rand generator.
func SetIDGenerator(g IDGenerator) {
	if g == nil {
		g = NewPooledIDGenerator()
	}
	prev := generator.Swap(&g)
	if prev != nil {
		if c, ok := (*prev).(interface{ Close() }); ok {
			c.Close()
		}
	}
}

func randomTraceID() TraceID {
	var id TraceID
	for !id.IsValid() {
		fillRandom(id[:])
	}
	return id
}

func randomSpanID() SpanID {
	var id SpanID
	for !id.IsValid() {
		fillRandom(id[:])
	}
	return id
}

func fillRandom(b []byte) {
	if _, err := rand.Read(b); err == nil {
		return
	}
	// crypto/rand failure: fall back to the runtime PRNG.
	for i := 0; i < len(b); i += 8 {
		var chunk [8]byte
		binary.LittleEndian.PutUint64(chunk[:], mrand.Uint64())
		copy(b[i:], chunk[:])
	}
}

func randomUint32() uint32 {
	var b [4]byte
	fillRandom(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

// Hierarchical ids use a randomly seeded process counter and a suffix that
// is unique to this process.
var (
	rootCounter   atomic.Uint64
	processSuffix string
)

func init() {
	rootCounter.Store(uint64(randomUint32()))
	u := uuid.New()
	processSuffix = "-" + hex.EncodeToString(u[:8]) + "."
}

// generateRootID returns a fresh hierarchical root id: |{counter}-{suffix}.
func generateRootID() string {
	return "|" + strconv.FormatUint(rootCounter.Add(1), 16) + processSuffix
}

// nextRootCounterHex is used as the suffix when extending a string parent id.
func nextRootCounterHex() string {
	return strconv.FormatUint(rootCounter.Add(1), 16)
}
