// Package propagation moves activity identity and baggage across process
// boundaries through text headers.
//
// Carriers are OpenTelemetry TextMapCarriers, so http.Header (through
// propagation.HeaderCarrier) and plain maps (propagation.MapCarrier) work
// directly.
package propagation

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/propagation"

	"github.com/zoobzio/activityz"
)

// Header names.
const (
	TraceParentHeader        = "traceparent"
	TraceStateHeader         = "tracestate"
	BaggageHeader            = "baggage"
	RequestIDHeader          = "Request-Id"
	CorrelationContextHeader = "Correlation-Context"
)

// Propagator injects an activity into a carrier and extracts the parts a
// child activity needs.
type Propagator interface {
	// Inject writes the identity and baggage of a. A nil activity writes nothing.
	Inject(a *activityz.Activity, carrier propagation.TextMapCarrier)

	// ExtractTraceIDAndState returns the parent id, W3C or hierarchical, and
	// the trace state. Both are empty when the carrier holds no parent.
	ExtractTraceIDAndState(carrier propagation.TextMapCarrier) (traceParent, traceState string)

	// ExtractBaggage returns baggage in header order.
	ExtractBaggage(carrier propagation.TextMapCarrier) []activityz.BaggageItem

	// Fields lists the header names the propagator reads and writes.
	Fields() []string
}

var defaultPropagator atomic.Pointer[Propagator]

func init() {
	p := Legacy()
	defaultPropagator.Store(&p)
}

// Default returns the process default propagator, Legacy unless replaced.
func Default() Propagator {
	return *defaultPropagator.Load()
}

// SetDefault replaces the process default. Passing nil restores Legacy.
func SetDefault(p Propagator) {
	if p == nil {
		p = Legacy()
	}
	defaultPropagator.Store(&p)
}

// StartFromCarrier starts an activity whose parent and baggage come from
// carrier. W3C parents are treated as remote. It returns ctx unchanged and
// a nil activity when the source declines.
func StartFromCarrier(
	ctx context.Context,
	src *activityz.ActivitySource,
	name string,
	p Propagator,
	carrier propagation.TextMapCarrier,
	opts ...activityz.StartOption,
) (context.Context, *activityz.Activity) {
	if !src.HasListeners() {
		return ctx, nil
	}
	if p == nil {
		p = Default()
	}

	traceParent, traceState := p.ExtractTraceIDAndState(carrier)
	if traceParent != "" {
		if parent, ok := activityz.TryParseActivityContext(traceParent, traceState, true); ok {
			opts = append(opts, activityz.WithParentContext(parent))
		} else {
			opts = append(opts, activityz.WithParentID(traceParent))
		}
	}

	ctx, a := src.StartActivity(ctx, name, opts...)
	if a == nil {
		return ctx, nil
	}

	// AddBaggage links at the front, so walk backwards to keep header order.
	items := p.ExtractBaggage(carrier)
	for i := len(items) - 1; i >= 0; i-- {
		a.AddBaggage(items[i].Key, items[i].Value)
	}
	return ctx, a
}

// collectBaggage flattens the baggage of a, nearest value first, one entry
// per key.
func collectBaggage(a *activityz.Activity) []activityz.BaggageItem {
	var (
		items []activityz.BaggageItem
		seen  map[string]struct{}
	)
	for k, v := range a.Baggage() {
		if seen == nil {
			seen = make(map[string]struct{})
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		items = append(items, activityz.BaggageItem{Key: k, Value: v})
	}
	return items
}
