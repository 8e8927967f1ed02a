package propagation

import (
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/propagation"

	"github.com/zoobzio/activityz"
)

type legacyPropagator struct{}

// Legacy returns the propagator that writes W3C ids as traceparent and
// tracestate, hierarchical ids as Request-Id, and baggage as
// Correlation-Context. Extraction prefers traceparent and accepts either
// baggage header.
func Legacy() Propagator {
	return legacyPropagator{}
}

func (legacyPropagator) Inject(a *activityz.Activity, carrier propagation.TextMapCarrier) {
	if a == nil {
		return
	}
	id := a.ID()
	if id == "" {
		return
	}

	if a.IDFormat() == activityz.IDFormatW3C {
		carrier.Set(TraceParentHeader, id)
		if ts := a.TraceState(); ts != "" {
			carrier.Set(TraceStateHeader, ts)
		}
	} else {
		carrier.Set(RequestIDHeader, id)
	}

	if header := encodeCorrelationContext(collectBaggage(a)); header != "" {
		carrier.Set(CorrelationContextHeader, header)
	}
}

func (legacyPropagator) ExtractTraceIDAndState(carrier propagation.TextMapCarrier) (string, string) {
	if tp := strings.TrimSpace(carrier.Get(TraceParentHeader)); tp != "" {
		if _, ok := activityz.TryParseActivityContext(tp, "", true); ok {
			return tp, carrier.Get(TraceStateHeader)
		}
	}
	return strings.TrimSpace(carrier.Get(RequestIDHeader)), ""
}

func (legacyPropagator) ExtractBaggage(carrier propagation.TextMapCarrier) []activityz.BaggageItem {
	header := carrier.Get(CorrelationContextHeader)
	if header == "" {
		header = carrier.Get(BaggageHeader)
	}
	return decodeCorrelationContext(header)
}

func (legacyPropagator) Fields() []string {
	return []string{TraceParentHeader, TraceStateHeader, RequestIDHeader, CorrelationContextHeader, BaggageHeader}
}

// encodeCorrelationContext renders "k1=v1, k2=v2" with url-encoded parts.
func encodeCorrelationContext(items []activityz.BaggageItem) string {
	if len(items) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, item := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(url.QueryEscape(item.Key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(item.Value))
	}
	return sb.String()
}

// decodeCorrelationContext parses a Correlation-Context or baggage header,
// skipping malformed entries and W3C properties.
func decodeCorrelationContext(header string) []activityz.BaggageItem {
	if header == "" {
		return nil
	}
	var items []activityz.BaggageItem
	for _, entry := range strings.Split(header, ",") {
		entry, _, _ = strings.Cut(entry, ";")
		k, v, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		key, err := url.QueryUnescape(strings.TrimSpace(k))
		if err != nil || key == "" {
			continue
		}
		value, err := url.QueryUnescape(strings.TrimSpace(v))
		if err != nil {
			continue
		}
		items = append(items, activityz.BaggageItem{Key: key, Value: value})
	}
	return items
}

type noOutputPropagator struct{}

// NoOutput returns a propagator that injects and extracts nothing.
func NoOutput() Propagator {
	return noOutputPropagator{}
}

func (noOutputPropagator) Inject(*activityz.Activity, propagation.TextMapCarrier) {}

func (noOutputPropagator) ExtractTraceIDAndState(propagation.TextMapCarrier) (string, string) {
	return "", ""
}

func (noOutputPropagator) ExtractBaggage(propagation.TextMapCarrier) []activityz.BaggageItem {
	return nil
}

func (noOutputPropagator) Fields() []string {
	return nil
}
