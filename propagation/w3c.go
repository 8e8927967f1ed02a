package propagation

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zoobzio/activityz"
)

type w3cPropagator struct {
	traceContext propagation.TraceContext
	baggage      propagation.Baggage
}

// W3C returns a propagator speaking only W3C Trace Context and W3C Baggage.
// Hierarchical activities inject baggage but no identity.
func W3C() Propagator {
	return w3cPropagator{}
}

func (p w3cPropagator) Inject(a *activityz.Activity, carrier propagation.TextMapCarrier) {
	if a == nil {
		return
	}

	ctx := context.Background()
	if a.IDFormat() == activityz.IDFormatW3C {
		ctx = trace.ContextWithSpanContext(ctx, ToSpanContext(a))
	}
	if bag, ok := toBaggage(collectBaggage(a)); ok {
		ctx = baggage.ContextWithBaggage(ctx, bag)
	}

	p.traceContext.Inject(ctx, carrier)
	p.baggage.Inject(ctx, carrier)
}

func (p w3cPropagator) ExtractTraceIDAndState(carrier propagation.TextMapCarrier) (string, string) {
	sc := trace.SpanContextFromContext(p.traceContext.Extract(context.Background(), carrier))
	if !sc.IsValid() {
		return "", ""
	}
	return FromSpanContext(sc).TraceParent(), sc.TraceState().String()
}

func (p w3cPropagator) ExtractBaggage(carrier propagation.TextMapCarrier) []activityz.BaggageItem {
	raw := carrier.Get(BaggageHeader)
	if raw == "" {
		return nil
	}
	bag := baggage.FromContext(p.baggage.Extract(context.Background(), carrier))
	if bag.Len() == 0 {
		return nil
	}

	// Members is unordered; recover header order from the raw value.
	items := make([]activityz.BaggageItem, 0, bag.Len())
	seen := make(map[string]struct{}, bag.Len())
	for _, entry := range strings.Split(raw, ",") {
		key, _, _ := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if _, dup := seen[key]; dup {
			continue
		}
		m := bag.Member(key)
		if m.Key() == "" {
			continue
		}
		seen[key] = struct{}{}
		items = append(items, activityz.BaggageItem{Key: m.Key(), Value: m.Value()})
	}
	return items
}

func (p w3cPropagator) Fields() []string {
	return []string{TraceParentHeader, TraceStateHeader, BaggageHeader}
}

// toBaggage converts items, skipping keys W3C Baggage cannot carry.
func toBaggage(items []activityz.BaggageItem) (baggage.Baggage, bool) {
	if len(items) == 0 {
		return baggage.Baggage{}, false
	}
	members := make([]baggage.Member, 0, len(items))
	for _, item := range items {
		m, err := baggage.NewMemberRaw(item.Key, item.Value)
		if err != nil {
			activityz.Logger().Debug("dropping baggage item", zap.String("key", item.Key), zap.Error(err))
			continue
		}
		members = append(members, m)
	}
	bag, err := baggage.New(members...)
	if err != nil || bag.Len() == 0 {
		return baggage.Baggage{}, false
	}
	return bag, true
}

// ToSpanContext converts the identity of a W3C activity into a local
// OpenTelemetry span context. Trace states that do not parse are dropped.
func ToSpanContext(a *activityz.Activity) trace.SpanContext {
	cfg := trace.SpanContextConfig{
		TraceID:    trace.TraceID(a.TraceID()),
		SpanID:     trace.SpanID(a.SpanID()),
		TraceFlags: trace.TraceFlags(a.TraceFlags()),
	}
	if ts, err := trace.ParseTraceState(a.TraceState()); err == nil {
		cfg.TraceState = ts
	}
	return trace.NewSpanContext(cfg)
}

// FromSpanContext converts an OpenTelemetry span context into an
// ActivityContext.
func FromSpanContext(sc trace.SpanContext) activityz.ActivityContext {
	return activityz.NewActivityContext(
		activityz.TraceID(sc.TraceID()),
		activityz.SpanID(sc.SpanID()),
		activityz.TraceFlags(sc.TraceFlags()),
		sc.TraceState().String(),
		sc.IsRemote(),
	)
}
