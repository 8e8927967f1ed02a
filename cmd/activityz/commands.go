package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/zoobzio/activityz"
	"github.com/zoobzio/activityz/config"
	"github.com/zoobzio/activityz/metrics"
	prop "github.com/zoobzio/activityz/propagation"
)

const demoSource = "activityz.demo"

var errUsage = errors.New("invalid usage")

type parsedID struct {
	ID         string `json:"id"`
	Format     string `json:"format"`
	TraceID    string `json:"trace_id,omitempty"`
	SpanID     string `json:"span_id,omitempty"`
	TraceFlags string `json:"trace_flags,omitempty"`
	TraceState string `json:"trace_state,omitempty"`
	Recorded   bool   `json:"recorded"`
	RootID     string `json:"root_id,omitempty"`
}

func runParse(args []string, stdout io.Writer, _ *zap.Logger) error {
	fs := pflag.NewFlagSet("parse", pflag.ContinueOnError)
	state := fs.String("state", "", "tracestate accompanying a W3C id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: expected exactly one id", errUsage)
	}
	id := fs.Arg(0)

	out := parsedID{ID: id}
	if c, err := activityz.ParseActivityContext(id, *state, true); err == nil {
		out.Format = activityz.IDFormatW3C.String()
		out.TraceID = c.TraceID.String()
		out.SpanID = c.SpanID.String()
		out.TraceFlags = c.TraceFlags.String()
		out.TraceState = c.TraceState
		out.Recorded = c.TraceFlags.IsRecorded()
		out.RootID = out.TraceID
	} else {
		if activityz.IsW3CID(id) {
			return err
		}
		// Anything else is accepted as a hierarchical parent id; a child
		// activity derives its id from it.
		a := activityz.NewActivity("parse")
		a.SetParentID(id)
		a.Start(context.Background())
		a.Stop()
		out.Format = a.IDFormat().String()
		out.RootID = a.RootID()
	}
	return writeJSON(stdout, out)
}

func runNew(args []string, stdout io.Writer, _ *zap.Logger) error {
	fs := pflag.NewFlagSet("new", pflag.ContinueOnError)
	format := fs.String("format", config.FormatW3C, "id format: w3c or hierarchical")
	count := fs.IntP("count", "n", 1, "number of ids to generate")
	recorded := fs.Bool("recorded", false, "set the recorded flag on W3C ids")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *count < 1 {
		return fmt.Errorf("%w: count must be positive", errUsage)
	}

	cfg := config.Default()
	cfg.IDFormat = *format
	if err := config.Validate(cfg); err != nil {
		return err
	}

	for i := 0; i < *count; i++ {
		a := activityz.NewActivity("new")
		a.SetIDFormat(cfg.Format())
		if *recorded {
			a.SetTraceFlags(activityz.FlagsRecorded)
		}
		a.Start(context.Background())
		a.Stop()
		if _, err := fmt.Fprintln(stdout, a.ID()); err != nil {
			return err
		}
	}
	return nil
}

type demoOutput struct {
	Headers map[string]string          `json:"headers"`
	Records []activityz.ActivityRecord `json:"records"`
	Metrics map[string]float64         `json:"metrics,omitempty"`
	Dropped int64                      `json:"dropped"`
}

func runDemo(args []string, stdout io.Writer, logger *zap.Logger) error {
	fs := pflag.NewFlagSet("demo", pflag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	propagator := fs.String("propagator", "legacy", "header propagator: legacy, w3c or none")
	depth := fs.Int("depth", 3, "depth of the nested activity tree")
	withMetrics := fs.Bool("metrics", false, "include metric totals in the output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *depth < 1 {
		return fmt.Errorf("%w: depth must be positive", errUsage)
	}

	p, err := selectPropagator(*propagator)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		if cfg, err = config.LoadWithEnvOverrides(*configPath); err != nil {
			return err
		}
	}
	prevFormat, prevForce := activityz.DefaultIDFormat(), activityz.ForceDefaultIDFormat()
	defer func() {
		activityz.SetDefaultIDFormat(prevFormat)
		activityz.SetForceDefaultIDFormat(prevForce)
	}()
	activityz.SetDefaultIDFormat(cfg.Format())
	activityz.SetForceDefaultIDFormat(cfg.ForceIDFormat)
	activityz.SetLogger(logger)
	defer activityz.SetLogger(nil)

	src := activityz.NewActivitySource(demoSource, activityz.WithVersion("1.0.0"))
	defer src.Close()

	collector := activityz.NewCollector("demo", cfg.Collector.BufferSize)
	collector.SetSyncMode(true)
	defer collector.Close()

	// Configured rules decide sampling; without any the collector records everything.
	var listeners []*activityz.ActivityListener
	if len(cfg.Sampling.Rules) > 0 {
		sampler := config.NewRuleSampler(cfg.Sampling.Rules, logger)
		defer sampler.Close()
		listeners = append(listeners, &activityz.ActivityListener{
			SourceName:      demoSource,
			ActivityStopped: collector.Collect,
		})
	} else {
		listeners = append(listeners, collector.Listener(demoSource, activityz.SamplingAllDataAndRecorded))
	}

	var rec *metrics.Recorder
	if *withMetrics {
		rec = metrics.NewRecorder(metrics.Options{}, nil)
		listeners = append(listeners, rec.Listener(demoSource))
		activityz.SetErrorHandler(rec.ErrorHandler())
		defer activityz.SetErrorHandler(nil)
	}

	for _, l := range listeners {
		activityz.AddActivityListener(l)
		defer l.Close()
	}

	headers := simulate(src, p, *depth)

	out := demoOutput{
		Headers: headers,
		Records: collector.Export(),
		Dropped: collector.DroppedCount(),
	}
	if rec != nil {
		if out.Metrics, err = totals(rec); err != nil {
			return err
		}
	}
	logger.Debug("demo finished", zap.Int("records", len(out.Records)))
	return writeJSON(stdout, out)
}

// simulate runs a client activity tree, sends its identity through headers
// and continues the trace in a server activity on the other side.
func simulate(src *activityz.ActivitySource, p prop.Propagator, depth int) map[string]string {
	ctx, root := src.StartActivity(context.Background(), "client.request", activityz.WithKind(activityz.KindClient))
	root.AddBaggage("demo.user", "alice")
	root.SetTag("depth", depth)

	current := ctx
	var stack []*activityz.Activity
	for i := 1; i < depth; i++ {
		var a *activityz.Activity
		current, a = src.StartActivity(current, fmt.Sprintf("client.step.%d", i))
		stack = append(stack, a)
	}

	carrier := propagation.MapCarrier{}
	p.Inject(activityz.Current(current), carrier)

	_, server := prop.StartFromCarrier(context.Background(), src, "server.handle", p, carrier,
		activityz.WithKind(activityz.KindServer))
	server.AddEvent(activityz.NewActivityEvent("handled"))
	server.SetStatus(activityz.StatusOK, "")
	server.Stop()

	for i := len(stack) - 1; i >= 0; i-- {
		stack[i].Stop()
	}
	root.Stop()
	return carrier
}

func selectPropagator(name string) (prop.Propagator, error) {
	switch name {
	case "legacy":
		return prop.Legacy(), nil
	case "w3c":
		return prop.W3C(), nil
	case "none":
		return prop.NoOutput(), nil
	default:
		return nil, fmt.Errorf("%w: unknown propagator %q", errUsage, name)
	}
}

// totals sums every gathered series per metric family.
func totals(rec *metrics.Recorder) (map[string]float64, error) {
	families, err := rec.Registry().Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(families))
	for _, mf := range families {
		var sum float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				sum += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				sum += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				sum += float64(m.GetHistogram().GetSampleCount())
			}
		}
		out[mf.GetName()] = sum
	}
	return out, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

