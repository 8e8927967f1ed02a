package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"

	"github.com/zoobzio/activityz"
)

func setup(t *testing.T, name string, clock clockz.Clock) (*Recorder, *activityz.ActivitySource) {
	t.Helper()
	src := activityz.NewActivitySource(name, activityz.WithClock(clock))
	t.Cleanup(src.Close)

	rec := NewRecorder(Options{Namespace: "test"}, prometheus.NewRegistry())

	sampler := &activityz.ActivityListener{
		SourceName: name,
		Sample: func(*activityz.ActivityCreationOptions[activityz.ActivityContext]) activityz.SamplingResult {
			return activityz.SamplingAllData
		},
	}
	observer := rec.Listener(name)
	activityz.AddActivityListener(sampler)
	activityz.AddActivityListener(observer)
	t.Cleanup(sampler.Close)
	t.Cleanup(observer.Close)
	return rec, src
}

func TestRecorderCountsLifecycle(t *testing.T) {
	clock := clockz.NewFakeClock()
	rec, src := setup(t, "metrics.lifecycle", clock)

	ctx, parent := src.StartActivity(context.Background(), "parent", activityz.WithKind(activityz.KindServer))
	_, child := src.StartActivity(ctx, "child")

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.active.WithLabelValues(src.Name)))

	clock.Advance(200 * time.Millisecond)
	child.SetStatus(activityz.StatusError, "boom")
	child.Stop()
	parent.Stop()

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.started.WithLabelValues(src.Name, "server")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.started.WithLabelValues(src.Name, "internal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.stopped.WithLabelValues(src.Name, "internal", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.stopped.WithLabelValues(src.Name, "server", "unset")))
	assert.Equal(t, 0.0, testutil.ToFloat64(rec.active.WithLabelValues(src.Name)))
	assert.Equal(t, 2, testutil.CollectAndCount(rec.duration))
}

func TestRecorderListenerDoesNotVote(t *testing.T) {
	rec := NewRecorder(Options{}, nil)
	src := activityz.NewActivitySource("metrics.observer-only")
	defer src.Close()

	l := rec.Listener(src.Name)
	activityz.AddActivityListener(l)
	defer l.Close()

	_, a := src.StartActivity(context.Background(), "op")
	assert.Nil(t, a)
	assert.Equal(t, 0, testutil.CollectAndCount(rec.started))
}

func TestRecorderErrorHandler(t *testing.T) {
	rec := NewRecorder(Options{Namespace: "test"}, nil)

	var forwarded []error
	activityz.SetErrorHandler(rec.ErrorHandler(func(err error) { forwarded = append(forwarded, err) }))
	defer activityz.SetErrorHandler(nil)

	a := activityz.NewActivity("misused")
	a.Stop()
	activityz.SetCurrent(context.Background(), a)

	src := activityz.NewActivitySource("metrics.panics")
	defer src.Close()
	l := &activityz.ActivityListener{
		SourceName: src.Name,
		Sample: func(*activityz.ActivityCreationOptions[activityz.ActivityContext]) activityz.SamplingResult {
			panic("sampler")
		},
	}
	activityz.AddActivityListener(l)
	defer l.Close()
	src.StartActivity(context.Background(), "op")

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.errors.WithLabelValues(ReasonMisuse)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.errors.WithLabelValues(ReasonListenerPanic)))
	assert.Len(t, forwarded, 3)

	rec.ErrorHandler()(errors.New("unclassified"))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.errors.WithLabelValues(ReasonOther)))
}

func TestRecorderHandler(t *testing.T) {
	rec, src := setup(t, "metrics.handler", clockz.RealClock)
	_, a := src.StartActivity(context.Background(), "op")
	a.Stop()

	server := httptest.NewServer(rec.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), "test_activities_started_total"))
	assert.True(t, strings.Contains(string(body), "test_activity_duration_seconds_bucket"))
}

func TestRecorderDefaults(t *testing.T) {
	rec := NewRecorder(Options{}, nil)
	require.NotNil(t, rec.Registry())

	rec.started.WithLabelValues("s", "internal").Inc()
	expected := `
# HELP activityz_activities_started_total Total number of activities started
# TYPE activityz_activities_started_total counter
activityz_activities_started_total{kind="internal",source="s"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(rec.Registry(), strings.NewReader(expected), "activityz_activities_started_total"))
}
