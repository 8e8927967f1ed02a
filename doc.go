// Package activityz provides activity tracing and correlation primitives.
//
// An Activity is a timed operation with W3C Trace Context or hierarchical
// identity, tags, baggage, events and links. Activities are created by an
// ActivitySource, which consults registered ActivityListeners before
// creating anything: with no listener attached, starting an activity costs
// a single atomic load and returns nil.
//
// Core Components:
//   - ActivitySource: named factory that runs the sampling protocol.
//   - ActivityListener: callbacks that vote on sampling and observe start/stop.
//   - Activity: the record itself; a nil *Activity is a valid no-op.
//   - Collector: buffers records of stopped activities for export.
//
// Basic Usage:
//
//	src := activityz.NewActivitySource("checkout")
//	defer src.Close()
//
//	collector := activityz.NewCollector("export", 1024)
//	listener := collector.Listener("checkout", activityz.SamplingAllDataAndRecorded)
//	activityz.AddActivityListener(listener)
//	defer listener.Close()
//
//	ctx, a := src.StartActivity(ctx, "charge-card", activityz.WithKind(activityz.KindClient))
//	defer a.Stop()
//	a.SetTag("order.id", "123")
//
// Current Activity:
//
// Start records the activity as current in a slot carried by the context it
// returns, and Stop restores the slot to the activity that was current when
// Start ran. Contexts derived from one another share the slot; call Fork
// before handing a context to another goroutine so each branch tracks its own
// current activity.
//
// Misuse:
//
// Misuse such as starting an activity twice never panics or returns an
// error. It is reported to the handler installed with SetErrorHandler and
// logged at debug level on the logger installed with SetLogger.
package activityz
