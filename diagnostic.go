package activityz

import (
	"context"
)

// Suffixes of the events written around an activity.
const (
	StartEventSuffix = ".Start"
	StopEventSuffix  = ".Stop"
)

// DiagnosticSource is a named-event bus. Implementations decide whether an
// event is wanted and receive its payload.
type DiagnosticSource interface {
	IsEnabled(name string) bool
	Write(name string, payload any)
}

// StartWithDiagnostics starts a and writes "{OperationName}.Start" to ds
// when enabled.
func StartWithDiagnostics(ctx context.Context, ds DiagnosticSource, a *Activity, payload any) context.Context {
	ctx = a.Start(ctx)
	if a == nil || ds == nil {
		return ctx
	}
	if name := a.OperationName() + StartEventSuffix; ds.IsEnabled(name) {
		ds.Write(name, payload)
	}
	return ctx
}

// StopWithDiagnostics stops a and writes "{OperationName}.Stop" to ds when
// enabled. The event is written after the duration is final but while the
// activity is still current.
func StopWithDiagnostics(ds DiagnosticSource, a *Activity, payload any) {
	if a == nil {
		return
	}
	if ds == nil {
		a.Stop()
		return
	}
	if !a.IsStopped() && a.isStarted() {
		a.mu.Lock()
		if a.duration == 0 {
			a.setEndTimeLocked(a.now())
		}
		a.mu.Unlock()
	}
	if name := a.OperationName() + StopEventSuffix; ds.IsEnabled(name) {
		ds.Write(name, payload)
	}
	a.Stop()
}
