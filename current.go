package activityz

import (
	"context"
	"sync/atomic"
)

// scopeKeyType is a private type for context keys to avoid collisions.
type scopeKeyType string

const scopeKey scopeKeyType = "activityz"

// scope is the "current activity" slot installed by Start, SetCurrent or
// Fork. Each of them derives a new slot and never writes to the slot of the
// incoming context; only Stop resets the slot its own Start created.
type scope struct {
	current atomic.Pointer[Activity]
}

func scopeFrom(ctx context.Context) *scope {
	if ctx == nil {
		return nil
	}
	if sc, ok := ctx.Value(scopeKey).(*scope); ok {
		return sc
	}
	return nil
}

// Current returns the current activity of the call chain ctx belongs to.
// Returns nil if no activity is current.
func Current(ctx context.Context) *Activity {
	if sc := scopeFrom(ctx); sc != nil {
		return sc.current.Load()
	}
	return nil
}

// SetCurrent returns a context derived from ctx in which a is current. a
// must be nil or a started activity that has not stopped; anything else is
// reported and ctx is returned unchanged.
func SetCurrent(ctx context.Context, a *Activity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if a != nil && (a.ID() == "" || a.IsStopped()) {
		notifyError(&ActivityError{Op: "SetCurrent", Name: a.OperationName(), Err: ErrInvalidCurrent})
		return ctx
	}

	sc := &scope{}
	sc.current.Store(a)
	return context.WithValue(ctx, scopeKey, sc)
}

// Fork returns a context with its own current-activity slot, initialized to
// the current activity of ctx. A later Stop in the originating chain resets
// only its own slot, so the fork keeps observing the activity it captured.
// Only the pointer is copied, never the Activity.
func Fork(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	sc := &scope{}
	sc.current.Store(Current(ctx))
	return context.WithValue(ctx, scopeKey, sc)
}
