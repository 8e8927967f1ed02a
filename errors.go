package activityz

import (
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// Misuse errors. None of these are returned to callers of Activity methods;
// they are reported through the handler installed with SetErrorHandler.
var (
	ErrAlreadyStarted       = errors.New("activity already started")
	ErrNotStarted           = errors.New("activity not started")
	ErrParentAlreadySet     = errors.New("activity parent already set")
	ErrInvalidParentID      = errors.New("invalid parent id")
	ErrInvalidOperationName = errors.New("operation name must not be empty")
	ErrFormatAfterStart     = errors.New("id format cannot change after start")
	ErrStartTimeAfterStart  = errors.New("start time cannot change after start")
	ErrEndTimeBeforeStart   = errors.New("end time set before start")
	ErrInvalidCurrent       = errors.New("current activity must be started and not stopped")
	ErrInvalidKind          = errors.New("invalid activity kind")
	ErrInvalidStatus        = errors.New("invalid status code")
	ErrInvalidIDFormat      = errors.New("invalid id format")
)

// Parse errors, returned directly by the parsing functions.
var (
	ErrInvalidTraceID     = errors.New("invalid trace id")
	ErrInvalidSpanID      = errors.New("invalid span id")
	ErrInvalidTraceParent = errors.New("invalid traceparent")
)

// ActivityError describes a misuse of an Activity.
type ActivityError struct {
	Err  error
	Op   string
	Name string
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("activityz: %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *ActivityError) Unwrap() error {
	return e.Err
}

// ListenerPanicError is reported when a listener callback panics.
type ListenerPanicError struct {
	Value    interface{}
	Callback string
	Source   string
}

func (e *ListenerPanicError) Error() string {
	return fmt.Sprintf("activityz: listener %s panicked for source %q: %v", e.Callback, e.Source, e.Value)
}

// ErrorHandler observes misuse reports.
type ErrorHandler func(err error)

var (
	errorHandler atomic.Pointer[ErrorHandler]
	logger       atomic.Pointer[zap.Logger]
)

func init() {
	logger.Store(zap.NewNop())
}

// SetErrorHandler installs a hook that receives every misuse report.
// Passing nil removes it.
func SetErrorHandler(h ErrorHandler) {
	if h == nil {
		errorHandler.Store(nil)
		return
	}
	errorHandler.Store(&h)
}

// SetLogger installs the logger used for misuse and listener panic reports.
// Passing nil installs a no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger.Store(l)
}

// Logger returns the package logger.
func Logger() *zap.Logger {
	return logger.Load()
}

// notifyError reports a misuse without ever failing the caller.
func notifyError(err error) {
	var panicErr *ListenerPanicError
	if errors.As(err, &panicErr) {
		logger.Load().Error("activity listener panicked", zap.Error(err))
	} else {
		logger.Load().Debug("activity misuse", zap.Error(err))
	}

	if h := errorHandler.Load(); h != nil {
		// A panicking handler must not escape into the instrumented call.
		defer func() { _ = recover() }()
		(*h)(err)
	}
}

func (a *Activity) misuse(op string, err error) {
	notifyError(&ActivityError{Op: op, Name: a.operationName, Err: err})
}
