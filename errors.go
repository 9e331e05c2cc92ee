package oscar

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

var (
	// ErrNotBound is matched by every *NotBoundError.
	ErrNotBound = errors.New("no engine bound")

	ErrUnknownSynth     = errors.New("unknown synth")
	ErrUnknownPatch     = errors.New("unknown patch")
	ErrSilentWavetable  = errors.New("wavetable is silent: cannot normalize an all-zero table")
	ErrEngineShutdown   = errors.New("engine has been shut down")
	ErrInvalidChannel   = errors.New("invalid output channel")
	ErrEmptyName        = errors.New("name must not be empty")
	ErrIncompatibleSave = errors.New("incompatible state version")
	ErrNotFinite        = errors.New("value is not a finite number")
)

// NotBoundError reports a proxy kind used before an engine was bound to it.
type NotBoundError struct {
	Kind Kind
}

func (e *NotBoundError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, ErrNotBound)
}

// Is lets errors.Is(err, ErrNotBound) match any NotBoundError.
func (e *NotBoundError) Is(target error) bool {
	return target == ErrNotBound
}

// DeviceInitError is returned by Backend.CreateEngine when the audio device
// cannot be opened with the requested configuration.
type DeviceInitError struct {
	Device int
	Msg    string
	Err    error
}

func (e *DeviceInitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device %d: %s: %v", e.Device, e.Msg, e.Err)
	}
	return fmt.Sprintf("device %d: %s", e.Device, e.Msg)
}

func (e *DeviceInitError) Unwrap() error { return e.Err }

// ErrorHandler defines the interface for handling errors that are recovered
// locally instead of being returned to a caller.
type ErrorHandler interface {
	HandleError(error)
}

// DefaultErrorHandler logs errors through slog.
type DefaultErrorHandler struct {
	Logger *slog.Logger
}

// HandleError implements ErrorHandler.
func (h *DefaultErrorHandler) HandleError(err error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("oscar: recovered error", "err", err)
}

// LoggingErrorHandler counts recovered errors and shows each one to an
// optional observer before passing it to the wrapped handler. It is safe
// for concurrent use.
type LoggingErrorHandler struct {
	next    ErrorHandler
	observe func(error)
	count   atomic.Int64
}

// NewLoggingErrorHandler wraps next. Either argument may be nil.
func NewLoggingErrorHandler(next ErrorHandler, observe func(error)) *LoggingErrorHandler {
	return &LoggingErrorHandler{next: next, observe: observe}
}

// HandleError implements ErrorHandler.
func (h *LoggingErrorHandler) HandleError(err error) {
	h.count.Add(1)
	if h.observe != nil {
		h.observe(err)
	}
	if h.next != nil {
		h.next.HandleError(err)
	}
}

// Count returns how many errors have been handled.
func (h *LoggingErrorHandler) Count() int64 { return h.count.Load() }

// PanicErrorHandler panics on any error (useful for development)
type PanicErrorHandler struct{}

// HandleError implements ErrorHandler interface by panicking
func (h *PanicErrorHandler) HandleError(err error) {
	panic(fmt.Sprintf("oscar error: %v", err))
}

// ErrorHandlerFunc adapts a function to ErrorHandler.
type ErrorHandlerFunc func(error)

func (f ErrorHandlerFunc) HandleError(err error) { f(err) }
