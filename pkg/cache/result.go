package cache

import (
	"context"

	"github.com/rs/zerolog"
)

// Result is the outcome of a fail-open cache write.
//
// Value is always the caller's original value. Cause is non-nil when the
// backend failed and the write degraded to a pass-through.
type Result struct {
	Value []byte
	Cause error
}

// Degraded reports whether the write failed and was passed through.
func (r Result) Degraded() bool {
	return r.Cause != nil
}

// Notifier receives backend failures that were hidden from the caller.
type Notifier interface {
	Notify(ctx context.Context, operation string, err error)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, operation string, err error)

// Notify calls fn.
func (fn NotifierFunc) Notify(ctx context.Context, operation string, err error) {
	fn(ctx, operation, err)
}

// LogNotifier reports failures as warnings on a zerolog logger.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify logs err.
func (n LogNotifier) Notify(_ context.Context, operation string, err error) {
	n.Logger.Warn().
		Err(err).
		Str("operation", operation).
		Msg("Cache backend error, degrading to pass-through")
}
