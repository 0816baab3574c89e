package async

import (
	"context"
	"time"

	"github.com/outreachhq/invoicing/pkg/observability"
)

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// Use this instead of bare `go func()` for background work the caller does
// not wait on. The returned channel is closed once fn has returned or
// panicked.
//
// Example:
//
//	async.SafeGo(ctx, logger, 5*time.Minute, "overdue sweep", func(ctx context.Context) error {
//	    _, err := l.MarkOverdue(ctx, time.Now())
//	    return err
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan struct{} {
	if logger == nil {
		logger = observability.NopLogger()
	}
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer observability.RecoverPanic(logger, taskName)

		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			// Logged, not propagated; the caller is not waiting
			logger.WithError(err).WithField("task", taskName).Error("Background task failed")
		}
	}()

	return done
}
