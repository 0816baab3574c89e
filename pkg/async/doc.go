// Package async runs background work the caller does not wait on.
//
// SafeGo executes a function in a goroutine with a timeout, recovers panics
// and logs errors through the observability logger:
//
//	done := async.SafeGo(ctx, logger, 5*time.Minute, "startup overdue sweep", func(ctx context.Context) error {
//		_, err := l.MarkOverdue(ctx, time.Now())
//		return err
//	})
//
// The returned channel closes when the function returns, which lets shutdown
// code and tests wait for it.
package async
