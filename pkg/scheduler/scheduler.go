// Package scheduler runs the invoicing background jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/outreachhq/invoicing/pkg/async"
	"github.com/outreachhq/invoicing/pkg/observability"
)

// DefaultSweepTimeout bounds one overdue sweep
const DefaultSweepTimeout = 5 * time.Minute

// OverdueMarker moves unpaid invoices past their due date to OVERDUE
type OverdueMarker interface {
	MarkOverdue(ctx context.Context, asOf time.Time) (int64, error)
}

// Scheduler owns a cron runner and the jobs registered on it
type Scheduler struct {
	cron    *cron.Cron
	marker  OverdueMarker
	logger  *observability.Logger
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithTimeout bounds each job run
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a scheduler. Schedules are evaluated in UTC.
func New(marker OverdueMarker, logger *observability.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	s := &Scheduler{
		marker:  marker,
		logger:  logger.WithField("component", "scheduler"),
		timeout: DefaultSweepTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return s
}

// ScheduleOverdueSweep registers the overdue sweep on a five-field cron spec
func (s *Scheduler) ScheduleOverdueSweep(spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.SweepOverdue(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule overdue sweep %q: %w", spec, err)
	}
	s.logger.WithField("schedule", spec).Info("Overdue sweep scheduled")
	return nil
}

// SweepOverdue marks invoices due before today (UTC) as overdue
func (s *Scheduler) SweepOverdue(ctx context.Context) (int64, error) {
	asOf := StartOfDay(s.now())
	n, err := s.marker.MarkOverdue(ctx, asOf)
	if err != nil {
		s.logger.WithError(err).Error("Overdue sweep failed")
		return 0, err
	}
	s.logger.WithFields(map[string]interface{}{
		"as_of":  asOf.Format("2006-01-02"),
		"marked": n,
	}).Info("Overdue sweep finished")
	return n, nil
}

// SweepInBackground runs one sweep now without blocking. The returned channel
// closes when the sweep finishes.
func (s *Scheduler) SweepInBackground(ctx context.Context) <-chan struct{} {
	return async.SafeGo(ctx, s.logger, s.timeout, "overdue sweep", func(ctx context.Context) error {
		_, err := s.SweepOverdue(ctx)
		return err
	})
}

// Start runs the scheduled jobs in their own goroutines
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler did not stop: %w", ctx.Err())
	}
}

// Entries returns the number of registered jobs
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// StartOfDay truncates t to midnight UTC
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// cronLogger adapts the observability logger to cron.Logger
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}
