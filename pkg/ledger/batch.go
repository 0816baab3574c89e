package ledger

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/outreachhq/invoicing/pkg/billing"
	"github.com/outreachhq/invoicing/pkg/observability"
)

// DefaultBatchConcurrency bounds GenerateAll when no limit is given
const DefaultBatchConcurrency = 4

// Job is one client to invoice in a batch
type Job struct {
	Client    billing.ClientProfile
	Plan      billing.Plan
	Overrides Overrides
}

// JobResult is the outcome of one batch job. Exactly one of Result and Err is set.
type JobResult struct {
	ClientID string
	Result   *Result
	Err      error
}

// BatchSummary counts the outcomes of a batch
type BatchSummary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// Summarize counts created, updated and failed jobs
func Summarize(results []JobResult) BatchSummary {
	var s BatchSummary
	for _, r := range results {
		switch {
		case r.Err != nil:
			s.Failed++
		case r.Result.Created:
			s.Created++
		default:
			s.Updated++
		}
	}
	return s
}

// GenerateAll upserts the invoice of every job for one period with at most
// concurrency upserts in flight. A failing job does not stop the others;
// results are returned in job order.
func (l *Ledger) GenerateAll(ctx context.Context, period Period, jobs []Job, concurrency int) ([]JobResult, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}

	results := make([]JobResult, len(jobs))

	var eg errgroup.Group
	eg.SetLimit(concurrency)

	for i, job := range jobs {
		eg.Go(func() error {
			results[i] = l.runJob(ctx, period, job)
			return nil
		})
	}
	_ = eg.Wait()

	summary := Summarize(results)
	l.logger.WithFields(map[string]interface{}{
		"period":  period.String(),
		"created": summary.Created,
		"updated": summary.Updated,
		"failed":  summary.Failed,
	}).Info("Batch generation finished")

	return results, ctx.Err()
}

func (l *Ledger) runJob(ctx context.Context, period Period, job Job) (res JobResult) {
	res.ClientID = job.Client.ID

	defer func() {
		if perr := observability.MustRecover(recover()); perr != nil {
			l.logger.WithField("client_id", job.Client.ID).WithError(perr).Error("Batch job panicked")
			res = JobResult{ClientID: job.Client.ID, Err: perr}
		}
		outcome := "updated"
		switch {
		case res.Err != nil:
			outcome = "failed"
		case res.Result.Created:
			outcome = "created"
		}
		l.metrics.RecordBatchJob(outcome)
	}()

	if err := ctx.Err(); err != nil {
		res.Err = fmt.Errorf("batch canceled before job ran: %w", err)
		return res
	}

	result, err := l.Upsert(ctx, UpsertRequest{
		Client:    job.Client,
		Plan:      job.Plan,
		Period:    period,
		Overrides: job.Overrides,
	})
	if err != nil {
		l.logger.WithField("client_id", job.Client.ID).WithError(err).Warn("Batch job failed")
		res.Err = err
		return res
	}
	res.Result = result
	return res
}
