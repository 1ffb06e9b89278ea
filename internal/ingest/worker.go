package ingest

import (
	"context"
	"time"

	"github.com/hyperifyio/researchorch/internal/concurrency"
	"github.com/hyperifyio/researchorch/internal/store"
)

// WorkerOptions configures the durable ingest-queue worker.
type WorkerOptions struct {
	// BatchSize is how many queued jobs to claim per poll.
	BatchSize int
	// Concurrency bounds how many claimed jobs are processed at once.
	Concurrency int
	// MaxAttempts is how many attempts in total a job gets before it is
	// marked permanently errored (3 means the first try plus 2 retries).
	MaxAttempts int
	// ReviveStaleAfter resets processing rows stuck past this duration
	// back to queued, before each claim pass.
	ReviveStaleAfter time.Duration
}

// WorkerOptionsDefault returns the default batch, concurrency, and
// retry tuning for a queue worker.
func WorkerOptionsDefault() WorkerOptions {
	return WorkerOptions{BatchSize: 10, Concurrency: 4, MaxAttempts: 3, ReviveStaleAfter: 300 * time.Second}
}

// Worker drains the durable ingest queue, claiming, processing, and
// requeuing or failing jobs with stale-processing revival.
type Worker struct {
	Ingestor *Ingestor
	Opts     WorkerOptions
}

// NewWorker constructs a Worker with the given options, filling in
// defaults for any zero fields.
func NewWorker(ing *Ingestor, opts WorkerOptions) *Worker {
	d := WorkerOptionsDefault()
	if opts.BatchSize > 0 {
		d.BatchSize = opts.BatchSize
	}
	if opts.Concurrency > 0 {
		d.Concurrency = opts.Concurrency
	}
	if opts.MaxAttempts > 0 {
		d.MaxAttempts = opts.MaxAttempts
	}
	if opts.ReviveStaleAfter > 0 {
		d.ReviveStaleAfter = opts.ReviveStaleAfter
	}
	return &Worker{Ingestor: ing, Opts: d}
}

// BatchStats reports the outcome of one batch run, per item and overall,
// for the HTTP-triggered and timer-driven worker entry points.
type BatchStats struct {
	Revived   int
	Claimed   int
	Processed int
	OK        int
	Exists    int
	Requeued  int
	Errors    int
	Remaining int
}

// jobOutcome classifies what processJob did with one claimed row.
type jobOutcome int

const (
	outcomeOK jobOutcome = iota
	outcomeExists
	outcomeRequeued
	outcomeError
)

// PollOnce revives stale processing rows, claims up to BatchSize queued
// jobs, and processes them with bounded concurrency. It returns the number
// of jobs claimed (zero means the queue was empty).
func (w *Worker) PollOnce(ctx context.Context) (int, error) {
	stats, err := w.RunBatch(ctx)
	if err != nil {
		return 0, err
	}
	return stats.Claimed, nil
}

// RunBatch revives stale rows, claims up to BatchSize queued jobs,
// processes them with bounded concurrency, and returns full outcome
// counts for the caller (HTTP handler or cron-style binary) to report.
func (w *Worker) RunBatch(ctx context.Context) (BatchStats, error) {
	var stats BatchStats

	revived, err := w.Ingestor.Store.ReviveStaleIngestJobs(ctx, w.Opts.ReviveStaleAfter)
	if err != nil {
		return stats, err
	}
	stats.Revived = int(revived)

	jobs, err := w.Ingestor.Store.ClaimIngestJobs(ctx, w.Opts.BatchSize)
	if err != nil {
		return stats, err
	}
	stats.Claimed = len(jobs)

	if len(jobs) > 0 {
		outcomes, _ := concurrency.MapLimit(ctx, jobs, w.Opts.Concurrency, func(ctx context.Context, job store.IngestQueueItem) (jobOutcome, error) {
			return w.processJob(ctx, job), nil
		})
		for _, o := range outcomes {
			stats.Processed++
			switch o {
			case outcomeOK:
				stats.OK++
			case outcomeExists:
				stats.Exists++
			case outcomeRequeued:
				stats.Requeued++
			case outcomeError:
				stats.Errors++
			}
		}
	}

	remaining, err := w.Ingestor.Store.CountQueuedIngest(ctx)
	if err != nil {
		return stats, err
	}
	stats.Remaining = remaining
	return stats, nil
}

func (w *Worker) processJob(ctx context.Context, job store.IngestQueueItem) jobOutcome {
	_, existed, err := w.Ingestor.readAndPersist(ctx, job.URL)
	if err != nil {
		attempts := job.Attempts + 1
		_ = w.Ingestor.Store.FailIngestJob(ctx, job.ID, attempts, w.Opts.MaxAttempts, err.Error())
		if attempts < w.Opts.MaxAttempts {
			return outcomeRequeued
		}
		return outcomeError
	}
	_ = w.Ingestor.Store.CompleteIngestJob(ctx, job.ID)
	if existed {
		return outcomeExists
	}
	return outcomeOK
}

// Run polls the queue every interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.PollOnce(ctx)
		}
	}
}
