package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"webrag/metrics"
	"webrag/queue"
	"webrag/types"
)

const (
	dequeueErrorDelay = time.Second
	markFailedTimeout = 5 * time.Second
)

// JobProcessor runs a single ingestion job.
type JobProcessor interface {
	Process(context.Context, types.IngestionMessage) error
}

// StatusSetter is the slice of the store the worker needs to mark failures.
type StatusSetter interface {
	UpdateStatus(context.Context, uuid.UUID, types.URLStatus) error
}

// Worker takes jobs off the queue one at a time. A failed job is logged and
// dropped; it is never put back.
type Worker struct {
	queue        queue.Queue
	processor    JobProcessor
	statuses     StatusSetter
	blockTimeout time.Duration
	markFailed   bool
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

type WorkerOptions struct {
	BlockTimeout time.Duration
	MarkFailed   bool
}

func NewWorker(q queue.Queue, processor JobProcessor, statuses StatusSetter, opts WorkerOptions, m *metrics.Metrics, logger *slog.Logger) *Worker {
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = 5 * time.Second
	}
	return &Worker{
		queue:        q,
		processor:    processor,
		statuses:     statuses,
		blockTimeout: opts.BlockTimeout,
		markFailed:   opts.MarkFailed,
		metrics:      m,
		logger:       logger,
	}
}

// Run loops until ctx is cancelled. The current job is allowed to observe the
// cancellation through its context.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", "block_timeout", w.blockTimeout, "mark_failed", w.markFailed)
	defer w.logger.Info("worker stopped")

	for ctx.Err() == nil {
		job, err := w.queue.Dequeue(ctx, w.blockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to dequeue job", "error", err)
			if !errors.Is(err, queue.ErrMalformedMessage) {
				sleep(ctx, dequeueErrorDelay)
			}
			continue
		}
		if job == nil {
			continue
		}

		w.handle(ctx, *job)
	}
}

// handle is the boundary where pipeline errors stop propagating.
func (w *Worker) handle(ctx context.Context, job types.IngestionMessage) {
	started := time.Now()
	err := w.processor.Process(ctx, job)
	if err == nil {
		w.metrics.IngestionJobs.WithLabelValues("completed").Inc()
		w.logger.Info("job finished", "url_id", job.URLID, "url", job.URL, "duration", time.Since(started))
		return
	}

	w.metrics.IngestionJobs.WithLabelValues("failed").Inc()
	attrs := []any{"url_id", job.URLID, "url", job.URL, "error", err}
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		attrs = append(attrs, "stage", stepErr.Stage, "kind", stepErr.Kind)
	}
	w.logger.Error("job failed", attrs...)

	if !w.markFailed {
		return
	}

	// The job context may already be cancelled by shutdown.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markFailedTimeout)
	defer cancel()
	if err := w.statuses.UpdateStatus(markCtx, job.URLID, types.StatusFailed); err != nil {
		w.logger.Error("failed to mark url as failed", "url_id", job.URLID, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
