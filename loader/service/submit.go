package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"webrag/metrics"
	"webrag/queue"
	"webrag/store"
	"webrag/types"
)

// Submitter records submitted URLs and queues a job for every URL that is
// new, still PENDING or FAILED. URLs in any other status are left alone.
type Submitter struct {
	store   store.DBStorer
	queue   queue.Queue
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewSubmitter(storer store.DBStorer, q queue.Queue, m *metrics.Metrics, logger *slog.Logger) *Submitter {
	return &Submitter{
		store:   storer,
		queue:   q,
		metrics: m,
		logger:  logger,
	}
}

// Submit returns the URLs a job was queued for.
func (s *Submitter) Submit(ctx context.Context, urls []string) ([]types.URL, error) {
	if len(urls) == 0 {
		return nil, types.ErrEmptyURLList
	}

	records, err := s.store.CreateURLs(ctx, urls)
	if err != nil {
		return nil, fmt.Errorf("create urls: %w", err)
	}

	var (
		queued []types.URL
		errs   []error
	)
	for _, u := range records {
		if !u.Status.Enqueueable() {
			s.logger.Debug("url already handled, skipping", "url_id", u.ID, "url", u.URL, "status", u.Status)
			continue
		}

		if err := s.queue.Enqueue(ctx, types.NewIngestionMessage(u)); err != nil {
			s.metrics.QueueEnqueued.WithLabelValues("error").Inc()
			errs = append(errs, err)
			continue
		}
		s.metrics.QueueEnqueued.WithLabelValues("ok").Inc()
		queued = append(queued, u)
	}

	s.logger.Info("urls submitted", "submitted", len(records), "queued", len(queued))
	return queued, errors.Join(errs...)
}
