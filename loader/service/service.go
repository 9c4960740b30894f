package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"webrag/metrics"
	"webrag/queue"
)

const (
	queueDepthInterval = 15 * time.Second
	shutdownTimeout    = 5 * time.Second
)

// Service hosts the worker loop next to a metrics endpoint and a queue depth
// sampler, and stops all of them on SIGINT or SIGTERM.
type Service struct {
	logger        *slog.Logger
	worker        *Worker
	queue         queue.Queue
	metrics       *metrics.Metrics
	metricsServer *http.Server
}

func New(worker *Worker, q queue.Queue, m *metrics.Metrics, metricsAddr string, metricsHandler http.Handler, logger *slog.Logger) *Service {
	s := &Service{
		logger:  logger,
		worker:  worker,
		queue:   q,
		metrics: m,
	}
	if metricsAddr != "" && metricsHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		s.metricsServer = &http.Server{
			Addr:              metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return s
}

func (s *Service) Stop() {
	s.logger.Info("loader service stopped")
}

// Run blocks until a shutdown signal arrives.
func (s *Service) Run() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s.RunContext(ctx)
}

// RunContext blocks until ctx is cancelled, then waits a bounded time for the
// current job to wind down.
func (s *Service) RunContext(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.worker.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.sampleQueueDepth(ctx)
	}()

	if s.metricsServer != nil {
		go func() {
			s.logger.Info("metrics server listening", "addr", s.metricsServer.Addr)
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	<-ctx.Done()
	s.logger.Info("received shutdown signal, shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("metrics server shutdown", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all goroutines stopped")
	case <-shutdownCtx.Done():
		s.logger.Warn("timeout waiting for goroutines to stop, forcing shutdown")
	}

	s.Stop()
}

func (s *Service) sampleQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()

	for {
		if n, err := s.queue.Length(ctx); err == nil {
			s.metrics.QueueDepth.Set(float64(n))
		} else if ctx.Err() == nil {
			s.logger.Warn("failed to read queue length", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
