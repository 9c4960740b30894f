package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"webrag/config"
	"webrag/loader/internal"
	"webrag/loader/service"
	"webrag/metrics"
	"webrag/model"
	"webrag/queue"
	"webrag/store"
)

func main() {
	config.LoadEnv()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger().With("process", "loader")
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("loader failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	db, err := store.NewPostgresStore(ctx, cfg.PostgresDSN(), cfg.EmbeddingDimension, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Init(ctx); err != nil {
		return err
	}

	client, err := queue.NewClient(queue.Config{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Name:     cfg.RedisQueueName,
	})
	if err != nil {
		return err
	}
	q := queue.NewRedisQueue(client, cfg.RedisQueueName, logger)
	defer func() {
		if err := q.Close(); err != nil {
			logger.Warn("error closing redis client", "error", err)
		}
	}()

	embedder, err := model.NewEmbedder(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	pipeline := service.NewPipeline(db, embedder, internal.NewFetcher(cfg.FetchTimeout), cfg.ChunkSize, m, logger)
	worker := service.NewWorker(q, pipeline, db, service.WorkerOptions{
		BlockTimeout: cfg.WorkerBlockTimeout,
		MarkFailed:   cfg.WorkerMarkFailed,
	}, m, logger)

	service.New(worker, q, m, cfg.MetricsAddr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), logger).Run()
	return nil
}
