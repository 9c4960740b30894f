package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"webrag/app/agent"
	"webrag/app/server"
	"webrag/config"
	"webrag/loader/service"
	"webrag/metrics"
	"webrag/model"
	"webrag/queue"
	"webrag/store"
)

func main() {
	config.LoadEnv()

	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateGeneration()
	}
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger().With("process", "api")
	slog.SetDefault(logger)

	ctx := context.Background()

	db, err := store.NewPostgresStore(ctx, cfg.PostgresDSN(), cfg.EmbeddingDimension, logger)
	if err != nil {
		logger.Error("error to connect to Postgres database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Init(ctx); err != nil {
		logger.Error("error to create tables", "error", err)
		os.Exit(1)
	}

	client, err := queue.NewClient(queue.Config{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Name:     cfg.RedisQueueName,
	})
	if err != nil {
		logger.Error("error to connect to Redis", "error", err)
		os.Exit(1)
	}
	q := queue.NewRedisQueue(client, cfg.RedisQueueName, logger)
	defer q.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	embedder, err := model.NewEmbedder(cfg)
	if err != nil {
		logger.Error("error to create embedder", "error", err)
		os.Exit(1)
	}
	generator, err := model.NewGenerator(cfg)
	if err != nil {
		logger.Error("error to create generator", "error", err)
		os.Exit(1)
	}

	s := server.NewServer(cfg.ServerAddr, cfg.AppName, server.Deps{
		DB:             db,
		Queue:          q,
		Submitter:      service.NewSubmitter(db, q, m, logger),
		Agent:          agent.New(db, embedder, generator, cfg.Retrieval, m, logger),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	}, logger)

	go func() {
		if err := s.Run(); err != nil {
			logger.Error("server stopped with error", "error", err)
		}
	}()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	<-sigch
	logger.Info("received shutdown signal, shutting down server")
	s.Stop()
}
