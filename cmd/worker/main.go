package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"doc-queue/internal/app"
	"doc-queue/internal/config"
	"doc-queue/internal/logging"
	"doc-queue/internal/metrics"
	"doc-queue/internal/queue"
	"doc-queue/internal/service"

	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	if err := run(cfg, logger); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	extractor, closeExtractor, err := app.NewExtractor(ctx, cfg.Extract, logger)
	if err != nil {
		return err
	}
	defer closeExtractor()

	metricsInstance := metrics.NewMetrics()

	pool := service.NewWorkerPool(
		stores.Queue,
		stores.Documents,
		stores.Blobs,
		extractor,
		metricsInstance,
		service.WorkerPoolConfig{
			Concurrency:  cfg.Queue.Concurrency,
			PollInterval: cfg.Queue.PollInterval.Duration,
			StageTimeout: cfg.Queue.StageTimeout.Duration,
		},
		logger,
	)

	monitor := service.NewDeadLetterMonitor(
		stores.Queue,
		stores.Documents,
		service.NewLogAlerter(logger),
		metricsInstance,
		cfg.DeadLetter.ResyncInterval.Duration,
		logger,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error {
		pruneCompleted(gctx, stores.Queue, cfg.Queue.KeepCompleted, cfg.Queue.PruneInterval.Duration, logger)
		return nil
	})

	logger.Info("worker started", "concurrency", cfg.Queue.Concurrency)
	err = g.Wait()

	logger.Info("worker stopped", "metrics", metricsInstance.GetSnapshot())
	return err
}

// pruneCompleted keeps the newest keep completed jobs until ctx is done
func pruneCompleted(ctx context.Context, q *queue.Queue, keep int, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := q.Prune(ctx, keep)
			if err != nil {
				logger.Error("error pruning completed jobs", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("pruned completed jobs", "count", n)
			}
		}
	}
}
