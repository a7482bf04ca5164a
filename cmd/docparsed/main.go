package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/joseph-ayodele/docparse/internal/broker"
	"github.com/joseph-ayodele/docparse/internal/common"
	"github.com/joseph-ayodele/docparse/internal/ingest"
	"github.com/joseph-ayodele/docparse/internal/notify"
	"github.com/joseph-ayodele/docparse/internal/pipeline"
	"github.com/joseph-ayodele/docparse/internal/repository"
	"github.com/joseph-ayodele/docparse/internal/server"
	"github.com/joseph-ayodele/docparse/internal/store"
	"github.com/joseph-ayodele/docparse/internal/tasks"
	"github.com/joseph-ayodele/docparse/internal/telemetry"
	"github.com/joseph-ayodele/docparse/internal/worker"
)

func main() {
	cfg := common.LoadConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("docparsed exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("docparsed stopped")
}

func run(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	shutdownMetrics, err := telemetry.Setup(ctx, cfg.Telemetry, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(sctx); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
	}()
	metrics, err := telemetry.NewMetrics(nil)
	if err != nil {
		return err
	}

	rdb, err := store.Open(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer store.Close(rdb, logger)

	statusStore := store.NewRedisStore(rdb, logger, store.WithTTL(cfg.Tasks.StatusTTL, cfg.Tasks.HistoryTTL))
	queue := broker.NewRedisBroker(rdb, cfg.Redis.Queue, logger)

	policy := tasks.CancelKeepTerminal
	if cfg.Tasks.CancelOverwrite {
		policy = tasks.CancelOverwriteTerminal
	}
	mgr := tasks.NewManager(statusStore, queue, logger, tasks.WithCancelPolicy(policy))

	catalog, err := repository.OpenCatalog(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer catalog.Close()

	opts := []worker.Option{
		worker.WithConcurrency(cfg.Worker.Concurrency),
		worker.WithJobTimeout(cfg.Worker.JobTimeout),
		worker.WithMaxRetries(cfg.Worker.MaxRetries),
		worker.WithHeartbeat(cfg.Worker.Heartbeat),
		worker.WithSourceRoot(cfg.Pipeline.SourceRoot),
		worker.WithNotifier(notify.New(nil, cfg.Worker.CallbackTimeout, logger)),
		worker.WithMetrics(metrics),
	}
	if catalog != nil {
		opts = append(opts, worker.WithCatalog(catalog.Results))
	}
	coordinator := pipeline.NewFromConfig(cfg.OCR, cfg.Pipeline, logger)
	runtime := worker.NewRuntime(queue, mgr, coordinator, logger, opts...)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		return err
	}
	grpcServer, healthServer := server.New(server.NewTaskServer(mgr, logger), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("docparsed listening", "addr", cfg.Server.GRPCAddr, "worker_id", runtime.ID())
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error { return runtime.Run(gctx) })
	g.Go(func() error {
		mgr.RunJanitor(gctx, tasks.Retention{
			Interval:    cfg.Tasks.CleanupInterval,
			LiveDays:    cfg.Tasks.CleanupRetentionDays,
			HistoryDays: cfg.Tasks.HistoryRetentionDays,
		})
		return nil
	})
	if len(cfg.Ingest.WatchDirs) > 0 {
		watcher := ingest.NewService(mgr, cfg.Pipeline.SourceRoot, logger, ingest.WithSkipHidden(cfg.Ingest.SkipHidden))
		g.Go(func() error {
			return watcher.Watch(gctx, ingest.WatchConfig{
				Roots:        cfg.Ingest.WatchDirs,
				CategoryHint: cfg.Ingest.CategoryHint,
				Debounce:     cfg.Ingest.Debounce,
			})
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		return nil
	})
	return g.Wait()
}
