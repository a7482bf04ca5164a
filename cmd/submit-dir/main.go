package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joseph-ayodele/docparse/internal/broker"
	"github.com/joseph-ayodele/docparse/internal/common"
	"github.com/joseph-ayodele/docparse/internal/ingest"
	"github.com/joseph-ayodele/docparse/internal/store"
	"github.com/joseph-ayodele/docparse/internal/tasks"
)

func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir        = flag.String("dir", "", "directory to submit (required)")
		hint       = flag.String("hint", "", "category hint for every document")
		callback   = flag.String("callback", "", "callback URL notified when each batch finishes")
		exts       = flag.String("ext", "", "comma-separated extensions to include (default: all supported)")
		batchSize  = flag.Int("batch-size", 100, "maximum documents per batch task")
		showHidden = flag.Bool("hidden", false, "include dot files and directories")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}

	cfg := common.LoadConfig()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	rdb, err := store.Open(ctx, cfg.Redis, logger)
	if err != nil {
		printError("Error: connect redis: %v\n", err)
		os.Exit(1)
	}
	defer store.Close(rdb, logger)

	mgr := tasks.NewManager(
		store.NewRedisStore(rdb, logger, store.WithTTL(cfg.Tasks.StatusTTL, cfg.Tasks.HistoryTTL)),
		broker.NewRedisBroker(rdb, cfg.Redis.Queue, logger),
		logger,
	)

	opts := []ingest.Option{ingest.WithBatchSize(*batchSize), ingest.WithSkipHidden(!*showHidden)}
	if *exts != "" {
		opts = append(opts, ingest.WithExtensions(strings.Split(*exts, ",")...))
	}
	svc := ingest.NewService(mgr, cfg.Pipeline.SourceRoot, logger, opts...)

	ids, stats, err := svc.SubmitDirectory(ctx, *dir, *hint, *callback)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	logger.Info("directory submitted",
		"dir", *dir, "tasks", len(ids),
		"scanned", stats.Scanned, "matched", stats.Matched, "skipped", stats.Skipped, "failed", stats.Failed)
}
