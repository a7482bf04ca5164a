package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joseph-ayodele/docparse/internal/common"
	"github.com/joseph-ayodele/docparse/internal/export"
	"github.com/joseph-ayodele/docparse/internal/repository"
)

func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		out      = flag.String("out", "results.xlsx", "output XLSX file path")
		category = flag.String("category", "", "only export this category")
		status   = flag.String("status", "", "only export this status (completed, failed)")
		batch    = flag.String("batch", "", "only export documents from this batch task")
		sqlite   = flag.String("sqlite", "", "read from this SQLite catalog instead of DB_URL")
	)
	flag.Parse()

	cfg := common.LoadConfig()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if *sqlite != "" {
		cfg.Database.DSN = ""
		cfg.Database.SQLitePath = *sqlite
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	catalog, err := repository.OpenCatalog(ctx, cfg.Database, logger)
	if err != nil {
		printError("Error: open catalog: %v\n", err)
		os.Exit(1)
	}
	if catalog == nil {
		printError("Error: no catalog configured, set DB_URL or SQLITE_PATH or pass --sqlite\n")
		os.Exit(1)
	}
	defer catalog.Close()

	svc := export.NewService(catalog.Results, logger)
	data, err := svc.ExportResultsXLSX(ctx, repository.Filter{
		Category: *category,
		Status:   *status,
		BatchID:  *batch,
	})
	if err != nil {
		printError("Error: export: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		printError("Error: write %s: %v\n", *out, err)
		os.Exit(1)
	}
	logger.Info("export written", "path", *out, "bytes", len(data))
}
