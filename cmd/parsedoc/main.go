package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/docparse/internal/common"
	"github.com/joseph-ayodele/docparse/internal/pipeline"
)

func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		hint    = flag.String("hint", "", "category hint (food, recipe, generic)")
		noOCR   = flag.Bool("no-ocr", false, "disable OCR fallback for scanned documents")
		timeout = flag.Duration("timeout", 5*time.Minute, "overall time limit")
	)
	flag.Usage = func() {
		printError("usage: parsedoc [flags] <file>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path, err := filepath.Abs(flag.Arg(0))
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(2)
	}

	cfg := common.LoadConfig()
	if *noOCR {
		cfg.OCR.Enabled = false
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	coordinator := pipeline.NewFromConfig(cfg.OCR, cfg.Pipeline, logger)
	env := coordinator.Run(ctx, pipeline.Document{
		SourceRef:    flag.Arg(0),
		Path:         path,
		CategoryHint: *hint,
	}, func(stage pipeline.Stage, pct int) {
		logger.Debug("parsedoc.progress", "stage", stage, "progress", pct)
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		printError("Error: encode result: %v\n", err)
		os.Exit(1)
	}
	if !env.Succeeded() {
		os.Exit(1)
	}
}
