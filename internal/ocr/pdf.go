package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PDFText returns the layout-preserving text of every page of a PDF.
// pdftotext separates pages with a form feed.
func (e *Engine) PDFText(ctx context.Context, path string) ([]string, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w: %s", err, strings.TrimSpace(string(errb)))
	}
	pages := strings.Split(string(out), "\f")
	// trailing form feed after the last page
	if n := len(pages); n > 1 && strings.TrimSpace(pages[n-1]) == "" {
		pages = pages[:n-1]
	}
	return pages, nil
}

// PDFImages extracts the embedded images of a PDF as PNG files.
// The returned cleanup removes the temporary directory and is never nil.
func (e *Engine) PDFImages(ctx context.Context, path string) ([]string, func(), error) {
	tmpDir, err := os.MkdirTemp(e.cfg.WorkDir, "docparse-img-*")
	if err != nil {
		return nil, func() {}, fmt.Errorf("create temp dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			e.logger.Warn("failed to remove temp dir", "dir", tmpDir, "error", err)
		}
	}

	prefix := filepath.Join(tmpDir, "img")
	// pdfimages -png <in.pdf> <tmp/img>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdfimages, "-png", path, prefix)
	if err != nil {
		return nil, cleanup, fmt.Errorf("pdfimages: %w: %s", err, strings.TrimSpace(string(errb)))
	}

	// collect generated pngs (img-000.png, img-001.png, ...)
	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, cleanup, fmt.Errorf("glob images: %w", err)
	}
	sort.Strings(matches)
	e.logger.Debug("pdf images extracted", "path", path, "count", len(matches))
	return matches, cleanup, nil
}
