package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/docparse/internal/broker"
	"github.com/joseph-ayodele/docparse/internal/common"
	"github.com/joseph-ayodele/docparse/internal/tasks"
)

// FileResult is the per-file outcome of a directory scan.
type FileResult struct {
	Path      string
	SourceRef string
	Err       string
}

// DirStats summarizes a directory scan.
type DirStats struct {
	Scanned uint32
	Matched uint32
	Skipped uint32
	Failed  uint32
}

// Scan walks root and returns every file with an allowed extension, as source refs.
func (s *Service) Scan(root string) ([]FileResult, DirStats, error) {
	var stats DirStats
	if strings.TrimSpace(root) == "" {
		return nil, stats, common.NewAppError("INVALID_DIRECTORY", "directory is required", common.ErrInvalidInput)
	}

	var results []FileResult
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		stats.Scanned++
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if s.skipHidden && path != root && isHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			stats.Skipped++
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !s.allowed(path) {
			stats.Skipped++
			return nil
		}
		stats.Matched++

		ref, err := s.ref(path)
		if err != nil {
			results = append(results, FileResult{Path: path, Err: err.Error()})
			stats.Failed++
			return nil
		}
		results = append(results, FileResult{Path: path, SourceRef: ref})
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, stats, common.NewAppError("INVALID_DIRECTORY", fmt.Sprintf("directory %s does not exist", root), common.ErrInvalidInput)
		}
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}

// SubmitDirectory scans dir and submits the matching files as batch tasks of at
// most the configured batch size. It returns the created task ids in order.
func (s *Service) SubmitDirectory(ctx context.Context, dir, categoryHint, callbackRef string) ([]string, DirStats, error) {
	files, stats, err := s.Scan(dir)
	if err != nil {
		return nil, stats, err
	}

	var docs []broker.Document
	for _, f := range files {
		if f.Err != "" {
			s.logger.Warn("ingest.file.skipped", "path", f.Path, "error", f.Err)
			continue
		}
		docs = append(docs, broker.Document{SourceRef: f.SourceRef, CategoryHint: categoryHint})
	}
	if len(docs) == 0 {
		s.logger.Info("ingest.directory.empty", "dir", dir, "scanned", stats.Scanned)
		return nil, stats, nil
	}

	var ids []string
	for start := 0; start < len(docs); start += s.batchSize {
		end := min(start+s.batchSize, len(docs))
		id, err := s.submit.SubmitBatch(ctx, tasks.BatchRequest{
			Documents:   docs[start:end],
			CallbackRef: callbackRef,
		})
		if err != nil {
			return ids, stats, fmt.Errorf("submit batch %d-%d: %w", start, end, err)
		}
		ids = append(ids, id)
	}
	s.logger.Info("ingest.directory.submitted", "dir", dir, "documents", len(docs), "tasks", len(ids))
	return ids, stats, nil
}
