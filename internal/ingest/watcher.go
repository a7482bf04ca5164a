package ingest

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/joseph-ayodele/docparse/internal/tasks"
)

// WatchConfig configures Watch.
type WatchConfig struct {
	Roots        []string
	CategoryHint string
	// Debounce coalesces bursts of write events for the same file.
	Debounce time.Duration
}

// Watch submits a single-document task for every allowed file created or
// rewritten under the roots, recursively, until ctx is cancelled.
func (s *Service) Watch(ctx context.Context, cfg WatchConfig) error {
	if len(cfg.Roots) == 0 {
		return errors.New("no roots provided")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if err := w.Close(); err != nil {
			s.logger.Warn("ingest.watch.close_failed", "error", err)
		}
	}()

	for _, root := range cfg.Roots {
		if err := s.addTree(w, root); err != nil {
			s.logger.Error("failed to watch directory", "root", root, "error", err)
			return err
		}
	}
	s.logger.Info("ingest.watch.started", "roots", cfg.Roots)

	var (
		mu      sync.Mutex
		pending = map[string]*time.Timer{}
	)
	fire := func(path string) {
		mu.Lock()
		delete(pending, path)
		mu.Unlock()
		s.submitFile(ctx, path, cfg.CategoryHint)
	}
	defer func() {
		mu.Lock()
		for _, t := range pending {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-w.Events:
			if !ok {
				return nil
			}
			if e.Has(fsnotify.Create) {
				if info, err := os.Stat(e.Name); err == nil && info.IsDir() {
					if err := s.addTree(w, e.Name); err != nil {
						s.logger.Warn("failed to watch new directory", "path", e.Name, "error", err)
					}
					continue
				}
			}
			if !e.Has(fsnotify.Create) && !e.Has(fsnotify.Write) {
				continue
			}
			if !s.allowed(e.Name) || (s.skipHidden && isHidden(e.Name)) {
				continue
			}
			path := e.Name
			if cfg.Debounce <= 0 {
				s.submitFile(ctx, path, cfg.CategoryHint)
				continue
			}
			mu.Lock()
			if t, ok := pending[path]; ok {
				t.Reset(cfg.Debounce)
			} else {
				pending[path] = time.AfterFunc(cfg.Debounce, func() { fire(path) })
			}
			mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", "error", err)
		}
	}
}

func (s *Service) addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() {
			return nil
		}
		if s.skipHidden && path != root && isHidden(path) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func (s *Service) submitFile(ctx context.Context, path, hint string) {
	if ctx.Err() != nil {
		return
	}
	ref, err := s.ref(path)
	if err != nil {
		s.logger.Warn("ingest.file.skipped", "path", path, "error", err)
		return
	}
	id, err := s.submit.Submit(ctx, tasks.SubmitRequest{SourceRef: ref, CategoryHint: hint})
	if err != nil {
		s.logger.Error("ingest.file.submit_failed", "path", path, "error", err)
		return
	}
	s.logger.Info("ingest.file.submitted", "path", path, "source_ref", ref, "task_id", id)
}
