package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/docparse/constants"
	"github.com/joseph-ayodele/docparse/internal/tasks"
)

// Submitter is the slice of the task manager that ingestion needs.
type Submitter interface {
	Submit(ctx context.Context, req tasks.SubmitRequest) (string, error)
	SubmitBatch(ctx context.Context, req tasks.BatchRequest) (string, error)
}

// Service turns files on disk into parse tasks. Source refs are made relative
// to the source root so workers resolve them the same way.
type Service struct {
	submit     Submitter
	root       string
	exts       map[string]struct{}
	skipHidden bool
	batchSize  int
	logger     *slog.Logger
}

type Option func(*Service)

// WithExtensions restricts ingestion to the given extensions.
func WithExtensions(exts ...string) Option {
	return func(s *Service) {
		set := make(map[string]struct{}, len(exts))
		for _, e := range exts {
			if e = constants.NormalizeExt(strings.TrimSpace(e)); e != "" {
				set[e] = struct{}{}
			}
		}
		if len(set) > 0 {
			s.exts = set
		}
	}
}

// WithSkipHidden controls whether dot files and dot directories are ignored.
func WithSkipHidden(skip bool) Option {
	return func(s *Service) { s.skipHidden = skip }
}

// WithBatchSize caps the number of documents per batch task.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func NewService(submit Submitter, sourceRoot string, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		submit:     submit,
		root:       sourceRoot,
		exts:       constants.AllowedExtensions,
		skipHidden: true,
		batchSize:  100,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) allowed(path string) bool {
	_, ok := s.exts[constants.NormalizeExt(filepath.Ext(path))]
	return ok
}

// ref converts a filesystem path into a source ref under the root.
func (s *Service) ref(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("abs path: %w", err)
	}
	if s.root == "" {
		return abs, nil
	}
	root, err := filepath.Abs(s.root)
	if err != nil {
		return "", fmt.Errorf("abs root: %w", err)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the source root %s", path, s.root)
	}
	return filepath.ToSlash(rel), nil
}

func isHidden(path string) bool {
	base := filepath.Base(path)
	return len(base) > 1 && strings.HasPrefix(base, ".")
}
