// Package pipeline runs one document through extraction, classification,
// category extraction, standardization and scoring.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/docparse/constants"
	"github.com/joseph-ayodele/docparse/internal/classify"
	"github.com/joseph-ayodele/docparse/internal/extract"
	"github.com/joseph-ayodele/docparse/internal/extractor"
	"github.com/joseph-ayodele/docparse/internal/quality"
	"github.com/joseph-ayodele/docparse/internal/standardize"
)

// CorpusBuilder is the extraction toolkit as seen by the coordinator.
type CorpusBuilder interface {
	BuildCorpus(ctx context.Context, path string) (extract.Corpus, error)
}

// ProgressFunc is told about every completed stage. It may be nil.
type ProgressFunc func(stage Stage, progress int)

// Coordinator sequences the pipeline stages for one document at a time.
// It holds no per-run state and may be shared between workers.
type Coordinator struct {
	toolkit      CorpusBuilder
	classifier   *classify.Classifier
	selector     func(constants.Category) extractor.Extractor
	standardizer *standardize.Standardizer
	scorer       *quality.Scorer
	logger       *slog.Logger
	now          func() time.Time
}

type Option func(*Coordinator)

func WithClassifier(c *classify.Classifier) Option {
	return func(co *Coordinator) {
		if c != nil {
			co.classifier = c
		}
	}
}

// WithExtractors replaces the category -> extractor binding.
func WithExtractors(sel func(constants.Category) extractor.Extractor) Option {
	return func(co *Coordinator) {
		if sel != nil {
			co.selector = sel
		}
	}
}

func WithStandardizer(s *standardize.Standardizer) Option {
	return func(co *Coordinator) {
		if s != nil {
			co.standardizer = s
		}
	}
}

func WithScorer(s *quality.Scorer) Option {
	return func(co *Coordinator) {
		if s != nil {
			co.scorer = s
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(co *Coordinator) {
		if now != nil {
			co.now = now
		}
	}
}

func NewCoordinator(toolkit CorpusBuilder, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		toolkit:      toolkit,
		classifier:   classify.New(),
		selector:     extractor.For,
		standardizer: standardize.New(),
		scorer:       quality.Default(),
		logger:       logger,
		now:          time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run processes doc and always returns an envelope with status completed or
// failed. Stage errors, panics and cancellation of ctx all end in failed.
func (c *Coordinator) Run(ctx context.Context, doc Document, progress ProgressFunc) (env Envelope) {
	start := c.now()
	env = Envelope{
		BasicInfo: BasicInfo{Filename: filepath.Base(doc.Path), SourceRef: doc.SourceRef},
		Stage:     StageReceived,
	}
	log := c.logger.With("source_ref", doc.SourceRef, "path", doc.Path)

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline.panic", "stage", env.Stage, "panic", r)
			env = c.failed(env, fmt.Errorf("internal error in stage %s: %v", env.Stage, r))
		}
	}()

	advance := func(s Stage) error {
		env.Stage = s
		if progress != nil {
			progress(s, s.Progress())
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled after %s: %w", s, err)
		}
		return nil
	}

	if err := advance(StageReceived); err != nil {
		return c.failed(env, err)
	}

	// basic info
	fi, err := os.Stat(doc.Path)
	if err != nil {
		log.Warn("pipeline.basic_info.failed", "error", err)
		return c.failed(env, fmt.Errorf("read document metadata: %w", err))
	}
	if fi.IsDir() {
		return c.failed(env, fmt.Errorf("document %q is a directory", doc.Path))
	}
	env.BasicInfo.FileSize = fi.Size()
	env.BasicInfo.Format = constants.MapExtToFormat(filepath.Ext(doc.Path))
	if env.BasicInfo.Format == "" {
		return c.failed(env, fmt.Errorf("unsupported document type %q", filepath.Ext(doc.Path)))
	}
	if err := advance(StageBasicInfo); err != nil {
		return c.failed(env, err)
	}

	// text and tables, possibly OCR-augmented
	corpus, err := c.toolkit.BuildCorpus(ctx, doc.Path)
	if err != nil {
		log.Warn("pipeline.text.failed", "error", err)
		return c.failed(env, fmt.Errorf("extract text: %w", err))
	}
	env.BasicInfo.PageCount = corpus.PageCount()
	env.BasicInfo.OCRUsed = corpus.OCRAugmented
	env.BasicInfo.Warnings = corpus.Warnings
	if err := advance(StageText); err != nil {
		return c.failed(env, err)
	}
	if corpus.OCRAugmented {
		if err := advance(StageOCR); err != nil {
			return c.failed(env, err)
		}
	}

	// classification
	env.Category = c.resolveCategory(corpus, doc.CategoryHint, &env, log)
	if err := advance(StageClassified); err != nil {
		return c.failed(env, err)
	}

	// category extraction; extractor failures degrade quality, not status
	rec := c.selector(env.Category).Extract(corpus)
	if rec.Error != "" {
		log.Warn("pipeline.extract.degraded", "category", env.Category, "error", rec.Error)
	}
	if err := advance(StageExtracted); err != nil {
		return c.failed(env, err)
	}

	rec = c.standardizer.Standardize(rec)
	env.ExtractedData = &rec
	if err := advance(StageStandardized); err != nil {
		return c.failed(env, err)
	}

	b := c.scorer.Score(rec)
	env.Quality = &b
	env.QualityScore = b.Total
	if err := advance(StageScored); err != nil {
		return c.failed(env, err)
	}

	env.Status = constants.TaskCompleted
	env.Stage = StageDone
	env.ProcessedAt = c.now().UTC()
	if progress != nil {
		progress(StageDone, StageDone.Progress())
	}
	log.Info("pipeline.done",
		"category", env.Category,
		"quality_score", env.QualityScore,
		"pages", env.BasicInfo.PageCount,
		"ocr_used", env.BasicInfo.OCRUsed,
		"elapsed_ms", c.now().Sub(start).Milliseconds(),
	)
	return env
}

// resolveCategory honours a known hint and classifies otherwise.
func (c *Coordinator) resolveCategory(corpus extract.Corpus, hint string, env *Envelope, log *slog.Logger) constants.Category {
	cat, known := constants.Canonicalize(hint)
	if known && cat != "" {
		return cat
	}
	if !known {
		log.Warn("pipeline.hint.unknown", "category_hint", hint)
	}
	res := c.classifier.Classify(corpus.Text())
	env.Classification = &res
	return res.Category
}

func (c *Coordinator) failed(env Envelope, err error) Envelope {
	env.Status = constants.TaskFailed
	env.Error = err.Error()
	env.ProcessedAt = c.now().UTC()
	return env
}
