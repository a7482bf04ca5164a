package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/docparse/constants"
	"github.com/joseph-ayodele/docparse/internal/common"
)

// DefaultMinTextLength is the text length under which OCR augmentation kicks in.
const DefaultMinTextLength = 50

type Config struct {
	MinTextLength int
	OCREnabled    bool
}

// Toolkit builds a Corpus from a document file.
type Toolkit struct {
	raw    RawExtractor
	ocr    ImageRecognizer
	cfg    Config
	logger *slog.Logger
}

// NewToolkit wires the raw extractor and the recognizer. ocr may be nil when OCR is unavailable.
func NewToolkit(raw RawExtractor, ocr ImageRecognizer, cfg Config, logger *slog.Logger) *Toolkit {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = DefaultMinTextLength
	}
	if ocr == nil {
		cfg.OCREnabled = false
	}
	return &Toolkit{raw: raw, ocr: ocr, cfg: cfg, logger: logger}
}

// BuildCorpus extracts pages and tables from path. A PDF whose text is shorter than
// MinTextLength is augmented with OCR of its embedded images; OCR failures are logged
// and skipped. Only unreadable or unsupported documents return an error.
func (t *Toolkit) BuildCorpus(ctx context.Context, path string) (Corpus, error) {
	format := constants.MapExtToFormat(filepath.Ext(path))
	c := Corpus{Path: path, Format: format}

	switch format {
	case constants.TXT:
		b, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read text: %w", err)
		}
		c.Pages = textPages(strings.Split(string(b), "\f"))
	case constants.PDF:
		if t.raw == nil {
			return c, common.NewAppError("NO_EXTRACTOR", "no raw extractor configured", common.ErrInternal)
		}
		texts, err := t.raw.PageTexts(ctx, path)
		if err != nil {
			return c, fmt.Errorf("extract text: %w", err)
		}
		c.Pages = textPages(texts)
		if TextLength(c.Text()) < t.cfg.MinTextLength {
			t.augmentFromImages(ctx, &c)
		}
	case constants.IMAGE:
		t.recognizeInto(ctx, &c, []string{path})
	default:
		return c, common.NewAppError("UNSUPPORTED_FORMAT",
			fmt.Sprintf("unsupported document extension %q", filepath.Ext(path)), common.ErrInvalidInput)
	}

	t.logger.Debug("corpus built",
		"path", path,
		"format", format,
		"pages", len(c.Pages),
		"ocr_augmented", c.OCRAugmented,
		"text_len", TextLength(c.Text()),
	)
	return c, nil
}

func (t *Toolkit) augmentFromImages(ctx context.Context, c *Corpus) {
	if !t.cfg.OCREnabled {
		c.Warnings = append(c.Warnings, "text below threshold and OCR disabled")
		return
	}
	imgs, cleanup, err := t.raw.Images(ctx, c.Path)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		t.logger.Warn("extract.images.failed", "path", c.Path, "error", err)
		c.Warnings = append(c.Warnings, err.Error())
		return
	}
	t.recognizeInto(ctx, c, imgs)
}

func (t *Toolkit) recognizeInto(ctx context.Context, c *Corpus, imgs []string) {
	if !t.cfg.OCREnabled {
		c.Warnings = append(c.Warnings, "OCR disabled")
		return
	}
	next := len(c.Pages) + 1
	for _, img := range imgs {
		if ctx.Err() != nil {
			c.Warnings = append(c.Warnings, ctx.Err().Error())
			return
		}
		txt, err := t.ocr.Recognize(ctx, img)
		if err != nil {
			t.logger.Warn("extract.ocr.failed", "path", c.Path, "image", img, "error", err)
			c.Warnings = append(c.Warnings, fmt.Sprintf("%s: %v", filepath.Base(img), err))
			continue
		}
		if strings.TrimSpace(txt) == "" {
			continue
		}
		c.Pages = append(c.Pages, Page{
			Number: next,
			Text:   txt,
			Tables: DetectTables(txt),
			Source: SourceOCR,
		})
		next++
		c.OCRAugmented = true
	}
}

func textPages(texts []string) []Page {
	pages := make([]Page, 0, len(texts))
	for i, txt := range texts {
		pages = append(pages, Page{
			Number: i + 1,
			Text:   strings.TrimRight(txt, "\n "),
			Tables: DetectTables(txt),
			Source: SourceText,
		})
	}
	return pages
}

// TextLength counts the characters of s ignoring surrounding whitespace.
func TextLength(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}
