package ocr

import (
	"log/slog"
)

// Config names the external binaries and their options.
type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdfimages string // binary name or absolute path; if empty -> "pdfimages"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	Languages   string // tesseract -l value, default "eng+chi_sim"
	TessdataDir string
	PSM         int // e.g., 6 is good for uniform block of text

	// WorkDir hosts temporary image extraction directories; "" uses os.TempDir.
	WorkDir string
}

// Engine drives poppler and tesseract through a Runner.
type Engine struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithRunner replaces the process runner, mostly for tests.
func WithRunner(r Runner) Option {
	return func(e *Engine) {
		if r != nil {
			e.runner = r
		}
	}
}

func NewEngine(cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdfimages == "" {
		cfg.Pdfimages = "pdfimages"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Languages == "" {
		cfg.Languages = "eng+chi_sim"
	}
	e := &Engine{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
	for _, o := range opts {
		o(e)
	}
	return e
}
