package pipeline

import (
	"log/slog"

	"github.com/joseph-ayodele/docparse/constants"
	"github.com/joseph-ayodele/docparse/internal/classify"
	"github.com/joseph-ayodele/docparse/internal/common"
	"github.com/joseph-ayodele/docparse/internal/extract"
	"github.com/joseph-ayodele/docparse/internal/ocr"
)

// NewFromConfig wires the poppler/tesseract toolkit and a coordinator from
// configuration.
func NewFromConfig(ocrCfg common.OCRConfig, pipeCfg common.PipelineConfig, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	engine := ocr.NewEngine(ocr.Config{
		Pdftotext:   ocrCfg.Pdftotext,
		Pdfimages:   ocrCfg.Pdfimages,
		Tesseract:   ocrCfg.Tesseract,
		Languages:   ocrCfg.Languages,
		TessdataDir: ocrCfg.TessdataDir,
		WorkDir:     ocrCfg.WorkDir,
	}, logger)
	adapter := extract.NewOCRAdapter(engine, logger)
	toolkit := extract.NewToolkit(adapter, adapter, extract.Config{
		MinTextLength: ocrCfg.MinTextLength,
		OCREnabled:    ocrCfg.Enabled,
	}, logger)

	fallback, ok := constants.Canonicalize(pipeCfg.FallbackCategory)
	if !ok {
		logger.Warn("pipeline.fallback.unknown", "category", pipeCfg.FallbackCategory, "known", constants.AsStringSlice())
	}
	if !fallback.Valid() {
		fallback = constants.Generic
	}
	opts = append([]Option{WithClassifier(classify.New(classify.WithFallback(fallback)))}, opts...)
	return NewCoordinator(toolkit, logger, opts...)
}
