package extract

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/docparse/internal/ocr"
)

// OCRAdapter exposes an ocr.Engine as both the raw and the OCR capability of a Toolkit.
type OCRAdapter struct {
	e      *ocr.Engine
	logger *slog.Logger
}

func NewOCRAdapter(e *ocr.Engine, logger *slog.Logger) *OCRAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &OCRAdapter{e: e, logger: logger}
}

func (a *OCRAdapter) PageTexts(ctx context.Context, path string) ([]string, error) {
	return a.e.PDFText(ctx, path)
}

func (a *OCRAdapter) Images(ctx context.Context, path string) ([]string, func(), error) {
	return a.e.PDFImages(ctx, path)
}

func (a *OCRAdapter) Recognize(ctx context.Context, imagePath string) (string, error) {
	return a.e.Recognize(ctx, imagePath)
}
