package ocr

import (
	"context"
	"fmt"
	"strings"
)

// Recognize runs tesseract over a single image and returns normalized text.
func (e *Engine) Recognize(ctx context.Context, path string) (string, error) {
	args := []string{path, "stdout", "-l", e.cfg.Languages}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", fmt.Sprintf("%d", e.cfg.PSM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}

	// tesseract <file> stdout -l <lang>
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(string(errb)))
	}
	return Normalize(string(out)), nil
}
