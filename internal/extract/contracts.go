package extract

import (
	"context"
	"strings"
)

// RawExtractor is the structural path: per-page text and embedded images.
type RawExtractor interface {
	PageTexts(ctx context.Context, path string) ([]string, error)
	Images(ctx context.Context, path string) (paths []string, cleanup func(), err error)
}

// ImageRecognizer turns one image into text.
type ImageRecognizer interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// Page sources.
const (
	SourceText = "text"
	SourceOCR  = "ocr"
)

// Table is a rectangular grid of cells.
type Table [][]string

// Page is one page (or one OCR'd image) of a document.
type Page struct {
	Number int     `json:"number"`
	Text   string  `json:"text"`
	Tables []Table `json:"tables,omitempty"`
	Source string  `json:"source"`
}

// Corpus is the decoded content of one document, consumed by classification and extraction.
type Corpus struct {
	Path         string   `json:"path"`
	Format       string   `json:"format"`
	Pages        []Page   `json:"pages"`
	OCRAugmented bool     `json:"ocr_augmented"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Text concatenates page texts in order.
func (c Corpus) Text() string {
	parts := make([]string, 0, len(c.Pages))
	for _, p := range c.Pages {
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Tables returns every table of every page in page order.
func (c Corpus) Tables() []Table {
	var out []Table
	for _, p := range c.Pages {
		out = append(out, p.Tables...)
	}
	return out
}

// PageCount counts structural pages; OCR pages from embedded images are not counted.
func (c Corpus) PageCount() int {
	n := 0
	for _, p := range c.Pages {
		if p.Source != SourceOCR {
			n++
		}
	}
	if n == 0 && len(c.Pages) > 0 {
		return 1
	}
	return n
}
