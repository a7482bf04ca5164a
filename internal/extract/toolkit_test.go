package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joseph-ayodele/docparse/internal/common"
)

type stubRaw struct {
	pages     []string
	pagesErr  error
	images    []string
	imagesErr error
	cleaned   bool
}

func (s *stubRaw) PageTexts(context.Context, string) ([]string, error) {
	return s.pages, s.pagesErr
}

func (s *stubRaw) Images(context.Context, string) ([]string, func(), error) {
	return s.images, func() { s.cleaned = true }, s.imagesErr
}

type stubOCR struct {
	texts map[string]string
	fail  map[string]bool
	calls int
}

func (s *stubOCR) Recognize(_ context.Context, img string) (string, error) {
	s.calls++
	if s.fail[img] {
		return "", errors.New("tesseract crashed")
	}
	return s.texts[img], nil
}

func TestBuildCorpusSkipsOCRForLongText(t *testing.T) {
	raw := &stubRaw{pages: []string{strings.Repeat("营养成分表 能量 蛋白质 ", 10)}}
	o := &stubOCR{}
	tk := NewToolkit(raw, o, Config{OCREnabled: true}, nil)

	c, err := tk.BuildCorpus(context.Background(), "label.pdf")
	if err != nil {
		t.Fatalf("BuildCorpus: %v", err)
	}
	if c.OCRAugmented || o.calls != 0 {
		t.Fatalf("OCR should not run for long text (calls=%d)", o.calls)
	}
	if c.Format != "PDF" || len(c.Pages) != 1 {
		t.Fatalf("unexpected corpus: %+v", c)
	}
}

func TestBuildCorpusOCRFallback(t *testing.T) {
	raw := &stubRaw{pages: []string{"short"}, images: []string{"a.png", "b.png", "c.png"}}
	o := &stubOCR{
		texts: map[string]string{"a.png": "能量 250 kcal", "c.png": "蛋白质 15 g"},
		fail:  map[string]bool{"b.png": true},
	}
	tk := NewToolkit(raw, o, Config{OCREnabled: true}, nil)

	c, err := tk.BuildCorpus(context.Background(), "scan.pdf")
	if err != nil {
		t.Fatalf("BuildCorpus: %v", err)
	}
	if !c.OCRAugmented {
		t.Fatal("expected OCR augmentation")
	}
	if o.calls != 3 {
		t.Errorf("recognize calls = %d, want 3", o.calls)
	}
	if len(c.Pages) != 3 {
		t.Fatalf("pages = %d, want 3 (1 text + 2 ocr)", len(c.Pages))
	}
	if c.Pages[1].Source != SourceOCR || c.Pages[2].Number != 3 {
		t.Errorf("unexpected ocr pages: %+v", c.Pages[1:])
	}
	if len(c.Warnings) != 1 {
		t.Errorf("warnings = %v, want one for the failed image", c.Warnings)
	}
	if !raw.cleaned {
		t.Error("image cleanup not called")
	}
	if c.PageCount() != 1 {
		t.Errorf("PageCount = %d, want 1", c.PageCount())
	}
	if !strings.Contains(c.Text(), "蛋白质 15 g") {
		t.Errorf("ocr text missing from corpus: %q", c.Text())
	}
}

func TestBuildCorpusImageListingFailureIsNotFatal(t *testing.T) {
	raw := &stubRaw{pages: []string{""}, imagesErr: errors.New("pdfimages missing")}
	tk := NewToolkit(raw, &stubOCR{}, Config{OCREnabled: true}, nil)

	c, err := tk.BuildCorpus(context.Background(), "empty.pdf")
	if err != nil {
		t.Fatalf("BuildCorpus: %v", err)
	}
	if c.OCRAugmented || len(c.Warnings) == 0 {
		t.Fatalf("expected a warning and no augmentation: %+v", c)
	}
}

func TestBuildCorpusOCRDisabled(t *testing.T) {
	raw := &stubRaw{pages: []string{"x"}, images: []string{"a.png"}}
	o := &stubOCR{texts: map[string]string{"a.png": "text"}}
	tk := NewToolkit(raw, o, Config{OCREnabled: false}, nil)

	c, err := tk.BuildCorpus(context.Background(), "a.pdf")
	if err != nil {
		t.Fatalf("BuildCorpus: %v", err)
	}
	if o.calls != 0 || c.OCRAugmented {
		t.Fatal("OCR ran while disabled")
	}
}

func TestBuildCorpusTextFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipe.txt")
	body := "番茄炒蛋\n配料\n鸡蛋  2个\n番茄  1个\f第二页"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	tk := NewToolkit(nil, nil, Config{}, nil)

	c, err := tk.BuildCorpus(context.Background(), path)
	if err != nil {
		t.Fatalf("BuildCorpus: %v", err)
	}
	if len(c.Pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(c.Pages))
	}
	tables := c.Tables()
	if len(tables) != 1 || tables[0][1][0] != "番茄" {
		t.Fatalf("unexpected tables: %v", tables)
	}
}

func TestBuildCorpusUnsupported(t *testing.T) {
	tk := NewToolkit(&stubRaw{}, nil, Config{}, nil)
	_, err := tk.BuildCorpus(context.Background(), "archive.zip")
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDetectTables(t *testing.T) {
	text := strings.Join([]string{
		"营养成分表",
		"项目      每100克     NRV%",
		"能量      1050千焦    13%",
		"蛋白质    5.2克",
		"",
		"a | b",
		"single line",
	}, "\n")

	tables := DetectTables(text)
	if len(tables) != 1 {
		t.Fatalf("tables = %d, want 1", len(tables))
	}
	tbl := tables[0]
	if len(tbl) != 3 {
		t.Fatalf("rows = %d, want 3", len(tbl))
	}
	for i, row := range tbl {
		if len(row) != 3 {
			t.Errorf("row %d width = %d, want 3", i, len(row))
		}
	}
	if tbl[2][2] != "" {
		t.Errorf("padding cell = %q, want empty", tbl[2][2])
	}
}
