// Package quality rates how complete an extracted record is, on a 0–100 scale.
package quality

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/docparse/internal/common"
	"github.com/joseph-ayodele/docparse/internal/extractor"
)

// MaxScore is awarded when every criterion is satisfied.
const MaxScore = 100

// Weights is the rubric. Fields must be non-negative and sum to MaxScore.
type Weights struct {
	Type       int `json:"type"`        // record has a known category
	Name       int `json:"name"`        // non-empty name or title
	Data       int `json:"data"`        // at least one primary data item
	FewFields  int `json:"few_fields"`  // data count reaches Config.FewFields
	ManyFields int `json:"many_fields"` // data count reaches Config.ManyFields
	Text       int `json:"text"`        // proportional to raw text length up to Config.MinTextLength
}

// DefaultWeights sums to MaxScore.
var DefaultWeights = Weights{Type: 10, Name: 10, Data: 20, FewFields: 15, ManyFields: 15, Text: 30}

func (w Weights) Total() int {
	return w.Type + w.Name + w.Data + w.FewFields + w.ManyFields + w.Text
}

type Config struct {
	Weights       Weights
	FewFields     int
	ManyFields    int
	MinTextLength int
}

// DefaultConfig returns the default rubric: 3 and 6 field thresholds, 100 characters of text.
func DefaultConfig() Config {
	return Config{Weights: DefaultWeights, FewFields: 3, ManyFields: 6, MinTextLength: 100}
}

// Breakdown shows how a score was assembled.
type Breakdown struct {
	Total      float64 `json:"total"`
	Type       float64 `json:"type"`
	Name       float64 `json:"name"`
	Data       float64 `json:"data"`
	FewFields  float64 `json:"few_fields"`
	ManyFields float64 `json:"many_fields"`
	Text       float64 `json:"text"`
	DataCount  int     `json:"data_count"`
	TextLength int     `json:"text_length"`
}

type Scorer struct {
	cfg Config
}

// New validates cfg and returns a Scorer.
func New(cfg Config) (*Scorer, error) {
	w := cfg.Weights
	if w.Type < 0 || w.Name < 0 || w.Data < 0 || w.FewFields < 0 || w.ManyFields < 0 || w.Text < 0 {
		return nil, common.NewAppError("INVALID_WEIGHTS", "weights must be non-negative", common.ErrInvalidInput)
	}
	if w.Total() != MaxScore {
		return nil, common.NewAppError("INVALID_WEIGHTS",
			fmt.Sprintf("weights sum to %d, want %d", w.Total(), MaxScore), common.ErrInvalidInput)
	}
	if cfg.FewFields <= 0 || cfg.ManyFields < cfg.FewFields {
		return nil, common.NewAppError("INVALID_THRESHOLDS", "field thresholds must satisfy 0 < few <= many", common.ErrInvalidInput)
	}
	if cfg.MinTextLength <= 0 {
		return nil, common.NewAppError("INVALID_THRESHOLDS", "min text length must be positive", common.ErrInvalidInput)
	}
	return &Scorer{cfg: cfg}, nil
}

// Default returns a Scorer with DefaultConfig.
func Default() *Scorer {
	return &Scorer{cfg: DefaultConfig()}
}

// Score rates rec. The result is clamped to [0, MaxScore] and rounded to one decimal.
func (s *Scorer) Score(rec extractor.Record) Breakdown {
	w := s.cfg.Weights
	b := Breakdown{
		DataCount:  rec.DataCount(),
		TextLength: utf8.RuneCountInString(strings.TrimSpace(rec.RawText)),
	}

	if rec.Category.Valid() {
		b.Type = float64(w.Type)
	}
	if strings.TrimSpace(rec.Name) != "" {
		b.Name = float64(w.Name)
	}
	if b.DataCount > 0 {
		b.Data = float64(w.Data)
	}
	if b.DataCount >= s.cfg.FewFields {
		b.FewFields = float64(w.FewFields)
	}
	if b.DataCount >= s.cfg.ManyFields {
		b.ManyFields = float64(w.ManyFields)
	}
	ratio := math.Min(float64(b.TextLength)/float64(s.cfg.MinTextLength), 1)
	b.Text = float64(w.Text) * ratio

	total := b.Type + b.Name + b.Data + b.FewFields + b.ManyFields + b.Text
	total = math.Max(0, math.Min(MaxScore, total))
	b.Total = math.Round(total*10) / 10
	return b
}
