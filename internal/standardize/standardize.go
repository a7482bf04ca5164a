// Package standardize normalizes extracted values into {value, unit} quantities.
package standardize

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/joseph-ayodele/docparse/internal/extractor"
)

// Quantity is a canonical measured value.
type Quantity struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// DefaultUnit applies to any field missing from the unit table.
const DefaultUnit = "g"

// DefaultUnits maps a field to the unit assumed when the raw value carries none.
var DefaultUnits = map[string]string{
	"energy":      "kcal",
	"sodium":      "mg",
	"potassium":   "mg",
	"calcium":     "mg",
	"iron":        "mg",
	"vitamin_c":   "mg",
	"cholesterol": "mg",
}

// UnitSynonyms maps lowercased unit spellings onto canonical units.
var UnitSynonyms = map[string]string{
	"kcal": "kcal", "千卡": "kcal", "大卡": "kcal", "卡路里": "kcal", "cal": "kcal", "calories": "kcal",
	"kj": "kJ", "千焦": "kJ",
	"g": "g", "克": "g", "gram": "g", "grams": "g",
	"mg": "mg", "毫克": "mg",
	"μg": "μg", "ug": "μg", "mcg": "μg", "微克": "μg",
	"kg": "kg", "千克": "kg", "公斤": "kg",
	"ml": "ml", "毫升": "ml",
	"l": "L", "升": "L",
}

var reQuantity = regexp.MustCompile(`^\s*([-+]?\d+(?:[.,]\d+)*)\s*([a-zA-Zμ%\p{Han}]+)?`)

// Standardizer is immutable after construction and safe for concurrent use.
type Standardizer struct {
	units    map[string]string
	synonyms map[string]string
}

type Option func(*Standardizer)

// WithUnit overrides the default unit of one field.
func WithUnit(field, unit string) Option {
	return func(s *Standardizer) { s.units[field] = unit }
}

// WithSynonym adds or overrides a unit spelling.
func WithSynonym(spelling, canonical string) Option {
	return func(s *Standardizer) { s.synonyms[strings.ToLower(spelling)] = canonical }
}

func New(opts ...Option) *Standardizer {
	s := &Standardizer{
		units:    make(map[string]string, len(DefaultUnits)),
		synonyms: make(map[string]string, len(UnitSynonyms)),
	}
	for k, v := range DefaultUnits {
		s.units[k] = v
	}
	for k, v := range UnitSynonyms {
		s.synonyms[k] = v
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// UnitFor returns the default unit of field.
func (s *Standardizer) UnitFor(field string) string {
	if u, ok := s.units[field]; ok {
		return u
	}
	return DefaultUnit
}

// Value converts one raw field value. Numbers get the field's default unit,
// strings are parsed as "<number> [unit]", Quantities pass through unchanged.
// ok is false for anything that cannot be parsed.
func (s *Standardizer) Value(field string, raw any) (Quantity, bool) {
	switch v := raw.(type) {
	case Quantity:
		return v, true
	case *Quantity:
		if v == nil {
			return Quantity{}, false
		}
		return *v, true
	case float64:
		return Quantity{Value: v, Unit: s.UnitFor(field)}, true
	case float32:
		return Quantity{Value: float64(v), Unit: s.UnitFor(field)}, true
	case int:
		return Quantity{Value: float64(v), Unit: s.UnitFor(field)}, true
	case int64:
		return Quantity{Value: float64(v), Unit: s.UnitFor(field)}, true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Quantity{}, false
		}
		return Quantity{Value: f, Unit: s.UnitFor(field)}, true
	case string:
		return s.parse(field, v)
	case map[string]any:
		// decoded JSON of an already standardized quantity
		val, ok := v["value"].(float64)
		unit, uok := v["unit"].(string)
		if !ok || !uok {
			return Quantity{}, false
		}
		return Quantity{Value: val, Unit: s.unit(unit)}, true
	default:
		return Quantity{}, false
	}
}

func (s *Standardizer) parse(field, raw string) (Quantity, bool) {
	m := reQuantity.FindStringSubmatch(raw)
	if m == nil {
		return Quantity{}, false
	}
	val, err := extractor.ParseNumber(m[1])
	if err != nil {
		return Quantity{}, false
	}
	if m[2] == "" {
		return Quantity{Value: val, Unit: s.UnitFor(field)}, true
	}
	return Quantity{Value: val, Unit: s.unit(m[2])}, true
}

// unit maps a spelling onto its canonical unit; unknown spellings are kept as written.
func (s *Standardizer) unit(u string) string {
	if c, ok := s.synonyms[strings.ToLower(u)]; ok {
		return c
	}
	return u
}

// Standardize returns a copy of rec with nutrition values converted to
// Quantities, unparseable values dropped, and list fields trimmed and deduplicated.
// Records carrying an error are returned unchanged.
func (s *Standardizer) Standardize(rec extractor.Record) extractor.Record {
	if rec.Error != "" {
		return rec
	}
	out := rec
	out.Name = strings.TrimSpace(rec.Name)

	if rec.Food != nil {
		f := *rec.Food
		f.Nutrition = make(map[string]any, len(rec.Food.Nutrition))
		for field, raw := range rec.Food.Nutrition {
			if q, ok := s.Value(field, raw); ok {
				f.Nutrition[field] = q
			}
		}
		out.Food = &f
	}

	if rec.Recipe != nil {
		r := *rec.Recipe
		r.Ingredients = make([]extractor.Ingredient, 0, len(rec.Recipe.Ingredients))
		seen := make(map[string]struct{})
		for _, ing := range rec.Recipe.Ingredients {
			ing.Name = strings.TrimSpace(ing.Name)
			ing.Amount = strings.TrimSpace(ing.Amount)
			if ing.Name == "" {
				continue
			}
			if _, dup := seen[ing.Name]; dup {
				continue
			}
			seen[ing.Name] = struct{}{}
			r.Ingredients = append(r.Ingredients, ing)
		}
		r.Instructions = trimAll(rec.Recipe.Instructions)
		out.Recipe = &r
	}

	if rec.Guide != nil {
		g := *rec.Guide
		g.Recommendations = make([]extractor.GuideRecommendation, 0, len(rec.Guide.Recommendations))
		seen := make(map[string]struct{})
		for _, gr := range rec.Guide.Recommendations {
			gr.Content = strings.TrimSpace(gr.Content)
			if gr.Content == "" {
				continue
			}
			if _, dup := seen[gr.Content]; dup {
				continue
			}
			seen[gr.Content] = struct{}{}
			g.Recommendations = append(g.Recommendations, gr)
		}
		out.Guide = &g
	}

	if rec.Generic != nil {
		gen := *rec.Generic
		gen.Fields = make(map[string]string, len(rec.Generic.Fields))
		for k, v := range rec.Generic.Fields {
			k, v = strings.TrimSpace(k), strings.TrimSpace(v)
			if k != "" && v != "" {
				gen.Fields[k] = v
			}
		}
		out.Generic = &gen
	}
	return out
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
