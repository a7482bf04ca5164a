package extractor

import (
	"fmt"

	"github.com/joseph-ayodele/docparse/constants"
	"github.com/joseph-ayodele/docparse/internal/extract"
)

// Extractor turns a corpus into a Record. Implementations never panic or fail:
// problems are reported through Record.Error.
type Extractor interface {
	Extract(corpus extract.Corpus) Record
}

// Func adapts a fallible extraction function into an Extractor for category cat.
type Func struct {
	Cat constants.Category
	Fn  func(extract.Corpus) (Record, error)
}

func (f Func) Extract(corpus extract.Corpus) (rec Record) {
	defer func() {
		if r := recover(); r != nil {
			rec = Record{Category: f.Cat, Error: fmt.Sprintf("extractor panic: %v", r)}
		}
	}()
	out, err := f.Fn(corpus)
	if err != nil {
		return Record{Category: f.Cat, Error: err.Error()}
	}
	out.Category = f.Cat
	return out
}

// For returns the extractor bound to cat. Unknown categories get the generic extractor.
func For(cat constants.Category) Extractor {
	switch cat {
	case constants.Food:
		return Func{Cat: constants.Food, Fn: extractFood}
	case constants.Recipe:
		return Func{Cat: constants.Recipe, Fn: extractRecipe}
	case constants.DietGuide:
		return Func{Cat: constants.DietGuide, Fn: extractGuide}
	default:
		return Func{Cat: constants.Generic, Fn: extractGeneric}
	}
}
