package constants

import (
	"strings"
)

type Category string

const (
	Food      Category = "food"
	Recipe    Category = "recipe"
	DietGuide Category = "diet_guide"
	Generic   Category = "generic"
)

// Auto asks the pipeline to detect the category itself.
const Auto = "auto"

// allCategories is ordered by tie-break precedence.
var allCategories = []Category{
	Food,
	Recipe,
	DietGuide,
	Generic,
}

// Categories returns every known category in precedence order.
func Categories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// AsStringSlice returns the category names in precedence order.
func AsStringSlice() []string {
	result := make([]string, len(allCategories))
	for i, cat := range allCategories {
		result[i] = string(cat)
	}
	return result
}

func (c Category) Valid() bool {
	for _, cat := range allCategories {
		if c == cat {
			return true
		}
	}
	return false
}

// Canonicalize maps a category hint onto a Category. An empty or "auto" hint
// returns ("", true): detection is requested, not an error.
func Canonicalize(input string) (Category, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" || normalized == Auto {
		return "", true
	}

	// synonyms map
	synonyms := map[string]Category{
		"nutrition_label": Food,
		"nutrition":       Food,
		"label":           Food,
		"food_label":      Food,
		"营养标签":            Food,
		"食品":              Food,
		"cookbook":        Recipe,
		"食谱":              Recipe,
		"菜谱":              Recipe,
		"guide":           DietGuide,
		"dietary_guide":   DietGuide,
		"diet":            DietGuide,
		"膳食指南":            DietGuide,
		"other":           Generic,
		"general":         Generic,
	}

	if cat, ok := synonyms[normalized]; ok {
		return cat, true
	}

	// check if it matches any category string
	for _, cat := range allCategories {
		if normalized == strings.ToLower(string(cat)) {
			return cat, true
		}
	}

	return Generic, false
}
