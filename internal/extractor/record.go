// Package extractor turns a page corpus into a category-specific record.
package extractor

import (
	"github.com/joseph-ayodele/docparse/constants"
)

// Record is the extracted data of one document. Exactly one of Food, Recipe,
// Guide or Generic is set, matching Category, unless Error is non-empty.
type Record struct {
	Category constants.Category `json:"type"`
	Name     string             `json:"name,omitempty"`
	Food     *FoodData          `json:"food_info,omitempty"`
	Recipe   *RecipeData        `json:"recipe_info,omitempty"`
	Guide    *GuideData         `json:"guide_info,omitempty"`
	Generic  *GenericData       `json:"generic_info,omitempty"`
	RawText  string             `json:"raw_text,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// FoodData holds nutrition-label fields. Nutrition values are float64 or
// "<number> <unit>" strings until standardized.
type FoodData struct {
	Brand          string         `json:"brand,omitempty"`
	NetWeight      string         `json:"net_weight,omitempty"`
	ServingSize    string         `json:"serving_size,omitempty"`
	Nutrition      map[string]any `json:"nutrition,omitempty"`
	NutritionTable [][]string     `json:"nutrition_table,omitempty"`
}

type Ingredient struct {
	Name   string `json:"name"`
	Amount string `json:"amount"`
}

type RecipeData struct {
	Ingredients  []Ingredient `json:"ingredients"`
	Instructions []string     `json:"instructions"`
	Servings     string       `json:"servings,omitempty"`
	PrepTime     string       `json:"prep_time,omitempty"`
	CookTime     string       `json:"cook_time,omitempty"`
}

type GuideSection struct {
	Title    string `json:"title"`
	Position int    `json:"position"`
}

type GuideRecommendation struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type GuideData struct {
	Sections        []GuideSection        `json:"structure"`
	Recommendations []GuideRecommendation `json:"recommendations"`
	TargetGroup     string                `json:"target_group,omitempty"`
}

type GenericData struct {
	Fields  map[string]string `json:"fields,omitempty"`
	Summary string            `json:"summary,omitempty"`
}

// DataCount is the number of populated primary data items: nutrients for food,
// ingredients for recipes, recommendations for guides, key/value fields otherwise.
func (r Record) DataCount() int {
	switch {
	case r.Food != nil:
		return len(r.Food.Nutrition)
	case r.Recipe != nil:
		return len(r.Recipe.Ingredients)
	case r.Guide != nil:
		return len(r.Guide.Recommendations)
	case r.Generic != nil:
		return len(r.Generic.Fields)
	default:
		return 0
	}
}
