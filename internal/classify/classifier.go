// Package classify picks a document category from keyword frequencies.
package classify

import (
	"strings"

	"github.com/joseph-ayodele/docparse/constants"
)

// DefaultKeywords holds the bilingual keyword set per category. Generic has none:
// it is only ever chosen as the fallback.
var DefaultKeywords = map[constants.Category][]string{
	constants.Food: {
		"营养成分", "营养成分表", "能量", "蛋白质", "脂肪", "碳水化合物", "钠", "nrv", "每100克", "每100g",
		"nutrition facts", "nutrition", "calories", "protein", "total fat", "carbohydrate", "sodium", "serving size",
	},
	constants.Recipe: {
		"食谱", "菜谱", "配料", "食材", "做法", "步骤", "烹饪", "烹调", "分钟",
		"recipe", "ingredients", "instructions", "directions", "servings", "prep time", "cook time",
	},
	constants.DietGuide: {
		"膳食指南", "指南", "建议", "推荐", "每天", "每日", "摄入", "均衡", "膳食",
		"guideline", "guidelines", "recommend", "recommended", "daily", "intake", "balanced diet",
	},
}

// Result carries the winning category together with every score.
type Result struct {
	Category constants.Category         `json:"category"`
	Scores   map[constants.Category]int `json:"scores"`
	Fallback bool                       `json:"fallback"`
}

// Classifier is safe for concurrent use; it holds no mutable state.
type Classifier struct {
	keywords map[constants.Category][]string
	fallback constants.Category
}

type Option func(*Classifier)

// WithKeywords replaces the keyword set of one category.
func WithKeywords(cat constants.Category, words []string) Option {
	return func(c *Classifier) {
		lowered := make([]string, 0, len(words))
		for _, w := range words {
			if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
				lowered = append(lowered, w)
			}
		}
		c.keywords[cat] = lowered
	}
}

// WithFallback sets the category returned when nothing matches.
func WithFallback(cat constants.Category) Option {
	return func(c *Classifier) {
		if cat.Valid() {
			c.fallback = cat
		}
	}
}

func New(opts ...Option) *Classifier {
	c := &Classifier{
		keywords: make(map[constants.Category][]string, len(DefaultKeywords)),
		fallback: constants.Generic,
	}
	for cat, words := range DefaultKeywords {
		c.keywords[cat] = words
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify counts case-insensitive substring occurrences of each category's
// keywords. The strictly highest score wins; ties go to the earlier category in
// constants.Categories order; all-zero returns the fallback.
func (c *Classifier) Classify(text string) Result {
	lower := strings.ToLower(text)
	res := Result{Scores: make(map[constants.Category]int, len(c.keywords))}

	best, bestScore := constants.Category(""), 0
	for _, cat := range constants.Categories() {
		score := 0
		for _, kw := range c.keywords[cat] {
			score += strings.Count(lower, kw)
		}
		res.Scores[cat] = score
		if score > bestScore {
			best, bestScore = cat, score
		}
	}

	if bestScore == 0 {
		res.Category = c.fallback
		res.Fallback = true
		return res
	}
	res.Category = best
	return res
}
