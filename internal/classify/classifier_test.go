package classify

import (
	"testing"

	"github.com/joseph-ayodele/docparse/constants"
)

func TestClassify(t *testing.T) {
	c := New()

	tests := []struct {
		name string
		text string
		want constants.Category
	}{
		{"no keywords", "The quick brown fox jumps over the lazy dog.", constants.Generic},
		{"empty", "", constants.Generic},
		{"nutrition label", "营养成分表\n能量 250 kcal\n蛋白质 15.0 g\n钠 300 mg", constants.Food},
		{"english label", "Nutrition Facts\nServing Size 30g\nCalories 120\nProtein 3g", constants.Food},
		{"recipe", "番茄炒蛋\n食材：鸡蛋、番茄\n做法：\n步骤1 打蛋\n步骤2 翻炒", constants.Recipe},
		{"guide", "中国居民膳食指南\n建议每天摄入蔬菜300克，推荐均衡膳食", constants.DietGuide},
		{"case insensitive", "INGREDIENTS\nDIRECTIONS\nRECIPE", constants.Recipe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.text)
			if got.Category != tt.want {
				t.Errorf("Classify() = %s (scores %v), want %s", got.Category, got.Scores, tt.want)
			}
		})
	}
}

func TestClassifyCountsOccurrences(t *testing.T) {
	c := New(
		WithKeywords(constants.Food, []string{"nutrition"}),
		WithKeywords(constants.Recipe, []string{"recipe"}),
		WithKeywords(constants.DietGuide, []string{"guide"}),
	)

	got := c.Classify("nutrition nutrition Nutrition recipe")
	if got.Scores[constants.Food] != 3 || got.Scores[constants.Recipe] != 1 {
		t.Fatalf("scores = %v, want food:3 recipe:1", got.Scores)
	}
	if got.Category != constants.Food {
		t.Errorf("Category = %s, want food", got.Category)
	}
}

func TestClassifyTiePrecedence(t *testing.T) {
	c := New(
		WithKeywords(constants.Food, []string{"alpha"}),
		WithKeywords(constants.Recipe, []string{"beta"}),
		WithKeywords(constants.DietGuide, []string{"gamma"}),
	)

	tests := []struct {
		text string
		want constants.Category
	}{
		{"alpha beta gamma", constants.Food},
		{"beta gamma", constants.Recipe},
		{"gamma gamma beta", constants.DietGuide},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.text).Category; got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestClassifyFallback(t *testing.T) {
	c := New(WithFallback(constants.DietGuide))
	got := c.Classify("lorem ipsum")
	if got.Category != constants.DietGuide || !got.Fallback {
		t.Fatalf("got %+v, want configured fallback", got)
	}
}
