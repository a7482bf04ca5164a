package extractor

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/joseph-ayodele/docparse/constants"
	"github.com/joseph-ayodele/docparse/internal/extract"
)

func corpusOf(text string) extract.Corpus {
	return extract.Corpus{Pages: []extract.Page{{
		Number: 1,
		Text:   text,
		Tables: extract.DetectTables(text),
		Source: extract.SourceText,
	}}}
}

func TestFoodExtractor(t *testing.T) {
	text := strings.Join([]string{
		"产品名称：全麦饼干",
		"品牌：麦香",
		"净含量：500g",
		"营养成分表",
		"能量：250 kcal",
		"蛋白质：15.0 g",
		"脂肪：10 g",
		"饱和脂肪：2 g",
		"碳水化合物：30 g",
		"钠：300 mg",
	}, "\n")

	rec := For(constants.Food).Extract(corpusOf(text))
	if rec.Error != "" {
		t.Fatalf("unexpected error: %s", rec.Error)
	}
	if rec.Category != constants.Food || rec.Food == nil {
		t.Fatalf("unexpected record: %+v", rec)
	}
	want := map[string]any{
		"energy":        "250 kcal",
		"protein":       "15 g",
		"fat":           "10 g",
		"saturated_fat": "2 g",
		"carbohydrate":  "30 g",
		"sodium":        "300 mg",
	}
	if !reflect.DeepEqual(rec.Food.Nutrition, want) {
		t.Errorf("Nutrition = %v, want %v", rec.Food.Nutrition, want)
	}
	if rec.Name != "全麦饼干" || rec.Food.Brand != "麦香" || rec.Food.NetWeight != "500g" {
		t.Errorf("name/brand/net = %q/%q/%q", rec.Name, rec.Food.Brand, rec.Food.NetWeight)
	}
	if rec.DataCount() != 6 {
		t.Errorf("DataCount = %d, want 6", rec.DataCount())
	}
}

func TestFoodExtractorUnitlessAndMissing(t *testing.T) {
	text := "Nutrition Facts\nCalories 120\nProtein 3\nTotal Fat 5g\nSodium 200mg"

	rec := For(constants.Food).Extract(corpusOf(text))
	n := rec.Food.Nutrition
	if v, ok := n["energy"].(float64); !ok || v != 120 {
		t.Errorf("energy = %#v, want float64 120", n["energy"])
	}
	if v, ok := n["protein"].(float64); !ok || v != 3 {
		t.Errorf("protein = %#v, want float64 3", n["protein"])
	}
	if n["fat"] != "5 g" || n["sodium"] != "200 mg" {
		t.Errorf("fat/sodium = %#v/%#v", n["fat"], n["sodium"])
	}
	if _, ok := n["sugar"]; ok {
		t.Error("missing nutrient must be omitted, not defaulted")
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"12", 12, false},
		{"12.5", 12.5, false},
		{"1,5", 1.5, false},
		{"12,5", 12.5, false},
		{"1,200", 1200, false},
		{"1,200,300", 1200300, false},
		{"1,200.5", 1200.5, false},
		{"1,2000", 1.2, false},
		{" 3 ", 3, false},
		{"1.2.3", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseNumber(tt.in)
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Errorf("ParseNumber(%q) = %v, %v; want %v (err %v)", tt.in, got, err, tt.want, tt.wantErr)
			}
		})
	}
}

func TestFoodExtractorCommaNumbers(t *testing.T) {
	text := "Nutrition Facts\nProtein 12,5 g\nSodium 1,200 mg\nTotal Fat 1,5g"

	n := For(constants.Food).Extract(corpusOf(text)).Food.Nutrition
	want := map[string]any{"protein": "12.5 g", "sodium": "1200 mg", "fat": "1.5 g"}
	for k, v := range want {
		if n[k] != v {
			t.Errorf("%s = %#v, want %q", k, n[k], v)
		}
	}
}

func TestFoodExtractorNutritionTable(t *testing.T) {
	corpus := extract.Corpus{Pages: []extract.Page{{
		Number: 1,
		Text:   "label",
		Tables: []extract.Table{{
			{"项目", "每100克", "NRV%"},
			{"能量", "1050千焦", "13%"},
			{"包装", "盒", ""},
		}},
	}}}

	rec := For(constants.Food).Extract(corpus)
	if len(rec.Food.NutritionTable) != 2 {
		t.Fatalf("NutritionTable = %v, want 2 rows", rec.Food.NutritionTable)
	}
	if rec.Food.NutritionTable[1][0] != "能量" {
		t.Errorf("unexpected row %v", rec.Food.NutritionTable[1])
	}
}

func TestRecipeExtractor(t *testing.T) {
	text := strings.Join([]string{
		"番茄炒蛋",
		"份量：2人份",
		"准备时间：10分钟",
		"烹饪时间：5分钟",
		"食材：",
		"鸡蛋 2个",
		"番茄  1个",
		"盐 适量",
		"做法：",
		"1. 将鸡蛋打散备用",
		"2. 番茄切块",
		"3. 先炒蛋再加番茄翻炒",
	}, "\n")

	rec := For(constants.Recipe).Extract(corpusOf(text))
	if rec.Name != "番茄炒蛋" {
		t.Errorf("Name = %q", rec.Name)
	}
	r := rec.Recipe
	wantIngredients := []Ingredient{{"鸡蛋", "2个"}, {"番茄", "1个"}, {"盐", "适量"}}
	if !reflect.DeepEqual(r.Ingredients, wantIngredients) {
		t.Errorf("Ingredients = %v, want %v", r.Ingredients, wantIngredients)
	}
	wantSteps := []string{"将鸡蛋打散备用", "番茄切块", "先炒蛋再加番茄翻炒"}
	if !reflect.DeepEqual(r.Instructions, wantSteps) {
		t.Errorf("Instructions = %v, want %v", r.Instructions, wantSteps)
	}
	if r.Servings != "2人份" || r.PrepTime != "10分钟" || r.CookTime != "5分钟" {
		t.Errorf("servings/prep/cook = %q/%q/%q", r.Servings, r.PrepTime, r.CookTime)
	}
}

func TestRecipeInlineIngredients(t *testing.T) {
	rec := For(constants.Recipe).Extract(corpusOf("松饼\n配料：面粉200克、鸡蛋3个、牛奶适量\n步骤1 混合\n步骤2 煎熟"))
	want := []Ingredient{{"面粉", "200克"}, {"鸡蛋", "3个"}, {"牛奶", "适量"}}
	if !reflect.DeepEqual(rec.Recipe.Ingredients, want) {
		t.Errorf("Ingredients = %v, want %v", rec.Recipe.Ingredients, want)
	}
	if !reflect.DeepEqual(rec.Recipe.Instructions, []string{"混合", "煎熟"}) {
		t.Errorf("Instructions = %v", rec.Recipe.Instructions)
	}
}

func TestGuideExtractor(t *testing.T) {
	text := strings.Join([]string{
		"中国居民膳食指南",
		"适用人群：一般人群",
		"第一章 食物多样",
		"建议每天摄入12种以上食物。",
		"第二章 控糖限盐",
		"避免过多摄入添加糖；每天饮水1500毫升",
	}, "\n")

	rec := For(constants.DietGuide).Extract(corpusOf(text))
	if rec.Name != "中国居民膳食指南" {
		t.Errorf("Name = %q", rec.Name)
	}
	g := rec.Guide
	if g.TargetGroup != "一般人群" {
		t.Errorf("TargetGroup = %q", g.TargetGroup)
	}
	wantSections := []GuideSection{{"食物多样", 0}, {"控糖限盐", 1}}
	if !reflect.DeepEqual(g.Sections, wantSections) {
		t.Errorf("Sections = %v, want %v", g.Sections, wantSections)
	}
	wantRecs := []GuideRecommendation{
		{RecRecommendation, "建议每天摄入12种以上食物"},
		{RecLimit, "避免过多摄入添加糖"},
		{RecQuantity, "每天饮水1500毫升"},
	}
	if !reflect.DeepEqual(g.Recommendations, wantRecs) {
		t.Errorf("Recommendations = %v, want %v", g.Recommendations, wantRecs)
	}
}

func TestGenericExtractor(t *testing.T) {
	text := "会议纪要\n时间：2024-01-01\n地点：会议室\n参会人：张三、李四\n链接 http://example.com\n讨论了季度计划。"

	rec := For(constants.Generic).Extract(corpusOf(text))
	if rec.Name != "会议纪要" {
		t.Errorf("Name = %q", rec.Name)
	}
	want := map[string]string{"时间": "2024-01-01", "地点": "会议室", "参会人": "张三、李四"}
	if !reflect.DeepEqual(rec.Generic.Fields, want) {
		t.Errorf("Fields = %v, want %v", rec.Generic.Fields, want)
	}
	if !strings.HasPrefix(rec.Generic.Summary, "会议纪要 时间") {
		t.Errorf("Summary = %q", rec.Generic.Summary)
	}
}

func TestForUnknownCategoryIsGeneric(t *testing.T) {
	rec := For(constants.Category("poetry")).Extract(corpusOf("a: b"))
	if rec.Category != constants.Generic || rec.Generic == nil {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestFuncRecoversPanicsAndErrors(t *testing.T) {
	panicky := Func{Cat: constants.Recipe, Fn: func(extract.Corpus) (Record, error) {
		var m map[string]int
		m["boom"]++
		return Record{}, nil
	}}
	rec := panicky.Extract(corpusOf("x"))
	if rec.Category != constants.Recipe || !strings.Contains(rec.Error, "panic") {
		t.Errorf("panic not recovered into record: %+v", rec)
	}

	failing := Func{Cat: constants.Food, Fn: func(extract.Corpus) (Record, error) {
		return Record{}, errors.New("bad table")
	}}
	rec = failing.Extract(corpusOf("x"))
	if rec.Category != constants.Food || rec.Error != "bad table" {
		t.Errorf("error not carried into record: %+v", rec)
	}
}

func TestEmptyCorpusNeverFails(t *testing.T) {
	for _, cat := range constants.Categories() {
		rec := For(cat).Extract(extract.Corpus{})
		if rec.Error != "" || rec.Category != cat {
			t.Errorf("%s: unexpected record %+v", cat, rec)
		}
		if rec.DataCount() != 0 {
			t.Errorf("%s: DataCount = %d on empty corpus", cat, rec.DataCount())
		}
	}
}
