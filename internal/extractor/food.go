package extractor

import (
	"regexp"
	"strings"

	"github.com/joseph-ayodele/docparse/internal/extract"
)

const (
	numRe       = `(\d+(?:[.,]\d+)*)`
	gapRe       = `[^\d\n]{0,8}?`
	massUnitRe  = `\s*(mg|毫克|μg|ug|mcg|微克|g|克)?`
	energyCNRe  = `\s*(kcal|千卡|大卡|kj|千焦)?`
	energyENRe  = `\s*(kcal|kj|cal)?`
	lineStartRe = `(?im)^\s*`
)

type nutrientPatterns struct {
	key      string
	patterns []*regexp.Regexp
}

// nutrientOrder lists every nutrient with its patterns; patterns are tried in
// order and the first match wins.
var nutrientOrder = []nutrientPatterns{
	{"energy", compile(
		`(?i)(?:能量|热量)`+gapRe+numRe+energyCNRe,
		`(?i)(?:calories|energy)`+gapRe+numRe+energyENRe,
	)},
	{"protein", compile(
		`(?i)蛋白质`+gapRe+numRe+massUnitRe,
		`(?i)protein`+gapRe+numRe+massUnitRe,
	)},
	{"fat", compile(
		`(?im)(?:^|[^和式])(?:总)?脂肪`+gapRe+numRe+massUnitRe,
		lineStartRe+`(?:total\s+)?fat\b`+gapRe+numRe+massUnitRe,
	)},
	{"saturated_fat", compile(
		`(?i)饱和脂肪(?:酸)?`+gapRe+numRe+massUnitRe,
		`(?i)saturated\s+fat`+gapRe+numRe+massUnitRe,
	)},
	{"trans_fat", compile(
		`(?i)反式脂肪(?:酸)?`+gapRe+numRe+massUnitRe,
		`(?i)trans\s+fat`+gapRe+numRe+massUnitRe,
	)},
	{"cholesterol", compile(
		`(?i)胆固醇`+gapRe+numRe+massUnitRe,
		`(?i)cholesterol`+gapRe+numRe+massUnitRe,
	)},
	{"carbohydrate", compile(
		`(?i)碳水化合物`+gapRe+numRe+massUnitRe,
		`(?i)(?:total\s+)?carbohydrates?`+gapRe+numRe+massUnitRe,
	)},
	{"sugar", compile(
		lineStartRe+`(?:总糖|糖)`+gapRe+numRe+massUnitRe,
		lineStartRe+`(?:total\s+)?sugars?`+gapRe+numRe+massUnitRe,
	)},
	{"fiber", compile(
		`(?i)膳食纤维`+gapRe+numRe+massUnitRe,
		`(?i)(?:dietary\s+)?fib(?:er|re)`+gapRe+numRe+massUnitRe,
	)},
	{"sodium", compile(
		`(?i)钠`+gapRe+numRe+massUnitRe,
		`(?i)sodium`+gapRe+numRe+massUnitRe,
	)},
	{"potassium", compile(
		`(?i)钾`+gapRe+numRe+massUnitRe,
		`(?i)potassium`+gapRe+numRe+massUnitRe,
	)},
	{"calcium", compile(
		`(?i)钙`+gapRe+numRe+massUnitRe,
		`(?i)calcium`+gapRe+numRe+massUnitRe,
	)},
	{"iron", compile(
		`(?i)铁`+gapRe+numRe+massUnitRe,
		lineStartRe+`iron`+gapRe+numRe+massUnitRe,
	)},
	{"vitamin_c", compile(
		`(?i)维生素\s*c`+gapRe+numRe+massUnitRe,
		`(?i)vitamin\s*c`+gapRe+numRe+massUnitRe,
	)},
}

// nutrientKeywords flags table rows that look like nutrition facts.
var nutrientKeywords = []string{
	"能量", "热量", "蛋白质", "脂肪", "碳水化合物", "糖", "膳食纤维", "钠", "钾", "钙", "铁", "维生素", "胆固醇", "nrv",
	"energy", "calories", "protein", "fat", "carbohydrate", "sugar", "fiber", "sodium", "calcium", "iron", "vitamin",
}

var (
	productNamePatterns = compile(
		`(?im)^\s*(?:产品名称|食品名称|品名|名称)\s*[:：]\s*(.+)$`,
		`(?im)^\s*product\s+name\s*[:：]\s*(.+)$`,
	)
	brandPatterns = compile(
		`(?im)^\s*品牌\s*[:：]\s*(.+)$`,
		`(?im)^\s*brand\s*[:：]\s*(.+)$`,
	)
	netWeightPatterns = compile(
		`(?i)净含量\s*[:：]?\s*(\d+(?:\.\d+)?\s*(?:千克|kg|克|g|毫升|ml|升|l))`,
		`(?i)net\s+(?:weight|wt\.?)\s*[:：]?\s*(\d+(?:\.\d+)?\s*(?:kg|g|ml|l|oz))`,
	)
	servingSizePatterns = compile(
		`(?i)每份\s*[:：]?\s*(\d+(?:\.\d+)?\s*(?:克|g|毫升|ml))`,
		`(?i)serving\s+size\s*[:：]?\s*([^\n]+)`,
	)
)

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

func extractFood(corpus extract.Corpus) (Record, error) {
	text := corpus.Text()
	data := &FoodData{
		Brand:       firstString(brandPatterns, text),
		NetWeight:   firstString(netWeightPatterns, text),
		ServingSize: firstString(servingSizePatterns, text),
		Nutrition:   make(map[string]any),
	}

	for _, n := range nutrientOrder {
		m := firstMatch(n.patterns, text)
		if m == nil {
			continue
		}
		if v, ok := numericValue(m[1], m[2]); ok {
			data.Nutrition[n.key] = v
		}
	}

	for _, tbl := range corpus.Tables() {
		for _, row := range tbl {
			if isNutritionRow(row) {
				data.NutritionTable = append(data.NutritionTable, row)
			}
		}
	}

	name := firstString(productNamePatterns, text)
	if name == "" {
		name = firstTitleLine(text, 40, looksLikeNutrientLine)
	}

	return Record{Name: name, Food: data, RawText: text}, nil
}

func isNutritionRow(row []string) bool {
	for _, cell := range row {
		lc := strings.ToLower(cell)
		for _, kw := range nutrientKeywords {
			if strings.Contains(lc, kw) {
				return true
			}
		}
	}
	return false
}

func looksLikeNutrientLine(line string) bool {
	if strings.ContainsAny(line, "0123456789") {
		return true
	}
	lc := strings.ToLower(line)
	if strings.Contains(lc, "营养") || strings.Contains(lc, "nutrition") {
		return true
	}
	for _, kw := range nutrientKeywords {
		if strings.Contains(lc, kw) {
			return true
		}
	}
	return false
}
