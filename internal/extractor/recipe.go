package extractor

import (
	"regexp"
	"strings"

	"github.com/joseph-ayodele/docparse/internal/extract"
)

var (
	recipeNamePatterns = compile(
		`(?im)^\s*(?:菜名|食谱名称|菜谱名称|名称)\s*[:：]\s*(.+)$`,
		`(?im)^\s*(?:recipe(?:\s+name)?|title)\s*[:：]\s*(.+)$`,
	)
	ingredientHeading  = regexp.MustCompile(`(?i)^(?:主料|辅料|配料|食材|原料|用料|材料|调料|ingredients?)\s*(?:[:：]\s*(.*))?$`)
	instructionHeading = regexp.MustCompile(`(?i)^(?:做法|步骤|制作方法|制作步骤|烹饪步骤|instructions?|directions?|method|steps?)\s*(?:[:：]\s*(.*))?$`)
	stepPrefix         = regexp.MustCompile(`(?i)^\s*(?:\d+\s*[.、)）:：]|步骤\s*\d+\s*[:：.、]?|第[一二三四五六七八九十\d]+步\s*[:：.、]?|step\s*\d+\s*[:：.]?|[-•*·])\s*`)
	numberedLine       = regexp.MustCompile(`(?i)^\s*(?:\d+\s*[.、)）]|步骤\s*\d+|第[一二三四五六七八九十\d]+步|step\s*\d+)`)
	itemSplit          = regexp.MustCompile(`[、,，;；]`)
	amountPatterns     = compile(
		`^(.+?)\s*[:：]\s*(.+)$`,
		`^(.+?)\s{2,}(.+)$`,
		`^(\D+?)\s*(\d+(?:\.\d+)?\s*\S*)$`,
		`^(.+?)\s*(适量|少许|若干|to taste)$`,
	)
	servingsPatterns = compile(
		`(?i)(?:份量|份数|servings?|serves|yield)\s*[:：]?\s*([^\n]+)`,
		`(\d+\s*人份)`,
	)
	prepTimePatterns = compile(
		`(?i)(?:准备时间|备料时间|prep(?:aration)?\s+time)\s*[:：]?\s*([^\n]+)`,
	)
	cookTimePatterns = compile(
		`(?i)(?:烹饪时间|烹调时间|制作时间|cook(?:ing)?\s+time)\s*[:：]?\s*([^\n]+)`,
	)
)

type recipeSection int

const (
	sectionNone recipeSection = iota
	sectionIngredients
	sectionInstructions
)

func extractRecipe(corpus extract.Corpus) (Record, error) {
	text := corpus.Text()
	data := &RecipeData{
		Ingredients:  []Ingredient{},
		Instructions: []string{},
		Servings:     firstString(servingsPatterns, text),
		PrepTime:     firstString(prepTimePatterns, text),
		CookTime:     firstString(cookTimePatterns, text),
	}

	section := sectionNone
	for _, ln := range nonEmptyLines(text) {
		if m := ingredientHeading.FindStringSubmatch(ln); m != nil {
			section = sectionIngredients
			data.Ingredients = append(data.Ingredients, parseIngredients(m[1])...)
			continue
		}
		if m := instructionHeading.FindStringSubmatch(ln); m != nil {
			section = sectionInstructions
			if step := cleanStep(m[1]); step != "" {
				data.Instructions = append(data.Instructions, step)
			}
			continue
		}
		switch section {
		case sectionIngredients:
			if numberedLine.MatchString(ln) && len(data.Ingredients) > 0 {
				section = sectionInstructions
				data.Instructions = append(data.Instructions, cleanStep(ln))
				continue
			}
			data.Ingredients = append(data.Ingredients, parseIngredients(ln)...)
		case sectionInstructions:
			if step := cleanStep(ln); step != "" {
				data.Instructions = append(data.Instructions, step)
			}
		default:
			if numberedLine.MatchString(ln) {
				data.Instructions = append(data.Instructions, cleanStep(ln))
			}
		}
	}

	name := firstString(recipeNamePatterns, text)
	if name == "" {
		name = firstTitleLine(text, 40, func(ln string) bool {
			return ingredientHeading.MatchString(ln) || instructionHeading.MatchString(ln) || numberedLine.MatchString(ln)
		})
	}

	return Record{Name: name, Recipe: data, RawText: text}, nil
}

func parseIngredients(s string) []Ingredient {
	var out []Ingredient
	for _, item := range itemSplit.Split(s, -1) {
		item = strings.TrimSpace(stepPrefix.ReplaceAllString(item, ""))
		if item == "" {
			continue
		}
		ing := Ingredient{Name: item}
		if m := firstMatch(amountPatterns, item); m != nil {
			ing = Ingredient{Name: strings.TrimSpace(m[1]), Amount: strings.TrimSpace(m[2])}
		}
		out = append(out, ing)
	}
	return out
}

func cleanStep(s string) string {
	return strings.TrimSpace(stepPrefix.ReplaceAllString(s, ""))
}
