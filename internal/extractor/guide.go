package extractor

import (
	"regexp"
	"strings"

	"github.com/joseph-ayodele/docparse/internal/extract"
)

// Recommendation types.
const (
	RecLimit          = "limit"
	RecQuantity       = "quantity"
	RecRecommendation = "recommendation"
)

var (
	guideTitlePatterns = compile(
		`(?im)^\s*(.{0,40}(?:膳食指南|饮食指南|营养指南))\s*$`,
		`(?im)^\s*(.{0,60}\bguidelines?\b.{0,40})$`,
	)
	sectionHeading = compile(
		`^第[一二三四五六七八九十百\d]+[章节部分篇]\s*[:：、]?\s*(.+)$`,
		`^[一二三四五六七八九十]+\s*[、.．]\s*(.+)$`,
		`^[（(][一二三四五六七八九十\d]+[)）]\s*(.+)$`,
		`^#{1,6}\s+(.+)$`,
		`(?i)^(?:section|chapter|part)\s+\d+[:.]?\s*(.+)$`,
	)
	targetGroupPatterns = compile(
		`(?im)(?:适用人群|目标人群|适宜人群|target\s+(?:group|population))\s*[:：]\s*([^\n。]+)`,
		`((?:一般人群|孕妇|乳母|婴幼儿|儿童|青少年|老年人|素食人群))`,
	)
	sentenceSplit = regexp.MustCompile(`[。！？!?；;\n]+`)
)

// recommendationTypes are tried in order; the first matching type wins.
var recommendationTypes = []struct {
	typ string
	re  *regexp.Regexp
}{
	{RecLimit, regexp.MustCompile(`(?i)避免|不宜|不要|限制|控制|少吃|少喝|减少|不超过|avoid|limit|reduce|no more than`)},
	{RecQuantity, regexp.MustCompile(`(?i)(?:每天|每日|每周|daily|per day|a day|per week).{0,20}?\d+(?:\.\d+)?\s*(?:克|g|毫升|ml|份|杯|个|servings?|cups?)|\d+(?:\.\d+)?\s*(?:克|g|毫升|ml|份|杯)\s*(?:以上|左右)?.{0,6}?(?:每天|每日|daily|per day)`)},
	{RecRecommendation, regexp.MustCompile(`(?i)建议|推荐|应当|应该|宜|提倡|鼓励|多吃|should|recommend|encourage`)},
}

func extractGuide(corpus extract.Corpus) (Record, error) {
	text := corpus.Text()
	data := &GuideData{
		Sections:        []GuideSection{},
		Recommendations: []GuideRecommendation{},
		TargetGroup:     firstString(targetGroupPatterns, text),
	}

	for _, ln := range nonEmptyLines(text) {
		if title := firstString(sectionHeading, ln); title != "" {
			data.Sections = append(data.Sections, GuideSection{Title: title, Position: len(data.Sections)})
		}
	}

	seen := make(map[string]struct{})
	for _, s := range sentenceSplit.Split(text, -1) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		for _, rt := range recommendationTypes {
			if rt.re.MatchString(s) {
				data.Recommendations = append(data.Recommendations, GuideRecommendation{Type: rt.typ, Content: s})
				seen[s] = struct{}{}
				break
			}
		}
	}

	title := firstString(guideTitlePatterns, text)
	if title == "" {
		title = firstTitleLine(text, 60, nil)
	}

	return Record{Name: title, Guide: data, RawText: text}, nil
}
