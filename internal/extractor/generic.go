package extractor

import (
	"regexp"
	"strings"

	"github.com/joseph-ayodele/docparse/internal/extract"
)

const summaryRunes = 200

var keyValueLine = regexp.MustCompile(`^\s*([^:：\n]{1,30}?)\s*[:：]\s*(.+?)\s*$`)

func extractGeneric(corpus extract.Corpus) (Record, error) {
	text := corpus.Text()
	data := &GenericData{Fields: make(map[string]string)}

	for _, ln := range nonEmptyLines(text) {
		m := keyValueLine.FindStringSubmatch(ln)
		if m == nil || strings.HasPrefix(m[2], "//") {
			continue
		}
		key := strings.TrimSpace(m[1])
		if _, exists := data.Fields[key]; !exists {
			data.Fields[key] = m[2]
		}
	}
	data.Summary = truncateRunes(strings.Join(strings.Fields(text), " "), summaryRunes)

	return Record{Name: firstTitleLine(text, 80, keyValueLine.MatchString), Generic: data, RawText: text}, nil
}
