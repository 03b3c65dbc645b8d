package memory

import (
	"strings"
	"unicode"
)

// CapitalizedExtractor treats capitalized words that do not start a sentence
// as entity names. It is a fallback; production crews plug in a model-backed
// extractor.
type CapitalizedExtractor struct{}

// Extract implements EntityExtractor.
func (CapitalizedExtractor) Extract(text string) []string {
	var (
		out       []string
		seen      = map[string]bool{}
		sentStart = true
	)
	for _, raw := range strings.Fields(text) {
		word := strings.TrimFunc(raw, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if word != "" && !sentStart && unicode.IsUpper([]rune(word)[0]) {
			key := strings.ToLower(word)
			if !seen[key] {
				seen[key] = true
				out = append(out, word)
			}
		}
		sentStart = strings.HasSuffix(raw, ".") || strings.HasSuffix(raw, "!") ||
			strings.HasSuffix(raw, "?") || strings.HasSuffix(raw, ":")
	}
	return out
}
