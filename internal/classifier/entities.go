package classifier

import (
	"regexp"
	"strings"
)

var (
	twoWordNamePattern = regexp.MustCompile(`\b[A-Z][a-z]+\s+[A-Z][a-z]+\b`)
	oneWordNamePattern = regexp.MustCompile(`\b[A-Z][a-z]{2,}\b`)
	formulaPattern     = regexp.MustCompile(`\b(?:[A-Z][a-z]?\d*){2,}\b`)
	quantityPattern    = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*(?:mg|g|kg|ml|µl|μl|ul|l|m|mm|µm|μm|um|°c|c)\b`)
)

// sentenceWords are capitalized words that are never chemical names.
var sentenceWords = map[string]struct{}{
	"What": {}, "How": {}, "Why": {}, "When": {}, "Where": {}, "Which": {}, "Who": {},
	"Is": {}, "Are": {}, "Can": {}, "Could": {}, "Should": {}, "Would": {}, "Does": {}, "Do": {},
	"Generate": {}, "Create": {}, "Write": {}, "Make": {}, "Explain": {}, "Tell": {}, "Describe": {},
	"Give": {}, "Please": {}, "Prepare": {}, "The": {}, "This": {}, "That": {}, "And": {}, "For": {}, "With": {},
	"From": {}, "Use": {}, "Using": {}, "Help": {}, "Show": {}, "List": {}, "Find": {},
}

// ExtractEntities returns chemical names, formulas, and quantities found in
// text, deduplicated in first-seen order.
func ExtractEntities(text string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	for _, m := range twoWordNamePattern.FindAllString(text, -1) {
		first, _, _ := strings.Cut(m, " ")
		if _, skip := sentenceWords[first]; skip {
			continue
		}
		add(m)
	}
	for _, m := range oneWordNamePattern.FindAllString(text, -1) {
		if _, skip := sentenceWords[m]; skip {
			continue
		}
		add(m)
	}
	for _, m := range formulaPattern.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range quantityPattern.FindAllString(text, -1) {
		add(strings.Join(strings.Fields(m), " "))
	}
	return out
}
