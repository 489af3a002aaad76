package suggestion

import (
	"fmt"
	"regexp"
	"strings"
)

const longSentenceWords = 30

var (
	sentenceSplit = regexp.MustCompile(`[^.!?]+[.!?]*`)
	passiveVoice  = regexp.MustCompile(`(?i)\b(?:is|are|was|were|be|been|being)\s+\w+ed\b`)
	fillerWords   = regexp.MustCompile(`(?i)\b(?:very|really|just|actually|basically|quite|simply)\b`)
	doubleSpace   = regexp.MustCompile(`[^\S\n]{2,}`)
)

// Degraded produces heuristic suggestions without any remote call. It
// always returns at least one suggestion for non-empty content.
func Degraded(content string, limit int) []Suggestion {
	var out []Suggestion
	add := func(category, text, excerpt string) bool {
		out = append(out, Suggestion{Category: category, Text: text, Excerpt: excerpt, Source: SourceHeuristic})
		return limit > 0 && len(out) >= limit
	}

	for _, sentence := range sentenceSplit.FindAllString(content, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if n := len(strings.Fields(sentence)); n > longSentenceWords {
			if add(CategoryClarity, fmt.Sprintf("Split this %d-word sentence into shorter ones.", n), excerpt(sentence)) {
				return out
			}
		}
		if m := passiveVoice.FindString(sentence); m != "" {
			if add(CategoryStyle, fmt.Sprintf("Consider active voice instead of %q.", m), excerpt(sentence)) {
				return out
			}
		}
	}

	if fillers := fillerWords.FindAllString(content, -1); len(fillers) > 0 {
		if add(CategoryConcision, fmt.Sprintf("Remove filler words such as %q (%d found).", strings.ToLower(fillers[0]), len(fillers)), "") {
			return out
		}
	}

	if w := findRepeatedWord(content); w != "" {
		if add(CategoryGrammar, fmt.Sprintf("The word %q is repeated.", w), "") {
			return out
		}
	}

	if doubleSpace.MatchString(content) {
		if add(CategoryGrammar, "Collapse repeated spaces.", "") {
			return out
		}
	}

	if len(out) == 0 && strings.TrimSpace(content) != "" {
		add(CategoryStyle, "No obvious issues found; consider a read-through for tone and audience.", "")
	}
	return out
}

// findRepeatedWord finds "the the" style duplicates. RE2 has no
// backreferences, so pairs are compared by hand.
func findRepeatedWord(content string) string {
	fields := strings.Fields(content)
	for i := 1; i < len(fields); i++ {
		a := strings.ToLower(strings.Trim(fields[i-1], ".,;:!?\"'"))
		b := strings.ToLower(strings.Trim(fields[i], ".,;:!?\"'"))
		if a != "" && a == b {
			return a
		}
	}
	return ""
}

func excerpt(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return truncateUTF8(s, max) + "…"
}
