package pipeline

import (
	"strings"
	"unicode/utf8"

	"github.com/kalambet/filerag/internal/composer"
)

// overrideLength is the answer length in characters above which a response
// with at least one attribution is treated as found regardless of paraphrase matches.
const overrideLength = 50

var refusal = strings.ToLower(composer.RefusalSentence)

// notFoundPhrases are matched case-insensitively against the answer.
var notFoundPhrases = []string{
	"i don't have this information",
	"i don't have",
	"not found in the",
	"not available in the",
	"cannot find this",
	"no information about",
	"don't see any information",
}

// Classify reports whether answer should be treated as found.
//
// It is a best-effort heuristic. The verbatim refusal sentence always means
// not found. Otherwise an answer longer than 50 characters with at least one
// attribution is found, and shorter answers are not found if they contain
// any refusal phrase. Long answers that paraphrase a refusal are therefore
// misclassified as found.
func Classify(answer string, attributions int) bool {
	lower := strings.ToLower(answer)
	if strings.Contains(lower, refusal) {
		return false
	}
	if attributions > 0 && utf8.RuneCountInString(answer) > overrideLength {
		return true
	}
	for _, p := range notFoundPhrases {
		if strings.Contains(lower, p) {
			return false
		}
	}
	return true
}
