package transcription

import "strings"

// fillerPhrases are generic transcripts speech recognizers hallucinate on
// silence or noise. Matching is case-insensitive over trimmed text, with or
// without a single trailing period.
var fillerPhrases = []string{
	"thank you",
	"thank you for watching",
	"thanks for watching",
	"please subscribe",
	"subscribe",
	"bye",
	"bye bye",
	"the end",
	"you",
}

// FilterHallucination collapses hallucinated filler transcripts to empty text.
// The returned text is trimmed; an empty result is treated the same as no
// speech detected and must not be persisted or broadcast.
func FilterHallucination(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}

	normalized := strings.ToLower(trimmed)
	normalized = strings.TrimSuffix(normalized, ".")

	for _, phrase := range fillerPhrases {
		if normalized == phrase {
			return ""
		}
	}

	return trimmed
}
