package classify

import (
	"context"
	"strings"

	"github.com/sells-group/prospect-engine/internal/model"
)

// keywordRule maps phrases to an intent and a sentiment nudge. Rules are
// evaluated in order; the first match decides the intent.
type keywordRule struct {
	intent    model.Intent
	sentiment float64
	phrases   []string
}

var keywordRules = []keywordRule{
	{model.IntentNoInterest, -0.6, []string{
		"not interested", "no thanks", "no thank you", "unsubscribe", "stop messaging", "remove me", "don't contact",
	}},
	{model.IntentBookDemo, 0.6, []string{
		"demo", "book", "schedule", "call me", "meeting", "available", "let's talk", "set up a call",
	}},
	{model.IntentPricing, 0.3, []string{
		"price", "pricing", "cost", "how much", "quote", "plans",
	}},
	{model.IntentInterest, 0.5, []string{
		"interested", "sounds good", "tell me more", "love to", "keen",
	}},
	{model.IntentQuestion, 0.1, []string{
		"?", "how does", "what is", "can you",
	}},
}

// KeywordClassifier is an offline classifier used when no language model is
// configured.
type KeywordClassifier struct{}

// Classify implements Classifier.
func (KeywordClassifier) Classify(_ context.Context, text string) model.Classification {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return model.DefaultClassification()
	}
	if isSlotPick(lower) {
		return model.Classification{Intent: model.IntentBookDemo, Sentiment: 0.5, Confidence: 0.6, Keywords: []string{lower}}
	}
	for _, r := range keywordRules {
		for _, p := range r.phrases {
			if strings.Contains(lower, p) {
				return model.Classification{
					Intent:     r.intent,
					Sentiment:  r.sentiment,
					Confidence: 0.6,
					Keywords:   []string{p},
				}
			}
		}
	}
	return model.DefaultClassification()
}

// isSlotPick reports whether the text is a bare slot token such as "2".
func isSlotPick(s string) bool {
	s = strings.Trim(s, " .!#")
	if s == "" || len(s) > 2 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
