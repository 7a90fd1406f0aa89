package scorer

import "github.com/sells-group/prospect-engine/internal/model"

// LeadScore is the rule-based score of a lead after a classified message:
// base 50, intent bonus, sentiment scaled by 20 and 5 points per known
// contact field.
func LeadScore(l model.Lead, c model.Classification) int {
	score := 50.0
	switch c.Intent {
	case model.IntentBookDemo:
		score += 15
	case model.IntentPricing, model.IntentInterest:
		score += 10
	}
	score += c.Sentiment * 20
	for _, v := range []string{l.Email, l.Phone, l.Company} {
		if v != "" {
			score += 5
		}
	}
	return Clamp(score)
}
