// Package scorer ranks discovered prospects and scores converted leads.
package scorer

import (
	"math"
	"strings"

	"github.com/sells-group/prospect-engine/internal/model"
)

// Target is the audience a ranking pass is scored against.
type Target struct {
	Industry string
	Country  string
}

// Prospect score components.
const (
	baseScore       = 40
	industryWeight  = 30
	locationWeight  = 20
	enrichedWeight  = 10
	seniorityWeight = 10
)

var senioritySignals = []string{"manager", "director", "founder", "chief", "lead"}

// Score returns the deterministic 0-100 score of p against t.
func Score(p model.Prospect, t Target) int {
	score := float64(baseScore)
	if industryMatches(p.Industry, t.Industry) {
		score += industryWeight
	}
	if containsFold(p.Location, t.Country) {
		score += locationWeight
	}
	if p.EnrichedProfile() {
		score += enrichedWeight
	}
	if hasSeniority(p.Title) {
		score += seniorityWeight
	}
	return Clamp(score)
}

// Clamp rounds v to the nearest integer and bounds it to [0, 100].
func Clamp(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	r := int(math.Round(v))
	switch {
	case r < 0:
		return 0
	case r > 100:
		return 100
	default:
		return r
	}
}

// industryMatches is true when either industry label contains the other,
// so "real estate" matches "Real Estate Agency".
func industryMatches(have, want string) bool {
	have = strings.ToLower(strings.TrimSpace(have))
	want = strings.ToLower(strings.TrimSpace(want))
	if have == "" || want == "" {
		return false
	}
	return strings.Contains(have, want) || strings.Contains(want, have)
}

func containsFold(s, sub string) bool {
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return false
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func hasSeniority(title string) bool {
	title = strings.ToLower(title)
	for _, s := range senioritySignals {
		if strings.Contains(title, s) {
			return true
		}
	}
	return false
}
