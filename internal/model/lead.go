package model

import "time"

// LeadStage tracks how far a lead has progressed through the sales funnel.
type LeadStage string

const (
	StageNew           LeadStage = "New"
	StageQualified     LeadStage = "Qualified"
	StageDemoRequested LeadStage = "DemoRequested"
	StageDemoBooked    LeadStage = "DemoBooked"
)

// stageRank orders stages so that updates never move a lead backwards.
var stageRank = map[LeadStage]int{
	StageNew:           0,
	StageQualified:     1,
	StageDemoRequested: 2,
	StageDemoBooked:    3,
}

// Advance returns the later of the two stages.
func (s LeadStage) Advance(to LeadStage) LeadStage {
	if stageRank[to] > stageRank[s] {
		return to
	}
	return s
}

// Tier is a coarse lead quality bucket.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// TierForScore derives the tier from a 0-100 score.
func TierForScore(score int) Tier {
	switch {
	case score >= 80:
		return TierHot
	case score >= 55:
		return TierWarm
	default:
		return TierCold
	}
}

// Lead is a contact with qualifying intent. When derived from a Prospect it
// shares the prospect's ID.
type Lead struct {
	ID          string    `json:"id"`
	ProspectID  string    `json:"prospect_id,omitempty"`
	Name        string    `json:"name"`
	Company     string    `json:"company"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	ProfileURL  string    `json:"profile_url,omitempty"`
	Channel     Channel   `json:"channel"`
	Stage       LeadStage `json:"stage"`
	Score       int       `json:"score"`
	Tier        Tier      `json:"tier"`
	Recipient   string    `json:"recipient"`
	LastMessage string    `json:"last_message,omitempty"`
	Sentiment   float64   `json:"sentiment"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SetScore assigns the score and keeps the tier consistent with it.
func (l *Lead) SetScore(score int) {
	l.Score = score
	l.Tier = TierForScore(score)
}

// Intent is the classified purpose of an inbound or reply message.
type Intent string

const (
	IntentBookDemo   Intent = "BOOK_DEMO"
	IntentPricing    Intent = "PRICING"
	IntentInterest   Intent = "INTEREST"
	IntentQuestion   Intent = "QUESTION"
	IntentNoInterest Intent = "NO_INTEREST"
	IntentGeneral    Intent = "GENERAL"
)

// ParseIntent maps free text to a known intent, defaulting to GENERAL.
func ParseIntent(s string) Intent {
	switch Intent(s) {
	case IntentBookDemo, IntentPricing, IntentInterest, IntentQuestion, IntentNoInterest, IntentGeneral:
		return Intent(s)
	default:
		return IntentGeneral
	}
}

// Classification is the output of the classification service.
type Classification struct {
	Intent     Intent   `json:"intent"`
	Sentiment  float64  `json:"sentiment"`
	Confidence float64  `json:"confidence"`
	Keywords   []string `json:"keywords,omitempty"`
}

// DefaultClassification is returned when the classifier times out or
// produces malformed output.
func DefaultClassification() Classification {
	return Classification{Intent: IntentGeneral, Sentiment: 0, Confidence: 0.4}
}

// ConversionRecord is the audit row written together with a lead upsert.
type ConversionRecord struct {
	ID         string    `json:"id"`
	LeadID     string    `json:"lead_id"`
	ProspectID string    `json:"prospect_id,omitempty"`
	Intent     Intent    `json:"intent"`
	Sentiment  float64   `json:"sentiment"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}
