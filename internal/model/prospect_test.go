package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		email      string
		profileURL string
		want       string
	}{
		{"email wins", " Jane@Acme.COM ", "https://linkedin.com/in/jane", "jane@acme.com"},
		{"profile url fallback", "", "https://www.LinkedIn.com/in/jane/?trk=abc#top", "linkedin.com/in/jane"},
		{"profile without scheme", "", "linkedin.com/in/jane/", "linkedin.com/in/jane"},
		{"exempt", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DedupKey(tt.email, tt.profileURL))
		})
	}
}

func TestCanonicalProfileURL_EquivalentForms(t *testing.T) {
	t.Parallel()

	a := CanonicalProfileURL("http://instagram.com/acme_realty/")
	b := CanonicalProfileURL("https://www.instagram.com/acme_realty?hl=en")
	assert.Equal(t, a, b)
}

func TestProspect_Recipient(t *testing.T) {
	t.Parallel()

	p := Prospect{Email: "a@b.com", Phone: "+256700000000", ProfileURL: "https://linkedin.com/in/a"}

	tests := []struct {
		channel Channel
		want    string
		ok      bool
	}{
		{ChannelEmail, "a@b.com", true},
		{ChannelWhatsApp, "+256700000000", true},
		{ChannelSMS, "+256700000000", true},
		{ChannelLinkedIn, "https://linkedin.com/in/a", true},
		{ChannelInstagram, "https://linkedin.com/in/a", true},
		{ChannelAlert, "", false},
		{Channel("fax"), "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.channel), func(t *testing.T) {
			t.Parallel()
			p := p
			p.Channel = tt.channel
			got, ok := p.Recipient()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	missing := Prospect{Channel: ChannelEmail, Phone: "+1"}
	_, ok := missing.Recipient()
	assert.False(t, ok)
}

func TestTierForScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		score int
		want  Tier
	}{
		{100, TierHot},
		{80, TierHot},
		{79, TierWarm},
		{55, TierWarm},
		{54, TierCold},
		{0, TierCold},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierForScore(tt.score), "score %d", tt.score)
	}
}

func TestLead_SetScoreKeepsTier(t *testing.T) {
	t.Parallel()

	var l Lead
	l.SetScore(81)
	assert.Equal(t, TierHot, l.Tier)
	l.SetScore(60)
	assert.Equal(t, TierWarm, l.Tier)
}

func TestLeadStage_Advance(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StageQualified, StageNew.Advance(StageQualified))
	assert.Equal(t, StageDemoBooked, StageDemoBooked.Advance(StageQualified))
	assert.Equal(t, StageDemoRequested, StageDemoRequested.Advance(StageDemoRequested))
}

func TestParseIntent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, IntentBookDemo, ParseIntent("BOOK_DEMO"))
	assert.Equal(t, IntentGeneral, ParseIntent("book a demo"))
	assert.Equal(t, IntentGeneral, ParseIntent(""))
}

func TestStartOfUTCDay(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("EAT", 3*3600)
	ts := time.Date(2026, 3, 2, 1, 30, 0, 0, loc) // 2026-03-01 22:30 UTC
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), StartOfUTCDay(ts))
	assert.Equal(t, "2026-03-01", DayKey(ts))
}

func TestBookingOffer_SlotByToken(t *testing.T) {
	t.Parallel()

	o := BookingOffer{Slots: []Slot{{Token: "1", Label: "Mon 10:00"}, {Token: "2", Label: "Mon 15:00"}}}
	s, ok := o.SlotByToken("2")
	assert.True(t, ok)
	assert.Equal(t, "Mon 15:00", s.Label)
	_, ok = o.SlotByToken("3")
	assert.False(t, ok)
}
