// Package model defines the records shared by the prospecting and lead conversion engine.
package model

import (
	"net/url"
	"strings"
	"time"
)

// Channel identifies an outbound delivery channel.
type Channel string

const (
	ChannelEmail     Channel = "email"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelSMS       Channel = "sms"
	ChannelLinkedIn  Channel = "linkedin"
	ChannelInstagram Channel = "instagram"
	// ChannelAlert carries internal alerts only. It is never an outreach channel.
	ChannelAlert Channel = "alert"
)

// OutreachChannels lists the channels eligible for first-touch outreach, in
// the order they are processed.
var OutreachChannels = []Channel{
	ChannelEmail,
	ChannelWhatsApp,
	ChannelSMS,
	ChannelLinkedIn,
	ChannelInstagram,
}

// IsOutreach reports whether c is a supported first-touch channel.
func (c Channel) IsOutreach() bool {
	for _, oc := range OutreachChannels {
		if c == oc {
			return true
		}
	}
	return false
}

// ProspectStatus is the lifecycle state of a Prospect.
type ProspectStatus string

const (
	ProspectNew           ProspectStatus = "new"
	ProspectContacted     ProspectStatus = "contacted"
	ProspectReplied       ProspectStatus = "replied"
	ProspectConverted     ProspectStatus = "converted"
	ProspectNotInterested ProspectStatus = "not_interested"
	ProspectSkipped       ProspectStatus = "skipped"
)

// Prospect is a discovered contact that has not been qualified yet.
type Prospect struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Company         string         `json:"company"`
	Title           string         `json:"title,omitempty"`
	Industry        string         `json:"industry"`
	Location        string         `json:"location"`
	Email           string         `json:"email,omitempty"`
	Phone           string         `json:"phone,omitempty"`
	ProfileURL      string         `json:"profile_url,omitempty"`
	Domain          string         `json:"domain,omitempty"`
	CompanySize     string         `json:"company_size,omitempty"`
	CompanySummary  string         `json:"company_summary,omitempty"`
	Channel         Channel        `json:"channel"`
	Source          string         `json:"source"`
	Score           int            `json:"score"`
	Status          ProspectStatus `json:"status"`
	SkipReason      string         `json:"skip_reason,omitempty"`
	DedupKey        string         `json:"dedup_key,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	LastContactedAt *time.Time     `json:"last_contacted_at,omitempty"`
	LastReplyAt     *time.Time     `json:"last_reply_at,omitempty"`
}

// Recipient resolves the send target for the prospect's channel. The second
// return value is false when the channel is unsupported or the handle the
// channel needs is missing.
func (p Prospect) Recipient() (string, bool) {
	return ResolveRecipient(p.Channel, p.Email, p.Phone, p.ProfileURL)
}

// ResolveRecipient picks the contact handle a channel delivers to.
func ResolveRecipient(ch Channel, email, phone, profileURL string) (string, bool) {
	var r string
	switch ch {
	case ChannelEmail:
		r = email
	case ChannelWhatsApp, ChannelSMS:
		r = phone
	case ChannelLinkedIn, ChannelInstagram:
		r = profileURL
	default:
		return "", false
	}
	r = strings.TrimSpace(r)
	return r, r != ""
}

// EnrichedProfile reports whether the company profile carries domain, size
// and summary.
func (p Prospect) EnrichedProfile() bool {
	return p.Domain != "" && p.CompanySize != "" && p.CompanySummary != ""
}

// DedupKey returns the identity used to detect duplicate contacts: the
// lowercased email when present, else the canonical profile URL. An empty
// result means the record is exempt from deduplication.
func DedupKey(email, profileURL string) string {
	if e := strings.ToLower(strings.TrimSpace(email)); e != "" {
		return e
	}
	return CanonicalProfileURL(profileURL)
}

// CanonicalProfileURL strips scheme, query, fragment and trailing slashes and
// lowercases the host so that equivalent profile links compare equal.
func CanonicalProfileURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.ToLower(raw), "/")
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	path := strings.TrimRight(u.Path, "/")
	return host + path
}
