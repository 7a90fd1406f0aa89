package discovery

import (
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/badoux/checkmail"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/prospect-engine/internal/model"
)

var titleCaser = cases.Title(language.Und)

// Normalize maps a raw candidate onto the canonical Prospect shape. Absent
// optional fields default from params, invalid emails are dropped and the
// channel is inferred from the available handles when the source gave none.
func Normalize(raw RawCandidate, params Params, now time.Time) model.Prospect {
	p := model.Prospect{
		ID:             uuid.New().String(),
		Name:           cleanName(raw.Name),
		Company:        cleanText(raw.Company),
		Title:          cleanText(raw.Title),
		Industry:       cleanText(raw.Industry),
		Location:       cleanText(raw.Location),
		Email:          cleanEmail(raw.Email),
		Phone:          cleanPhone(raw.Phone),
		ProfileURL:     strings.TrimSpace(raw.ProfileURL),
		Domain:         extractDomain(raw.Website),
		CompanySize:    cleanText(raw.CompanySize),
		CompanySummary: cleanText(raw.Summary),
		Source:         raw.Source,
		Status:         model.ProspectNew,
		CreatedAt:      now.UTC(),
	}
	if p.Industry == "" {
		p.Industry = params.Industry
	}
	if p.Location == "" {
		p.Location = params.Country
	}
	if p.Company == "" && p.Domain != "" {
		p.Company = p.Domain
	}
	if p.Name == "" {
		p.Name = p.Company
	}
	if p.Domain == "" && p.Email != "" {
		p.Domain = emailDomain(p.Email)
	}
	p.Channel = inferChannel(raw.Channel, p)
	p.DedupKey = model.DedupKey(p.Email, p.ProfileURL)
	return p
}

func cleanText(s string) string {
	s = norm.NFKC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// cleanName title-cases names that arrive all upper or all lower case.
func cleanName(s string) string {
	s = strings.Trim(cleanText(s), `"'`)
	if s == "" {
		return ""
	}
	if s == strings.ToUpper(s) || s == strings.ToLower(s) {
		return titleCaser.String(strings.ToLower(s))
	}
	return s
}

func cleanEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "mailto:")))
	if s == "" {
		return ""
	}
	if err := checkmail.ValidateFormat(s); err != nil {
		return ""
	}
	return s
}

// cleanPhone keeps digits and a leading plus sign.
func cleanPhone(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(strings.TrimPrefix(out, "+")) < 6 {
		return ""
	}
	return out
}

func extractDomain(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

var freeMailDomains = map[string]bool{
	"gmail.com": true, "yahoo.com": true, "hotmail.com": true, "outlook.com": true, "icloud.com": true,
}

func emailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return ""
	}
	d := email[at+1:]
	if freeMailDomains[d] {
		return ""
	}
	return d
}

func inferChannel(given model.Channel, p model.Prospect) model.Channel {
	if given != "" {
		return given
	}
	profile := strings.ToLower(p.ProfileURL)
	switch {
	case p.Email != "":
		return model.ChannelEmail
	case strings.Contains(profile, "linkedin.com"):
		return model.ChannelLinkedIn
	case strings.Contains(profile, "instagram.com"):
		return model.ChannelInstagram
	case p.Phone != "":
		return model.ChannelWhatsApp
	default:
		return model.ChannelEmail
	}
}
