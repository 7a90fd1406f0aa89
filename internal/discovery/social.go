package discovery

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/pkg/jina"
)

// DefaultSocialHosts are the profile path prefixes searched when none are
// configured.
var DefaultSocialHosts = []string{"linkedin.com/in", "instagram.com"}

var instagramHandle = regexp.MustCompile(`\s*\(@[^)]*\)`)

// SocialSource finds public profiles through web search restricted to
// social profile hosts.
type SocialSource struct {
	client  jina.Client
	hosts   []string
	perHost int
	limiter *rate.Limiter
}

// NewSocialSource creates a SocialSource. Empty hosts fall back to
// DefaultSocialHosts.
func NewSocialSource(c jina.Client, hosts []string, ratePerSec float64) *SocialSource {
	if len(hosts) == 0 {
		hosts = DefaultSocialHosts
	}
	if ratePerSec <= 0 {
		ratePerSec = 2
	}
	return &SocialSource{
		client:  c,
		hosts:   hosts,
		perHost: 20,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
	}
}

// Name implements Source.
func (s *SocialSource) Name() string { return "social_search" }

// Search implements Source. A host that fails is logged and skipped; the
// call only errors when every host failed.
func (s *SocialSource) Search(ctx context.Context, params Params) ([]RawCandidate, error) {
	query := strings.TrimSpace(params.Industry + " " + params.Country)
	var (
		out  []RawCandidate
		errs []error
	)
	for _, host := range s.hosts {
		if err := s.limiter.Wait(ctx); err != nil {
			return out, eris.Wrap(err, "social source: rate limit wait")
		}
		resp, err := s.client.Search(ctx, query, jina.WithSiteFilter(host), jina.WithCount(s.perHost))
		if err != nil {
			zap.L().Warn("social source: host search failed", zap.String("host", host), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		ch := channelForHost(host)
		for _, r := range resp.Data {
			name, title, company := parseProfileTitle(r.Title)
			out = append(out, RawCandidate{
				Name:       name,
				Title:      title,
				Company:    company,
				ProfileURL: r.URL,
				Summary:    r.Description,
				Channel:    ch,
				Source:     s.Name(),
			})
		}
	}
	if len(errs) == len(s.hosts) && len(errs) > 0 {
		return nil, eris.Wrap(errors.Join(errs...), "social source: all hosts failed")
	}
	return out, nil
}

func channelForHost(host string) model.Channel {
	switch {
	case strings.Contains(host, "instagram"):
		return model.ChannelInstagram
	default:
		return model.ChannelLinkedIn
	}
}

// parseProfileTitle splits page titles such as
// "Jane Doe - Broker - Acme Realty | LinkedIn" or
// "Jane Doe (@jane) • Instagram photos and videos".
func parseProfileTitle(title string) (name, role, company string) {
	for _, sep := range []string{" | ", " • ", " · "} {
		if i := strings.Index(title, sep); i >= 0 {
			title = title[:i]
		}
	}
	title = instagramHandle.ReplaceAllString(title, "")
	parts := strings.Split(title, " - ")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	name = parts[0]
	if len(parts) > 1 {
		role = parts[1]
	}
	if len(parts) > 2 {
		company = parts[2]
	}
	return name, role, company
}
