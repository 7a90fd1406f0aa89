package discovery

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospect-engine/pkg/google"
)

// defaultDirectoryHosts are listing sites whose URLs say nothing about the
// business itself.
var defaultDirectoryHosts = []string{
	"yelp.com", "facebook.com", "yellowpages.com", "tripadvisor.com", "linkedin.com", "instagram.com",
}

// GoogleSource searches Google Places for businesses of the target industry
// in the target country.
type GoogleSource struct {
	client    google.Client
	limiter   *rate.Limiter
	blocklist []string
}

// NewGoogleSource creates a GoogleSource throttled to ratePerSec requests.
func NewGoogleSource(c google.Client, ratePerSec float64) *GoogleSource {
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	return &GoogleSource{
		client:    c,
		limiter:   rate.NewLimiter(rate.Limit(ratePerSec), 1),
		blocklist: defaultDirectoryHosts,
	}
}

// Name implements Source.
func (s *GoogleSource) Name() string { return "google_places" }

// Search implements Source.
func (s *GoogleSource) Search(ctx context.Context, params Params) ([]RawCandidate, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "google source: rate limit wait")
	}

	resp, err := s.client.TextSearch(ctx, google.TextSearchRequest{
		TextQuery: strings.TrimSpace(params.Industry + " in " + params.Country),
		PageSize:  20,
	})
	if err != nil {
		return nil, eris.Wrap(err, "google source: text search")
	}

	out := make([]RawCandidate, 0, len(resp.Places))
	for _, place := range resp.Places {
		website := place.WebsiteURI
		if isDirectoryURL(website, s.blocklist) {
			website = ""
		}
		out = append(out, RawCandidate{
			Name:     place.DisplayName.Text,
			Company:  place.DisplayName.Text,
			Industry: place.PrimaryType.Text,
			Location: place.FormattedAddress,
			Phone:    place.Phone(),
			Website:  website,
			Source:   s.Name(),
		})
	}
	return out, nil
}

// isDirectoryURL checks if a URL's hostname matches any entry in the blocklist.
func isDirectoryURL(website string, blocklist []string) bool {
	if website == "" {
		return false
	}
	u, err := url.Parse(website)
	if err != nil {
		return false
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, blocked := range blocklist {
		blocked = strings.ToLower(blocked)
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}
