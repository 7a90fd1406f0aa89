package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospect-engine/pkg/perplexity"
)

const researchPrompt = `You research B2B sales prospects on the public web.
Return ONLY a JSON array. Each element is an object with the string fields
"name", "company", "title", "email", "phone", "website", "location".
Use "" for anything you cannot find. Never invent contact details.`

// ResearchSource asks a web-grounded language model for businesses that
// match the request and parses the list it returns.
type ResearchSource struct {
	client  perplexity.Client
	limiter *rate.Limiter
	max     int
}

// NewResearchSource creates a ResearchSource throttled to ratePerSec calls.
func NewResearchSource(c perplexity.Client, ratePerSec float64) *ResearchSource {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &ResearchSource{
		client:  c,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
		max:     25,
	}
}

// Name implements Source.
func (s *ResearchSource) Name() string { return "web_research" }

// Search implements Source.
func (s *ResearchSource) Search(ctx context.Context, params Params) ([]RawCandidate, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "research source: rate limit wait")
	}

	n := s.max
	if params.Limit > 0 && params.Limit < n {
		n = params.Limit
	}
	resp, err := s.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: researchPrompt},
			{Role: "user", Content: fmt.Sprintf("List up to %d %s businesses in %s with a named decision maker.",
				n, params.Industry, params.Country)},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "research source: chat completion")
	}

	records, err := parseResearch(resp.Text())
	if err != nil {
		return nil, err
	}
	out := make([]RawCandidate, 0, len(records))
	for _, rec := range records {
		rc := candidateFromRecord(rec)
		if rc.Name == "" && rc.Company == "" {
			continue
		}
		if rc.Industry == "" {
			rc.Industry = params.Industry
		}
		rc.Source = s.Name()
		out = append(out, rc)
		if len(out) == n {
			break
		}
	}
	return out, nil
}

// parseResearch extracts the JSON array from a model answer. Non-string
// values are dropped.
func parseResearch(text string) ([]map[string]string, error) {
	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start < 0 || end <= start {
		return nil, eris.New("research source: no json array in answer")
	}

	var raw []map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, eris.Wrap(err, "research source: decode answer")
	}
	out := make([]map[string]string, 0, len(raw))
	for _, obj := range raw {
		rec := make(map[string]string, len(obj))
		for k, v := range obj {
			if s, ok := v.(string); ok {
				rec[k] = s
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
