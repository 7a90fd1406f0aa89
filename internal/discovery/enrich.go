package discovery

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/pkg/firecrawl"
	"github.com/sells-group/prospect-engine/pkg/jina"
)

const maxSummaryLen = 280

// JinaEnricher reads a prospect's company website and fills the company
// summary from its description or opening text.
type JinaEnricher struct {
	client jina.Client
}

// NewJinaEnricher creates a JinaEnricher.
func NewJinaEnricher(c jina.Client) *JinaEnricher {
	return &JinaEnricher{client: c}
}

// Enrich implements Enricher. Prospects without a domain or with a summary
// already are left alone.
func (e *JinaEnricher) Enrich(ctx context.Context, p *model.Prospect) error {
	if p.Domain == "" || p.CompanySummary != "" {
		return nil
	}
	resp, err := e.client.Read(ctx, "https://"+p.Domain)
	if err != nil {
		return eris.Wrapf(err, "discovery: enrich %s", p.Domain)
	}

	summary := cleanText(resp.Data.Description)
	if summary == "" {
		summary = firstParagraph(resp.Data.Content)
	}
	p.CompanySummary = truncate(summary, maxSummaryLen)
	return nil
}

// FirecrawlEnricher fills the company summary from a Firecrawl scrape of the
// prospect's website.
type FirecrawlEnricher struct {
	client firecrawl.Client
}

// NewFirecrawlEnricher creates a FirecrawlEnricher.
func NewFirecrawlEnricher(c firecrawl.Client) *FirecrawlEnricher {
	return &FirecrawlEnricher{client: c}
}

// Enrich implements Enricher.
func (e *FirecrawlEnricher) Enrich(ctx context.Context, p *model.Prospect) error {
	if p.Domain == "" || p.CompanySummary != "" {
		return nil
	}
	resp, err := e.client.Scrape(ctx, firecrawl.ScrapeRequest{URL: "https://" + p.Domain, OnlyMainContent: true})
	if err != nil {
		return eris.Wrapf(err, "discovery: firecrawl %s", p.Domain)
	}

	summary := cleanText(resp.Data.Metadata.Description)
	if summary == "" {
		summary = firstParagraph(resp.Data.Markdown)
	}
	p.CompanySummary = truncate(summary, maxSummaryLen)
	return nil
}

// ChainEnricher tries each enricher in order until one fills the summary.
type ChainEnricher []Enricher

// Enrich implements Enricher. It fails only when every enricher failed.
func (c ChainEnricher) Enrich(ctx context.Context, p *model.Prospect) error {
	var lastErr error
	ok := false
	for i, e := range c {
		if err := e.Enrich(ctx, p); err != nil {
			lastErr = err
			if i < len(c)-1 {
				zap.L().Debug("enricher failed, trying next", zap.String("domain", p.Domain), zap.Error(err))
			}
			continue
		}
		ok = true
		if p.CompanySummary != "" {
			return nil
		}
	}
	if ok {
		return nil
	}
	return lastErr
}

// firstParagraph returns the first markdown line that is prose rather than a
// heading, link list or image.
func firstParagraph(md string) string {
	for _, line := range strings.Split(md, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "![") ||
			strings.HasPrefix(line, "[") || strings.HasPrefix(line, "*") || strings.HasPrefix(line, "-") {
			continue
		}
		return cleanText(line)
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
