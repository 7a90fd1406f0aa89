package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/scorer"
)

const (
	// DefaultMaxLimit caps the number of prospects one run may persist.
	DefaultMaxLimit = 100
	// dedupChunkSize bounds the number of keys checked against the store per
	// query.
	dedupChunkSize = 10
	// enrichConcurrency bounds concurrent enrichment reads.
	enrichConcurrency = 5
)

// Pipeline runs source connectors and persists the unique results.
type Pipeline struct {
	store    Store
	sources  []Source
	ranker   Ranker
	enricher Enricher
	maxLimit int
	timeout  time.Duration
	now      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRanker scores and orders candidates before the limit is applied.
func WithRanker(r Ranker) Option {
	return func(p *Pipeline) { p.ranker = r }
}

// WithEnricher fills company details on new candidates before ranking.
func WithEnricher(e Enricher) Option {
	return func(p *Pipeline) { p.enricher = e }
}

// WithMaxLimit overrides DefaultMaxLimit.
func WithMaxLimit(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxLimit = n
		}
	}
}

// WithSourceTimeout bounds each connector call.
func WithSourceTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a discovery pipeline over the given sources.
func NewPipeline(st Store, sources []Source, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    st,
		sources:  sources,
		maxLimit: DefaultMaxLimit,
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Result summarizes one discovery run.
type Result struct {
	Fetched    int              `json:"fetched"`
	Duplicates int              `json:"duplicates"`
	Existing   int              `json:"existing"`
	Inserted   int              `json:"inserted"`
	Prospects  []model.Prospect `json:"prospects"`
}

// Discover fans out to every source, normalizes and deduplicates the
// results and persists the survivors with status new. A failing source is
// logged and contributes nothing.
func (p *Pipeline) Discover(ctx context.Context, params Params) (*Result, error) {
	log := zap.L().With(zap.String("industry", params.Industry), zap.String("country", params.Country))
	now := p.now()

	raw := p.fetchAll(ctx, params)

	res := &Result{}
	batch := make([]model.Prospect, 0)
	seen := make(map[string]bool)
	for _, rs := range raw {
		for _, rc := range rs {
			res.Fetched++
			pr := Normalize(rc, params, now)
			if pr.DedupKey != "" {
				if seen[pr.DedupKey] {
					res.Duplicates++
					continue
				}
				seen[pr.DedupKey] = true
			}
			batch = append(batch, pr)
		}
	}

	fresh, err := p.filterExisting(ctx, batch)
	if err != nil {
		return nil, err
	}
	res.Existing = len(batch) - len(fresh)

	p.enrich(ctx, fresh)

	if p.ranker != nil {
		fresh = p.ranker.Rank(ctx, fresh, scorer.Target{Industry: params.Industry, Country: params.Country})
	}
	if limit := p.effectiveLimit(params.Limit); len(fresh) > limit {
		fresh = fresh[:limit]
	}

	if len(fresh) > 0 {
		n, err := p.store.InsertProspects(ctx, fresh)
		if err != nil {
			return nil, eris.Wrap(err, "discovery: insert prospects")
		}
		res.Inserted = n
	}
	res.Prospects = fresh

	p.countByIndustry(ctx, fresh, now)

	log.Info("discovery complete",
		zap.Int("fetched", res.Fetched),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("existing", res.Existing),
		zap.Int("inserted", res.Inserted),
	)
	return res, nil
}

// fetchAll returns one result slice per source, in source order.
func (p *Pipeline) fetchAll(ctx context.Context, params Params) [][]RawCandidate {
	out := make([][]RawCandidate, len(p.sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range p.sources {
		g.Go(func() error {
			sctx := gctx
			if p.timeout > 0 {
				var cancel context.CancelFunc
				sctx, cancel = context.WithTimeout(gctx, p.timeout)
				defer cancel()
			}
			rs, err := src.Search(sctx, params)
			if err != nil {
				zap.L().Warn("discovery: source failed",
					zap.String("source", src.Name()), zap.Error(err))
				return nil
			}
			out[i] = rs
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// filterExisting drops candidates whose dedup key is already persisted.
// Keys are checked in chunks of dedupChunkSize.
func (p *Pipeline) filterExisting(ctx context.Context, batch []model.Prospect) ([]model.Prospect, error) {
	var keys []string
	for _, pr := range batch {
		if pr.DedupKey != "" {
			keys = append(keys, pr.DedupKey)
		}
	}

	existing := make(map[string]bool)
	for start := 0; start < len(keys); start += dedupChunkSize {
		end := min(start+dedupChunkSize, len(keys))
		found, err := p.store.ExistingDedupKeys(ctx, keys[start:end])
		if err != nil {
			return nil, eris.Wrap(err, "discovery: check existing keys")
		}
		for k := range found {
			existing[k] = true
		}
	}

	out := make([]model.Prospect, 0, len(batch))
	for _, pr := range batch {
		if pr.DedupKey != "" && existing[pr.DedupKey] {
			continue
		}
		out = append(out, pr)
	}
	return out, nil
}

func (p *Pipeline) effectiveLimit(requested int) int {
	if requested <= 0 || requested > p.maxLimit {
		return p.maxLimit
	}
	return requested
}

func (p *Pipeline) enrich(ctx context.Context, prospects []model.Prospect) {
	if p.enricher == nil || len(prospects) == 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(enrichConcurrency)
	for i := range prospects {
		pr := &prospects[i]
		g.Go(func() error {
			if err := p.enricher.Enrich(ctx, pr); err != nil {
				zap.L().Debug("discovery: enrichment skipped",
					zap.String("domain", pr.Domain), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pipeline) countByIndustry(ctx context.Context, prospects []model.Prospect, now time.Time) {
	counts := make(map[string]int)
	var order []string
	for _, pr := range prospects {
		ind := strings.ToLower(pr.Industry)
		if counts[ind] == 0 {
			order = append(order, ind)
		}
		counts[ind]++
	}
	day := model.DayKey(now)
	for _, ind := range order {
		if err := p.store.IncrementCounter(ctx, day, "prospects_discovered:"+ind, counts[ind]); err != nil {
			zap.L().Warn("discovery: analytics counter failed", zap.String("industry", ind), zap.Error(err))
		}
	}
}
