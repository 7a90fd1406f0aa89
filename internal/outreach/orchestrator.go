// Package outreach runs the rate-limited daily first-touch campaign.
package outreach

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-engine/internal/channel"
	"github.com/sells-group/prospect-engine/internal/config"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/monitoring"
	"github.com/sells-group/prospect-engine/internal/store"
)

// LeaseName is the lease that serializes outreach runs.
const LeaseName = "outreach-run"

const (
	minPool        = 30
	maxPool        = 200
	defaultWorkers = 5
	defaultLease   = 15 * time.Minute
)

// Skip reasons persisted on prospects.
const (
	SkipMissingRecipient   = "missing_recipient"
	SkipUnsupportedChannel = "unsupported_channel"
)

// ErrRunInProgress is returned when another run holds the lease.
var ErrRunInProgress = eris.New("outreach: run in progress")

// Store is the persistence the orchestrator needs.
type Store interface {
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error
	CountSentSince(ctx context.Context, since time.Time) (map[model.Channel]int, error)
	ListProspectsByStatus(ctx context.Context, status model.ProspectStatus, limit int) ([]model.Prospect, error)
	GetProspect(ctx context.Context, id string) (*model.Prospect, error)
	SkipProspect(ctx context.Context, id, reason string) error
	RecordOutreach(ctx context.Context, msg model.OutreachMessage) error
	SaveRunSummary(ctx context.Context, summary model.RunSummary) error
	IncrementCounter(ctx context.Context, day, metric string, delta int) error
}

// Senders resolves the sender for a channel. *channel.Registry implements it.
type Senders interface {
	Get(ch model.Channel) (channel.Sender, bool)
}

// Orchestrator runs outreach.
type Orchestrator struct {
	store    Store
	senders  Senders
	composer Composer
	footers  *FooterCache
	cfg      config.OutreachConfig
	metrics  *monitoring.Metrics
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithComposer replaces the template composer.
func WithComposer(c Composer) Option { return func(o *Orchestrator) { o.composer = c } }

// WithFooterCache replaces the footer cache built from config.
func WithFooterCache(c *FooterCache) Option { return func(o *Orchestrator) { o.footers = c } }

// WithMetrics records Prometheus outreach counters.
func WithMetrics(m *monitoring.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(st Store, senders Senders, cfg config.OutreachConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    st,
		senders:  senders,
		composer: TemplateComposer{SenderName: cfg.SenderName, Product: cfg.Product},
		footers:  NewFooterCache(StaticFooters(cfg.Footers), time.Duration(cfg.FooterTTLSecs)*time.Second),
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one outreach run. seed prospects are considered alongside
// freshly loaded new prospects. A run summary is saved whenever the lease
// was acquired, including when the run fails.
func (o *Orchestrator) Run(ctx context.Context, seed []model.Prospect) (summary *model.RunSummary, err error) {
	holder := uuid.New().String()
	ttl := time.Duration(o.cfg.LeaseTTLSecs) * time.Second
	if ttl <= 0 {
		ttl = defaultLease
	}
	ok, err := o.store.AcquireLease(ctx, LeaseName, holder, ttl)
	if err != nil {
		return nil, eris.Wrap(err, "outreach: acquire lease")
	}
	if !ok {
		return nil, ErrRunInProgress
	}
	log := zap.L().With(zap.String("run_id", holder))
	defer func() {
		if rerr := o.store.ReleaseLease(context.WithoutCancel(ctx), LeaseName, holder); rerr != nil {
			log.Warn("outreach: release lease", zap.Error(rerr))
		}
	}()

	summary = &model.RunSummary{
		ID:         holder,
		StartedAt:  o.now().UTC(),
		Caps:       make(map[model.Channel]int),
		Remaining:  make(map[model.Channel]int),
		SentByChan: make(map[model.Channel]int),
	}
	defer func() {
		if err != nil {
			summary.Errors = append(summary.Errors, err.Error())
		}
		summary.FinishedAt = o.now().UTC()
		if serr := o.store.SaveRunSummary(context.WithoutCancel(ctx), *summary); serr != nil {
			log.Error("outreach: save run summary", zap.Error(serr))
			if err == nil {
				err = eris.Wrap(serr, "outreach: save run summary")
			}
		}
	}()

	sentToday, err := o.store.CountSentSince(ctx, model.StartOfUTCDay(o.now()))
	if err != nil {
		return summary, eris.Wrap(err, "outreach: count sent today")
	}
	total, totalCap := 0, 0
	for _, ch := range model.OutreachChannels {
		c := max(0, o.cfg.CapFor(string(ch)))
		summary.Caps[ch] = c
		summary.Remaining[ch] = max(0, c-sentToday[ch])
		total += summary.Remaining[ch]
		totalCap += c
	}
	if total == 0 {
		summary.LimitReached = true
		log.Info("outreach: daily limit reached", zap.Any("sent_today", sentToday))
		return summary, nil
	}

	target := min(max(minPool, totalCap*2), maxPool)
	summary.PoolSize = target
	pool, err := o.buildPool(ctx, seed, target)
	if err != nil {
		return summary, err
	}
	summary.Candidates = len(pool)

	selected := o.partition(ctx, pool, summary)
	o.dispatch(ctx, selected, summary)

	for ch, n := range summary.SentByChan {
		summary.Remaining[ch] = max(0, summary.Remaining[ch]-n)
	}
	log.Info("outreach: run complete",
		zap.Int("candidates", summary.Candidates),
		zap.Int("sent", summary.Sent),
		zap.Int("dropped", summary.Dropped),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", len(summary.Errors)),
	)
	return summary, nil
}

// buildPool merges seed with stored new prospects, dedups by ID, keeps only
// new ones and orders them by score. Ties keep their input order.
func (o *Orchestrator) buildPool(ctx context.Context, seed []model.Prospect, target int) ([]model.Prospect, error) {
	fresh, err := o.store.ListProspectsByStatus(ctx, model.ProspectNew, target)
	if err != nil {
		return nil, eris.Wrap(err, "outreach: load candidates")
	}
	seen := make(map[string]bool, len(seed)+len(fresh))
	pool := make([]model.Prospect, 0, len(seed)+len(fresh))
	// Seeds only contribute ids; status and fields come from the stored row.
	for _, s := range seed {
		if s.ID == "" || seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		p, err := o.store.GetProspect(ctx, s.ID)
		if errors.Is(err, store.ErrNotFound) {
			zap.L().Warn("outreach: seed prospect not stored", zap.String("prospect_id", s.ID))
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(err, "outreach: load seed %s", s.ID)
		}
		if p.Status != model.ProspectNew {
			continue
		}
		pool = append(pool, *p)
	}
	for _, p := range fresh {
		if p.ID == "" || seen[p.ID] || p.Status != model.ProspectNew {
			continue
		}
		seen[p.ID] = true
		pool = append(pool, p)
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].Score > pool[j].Score })
	if len(pool) > target {
		pool = pool[:target]
	}
	return pool, nil
}

type candidate struct {
	prospect  model.Prospect
	recipient string
	sender    channel.Sender
}

// partition persists skips for unsendable prospects and picks the top
// remaining[ch] candidates per channel.
func (o *Orchestrator) partition(ctx context.Context, pool []model.Prospect, summary *model.RunSummary) []candidate {
	var selected []candidate
	taken := make(map[model.Channel]int)
	for _, p := range pool {
		var reason string
		sender, ok := o.senders.Get(p.Channel)
		recipient, hasRecipient := p.Recipient()
		switch {
		case !p.Channel.IsOutreach() || !ok:
			reason = SkipUnsupportedChannel
		case !hasRecipient:
			reason = SkipMissingRecipient
		}
		if reason != "" {
			summary.Skipped++
			o.metrics.OutreachSkipped(reason)
			if err := o.store.SkipProspect(ctx, p.ID, reason); err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("skip %s: %v", p.ID, err))
			}
			continue
		}
		if taken[p.Channel] >= summary.Remaining[p.Channel] {
			continue
		}
		taken[p.Channel]++
		selected = append(selected, candidate{prospect: p, recipient: recipient, sender: sender})
	}
	return selected
}

// dispatch sends to each candidate with bounded concurrency. Failures are
// recorded per candidate and never abort the batch.
func (o *Orchestrator) dispatch(ctx context.Context, selected []candidate, summary *model.RunSummary) {
	workers := o.cfg.Concurrency
	if workers <= 0 {
		workers = defaultWorkers
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, c := range selected {
		g.Go(func() error {
			dropped, err := o.sendOne(gctx, c)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", c.prospect.ID, err))
				o.metrics.OutreachError(string(c.prospect.Channel))
				zap.L().Warn("outreach: send failed",
					zap.String("prospect_id", c.prospect.ID),
					zap.String("channel", string(c.prospect.Channel)),
					zap.Error(err),
				)
				return nil
			}
			summary.Sent++
			summary.SentByChan[c.prospect.Channel]++
			if dropped {
				summary.Dropped++
			}
			return nil
		})
	}
	_ = g.Wait()
}

// sendOne composes, sends and records one first touch. dropped is true when
// the channel is configured off: the prospect is still marked contacted and
// the ledger row still counts toward the cap, but nothing was delivered.
func (o *Orchestrator) sendOne(ctx context.Context, c candidate) (dropped bool, err error) {
	p := c.prospect
	footer, err := o.footers.Get(ctx, o.cfg.TenantID)
	if err != nil {
		return false, err
	}
	text := Fit(o.composer.Compose(ctx, p), footer, ChannelLimit(p.Channel))

	if err := c.sender.Send(ctx, c.recipient, text); err != nil {
		return false, eris.Wrapf(err, "outreach: send %s", p.Channel)
	}
	dropped = channel.IsDisabled(c.sender)
	now := o.now().UTC()
	if err := o.store.RecordOutreach(ctx, model.OutreachMessage{
		ProspectID: p.ID,
		Channel:    p.Channel,
		Text:       text,
		SentAt:     now,
		Status:     model.OutreachSent,
	}); err != nil {
		return dropped, eris.Wrap(err, "outreach: record message")
	}
	metric := "outreach_sent:"
	if dropped {
		metric = "outreach_dropped:"
	} else {
		o.metrics.OutreachSent(string(p.Channel))
	}
	if err := o.store.IncrementCounter(ctx, model.DayKey(now), metric+string(p.Channel), 1); err != nil {
		zap.L().Warn("outreach: increment counter", zap.Error(err))
	}
	return dropped, nil
}
