package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/booking"
	"github.com/sells-group/prospect-engine/internal/channel"
	"github.com/sells-group/prospect-engine/internal/classify"
	"github.com/sells-group/prospect-engine/internal/conversion"
	"github.com/sells-group/prospect-engine/internal/crm"
	"github.com/sells-group/prospect-engine/internal/discovery"
	"github.com/sells-group/prospect-engine/internal/fetcher"
	"github.com/sells-group/prospect-engine/internal/inbound"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/monitoring"
	"github.com/sells-group/prospect-engine/internal/outbox"
	"github.com/sells-group/prospect-engine/internal/outreach"
	"github.com/sells-group/prospect-engine/internal/resilience"
	"github.com/sells-group/prospect-engine/internal/scorer"
	"github.com/sells-group/prospect-engine/internal/store"
	anthropicpkg "github.com/sells-group/prospect-engine/pkg/anthropic"
	"github.com/sells-group/prospect-engine/pkg/firecrawl"
	"github.com/sells-group/prospect-engine/pkg/google"
	"github.com/sells-group/prospect-engine/pkg/jina"
	"github.com/sells-group/prospect-engine/pkg/perplexity"
)

// engineEnv holds the store, clients and shared collaborators used by the
// commands. Components are built on demand from it.
type engineEnv struct {
	Store    store.Store
	Channels *channel.Registry
	Metrics  *monitoring.Metrics
	Caller   *resilience.Caller
	AI       anthropicpkg.Client // nil without an API key

	cls           classify.Classifier
	closeChannels func() error
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.closeChannels != nil {
		if err := e.closeChannels(); err != nil {
			zap.L().Warn("close channels", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates config for mode, opens and migrates the store and
// builds the channel registry. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env := &engineEnv{
		Store:   st,
		Metrics: monitoring.NewMetrics(),
		Caller:  resilience.CallerFromConfig(cfg),
	}

	reg, closeFn, err := channel.FromConfig(cfg.Channels, resilience.RetryFromConfig(cfg.Retry), env.Metrics)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init channels")
	}
	env.Channels = reg
	env.closeChannels = closeFn

	if cfg.Anthropic.Key != "" {
		env.AI = anthropicpkg.NewClient(cfg.Anthropic.Key)
	} else {
		zap.L().Info("PROSPECT_ANTHROPIC_KEY not set, using keyword classifier and template composer")
	}
	return env, nil
}

func (e *engineEnv) classifier() classify.Classifier {
	if e.cls != nil {
		return e.cls
	}
	if e.AI == nil {
		e.cls = classify.KeywordClassifier{}
		return e.cls
	}
	e.cls = classify.NewLLMClassifier(e.AI, cfg.Anthropic.Model,
		classify.WithCaller(e.Caller),
		classify.WithTimeout(time.Duration(cfg.Anthropic.ClassifyTimeoutSec)*time.Second),
		classify.WithCounters(e.Store),
		classify.WithMetrics(e.Metrics),
	)
	return e.cls
}

func (e *engineEnv) ranker() *scorer.Ranker {
	var reranker *scorer.Reranker
	if e.AI != nil && cfg.Anthropic.RerankEnabled {
		reranker = scorer.NewReranker(e.AI, cfg.Anthropic.Model, e.Caller.Breakers.Get("anthropic-rerank"))
	}
	return scorer.NewRanker(reranker)
}

func (e *engineEnv) discovery() *discovery.Pipeline {
	dc := cfg.Discovery
	var sources []discovery.Source
	var jinaClient jina.Client

	if dc.GoogleKey != "" {
		sources = append(sources, discovery.NewGoogleSource(
			google.NewClient(dc.GoogleKey, google.WithBaseURL(dc.GoogleBaseURL)), dc.RatePerSec))
	}
	if dc.JinaKey != "" {
		jinaClient = jina.NewClient(dc.JinaKey, jina.WithSearchBaseURL(dc.JinaSearchBaseURL))
		sources = append(sources, discovery.NewSocialSource(jinaClient, dc.SocialHosts, dc.RatePerSec))
	}
	if dc.PerplexityKey != "" {
		pc := perplexity.NewClient(dc.PerplexityKey,
			perplexity.WithBaseURL(dc.PerplexityBaseURL),
			perplexity.WithModel(dc.PerplexityModel),
			perplexity.WithRetry(resilience.RetryFromConfig(cfg.Retry)))
		sources = append(sources, discovery.NewResearchSource(pc, dc.RatePerSec))
	}
	if len(dc.ImportPaths) > 0 {
		timeout := time.Duration(dc.TimeoutSecs) * time.Second
		sources = append(sources, discovery.NewFileSource(fetcher.NewOpener(timeout), dc.ImportPaths))
	}
	if len(sources) == 0 {
		zap.L().Warn("no discovery sources configured")
	}

	opts := []discovery.Option{
		discovery.WithRanker(e.ranker()),
		discovery.WithMaxLimit(dc.MaxLimit),
		discovery.WithSourceTimeout(time.Duration(dc.TimeoutSecs) * time.Second),
	}
	var enrichers discovery.ChainEnricher
	if jinaClient != nil {
		enrichers = append(enrichers, discovery.NewJinaEnricher(jinaClient))
	}
	if dc.FirecrawlKey != "" {
		fc := firecrawl.NewClient(dc.FirecrawlKey, firecrawl.WithBaseURL(dc.FirecrawlBaseURL))
		enrichers = append(enrichers, discovery.NewFirecrawlEnricher(fc))
	}
	if len(enrichers) > 0 {
		opts = append(opts, discovery.WithEnricher(enrichers))
	}
	return discovery.NewPipeline(e.Store, sources, opts...)
}

func (e *engineEnv) orchestrator() *outreach.Orchestrator {
	tmpl := outreach.TemplateComposer{SenderName: cfg.Outreach.SenderName, Product: cfg.Outreach.Product}
	var composer outreach.Composer = tmpl
	if e.AI != nil && cfg.Anthropic.ComposeEnabled {
		composer = outreach.NewLLMComposer(e.AI, cfg.Anthropic.Model, e.Caller, tmpl)
	}
	footers := outreach.NewFooterCache(outreach.StaticFooters(cfg.Outreach.Footers),
		time.Duration(cfg.Outreach.FooterTTLSecs)*time.Second)

	return outreach.NewOrchestrator(e.Store, e.Channels, cfg.Outreach,
		outreach.WithComposer(composer),
		outreach.WithFooterCache(footers),
		outreach.WithMetrics(e.Metrics),
	)
}

// conversion builds the reply state machine with its booking agent and CRM
// mirror.
func (e *engineEnv) conversion() (*conversion.Engine, error) {
	mirror, err := crm.FromConfig(cfg.CRM)
	if err != nil {
		return nil, eris.Wrap(err, "init crm mirror")
	}
	agent, err := booking.NewAgent(e.Store, cfg.Booking, booking.WithMirror(mirror))
	if err != nil {
		return nil, eris.Wrap(err, "init booking agent")
	}
	return conversion.NewEngine(e.Store, e.classifier(), agent,
		conversion.WithMirror(mirror),
		conversion.WithAlertRecipient(cfg.Monitoring.AlertRecipient),
	), nil
}

func (e *engineEnv) gateway(conv *conversion.Engine) *inbound.Gateway {
	return inbound.NewGateway(e.Store, e.classifier(), conv, cfg.Inbound, inbound.WithMetrics(e.Metrics))
}

func (e *engineEnv) dispatcher() *outbox.Dispatcher {
	return outbox.NewDispatcher(e.Store, e.Channels, cfg.Outbox, outbox.WithMetrics(e.Metrics))
}

func (e *engineEnv) checker() *monitoring.Checker {
	alerts := channel.SenderFunc(func(ctx context.Context, recipient, text string) error {
		return e.Channels.Send(ctx, model.ChannelAlert, recipient, text)
	})
	return monitoring.NewChecker(
		monitoring.NewCollector(e.Store),
		monitoring.NewAlerter(cfg.Monitoring, alerts),
		cfg.Monitoring,
	)
}
