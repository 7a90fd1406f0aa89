// Package classify extracts intent and sentiment from reply text. Callers
// always get a usable Classification: failures degrade to
// model.DefaultClassification.
package classify

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/monitoring"
	"github.com/sells-group/prospect-engine/internal/resilience"
	"github.com/sells-group/prospect-engine/pkg/anthropic"
)

// DefaultTimeout bounds one classification call.
const DefaultTimeout = 8 * time.Second

const classifyPrompt = `You classify replies to B2B sales outreach.
Return ONLY a JSON object:
{"intent": one of "BOOK_DEMO","PRICING","INTEREST","QUESTION","NO_INTEREST","GENERAL",
 "sentiment": number from -1 (hostile) to 1 (enthusiastic),
 "confidence": number from 0 to 1,
 "keywords": array of up to 5 short strings}
BOOK_DEMO means the sender wants a call, meeting or demo or is picking a proposed time.`

// Classifier classifies message text. Implementations never fail; they fall
// back to model.DefaultClassification.
type Classifier interface {
	Classify(ctx context.Context, text string) model.Classification
}

// Counters records daily analytics.
type Counters interface {
	IncrementCounter(ctx context.Context, day, metric string, delta int) error
}

// LLMClassifier classifies with a language model.
type LLMClassifier struct {
	ai       anthropic.Client
	model    string
	caller   *resilience.Caller
	timeout  time.Duration
	counters Counters
	metrics  *monitoring.Metrics
	now      func() time.Time
}

// Option configures an LLMClassifier.
type Option func(*LLMClassifier)

// WithCaller runs calls through retry and the anthropic circuit breaker.
func WithCaller(c *resilience.Caller) Option {
	return func(l *LLMClassifier) { l.caller = c }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(l *LLMClassifier) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithCounters records classify_total and classify_fallback counters.
func WithCounters(c Counters) Option {
	return func(l *LLMClassifier) { l.counters = c }
}

// WithMetrics records Prometheus classification outcomes.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(l *LLMClassifier) { l.metrics = m }
}

// NewLLMClassifier creates an LLMClassifier.
func NewLLMClassifier(ai anthropic.Client, modelName string, opts ...Option) *LLMClassifier {
	l := &LLMClassifier{ai: ai, model: modelName, timeout: DefaultTimeout, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

type llmResult struct {
	Intent     string   `json:"intent"`
	Sentiment  *float64 `json:"sentiment"`
	Confidence *float64 `json:"confidence"`
	Keywords   []string `json:"keywords"`
}

// Classify implements Classifier.
func (l *LLMClassifier) Classify(ctx context.Context, text string) model.Classification {
	c, err := l.classify(ctx, text)
	l.record(ctx, err)
	if err != nil {
		zap.L().Warn("classify: falling back to default", zap.Error(err))
		return model.DefaultClassification()
	}
	return c
}

func (l *LLMClassifier) classify(ctx context.Context, text string) (model.Classification, error) {
	if strings.TrimSpace(text) == "" {
		return model.Classification{}, eris.New("classify: empty text")
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resp, err := resilience.Call(ctx, l.caller, "anthropic", "classify", func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return l.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     l.model,
			MaxTokens: 256,
			System:    anthropic.CachedSystem(classifyPrompt),
			Messages:  []anthropic.Message{{Role: "user", Content: text}},
		})
	})
	if err != nil {
		return model.Classification{}, eris.Wrap(err, "classify: create message")
	}
	resp.Usage.LogCost(l.model, "classify")

	var out llmResult
	if err := anthropic.DecodeJSON(resp, &out); err != nil {
		return model.Classification{}, eris.Wrap(err, "classify: parse response")
	}
	if out.Intent == "" || out.Sentiment == nil || out.Confidence == nil {
		return model.Classification{}, eris.New("classify: incomplete response")
	}
	return model.Classification{
		Intent:     model.ParseIntent(strings.ToUpper(strings.TrimSpace(out.Intent))),
		Sentiment:  clamp(*out.Sentiment, -1, 1),
		Confidence: clamp(*out.Confidence, 0, 1),
		Keywords:   out.Keywords,
	}, nil
}

func (l *LLMClassifier) record(ctx context.Context, err error) {
	result := "ok"
	if err != nil {
		result = "fallback"
	}
	l.metrics.ClassifyResult(result)
	if l.counters == nil {
		return
	}
	day := model.DayKey(l.now())
	if cerr := l.counters.IncrementCounter(ctx, day, "classify_total", 1); cerr != nil {
		zap.L().Debug("classify: counter failed", zap.Error(cerr))
	}
	if err != nil {
		if cerr := l.counters.IncrementCounter(ctx, day, "classify_fallback", 1); cerr != nil {
			zap.L().Debug("classify: counter failed", zap.Error(cerr))
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}
