package outreach

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/resilience"
	"github.com/sells-group/prospect-engine/pkg/anthropic"
)

// Per-channel message length limits in characters, footer included.
const (
	smsLimit      = 320
	linkedInLimit = 300
	defaultLimit  = 1200
)

// ChannelLimit returns the maximum message length for ch.
func ChannelLimit(ch model.Channel) int {
	switch ch {
	case model.ChannelSMS:
		return smsLimit
	case model.ChannelLinkedIn:
		return linkedInLimit
	default:
		return defaultLimit
	}
}

// Composer writes the first-touch message for a prospect. Implementations
// always return usable text.
type Composer interface {
	Compose(ctx context.Context, p model.Prospect) string
}

// TemplateComposer fills a fixed template.
type TemplateComposer struct {
	SenderName string
	Product    string
}

// Compose implements Composer.
func (t TemplateComposer) Compose(_ context.Context, p model.Prospect) string {
	greeting := "Hi there"
	if f := strings.Fields(p.Name); len(f) > 0 {
		greeting = "Hi " + f[0]
	}
	about := "your team"
	if p.Company != "" {
		about = p.Company
	}
	product := t.Product
	if product == "" {
		product = "our platform"
	}
	msg := fmt.Sprintf("%s, I came across %s and thought %s could help", greeting, about, product)
	if p.Industry != "" {
		msg += " " + strings.ToLower(p.Industry) + " teams like yours"
	}
	msg += " win more business. Would you be open to a quick chat this week?"
	if t.SenderName != "" {
		msg += "\n\n" + t.SenderName
	}
	return msg
}

const composePrompt = `You write short, friendly first-touch B2B outreach messages.
Write in plain text with no subject line, no placeholders and no links.
Mention the prospect's company or role when known and end with one clear question.
Stay under the character limit you are given.`

// LLMComposer writes messages with a language model and falls back to a
// template on any failure.
type LLMComposer struct {
	ai         anthropic.Client
	model      string
	caller     *resilience.Caller
	fallback   Composer
	senderName string
	product    string
}

// NewLLMComposer creates an LLMComposer. caller may be nil.
func NewLLMComposer(ai anthropic.Client, modelName string, caller *resilience.Caller, fallback TemplateComposer) *LLMComposer {
	return &LLMComposer{
		ai:         ai,
		model:      modelName,
		caller:     caller,
		fallback:   fallback,
		senderName: fallback.SenderName,
		product:    fallback.Product,
	}
}

type composeInput struct {
	Name      string `json:"name,omitempty"`
	Title     string `json:"title,omitempty"`
	Company   string `json:"company,omitempty"`
	Industry  string `json:"industry,omitempty"`
	Location  string `json:"location,omitempty"`
	Summary   string `json:"company_summary,omitempty"`
	Channel   string `json:"channel"`
	MaxChars  int    `json:"max_chars"`
	Product   string `json:"product,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// Compose implements Composer.
func (c *LLMComposer) Compose(ctx context.Context, p model.Prospect) string {
	limit := ChannelLimit(p.Channel)
	in, err := json.Marshal(composeInput{
		Name: p.Name, Title: p.Title, Company: p.Company, Industry: p.Industry, Location: p.Location,
		Summary: p.CompanySummary, Channel: string(p.Channel), MaxChars: limit - 80,
		Product: c.product, Signature: c.senderName,
	})
	if err != nil {
		return c.fallback.Compose(ctx, p)
	}

	resp, err := resilience.Call(ctx, c.caller, "anthropic", "compose", func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return c.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     c.model,
			MaxTokens: 512,
			System:    anthropic.CachedSystem(composePrompt),
			Messages:  []anthropic.Message{{Role: "user", Content: string(in)}},
		})
	})
	if err != nil {
		zap.L().Warn("outreach: compose failed, using template", zap.String("prospect_id", p.ID), zap.Error(err))
		return c.fallback.Compose(ctx, p)
	}
	resp.Usage.LogCost(c.model, "compose")

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		zap.L().Warn("outreach: empty composition, using template", zap.String("prospect_id", p.ID))
		return c.fallback.Compose(ctx, p)
	}
	return text
}

// Fit appends footer to body and trims body so the result stays within
// limit characters. The footer itself is never cut: when the body already
// carries it and is too long, the footer is lifted out and re-appended once.
func Fit(body, footer string, limit int) string {
	msg := AppendFooter(body, footer)
	if utf8.RuneCountInString(msg) <= limit {
		return msg
	}
	footer = strings.TrimSpace(footer)
	if footer == "" {
		return truncate(body, limit)
	}
	body = strings.TrimSpace(removeFold(body, footer))
	room := limit - utf8.RuneCountInString(footer) - 2
	if cut := truncate(body, room); cut != "" {
		return cut + "\n\n" + footer
	}
	return footer
}

// removeFold deletes every case-insensitive occurrence of sub from s.
func removeFold(s, sub string) string {
	lowerSub := strings.ToLower(sub)
	for {
		lower := strings.ToLower(s)
		i := strings.Index(lower, lowerSub)
		if i < 0 || len(lower) != len(s) {
			return s
		}
		s = s[:i] + s[i+len(lowerSub):]
	}
}

// truncate cuts s to at most n runes, preferring a word boundary.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := string(r[:n])
	if i := strings.LastIndexAny(cut, " \n"); i > n/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " \n,;:")
}
