// Package conversion turns classified replies into lead state: it closes
// uninterested prospects, upserts leads, and hands them to booking or
// qualification.
package conversion

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/classify"
	"github.com/sells-group/prospect-engine/internal/crm"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/scorer"
	"github.com/sells-group/prospect-engine/internal/store"
)

// NegativeSentiment is the sentiment at or below which a reply closes the
// prospect regardless of intent.
const NegativeSentiment = -0.4

// Analytics counter names.
const (
	MetricLeadsConverted = "leads_converted"
	metricRepliesPrefix  = "replies:"
)

// ErrInvalidReply is returned for replies that identify neither a prospect
// nor a lead.
var ErrInvalidReply = eris.New("conversion: reply needs a prospect or lead id")

// Action is what the engine did with a reply.
type Action string

const (
	ActionNotInterested Action = "not_interested"
	ActionBooked        Action = "booked"
	ActionProposed      Action = "proposed"
	ActionQualifying    Action = "qualifying"
	ActionQualified     Action = "qualified"
)

// Store is the persistence the engine needs.
type Store interface {
	QualifyStore
	GetProspect(ctx context.Context, id string) (*model.Prospect, error)
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	ApplyConversion(ctx context.Context, tx store.ConversionTx) error
	IncrementCounter(ctx context.Context, day, metric string, delta int) error
}

// Booker confirms or proposes demo slots.
type Booker interface {
	HandleReply(ctx context.Context, lead model.Lead, text string) (bool, error)
	Propose(ctx context.Context, lead model.Lead) (*model.BookingOffer, error)
}

// Reply is one message from a prospect or lead. ProspectID wins when set and
// the lead shares its ID; otherwise LeadID names the lead directly.
type Reply struct {
	ProspectID string        `json:"prospect_id,omitempty"`
	LeadID     string        `json:"lead_id,omitempty"`
	Name       string        `json:"name,omitempty"`
	Email      string        `json:"email,omitempty"`
	Phone      string        `json:"phone,omitempty"`
	Company    string        `json:"company,omitempty"`
	ProfileURL string        `json:"profile_url,omitempty"`
	Channel    model.Channel `json:"channel,omitempty"`
	Recipient  string        `json:"recipient,omitempty"`
	Text       string        `json:"text"`
	ReceivedAt time.Time     `json:"received_at,omitempty"`
}

// Outcome reports the result of one reply.
type Outcome struct {
	Classification model.Classification `json:"classification"`
	Action         Action               `json:"action"`
	ProspectStatus model.ProspectStatus `json:"prospect_status,omitempty"`
	Lead           *model.Lead          `json:"lead,omitempty"`
	Offer          *model.BookingOffer  `json:"offer,omitempty"`
}

// Engine runs the reply state machine.
type Engine struct {
	store          Store
	classifier     classify.Classifier
	booker         Booker
	qualifier      *Qualifier
	mirror         crm.Mirror
	alertRecipient string
	now            func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMirror sets the CRM mirror run after each committed conversion.
func WithMirror(m crm.Mirror) Option { return func(e *Engine) { e.mirror = m } }

// WithAlertRecipient routes the internal new-lead alert. Empty disables it.
func WithAlertRecipient(r string) Option { return func(e *Engine) { e.alertRecipient = r } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine creates an Engine.
func NewEngine(st Store, cl classify.Classifier, booker Booker, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		classifier: cl,
		booker:     booker,
		qualifier:  NewQualifier(st),
		mirror:     crm.Noop{},
		now:        time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// HandleReply classifies r.Text and applies the result.
func (e *Engine) HandleReply(ctx context.Context, r Reply) (*Outcome, error) {
	return e.Apply(ctx, r, e.classifier.Classify(ctx, r.Text))
}

// Apply runs the state machine for an already classified reply. The lead
// upsert, prospect status and conversion record commit together; CRM
// mirroring, the alert and the booking or qualification follow-up run after
// the commit.
func (e *Engine) Apply(ctx context.Context, r Reply, c model.Classification) (*Outcome, error) {
	leadID := r.ProspectID
	if leadID == "" {
		leadID = r.LeadID
	}
	if leadID == "" {
		return nil, ErrInvalidReply
	}
	now := e.now().UTC()
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = now
	}
	log := zap.L().With(zap.String("lead_id", leadID), zap.String("intent", string(c.Intent)))

	var prospect *model.Prospect
	if r.ProspectID != "" {
		p, err := e.store.GetProspect(ctx, r.ProspectID)
		if err != nil {
			return nil, eris.Wrapf(err, "conversion: load prospect %s", r.ProspectID)
		}
		prospect = p
	}
	existing, err := e.store.GetLead(ctx, leadID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(err, "conversion: load lead %s", leadID)
	}

	record := model.ConversionRecord{
		ProspectID: r.ProspectID,
		Intent:     c.Intent,
		Sentiment:  c.Sentiment,
		Text:       r.Text,
		CreatedAt:  now,
	}
	out := &Outcome{Classification: c}

	if c.Intent == model.IntentNoInterest || c.Sentiment <= NegativeSentiment {
		if existing != nil {
			record.LeadID = existing.ID
		}
		tx := store.ConversionTx{ProspectID: r.ProspectID, ReplyAt: r.ReceivedAt, Record: record}
		if r.ProspectID != "" {
			tx.ProspectStatus = model.ProspectNotInterested
		}
		if err := e.store.ApplyConversion(ctx, tx); err != nil {
			return nil, eris.Wrap(err, "conversion: close prospect")
		}
		e.count(ctx, metricRepliesPrefix+string(c.Intent))
		log.Info("conversion: not interested", zap.Float64("sentiment", c.Sentiment))
		out.Action = ActionNotInterested
		out.ProspectStatus = tx.ProspectStatus
		out.Lead = existing
		return out, nil
	}

	lead := mergeLead(leadID, existing, prospect, r)
	lead.LastMessage = r.Text
	lead.Sentiment = c.Sentiment
	lead.SetScore(scorer.LeadScore(lead, c))
	if lead.Stage == "" {
		lead.Stage = model.StageNew
	}
	needsQualifying := len(Prompts(lead)) > 0
	switch {
	case c.Intent == model.IntentBookDemo:
		lead.Stage = lead.Stage.Advance(model.StageDemoRequested)
	case !needsQualifying:
		lead.Stage = lead.Stage.Advance(model.StageQualified)
	}

	record.LeadID = lead.ID
	tx := store.ConversionTx{Lead: &lead, ProspectID: r.ProspectID, ReplyAt: r.ReceivedAt, Record: record}
	if r.ProspectID != "" {
		tx.ProspectStatus = model.ProspectConverted
	}
	if err := e.store.ApplyConversion(ctx, tx); err != nil {
		return nil, eris.Wrapf(err, "conversion: apply for lead %s", lead.ID)
	}
	out.Lead = &lead
	out.ProspectStatus = tx.ProspectStatus

	e.count(ctx, metricRepliesPrefix+string(c.Intent))
	if existing == nil {
		e.count(ctx, MetricLeadsConverted)
		e.alert(ctx, lead, c)
	}
	if err := e.mirror.MirrorLead(ctx, lead, c.Intent); err != nil {
		log.Warn("conversion: crm mirror failed", zap.Error(err))
	}

	if c.Intent == model.IntentBookDemo {
		booked, err := e.booker.HandleReply(ctx, lead, r.Text)
		if err != nil {
			return out, eris.Wrapf(err, "conversion: booking reply for lead %s", lead.ID)
		}
		if booked {
			lead.Stage = model.StageDemoBooked
			out.Action = ActionBooked
			return out, nil
		}
		offer, err := e.booker.Propose(ctx, lead)
		if err != nil {
			return out, eris.Wrapf(err, "conversion: propose slots for lead %s", lead.ID)
		}
		out.Action = ActionProposed
		out.Offer = offer
		return out, nil
	}

	if !needsQualifying {
		out.Action = ActionQualified
		return out, nil
	}
	if _, err := e.qualifier.Start(ctx, lead); err != nil {
		return out, err
	}
	out.Action = ActionQualifying
	log.Info("conversion: qualification started", zap.Int("score", lead.Score))
	return out, nil
}

// mergeLead overlays the reply and prospect details on the existing lead.
// Known values are never cleared by an empty one.
func mergeLead(id string, existing *model.Lead, p *model.Prospect, r Reply) model.Lead {
	var l model.Lead
	if existing != nil {
		l = *existing
	}
	l.ID = id
	if p != nil {
		l.ProspectID = p.ID
		fill(&l.Name, p.Name)
		fill(&l.Company, p.Company)
		fill(&l.Email, p.Email)
		fill(&l.Phone, p.Phone)
		fill(&l.ProfileURL, p.ProfileURL)
		if l.Channel == "" {
			l.Channel = p.Channel
		}
		if rcpt, ok := p.Recipient(); ok {
			fill(&l.Recipient, rcpt)
		}
	}
	override(&l.Name, r.Name)
	override(&l.Company, r.Company)
	override(&l.Email, r.Email)
	override(&l.Phone, r.Phone)
	override(&l.ProfileURL, r.ProfileURL)
	if r.Channel != "" {
		l.Channel = r.Channel
	}
	override(&l.Recipient, r.Recipient)
	if l.Recipient == "" {
		if rcpt, ok := model.ResolveRecipient(l.Channel, l.Email, l.Phone, l.ProfileURL); ok {
			l.Recipient = rcpt
		}
	}
	return l
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = strings.TrimSpace(v)
	}
}

func override(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func (e *Engine) count(ctx context.Context, metric string) {
	if err := e.store.IncrementCounter(ctx, model.DayKey(e.now()), metric, 1); err != nil {
		zap.L().Warn("conversion: increment counter failed", zap.String("metric", metric), zap.Error(err))
	}
}

type leadAlert struct {
	Event     string  `json:"event"`
	LeadID    string  `json:"lead_id"`
	Name      string  `json:"name,omitempty"`
	Company   string  `json:"company,omitempty"`
	Channel   string  `json:"channel"`
	Intent    string  `json:"intent"`
	Score     int     `json:"score"`
	Tier      string  `json:"tier"`
	Sentiment float64 `json:"sentiment"`
}

// alert enqueues the internal new-lead notification.
func (e *Engine) alert(ctx context.Context, lead model.Lead, c model.Classification) {
	if e.alertRecipient == "" {
		return
	}
	payload, err := json.Marshal(leadAlert{
		Event:     "lead_converted",
		LeadID:    lead.ID,
		Name:      lead.Name,
		Company:   lead.Company,
		Channel:   string(lead.Channel),
		Intent:    string(c.Intent),
		Score:     lead.Score,
		Tier:      string(lead.Tier),
		Sentiment: c.Sentiment,
	})
	if err != nil {
		zap.L().Warn("conversion: marshal alert", zap.Error(err))
		return
	}
	n := &model.Notification{
		Channel:   model.ChannelAlert,
		LeadID:    lead.ID,
		Recipient: e.alertRecipient,
		Payload:   string(payload),
	}
	if err := e.store.EnqueueNotification(ctx, n); err != nil {
		zap.L().Warn("conversion: enqueue alert failed", zap.String("lead_id", lead.ID), zap.Error(err))
	}
}
