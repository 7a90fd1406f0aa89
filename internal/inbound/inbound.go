// Package inbound ingests webhook events idempotently and feeds them to the
// reply state machine.
package inbound

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/classify"
	"github.com/sells-group/prospect-engine/internal/config"
	"github.com/sells-group/prospect-engine/internal/conversion"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/monitoring"
	"github.com/sells-group/prospect-engine/internal/store"
)

// DefaultRetryDelay is how long a failed event is protected from
// reprocessing.
const DefaultRetryDelay = 5 * time.Minute

// ErrUnsupportedPlatform is returned for events from a platform with no
// reply channel.
var ErrUnsupportedPlatform = eris.New("inbound: unsupported platform")

// Decision is what the gateway did with one event.
type Decision string

const (
	DecisionSelf        Decision = "self"
	DecisionDuplicate   Decision = "duplicate"
	DecisionRetryWindow Decision = "retry_window"
	DecisionProcessed   Decision = "processed"
	DecisionFailed      Decision = "failed"
)

// Event is one normalized webhook event.
type Event struct {
	Platform   string    `json:"platform"`
	Type       string    `json:"type" validate:"required"`
	ExternalID string    `json:"id"`
	SenderID   string    `json:"sender_id" validate:"required"`
	SenderName string    `json:"sender_name"`
	Text       string    `json:"text" validate:"required"`
	ReceivedAt time.Time `json:"received_at"`
}

// DedupeKey returns platform_type_externalId, or "" when the event carries
// no external id and must be treated as unique.
func (e Event) DedupeKey() string {
	if strings.TrimSpace(e.ExternalID) == "" {
		return ""
	}
	return strings.ToLower(e.Platform) + "_" + strings.ToLower(e.Type) + "_" + e.ExternalID
}

var platformChannels = map[string]model.Channel{
	"instagram": model.ChannelInstagram,
	"whatsapp":  model.ChannelWhatsApp,
	"sms":       model.ChannelSMS,
	"linkedin":  model.ChannelLinkedIn,
	"email":     model.ChannelEmail,
}

// ChannelFor maps a webhook platform to the channel replies go out on.
func ChannelFor(platform string) (model.Channel, bool) {
	ch, ok := platformChannels[strings.ToLower(platform)]
	return ch, ok
}

// Store is the persistence the gateway needs.
type Store interface {
	ReserveInbound(ctx context.Context, msg *model.InboundMessage) (*model.InboundMessage, bool, error)
	ReclaimInbound(ctx context.Context, id string, failedBefore time.Time) (bool, error)
	UpdateInboundStatus(ctx context.Context, id string, status model.InboundStatus, errMsg string) error
	FindProspectByContact(ctx context.Context, contact string) (*model.Prospect, error)
	EnqueueNotification(ctx context.Context, n *model.Notification) error
}

// Converter applies a classified reply.
type Converter interface {
	Apply(ctx context.Context, r conversion.Reply, c model.Classification) (*conversion.Outcome, error)
}

// Gateway reserves, classifies and converts webhook events.
type Gateway struct {
	store      Store
	classifier classify.Classifier
	converter  Converter
	accountIDs map[string]string
	retryDelay time.Duration
	autoReply  string
	metrics    *monitoring.Metrics
	now        func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMetrics records one inbound_events_total sample per event.
func WithMetrics(m *monitoring.Metrics) Option { return func(g *Gateway) { g.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(g *Gateway) { g.now = now } }

// NewGateway creates a Gateway from the inbound settings.
func NewGateway(st Store, cl classify.Classifier, conv Converter, cfg config.InboundConfig, opts ...Option) *Gateway {
	delay := time.Duration(cfg.RetryDelaySecs) * time.Second
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	ids := make(map[string]string, len(cfg.AccountIDs))
	for k, v := range cfg.AccountIDs {
		ids[strings.ToLower(k)] = v
	}
	g := &Gateway{
		store:      st,
		classifier: cl,
		converter:  conv,
		accountIDs: ids,
		retryDelay: delay,
		autoReply:  cfg.AutoReply,
		now:        time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Process handles one event end to end. Processing failures are recorded on
// the inbound row and reported as DecisionFailed with the error.
func (g *Gateway) Process(ctx context.Context, ev Event) (Decision, error) {
	d, err := g.process(ctx, ev)
	g.metrics.InboundEvent(strings.ToLower(ev.Platform), string(d))
	return d, err
}

func (g *Gateway) process(ctx context.Context, ev Event) (Decision, error) {
	platform := strings.ToLower(ev.Platform)
	ch, ok := ChannelFor(platform)
	if !ok {
		return DecisionFailed, eris.Wrapf(ErrUnsupportedPlatform, "inbound: %q", ev.Platform)
	}
	if acct := g.accountIDs[platform]; acct != "" && ev.SenderID == acct {
		return DecisionSelf, nil
	}

	now := g.now()
	key := ev.DedupeKey()
	log := zap.L().With(zap.String("platform", platform), zap.String("dedupe_key", key))

	msg := &model.InboundMessage{
		ID:         key,
		Platform:   platform,
		Type:       ev.Type,
		ExternalID: ev.ExternalID,
		SenderID:   ev.SenderID,
		Text:       ev.Text,
	}
	existing, created, err := g.store.ReserveInbound(ctx, msg)
	if err != nil {
		return DecisionFailed, eris.Wrap(err, "inbound: reserve")
	}
	if !created {
		if d, skip := ShouldSkipExisting(existing, now, g.retryDelay); skip {
			log.Debug("inbound: skipping existing event", zap.String("status", string(existing.Status)))
			return d, nil
		}
		reclaimed, err := g.store.ReclaimInbound(ctx, existing.ID, now.Add(-g.retryDelay))
		if err != nil {
			return DecisionFailed, eris.Wrap(err, "inbound: reclaim")
		}
		if !reclaimed {
			return DecisionDuplicate, nil
		}
		log.Info("inbound: reprocessing failed event")
		msg = existing
	}

	if err := g.handle(ctx, ev, ch, now); err != nil {
		log.Error("inbound: processing failed", zap.Error(err))
		if uerr := g.store.UpdateInboundStatus(ctx, msg.ID, model.InboundFailed, err.Error()); uerr != nil {
			log.Error("inbound: record failure", zap.Error(uerr))
		}
		return DecisionFailed, err
	}
	if err := g.store.UpdateInboundStatus(ctx, msg.ID, model.InboundSent, ""); err != nil {
		return DecisionProcessed, eris.Wrap(err, "inbound: mark sent")
	}
	return DecisionProcessed, nil
}

// ShouldSkipExisting decides whether a redelivered event is left alone.
// Sent, pending and skipped rows are always skipped. Failed rows are skipped
// until delay has passed since the failure.
func ShouldSkipExisting(existing *model.InboundMessage, now time.Time, delay time.Duration) (Decision, bool) {
	switch existing.Status {
	case model.InboundFailed:
		if existing.FailedAt == nil {
			return "", false
		}
		if now.Sub(*existing.FailedAt) < delay {
			return DecisionRetryWindow, true
		}
		return "", false
	default:
		return DecisionDuplicate, true
	}
}

func (g *Gateway) handle(ctx context.Context, ev Event, ch model.Channel, now time.Time) error {
	c := g.classifier.Classify(ctx, ev.Text)

	reply := conversion.Reply{
		Name:       ev.SenderName,
		Channel:    ch,
		Recipient:  ev.SenderID,
		Text:       ev.Text,
		ReceivedAt: now,
	}
	switch ch {
	case model.ChannelEmail:
		reply.Email = ev.SenderID
	case model.ChannelWhatsApp, model.ChannelSMS:
		reply.Phone = ev.SenderID
	}

	p, err := g.store.FindProspectByContact(ctx, ev.SenderID)
	switch {
	case err == nil:
		reply.ProspectID = p.ID
	case errors.Is(err, store.ErrNotFound):
		reply.LeadID = LeadID(ev.Platform, ev.SenderID)
	default:
		return eris.Wrap(err, "inbound: find prospect")
	}

	outcome, err := g.converter.Apply(ctx, reply, c)
	if err != nil {
		return err
	}

	// Closed conversations, by intent or by sentiment, get no auto-reply.
	if g.autoReply == "" || outcome == nil || outcome.Action == conversion.ActionNotInterested {
		return nil
	}
	n := &model.Notification{
		Channel:   ch,
		LeadID:    reply.ProspectID + reply.LeadID,
		Recipient: ev.SenderID,
		Payload:   g.autoReply,
	}
	return eris.Wrap(g.store.EnqueueNotification(ctx, n), "inbound: enqueue auto-reply")
}

// LeadID derives a stable lead ID for a sender with no matching prospect, so
// repeated messages from the same handle update one lead.
func LeadID(platform, sender string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.ToLower(platform)+":"+strings.TrimSpace(sender))).String()
}
