// Package booking proposes demo slots to leads and confirms the one they pick.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/config"
	"github.com/sells-group/prospect-engine/internal/crm"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/store"
)

// MetricDemosBooked counts confirmed bookings per day.
const MetricDemosBooked = "demos_booked"

// Store is the persistence the agent needs.
type Store interface {
	CreateOffer(ctx context.Context, offer *model.BookingOffer) error
	LatestOffer(ctx context.Context, leadID string, status model.OfferStatus) (*model.BookingOffer, error)
	TransitionOffer(ctx context.Context, id string, from, to model.OfferStatus, token string) error
	CreateBooking(ctx context.Context, booking *model.Booking) error
	UpdateLeadStage(ctx context.Context, id string, stage model.LeadStage) error
	EnqueueNotification(ctx context.Context, n *model.Notification) error
	IncrementCounter(ctx context.Context, day, metric string, delta int) error
}

// Calendar books an event for a confirmed slot. An empty event ID with a
// nil error means no calendar is configured.
type Calendar interface {
	BookEvent(ctx context.Context, slot model.Slot, attendee model.Lead) (string, error)
}

// NoopCalendar books nothing.
type NoopCalendar struct{}

// BookEvent implements Calendar.
func (NoopCalendar) BookEvent(context.Context, model.Slot, model.Lead) (string, error) {
	return "", nil
}

// Agent runs the propose and confirm flow.
type Agent struct {
	store    Store
	calendar Calendar
	mirror   crm.Mirror
	cfg      config.BookingConfig
	loc      *time.Location
	now      func() time.Time
}

// Option configures an Agent.
type Option func(*Agent)

// WithCalendar sets the calendar collaborator.
func WithCalendar(c Calendar) Option { return func(a *Agent) { a.calendar = c } }

// WithMirror sets the CRM mirror used after confirmation.
func WithMirror(m crm.Mirror) Option { return func(a *Agent) { a.mirror = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(a *Agent) { a.now = now } }

// NewAgent builds an agent. cfg.Timezone must be a valid IANA name or empty
// for UTC.
func NewAgent(st Store, cfg config.BookingConfig, opts ...Option) (*Agent, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, eris.Wrapf(err, "booking: load timezone %q", cfg.Timezone)
		}
	}
	a := &Agent{
		store:    st,
		calendar: NoopCalendar{},
		mirror:   crm.Noop{},
		cfg:      cfg,
		loc:      loc,
		now:      time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Propose creates a new offer for lead, replacing any pending one, and
// enqueues the slot list to the lead's channel.
func (a *Agent) Propose(ctx context.Context, lead model.Lead) (*model.BookingOffer, error) {
	slots := ProposeSlots(a.now(), a.cfg.DaysAhead, a.cfg.SlotHours,
		time.Duration(a.cfg.SlotMinutes)*time.Minute, a.loc)
	offer := &model.BookingOffer{
		LeadID:  lead.ID,
		Channel: lead.Channel,
		Slots:   slots,
	}
	if err := a.store.CreateOffer(ctx, offer); err != nil {
		return nil, eris.Wrapf(err, "booking: create offer for lead %s", lead.ID)
	}
	if err := a.notify(ctx, lead, "", offerText(lead, slots)); err != nil {
		return offer, err
	}
	zap.L().Info("booking: slots proposed",
		zap.String("lead_id", lead.ID),
		zap.String("offer_id", offer.ID),
		zap.Int("slots", len(slots)),
	)
	return offer, nil
}

// HandleReply matches text against the lead's latest pending offer and
// confirms the matching slot. Without a pending offer, a confirmation that
// was claimed but never finished is completed instead. It returns false
// when there is no open offer or nothing matches.
func (a *Agent) HandleReply(ctx context.Context, lead model.Lead, text string) (bool, error) {
	offer, err := a.store.LatestOffer(ctx, lead.ID, model.OfferPending)
	if errors.Is(err, store.ErrNotFound) {
		return a.resume(ctx, lead, text)
	}
	if err != nil {
		return false, eris.Wrapf(err, "booking: pending offer for lead %s", lead.ID)
	}
	slot, ok := MatchSlot(offer.Slots, text)
	if !ok {
		return false, nil
	}
	if _, err := a.Confirm(ctx, lead, offer, slot); err != nil {
		return false, err
	}
	return true, nil
}

// resume completes the lead's confirming offer with the slot it was claimed
// for, provided the reply still refers to one of its slots.
func (a *Agent) resume(ctx context.Context, lead model.Lead, text string) (bool, error) {
	offer, err := a.store.LatestOffer(ctx, lead.ID, model.OfferConfirming)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "booking: confirming offer for lead %s", lead.ID)
	}
	if _, ok := MatchSlot(offer.Slots, text); !ok {
		return false, nil
	}
	slot, ok := offer.SlotByToken(offer.SelectedToken)
	if !ok {
		return false, eris.Errorf("booking: offer %s has no slot %q", offer.ID, offer.SelectedToken)
	}
	zap.L().Info("booking: resuming confirmation",
		zap.String("lead_id", lead.ID),
		zap.String("offer_id", offer.ID),
		zap.String("token", slot.Token),
	)
	if _, err := a.complete(ctx, lead, offer, slot, ""); err != nil {
		return false, err
	}
	return true, nil
}

// Confirm books slot for lead. The offer moves pending → confirming before
// any side effect; a second caller racing on the same offer gets
// store.ErrConflict.
func (a *Agent) Confirm(ctx context.Context, lead model.Lead, offer *model.BookingOffer, slot model.Slot) (*model.Booking, error) {
	if err := a.store.TransitionOffer(ctx, offer.ID, model.OfferPending, model.OfferConfirming, slot.Token); err != nil {
		return nil, eris.Wrap(err, "booking: claim offer")
	}

	eventID, err := a.calendar.BookEvent(ctx, slot, lead)
	if err != nil {
		// The slot is still ours; the booking row records it without an event.
		zap.L().Warn("booking: calendar event failed",
			zap.String("lead_id", lead.ID), zap.String("offer_id", offer.ID), zap.Error(err))
	}
	return a.complete(ctx, lead, offer, slot, eventID)
}

// complete runs the steps after a claim. Each step tolerates having already
// run, and the offer only becomes confirmed once all of them succeed.
func (a *Agent) complete(ctx context.Context, lead model.Lead, offer *model.BookingOffer, slot model.Slot, eventID string) (*model.Booking, error) {
	log := zap.L().With(zap.String("lead_id", lead.ID), zap.String("offer_id", offer.ID))

	b := &model.Booking{LeadID: lead.ID, OfferID: offer.ID, Slot: slot, EventID: eventID}
	if err := a.store.CreateBooking(ctx, b); err != nil && !errors.Is(err, store.ErrConflict) {
		return nil, eris.Wrap(err, "booking: create booking")
	}

	if lead.Stage != model.StageDemoBooked {
		if err := a.store.UpdateLeadStage(ctx, lead.ID, model.StageDemoBooked); err != nil {
			return b, eris.Wrap(err, "booking: update lead stage")
		}
		lead.Stage = model.StageDemoBooked
		lead.UpdatedAt = a.now().UTC()
	}

	if err := a.mirror.MirrorLead(ctx, lead, model.IntentBookDemo); err != nil {
		log.Warn("booking: crm mirror failed", zap.Error(err))
	}
	confirmation := fmt.Sprintf("You're booked for %s. See you then!", slot.Label)
	if err := a.notify(ctx, lead, "booking-confirmed:"+offer.ID, confirmation); err != nil {
		return b, err
	}

	if err := a.store.TransitionOffer(ctx, offer.ID, model.OfferConfirming, model.OfferConfirmed, ""); err != nil {
		return b, eris.Wrap(err, "booking: confirm offer")
	}
	if err := a.store.IncrementCounter(ctx, model.DayKey(a.now()), MetricDemosBooked, 1); err != nil {
		log.Warn("booking: increment counter failed", zap.Error(err))
	}

	log.Info("booking: demo booked", zap.String("token", slot.Token), zap.Time("start", slot.Start))
	return b, nil
}

// notify enqueues text for the lead. A non-empty id makes the enqueue
// idempotent.
func (a *Agent) notify(ctx context.Context, lead model.Lead, id, text string) error {
	if lead.Recipient == "" {
		zap.L().Warn("booking: lead has no recipient, notification dropped", zap.String("lead_id", lead.ID))
		return nil
	}
	n := &model.Notification{
		ID:        id,
		Channel:   lead.Channel,
		LeadID:    lead.ID,
		Recipient: lead.Recipient,
		Payload:   text,
	}
	return eris.Wrapf(a.store.EnqueueNotification(ctx, n), "booking: enqueue notification for lead %s", lead.ID)
}

func offerText(lead model.Lead, slots []model.Slot) string {
	var sb strings.Builder
	if first := firstName(lead.Name); first != "" {
		sb.WriteString("Hi " + first + ", ")
	}
	sb.WriteString("here are a few times for a quick demo. Reply with the number that suits you:\n")
	for _, s := range slots {
		fmt.Fprintf(&sb, "%s) %s\n", s.Token, s.Label)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func firstName(name string) string {
	if f := strings.Fields(name); len(f) > 0 {
		return f[0]
	}
	return ""
}

// MatchSlot finds the slot a reply refers to. An exact token match wins;
// otherwise the reply is compared with each label, either containing the
// other, case-insensitively.
func MatchSlot(slots []model.Slot, text string) (model.Slot, bool) {
	reply := strings.TrimFunc(strings.TrimSpace(text), func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	if reply == "" {
		return model.Slot{}, false
	}
	if isDigits(reply) {
		for _, s := range slots {
			if s.Token == reply {
				return s, true
			}
		}
		return model.Slot{}, false
	}

	lower := strings.ToLower(reply)
	for _, s := range slots {
		label := strings.ToLower(s.Label)
		if label == "" {
			continue
		}
		if strings.Contains(lower, label) || (len(lower) >= 3 && strings.Contains(label, lower)) {
			return s, true
		}
	}
	return model.Slot{}, false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
