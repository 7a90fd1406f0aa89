package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/prospect-engine/internal/model"
)

// prepare* fill generated fields shared by both backends before a write.

func prepareProspect(p *model.Prospect) *model.Prospect {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = model.ProspectNew
	}
	if p.DedupKey == "" {
		p.DedupKey = model.DedupKey(p.Email, p.ProfileURL)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return p
}

func prepareOffer(o *model.BookingOffer) {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.Status == "" {
		o.Status = model.OfferPending
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
}

func prepareSession(qs *model.QualificationSession) {
	if qs.ID == "" {
		qs.ID = uuid.New().String()
	}
	if qs.Status == "" {
		qs.Status = model.QualificationPending
	}
	if qs.CreatedAt.IsZero() {
		qs.CreatedAt = time.Now().UTC()
	}
}

func prepareNotification(n *model.Notification) {
	now := time.Now().UTC()
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Status == "" {
		n.Status = model.NotificationPending
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
}

func prepareInbound(m *model.InboundMessage) {
	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Status == "" {
		m.Status = model.InboundPending
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
}

// nullString maps the empty string to NULL so dedup-exempt rows never
// collide on the unique dedup_key index.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
