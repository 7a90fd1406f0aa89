package model

import "time"

// OfferStatus tracks a booking offer from proposal to confirmation.
type OfferStatus string

const (
	OfferPending    OfferStatus = "pending"
	OfferConfirming OfferStatus = "confirming"
	OfferConfirmed  OfferStatus = "confirmed"
	// OfferExpired marks a pending offer replaced by a newer proposal.
	OfferExpired OfferStatus = "expired"
)

// Slot is one proposed meeting window.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label"`
	Token string    `json:"token"`
}

// BookingOffer is a set of slots proposed to a lead.
type BookingOffer struct {
	ID            string      `json:"id"`
	LeadID        string      `json:"lead_id"`
	Channel       Channel     `json:"channel"`
	Slots         []Slot      `json:"slots"`
	Status        OfferStatus `json:"status"`
	SelectedToken string      `json:"selected_token,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// SlotByToken returns the slot carrying token.
func (o *BookingOffer) SlotByToken(token string) (Slot, bool) {
	for _, s := range o.Slots {
		if s.Token == token {
			return s, true
		}
	}
	return Slot{}, false
}

// Booking is a confirmed meeting.
type Booking struct {
	ID        string    `json:"id"`
	LeadID    string    `json:"lead_id"`
	OfferID   string    `json:"offer_id"`
	Slot      Slot      `json:"slot"`
	EventID   string    `json:"event_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// QualificationStatus tracks whether a lead answered the qualification prompts.
type QualificationStatus string

const (
	QualificationPending  QualificationStatus = "pending"
	QualificationAnswered QualificationStatus = "answered"
)

// QualificationSession holds the prompts sent to a lead that is missing
// required details or scored below the qualification threshold.
type QualificationSession struct {
	ID        string              `json:"id"`
	LeadID    string              `json:"lead_id"`
	Prompts   []string            `json:"prompts"`
	Status    QualificationStatus `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
}
