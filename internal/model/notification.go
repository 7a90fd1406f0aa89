package model

import "time"

// NotificationStatus is the outbox delivery state.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSending NotificationStatus = "sending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// MaxNotificationAttempts is the number of failed deliveries after which an
// outbox entry is dead-lettered.
const MaxNotificationAttempts = 3

// Notification is an outbox entry awaiting delivery.
type Notification struct {
	ID        string             `json:"id"`
	Channel   Channel            `json:"channel"`
	LeadID    string             `json:"lead_id,omitempty"`
	Recipient string             `json:"recipient"`
	Payload   string             `json:"payload"`
	Status    NotificationStatus `json:"status"`
	Attempts  int                `json:"attempts"`
	LastError string             `json:"last_error,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// OutboxStats summarizes undelivered outbox entries.
type OutboxStats struct {
	Pending       int        `json:"pending"`
	Sending       int        `json:"sending"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}

// InboundStatus is the processing state of an inbound event.
type InboundStatus string

const (
	InboundPending InboundStatus = "pending"
	InboundSent    InboundStatus = "sent"
	InboundFailed  InboundStatus = "failed"
	InboundSkipped InboundStatus = "skipped"
)

// InboundMessage is the log row for one webhook event. ID is the dedupe key
// when one can be derived.
type InboundMessage struct {
	ID         string        `json:"id"`
	Platform   string        `json:"platform"`
	Type       string        `json:"type"`
	ExternalID string        `json:"external_id,omitempty"`
	SenderID   string        `json:"sender_id"`
	Text       string        `json:"text"`
	Status     InboundStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
	FailedAt   *time.Time    `json:"failed_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}
