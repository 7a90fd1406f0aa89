package model

import "time"

// OutreachStatus marks whether an outreach row is a first touch or a reply.
type OutreachStatus string

const (
	OutreachSent  OutreachStatus = "sent"
	OutreachReply OutreachStatus = "reply"
)

// OutreachMessage is an immutable record of one first-touch send. Rows with
// status=sent form the ledger used for per-channel daily caps.
type OutreachMessage struct {
	ID         string         `json:"id"`
	ProspectID string         `json:"prospect_id"`
	Channel    Channel        `json:"channel"`
	Text       string         `json:"text"`
	SentAt     time.Time      `json:"sent_at"`
	Status     OutreachStatus `json:"status"`
}

// RunSummary is the observability record persisted once per outreach run.
type RunSummary struct {
	ID           string          `json:"id"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Candidates   int             `json:"candidates"`
	PoolSize     int             `json:"pool_size"`
	Sent         int             `json:"sent"`
	// Dropped is the part of Sent swallowed by disabled channels.
	Dropped      int             `json:"dropped"`
	Skipped      int             `json:"skipped"`
	Errors       []string        `json:"errors,omitempty"`
	Caps         map[Channel]int `json:"caps"`
	Remaining    map[Channel]int `json:"remaining"`
	SentByChan   map[Channel]int `json:"sent_by_channel,omitempty"`
	LimitReached bool            `json:"limit_reached"`
}

// Lease is a named run lock. Released leases are deleted, so an expired row
// means its holder stopped without releasing it.
type Lease struct {
	Name      string    `json:"name"`
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the lease lapsed before now.
func (l Lease) Expired(now time.Time) bool { return l.ExpiresAt.Before(now) }

// StartOfUTCDay truncates t to midnight UTC.
func StartOfUTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayKey formats t as the UTC calendar day used by analytics counters.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
