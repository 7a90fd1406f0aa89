package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/prospect-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single writer connection serializes transactions the way the
	// database file does anyway and avoids SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS prospects (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	company           TEXT NOT NULL DEFAULT '',
	title             TEXT NOT NULL DEFAULT '',
	industry          TEXT NOT NULL DEFAULT '',
	location          TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL DEFAULT '',
	phone             TEXT NOT NULL DEFAULT '',
	profile_url       TEXT NOT NULL DEFAULT '',
	domain            TEXT NOT NULL DEFAULT '',
	company_size      TEXT NOT NULL DEFAULT '',
	company_summary   TEXT NOT NULL DEFAULT '',
	channel           TEXT NOT NULL,
	source            TEXT NOT NULL DEFAULT '',
	score             INTEGER NOT NULL DEFAULT 0 CHECK (score BETWEEN 0 AND 100),
	status            TEXT NOT NULL DEFAULT 'new',
	skip_reason       TEXT NOT NULL DEFAULT '',
	dedup_key         TEXT UNIQUE,
	created_at        DATETIME NOT NULL,
	last_contacted_at DATETIME,
	last_reply_at     DATETIME
);

CREATE INDEX IF NOT EXISTS idx_prospects_status_score ON prospects(status, score DESC, created_at);
CREATE INDEX IF NOT EXISTS idx_prospects_phone ON prospects(phone);

CREATE TABLE IF NOT EXISTS outreach_messages (
	id          TEXT PRIMARY KEY,
	prospect_id TEXT NOT NULL,
	channel     TEXT NOT NULL,
	text        TEXT NOT NULL,
	sent_at     DATETIME NOT NULL,
	status      TEXT NOT NULL DEFAULT 'sent'
);

CREATE INDEX IF NOT EXISTS idx_outreach_status_sent_at ON outreach_messages(status, sent_at);

CREATE TABLE IF NOT EXISTS outreach_runs (
	id            TEXT PRIMARY KEY,
	started_at    DATETIME NOT NULL,
	finished_at   DATETIME NOT NULL,
	limit_reached INTEGER NOT NULL DEFAULT 0,
	summary       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS leases (
	name       TEXT PRIMARY KEY,
	holder     TEXT NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS leads (
	id           TEXT PRIMARY KEY,
	prospect_id  TEXT NOT NULL DEFAULT '',
	name         TEXT NOT NULL DEFAULT '',
	company      TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	profile_url  TEXT NOT NULL DEFAULT '',
	channel      TEXT NOT NULL,
	stage        TEXT NOT NULL DEFAULT 'New',
	score        INTEGER NOT NULL DEFAULT 0 CHECK (score BETWEEN 0 AND 100),
	tier         TEXT NOT NULL DEFAULT 'cold',
	recipient    TEXT NOT NULL DEFAULT '',
	last_message TEXT NOT NULL DEFAULT '',
	sentiment    REAL NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS conversions (
	id          TEXT PRIMARY KEY,
	lead_id     TEXT NOT NULL DEFAULT '',
	prospect_id TEXT NOT NULL DEFAULT '',
	intent      TEXT NOT NULL,
	sentiment   REAL NOT NULL DEFAULT 0,
	text        TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS booking_offers (
	id             TEXT PRIMARY KEY,
	lead_id        TEXT NOT NULL,
	channel        TEXT NOT NULL,
	slots          TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	selected_token TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_booking_offers_one_pending ON booking_offers(lead_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_booking_offers_lead ON booking_offers(lead_id, created_at);

CREATE TABLE IF NOT EXISTS bookings (
	id         TEXT PRIMARY KEY,
	lead_id    TEXT NOT NULL,
	offer_id   TEXT NOT NULL UNIQUE,
	slot       TEXT NOT NULL,
	event_id   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS qualification_sessions (
	id         TEXT PRIMARY KEY,
	lead_id    TEXT NOT NULL,
	prompts    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	channel    TEXT NOT NULL,
	lead_id    TEXT NOT NULL DEFAULT '',
	recipient  TEXT NOT NULL,
	payload    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	attempts   INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_status_created ON notifications(status, created_at);

CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	platform    TEXT NOT NULL,
	type        TEXT NOT NULL DEFAULT '',
	external_id TEXT NOT NULL DEFAULT '',
	sender_id   TEXT NOT NULL DEFAULT '',
	text        TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'pending',
	error       TEXT NOT NULL DEFAULT '',
	failed_at   DATETIME,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS analytics_daily (
	day    TEXT NOT NULL,
	metric TEXT NOT NULL,
	value  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (day, metric)
);
`

// Ping checks database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Prospects ---

// InsertProspects writes prospects, silently skipping any whose dedup key is
// already stored. Returns the number of rows written.
func (s *SQLiteStore) InsertProspects(ctx context.Context, prospects []model.Prospect) (int, error) {
	if len(prospects) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert prospects: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO prospects (id, name, company, title, industry, location, email, phone, profile_url,
			domain, company_size, company_summary, channel, source, score, status, skip_reason, dedup_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert prospect")
	}
	defer stmt.Close()

	inserted := 0
	for i := range prospects {
		p := prepareProspect(&prospects[i])
		res, err := stmt.ExecContext(ctx,
			p.ID, p.Name, p.Company, p.Title, p.Industry, p.Location, p.Email, p.Phone, p.ProfileURL,
			p.Domain, p.CompanySize, p.CompanySummary, string(p.Channel), p.Source, p.Score,
			string(p.Status), p.SkipReason, nullString(p.DedupKey), p.CreatedAt.UTC(),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert prospect %s", p.ID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: insert prospects: commit")
	}
	return inserted, nil
}

func (s *SQLiteStore) ExistingDedupKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	found := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return found, nil
	}

	query := `SELECT dedup_key FROM prospects WHERE dedup_key IN (?` + repeatPlaceholders(len(keys)-1) + `)`
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: existing dedup keys")
	}
	defer rows.Close()

	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dedup key")
		}
		found[k] = true
	}
	return found, eris.Wrap(rows.Err(), "sqlite: existing dedup keys iterate")
}

func (s *SQLiteStore) ListProspectsByStatus(ctx context.Context, status model.ProspectStatus, limit int) ([]model.Prospect, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prospectColumns+` FROM prospects WHERE status = ?
		 ORDER BY score DESC, created_at ASC, id ASC LIMIT ?`,
		string(status), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list prospects")
	}
	defer rows.Close()

	var out []model.Prospect
	for rows.Next() {
		p, err := scanProspect(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list prospects iterate")
}

func (s *SQLiteStore) GetProspect(ctx context.Context, id string) (*model.Prospect, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+prospectColumns+` FROM prospects WHERE id = ?`, id)
	p, err := scanProspect(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get prospect %s", id)
	}
	return p, nil
}

// FindProspectByContact matches a sender handle against dedup keys and phone numbers.
func (s *SQLiteStore) FindProspectByContact(ctx context.Context, contact string) (*model.Prospect, error) {
	key := model.DedupKey(contact, "")
	if key == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+prospectColumns+` FROM prospects
		 WHERE dedup_key = ? OR dedup_key = ? OR (phone <> '' AND phone = ?)
		 ORDER BY created_at ASC LIMIT 1`,
		key, model.CanonicalProfileURL(contact), contact,
	)
	p, err := scanProspect(row)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find prospect by contact")
	}
	return p, nil
}

func (s *SQLiteStore) SkipProspect(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE prospects SET status = ?, skip_reason = ? WHERE id = ? AND status = ?`,
		string(model.ProspectSkipped), reason, id, string(model.ProspectNew),
	)
	return eris.Wrapf(err, "sqlite: skip prospect %s", id)
}

// --- Outreach ledger ---

// RecordOutreach appends the sent message to the ledger and flips the
// prospect to contacted in the same transaction.
func (s *SQLiteStore) RecordOutreach(ctx context.Context, msg model.OutreachMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Status == "" {
		msg.Status = model.OutreachSent
	}
	sentAt := msg.SentAt.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: record outreach: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO outreach_messages (id, prospect_id, channel, text, sent_at, status) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ProspectID, string(msg.Channel), msg.Text, sentAt, string(msg.Status),
	); err != nil {
		return eris.Wrap(err, "sqlite: insert outreach message")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE prospects SET status = ?, last_contacted_at = ? WHERE id = ?`,
		string(model.ProspectContacted), sentAt, msg.ProspectID,
	); err != nil {
		return eris.Wrapf(err, "sqlite: mark prospect contacted %s", msg.ProspectID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: record outreach: commit")
}

func (s *SQLiteStore) CountSentSince(ctx context.Context, since time.Time) (map[model.Channel]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel, COUNT(*) FROM outreach_messages WHERE status = ? AND sent_at >= ? GROUP BY channel`,
		string(model.OutreachSent), since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count sent")
	}
	defer rows.Close()

	counts := make(map[model.Channel]int)
	for rows.Next() {
		var ch string
		var n int
		if err := rows.Scan(&ch, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sent count")
		}
		counts[model.Channel(ch)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count sent iterate")
}

func (s *SQLiteStore) SaveRunSummary(ctx context.Context, summary model.RunSummary) error {
	if summary.ID == "" {
		summary.ID = uuid.New().String()
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run summary")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO outreach_runs (id, started_at, finished_at, limit_reached, summary) VALUES (?, ?, ?, ?, ?)`,
		summary.ID, summary.StartedAt.UTC(), summary.FinishedAt.UTC(), summary.LimitReached, string(data),
	)
	return eris.Wrap(err, "sqlite: save run summary")
}

func (s *SQLiteStore) ListRunSummaries(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT summary FROM outreach_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list run summaries")
	}
	defer rows.Close()

	var out []model.RunSummary
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run summary")
		}
		var rs model.RunSummary
		if err := json.Unmarshal([]byte(data), &rs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run summary")
		}
		out = append(out, rs)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list run summaries iterate")
}

// --- Leases ---

// AcquireLease takes the named lease when it is free, expired, or already
// held by holder. Returns false when another holder owns a live lease.
func (s *SQLiteStore) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO leases (name, holder, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		 WHERE leases.expires_at < ? OR leases.holder = excluded.holder`,
		name, holder, now.Add(ttl), now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: acquire lease %s", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) ReleaseLease(ctx context.Context, name, holder string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE name = ? AND holder = ?`, name, holder)
	return eris.Wrapf(err, "sqlite: release lease %s", name)
}

func (s *SQLiteStore) ListLeases(ctx context.Context) ([]model.Lease, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, holder, expires_at FROM leases ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leases")
	}
	defer rows.Close()

	var out []model.Lease
	for rows.Next() {
		var l model.Lease
		if err := rows.Scan(&l.Name, &l.Holder, &l.ExpiresAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lease")
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list leases iterate")
}

// --- Leads ---

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	var l model.Lead
	var channel, stage, tier string
	err := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id).Scan(
		&l.ID, &l.ProspectID, &l.Name, &l.Company, &l.Email, &l.Phone, &l.ProfileURL, &channel, &stage,
		&l.Score, &tier, &l.Recipient, &l.LastMessage, &l.Sentiment, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	l.Channel = model.Channel(channel)
	l.Stage = model.LeadStage(stage)
	l.Tier = model.Tier(tier)
	return &l, nil
}

// ApplyConversion commits the lead upsert, the prospect status flip and the
// conversion record in one transaction.
func (s *SQLiteStore) ApplyConversion(ctx context.Context, ct ConversionTx) error {
	now := time.Now().UTC()
	rec := ct.Record
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: conversion: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if l := ct.Lead; l != nil {
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
		l.UpdatedAt = now
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO leads (`+leadColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
				prospect_id = excluded.prospect_id, name = excluded.name, company = excluded.company,
				email = excluded.email, phone = excluded.phone, profile_url = excluded.profile_url,
				channel = excluded.channel, stage = excluded.stage, score = excluded.score,
				tier = excluded.tier, recipient = excluded.recipient, last_message = excluded.last_message,
				sentiment = excluded.sentiment, updated_at = excluded.updated_at`,
			l.ID, l.ProspectID, l.Name, l.Company, l.Email, l.Phone, l.ProfileURL, string(l.Channel), string(l.Stage),
			l.Score, string(l.Tier), l.Recipient, l.LastMessage, l.Sentiment, l.CreatedAt.UTC(), l.UpdatedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert lead %s", l.ID)
		}
	}

	if ct.ProspectID != "" {
		replyAt := ct.ReplyAt
		if replyAt.IsZero() {
			replyAt = now
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE prospects SET status = ?, last_reply_at = ? WHERE id = ?`,
			string(ct.ProspectStatus), replyAt.UTC(), ct.ProspectID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: update prospect status %s", ct.ProspectID)
		}
		if err := checkRowsAffected(res, "prospect", ct.ProspectID); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversions (id, lead_id, prospect_id, intent, sentiment, text, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.LeadID, rec.ProspectID, string(rec.Intent), rec.Sentiment, rec.Text, rec.CreatedAt.UTC(),
	); err != nil {
		return eris.Wrap(err, "sqlite: insert conversion record")
	}

	return eris.Wrap(tx.Commit(), "sqlite: conversion: commit")
}

func (s *SQLiteStore) UpdateLeadStage(ctx context.Context, id string, stage model.LeadStage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET stage = ?, updated_at = ? WHERE id = ?`,
		string(stage), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead stage %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

// --- Booking ---

// CreateOffer expires any pending offer for the lead and inserts the new one.
func (s *SQLiteStore) CreateOffer(ctx context.Context, offer *model.BookingOffer) error {
	prepareOffer(offer)
	slots, err := json.Marshal(offer.Slots)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal slots")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: create offer: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`UPDATE booking_offers SET status = ? WHERE lead_id = ? AND status = ?`,
		string(model.OfferExpired), offer.LeadID, string(model.OfferPending),
	); err != nil {
		return eris.Wrapf(err, "sqlite: expire offers for lead %s", offer.LeadID)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO booking_offers (id, lead_id, channel, slots, status, selected_token, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		offer.ID, offer.LeadID, string(offer.Channel), string(slots), string(offer.Status), offer.SelectedToken, offer.CreatedAt.UTC(),
	); err != nil {
		return eris.Wrap(err, "sqlite: insert offer")
	}
	return eris.Wrap(tx.Commit(), "sqlite: create offer: commit")
}

// LatestOffer returns the newest offer for the lead in the given status.
func (s *SQLiteStore) LatestOffer(ctx context.Context, leadID string, status model.OfferStatus) (*model.BookingOffer, error) {
	var o model.BookingOffer
	var channel, got, slots string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, lead_id, channel, slots, status, selected_token, created_at FROM booking_offers
		 WHERE lead_id = ? AND status = ? ORDER BY created_at DESC LIMIT 1`,
		leadID, string(status),
	).Scan(&o.ID, &o.LeadID, &channel, &slots, &got, &o.SelectedToken, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest %s offer %s", status, leadID)
	}
	if err := json.Unmarshal([]byte(slots), &o.Slots); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal slots")
	}
	o.Channel = model.Channel(channel)
	o.Status = model.OfferStatus(got)
	return &o, nil
}

// TransitionOffer moves an offer from one status to another. Returns
// ErrConflict when the offer is not in the from state.
func (s *SQLiteStore) TransitionOffer(ctx context.Context, id string, from, to model.OfferStatus, token string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE booking_offers SET status = ?, selected_token = CASE WHEN ? = '' THEN selected_token ELSE ? END
		 WHERE id = ? AND status = ?`,
		string(to), token, token, id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition offer %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrConflict, "sqlite: offer %s not %s", id, from)
	}
	return nil
}

func (s *SQLiteStore) CreateBooking(ctx context.Context, b *model.Booking) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	slot, err := json.Marshal(b.Slot)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal slot")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO bookings (id, lead_id, offer_id, slot, event_id, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (offer_id) DO NOTHING`,
		b.ID, b.LeadID, b.OfferID, string(slot), b.EventID, b.CreatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert booking")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrConflict, "sqlite: booking for offer %s exists", b.OfferID)
	}
	return nil
}

// --- Qualification ---

func (s *SQLiteStore) CreateQualificationSession(ctx context.Context, qs *model.QualificationSession) error {
	prepareSession(qs)
	prompts, err := json.Marshal(qs.Prompts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal prompts")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO qualification_sessions (id, lead_id, prompts, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		qs.ID, qs.LeadID, string(prompts), string(qs.Status), qs.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert qualification session")
}

// --- Notification outbox ---

// EnqueueNotification inserts n. Re-enqueueing an existing id is a no-op.
func (s *SQLiteStore) EnqueueNotification(ctx context.Context, n *model.Notification) error {
	prepareNotification(n)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (`+notificationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		n.ID, string(n.Channel), n.LeadID, n.Recipient, n.Payload, string(n.Status), n.Attempts, n.LastError,
		n.CreatedAt.UTC(), n.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: enqueue notification")
}

// ClaimNotifications flips up to limit pending rows to sending and returns
// them oldest first.
func (s *SQLiteStore) ClaimNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE notifications SET status = ?, updated_at = ?
		 WHERE id IN (SELECT id FROM notifications WHERE status = ? ORDER BY created_at ASC LIMIT ?)
		 RETURNING `+notificationColumns,
		string(model.NotificationSending), time.Now().UTC(), string(model.NotificationPending), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim notifications")
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		var channel, status string
		if err := rows.Scan(&n.ID, &channel, &n.LeadID, &n.Recipient, &n.Payload, &status,
			&n.Attempts, &n.LastError, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan notification")
		}
		n.Channel = model.Channel(channel)
		n.Status = model.NotificationStatus(status)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: claim notifications iterate")
	}
	sortNotifications(out)
	return out, nil
}

func (s *SQLiteStore) MarkNotificationSent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ?, last_error = '', updated_at = ? WHERE id = ? AND status = ?`,
		string(model.NotificationSent), time.Now().UTC(), id, string(model.NotificationSending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark notification sent %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrConflict, "sqlite: notification %s not sending", id)
	}
	return nil
}

// MarkNotificationFailed counts a failed attempt and returns the resulting
// status: pending while attempts remain, failed once maxAttempts is reached.
func (s *SQLiteStore) MarkNotificationFailed(ctx context.Context, id, lastErr string, maxAttempts int) (model.NotificationStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`UPDATE notifications SET
			attempts = attempts + 1,
			last_error = ?,
			updated_at = ?,
			status = CASE WHEN attempts + 1 >= ? THEN ? ELSE ? END
		 WHERE id = ? AND status = ?
		 RETURNING status`,
		lastErr, time.Now().UTC(), maxAttempts, string(model.NotificationFailed), string(model.NotificationPending),
		id, string(model.NotificationSending),
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", eris.Wrapf(ErrConflict, "sqlite: notification %s not sending", id)
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: mark notification failed %s", id)
	}
	return model.NotificationStatus(status), nil
}

// RequeueStaleNotifications returns rows stuck in sending since before
// olderThan to pending.
func (s *SQLiteStore) RequeueStaleNotifications(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ?, updated_at = ? WHERE status = ? AND updated_at < ?`,
		string(model.NotificationPending), time.Now().UTC(), string(model.NotificationSending), olderThan.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: requeue stale notifications")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// OutboxStats counts pending and sending notifications and finds the oldest
// pending one.
func (s *SQLiteStore) OutboxStats(ctx context.Context) (model.OutboxStats, error) {
	var st model.OutboxStats
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM notifications WHERE status IN (?, ?) GROUP BY status`,
		string(model.NotificationPending), string(model.NotificationSending),
	)
	if err != nil {
		return st, eris.Wrap(err, "sqlite: outbox stats")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, eris.Wrap(err, "sqlite: scan outbox stats")
		}
		switch model.NotificationStatus(status) {
		case model.NotificationPending:
			st.Pending = n
		case model.NotificationSending:
			st.Sending = n
		}
	}
	if err := rows.Err(); err != nil {
		return st, eris.Wrap(err, "sqlite: outbox stats iterate")
	}

	var oldest time.Time
	err = s.db.QueryRowContext(ctx,
		`SELECT created_at FROM notifications WHERE status = ? ORDER BY created_at ASC LIMIT 1`,
		string(model.NotificationPending),
	).Scan(&oldest)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return st, eris.Wrap(err, "sqlite: oldest pending notification")
	default:
		st.OldestPending = &oldest
	}
	return st, nil
}

// --- Inbound log ---

// ReserveInbound inserts msg unless a row with the same ID exists. When it
// does, the existing row is returned with created=false.
func (s *SQLiteStore) ReserveInbound(ctx context.Context, msg *model.InboundMessage) (*model.InboundMessage, bool, error) {
	prepareInbound(msg)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (`+inboundColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.Platform, msg.Type, msg.ExternalID, msg.SenderID, msg.Text, string(msg.Status),
		msg.Error, msg.FailedAt, msg.CreatedAt.UTC(), msg.UpdatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: reserve inbound %s", msg.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 1 {
		return msg, true, nil
	}

	var existing model.InboundMessage
	var status string
	var failedAt sql.NullTime
	err = s.db.QueryRowContext(ctx, `SELECT `+inboundColumns+` FROM messages WHERE id = ?`, msg.ID).Scan(
		&existing.ID, &existing.Platform, &existing.Type, &existing.ExternalID, &existing.SenderID,
		&existing.Text, &status, &existing.Error, &failedAt, &existing.CreatedAt, &existing.UpdatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: read inbound %s", msg.ID)
	}
	existing.Status = model.InboundStatus(status)
	if failedAt.Valid {
		t := failedAt.Time.UTC()
		existing.FailedAt = &t
	}
	return &existing, false, nil
}

// ReclaimInbound resets a failed row to pending when its failure is older
// than failedBefore. Only one concurrent caller wins.
func (s *SQLiteStore) ReclaimInbound(ctx context.Context, id string, failedBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, error = '', failed_at = NULL, updated_at = ?
		 WHERE id = ? AND status = ? AND failed_at <= ?`,
		string(model.InboundPending), time.Now().UTC(), id, string(model.InboundFailed), failedBefore.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: reclaim inbound %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) UpdateInboundStatus(ctx context.Context, id string, status model.InboundStatus, errMsg string) error {
	now := time.Now().UTC()
	var failedAt *time.Time
	if status == model.InboundFailed {
		failedAt = &now
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, error = ?, failed_at = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, failedAt, now, id,
	)
	return eris.Wrapf(err, "sqlite: update inbound status %s", id)
}

// --- Analytics ---

func (s *SQLiteStore) IncrementCounter(ctx context.Context, day, metric string, delta int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analytics_daily (day, metric, value) VALUES (?, ?, ?)
		 ON CONFLICT (day, metric) DO UPDATE SET value = analytics_daily.value + excluded.value`,
		day, metric, delta,
	)
	return eris.Wrapf(err, "sqlite: increment %s", metric)
}

func (s *SQLiteStore) GetCounters(ctx context.Context, day string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT metric, value FROM analytics_daily WHERE day = ?`, day)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get counters")
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var metric string
		var value int
		if err := rows.Scan(&metric, &value); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan counter")
		}
		out[metric] = value
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get counters iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanProspect(row scannable) (*model.Prospect, error) {
	var p model.Prospect
	var channel, status string
	var dedupKey sql.NullString
	var lastContacted, lastReply sql.NullTime
	err := row.Scan(&p.ID, &p.Name, &p.Company, &p.Title, &p.Industry, &p.Location, &p.Email, &p.Phone,
		&p.ProfileURL, &p.Domain, &p.CompanySize, &p.CompanySummary, &channel, &p.Source, &p.Score,
		&status, &p.SkipReason, &dedupKey, &p.CreatedAt, &lastContacted, &lastReply)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan prospect")
	}
	p.Channel = model.Channel(channel)
	p.Status = model.ProspectStatus(status)
	p.DedupKey = dedupKey.String
	if lastContacted.Valid {
		t := lastContacted.Time.UTC()
		p.LastContactedAt = &t
	}
	if lastReply.Valid {
		t := lastReply.Time.UTC()
		p.LastReplyAt = &t
	}
	return &p, nil
}

func repeatPlaceholders(n int) string {
	out := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		out = append(out, ", ?"...)
	}
	return string(out)
}
