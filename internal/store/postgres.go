package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-engine/internal/db"
	"github.com/sells-group/prospect-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
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
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_contacted_at TIMESTAMPTZ,
	last_reply_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_prospects_status_score ON prospects(status, score DESC, created_at);
CREATE INDEX IF NOT EXISTS idx_prospects_phone ON prospects(phone);

CREATE TABLE IF NOT EXISTS outreach_messages (
	id          TEXT PRIMARY KEY,
	prospect_id TEXT NOT NULL,
	channel     TEXT NOT NULL,
	text        TEXT NOT NULL,
	sent_at     TIMESTAMPTZ NOT NULL,
	status      TEXT NOT NULL DEFAULT 'sent'
);

CREATE INDEX IF NOT EXISTS idx_outreach_status_sent_at ON outreach_messages(status, sent_at);

CREATE TABLE IF NOT EXISTS outreach_runs (
	id            TEXT PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL,
	limit_reached BOOLEAN NOT NULL DEFAULT false,
	summary       JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS leases (
	name       TEXT PRIMARY KEY,
	holder     TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
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
	sentiment    DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS conversions (
	id          TEXT PRIMARY KEY,
	lead_id     TEXT NOT NULL DEFAULT '',
	prospect_id TEXT NOT NULL DEFAULT '',
	intent      TEXT NOT NULL,
	sentiment   DOUBLE PRECISION NOT NULL DEFAULT 0,
	text        TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS booking_offers (
	id             TEXT PRIMARY KEY,
	lead_id        TEXT NOT NULL,
	channel        TEXT NOT NULL,
	slots          JSONB NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	selected_token TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_booking_offers_one_pending ON booking_offers(lead_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_booking_offers_lead ON booking_offers(lead_id, created_at DESC);

CREATE TABLE IF NOT EXISTS bookings (
	id         TEXT PRIMARY KEY,
	lead_id    TEXT NOT NULL,
	offer_id   TEXT NOT NULL UNIQUE,
	slot       JSONB NOT NULL,
	event_id   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS qualification_sessions (
	id         TEXT PRIMARY KEY,
	lead_id    TEXT NOT NULL,
	prompts    JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
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
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
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
	failed_at   TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS analytics_daily (
	day    TEXT NOT NULL,
	metric TEXT NOT NULL,
	value  BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (day, metric)
);
`

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Prospects ---

const prospectColumns = `id, name, company, title, industry, location, email, phone, profile_url,
	domain, company_size, company_summary, channel, source, score, status, skip_reason,
	dedup_key, created_at, last_contacted_at, last_reply_at`

var prospectInsertColumns = []string{
	"id", "name", "company", "title", "industry", "location", "email", "phone", "profile_url",
	"domain", "company_size", "company_summary", "channel", "source", "score", "status",
	"skip_reason", "dedup_key", "created_at",
}

// InsertProspects writes prospects, silently skipping any whose dedup key is
// already stored. Returns the number of rows written.
func (s *PostgresStore) InsertProspects(ctx context.Context, prospects []model.Prospect) (int, error) {
	rows := make([][]any, 0, len(prospects))
	for i := range prospects {
		p := prepareProspect(&prospects[i])
		rows = append(rows, []any{
			p.ID, p.Name, p.Company, p.Title, p.Industry, p.Location, p.Email, p.Phone, p.ProfileURL,
			p.Domain, p.CompanySize, p.CompanySummary, string(p.Channel), p.Source, p.Score,
			string(p.Status), p.SkipReason, nullString(p.DedupKey), p.CreatedAt,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "prospects",
		Columns:      prospectInsertColumns,
		ConflictKeys: []string{"dedup_key"},
		DoNothing:    true,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert prospects")
	}
	return int(n), nil
}

func (s *PostgresStore) ExistingDedupKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	found := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return found, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT dedup_key FROM prospects WHERE dedup_key = ANY($1)`,
		keys,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: existing dedup keys")
	}
	defer rows.Close()

	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dedup key")
		}
		found[k] = true
	}
	return found, eris.Wrap(rows.Err(), "postgres: existing dedup keys iterate")
}

func (s *PostgresStore) ListProspectsByStatus(ctx context.Context, status model.ProspectStatus, limit int) ([]model.Prospect, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+prospectColumns+` FROM prospects WHERE status = $1
		 ORDER BY score DESC, created_at ASC, id ASC LIMIT $2`,
		string(status), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list prospects")
	}
	defer rows.Close()

	var out []model.Prospect
	for rows.Next() {
		p, err := scanPgProspect(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list prospects iterate")
}

func (s *PostgresStore) GetProspect(ctx context.Context, id string) (*model.Prospect, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+prospectColumns+` FROM prospects WHERE id = $1`, id)
	p, err := scanPgProspect(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get prospect %s", id)
	}
	return p, nil
}

// FindProspectByContact matches a sender handle against dedup keys and phone numbers.
func (s *PostgresStore) FindProspectByContact(ctx context.Context, contact string) (*model.Prospect, error) {
	key := model.DedupKey(contact, "")
	if key == "" {
		return nil, ErrNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+prospectColumns+` FROM prospects
		 WHERE dedup_key = $1 OR dedup_key = $2 OR (phone <> '' AND phone = $3)
		 ORDER BY created_at ASC LIMIT 1`,
		key, model.CanonicalProfileURL(contact), contact,
	)
	p, err := scanPgProspect(row)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find prospect by contact")
	}
	return p, nil
}

func (s *PostgresStore) SkipProspect(ctx context.Context, id, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE prospects SET status = $1, skip_reason = $2 WHERE id = $3 AND status = $4`,
		string(model.ProspectSkipped), reason, id, string(model.ProspectNew),
	)
	return eris.Wrapf(err, "postgres: skip prospect %s", id)
}

// --- Outreach ledger ---

// RecordOutreach appends the sent message to the ledger and flips the
// prospect to contacted in the same transaction.
func (s *PostgresStore) RecordOutreach(ctx context.Context, msg model.OutreachMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Status == "" {
		msg.Status = model.OutreachSent
	}
	sentAt := msg.SentAt.UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: record outreach: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO outreach_messages (id, prospect_id, channel, text, sent_at, status) VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ProspectID, string(msg.Channel), msg.Text, sentAt, string(msg.Status),
	); err != nil {
		return eris.Wrap(err, "postgres: insert outreach message")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE prospects SET status = $1, last_contacted_at = $2 WHERE id = $3`,
		string(model.ProspectContacted), sentAt, msg.ProspectID,
	); err != nil {
		return eris.Wrapf(err, "postgres: mark prospect contacted %s", msg.ProspectID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: record outreach: commit")
}

func (s *PostgresStore) CountSentSince(ctx context.Context, since time.Time) (map[model.Channel]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT channel, COUNT(*) FROM outreach_messages WHERE status = $1 AND sent_at >= $2 GROUP BY channel`,
		string(model.OutreachSent), since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count sent")
	}
	defer rows.Close()

	counts := make(map[model.Channel]int)
	for rows.Next() {
		var ch string
		var n int64
		if err := rows.Scan(&ch, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sent count")
		}
		counts[model.Channel(ch)] = int(n)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count sent iterate")
}

func (s *PostgresStore) SaveRunSummary(ctx context.Context, summary model.RunSummary) error {
	if summary.ID == "" {
		summary.ID = uuid.New().String()
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run summary")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO outreach_runs (id, started_at, finished_at, limit_reached, summary) VALUES ($1, $2, $3, $4, $5)`,
		summary.ID, summary.StartedAt.UTC(), summary.FinishedAt.UTC(), summary.LimitReached, data,
	)
	return eris.Wrap(err, "postgres: save run summary")
}

func (s *PostgresStore) ListRunSummaries(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT summary FROM outreach_runs ORDER BY started_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list run summaries")
	}
	defer rows.Close()

	var out []model.RunSummary
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run summary")
		}
		var rs model.RunSummary
		if err := json.Unmarshal(data, &rs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run summary")
		}
		out = append(out, rs)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list run summaries iterate")
}

// --- Leases ---

// AcquireLease takes the named lease when it is free, expired, or already
// held by holder. Returns false when another holder owns a live lease.
func (s *PostgresStore) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO leases (name, holder, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		 WHERE leases.expires_at < $4 OR leases.holder = EXCLUDED.holder`,
		name, holder, now.Add(ttl), now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: acquire lease %s", name)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReleaseLease(ctx context.Context, name, holder string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM leases WHERE name = $1 AND holder = $2`, name, holder)
	return eris.Wrapf(err, "postgres: release lease %s", name)
}

func (s *PostgresStore) ListLeases(ctx context.Context) ([]model.Lease, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, holder, expires_at FROM leases ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leases")
	}
	defer rows.Close()

	var out []model.Lease
	for rows.Next() {
		var l model.Lease
		if err := rows.Scan(&l.Name, &l.Holder, &l.ExpiresAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lease")
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list leases iterate")
}

// --- Leads ---

const leadColumns = `id, prospect_id, name, company, email, phone, profile_url, channel, stage,
	score, tier, recipient, last_message, sentiment, created_at, updated_at`

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	var l model.Lead
	var channel, stage, tier string
	err := s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id).Scan(
		&l.ID, &l.ProspectID, &l.Name, &l.Company, &l.Email, &l.Phone, &l.ProfileURL, &channel, &stage,
		&l.Score, &tier, &l.Recipient, &l.LastMessage, &l.Sentiment, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	l.Channel = model.Channel(channel)
	l.Stage = model.LeadStage(stage)
	l.Tier = model.Tier(tier)
	return &l, nil
}

// ApplyConversion commits the lead upsert, the prospect status flip and the
// conversion record in one transaction.
func (s *PostgresStore) ApplyConversion(ctx context.Context, ct ConversionTx) error {
	now := time.Now().UTC()
	rec := ct.Record
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: conversion: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if l := ct.Lead; l != nil {
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
		l.UpdatedAt = now
		if _, err := tx.Exec(ctx,
			`INSERT INTO leads (`+leadColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			 ON CONFLICT (id) DO UPDATE SET
				prospect_id = EXCLUDED.prospect_id, name = EXCLUDED.name, company = EXCLUDED.company,
				email = EXCLUDED.email, phone = EXCLUDED.phone, profile_url = EXCLUDED.profile_url,
				channel = EXCLUDED.channel, stage = EXCLUDED.stage, score = EXCLUDED.score,
				tier = EXCLUDED.tier, recipient = EXCLUDED.recipient, last_message = EXCLUDED.last_message,
				sentiment = EXCLUDED.sentiment, updated_at = EXCLUDED.updated_at`,
			l.ID, l.ProspectID, l.Name, l.Company, l.Email, l.Phone, l.ProfileURL, string(l.Channel), string(l.Stage),
			l.Score, string(l.Tier), l.Recipient, l.LastMessage, l.Sentiment, l.CreatedAt, l.UpdatedAt,
		); err != nil {
			return eris.Wrapf(err, "postgres: upsert lead %s", l.ID)
		}
	}

	if ct.ProspectID != "" {
		replyAt := ct.ReplyAt
		if replyAt.IsZero() {
			replyAt = now
		}
		tag, err := tx.Exec(ctx,
			`UPDATE prospects SET status = $1, last_reply_at = $2 WHERE id = $3`,
			string(ct.ProspectStatus), replyAt.UTC(), ct.ProspectID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: update prospect status %s", ct.ProspectID)
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrNotFound, "postgres: prospect %s", ct.ProspectID)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO conversions (id, lead_id, prospect_id, intent, sentiment, text, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.LeadID, rec.ProspectID, string(rec.Intent), rec.Sentiment, rec.Text, rec.CreatedAt,
	); err != nil {
		return eris.Wrap(err, "postgres: insert conversion record")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: conversion: commit")
}

func (s *PostgresStore) UpdateLeadStage(ctx context.Context, id string, stage model.LeadStage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET stage = $1, updated_at = $2 WHERE id = $3`,
		string(stage), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead stage %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: lead %s", id)
	}
	return nil
}

// --- Booking ---

// CreateOffer expires any pending offer for the lead and inserts the new one.
func (s *PostgresStore) CreateOffer(ctx context.Context, offer *model.BookingOffer) error {
	prepareOffer(offer)
	slots, err := json.Marshal(offer.Slots)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal slots")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: create offer: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`UPDATE booking_offers SET status = $1 WHERE lead_id = $2 AND status = $3`,
		string(model.OfferExpired), offer.LeadID, string(model.OfferPending),
	); err != nil {
		return eris.Wrapf(err, "postgres: expire offers for lead %s", offer.LeadID)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO booking_offers (id, lead_id, channel, slots, status, selected_token, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		offer.ID, offer.LeadID, string(offer.Channel), slots, string(offer.Status), offer.SelectedToken, offer.CreatedAt,
	); err != nil {
		return eris.Wrap(err, "postgres: insert offer")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: create offer: commit")
}

// LatestOffer returns the newest offer for the lead in the given status.
func (s *PostgresStore) LatestOffer(ctx context.Context, leadID string, status model.OfferStatus) (*model.BookingOffer, error) {
	var o model.BookingOffer
	var channel, got string
	var slots []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, lead_id, channel, slots, status, selected_token, created_at FROM booking_offers
		 WHERE lead_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT 1`,
		leadID, string(status),
	).Scan(&o.ID, &o.LeadID, &channel, &slots, &got, &o.SelectedToken, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: latest %s offer %s", status, leadID)
	}
	if err := json.Unmarshal(slots, &o.Slots); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal slots")
	}
	o.Channel = model.Channel(channel)
	o.Status = model.OfferStatus(got)
	return &o, nil
}

// TransitionOffer moves an offer from one status to another. Returns
// ErrConflict when the offer is not in the from state.
func (s *PostgresStore) TransitionOffer(ctx context.Context, id string, from, to model.OfferStatus, token string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE booking_offers SET status = $1, selected_token = CASE WHEN $2 = '' THEN selected_token ELSE $2 END
		 WHERE id = $3 AND status = $4`,
		string(to), token, id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition offer %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrConflict, "postgres: offer %s not %s", id, from)
	}
	return nil
}

func (s *PostgresStore) CreateBooking(ctx context.Context, b *model.Booking) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	slot, err := json.Marshal(b.Slot)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal slot")
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO bookings (id, lead_id, offer_id, slot, event_id, created_at) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (offer_id) DO NOTHING`,
		b.ID, b.LeadID, b.OfferID, slot, b.EventID, b.CreatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert booking")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrConflict, "postgres: booking for offer %s exists", b.OfferID)
	}
	return nil
}

// --- Qualification ---

func (s *PostgresStore) CreateQualificationSession(ctx context.Context, qs *model.QualificationSession) error {
	prepareSession(qs)
	prompts, err := json.Marshal(qs.Prompts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal prompts")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO qualification_sessions (id, lead_id, prompts, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		qs.ID, qs.LeadID, prompts, string(qs.Status), qs.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert qualification session")
}

// --- Notification outbox ---

const notificationColumns = `id, channel, lead_id, recipient, payload, status, attempts, last_error, created_at, updated_at`

// EnqueueNotification inserts n. Re-enqueueing an existing id is a no-op.
func (s *PostgresStore) EnqueueNotification(ctx context.Context, n *model.Notification) error {
	prepareNotification(n)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (`+notificationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO NOTHING`,
		n.ID, string(n.Channel), n.LeadID, n.Recipient, n.Payload, string(n.Status), n.Attempts, n.LastError, n.CreatedAt, n.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: enqueue notification")
}

// ClaimNotifications flips up to limit pending rows to sending and returns
// them oldest first. SKIP LOCKED keeps concurrent dispatchers disjoint.
func (s *PostgresStore) ClaimNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE notifications SET status = $1, updated_at = $2
		 WHERE id IN (
			SELECT id FROM notifications WHERE status = $3
			ORDER BY created_at ASC LIMIT $4 FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+notificationColumns,
		string(model.NotificationSending), time.Now().UTC(), string(model.NotificationPending), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim notifications")
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		var channel, status string
		if err := rows.Scan(&n.ID, &channel, &n.LeadID, &n.Recipient, &n.Payload, &status,
			&n.Attempts, &n.LastError, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan notification")
		}
		n.Channel = model.Channel(channel)
		n.Status = model.NotificationStatus(status)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: claim notifications iterate")
	}
	sortNotifications(out)
	return out, nil
}

func (s *PostgresStore) MarkNotificationSent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET status = $1, last_error = '', updated_at = $2 WHERE id = $3 AND status = $4`,
		string(model.NotificationSent), time.Now().UTC(), id, string(model.NotificationSending),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark notification sent %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrConflict, "postgres: notification %s not sending", id)
	}
	return nil
}

// MarkNotificationFailed counts a failed attempt and returns the resulting
// status: pending while attempts remain, failed once maxAttempts is reached.
func (s *PostgresStore) MarkNotificationFailed(ctx context.Context, id, lastErr string, maxAttempts int) (model.NotificationStatus, error) {
	var status string
	err := s.pool.QueryRow(ctx,
		`UPDATE notifications SET
			attempts = attempts + 1,
			last_error = $1,
			updated_at = $2,
			status = CASE WHEN attempts + 1 >= $3 THEN $4 ELSE $5 END
		 WHERE id = $6 AND status = $7
		 RETURNING status`,
		lastErr, time.Now().UTC(), maxAttempts, string(model.NotificationFailed), string(model.NotificationPending),
		id, string(model.NotificationSending),
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", eris.Wrapf(ErrConflict, "postgres: notification %s not sending", id)
		}
		return "", eris.Wrapf(err, "postgres: mark notification failed %s", id)
	}
	return model.NotificationStatus(status), nil
}

// RequeueStaleNotifications returns rows stuck in sending since before
// olderThan to pending, e.g. after a dispatcher crash.
func (s *PostgresStore) RequeueStaleNotifications(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET status = $1, updated_at = $2 WHERE status = $3 AND updated_at < $4`,
		string(model.NotificationPending), time.Now().UTC(), string(model.NotificationSending), olderThan.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: requeue stale notifications")
	}
	return int(tag.RowsAffected()), nil
}

// OutboxStats counts pending and sending notifications and finds the oldest
// pending one.
func (s *PostgresStore) OutboxStats(ctx context.Context) (model.OutboxStats, error) {
	var st model.OutboxStats
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM notifications WHERE status IN ($1, $2) GROUP BY status`,
		string(model.NotificationPending), string(model.NotificationSending),
	)
	if err != nil {
		return st, eris.Wrap(err, "postgres: outbox stats")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return st, eris.Wrap(err, "postgres: scan outbox stats")
		}
		switch model.NotificationStatus(status) {
		case model.NotificationPending:
			st.Pending = int(n)
		case model.NotificationSending:
			st.Sending = int(n)
		}
	}
	if err := rows.Err(); err != nil {
		return st, eris.Wrap(err, "postgres: outbox stats iterate")
	}

	var oldest time.Time
	err = s.pool.QueryRow(ctx,
		`SELECT created_at FROM notifications WHERE status = $1 ORDER BY created_at ASC LIMIT 1`,
		string(model.NotificationPending),
	).Scan(&oldest)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return st, eris.Wrap(err, "postgres: oldest pending notification")
	default:
		st.OldestPending = &oldest
	}
	return st, nil
}

// --- Inbound log ---

const inboundColumns = `id, platform, type, external_id, sender_id, text, status, error, failed_at, created_at, updated_at`

// ReserveInbound inserts msg unless a row with the same ID exists. When it
// does, the existing row is returned with created=false.
func (s *PostgresStore) ReserveInbound(ctx context.Context, msg *model.InboundMessage) (*model.InboundMessage, bool, error) {
	prepareInbound(msg)
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO messages (`+inboundColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.Platform, msg.Type, msg.ExternalID, msg.SenderID, msg.Text, string(msg.Status),
		msg.Error, msg.FailedAt, msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: reserve inbound %s", msg.ID)
	}
	if tag.RowsAffected() == 1 {
		return msg, true, nil
	}

	var existing model.InboundMessage
	var status string
	err = s.pool.QueryRow(ctx, `SELECT `+inboundColumns+` FROM messages WHERE id = $1`, msg.ID).Scan(
		&existing.ID, &existing.Platform, &existing.Type, &existing.ExternalID, &existing.SenderID,
		&existing.Text, &status, &existing.Error, &existing.FailedAt, &existing.CreatedAt, &existing.UpdatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: read inbound %s", msg.ID)
	}
	existing.Status = model.InboundStatus(status)
	return &existing, false, nil
}

// ReclaimInbound resets a failed row to pending when its failure is older
// than failedBefore. Only one concurrent caller wins.
func (s *PostgresStore) ReclaimInbound(ctx context.Context, id string, failedBefore time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET status = $1, error = '', failed_at = NULL, updated_at = $2
		 WHERE id = $3 AND status = $4 AND failed_at <= $5`,
		string(model.InboundPending), time.Now().UTC(), id, string(model.InboundFailed), failedBefore.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: reclaim inbound %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) UpdateInboundStatus(ctx context.Context, id string, status model.InboundStatus, errMsg string) error {
	now := time.Now().UTC()
	var failedAt *time.Time
	if status == model.InboundFailed {
		failedAt = &now
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE messages SET status = $1, error = $2, failed_at = $3, updated_at = $4 WHERE id = $5`,
		string(status), errMsg, failedAt, now, id,
	)
	return eris.Wrapf(err, "postgres: update inbound status %s", id)
}

// --- Analytics ---

func (s *PostgresStore) IncrementCounter(ctx context.Context, day, metric string, delta int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO analytics_daily (day, metric, value) VALUES ($1, $2, $3)
		 ON CONFLICT (day, metric) DO UPDATE SET value = analytics_daily.value + EXCLUDED.value`,
		day, metric, delta,
	)
	return eris.Wrapf(err, "postgres: increment %s", metric)
}

func (s *PostgresStore) GetCounters(ctx context.Context, day string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT metric, value FROM analytics_daily WHERE day = $1`, day)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get counters")
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var metric string
		var value int64
		if err := rows.Scan(&metric, &value); err != nil {
			return nil, eris.Wrap(err, "postgres: scan counter")
		}
		out[metric] = int(value)
	}
	return out, eris.Wrap(rows.Err(), "postgres: get counters iterate")
}

// helpers

func scanPgProspect(row pgx.Row) (*model.Prospect, error) {
	var p model.Prospect
	var channel, status string
	var dedupKey *string
	err := row.Scan(&p.ID, &p.Name, &p.Company, &p.Title, &p.Industry, &p.Location, &p.Email, &p.Phone,
		&p.ProfileURL, &p.Domain, &p.CompanySize, &p.CompanySummary, &channel, &p.Source, &p.Score,
		&status, &p.SkipReason, &dedupKey, &p.CreatedAt, &p.LastContactedAt, &p.LastReplyAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: scan prospect")
	}
	p.Channel = model.Channel(channel)
	p.Status = model.ProspectStatus(status)
	if dedupKey != nil {
		p.DedupKey = *dedupKey
	}
	return &p, nil
}

func sortNotifications(ns []model.Notification) {
	sort.SliceStable(ns, func(i, j int) bool { return ns[i].CreatedAt.Before(ns[j].CreatedAt) })
}
