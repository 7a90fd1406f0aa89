package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-engine/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = eris.New("store: not found")
	// ErrConflict is returned when a compare-and-swap write finds the row in
	// an unexpected state.
	ErrConflict = eris.New("store: conflict")
)

// ConversionTx groups the writes of one classified reply. ApplyConversion
// commits all of them or none.
type ConversionTx struct {
	// Lead is upserted by ID. Nil when the reply only closes the prospect.
	Lead           *model.Lead
	ProspectID     string
	ProspectStatus model.ProspectStatus
	ReplyAt        time.Time
	Record         model.ConversionRecord
}

// Store defines the persistence interface for the prospect and lead engine.
type Store interface {
	// Prospects
	InsertProspects(ctx context.Context, prospects []model.Prospect) (int, error)
	ExistingDedupKeys(ctx context.Context, keys []string) (map[string]bool, error)
	ListProspectsByStatus(ctx context.Context, status model.ProspectStatus, limit int) ([]model.Prospect, error)
	GetProspect(ctx context.Context, id string) (*model.Prospect, error)
	FindProspectByContact(ctx context.Context, contact string) (*model.Prospect, error)
	SkipProspect(ctx context.Context, id, reason string) error

	// Outreach ledger
	RecordOutreach(ctx context.Context, msg model.OutreachMessage) error
	CountSentSince(ctx context.Context, since time.Time) (map[model.Channel]int, error)
	SaveRunSummary(ctx context.Context, summary model.RunSummary) error
	ListRunSummaries(ctx context.Context, limit int) ([]model.RunSummary, error)

	// Leases
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error
	ListLeases(ctx context.Context) ([]model.Lease, error)

	// Leads
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	ApplyConversion(ctx context.Context, tx ConversionTx) error
	UpdateLeadStage(ctx context.Context, id string, stage model.LeadStage) error

	// Booking
	CreateOffer(ctx context.Context, offer *model.BookingOffer) error
	LatestOffer(ctx context.Context, leadID string, status model.OfferStatus) (*model.BookingOffer, error)
	TransitionOffer(ctx context.Context, id string, from, to model.OfferStatus, token string) error
	CreateBooking(ctx context.Context, booking *model.Booking) error

	// Qualification
	CreateQualificationSession(ctx context.Context, session *model.QualificationSession) error

	// Notification outbox
	EnqueueNotification(ctx context.Context, n *model.Notification) error
	ClaimNotifications(ctx context.Context, limit int) ([]model.Notification, error)
	MarkNotificationSent(ctx context.Context, id string) error
	MarkNotificationFailed(ctx context.Context, id, lastErr string, maxAttempts int) (model.NotificationStatus, error)
	RequeueStaleNotifications(ctx context.Context, olderThan time.Time) (int, error)
	OutboxStats(ctx context.Context) (model.OutboxStats, error)

	// Inbound log
	ReserveInbound(ctx context.Context, msg *model.InboundMessage) (*model.InboundMessage, bool, error)
	ReclaimInbound(ctx context.Context, id string, failedBefore time.Time) (bool, error)
	UpdateInboundStatus(ctx context.Context, id string, status model.InboundStatus, errMsg string) error

	// Analytics
	IncrementCounter(ctx context.Context, day, metric string, delta int) error
	GetCounters(ctx context.Context, day string) (map[string]int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
