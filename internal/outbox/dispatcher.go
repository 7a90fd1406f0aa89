// Package outbox delivers queued notifications at least once.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/config"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/monitoring"
	"github.com/sells-group/prospect-engine/internal/resilience"
	"github.com/sells-group/prospect-engine/internal/store"
)

// MetricDeadLettered counts notifications that exhausted their attempts.
const MetricDeadLettered = "outbox_dead_lettered"

const (
	defaultBatch      = 25
	defaultInterval   = 15 * time.Second
	defaultStaleAfter = 10 * time.Minute
)

// Store is the persistence the dispatcher needs.
type Store interface {
	ClaimNotifications(ctx context.Context, limit int) ([]model.Notification, error)
	MarkNotificationSent(ctx context.Context, id string) error
	MarkNotificationFailed(ctx context.Context, id, lastErr string, maxAttempts int) (model.NotificationStatus, error)
	RequeueStaleNotifications(ctx context.Context, olderThan time.Time) (int, error)
	IncrementCounter(ctx context.Context, day, metric string, delta int) error
}

// Sender delivers a message on a channel. *channel.Registry implements it.
type Sender interface {
	Send(ctx context.Context, ch model.Channel, recipient, text string) error
}

// enabler is implemented by senders that know when a channel is switched off.
type enabler interface {
	Enabled(ch model.Channel) bool
}

// MetricDropped prefixes the daily counter of notifications accepted by a
// disabled channel.
const MetricDropped = "outbox_dropped:"

// TickResult summarizes one poll.
type TickResult struct {
	Requeued     int
	Claimed      int
	Sent         int
	Retrying     int
	DeadLettered int
}

// Dispatcher polls the outbox and delivers pending notifications.
type Dispatcher struct {
	store       Store
	sender      Sender
	batch       int
	maxAttempts int
	interval    time.Duration
	staleAfter  time.Duration
	metrics     *monitoring.Metrics
	now         func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records outbox_dispatch_total samples.
func WithMetrics(m *monitoring.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// WithStaleAfter sets how long a row may sit in sending before it is
// returned to pending.
func WithStaleAfter(after time.Duration) Option {
	return func(d *Dispatcher) {
		if after > 0 {
			d.staleAfter = after
		}
	}
}

// NewDispatcher creates a Dispatcher from the outbox settings.
func NewDispatcher(st Store, sender Sender, cfg config.OutboxConfig, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:       st,
		sender:      sender,
		batch:       cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		interval:    time.Duration(cfg.PollIntervalSecs) * time.Second,
		staleAfter:  defaultStaleAfter,
		now:         time.Now,
	}
	if d.batch <= 0 {
		d.batch = defaultBatch
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = model.MaxNotificationAttempts
	}
	if d.interval <= 0 {
		d.interval = defaultInterval
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run polls until ctx is cancelled. Tick errors are logged and the loop
// continues.
func (d *Dispatcher) Run(ctx context.Context) error {
	zap.L().Info("outbox: dispatcher started", zap.Duration("interval", d.interval), zap.Int("batch", d.batch))
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.Tick(ctx); err != nil && ctx.Err() == nil {
			zap.L().Error("outbox: tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			zap.L().Info("outbox: dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick requeues stale rows, then claims and delivers one batch.
func (d *Dispatcher) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult

	n, err := d.store.RequeueStaleNotifications(ctx, d.now().Add(-d.staleAfter))
	if err != nil {
		return res, eris.Wrap(err, "outbox: requeue stale")
	}
	if n > 0 {
		zap.L().Warn("outbox: requeued stale notifications", zap.Int("count", n))
	}
	res.Requeued = n

	claimed, err := d.store.ClaimNotifications(ctx, d.batch)
	if err != nil {
		return res, eris.Wrap(err, "outbox: claim")
	}
	res.Claimed = len(claimed)

	for _, note := range claimed {
		switch d.deliver(ctx, note) {
		case model.NotificationSent:
			res.Sent++
		case model.NotificationFailed:
			res.DeadLettered++
		case model.NotificationPending:
			res.Retrying++
		}
	}
	if res.Claimed > 0 {
		zap.L().Info("outbox: tick complete",
			zap.Int("claimed", res.Claimed),
			zap.Int("sent", res.Sent),
			zap.Int("retrying", res.Retrying),
			zap.Int("dead_lettered", res.DeadLettered),
		)
	}
	return res, nil
}

// deliver sends one claimed row and records the outcome. It returns the
// row's resulting status, or "" when the status write failed.
func (d *Dispatcher) deliver(ctx context.Context, n model.Notification) model.NotificationStatus {
	log := zap.L().With(
		zap.String("notification_id", n.ID),
		zap.String("channel", string(n.Channel)),
		zap.String("lead_id", n.LeadID),
	)

	sendErr := d.sender.Send(ctx, n.Channel, n.Recipient, n.Payload)
	if sendErr == nil {
		if e, ok := d.sender.(enabler); ok && !e.Enabled(n.Channel) {
			d.metrics.OutboxResult(string(n.Channel), "dropped")
			log.Warn("outbox: channel disabled, notification dropped")
			if err := d.store.IncrementCounter(ctx, model.DayKey(d.now()), MetricDropped+string(n.Channel), 1); err != nil {
				log.Warn("outbox: increment counter", zap.Error(err))
			}
		} else {
			d.metrics.OutboxResult(string(n.Channel), "sent")
		}
		if err := d.store.MarkNotificationSent(ctx, n.ID); err != nil {
			// Delivered but not recorded: a later requeue may send it again.
			if errors.Is(err, store.ErrConflict) {
				log.Warn("outbox: notification changed state during send", zap.Error(err))
			} else {
				log.Error("outbox: mark sent", zap.Error(err))
			}
			return ""
		}
		return model.NotificationSent
	}

	status, err := d.store.MarkNotificationFailed(ctx, n.ID, sendErr.Error(), d.maxAttempts)
	if err != nil {
		log.Error("outbox: mark failed", zap.NamedError("send_error", sendErr), zap.Error(err))
		return ""
	}
	kind := resilience.Classify(sendErr)
	if status == model.NotificationFailed {
		d.metrics.OutboxResult(string(n.Channel), "dead_letter")
		log.Error("outbox: notification dead-lettered",
			zap.Int("attempts", n.Attempts+1),
			zap.String("error_kind", kind),
			zap.Error(sendErr),
		)
		if err := d.store.IncrementCounter(ctx, model.DayKey(d.now()), MetricDeadLettered, 1); err != nil {
			log.Warn("outbox: increment counter", zap.Error(err))
		}
		return status
	}
	d.metrics.OutboxResult(string(n.Channel), "retry")
	log.Warn("outbox: delivery failed, will retry",
		zap.Int("attempts", n.Attempts+1),
		zap.String("error_kind", kind),
		zap.Error(sendErr),
	)
	return status
}
