package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/config"
)

const (
	defaultCheckInterval = 5 * time.Minute
	defaultAlertCooldown = time.Hour
)

// Checker collects snapshots on an interval and pages on threshold breaches.
// An alert type that was sent recently is held back until its cooldown
// passes, so a backlog that persists across checks pages once per window.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	cooldown := time.Duration(cfg.AlertCooldownSecs) * time.Second
	if cooldown < 0 {
		cooldown = 0
	} else if cooldown == 0 {
		cooldown = defaultAlertCooldown
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		cooldown:  cooldown,
		now:       time.Now,
		lastSent:  make(map[AlertType]time.Time),
	}
}

// Run checks once immediately, then on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: checker started",
		zap.Duration("interval", c.interval),
		zap.Duration("cooldown", c.cooldown),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check collects one snapshot and sends the alerts it triggers that are not
// cooling down. It returns the number sent.
func (c *Checker) Check(ctx context.Context) int {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("monitoring: collect failed", zap.Error(err))
		return 0
	}
	for _, l := range snap.StaleLeases {
		log.Warn("monitoring: lease expired without release",
			zap.String("lease", l.Name),
			zap.String("holder", l.Holder),
			zap.Time("expired_at", l.ExpiresAt),
		)
	}

	due := c.due(c.alerter.Evaluate(snap))
	if len(due) == 0 {
		log.Debug("monitoring: nothing to send",
			zap.Int("outbox_pending", snap.Outbox.Pending),
			zap.Duration("oldest_pending_age", snap.OldestPendingAge),
		)
		return 0
	}

	sent := 0
	for _, alert := range due {
		if c.alerter.SendAlerts(ctx, []Alert{alert}) == 1 {
			c.markSent(alert.Type)
			sent++
		}
	}
	log.Info("monitoring: alerts sent", zap.Int("due", len(due)), zap.Int("sent", sent))
	return sent
}

// due drops alerts whose type was sent within the cooldown.
func (c *Checker) due(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := alerts[:0:0]
	for _, a := range alerts {
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < c.cooldown {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (c *Checker) markSent(t AlertType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSent[t] = c.now()
}
