package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertOutreachErrorRate AlertType = "outreach_error_rate"
	AlertOutboxDeadLetters AlertType = "outbox_dead_letters"
	AlertClassifierDown    AlertType = "classifier_degraded"
	AlertOutboxBacklog     AlertType = "outbox_backlog"
	AlertStaleLease        AlertType = "stale_lease"
)

// minAttemptsForRate keeps tiny runs from tripping the error-rate alert.
const minAttemptsForRate = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AlertSender delivers an alert body to a recipient.
type AlertSender interface {
	Send(ctx context.Context, recipient, text string) error
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and publishes alerts when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	sender AlertSender
}

// NewAlerter creates a new Alerter.
func NewAlerter(cfg config.MonitoringConfig, sender AlertSender) *Alerter {
	return &Alerter{cfg: cfg, sender: sender}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if run := snap.LastRun; run != nil {
		attempted := run.Sent + len(run.Errors)
		if attempted >= minAttemptsForRate && a.cfg.ErrorRateThreshold > 0 && snap.LastRunRate > a.cfg.ErrorRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertOutreachErrorRate,
				Severity: "high",
				Message: fmt.Sprintf(
					"Outreach error rate %.1f%% exceeds threshold %.1f%% (%d failed / %d attempted)",
					snap.LastRunRate*100, a.cfg.ErrorRateThreshold*100, len(run.Errors), attempted,
				),
				Details: map[string]any{
					"run_id":    run.ID,
					"errors":    len(run.Errors),
					"attempted": attempted,
				},
				Timestamp: now,
			})
		}
	}

	if n := snap.Counters["outbox_dead_lettered"]; n > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertOutboxDeadLetters,
			Severity:  "medium",
			Message:   fmt.Sprintf("%d notification(s) dead-lettered on %s", n, snap.Day),
			Details:   map[string]any{"count": n},
			Timestamp: now,
		})
	}

	fallbacks, total := snap.Counters["classify_fallback"], snap.Counters["classify_total"]
	if total >= minAttemptsForRate && fallbacks*2 > total {
		alerts = append(alerts, Alert{
			Type:      AlertClassifierDown,
			Severity:  "medium",
			Message:   fmt.Sprintf("Classifier fell back to defaults for %d of %d replies today", fallbacks, total),
			Details:   map[string]any{"fallbacks": fallbacks, "total": total},
			Timestamp: now,
		})
	}

	if alert, ok := a.outboxBacklog(snap, now); ok {
		alerts = append(alerts, alert)
	}

	if len(snap.StaleLeases) > 0 {
		names := make([]string, 0, len(snap.StaleLeases))
		for _, l := range snap.StaleLeases {
			names = append(names, l.Name)
		}
		alerts = append(alerts, Alert{
			Type:     AlertStaleLease,
			Severity: "medium",
			Message: fmt.Sprintf("%d lease(s) expired without release: %s",
				len(names), strings.Join(names, ", ")),
			Details:   map[string]any{"leases": names, "holder": snap.StaleLeases[0].Holder},
			Timestamp: now,
		})
	}

	return alerts
}

// outboxBacklog fires when too many notifications wait or the oldest has
// waited too long. Either threshold is off when zero.
func (a *Alerter) outboxBacklog(snap *MetricsSnapshot, now time.Time) (Alert, bool) {
	maxAge := time.Duration(a.cfg.OutboxMaxAgeSecs) * time.Second
	tooMany := a.cfg.OutboxBacklogMax > 0 && snap.Outbox.Pending >= a.cfg.OutboxBacklogMax
	tooOld := maxAge > 0 && snap.OldestPendingAge > maxAge
	if !tooMany && !tooOld {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertOutboxBacklog,
		Severity: "high",
		Message: fmt.Sprintf("Outbox backlog: %d pending, %d sending, oldest waiting %s",
			snap.Outbox.Pending, snap.Outbox.Sending, snap.OldestPendingAge.Round(time.Second)),
		Details: map[string]any{
			"pending":         snap.Outbox.Pending,
			"sending":         snap.Outbox.Sending,
			"oldest_age_secs": int(snap.OldestPendingAge.Seconds()),
		},
		Timestamp: now,
	}, true
}

// SendAlerts publishes alerts to the configured recipient.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.sender == nil || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.send(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) send(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}
	return a.sender.Send(ctx, a.cfg.AlertRecipient, string(payload))
}
