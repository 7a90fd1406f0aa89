// Package monitoring exposes Prometheus metrics for the engine and runs a
// background health check that raises alerts on the internal alert channel.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	reg prometheus.Gatherer

	outreachSent    *prometheus.CounterVec
	outreachSkipped *prometheus.CounterVec
	outreachErrors  *prometheus.CounterVec
	outboxResults   *prometheus.CounterVec
	channelDropped  *prometheus.CounterVec
	inboundEvents   *prometheus.CounterVec
	classifyResults *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		outreachSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_sent_total",
			Help: "First-touch messages sent, by channel.",
		}, []string{"channel"}),
		outreachSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_skipped_total",
			Help: "Prospects skipped by the outreach run, by reason.",
		}, []string{"reason"}),
		outreachErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_errors_total",
			Help: "Per-candidate outreach failures, by channel.",
		}, []string{"channel"}),
		outboxResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_dispatch_total",
			Help: "Outbox delivery attempts, by channel and outcome.",
		}, []string{"channel", "outcome"}),
		channelDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "channel_disabled_dropped_total",
			Help: "Messages swallowed by channels that are configured off, by channel.",
		}, []string{"channel"}),
		inboundEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inbound_events_total",
			Help: "Webhook events, by platform and decision.",
		}, []string{"platform", "decision"}),
		classifyResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "classify_total",
			Help: "Classification calls, by result.",
		}, []string{"result"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// OutreachSent counts one first-touch send.
func (m *Metrics) OutreachSent(channel string) {
	if m != nil {
		m.outreachSent.WithLabelValues(channel).Inc()
	}
}

// OutreachSkipped counts one skipped prospect.
func (m *Metrics) OutreachSkipped(reason string) {
	if m != nil {
		m.outreachSkipped.WithLabelValues(reason).Inc()
	}
}

// OutreachError counts one per-candidate failure.
func (m *Metrics) OutreachError(channel string) {
	if m != nil {
		m.outreachErrors.WithLabelValues(channel).Inc()
	}
}

// OutboxResult counts one outbox delivery attempt.
func (m *Metrics) OutboxResult(channel, outcome string) {
	if m != nil {
		m.outboxResults.WithLabelValues(channel, outcome).Inc()
	}
}

// ChannelDropped counts one message swallowed by a disabled channel.
func (m *Metrics) ChannelDropped(channel string) {
	if m != nil {
		m.channelDropped.WithLabelValues(channel).Inc()
	}
}

// InboundEvent counts one webhook event decision.
func (m *Metrics) InboundEvent(platform, decision string) {
	if m != nil {
		m.inboundEvents.WithLabelValues(platform, decision).Inc()
	}
}

// ClassifyResult counts one classification outcome (ok or fallback).
func (m *Metrics) ClassifyResult(result string) {
	if m != nil {
		m.classifyResults.WithLabelValues(result).Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency. route labels the request;
// pass a function returning the matched route pattern to keep cardinality
// bounded.
func (m *Metrics) Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			rt := route(r)
			m.httpRequests.WithLabelValues(r.Method, rt, strconv.Itoa(sw.status)).Inc()
			m.httpDuration.WithLabelValues(r.Method, rt).Observe(time.Since(start).Seconds())
		})
	}
}
