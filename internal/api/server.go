// Package api exposes the engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/config"
	"github.com/sells-group/prospect-engine/internal/conversion"
	"github.com/sells-group/prospect-engine/internal/discovery"
	"github.com/sells-group/prospect-engine/internal/inbound"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/monitoring"
	"github.com/sells-group/prospect-engine/internal/outreach"
	"github.com/sells-group/prospect-engine/internal/store"
)

// Discoverer runs one discovery request.
type Discoverer interface {
	Discover(ctx context.Context, params discovery.Params) (*discovery.Result, error)
}

// OutreachRunner runs one outreach pass.
type OutreachRunner interface {
	Run(ctx context.Context, seed []model.Prospect) (*model.RunSummary, error)
}

// ReplyHandler classifies a reply and advances the lead.
type ReplyHandler interface {
	HandleReply(ctx context.Context, r conversion.Reply) (*conversion.Outcome, error)
}

// EventProcessor ingests one webhook event.
type EventProcessor interface {
	Process(ctx context.Context, ev inbound.Event) (inbound.Decision, error)
}

// Pinger checks the backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the routes. A nil collaborator leaves
// its route answering 503.
type Deps struct {
	Discovery Discoverer
	Outreach  OutreachRunner
	Replies   ReplyHandler
	Inbound   EventProcessor
	Health    Pinger
	Metrics   *monitoring.Metrics
}

// Server routes HTTP requests to the engine.
type Server struct {
	deps     Deps
	origins  []string
	validate *validator.Validate

	// background tracks detached webhook processing.
	background sync.WaitGroup
}

// NewServer creates a Server.
func NewServer(deps Deps, cfg config.ServerConfig) *Server {
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetrics()
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	return &Server{
		deps:     deps,
		origins:  origins,
		validate: v,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(s.deps.Metrics.Middleware(routePattern))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	r.Post("/webhooks/{platform}", s.handleWebhook)
	r.Post("/replies", s.handleReply)
	r.Post("/outreach/run", s.handleOutreachRun)
	r.Post("/discover", s.handleDiscover)
	return r
}

// Wait blocks until detached webhook processing has finished.
func (s *Server) Wait() {
	s.background.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(r.Context()); err != nil {
			zap.L().Warn("api: health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebhook acknowledges every delivery and processes it detached from
// the request, so platform retries never depend on internal outcomes.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	platform := strings.ToLower(chi.URLParam(r, "platform"))
	log := zap.L().With(zap.String("platform", platform), zap.String("request_id", middleware.GetReqID(r.Context())))

	var ev inbound.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		log.Warn("api: undecodable webhook body", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	ev.Platform = platform
	if err := s.validate.Struct(ev); err != nil {
		log.Warn("api: invalid webhook event", zap.String("reason", validationMessage(err)))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if s.deps.Inbound == nil {
		log.Error("api: webhook received with no inbound processor")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	ctx := context.WithoutCancel(r.Context())
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		decision, err := s.deps.Inbound.Process(ctx, ev)
		if err != nil {
			log.Error("api: webhook processing failed",
				zap.String("dedupe_key", ev.DedupeKey()),
				zap.String("decision", string(decision)),
				zap.Error(err),
			)
			return
		}
		log.Debug("api: webhook processed", zap.String("decision", string(decision)))
	}()

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

type replyRequest struct {
	ProspectID string    `json:"prospect_id" validate:"required_without=LeadID"`
	LeadID     string    `json:"lead_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email" validate:"omitempty,email"`
	Phone      string    `json:"phone"`
	Company    string    `json:"company"`
	ProfileURL string    `json:"profile_url" validate:"omitempty,url"`
	Channel    string    `json:"channel"`
	Recipient  string    `json:"recipient"`
	Text       string    `json:"text" validate:"required"`
	ReceivedAt time.Time `json:"received_at"`
}

func (q replyRequest) reply() conversion.Reply {
	return conversion.Reply{
		ProspectID: q.ProspectID,
		LeadID:     q.LeadID,
		Name:       q.Name,
		Email:      q.Email,
		Phone:      q.Phone,
		Company:    q.Company,
		ProfileURL: q.ProfileURL,
		Channel:    model.Channel(strings.ToLower(q.Channel)),
		Recipient:  q.Recipient,
		Text:       q.Text,
		ReceivedAt: q.ReceivedAt,
	}
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	if s.deps.Replies == nil {
		writeError(w, http.StatusServiceUnavailable, "replies are not configured")
		return
	}
	var req replyRequest
	if !s.decode(w, r, &req) {
		return
	}

	out, err := s.deps.Replies.HandleReply(r.Context(), req.reply())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, out)
	case errors.Is(err, conversion.ErrInvalidReply):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "prospect not found")
	default:
		zap.L().Error("api: reply failed",
			zap.String("prospect_id", req.ProspectID),
			zap.String("lead_id", req.LeadID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type outreachRequest struct {
	Seed []model.Prospect `json:"seed"`
}

func (s *Server) handleOutreachRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Outreach == nil {
		writeError(w, http.StatusServiceUnavailable, "outreach is not configured")
		return
	}
	var req outreachRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	summary, err := s.deps.Outreach.Run(r.Context(), req.Seed)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, summary)
	case errors.Is(err, outreach.ErrRunInProgress):
		writeError(w, http.StatusConflict, "an outreach run is already in progress")
	default:
		zap.L().Error("api: outreach run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if s.deps.Discovery == nil {
		writeError(w, http.StatusServiceUnavailable, "discovery is not configured")
		return
	}
	var params discovery.Params
	if !s.decode(w, r, &params) {
		return
	}

	res, err := s.deps.Discovery.Discover(r.Context(), params)
	if err != nil {
		zap.L().Error("api: discovery failed",
			zap.String("industry", params.Industry),
			zap.String("country", params.Country),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
