// Package server exposes the analysis pipeline and its stored results over
// HTTP.
//
// Routes:
//
//	POST  /v1/analyze/communication
//	POST  /v1/analyze/metrics
//	GET   /v1/sources/{id}/findings
//	GET   /v1/notifications/{id}
//	POST  /v1/notifications/{id}/read
//	GET   /v1/notifications/stats
//	GET   /v1/recipients/{id}/notifications?status=&kind=&limit=
//	GET   /v1/recipients/{id}/unread-count
//	GET   /v1/recommendations?status=&sort=priority
//	GET   /v1/recommendations/stats
//	PATCH /v1/recommendations/{id}/status
//	GET   /healthz, /readyz, /health
//	GET   /metrics
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/exploopio/sentinel/pkg/alert"
	"github.com/exploopio/sentinel/pkg/audit"
	"github.com/exploopio/sentinel/pkg/core"
	serrors "github.com/exploopio/sentinel/pkg/errors"
	"github.com/exploopio/sentinel/pkg/health"
	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/pipeline"
	"github.com/exploopio/sentinel/pkg/recommend"
	"github.com/exploopio/sentinel/pkg/risk"
	"github.com/exploopio/sentinel/pkg/store"
)

// DefaultMaxBodyBytes caps request bodies when Config.MaxBodyBytes is zero.
const DefaultMaxBodyBytes = 1 << 20

// Analyzer runs one analysis pass.
type Analyzer interface {
	Analyze(ctx context.Context, req pipeline.Request) (*pipeline.Report, error)
}

// Store is the read/update side of the result store.
type Store interface {
	ListFindingsBySource(ctx context.Context, sourceID string) ([]*model.Finding, error)
	GetNotification(ctx context.Context, id string) (*model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string, now time.Time) (*model.Notification, error)
	ListNotifications(ctx context.Context, recipientID string, f alert.ListFilter) ([]*model.Notification, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
	NotificationStats(ctx context.Context) (alert.Stats, error)
	ListRecommendations(ctx context.Context, status model.RecommendationStatus) ([]*model.Recommendation, error)
	UpdateRecommendationStatus(ctx context.Context, id string, to model.RecommendationStatus, now time.Time) (*model.Recommendation, error)
}

// Config configures a Server.
type Config struct {
	// Analyzer runs passes (required)
	Analyzer Analyzer

	// Store serves notifications and recommendations (required)
	Store Store

	// Health is mounted at /healthz, /readyz and /health when set
	Health *health.Handler

	// Metrics is mounted at MetricsPath when set
	Metrics     http.Handler
	MetricsPath string

	// Audit records acknowledgements and workflow transitions (optional)
	Audit *audit.Logger

	MaxBodyBytes int64

	Clock  core.Clock
	Logger core.Logger
}

// Server is the HTTP surface.
type Server struct {
	analyzer    Analyzer
	store       Store
	health      *health.Handler
	metrics     http.Handler
	metricsPath string
	audit       *audit.Logger
	maxBody     int64
	clock       core.Clock
	logger      core.Logger
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	const op = "server.New"
	if cfg.Analyzer == nil {
		return nil, serrors.E(serrors.KindInvalidInput, op, "analyzer is required")
	}
	if cfg.Store == nil {
		return nil, serrors.E(serrors.KindInvalidInput, op, "store is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Clock == nil {
		cfg.Clock = core.SystemClock
	}
	return &Server{
		analyzer:    cfg.Analyzer,
		store:       cfg.Store,
		health:      cfg.Health,
		metrics:     cfg.Metrics,
		metricsPath: cfg.MetricsPath,
		audit:       cfg.Audit,
		maxBody:     cfg.MaxBodyBytes,
		clock:       cfg.Clock,
		logger:      core.OrNop(cfg.Logger),
	}, nil
}

// Routes returns the router serving every endpoint.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	if s.health != nil {
		s.health.Mount(r)
	}
	if s.metrics != nil {
		r.Method(http.MethodGet, s.metricsPath, s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/analyze/communication", s.handleAnalyzeCommunication)
		r.Post("/analyze/metrics", s.handleAnalyzeMetrics)

		r.Get("/sources/{id}/findings", s.handleSourceFindings)

		r.Get("/notifications/stats", s.handleNotificationStats)
		r.Get("/notifications/{id}", s.handleGetNotification)
		r.Post("/notifications/{id}/read", s.handleMarkRead)
		r.Get("/recipients/{id}/notifications", s.handleListNotifications)
		r.Get("/recipients/{id}/unread-count", s.handleUnreadCount)

		r.Get("/recommendations", s.handleListRecommendations)
		r.Get("/recommendations/stats", s.handleRecommendationStats)
		r.Patch("/recommendations/{id}/status", s.handleRecommendationStatus)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("%s %s -> %d (%s) [%s]", r.Method, r.URL.Path, ww.Status(), time.Since(start), middleware.GetReqID(r.Context()))
	})
}

// =============================================================================
// Analysis
// =============================================================================

// AnalyzeOptions are the per-pass overrides shared by both analyze routes.
type AnalyzeOptions struct {
	Enabled    []string `json:"enabled,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	Locale     string   `json:"locale,omitempty"`
}

// CommunicationRequest is the body of POST /v1/analyze/communication.
type CommunicationRequest struct {
	Communication *model.Communication `json:"communication"`
	AnalyzeOptions
}

// MetricsRequest is the body of POST /v1/analyze/metrics.
type MetricsRequest struct {
	Snapshot       *model.MetricSnapshot `json:"snapshot"`
	RelatedThreats []*model.Finding      `json:"related_threats,omitempty"`
	AnalyzeOptions
}

func (s *Server) handleAnalyzeCommunication(w http.ResponseWriter, r *http.Request) {
	var body CommunicationRequest
	if !s.decode(w, r, &body) {
		return
	}
	if body.Communication == nil {
		s.writeError(w, serrors.E(serrors.KindInvalidInput, "server.analyze", "communication is required"))
		return
	}
	s.analyze(w, r, pipeline.Request{
		Unit:       body.Communication,
		Enabled:    body.Enabled,
		Recipients: body.Recipients,
		Locale:     body.Locale,
	})
}

func (s *Server) handleAnalyzeMetrics(w http.ResponseWriter, r *http.Request) {
	var body MetricsRequest
	if !s.decode(w, r, &body) {
		return
	}
	if body.Snapshot == nil {
		s.writeError(w, serrors.E(serrors.KindInvalidInput, "server.analyze", "snapshot is required"))
		return
	}
	s.analyze(w, r, pipeline.Request{
		Unit:           body.Snapshot,
		Enabled:        body.Enabled,
		Recipients:     body.Recipients,
		Locale:         body.Locale,
		RelatedThreats: body.RelatedThreats,
	})
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request, req pipeline.Request) {
	rep, err := s.analyzer.Analyze(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleSourceFindings(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "id")
	fs, err := s.store.ListFindingsBySource(r.Context(), sid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if fs == nil {
		fs = []*model.Finding{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source_id":        sid,
		"findings":         fs,
		"count":            len(fs),
		"compliance_score": risk.ComplianceScore(fs),
	})
}

// =============================================================================
// Notifications
// =============================================================================

func (s *Server) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.GetNotification(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.MarkNotificationRead(r.Context(), chi.URLParam(r, "id"), s.clock())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.audit != nil {
		s.audit.NotificationRead(n)
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := alert.ListFilter{
		Status: model.NotificationStatus(strings.ToUpper(q.Get("status"))),
		Kind:   model.NotificationKind(strings.ToUpper(q.Get("kind"))),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.writeError(w, serrors.E(serrors.KindInvalidInput, "server.listNotifications", fmt.Sprintf("invalid limit %q", v)))
			return
		}
		f.Limit = limit
	}

	ns, err := s.store.ListNotifications(r.Context(), chi.URLParam(r, "id"), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ns == nil {
		ns = []*model.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": ns, "count": len(ns)})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	rid := chi.URLParam(r, "id")
	n, err := s.store.UnreadCount(r.Context(), rid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recipient_id": rid, "unread": n})
}

func (s *Server) handleNotificationStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.NotificationStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// =============================================================================
// Recommendations
// =============================================================================

// StatusRequest is the body of PATCH /v1/recommendations/{id}/status.
type StatusRequest struct {
	Status string `json:"status"`
}

func parseRecommendationStatus(s string) (model.RecommendationStatus, bool) {
	st := model.RecommendationStatus(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_"))
	switch st {
	case model.RecommendationPending, model.RecommendationInProgress, model.RecommendationCompleted:
		return st, true
	}
	return "", false
}

func (s *Server) handleListRecommendations(w http.ResponseWriter, r *http.Request) {
	var status model.RecommendationStatus
	if v := r.URL.Query().Get("status"); v != "" {
		st, ok := parseRecommendationStatus(v)
		if !ok {
			s.writeError(w, serrors.E(serrors.KindInvalidInput, "server.listRecommendations", fmt.Sprintf("unknown status %q", v)))
			return
		}
		status = st
	}
	recs, err := s.store.ListRecommendations(r.Context(), status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if recs == nil {
		recs = []*model.Recommendation{}
	}
	if r.URL.Query().Get("sort") == "priority" {
		recommend.SortByPriority(recs)
	}
	writeJSON(w, http.StatusOK, map[string]any{"recommendations": recs, "count": len(recs)})
}

func (s *Server) handleRecommendationStats(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListRecommendations(r.Context(), "")
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recommend.ComputeStats(recs))
}

func (s *Server) handleRecommendationStatus(w http.ResponseWriter, r *http.Request) {
	const op = "server.recommendationStatus"
	var body StatusRequest
	if !s.decode(w, r, &body) {
		return
	}
	to, ok := parseRecommendationStatus(body.Status)
	if !ok {
		s.writeError(w, serrors.E(serrors.KindInvalidInput, op, fmt.Sprintf("unknown status %q", body.Status)))
		return
	}

	rec, err := s.store.UpdateRecommendationStatus(r.Context(), chi.URLParam(r, "id"), to, s.clock())
	if err != nil {
		if serrors.GetKind(err) == serrors.KindInvalidInput {
			writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Kind: serrors.KindInvalidInput.String()})
			return
		}
		s.writeError(w, err)
		return
	}
	if s.audit != nil {
		s.audit.RecommendationStatusChanged(rec)
	}
	writeJSON(w, http.StatusOK, rec)
}

// =============================================================================
// Encoding
// =============================================================================

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, serrors.E(serrors.KindInvalidInput, "server.decode", "invalid request body", err))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed: %v", err)
	}
	body := errorBody{Error: err.Error()}
	if k := serrors.GetKind(err); k != serrors.KindUnknown {
		body.Kind = k.String()
	}
	writeJSON(w, code, body)
}

func statusFor(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	switch serrors.GetKind(err) {
	case serrors.KindInvalidInput, serrors.KindUnknownCategory:
		return http.StatusBadRequest
	case serrors.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
