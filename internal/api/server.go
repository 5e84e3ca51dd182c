// Package api provides the ops HTTP server for stampscore: health,
// Prometheus metrics and read-only passport inspection.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stampscore/stampscore/internal/app/passport"
	"github.com/stampscore/stampscore/internal/domain"
	"github.com/stampscore/stampscore/internal/infra/logger"
)

// Passports is the read side of the passport service.
type Passports interface {
	Report(ctx context.Context, communityID int64, address string) (passport.Report, error)
	History(ctx context.Context, communityID int64, address string, from, to time.Time) ([]domain.Event, error)
	ScoreAt(ctx context.Context, communityID int64, address string, t time.Time) (passport.Report, error)
}

// Pinger reports store reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the stampscore ops HTTP server.
type Server struct {
	passports      Passports
	db             Pinger
	log            *logger.Logger
	metricsEnabled bool
}

// NewServer creates a new ops server.
func NewServer(passports Passports, db Pinger, log *logger.Logger) *Server {
	return &Server{passports: passports, db: db, log: log.With("component", "api")}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/passports/{community}/{address}", func(r chi.Router) {
		r.Get("/", s.handleReport)
		r.Get("/history", s.handleHistory)
		r.Get("/at", s.handleScoreAt)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	communityID, address, ok := passportParams(w, r)
	if !ok {
		return
	}
	report, err := s.passports.Report(r.Context(), communityID, address)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	communityID, address, ok := passportParams(w, r)
	if !ok {
		return
	}
	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := s.passports.History(r.Context(), communityID, address, from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleScoreAt(w http.ResponseWriter, r *http.Request) {
	communityID, address, ok := passportParams(w, r)
	if !ok {
		return
	}
	at, err := parseTimeParam(r, "t")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	report, err := s.passports.ScoreAt(r.Context(), communityID, address, at)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// fail maps a service error to its HTTP status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrScoreNotFound),
		errors.Is(err, domain.ErrEventNotFound),
		errors.Is(err, domain.ErrCommunityNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrContention):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInfrastructure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func passportParams(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	communityID, err := strconv.ParseInt(chi.URLParam(r, "community"), 10, 64)
	if err != nil || communityID <= 0 {
		writeError(w, http.StatusBadRequest, "community must be a positive integer")
		return 0, "", false
	}
	address := domain.NormalizeAddress(chi.URLParam(r, "address"))
	if address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return 0, "", false
	}
	return communityID, address, true
}

// parseTimeParam reads an RFC 3339 query parameter; absent means zero.
func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, errors.New(name + ": want an RFC 3339 timestamp")
	}
	return t, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    http.StatusText(status),
		},
	})
}
