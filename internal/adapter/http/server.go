package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/p2pquake-service/internal/adapter/p2p"
	"github.com/couchcryptid/p2pquake-service/internal/domain"
	"github.com/couchcryptid/p2pquake-service/internal/service"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Facade is the part of service.Service the routes read from.
type Facade interface {
	ReadinessChecker
	Status() service.Status
	LatestEarthquakes(limit int) []domain.JMAQuake
	LatestTsunamis(limit int) []domain.JMATsunami
	LatestEEW(limit int) []domain.EEW
	History(ctx context.Context, q p2p.HistoryQuery) []domain.Message
	JMAQuakes(ctx context.Context, q p2p.QuakeQuery) []domain.JMAQuake
	JMATsunamis(ctx context.Context, q p2p.TsunamiQuery) []domain.JMATsunami
	JMAQuakeByID(ctx context.Context, id string) *domain.JMAQuake
	JMATsunamiByID(ctx context.Context, id string) *domain.JMATsunami
}

// AlertReader serves stored alerts. It is optional.
type AlertReader interface {
	RecentAlerts(ctx context.Context, hours int) ([]domain.Alert, error)
}

// Source values reported by the latest-* endpoints.
const (
	sourceCache = "cache"
	sourceAPI   = "api"
)

// Server exposes the P2P query API, the downstream event stream and the
// health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	svc        Facade
	alerts     AlertReader
	logger     *slog.Logger
}

// NewServer registers every route. alerts and hub may be nil, in which case
// /api/p2p/alerts/recent returns an empty list and /ws is not served.
func NewServer(addr string, svc Facade, alerts AlertReader, hub *Broadcaster, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second, // proxied calls can queue behind the rate limiter
			IdleTimeout:  60 * time.Second,
		},
		svc:    svc,
		alerts: alerts,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(svc))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/p2p/status", s.handleStatus)
	mux.HandleFunc("GET /api/p2p/history", s.handleHistory)
	mux.HandleFunc("GET /api/p2p/jma/quakes", s.handleQuakes)
	mux.HandleFunc("GET /api/p2p/jma/quake/{id}", s.handleQuakeByID)
	mux.HandleFunc("GET /api/p2p/jma/tsunamis", s.handleTsunamis)
	mux.HandleFunc("GET /api/p2p/jma/tsunami/{id}", s.handleTsunamiByID)
	mux.HandleFunc("GET /api/p2p/earthquakes/latest", s.handleLatestEarthquakes)
	mux.HandleFunc("GET /api/p2p/tsunamis/latest", s.handleLatestTsunamis)
	mux.HandleFunc("GET /api/p2p/eew/latest", s.handleLatestEEW)
	mux.HandleFunc("GET /api/p2p/alerts/recent", s.handleRecentAlerts)
	if hub != nil {
		mux.Handle("GET /ws", hub)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

type listResponse[T any] struct {
	Count  int    `json:"count"`
	Source string `json:"source,omitempty"`
	Data   []T    `json:"data"`
}

func list[T any](items []T, source string) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Count: len(items), Source: source, Data: items}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items := s.svc.History(r.Context(), p2p.HistoryQuery{
		Codes:  parseCodes(q),
		Limit:  intParam(q, "limit", 10),
		Offset: intParam(q, "offset", 0),
	})
	writeJSON(w, http.StatusOK, list(items, sourceAPI))
}

func (s *Server) handleQuakes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, list(s.svc.JMAQuakes(r.Context(), parseQuakeQuery(r.URL.Query())), sourceAPI))
}

func (s *Server) handleTsunamis(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, list(s.svc.JMATsunamis(r.Context(), parseTsunamiQuery(r.URL.Query())), sourceAPI))
}

func (s *Server) handleQuakeByID(w http.ResponseWriter, r *http.Request) {
	writeFound(w, s.svc.JMAQuakeByID(r.Context(), r.PathValue("id")))
}

func (s *Server) handleTsunamiByID(w http.ResponseWriter, r *http.Request) {
	writeFound(w, s.svc.JMATsunamiByID(r.Context(), r.PathValue("id")))
}

func (s *Server) handleLatestEarthquakes(w http.ResponseWriter, r *http.Request) {
	limit := p2p.ClampLimit(intParam(r.URL.Query(), "limit", 10))
	if cached := s.svc.LatestEarthquakes(limit); len(cached) > 0 {
		writeJSON(w, http.StatusOK, list(cached, sourceCache))
		return
	}
	writeJSON(w, http.StatusOK, list(s.svc.JMAQuakes(r.Context(), p2p.QuakeQuery{Limit: limit}), sourceAPI))
}

func (s *Server) handleLatestTsunamis(w http.ResponseWriter, r *http.Request) {
	limit := p2p.ClampLimit(intParam(r.URL.Query(), "limit", 10))
	if cached := s.svc.LatestTsunamis(limit); len(cached) > 0 {
		writeJSON(w, http.StatusOK, list(cached, sourceCache))
		return
	}
	writeJSON(w, http.StatusOK, list(s.svc.JMATsunamis(r.Context(), p2p.TsunamiQuery{Limit: limit}), sourceAPI))
}

func (s *Server) handleLatestEEW(w http.ResponseWriter, r *http.Request) {
	limit := p2p.ClampLimit(intParam(r.URL.Query(), "limit", 10))
	if cached := s.svc.LatestEEW(limit); len(cached) > 0 {
		writeJSON(w, http.StatusOK, list(cached, sourceCache))
		return
	}
	history := s.svc.History(r.Context(), p2p.HistoryQuery{Codes: []domain.InfoCode{domain.CodeEEW}, Limit: limit})
	eews := make([]domain.EEW, 0, len(history))
	for _, m := range history {
		if e, ok := m.(domain.EEW); ok {
			eews = append(eews, e)
		}
	}
	writeJSON(w, http.StatusOK, list(eews, sourceAPI))
}

func (s *Server) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	hours := intParam(r.URL.Query(), "hours", 24)
	if hours <= 0 {
		hours = 24
	}
	if s.alerts == nil {
		writeJSON(w, http.StatusOK, list([]domain.Alert{}, ""))
		return
	}
	alerts, err := s.alerts.RecentAlerts(r.Context(), hours)
	if err != nil {
		s.logger.Error("read recent alerts", "error", err, "hours", hours)
		alerts = nil
	}
	writeJSON(w, http.StatusOK, list(alerts, ""))
}

func writeFound[T any](w http.ResponseWriter, v *T) {
	if v == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
