// Package httpserver exposes the venue link's operational HTTP surface.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/coachpo/venuelink/internal/domain/schema"
	"github.com/coachpo/venuelink/internal/infra/cache"
	"github.com/coachpo/venuelink/internal/infra/config"
)

const (
	healthPath = "/healthz"
	statusPath = "/status"

	probeTimeout = 5 * time.Second
)

// Venue is the subset of the venue client the server reports on.
type Venue interface {
	StreamState() schema.ConnectionState
	CacheStats() cache.Stats
	TestConnectivity(ctx context.Context) bool
}

type httpServer struct {
	venue Venue
	cfg   config.AppConfig
	log   zerolog.Logger
}

// NewHandler builds the router serving health and status routes.
func NewHandler(venue Venue, cfg config.AppConfig, log zerolog.Logger) http.Handler {
	server := &httpServer{venue: venue, cfg: cfg.Redacted(), log: log}
	router := chi.NewRouter()

	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)
	router.Use(server.logRequests)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	router.Get(healthPath, server.health)
	router.Get(statusPath, server.status)
	router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return router
}

// Server wraps the HTTP listener lifecycle.
type Server struct {
	server *http.Server
	log    zerolog.Logger
}

// New creates a server listening on addr.
func New(addr string, venue Venue, cfg config.AppConfig, log zerolog.Logger) *Server {
	log = log.With().Str("component", "http").Logger()
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(venue, cfg, log),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		log: log,
	}
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}

type statusResponse struct {
	State     string       `json:"state"`
	Reachable *bool        `json:"reachable,omitempty"`
	Cache     cacheStatus  `json:"cache"`
	Config    configStatus `json:"config"`
	Time      time.Time    `json:"time"`
}

type cacheStatus struct {
	Entries         int     `json:"entries"`
	HitRatio        float64 `json:"hitRatio"`
	Hits            uint64  `json:"hits"`
	Misses          uint64  `json:"misses"`
	Expired         uint64  `json:"expired"`
	PressureEvicted uint64  `json:"pressureEvicted"`
}

type configStatus struct {
	Environment    string `json:"environment"`
	BaseURL        string `json:"baseUrl"`
	StreamEndpoint string `json:"streamEndpoint,omitempty"`
	APIKey         string `json:"apiKey"`
	ClientID       string `json:"clientId,omitempty"`
}

func (s *httpServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// status reports stream state, cache counters and the redacted config.
// ?probe=true also calls the venue's status route.
func (s *httpServer) status(w http.ResponseWriter, r *http.Request) {
	if s.venue == nil {
		writeError(w, http.StatusServiceUnavailable, "venue client unavailable")
		return
	}
	stats := s.venue.CacheStats()
	resp := statusResponse{
		State: s.venue.StreamState().String(),
		Cache: cacheStatus{
			Entries:         stats.Entries,
			HitRatio:        stats.HitRatio,
			Hits:            stats.Hits,
			Misses:          stats.Misses,
			Expired:         stats.Expired,
			PressureEvicted: stats.PressureEvicted,
		},
		Config: configStatus{
			Environment:    string(s.cfg.Environment),
			BaseURL:        s.cfg.BaseURL,
			StreamEndpoint: s.cfg.StreamEndpoint,
			APIKey:         s.cfg.APIKey,
			ClientID:       s.cfg.ClientID,
		},
		Time: time.Now().UTC(),
	}
	if r.URL.Query().Get("probe") == "true" {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		reachable := s.venue.TestConnectivity(ctx)
		cancel()
		resp.Reachable = &reachable
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *httpServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}
