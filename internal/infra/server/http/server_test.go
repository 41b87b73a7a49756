package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/coachpo/venuelink/internal/domain/schema"
	"github.com/coachpo/venuelink/internal/infra/cache"
	"github.com/coachpo/venuelink/internal/infra/config"
)

type stubVenue struct {
	state  schema.ConnectionState
	stats  cache.Stats
	probes atomic.Int32
	up     bool
}

func (s *stubVenue) StreamState() schema.ConnectionState { return s.state }
func (s *stubVenue) CacheStats() cache.Stats             { return s.stats }
func (s *stubVenue) TestConnectivity(context.Context) bool {
	s.probes.Add(1)
	return s.up
}

func testConfig() config.AppConfig {
	return config.AppConfig{
		APIKey:      "live-key-9876",
		APISecret:   "super-secret",
		ClientID:    "desk-1",
		BaseURL:     "https://bridge.example.com",
		Environment: schema.EnvProd,
	}
}

func TestHealth(t *testing.T) {
	handler := NewHandler(&stubVenue{}, testConfig(), zerolog.Nop())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `"ok"`) {
		t.Fatalf("unexpected body %s", res.Body.String())
	}
}

func TestStatusReportsStateAndRedactsSecrets(t *testing.T) {
	venue := &stubVenue{
		state: schema.StateConnected,
		stats: cache.Stats{Entries: 3, Hits: 9, Misses: 1, HitRatio: 0.42},
	}
	handler := NewHandler(venue, testConfig(), zerolog.Nop())

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/status", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", res.Code, res.Body.String())
	}
	body := res.Body.String()
	if strings.Contains(body, "super-secret") || strings.Contains(body, "live-key-9876") {
		t.Fatalf("credentials leaked: %s", body)
	}

	var payload statusResponse
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if payload.State != schema.StateConnected.String() {
		t.Fatalf("expected state %s, got %s", schema.StateConnected, payload.State)
	}
	if payload.Cache.Entries != 3 || payload.Cache.Hits != 9 {
		t.Fatalf("unexpected cache stats %+v", payload.Cache)
	}
	if payload.Config.APIKey != "*********9876" {
		t.Fatalf("expected masked key, got %q", payload.Config.APIKey)
	}
	if payload.Reachable != nil {
		t.Fatalf("reachable must be omitted without probe")
	}
	if venue.probes.Load() != 0 {
		t.Fatalf("venue probed without probe=true")
	}
}

func TestStatusProbe(t *testing.T) {
	venue := &stubVenue{state: schema.StateReconnecting}
	handler := NewHandler(venue, testConfig(), zerolog.Nop())

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/status?probe=true", nil))
	var payload statusResponse
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if payload.Reachable == nil || *payload.Reachable {
		t.Fatalf("expected reachable=false, got %v", payload.Reachable)
	}
	if venue.probes.Load() != 1 {
		t.Fatalf("expected one probe, got %d", venue.probes.Load())
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	handler := NewHandler(&stubVenue{}, testConfig(), zerolog.Nop())

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/orders", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/status", nil))
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

func TestStatusWithoutVenue(t *testing.T) {
	handler := NewHandler(nil, testConfig(), zerolog.Nop())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/status", nil))
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}
