package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atlas-quant/optopus-engine/internal/broker/paper"
	"github.com/atlas-quant/optopus-engine/internal/config"
	"github.com/atlas-quant/optopus-engine/internal/data"
	"github.com/atlas-quant/optopus-engine/internal/engine"
	"github.com/atlas-quant/optopus-engine/internal/events"
	"github.com/atlas-quant/optopus-engine/internal/execution"
	"github.com/atlas-quant/optopus-engine/internal/strategyrepo"
	"github.com/atlas-quant/optopus-engine/pkg/types"
	"go.uber.org/zap"
)

type realClock struct{}

func (realClock) Now() time.Time          { return time.Now() }
func (realClock) Sleep(d time.Duration)   {}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := zap.NewNop()
	dir := t.TempDir()

	repo, err := strategyrepo.New(logger, dir)
	if err != nil {
		t.Fatalf("strategyrepo.New: %v", err)
	}
	port := paper.New(logger, 7)
	coord := execution.New(logger, port, repo, execution.RiskLimits{PreservedCashFactor: 0.4, MaximumRiskFactor: 0.05}, realClock{})
	store := data.NewStore(logger)
	cfg := config.Default()
	bus := events.New(logger, 2, 64)
	t.Cleanup(bus.Stop)

	eng := engine.New(logger, cfg, realClock{}, port, store, repo, coord, bus)

	return NewServer(logger, &types.ServerConfig{
		Host: "127.0.0.1", Port: 0, WebSocketPath: "/ws",
		ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second,
	}, eng, bus)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
}

func TestHandleAssetsEmpty(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/assets", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var assets []types.Asset
	if err := json.Unmarshal(rec.Body.Bytes(), &assets); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(assets) != 0 {
		t.Fatalf("expected no assets before start, got %d", len(assets))
	}
}

func TestHandleAssetNotFound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/assets/SPY", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != 404 {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleMetrics(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected non-empty prometheus exposition body")
	}
}
