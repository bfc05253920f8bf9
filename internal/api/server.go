// Package api provides the HTTP and WebSocket read surface over the engine.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/atlas-quant/optopus-engine/internal/engine"
	"github.com/atlas-quant/optopus-engine/internal/events"
	"github.com/atlas-quant/optopus-engine/pkg/types"
	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server is the read-only HTTP/WebSocket API surface: it never accepts
// orders or strategies, only exposes what the Engine already decided.
type Server struct {
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server

	eng *engine.Engine
	bus *events.Bus
	hub *hub
	sub *events.Subscription
}

// NewServer wires routes for health, assets, strategies, account, Prometheus
// metrics, and a WebSocket stream of engine lifecycle events. bus may be
// nil, in which case /ws upgrades connections but never has anything to
// broadcast.
func NewServer(logger *zap.Logger, config *types.ServerConfig, eng *engine.Engine, bus *events.Bus) *Server {
	s := &Server{
		logger: logger.Named("api"),
		config: config,
		router: mux.NewRouter(),
		eng:    eng,
		bus:    bus,
		hub:    newHub(logger),
	}

	if bus != nil {
		s.sub = s.hub.subscribe(bus)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(newEngineCollector(eng))

	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/assets", s.handleAssets).Methods("GET")
	s.router.HandleFunc("/api/v1/assets/{code}", s.handleAsset).Methods("GET")
	s.router.HandleFunc("/api/v1/strategies", s.handleStrategies).Methods("GET")
	s.router.HandleFunc("/api/v1/account", s.handleAccount).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc(config.WebSocketPath, s.hub.handleWebSocket)

	return s
}

// Router exposes the underlying router for tests.
func (s *Server) Router() *mux.Router { return s.router }

// Start runs the HTTP server, blocking until it stops or fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting api server", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the HTTP server down and unsubscribes the
// WebSocket hub from the event bus.
func (s *Server) Stop(ctx context.Context) error {
	if s.bus != nil && s.sub != nil {
		s.bus.Unsubscribe(s.sub)
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	m := s.eng.GetMetrics()
	lastLoop := "never"
	if !m.LastLoopAt.IsZero() {
		lastLoop = humanize.Time(m.LastLoopAt)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"state":        s.eng.State().String(),
		"metrics":      m,
		"lastLoopSince": lastLoop,
	})
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	assets := s.eng.Store().Assets()
	out := make([]types.Asset, 0, len(assets))
	for _, asset := range assets {
		out = append(out, asset)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	asset, ok := s.eng.Store().AssetByCode(code)
	if !ok {
		http.Error(w, "asset not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	strategies := s.eng.Store().Strategies()
	out := make([]types.Strategy, 0, len(strategies))
	for _, strategy := range strategies {
		out = append(out, strategy)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Store().Account())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
