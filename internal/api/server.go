// Package api exposes the read-only HTTP and WebSocket surface: market
// and kline queries, metrics snapshots, whale feeds, trader lookups
// proxied to the Data API, scheduler/health status, and the live push
// channels backed by internal/stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"polylens/internal/dataapi"
	"polylens/internal/metrics"
	"polylens/internal/scheduler"
	"polylens/internal/store"
	"polylens/internal/stream"
	"polylens/internal/traderlevel"
	"polylens/internal/whale"
)

// Config controls the server's network binding and WebSocket origin policy.
// The origin allowlist is applied to WebSocket upgrades only; the server
// sets no CORS headers on HTTP responses.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

// Server is the read API's HTTP server, wiring together every other
// component as a read-only or proxying dependency.
type Server struct {
	cfg    Config
	store  *store.Store
	engine *metrics.Engine
	whales *whale.Detector
	sched  *scheduler.Scheduler
	hub    *stream.Hub
	data   *dataapi.Client
	levels *traderlevel.Classifier
	logger *slog.Logger

	httpServer     *http.Server
	allowedOrigins atomic.Pointer[[]string]
}

// NewServer builds the Server and wires its routes. Any collaborator
// besides store may be nil; the endpoints that depend on it respond with
// 503 rather than panicking.
func NewServer(cfg Config, st *store.Store, engine *metrics.Engine, whales *whale.Detector, sched *scheduler.Scheduler, hub *stream.Hub, data *dataapi.Client, levels *traderlevel.Classifier, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		store:  st,
		engine: engine,
		whales: whales,
		sched:  sched,
		hub:    hub,
		data:   data,
		levels: levels,
		logger: logger.With("component", "api"),
	}
	origins := append([]string(nil), cfg.AllowedOrigins...)
	s.allowedOrigins.Store(&origins)

	mux := http.NewServeMux()
	s.routes(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	mux.HandleFunc("GET /api/markets", s.handleListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", s.handleGetMarket)
	mux.HandleFunc("GET /api/markets/{id}/price", s.handleMarketPrice)
	mux.HandleFunc("GET /api/markets/{id}/holders", s.handleMarketHolders)
	mux.HandleFunc("GET /api/categories", s.handleCategories)

	mux.HandleFunc("GET /api/klines", s.handleKlines)
	mux.HandleFunc("GET /api/klines/price/{id}", s.handleKlinesPrice)
	mux.HandleFunc("GET /api/klines/range/{id}", s.handleKlinesRange)

	mux.HandleFunc("GET /api/metrics/{id}", s.handleMetrics)
	mux.HandleFunc("GET /api/metrics/{id}/vwap", s.handleMetricsVWAP)
	mux.HandleFunc("GET /api/metrics/{id}/pressure", s.handleMetricsPressure)
	mux.HandleFunc("GET /api/metrics/{id}/whale-signal", s.handleMetricsWhaleSignal)

	mux.HandleFunc("GET /api/whales", s.handleWhales)
	mux.HandleFunc("GET /api/whales/recent", s.handleWhalesRecent)
	mux.HandleFunc("GET /api/whales/stats", s.handleWhalesStats)
	mux.HandleFunc("POST /api/whales/detect", s.handleWhalesDetect)

	mux.HandleFunc("GET /api/traders/top", s.handleTradersTop)
	mux.HandleFunc("GET /api/traders/search", s.handleTradersSearch)
	mux.HandleFunc("GET /api/traders/{addr}", s.handleTrader)
	mux.HandleFunc("GET /api/traders/{addr}/trades", s.handleTraderTrades)
	mux.HandleFunc("GET /api/traders/{addr}/positions", s.handleTraderPositions)
	mux.HandleFunc("GET /api/traders/{addr}/stats", s.handleTraderStats)
	mux.HandleFunc("GET /api/traders/{addr}/value", s.handleTraderValue)
	mux.HandleFunc("GET /api/traders/{addr}/pnl-history", s.handleTraderPnlHistory)

	mux.HandleFunc("GET /api/scheduler/status", s.handleSchedulerStatus)
	mux.HandleFunc("POST /api/scheduler/trigger", s.handleSchedulerTrigger)

	mux.HandleFunc("GET /api/ws/whales", s.handleWSWhales)
	mux.HandleFunc("GET /api/ws/trades", s.handleWSTrades)
	mux.HandleFunc("GET /api/ws/status", s.handleWSStatus)
}

// Start begins serving. It returns once the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("api server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down, waiting up to 10s for in-flight
// requests to finish.
func (s *Server) Stop() error {
	s.logger.Info("api server stopping")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// SetAllowedOrigins swaps the WebSocket origin allowlist in place. Used by
// the serve command's --reload watcher so an operator can widen or
// narrow the allowlist without restarting the listener.
func (s *Server) SetAllowedOrigins(origins []string) {
	cp := append([]string(nil), origins...)
	s.allowedOrigins.Store(&cp)
}

func (s *Server) wsUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r.Header.Get("Origin"), *s.allowedOrigins.Load(), r.Host)
		},
	}
}

func (s *Server) handleWSWhales(w http.ResponseWriter, r *http.Request) {
	s.upgradeAndRegister(w, r, stream.ChannelWhales)
}

func (s *Server) handleWSTrades(w http.ResponseWriter, r *http.Request) {
	s.upgradeAndRegister(w, r, stream.ChannelTrades)
}

func (s *Server) handleWSStatus(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "stream hub not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.hub.Status())
}

func (s *Server) upgradeAndRegister(w http.ResponseWriter, r *http.Request, channel string) {
	if s.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "stream hub not configured")
		return
	}
	upgrader := s.wsUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "channel", channel, "error", err)
		return
	}
	s.hub.Register(conn, channel)
}

// isOriginAllowed checks a WebSocket upgrade's Origin header against the
// configured allowlist, falling back to same-host and loopback origins
// when none is configured.
func isOriginAllowed(origin string, allowedOrigins []string, reqHost string) bool {
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}

	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			u, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if normalized == normalizeOrigin(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	reqHostname := normalizeHost(reqHost)
	return reqHostname != "" && host == reqHostname
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
