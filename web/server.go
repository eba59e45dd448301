// Package web serves the controller's outward surface: the JSON status API,
// liveness and health endpoints, prometheus metrics, and a websocket stream
// of signal events.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tiagofranzen/pi-traffic-light/controller"
	"github.com/tiagofranzen/pi-traffic-light/errors"
	"github.com/tiagofranzen/pi-traffic-light/events"
	"github.com/tiagofranzen/pi-traffic-light/health"
	"github.com/tiagofranzen/pi-traffic-light/metric"
)

// Config holds the web server settings
type Config struct {
	// Addr is the listen address, ":8000" by default
	Addr string `yaml:"addr"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig mirrors the deployed server settings
func DefaultConfig() Config {
	return Config{
		Addr:            ":8000",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// StatusSource provides the current controller status
type StatusSource interface {
	Status() controller.Status
}

// Deps holds the server's runtime dependencies
type Deps struct {
	Controller StatusSource
	Bus        *events.Bus      // optional, enables /ws
	Health     *health.Monitor  // optional, enables /healthz detail
	Metrics    *metric.Registry // optional, enables /metrics
	Logger     *slog.Logger     // optional
}

// serverMetrics holds the web server's prometheus metrics
type serverMetrics struct {
	wsClients prometheus.Gauge
	wsEvents  prometheus.Counter
}

func newServerMetrics(registry *metric.Registry) *serverMetrics {
	if registry == nil {
		return nil
	}

	m := &serverMetrics{
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "web",
			Name:      "websocket_clients",
			Help:      "Currently connected websocket clients",
		}),
		wsEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "web",
			Name:      "websocket_events_sent_total",
			Help:      "Events delivered over websocket connections",
		}),
	}
	_ = registry.RegisterGauge("web", "websocket_clients", m.wsClients)
	_ = registry.RegisterCounter("web", "websocket_events", m.wsEvents)
	return m
}

// Server is the HTTP front of the controller
type Server struct {
	cfg        Config
	controller StatusSource
	bus        *events.Bus
	healthM    *health.Monitor
	logger     *slog.Logger
	metrics    *serverMetrics

	srv      *http.Server
	listener net.Listener
	upgrader websocket.Upgrader

	clients   map[*websocket.Conn]struct{}
	clientsMu sync.Mutex

	running  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewServer creates the web server and wires its routes
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Controller == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("controller is required"),
			"web.Server", "NewServer", "dependency validation")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:        cfg,
		controller: deps.Controller,
		bus:        deps.Bus,
		healthM:    deps.Health,
		logger:     logger.With("component", "web"),
		metrics:    newServerMetrics(deps.Metrics),
		clients:    make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The daemon serves the local network only.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}
	if deps.Bus != nil {
		mux.HandleFunc("GET /ws", s.handleWebsocket)
	}

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// Start begins serving; it returns once the listener is running
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "web.Server", "Start", "state check")
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.WrapFatal(err, "web.Server", "Start", "listen")
	}
	s.listener = listener

	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		if err := s.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", "error", err)
		}
	}()

	if s.bus != nil {
		sub, cancel := s.bus.Subscribe()
		s.wg.Add(1)
		go s.broadcast(sub, cancel)
	}

	s.logger.Info("web server started", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound listen address once the server has started
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts the server down
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)
	close(s.shutdown)

	s.closeClients()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "web.Server", "Stop", "http shutdown")
	}

	s.wg.Wait()
	s.logger.Info("web server stopped")
	return nil
}

// handleStatus serves the controller status snapshot
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.controller.Status()); err != nil {
		s.logger.Warn("status encode failed", "error", err)
	}
}

// healthzResponse is the /healthz payload
type healthzResponse struct {
	Status     string                   `json:"status"`
	Components map[string]health.Status `json:"components,omitempty"`
}

// handleHealthz aggregates component health. Degraded still answers 200;
// only unhealthy flips to 503 so transient API outages don't restart the
// daemon under a liveness probe.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthzResponse{Status: health.StatusHealthy}
	code := http.StatusOK

	if s.healthM != nil {
		aggregate := s.healthM.AggregateHealth("traffic-light")
		resp.Status = aggregate.Status
		resp.Components = s.healthM.GetAll()
		if aggregate.Status == health.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("healthz encode failed", "error", err)
	}
}

// handleWebsocket upgrades the connection and streams events until the
// client goes away or the server stops.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = struct{}{}
	count := len(s.clients)
	s.clientsMu.Unlock()
	if s.metrics != nil {
		s.metrics.wsClients.Set(float64(count))
	}
	s.logger.Info("websocket client connected", "remote", r.RemoteAddr, "clients", count)

	// Reader goroutine only to notice the close handshake; clients never
	// send payloads.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.dropClient(conn)
				return
			}
		}
	}()
}

// broadcast fans bus events out to every connected websocket client
func (s *Server) broadcast(sub <-chan events.Event, cancel func()) {
	defer s.wg.Done()
	defer cancel()

	for {
		select {
		case <-s.shutdown:
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				s.logger.Warn("event marshal failed", "error", err)
				continue
			}

			s.clientsMu.Lock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.Unlock()

			for _, conn := range conns {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					s.dropClient(conn)
					continue
				}
				if s.metrics != nil {
					s.metrics.wsEvents.Inc()
				}
			}
		}
	}
}

// dropClient removes and closes one websocket connection
func (s *Server) dropClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	_, present := s.clients[conn]
	delete(s.clients, conn)
	count := len(s.clients)
	s.clientsMu.Unlock()

	if present {
		_ = conn.Close()
		if s.metrics != nil {
			s.metrics.wsClients.Set(float64(count))
		}
		s.logger.Info("websocket client disconnected", "clients", count)
	}
}

// closeClients closes every websocket connection during shutdown
func (s *Server) closeClients() {
	s.clientsMu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.clients = make(map[*websocket.Conn]struct{})
	s.clientsMu.Unlock()

	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}
