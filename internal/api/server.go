// Package api serves the REST control surface, the webhook ingress mount,
// the metrics endpoint and the WebSocket event stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/imq-dev/imq/internal/events"
	"github.com/imq-dev/imq/internal/metrics"
	"github.com/imq-dev/imq/internal/queue"
)

// Store is what the handlers need from persistence.
type Store interface {
	queue.Store
	Ping() error
}

// Config carries the listen address.
type Config struct {
	Host string
	Port int
}

// Server hosts the HTTP surface. Construct with New, then Start; the event
// hub is registered on the bus during construction so frames flow as soon
// as the hub loop runs.
type Server struct {
	cfg     Config
	store   Store
	service *queue.Service
	webhook http.Handler
	hub     *Hub
	logger  *zap.Logger
	metrics *metrics.Metrics

	httpServer *http.Server
	listener   net.Listener
}

// New wires the server. webhook handles POST /webhook/github; pass nil to
// leave the route unmounted.
func New(cfg Config, store Store, service *queue.Service, webhook http.Handler, bus *events.Bus, logger *zap.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:     cfg,
		store:   store,
		service: service,
		webhook: webhook,
		hub:     NewHub(logger),
		logger:  logger,
		metrics: m,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	bus.Subscribe(s.hub.Publish)
	return s
}

// Handler returns the full route tree. Exposed for httptest servers.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	if s.webhook != nil {
		r.Method(http.MethodPost, "/webhook/github", s.webhook)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/queues", s.handleListQueues)
		r.Get("/queues/{queueID}", s.handleGetQueue)
		r.Delete("/queues/{queueID}", s.handleDeleteQueue)
		r.Delete("/queues/{queueID}/entries/{entryID}", s.handleDeleteEntry)

		r.Get("/config", s.handleGetConfig)
		r.Put("/config", s.handlePutConfig)

		r.Get("/events/ws", s.handleEventsWS)
	})

	return r
}

// Start begins serving in the background. The listener is bound before
// returning so a port conflict surfaces here, not in a goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = listener

	go s.hub.Run()
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()

	s.logger.Info("api server listening", zap.String("addr", s.Addr()))
	return nil
}

// Shutdown stops the hub and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

// Addr returns the bound listen address, useful with an ephemeral port.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// instrument records request metrics and logs each request with its chi
// route pattern, keeping the path label low-cardinality.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		elapsed := time.Since(start)

		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).Inc()
			s.metrics.HTTPDuration.WithLabelValues(r.Method, pattern).Observe(elapsed.Seconds())
		}
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}
