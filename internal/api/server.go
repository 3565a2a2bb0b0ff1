package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/gridrelay/internal/engine"
	"github.com/seantiz/gridrelay/internal/rpc"
	"github.com/seantiz/gridrelay/internal/store"
	"github.com/seantiz/gridrelay/internal/task"
	"github.com/seantiz/gridrelay/internal/tracing"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Server wraps the chi router and application dependencies.
type Server struct {
	router      *chi.Mux
	store       store.Store
	engine      *engine.Engine
	registry    *task.Registry
	interceptor *tracing.Interceptor
	sessions    *sessionRegistry
	publisher   *publisher
	logger      *slog.Logger
	addr        string
}

// NewServer creates and configures a new HTTP server. Every compute service
// method is routed through ic.
func NewServer(addr string, s store.Store, eng *engine.Engine, reg *task.Registry, ic *tracing.Interceptor, logger *slog.Logger) *Server {
	srv := &Server{
		router:      chi.NewRouter(),
		store:       s,
		engine:      eng,
		registry:    reg,
		interceptor: ic,
		sessions:    newSessionRegistry(),
		publisher:   &publisher{},
		logger:      logger,
		addr:        addr,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Content-Type", "X-Request-Id",
			tracing.HeaderTraceID, tracing.HeaderSpanID, tracing.HeaderParentSpanID,
		},
		ExposedHeaders:   []string{"X-Request-Id", tracing.HeaderTraceID, tracing.HeaderSpanID},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Group(func(r chi.Router) {
		r.Use(s.interceptor.Middleware)
		r.Post(rpc.MethodPath(rpc.MethodSubmitTask), s.handleSubmitTask)
		r.Post(rpc.MethodPath(rpc.MethodStreamResults), s.handleStreamResults)
		r.Post(rpc.MethodPath(rpc.MethodOpenSession), s.handleOpenSession)
		r.Post(rpc.MethodPath(rpc.MethodGetTask), s.handleGetTask)
		r.Post(rpc.MethodPath(rpc.MethodInteract), s.handleInteract)
		r.Post(rpc.MethodPath(rpc.MethodPublish), s.handlePublish)
	})

	s.router.Get("/v1/stats", s.handleGetStats)
	s.router.Get("/v1/task-types", s.handleListTaskTypes)
	s.router.Get("/v1/sessions", s.handleListSessions)
	s.router.Get("/v1/spans/active", s.handleActiveSpans)
	s.router.Get("/v1/traces/{traceId}", s.handleGetTrace)

	s.router.Route("/v1/tasks", func(r chi.Router) {
		r.Get("/", s.handleListTasks)
		r.Get("/{id}", s.handleGetTaskRecord)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down", "reason", context.Cause(ctx))
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"trace_id", ww.Header().Get(tracing.HeaderTraceID),
		)
	})
}
