package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/nijaru/scriptparser/config"
	"github.com/nijaru/scriptparser/db"
	"github.com/nijaru/scriptparser/middleware"
	"github.com/nijaru/scriptparser/models"
	"github.com/nijaru/scriptparser/utils"
	"github.com/nijaru/scriptparser/validation"
	"github.com/nijaru/scriptparser/workflow"
	"github.com/sirupsen/logrus"
)

// Processor runs one parse request. *workflow.Orchestrator satisfies it.
type Processor interface {
	Process(ctx context.Context, in workflow.Input) (models.WorkflowResult, int)
}

// HistoryStore records finished requests and reports on them.
type HistoryStore interface {
	Record(ctx context.Context, e db.Entry) error
	Stats(ctx context.Context, since time.Time) (*db.Stats, error)
}

type Server struct {
	parse     *ParseHandler
	history   HistoryStore
	config    *config.Config
	logger    *logrus.Logger
	server    *http.Server
	startTime time.Time
}

type ServerOption func(*Server)

// NewServer creates the API server around processor.
func NewServer(cfg *config.Config, processor Processor, opts ...ServerOption) *Server {
	s := &Server{
		config:    cfg,
		logger:    logrus.StandardLogger(),
		startTime: time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.parse = NewParseHandler(processor, validation.NewValidator(cfg.Files), s.history, s.logger)

	s.server = &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// WithHistory enables request history and the stats endpoint.
func WithHistory(store HistoryStore) ServerOption {
	return func(s *Server) {
		s.history = store
	}
}

// WithLogger sets a custom logger for the server
func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Handler exposes the routed handler with its middleware.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() error {
	s.logger.WithField("port", s.config.ServerPort).Info("Starting server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /parse", s.parse.HandleParse)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.history != nil {
		mux.HandleFunc("GET /history/stats", s.handleHistoryStats)
	}

	return s.middleware(mux)
}

func (s *Server) middleware(handler http.Handler) http.Handler {
	mw := s.config.Middleware

	var middlewares []func(http.Handler) http.Handler
	if mw.EnableRecover {
		middlewares = append(middlewares, middleware.Recovery(s.logger))
	}
	if mw.EnableRequestID {
		middlewares = append(middlewares, middleware.RequestID())
	}
	if mw.EnableLogger {
		middlewares = append(middlewares, middleware.Logging(s.logger))
	}
	if mw.EnableCORS {
		middlewares = append(middlewares, middleware.CORS(s.config.CORS))
	}
	if mw.EnableRateLimit && s.config.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(
			s.config.RateLimit.RequestsPerMinute,
			s.config.RateLimit.BurstSize,
		)
		middlewares = append(middlewares, limiter.Middleware)
	}

	return middleware.Chain(handler, middlewares...)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"version":   s.config.Version,
		"uptime":    time.Since(s.startTime).String(),
		"history":   s.history != nil,
	}

	if s.config.Debug {
		status["debug"] = true
		status["goroutines"] = runtime.NumGoroutine()
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		status["memory"] = map[string]interface{}{
			"allocated": m.Alloc,
			"total":     m.TotalAlloc,
			"system":    m.Sys,
			"gc_cycles": m.NumGC,
		}
	}

	utils.WriteJSON(w, http.StatusOK, status)
}
