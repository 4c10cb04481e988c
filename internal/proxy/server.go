package proxy

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/raaihank/screen-tutor/internal/config"
	"github.com/raaihank/screen-tutor/internal/logger"
	"github.com/raaihank/screen-tutor/internal/pipeline"
	"github.com/raaihank/screen-tutor/internal/privacy"
	"github.com/raaihank/screen-tutor/internal/ratelimit"
	"github.com/raaihank/screen-tutor/internal/web"
	"github.com/raaihank/screen-tutor/internal/websocket"
	"go.uber.org/zap"
)

// Version is reported by /info
var Version = "0.1.0"

// ImageAnalyzer runs the tutor pipeline on an uploaded image
type ImageAnalyzer interface {
	Analyze(ctx context.Context, img image.Image) (*pipeline.Result, error)
	LastResult() string
	LLMEnabled() bool
}

// Options holds the collaborators of a Server. Detector is required.
type Options struct {
	Detector *privacy.Detector
	Tutor    ImageAnalyzer
	Hub      *websocket.Hub
}

// Server represents the HTTP API and LLM privacy proxy
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	detector  *privacy.Detector
	tutor     ImageAnalyzer
	wsHub     *websocket.Hub
	limiter   *ratelimit.Limiter
	llmProxy  *httputil.ReverseProxy
	router    *mux.Router
	server    *http.Server
	startedAt time.Time
}

// New creates a new server instance
func New(cfg *config.Config, log *logger.Logger, opts Options) (*Server, error) {
	if opts.Detector == nil {
		return nil, errors.New("privacy detector is required")
	}

	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("proxy"),
		detector:  opts.Detector,
		tutor:     opts.Tutor,
		wsHub:     opts.Hub,
		limiter:   ratelimit.New(cfg.RateLimit),
		router:    mux.NewRouter(),
		startedAt: time.Now(),
	}

	if cfg.LLM.BaseURL != "" {
		target, err := url.Parse(cfg.LLM.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid LLM base URL: %w", err)
		}
		s.llmProxy = s.newLLMProxy(target)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	s.router.HandleFunc("/", web.ServeDashboard).Methods(http.MethodGet)
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods(http.MethodGet)

	if s.wsHub != nil {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/detect", s.handleDetect).Methods(http.MethodPost)
	api.HandleFunc("/anonymize", s.handleAnonymize).Methods(http.MethodPost)
	api.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	api.HandleFunc("/last", s.handleLast).Methods(http.MethodGet)

	if s.llmProxy != nil {
		llmRouter := s.router.PathPrefix("/llm").Subrouter()
		llmRouter.Use(s.loggingMiddleware)
		llmRouter.Use(s.llmAuthMiddleware)
		llmRouter.Use(s.rateLimitMiddleware)
		llmRouter.Use(s.privacyMiddleware)
		llmRouter.PathPrefix("/").HandlerFunc(s.handleLLMProxy)
	}
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the server until Stop is called. Background workers stop when
// ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting Screen Tutor server",
		zap.String("addr", s.server.Addr),
		zap.Bool("privacy_enabled", s.detector.Enabled()),
		zap.Bool("analysis_enabled", s.tutor != nil),
		zap.String("llm_upstream", s.config.LLM.BaseURL),
	)

	if s.wsHub != nil {
		go s.wsHub.Run(ctx)
	}
	if s.config.RateLimit.Enabled {
		s.limiter.StartCleanup(ctx, 30*time.Minute)
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping Screen Tutor server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":             "screentutor",
		"version":          Version,
		"uptime":           time.Since(s.startedAt).Round(time.Second).String(),
		"privacy_enabled":  s.detector.Enabled(),
		"analysis_enabled": s.tutor != nil,
		"llm_enabled":      s.tutor != nil && s.tutor.LLMEnabled(),
		"categories":       privacy.MaskingOrder,
	}
	if s.wsHub != nil {
		info["websocket"] = s.wsHub.GetStats()
	}
	writeJSON(w, http.StatusOK, info)
}
