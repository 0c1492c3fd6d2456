package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gasline/gasline/pkg/holdings"
	"github.com/gasline/gasline/pkg/upstream"
)

// HealthReporter exposes per-endpoint upstream health.
type HealthReporter interface {
	Snapshot() []upstream.EndpointHealth
}

// Server is the proxy HTTP server
type Server struct {
	config  *Config
	logger  *zap.Logger
	handler *Handler
	holder  Holder
	health  HealthReporter
	router  *chi.Mux
	server  *http.Server

	startedAt time.Time
}

// NewServer creates the proxy HTTP server
func NewServer(config *Config, logger *zap.Logger, handler *Handler, holder Holder, health HealthReporter) (*Server, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:    config,
		logger:    logger.Named("server"),
		handler:   handler,
		holder:    holder,
		health:    health,
		router:    chi.NewRouter(),
		startedAt: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s, nil
}

// setupMiddleware configures the middleware stack
func (s *Server) setupMiddleware() {
	// Recovery middleware (must be first)
	s.router.Use(Recovery(s.logger))

	// Request ID middleware
	s.router.Use(middleware.RequestID)

	// Real IP middleware
	s.router.Use(middleware.RealIP)

	// Logger middleware
	s.router.Use(Logger(s.logger))

	// Rate limiting middleware (if enabled)
	if s.config.EnableRateLimit {
		s.router.Use(RateLimit(
			s.config.RateLimitPerSecond,
			s.config.RateLimitBurst,
			s.logger,
		))
		s.logger.Info("rate limiting enabled",
			zap.Float64("rate_per_second", s.config.RateLimitPerSecond),
			zap.Int("burst", s.config.RateLimitBurst),
		)
	}

	// CORS: wallet extensions call the proxy cross-origin, and the
	// balance-view override header must survive preflight.
	if s.config.EnableCORS {
		s.router.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				origin := r.Header.Get("Origin")
				if origin == "" {
					origin = "*"
				}

				allowed := false
				for _, allowedOrigin := range s.config.AllowedOrigins {
					if allowedOrigin == "*" || allowedOrigin == origin {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, x-balance-type")
					w.Header().Set("Access-Control-Max-Age", "300")
				}

				if r.Method == "OPTIONS" {
					w.WriteHeader(http.StatusOK)
					return
				}

				next.ServeHTTP(w, r)
			})
		})
	}
}

// setupRoutes configures the routes
func (s *Server) setupRoutes() {
	// The RPC entrypoint wallets are pointed at
	s.router.Post("/", s.handler.HandleRPC)

	// Held-transaction monitoring
	s.router.Get("/status", s.handleStatus)

	// Health check endpoint
	s.router.Get("/health", s.handleHealth)

	// API version endpoint
	s.router.Get("/version", s.handleVersion)

	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())
}

// StatusResponse lists currently held transactions.
type StatusResponse struct {
	Status           string                     `json:"status"`
	HeldTransactions []holdings.HeldTransaction `json:"heldTransactions"`
	TotalHeld        int                        `json:"totalHeld"`
	UptimeSeconds    float64                    `json:"uptime"`
}

// handleStatus reports all currently held transactions
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	held := s.holder.Snapshot()
	response := StatusResponse{
		Status:           "running",
		HeldTransactions: held,
		TotalHeld:        len(held),
		UptimeSeconds:    time.Since(s.startedAt).Seconds(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                    `json:"status"`
	Timestamp string                    `json:"timestamp"`
	HeldCount int                       `json:"heldCount"`
	Upstream  []upstream.EndpointHealth `json:"upstream,omitempty"`
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().Format(time.RFC3339),
		HeldCount: s.holder.Len(),
	}
	if s.health != nil {
		response.Upstream = s.health.Snapshot()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// handleVersion handles the version endpoint
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"version":"1.0.0","name":"gasline"}`)
}

// Start starts the proxy server
func (s *Server) Start() error {
	s.logger.Info("starting proxy server",
		zap.String("address", s.config.Address()),
		zap.Bool("cors", s.config.EnableCORS),
		zap.Bool("rate_limit", s.config.EnableRateLimit),
	)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the proxy server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping proxy server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("proxy server stopped gracefully")
	return nil
}

// Router returns the underlying chi router (for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
