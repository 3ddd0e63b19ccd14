package server

import (
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/quotapace/quotapace/internal/appid"
	"github.com/quotapace/quotapace/internal/observability"
	"github.com/quotapace/quotapace/internal/server/handlers"
)

// Admin endpoint rate limits.
const (
	adminRateLimit = 10
	adminRateBurst = 5
)

func (s *Server) registerRoutes() {
	s.router.Get("/health", s.health.HealthHandler)
	s.router.Get("/health/live", s.health.LivenessHandler)
	s.router.Get("/health/ready", s.health.ReadinessHandler)
	s.router.Get("/health/startup", s.health.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", s.MetricsHandler)

	s.router.Route("/v1/pacing", func(r chi.Router) {
		r.Get("/summary", s.pacing.Summary)
		r.Get("/quotas", s.pacing.Quotas)
		r.Get("/decision", s.pacing.Decision)
	})

	s.registerAdminEndpoint()
}

func (s *Server) adminToken() (string, string) {
	if s.opts.AdminToken != "" {
		return s.opts.AdminToken, "options"
	}
	name := appid.EnvPrefix + "ADMIN_TOKEN"
	return os.Getenv(name), name
}

// registerAdminEndpoint mounts the signal endpoint when a token is configured.
func (s *Server) registerAdminEndpoint() {
	token, source := s.adminToken()
	logger := observability.ServerLogger

	if token == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no " + source + " set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: token,
		RateLimit: adminRateLimit,
		RateBurst: adminRateBurst,
		Manager:   nil,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("token_source", source),
			zap.Int("rate_limit_per_min", adminRateLimit),
			zap.Int("rate_burst", adminRateBurst))
	}
}
