package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "hydrocli/internal/middleware"
)

// RouterConfig carries everything the loopback router mounts.
type RouterConfig struct {
	License LicenseService
	Metrics http.Handler
	Version string
	Logger  *slog.Logger
	// RequestRPS/RequestBurst throttle the whole surface. Activation has a
	// stricter limiter of its own inside the manager.
	RequestRPS   float64
	RequestBurst int
}

// NewRouter assembles the loopback HTTP surface: license management,
// certificate recording behind the license gate, health, and metrics.
func NewRouter(cfg RouterConfig) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestRPS <= 0 {
		cfg.RequestRPS = 50
	}
	if cfg.RequestBurst <= 0 {
		cfg.RequestBurst = 100
	}

	r := chi.NewRouter()

	limiter := mw.NewRateLimiter(cfg.RequestRPS, cfg.RequestBurst, logger)

	r.Use(mw.RequestID)
	r.Use(mw.LoopbackOnly(logger))
	r.Use(mw.StructuredLogger(logger))
	r.Use(mw.Recoverer(logger))
	r.Use(mw.SecurityHeaders)
	r.Use(limiter.Handler)

	licenseHandler := NewLicenseHandler(cfg.License, logger)
	healthHandler := NewHealthHandler(cfg.License, cfg.Version, logger)
	certHandler := NewCertificateHandler(cfg.License, logger)
	gate := mw.NewLicenseGate(cfg.License, logger)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", healthHandler.HealthCheck)
		api.Get("/version", healthHandler.Version)

		api.Mount("/license", licenseHandler.Routes())
		api.With(gate.Handler).Mount("/certificates", certHandler.Routes())
	})

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	return r
}
