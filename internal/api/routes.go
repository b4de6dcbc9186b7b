// Package api provides the HTTP API for the Gatekey server.
package api

import (
	"github.com/gatekey/gatekey/internal/api/handlers"
	"github.com/gatekey/gatekey/internal/api/middleware"
	"github.com/gatekey/gatekey/internal/config"
	"github.com/gatekey/gatekey/internal/db"
	"github.com/gatekey/gatekey/internal/licensing"
	"github.com/gatekey/gatekey/internal/marketplace"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Config holds configuration for the API router.
type Config struct {
	Environment config.Environment
	// AllowedOrigins for CORS. Empty means all origins allowed in dev mode.
	AllowedOrigins []string
	// RateLimitRequests is the number of requests allowed per period.
	RateLimitRequests int64
	// RateLimitPeriod is the duration string for rate limiting (e.g. "1m", "1h").
	RateLimitPeriod string
	// AdminSecret is the shared admin bearer credential.
	AdminSecret string
	// Activation holds the activation service settings.
	Activation licensing.ActivationConfig
	// Version information for the version endpoint.
	Version   string
	Commit    string
	BuildDate string
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins:    []string{},
		RateLimitRequests: 100,
		RateLimitPeriod:   "1m",
		Version:           "dev",
		Commit:            "unknown",
		BuildDate:         "unknown",
	}
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, database *db.DB, verifier marketplace.Verifier, logger zerolog.Logger) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.CORS(cfg.AllowedOrigins, cfg.Environment))

	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(rateLimiter)

	// Public endpoints (no auth required)
	healthHandler := handlers.NewHealthHandler(database, logger)
	healthHandler.RegisterPublicRoutes(r.Engine)

	metricsHandler := handlers.NewMetricsHandler(database, logger)
	metricsHandler.RegisterPublicRoutes(r.Engine)

	versionHandler := handlers.NewVersionHandler(cfg.Version, cfg.Commit, cfg.BuildDate, logger)
	versionHandler.RegisterPublicRoutes(r.Engine)

	// License activation/verification (the credential IS the request body)
	activation := licensing.NewActivationService(database, verifier, cfg.Activation, logger)
	verification := licensing.NewVerificationService(database, logger)
	licenseHandler := handlers.NewLicenseHandler(activation, verification, logger)
	licenseHandler.RegisterPublicRoutes(r.Engine)

	// Admin control plane
	adminHandler := handlers.NewAdminHandler(database, cfg.AdminSecret, logger)

	adminGroup := r.Engine.Group("/admin")
	adminHandler.RegisterLoginRoute(adminGroup)

	authed := adminGroup.Group("")
	authed.Use(middleware.AdminAuth(cfg.AdminSecret, logger))
	adminHandler.RegisterRoutes(authed)

	return r, nil
}
