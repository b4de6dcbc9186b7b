package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gatekey/gatekey/internal/db"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// MetricsStore defines the interface for retrieving metrics data.
type MetricsStore interface {
	Ping(ctx context.Context) error
	GetLicenseStats(ctx context.Context) (*db.LicenseStats, error)
}

// MetricsHandler exposes license counts in Prometheus exposition format.
type MetricsHandler struct {
	store  MetricsStore
	logger zerolog.Logger
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(store MetricsStore, logger zerolog.Logger) *MetricsHandler {
	return &MetricsHandler{
		store:  store,
		logger: logger.With().Str("component", "metrics_handler").Logger(),
	}
}

// RegisterPublicRoutes registers metrics routes that don't require authentication.
func (h *MetricsHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/metrics", h.Metrics)
}

// Metrics returns metrics in Prometheus exposition format.
// GET /metrics
func (h *MetricsHandler) Metrics(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	var sb strings.Builder

	sb.WriteString("# HELP gatekey_info Server information\n")
	sb.WriteString("# TYPE gatekey_info gauge\n")
	sb.WriteString("gatekey_info{component=\"server\"} 1\n\n")

	up := 1
	if err := h.store.Ping(ctx); err != nil {
		up = 0
	}
	sb.WriteString("# HELP gatekey_up Whether the server can reach its database\n")
	sb.WriteString("# TYPE gatekey_up gauge\n")
	fmt.Fprintf(&sb, "gatekey_up %d\n\n", up)

	stats, err := h.store.GetLicenseStats(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to collect license stats")
	} else {
		sb.WriteString("# HELP gatekey_licenses_total Total number of license records\n")
		sb.WriteString("# TYPE gatekey_licenses_total gauge\n")
		fmt.Fprintf(&sb, "gatekey_licenses_total %d\n\n", stats.Total)

		sb.WriteString("# HELP gatekey_licenses_by_status Licenses by administrative status\n")
		sb.WriteString("# TYPE gatekey_licenses_by_status gauge\n")
		fmt.Fprintf(&sb, "gatekey_licenses_by_status{status=\"active\"} %d\n", stats.Active)
		fmt.Fprintf(&sb, "gatekey_licenses_by_status{status=\"blocked\"} %d\n\n", stats.Blocked)

		sb.WriteString("# HELP gatekey_licenses_bound Licenses currently bound to a domain\n")
		sb.WriteString("# TYPE gatekey_licenses_bound gauge\n")
		fmt.Fprintf(&sb, "gatekey_licenses_bound %d\n", stats.Bound)
	}

	c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(sb.String()))
}
