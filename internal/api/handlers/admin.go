package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gatekey/gatekey/internal/db"
	"github.com/gatekey/gatekey/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AdminStore defines the persistence operations the admin control plane needs.
type AdminStore interface {
	ListLicenses(ctx context.Context) ([]*models.License, error)
	SetLicenseStatus(ctx context.Context, id uuid.UUID, status models.LicenseStatus) error
	ResetLicenseDomain(ctx context.Context, id uuid.UUID) error
	DeleteLicense(ctx context.Context, id uuid.UUID) error
	GetServerMode(ctx context.Context) (models.ServerMode, error)
	SetServerMode(ctx context.Context, mode models.ServerMode) error
}

// AdminHandler handles the admin control plane endpoints.
type AdminHandler struct {
	store       AdminStore
	adminSecret string
	logger      zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(store AdminStore, adminSecret string, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		store:       store,
		adminSecret: adminSecret,
		logger:      logger.With().Str("component", "admin_handler").Logger(),
	}
}

// RegisterLoginRoute registers the unauthenticated login endpoint.
func (h *AdminHandler) RegisterLoginRoute(r *gin.RouterGroup) {
	r.POST("/login", h.Login)
}

// RegisterRoutes registers the authenticated admin routes.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/licenses", h.ListLicenses)
	r.POST("/block", h.SetStatus)
	r.POST("/deactivate", h.ResetDomain)
	r.DELETE("/license/:id", h.DeleteLicense)
	r.GET("/mode", h.GetMode)
	r.POST("/mode", h.SetMode)
}

type loginRequest struct {
	Password string `json:"password"`
}

// Login exchanges the admin password for a session token. The token is the
// shared secret itself; rotating the configured secret is the only
// revocation mechanism.
//
//	@Summary	Admin login
//	@Tags		Admin
//	@Accept		json
//	@Produce	json
//	@Success	200	{object}	map[string]any
//	@Failure	401	{object}	map[string]any
//	@Router		/admin/login [post]
func (h *AdminHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request: " + err.Error()})
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.adminSecret)) != 1 {
		h.logger.Warn().Str("client_ip", c.ClientIP()).Msg("failed admin login attempt")
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid password"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "token": h.adminSecret})
}

// ListLicenses returns every license record, minus the token hash.
//
//	@Summary	List licenses
//	@Tags		Admin
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{array}	models.PublicLicense
//	@Router		/admin/licenses [get]
func (h *AdminHandler) ListLicenses(c *gin.Context) {
	licenses, err := h.store.ListLicenses(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list licenses")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to list licenses"})
		return
	}

	out := make([]*models.PublicLicense, 0, len(licenses))
	for _, lic := range licenses {
		out = append(out, lic.Public())
	}
	c.JSON(http.StatusOK, out)
}

type setStatusRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// SetStatus toggles a license between active and blocked. Idempotent.
//
//	@Summary	Block or unblock a license
//	@Tags		Admin
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{object}	map[string]string
//	@Failure	404	{object}	map[string]string
//	@Router		/admin/block [post]
func (h *AdminHandler) SetStatus(c *gin.Context) {
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request: " + err.Error()})
		return
	}

	id, err := uuid.Parse(req.ID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid license id"})
		return
	}

	status := models.LicenseStatus(req.Status)
	if !status.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"message": "status must be 'active' or 'blocked'"})
		return
	}

	if err := h.store.SetLicenseStatus(c.Request.Context(), id, status); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "license not found"})
			return
		}
		h.logger.Error().Err(err).Str("license_id", id.String()).Msg("failed to set license status")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to update license"})
		return
	}

	h.logger.Info().Str("license_id", id.String()).Str("status", string(status)).Msg("license status updated")
	c.JSON(http.StatusOK, gin.H{"message": "license " + string(status)})
}

type resetDomainRequest struct {
	ID string `json:"id"`
}

// ResetDomain clears a license's domain binding so the next activation may
// bind to any domain. The current token hash is left untouched.
//
//	@Summary	Force-deactivate a license's domain binding
//	@Tags		Admin
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{object}	map[string]string
//	@Failure	404	{object}	map[string]string
//	@Router		/admin/deactivate [post]
func (h *AdminHandler) ResetDomain(c *gin.Context) {
	var req resetDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request: " + err.Error()})
		return
	}

	id, err := uuid.Parse(req.ID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid license id"})
		return
	}

	if err := h.store.ResetLicenseDomain(c.Request.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "license not found"})
			return
		}
		h.logger.Error().Err(err).Str("license_id", id.String()).Msg("failed to reset license domain")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to update license"})
		return
	}

	h.logger.Info().Str("license_id", id.String()).Msg("license domain cleared")
	c.JSON(http.StatusOK, gin.H{"message": "license domain cleared"})
}

// DeleteLicense permanently removes a license record.
//
//	@Summary	Delete a license
//	@Tags		Admin
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{object}	map[string]string
//	@Failure	404	{object}	map[string]string
//	@Router		/admin/license/{id} [delete]
func (h *AdminHandler) DeleteLicense(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid license id"})
		return
	}

	if err := h.store.DeleteLicense(c.Request.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "license not found"})
			return
		}
		h.logger.Error().Err(err).Str("license_id", id.String()).Msg("failed to delete license")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to delete license"})
		return
	}

	h.logger.Info().Str("license_id", id.String()).Msg("license deleted")
	c.JSON(http.StatusOK, gin.H{"message": "license deleted"})
}

// GetMode returns the global live/test mode flag.
//
//	@Summary	Get server mode
//	@Tags		Admin
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{object}	map[string]string
//	@Router		/admin/mode [get]
func (h *AdminHandler) GetMode(c *gin.Context) {
	mode, err := h.store.GetServerMode(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read server mode")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to read server mode"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": string(mode)})
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

// SetMode writes the global live/test mode flag.
//
//	@Summary	Set server mode
//	@Tags		Admin
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{object}	map[string]string
//	@Failure	400	{object}	map[string]string
//	@Router		/admin/mode [post]
func (h *AdminHandler) SetMode(c *gin.Context) {
	var req setModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request: " + err.Error()})
		return
	}

	mode := models.ServerMode(req.Mode)
	if !mode.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"message": "mode must be 'live' or 'test'"})
		return
	}

	if err := h.store.SetServerMode(c.Request.Context(), mode); err != nil {
		h.logger.Error().Err(err).Msg("failed to set server mode")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to set server mode"})
		return
	}

	h.logger.Info().Str("mode", string(mode)).Msg("server mode updated")
	c.JSON(http.StatusOK, gin.H{"mode": string(mode)})
}
