// Package handlers provides HTTP handlers for the Gatekey API.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gatekey/gatekey/internal/licensing"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// LicenseHandler handles activation and verification endpoints.
type LicenseHandler struct {
	activation   *licensing.ActivationService
	verification *licensing.VerificationService
	logger       zerolog.Logger
}

// NewLicenseHandler creates a new LicenseHandler.
func NewLicenseHandler(activation *licensing.ActivationService, verification *licensing.VerificationService, logger zerolog.Logger) *LicenseHandler {
	return &LicenseHandler{
		activation:   activation,
		verification: verification,
		logger:       logger.With().Str("component", "license_handler").Logger(),
	}
}

// RegisterPublicRoutes registers the activation and verification routes.
func (h *LicenseHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.POST("/activate", h.Activate)
	r.POST("/verify", h.Verify)
}

// statusForKind maps a licensing failure kind to an HTTP status.
func statusForKind(kind licensing.Kind) int {
	switch kind {
	case licensing.KindInvalidInput, licensing.KindBadRequest:
		return http.StatusBadRequest
	case licensing.KindUnauthorized:
		return http.StatusUnauthorized
	case licensing.KindForbidden:
		return http.StatusForbidden
	case licensing.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type activateRequest struct {
	PurchaseCode string `json:"purchase_code"`
	Domain       string `json:"domain"`
}

// Activate binds a purchase code to a domain and issues a bearer token.
//
//	@Summary		Activate a license
//	@Description	Binds a marketplace purchase code to a deployment domain and returns a bearer token. Repeat activation on the same domain rotates the token, invalidating all previously issued tokens.
//	@Tags			License
//	@Accept			json
//	@Produce		json
//	@Param			request	body		activateRequest	true	"Purchase code and domain"
//	@Success		200		{object}	map[string]string
//	@Failure		400		{object}	map[string]string
//	@Failure		401		{object}	map[string]string
//	@Failure		403		{object}	map[string]string
//	@Router			/activate [post]
func (h *LicenseHandler) Activate(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request: " + err.Error()})
		return
	}

	result, err := h.activation.Activate(c.Request.Context(), req.PurchaseCode, req.Domain)
	if err != nil {
		var licErr *licensing.Error
		if errors.As(err, &licErr) {
			c.JSON(statusForKind(licErr.Kind), gin.H{"message": licErr.Message})
			return
		}
		h.logger.Error().Err(err).Msg("activation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "activation failed"})
		return
	}

	message := "license activated"
	if result.Reactivated {
		message = "license re-activated"
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       message,
		"license_token": result.Token,
	})
}

type verifyRequest struct {
	LicenseToken string `json:"license_token"`
	Domain       string `json:"domain"`
}

// Verify validates a bearer token for a calling domain.
//
//	@Summary		Verify a license token
//	@Description	Confirms a bearer token matches a stored license, the license is not blocked, and the calling domain matches the bound domain.
//	@Tags			License
//	@Accept			json
//	@Produce		json
//	@Param			request	body		verifyRequest	true	"License token and domain"
//	@Success		200		{object}	map[string]any
//	@Failure		401		{object}	map[string]any
//	@Failure		403		{object}	map[string]any
//	@Router			/verify [post]
func (h *LicenseHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "message": "invalid request: " + err.Error()})
		return
	}

	result, err := h.verification.Verify(c.Request.Context(), req.LicenseToken, req.Domain)
	if err != nil {
		var licErr *licensing.Error
		if errors.As(err, &licErr) {
			c.JSON(statusForKind(licErr.Kind), gin.H{"valid": false, "message": licErr.Message})
			return
		}
		h.logger.Error().Err(err).Msg("verification failed")
		c.JSON(http.StatusInternalServerError, gin.H{"valid": false, "message": "verification failed"})
		return
	}

	if !result.Valid {
		status := http.StatusUnauthorized
		switch result.Reason {
		case licensing.FailBlocked, licensing.FailDomainMismatch:
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"valid": false, "message": result.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true, "message": "license valid"})
}
