package licensing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gatekey/gatekey/internal/db"
	"github.com/gatekey/gatekey/internal/marketplace"
	"github.com/gatekey/gatekey/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ActivationStore defines the persistence operations activation needs.
type ActivationStore interface {
	GetLicenseByPurchaseCode(ctx context.Context, purchaseCode string) (*models.License, error)
	CreateLicense(ctx context.Context, lic *models.License) error
	RotateLicenseToken(ctx context.Context, id uuid.UUID, tokenHash, domain string) error
	GetServerMode(ctx context.Context) (models.ServerMode, error)
}

// ActivationConfig holds configuration for the activation service.
type ActivationConfig struct {
	// ItemID is the marketplace item sold licenses must belong to. Codes
	// for other items are rejected in live mode. Empty disables the check.
	ItemID string
	// MarketplaceTimeout bounds the outbound verification call.
	MarketplaceTimeout time.Duration
}

// ActivationService binds purchase codes to domains and issues bearer tokens.
type ActivationService struct {
	store    ActivationStore
	verifier marketplace.Verifier
	cfg      ActivationConfig
	logger   zerolog.Logger
}

// NewActivationService creates a new ActivationService.
func NewActivationService(store ActivationStore, verifier marketplace.Verifier, cfg ActivationConfig, logger zerolog.Logger) *ActivationService {
	if cfg.MarketplaceTimeout <= 0 {
		cfg.MarketplaceTimeout = marketplace.DefaultTimeout
	}
	return &ActivationService{
		store:    store,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger.With().Str("component", "activation").Logger(),
	}
}

// ActivationResult is a successful activation.
type ActivationResult struct {
	Token string
	// Reactivated is true when an existing license had its token rotated
	// rather than a new record created.
	Reactivated bool
}

// Activate performs first-time or repeat activation of a purchase code on a
// domain. On success the returned token is the only valid one for the
// license: any previously issued token is permanently invalid.
func (s *ActivationService) Activate(ctx context.Context, purchaseCode, domain string) (*ActivationResult, error) {
	purchaseCode = strings.TrimSpace(purchaseCode)
	if purchaseCode == "" {
		return nil, newError(KindInvalidInput, "purchase code is required")
	}
	normalized := NormalizeDomain(domain)
	if normalized == "" {
		return nil, newError(KindInvalidInput, "domain is required")
	}

	mode, err := s.store.GetServerMode(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read server mode")
		return nil, wrapError(KindInternal, "activation failed", err)
	}

	if mode == models.ModeTest {
		if purchaseCode == TestCode {
			// Pure bypass: no record, no marketplace call.
			s.logger.Info().Str("domain", normalized).Msg("test code activated with sentinel token")
			return &ActivationResult{Token: SentinelTestToken}, nil
		}
		if strings.HasPrefix(purchaseCode, MockCodePrefix) {
			return s.activateMock(ctx, purchaseCode, normalized)
		}
	}

	existing, err := s.store.GetLicenseByPurchaseCode(ctx, purchaseCode)
	if err != nil {
		s.logger.Error().Err(err).Msg("license lookup failed")
		return nil, wrapError(KindInternal, "activation failed", err)
	}
	if existing != nil && existing.Status == models.LicenseStatusBlocked {
		// Blocked wins over everything else, including marketplace state.
		return nil, newError(KindForbidden, "license blocked by administrator")
	}

	sale, err := s.verifySale(ctx, purchaseCode)
	if err != nil {
		return nil, err
	}

	if mode == models.ModeLive && s.cfg.ItemID != "" && sale.ItemID != s.cfg.ItemID {
		s.logger.Warn().
			Str("expected_item", s.cfg.ItemID).
			Str("got_item", sale.ItemID).
			Msg("purchase code belongs to a different item")
		return nil, newError(KindBadRequest, "this purchase code is for a different product")
	}

	if existing != nil {
		return s.reactivate(ctx, existing, normalized)
	}
	return s.activateNew(ctx, purchaseCode, normalized, sale)
}

// verifySale calls the marketplace with a bounded timeout and maps its
// failure modes onto the licensing taxonomy.
func (s *ActivationService) verifySale(ctx context.Context, purchaseCode string) (*marketplace.Sale, error) {
	vctx, cancel := context.WithTimeout(ctx, s.cfg.MarketplaceTimeout)
	defer cancel()

	sale, err := s.verifier.VerifySale(vctx, purchaseCode)
	if err == nil {
		return sale, nil
	}

	var rejection *marketplace.RejectionError
	if errors.As(err, &rejection) {
		message := rejection.Description
		if strings.Contains(strings.ToLower(message), "no sale belonging") {
			// The marketplace only resolves a code for the account that
			// sold the item, not for the buyer who holds it.
			message = "purchase code lookup must be performed with the product author's API credentials, not a buyer account"
		}
		return nil, newError(KindUnauthorized, message)
	}

	// Timeouts and transport failures are not a license rejection.
	s.logger.Error().Err(err).Msg("marketplace verification failed")
	return nil, wrapError(KindUnavailable, "could not verify purchase code with the marketplace, try again later", err)
}

// reactivate rotates the token on an existing license after the domain-lock
// check. An unbound record (admin-reset) binds to the requested domain here.
// activated_at is left unchanged.
func (s *ActivationService) reactivate(ctx context.Context, lic *models.License, domain string) (*ActivationResult, error) {
	if lic.Domain != nil && !DomainsMatch(*lic.Domain, domain) {
		return nil, newError(KindForbidden, "license already activated on domain "+*lic.Domain)
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, wrapError(KindInternal, "activation failed", err)
	}
	hash, err := HashToken(token)
	if err != nil {
		return nil, wrapError(KindInternal, "activation failed", err)
	}

	if err := s.store.RotateLicenseToken(ctx, lic.ID, hash, domain); err != nil {
		s.logger.Error().Err(err).Str("license_id", lic.ID.String()).Msg("token rotation failed")
		return nil, wrapError(KindInternal, "activation failed", err)
	}

	s.logger.Info().
		Str("license_id", lic.ID.String()).
		Str("domain", domain).
		Msg("license re-activated, token rotated")
	return &ActivationResult{Token: token, Reactivated: true}, nil
}

// activateNew creates a license record bound to domain. A losing race with a
// concurrent first activation is retried as a re-activation: the uniqueness
// constraint on purchase_code guarantees a single record per code.
func (s *ActivationService) activateNew(ctx context.Context, purchaseCode, domain string, sale *marketplace.Sale) (*ActivationResult, error) {
	token, err := GenerateToken()
	if err != nil {
		return nil, wrapError(KindInternal, "activation failed", err)
	}
	hash, err := HashToken(token)
	if err != nil {
		return nil, wrapError(KindInternal, "activation failed", err)
	}

	lic := models.NewLicense(purchaseCode, domain, hash)
	lic.ItemName = sale.ItemName
	lic.Buyer = sale.Buyer
	lic.LicenseType = sale.LicenseType
	lic.SupportedUntil = sale.SupportedUntil

	err = s.store.CreateLicense(ctx, lic)
	if err == nil {
		s.logger.Info().
			Str("license_id", lic.ID.String()).
			Str("domain", domain).
			Msg("license activated")
		return &ActivationResult{Token: token}, nil
	}

	if errors.Is(err, db.ErrDuplicatePurchaseCode) {
		existing, lookupErr := s.store.GetLicenseByPurchaseCode(ctx, purchaseCode)
		if lookupErr != nil || existing == nil {
			s.logger.Error().Err(lookupErr).Msg("lookup after duplicate insert failed")
			return nil, wrapError(KindInternal, "activation failed", lookupErr)
		}
		if existing.Status == models.LicenseStatusBlocked {
			return nil, newError(KindForbidden, "license blocked by administrator")
		}
		return s.reactivate(ctx, existing, domain)
	}

	s.logger.Error().Err(err).Msg("license insert failed")
	return nil, wrapError(KindInternal, "activation failed", err)
}

// activateMock handles MOCK-* codes in test mode: fabricate a record with
// placeholder metadata, or rotate the existing one. Domain lock and blocked
// status apply to mock records the same as real ones.
func (s *ActivationService) activateMock(ctx context.Context, purchaseCode, domain string) (*ActivationResult, error) {
	existing, err := s.store.GetLicenseByPurchaseCode(ctx, purchaseCode)
	if err != nil {
		s.logger.Error().Err(err).Msg("mock license lookup failed")
		return nil, wrapError(KindInternal, "activation failed", err)
	}

	if existing != nil {
		if existing.Status == models.LicenseStatusBlocked {
			return nil, newError(KindForbidden, "license blocked by administrator")
		}
		return s.reactivate(ctx, existing, domain)
	}

	return s.activateNew(ctx, purchaseCode, domain, &marketplace.Sale{
		ItemName:    "Mock Item",
		Buyer:       "mock-buyer",
		LicenseType: "Regular License",
	})
}
