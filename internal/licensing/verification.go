package licensing

import (
	"context"

	"github.com/gatekey/gatekey/internal/models"
	"github.com/rs/zerolog"
)

// VerificationStore defines the persistence operations verification needs.
type VerificationStore interface {
	ListLicenses(ctx context.Context) ([]*models.License, error)
	GetServerMode(ctx context.Context) (models.ServerMode, error)
}

// VerificationService validates bearer tokens presented by deployed
// applications.
type VerificationService struct {
	store  VerificationStore
	logger zerolog.Logger
}

// NewVerificationService creates a new VerificationService.
func NewVerificationService(store VerificationStore, logger zerolog.Logger) *VerificationService {
	return &VerificationService{
		store:  store,
		logger: logger.With().Str("component", "verification").Logger(),
	}
}

// FailReason classifies a verification refusal so transport code can map
// it to a status without parsing the message.
type FailReason int

const (
	// FailNone means the token verified.
	FailNone FailReason = iota
	// FailInvalidToken means no stored hash matched the token.
	FailInvalidToken
	// FailTestTokenInLive means the sentinel test token was presented in live mode.
	FailTestTokenInLive
	// FailBlocked means the matched license is administratively blocked.
	FailBlocked
	// FailDomainMismatch means the matched license is bound to another domain.
	FailDomainMismatch
)

// VerifyResult reports whether a token is valid for a domain. Reason and
// Message are set when Valid is false; the message stays terse but
// distinguishes invalid token, wrong domain, and blocked license for the
// caller's diagnostics.
type VerifyResult struct {
	Valid   bool
	Reason  FailReason
	Message string
}

// Verify checks a bearer token against the stored license hashes. Tokens are
// stored only as adaptive one-way hashes, so this is a linear scan with a
// per-record timing-safe compare; acceptable at license-catalog scale.
func (s *VerificationService) Verify(ctx context.Context, token, domain string) (*VerifyResult, error) {
	if token == "" {
		return nil, newError(KindInvalidInput, "license token is required")
	}
	normalized := NormalizeDomain(domain)
	if normalized == "" {
		return nil, newError(KindInvalidInput, "domain is required")
	}

	if token == SentinelTestToken {
		mode, err := s.store.GetServerMode(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to read server mode")
			return nil, wrapError(KindInternal, "verification failed", err)
		}
		if mode == models.ModeTest {
			return &VerifyResult{Valid: true}, nil
		}
		return &VerifyResult{Reason: FailTestTokenInLive, Message: "test tokens not allowed in live mode"}, nil
	}

	licenses, err := s.store.ListLicenses(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("license scan failed")
		return nil, wrapError(KindInternal, "verification failed", err)
	}

	var matched *models.License
	for _, lic := range licenses {
		if TokenMatchesHash(token, lic.TokenHash) {
			matched = lic
			break
		}
	}
	if matched == nil {
		return &VerifyResult{Reason: FailInvalidToken, Message: "invalid license token"}, nil
	}

	if matched.Status == models.LicenseStatusBlocked {
		return &VerifyResult{Reason: FailBlocked, Message: "license blocked"}, nil
	}

	// A nil domain (admin reset) matches any caller.
	if matched.Domain != nil && !DomainsMatch(*matched.Domain, normalized) {
		return &VerifyResult{Reason: FailDomainMismatch, Message: "not valid for this domain"}, nil
	}

	return &VerifyResult{Valid: true}, nil
}
