// Package models contains the domain types persisted by Gatekey.
package models

import (
	"time"

	"github.com/google/uuid"
)

// LicenseStatus represents the administrative state of a license.
type LicenseStatus string

const (
	// LicenseStatusActive is the default state; activation and verification proceed normally.
	LicenseStatusActive LicenseStatus = "active"
	// LicenseStatusBlocked fails both activation and verification regardless of
	// domain or token correctness.
	LicenseStatusBlocked LicenseStatus = "blocked"
)

// IsValid reports whether s is a known license status.
func (s LicenseStatus) IsValid() bool {
	return s == LicenseStatusActive || s == LicenseStatusBlocked
}

// ServerMode is the global validation strictness flag.
type ServerMode string

const (
	// ModeLive rejects all test bypass codes and the sentinel test token.
	ModeLive ServerMode = "live"
	// ModeTest accepts TEST-CODE, MOCK-* codes and the sentinel test token
	// without contacting the marketplace.
	ModeTest ServerMode = "test"
)

// IsValid reports whether m is a known server mode.
func (m ServerMode) IsValid() bool {
	return m == ModeLive || m == ModeTest
}

// License is the sole persisted entity: one marketplace purchase code bound
// to at most one deployment domain, with the hash of the currently valid
// bearer token. The plaintext token is never stored.
type License struct {
	ID           uuid.UUID
	PurchaseCode string
	// Domain is nil while the license is unbound (never activated, or reset
	// by an administrator). Stored normalized.
	Domain    *string
	TokenHash string
	// Marketplace metadata copied at activation time, informational only.
	ItemName       string
	Buyer          string
	LicenseType    string
	SupportedUntil string
	Status         LicenseStatus
	// ActivatedAt is set on first activation and not refreshed when the
	// token is rotated by a re-activation.
	ActivatedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewLicense creates a License bound to domain with the given token hash.
func NewLicense(purchaseCode, domain, tokenHash string) *License {
	now := time.Now()
	return &License{
		ID:           uuid.New(),
		PurchaseCode: purchaseCode,
		Domain:       &domain,
		TokenHash:    tokenHash,
		Status:       LicenseStatusActive,
		ActivatedAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// PublicLicense is the admin-facing view of a License. It never carries the
// token hash.
type PublicLicense struct {
	ID             uuid.UUID     `json:"id"`
	PurchaseCode   string        `json:"purchase_code"`
	Domain         *string       `json:"domain"`
	ItemName       string        `json:"item_name,omitempty"`
	Buyer          string        `json:"buyer,omitempty"`
	LicenseType    string        `json:"license_type,omitempty"`
	SupportedUntil string        `json:"supported_until,omitempty"`
	Status         LicenseStatus `json:"status"`
	ActivatedAt    time.Time     `json:"activated_at"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Public returns the admin-facing view of the license.
func (l *License) Public() *PublicLicense {
	return &PublicLicense{
		ID:             l.ID,
		PurchaseCode:   l.PurchaseCode,
		Domain:         l.Domain,
		ItemName:       l.ItemName,
		Buyer:          l.Buyer,
		LicenseType:    l.LicenseType,
		SupportedUntil: l.SupportedUntil,
		Status:         l.Status,
		ActivatedAt:    l.ActivatedAt,
		CreatedAt:      l.CreatedAt,
		UpdatedAt:      l.UpdatedAt,
	}
}
