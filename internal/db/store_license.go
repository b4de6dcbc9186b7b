package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gatekey/gatekey/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicatePurchaseCode is returned when an insert collides with the
	// uniqueness constraint on purchase_code. Callers treat this as "the
	// record now exists" and retry as a re-activation.
	ErrDuplicatePurchaseCode = errors.New("purchase code already registered")
)

const licenseColumns = `id, purchase_code, domain, license_token_hash,
	item_name, buyer, license_type, supported_until, status,
	activated_at, created_at, updated_at`

func scanLicense(row pgx.Row) (*models.License, error) {
	var lic models.License
	var status string
	err := row.Scan(
		&lic.ID, &lic.PurchaseCode, &lic.Domain, &lic.TokenHash,
		&lic.ItemName, &lic.Buyer, &lic.LicenseType, &lic.SupportedUntil, &status,
		&lic.ActivatedAt, &lic.CreatedAt, &lic.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	lic.Status = models.LicenseStatus(status)
	return &lic, nil
}

// CreateLicense inserts a new license record. The uniqueness constraint on
// purchase_code is the backstop against two concurrent first activations;
// the losing insert gets ErrDuplicatePurchaseCode.
func (db *DB) CreateLicense(ctx context.Context, lic *models.License) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO licenses (`+licenseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, lic.ID, lic.PurchaseCode, lic.Domain, lic.TokenHash,
		lic.ItemName, lic.Buyer, lic.LicenseType, lic.SupportedUntil, string(lic.Status),
		lic.ActivatedAt, lic.CreatedAt, lic.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicatePurchaseCode
		}
		return fmt.Errorf("create license: %w", err)
	}
	return nil
}

// GetLicenseByPurchaseCode returns the license for a purchase code.
// Returns nil if no record exists.
func (db *DB) GetLicenseByPurchaseCode(ctx context.Context, purchaseCode string) (*models.License, error) {
	lic, err := scanLicense(db.Pool.QueryRow(ctx, `
		SELECT `+licenseColumns+` FROM licenses WHERE purchase_code = $1
	`, purchaseCode))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get license by purchase code: %w", err)
	}
	return lic, nil
}

// GetLicenseByID returns the license with the given id, or ErrNotFound.
func (db *DB) GetLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	lic, err := scanLicense(db.Pool.QueryRow(ctx, `
		SELECT `+licenseColumns+` FROM licenses WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get license by id: %w", err)
	}
	return lic, nil
}

// ListLicenses returns all license records ordered by creation time.
func (db *DB) ListLicenses(ctx context.Context) ([]*models.License, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+licenseColumns+` FROM licenses ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []*models.License
	for rows.Next() {
		lic, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		licenses = append(licenses, lic)
	}
	return licenses, rows.Err()
}

// RotateLicenseToken replaces the stored token hash and (re)binds the
// domain, invalidating every previously issued token for this license. The
// domain write is what lets an admin-reset license bind to a new domain on
// its next activation. activated_at is not touched.
func (db *DB) RotateLicenseToken(ctx context.Context, id uuid.UUID, tokenHash, domain string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE licenses SET license_token_hash = $2, domain = $3, updated_at = $4 WHERE id = $1
	`, id, tokenHash, domain, time.Now())
	if err != nil {
		return fmt.Errorf("rotate license token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLicenseStatus sets the administrative status. Idempotent.
func (db *DB) SetLicenseStatus(ctx context.Context, id uuid.UUID, status models.LicenseStatus) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE licenses SET status = $2, updated_at = $3 WHERE id = $1
	`, id, string(status), time.Now())
	if err != nil {
		return fmt.Errorf("set license status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetLicenseDomain clears the domain binding so the next activation may
// bind to any domain. The token hash is left as-is.
func (db *DB) ResetLicenseDomain(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE licenses SET domain = NULL, updated_at = $2 WHERE id = $1
	`, id, time.Now())
	if err != nil {
		return fmt.Errorf("reset license domain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteLicense permanently removes a license record.
func (db *DB) DeleteLicense(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM licenses WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("delete license: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMockLicensesOlderThan removes MOCK-* test licenses created before
// the given time and returns how many were deleted.
func (db *DB) DeleteMockLicensesOlderThan(ctx context.Context, before time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM licenses WHERE purchase_code LIKE 'MOCK-%' AND created_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("delete mock licenses: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LicenseStats holds aggregate counts for the metrics endpoint.
type LicenseStats struct {
	Total   int64
	Active  int64
	Blocked int64
	Bound   int64
}

// GetLicenseStats returns aggregate license counts.
func (db *DB) GetLicenseStats(ctx context.Context) (*LicenseStats, error) {
	var stats LicenseStats
	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'active'),
		       COUNT(*) FILTER (WHERE status = 'blocked'),
		       COUNT(*) FILTER (WHERE domain IS NOT NULL)
		FROM licenses
	`).Scan(&stats.Total, &stats.Active, &stats.Blocked, &stats.Bound)
	if err != nil {
		return nil, fmt.Errorf("get license stats: %w", err)
	}
	return &stats, nil
}
