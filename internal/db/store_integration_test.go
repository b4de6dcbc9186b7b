//go:build integration

package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/gatekey/gatekey/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *DB

func TestMain(m *testing.M) {
	if !dockerAvailable() {
		fmt.Println("Docker is not available, skipping integration tests")
		os.Exit(0)
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("gatekey_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		pgContainer.Terminate(ctx)
		log.Fatalf("failed to get connection string: %v", err)
	}

	logger := zerolog.New(zerolog.NewConsoleWriter())
	cfg := DefaultConfig(connStr)
	cfg.MaxConns = 5
	cfg.MinConns = 1

	testDB, err = New(ctx, cfg, logger)
	if err != nil {
		pgContainer.Terminate(ctx)
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := testDB.Migrate(ctx); err != nil {
		testDB.Close()
		pgContainer.Terminate(ctx)
		log.Fatalf("failed to run migrations: %v", err)
	}

	code := m.Run()

	testDB.Close()
	pgContainer.Terminate(ctx)

	os.Exit(code)
}

// dockerAvailable returns true if a Docker daemon is reachable.
func dockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// setupTestDB returns the shared test database after cleaning all tables.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	_, err := testDB.Pool.Exec(ctx, `TRUNCATE TABLE licenses`)
	require.NoError(t, err)
	_, err = testDB.Pool.Exec(ctx, `
		INSERT INTO server_settings (setting_key, setting_value) VALUES ('server_mode', 'live')
		ON CONFLICT (setting_key) DO UPDATE SET setting_value = 'live'
	`)
	require.NoError(t, err)
	return testDB
}

// createTestLicense creates and persists a license bound to domain.
func createTestLicense(t *testing.T, db *DB, code, domain string) *models.License {
	t.Helper()
	lic := models.NewLicense(code, domain, "hash-"+code)
	require.NoError(t, db.CreateLicense(context.Background(), lic))
	return lic
}

func TestCreateAndGetLicense(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	lic := createTestLicense(t, db, "ABC-123", "shop.example.com")

	got, err := db.GetLicenseByPurchaseCode(ctx, "ABC-123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, lic.ID, got.ID)
	assert.Equal(t, "ABC-123", got.PurchaseCode)
	require.NotNil(t, got.Domain)
	assert.Equal(t, "shop.example.com", *got.Domain)
	assert.Equal(t, "hash-ABC-123", got.TokenHash)
	assert.Equal(t, models.LicenseStatusActive, got.Status)
	assert.False(t, got.ActivatedAt.IsZero())

	byID, err := db.GetLicenseByID(ctx, lic.ID)
	require.NoError(t, err)
	assert.Equal(t, got.PurchaseCode, byID.PurchaseCode)
}

func TestGetLicenseByPurchaseCodeNotFound(t *testing.T) {
	db := setupTestDB(t)

	got, err := db.GetLicenseByPurchaseCode(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCreateLicenseDuplicateCode(t *testing.T) {
	db := setupTestDB(t)

	createTestLicense(t, db, "ABC-123", "shop.example.com")

	dup := models.NewLicense("ABC-123", "other.example.com", "hash-other")
	err := db.CreateLicense(context.Background(), dup)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicatePurchaseCode)
}

func TestListLicenses(t *testing.T) {
	db := setupTestDB(t)

	createTestLicense(t, db, "ABC-123", "a.example.com")
	createTestLicense(t, db, "DEF-456", "b.example.com")

	licenses, err := db.ListLicenses(context.Background())
	require.NoError(t, err)
	assert.Len(t, licenses, 2)
}

func TestRotateLicenseToken(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	lic := createTestLicense(t, db, "ABC-123", "shop.example.com")

	require.NoError(t, db.RotateLicenseToken(ctx, lic.ID, "hash-rotated", "shop.example.com"))

	got, err := db.GetLicenseByID(ctx, lic.ID)
	require.NoError(t, err)
	assert.Equal(t, "hash-rotated", got.TokenHash)
	require.NotNil(t, got.Domain)
	assert.Equal(t, "shop.example.com", *got.Domain)
	// Rotation must not touch the original activation time.
	assert.WithinDuration(t, lic.ActivatedAt, got.ActivatedAt, time.Second)

	// An unbound record binds to the domain supplied at rotation.
	require.NoError(t, db.ResetLicenseDomain(ctx, lic.ID))
	require.NoError(t, db.RotateLicenseToken(ctx, lic.ID, "hash-rebound", "new.example.com"))
	got, err = db.GetLicenseByID(ctx, lic.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Domain)
	assert.Equal(t, "new.example.com", *got.Domain)

	err = db.RotateLicenseToken(ctx, models.NewLicense("X", "x", "x").ID, "hash", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetLicenseStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	lic := createTestLicense(t, db, "ABC-123", "shop.example.com")

	require.NoError(t, db.SetLicenseStatus(ctx, lic.ID, models.LicenseStatusBlocked))
	got, err := db.GetLicenseByID(ctx, lic.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusBlocked, got.Status)

	require.NoError(t, db.SetLicenseStatus(ctx, lic.ID, models.LicenseStatusActive))
	got, err = db.GetLicenseByID(ctx, lic.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusActive, got.Status)
}

func TestResetLicenseDomain(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	lic := createTestLicense(t, db, "ABC-123", "shop.example.com")

	require.NoError(t, db.ResetLicenseDomain(ctx, lic.ID))

	got, err := db.GetLicenseByID(ctx, lic.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Domain)
	// The stored hash survives a domain reset.
	assert.Equal(t, lic.TokenHash, got.TokenHash)
}

func TestDeleteLicense(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	lic := createTestLicense(t, db, "ABC-123", "shop.example.com")

	require.NoError(t, db.DeleteLicense(ctx, lic.ID))

	_, err := db.GetLicenseByID(ctx, lic.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	err = db.DeleteLicense(ctx, lic.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteMockLicensesOlderThan(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	aged := createTestLicense(t, db, "MOCK-OLD", "old.example.com")
	createTestLicense(t, db, "MOCK-NEW", "new.example.com")
	keeper := createTestLicense(t, db, "ABC-123", "shop.example.com")

	// Age one mock record past the cutoff.
	_, err := db.Pool.Exec(ctx,
		`UPDATE licenses SET created_at = NOW() - INTERVAL '60 days' WHERE id = $1`, aged.ID)
	require.NoError(t, err)
	// A real license older than the cutoff must never be pruned.
	_, err = db.Pool.Exec(ctx,
		`UPDATE licenses SET created_at = NOW() - INTERVAL '60 days' WHERE id = $1`, keeper.ID)
	require.NoError(t, err)

	deleted, err := db.DeleteMockLicensesOlderThan(ctx, time.Now().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := db.ListLicenses(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestGetLicenseStats(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := createTestLicense(t, db, "ABC-123", "a.example.com")
	createTestLicense(t, db, "DEF-456", "b.example.com")
	c := createTestLicense(t, db, "GHI-789", "c.example.com")

	require.NoError(t, db.SetLicenseStatus(ctx, a.ID, models.LicenseStatusBlocked))
	require.NoError(t, db.ResetLicenseDomain(ctx, c.ID))

	stats, err := db.GetLicenseStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.Active)
	assert.Equal(t, int64(1), stats.Blocked)
	assert.Equal(t, int64(2), stats.Bound)
}

func TestServerSettings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// Migration seeds live mode.
	mode, err := db.GetServerMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ModeLive, mode)

	require.NoError(t, db.SetServerMode(ctx, models.ModeTest))
	mode, err = db.GetServerMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ModeTest, mode)

	err = db.SetServerMode(ctx, models.ServerMode("sandbox"))
	require.Error(t, err)

	val, err := db.GetServerSetting(ctx, "no_such_key")
	require.NoError(t, err)
	assert.Equal(t, "", val)

	require.NoError(t, db.SetServerSetting(ctx, "announcement", "maintenance tonight"))
	val, err = db.GetServerSetting(ctx, "announcement")
	require.NoError(t, err)
	assert.Equal(t, "maintenance tonight", val)
}

func TestHealthReport(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.Ping(context.Background()))
	health := db.Health()
	assert.Contains(t, health, "total_conns")
}
