package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gatekey/gatekey/internal/models"
	"github.com/jackc/pgx/v5"
)

// Server settings methods. Settings are read fresh on every request; the
// mode flag in particular must not be cached across requests.

// GetServerSetting returns a server setting value, or "" if unset.
func (db *DB) GetServerSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := db.Pool.QueryRow(ctx, `
		SELECT setting_value FROM server_settings WHERE setting_key = $1
	`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get server setting %s: %w", key, err)
	}
	return value, nil
}

// SetServerSetting writes a server setting value.
func (db *DB) SetServerSetting(ctx context.Context, key, value string) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO server_settings (setting_key, setting_value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (setting_key) DO UPDATE SET setting_value = $2, updated_at = $3
	`, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("set server setting %s: %w", key, err)
	}
	return nil
}

// serverModeKey is the settings key carrying the global live/test flag.
const serverModeKey = "server_mode"

// GetServerMode returns the current global mode. An unset or unknown value
// falls back to live: validation strictness fails closed.
func (db *DB) GetServerMode(ctx context.Context) (models.ServerMode, error) {
	value, err := db.GetServerSetting(ctx, serverModeKey)
	if err != nil {
		return models.ModeLive, err
	}
	mode := models.ServerMode(value)
	if !mode.IsValid() {
		return models.ModeLive, nil
	}
	return mode, nil
}

// SetServerMode writes the global mode flag.
func (db *DB) SetServerMode(ctx context.Context, mode models.ServerMode) error {
	if !mode.IsValid() {
		return fmt.Errorf("invalid server mode: %s", mode)
	}
	return db.SetServerSetting(ctx, serverModeKey, string(mode))
}
