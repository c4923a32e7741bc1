package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sandile-dev/smartmeter-portal/internal/db"
)

const settingsColumns = `id, user_id, enabled, threshold, amount, max_daily, created_at, updated_at`

// AutoLoadDefaults seeds the settings row created on a user's first access.
type AutoLoadDefaults struct {
	Threshold float64
	Amount    float64
	MaxDaily  float64
}

func scanSettings(row pgx.Row) (*db.AutoLoadSettings, error) {
	var s db.AutoLoadSettings
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.Enabled,
		&s.Threshold,
		&s.Amount,
		&s.MaxDaily,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetOrCreateAutoLoadSettings returns the user's auto-load settings,
// creating a disabled row with the configured defaults on first access.
func (r *Repository) GetOrCreateAutoLoadSettings(ctx context.Context, userID uuid.UUID, defaults AutoLoadDefaults) (*db.AutoLoadSettings, error) {
	query := `
		SELECT ` + settingsColumns + `
		FROM auto_load_settings
		WHERE user_id = $1
	`

	s, err := scanSettings(r.pool.QueryRow(ctx, query, userID))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to query auto-load settings: %w", err)
	}

	insertQuery := `
		INSERT INTO auto_load_settings (user_id, enabled, threshold, amount, max_daily, created_at, updated_at)
		VALUES ($1, false, $2, $3, $4, $5, $5)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = auto_load_settings.updated_at
		RETURNING ` + settingsColumns + `
	`

	s, err = scanSettings(r.pool.QueryRow(ctx, insertQuery,
		userID, defaults.Threshold, defaults.Amount, defaults.MaxDaily, time.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to create auto-load settings: %w", err)
	}
	return s, nil
}

// UpdateAutoLoadSettings persists a user's edits.
func (r *Repository) UpdateAutoLoadSettings(ctx context.Context, s *db.AutoLoadSettings) error {
	query := `
		UPDATE auto_load_settings
		SET enabled = $1, threshold = $2, amount = $3, max_daily = $4, updated_at = $5
		WHERE user_id = $6
		RETURNING id
	`

	err := r.pool.QueryRow(ctx, query,
		s.Enabled, s.Threshold, s.Amount, s.MaxDaily, time.Now(), s.UserID,
	).Scan(&s.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update auto-load settings: %w", err)
	}
	return nil
}
