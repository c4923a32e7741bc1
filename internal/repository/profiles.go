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

// EnsureUserProfile creates a minimal profile row if one does not exist,
// so foreign keys from meters and transactions resolve.
func (r *Repository) EnsureUserProfile(ctx context.Context, userID uuid.UUID, fullName string) error {
	query := `
		INSERT INTO user_profiles (id, full_name, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id) DO NOTHING
	`

	if _, err := r.pool.Exec(ctx, query, userID, fullName, time.Now()); err != nil {
		return fmt.Errorf("failed to ensure user profile: %w", err)
	}
	return nil
}

// GetOrCreateNotificationPreferences returns the user's notification
// switches, creating the row with everything but marketing enabled on
// first access.
func (r *Repository) GetOrCreateNotificationPreferences(ctx context.Context, userID uuid.UUID) (*db.NotificationPreferences, error) {
	const columns = `id, user_id, low_balance, auto_load, purchases, system_updates, marketing, created_at, updated_at`

	scan := func(row pgx.Row) (*db.NotificationPreferences, error) {
		var p db.NotificationPreferences
		err := row.Scan(
			&p.ID,
			&p.UserID,
			&p.LowBalance,
			&p.AutoLoad,
			&p.Purchases,
			&p.SystemUpdates,
			&p.Marketing,
			&p.CreatedAt,
			&p.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		return &p, nil
	}

	p, err := scan(r.pool.QueryRow(ctx, `
		SELECT `+columns+`
		FROM notification_preferences
		WHERE user_id = $1
	`, userID))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to query notification preferences: %w", err)
	}

	p, err = scan(r.pool.QueryRow(ctx, `
		INSERT INTO notification_preferences (user_id, low_balance, auto_load, purchases, system_updates, marketing, created_at, updated_at)
		VALUES ($1, true, true, true, true, false, $2, $2)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = notification_preferences.updated_at
		RETURNING `+columns+`
	`, userID, time.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to create notification preferences: %w", err)
	}
	return p, nil
}
