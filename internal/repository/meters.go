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

const meterColumns = `id, meter_id, user_id, status, current_units, last_update, created_at`

func scanMeter(row pgx.Row) (*db.SmartMeter, error) {
	var m db.SmartMeter
	err := row.Scan(
		&m.ID,
		&m.MeterCode,
		&m.UserID,
		&m.Status,
		&m.CurrentUnits,
		&m.LastUpdate,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMeterByUser returns the meter registered to a user. At most one meter
// per user exists in this design.
func (r *Repository) GetMeterByUser(ctx context.Context, userID uuid.UUID) (*db.SmartMeter, error) {
	query := `
		SELECT ` + meterColumns + `
		FROM smart_meters
		WHERE user_id = $1
	`

	m, err := scanMeter(r.pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query meter by user: %w", err)
	}
	return m, nil
}

// GetMeterByID returns a meter by its row id.
func (r *Repository) GetMeterByID(ctx context.Context, meterID uuid.UUID) (*db.SmartMeter, error) {
	query := `
		SELECT ` + meterColumns + `
		FROM smart_meters
		WHERE id = $1
	`

	m, err := scanMeter(r.pool.QueryRow(ctx, query, meterID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query meter: %w", err)
	}
	return m, nil
}

// GetMeterByCode returns a meter by its user-facing code.
func (r *Repository) GetMeterByCode(ctx context.Context, meterCode string) (*db.SmartMeter, error) {
	query := `
		SELECT ` + meterColumns + `
		FROM smart_meters
		WHERE meter_id = $1
	`

	m, err := scanMeter(r.pool.QueryRow(ctx, query, meterCode))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query meter by code: %w", err)
	}
	return m, nil
}

// InsertMeter registers a new meter for a user. meter_id carries a unique
// index, so concurrent registrations of the same code race at the
// constraint rather than at a read; the losing insert surfaces as
// ErrMeterTaken.
func (r *Repository) InsertMeter(ctx context.Context, meterCode string, userID uuid.UUID) (*db.SmartMeter, error) {
	query := `
		INSERT INTO smart_meters (meter_id, user_id, status, current_units, last_update, created_at)
		VALUES ($1, $2, $3, 0, $4, $4)
		RETURNING ` + meterColumns + `
	`

	m, err := scanMeter(r.pool.QueryRow(ctx, query, meterCode, userID, db.MeterStatusConnected, time.Now()))
	if isUniqueViolation(err) {
		return nil, ErrMeterTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert meter: %w", err)
	}
	return m, nil
}

// CreditMeterUnits adds purchased units to the meter balance and bumps
// last_update, returning the new balance.
func (r *Repository) CreditMeterUnits(ctx context.Context, meterID uuid.UUID, units float64) (float64, error) {
	query := `
		UPDATE smart_meters
		SET current_units = current_units + $1, last_update = $2
		WHERE id = $3
		RETURNING current_units
	`

	var balance float64
	err := r.pool.QueryRow(ctx, query, units, time.Now(), meterID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to credit meter units: %w", err)
	}
	return balance, nil
}

// SetMeterReading overwrites the balance with an absolute device reading
// and marks the meter connected.
func (r *Repository) SetMeterReading(ctx context.Context, meterID uuid.UUID, units float64, readAt time.Time) error {
	query := `
		UPDATE smart_meters
		SET current_units = $1, status = $2, last_update = $3
		WHERE id = $4
	`

	tag, err := r.pool.Exec(ctx, query, units, db.MeterStatusConnected, readAt, meterID)
	if err != nil {
		return fmt.Errorf("failed to set meter reading: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAssignedMeters returns all meters bound to a user, for the polling
// balance source.
func (r *Repository) ListAssignedMeters(ctx context.Context) ([]db.SmartMeter, error) {
	query := `
		SELECT ` + meterColumns + `
		FROM smart_meters
		WHERE user_id IS NOT NULL
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list meters: %w", err)
	}
	defer rows.Close()

	var meters []db.SmartMeter
	for rows.Next() {
		m, err := scanMeter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meter: %w", err)
		}
		meters = append(meters, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return meters, nil
}
