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

const paymentMethodColumns = `id, user_id, type, name, details, is_default, is_active, created_at, updated_at`

func scanPaymentMethod(row pgx.Row) (*db.PaymentMethod, error) {
	var pm db.PaymentMethod
	err := row.Scan(
		&pm.ID,
		&pm.UserID,
		&pm.Type,
		&pm.Name,
		&pm.Details,
		&pm.IsDefault,
		&pm.IsActive,
		&pm.CreatedAt,
		&pm.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pm, nil
}

// ListActivePaymentMethods returns a user's active payment methods,
// default first.
func (r *Repository) ListActivePaymentMethods(ctx context.Context, userID uuid.UUID) ([]db.PaymentMethod, error) {
	query := `
		SELECT ` + paymentMethodColumns + `
		FROM payment_methods
		WHERE user_id = $1 AND is_active = true
		ORDER BY is_default DESC, created_at
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment methods: %w", err)
	}
	defer rows.Close()

	var methods []db.PaymentMethod
	for rows.Next() {
		pm, err := scanPaymentMethod(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment method: %w", err)
		}
		methods = append(methods, *pm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return methods, nil
}

// InsertPaymentMethod stores a new payment method for a user.
func (r *Repository) InsertPaymentMethod(ctx context.Context, pm *db.PaymentMethod) error {
	query := `
		INSERT INTO payment_methods (user_id, type, name, details, is_default, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, true, $6, $6)
		RETURNING id
	`

	now := time.Now()
	err := r.pool.QueryRow(ctx, query,
		pm.UserID, pm.Type, pm.Name, pm.Details, pm.IsDefault, now,
	).Scan(&pm.ID)
	if err != nil {
		return fmt.Errorf("failed to insert payment method: %w", err)
	}
	pm.IsActive = true
	pm.CreatedAt = now
	pm.UpdatedAt = now
	return nil
}

// UpdatePaymentMethod updates the display fields of a payment method.
func (r *Repository) UpdatePaymentMethod(ctx context.Context, pm *db.PaymentMethod) error {
	query := `
		UPDATE payment_methods
		SET type = $1, name = $2, details = $3, updated_at = $4
		WHERE id = $5
		RETURNING ` + paymentMethodColumns + `
	`

	updated, err := scanPaymentMethod(r.pool.QueryRow(ctx, query,
		pm.Type, pm.Name, pm.Details, time.Now(), pm.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update payment method: %w", err)
	}
	*pm = *updated
	return nil
}

// DeactivatePaymentMethod soft-deletes a payment method; rows are never
// removed so ledger references stay resolvable.
func (r *Repository) DeactivatePaymentMethod(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE payment_methods
		SET is_active = false, is_default = false, updated_at = $1
		WHERE id = $2
	`

	tag, err := r.pool.Exec(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate payment method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDefaultPaymentMethod makes one method the default for its user. The
// clear and the set run in a single transaction so at most one active
// method carries the default flag regardless of call interleaving.
func (r *Repository) SetDefaultPaymentMethod(ctx context.Context, userID, id uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	if _, err := tx.Exec(ctx, `
		UPDATE payment_methods
		SET is_default = false, updated_at = $1
		WHERE user_id = $2 AND is_default = true
	`, now, userID); err != nil {
		return fmt.Errorf("failed to clear default payment method: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE payment_methods
		SET is_default = true, updated_at = $1
		WHERE id = $2 AND user_id = $3 AND is_active = true
	`, now, id, userID)
	if err != nil {
		return fmt.Errorf("failed to set default payment method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
