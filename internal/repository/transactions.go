package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sandile-dev/smartmeter-portal/internal/db"
)

// InsertTransaction appends one row to the ledger and fills in the
// generated id and timestamp. Failed attempts are retried by inserting a
// new row, never by mutating an old one.
func (r *Repository) InsertTransaction(ctx context.Context, tx *db.Transaction) error {
	query := `
		INSERT INTO transactions (
			user_id, meter_id, type, amount, units,
			status, description, payment_method_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	now := time.Now()
	err := r.pool.QueryRow(ctx, query,
		tx.UserID,
		tx.MeterID,
		tx.Kind,
		tx.Amount,
		tx.Units,
		tx.Status,
		tx.Description,
		tx.PaymentMethodID,
		now,
	).Scan(&tx.ID)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	tx.CreatedAt = now

	return nil
}

// ListTransactionsByUser returns the user's ledger newest first, with the
// payment method name and type joined when one is referenced.
func (r *Repository) ListTransactionsByUser(ctx context.Context, userID uuid.UUID) ([]db.Transaction, error) {
	query := `
		SELECT t.id, t.user_id, t.meter_id, t.type, t.amount, t.units,
		       t.status, t.description, t.payment_method_id, t.created_at,
		       COALESCE(pm.name, ''), COALESCE(pm.type, '')
		FROM transactions t
		LEFT JOIN payment_methods pm ON pm.id = t.payment_method_id
		WHERE t.user_id = $1
		ORDER BY t.created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []db.Transaction
	for rows.Next() {
		var t db.Transaction
		err := rows.Scan(
			&t.ID,
			&t.UserID,
			&t.MeterID,
			&t.Kind,
			&t.Amount,
			&t.Units,
			&t.Status,
			&t.Description,
			&t.PaymentMethodID,
			&t.CreatedAt,
			&t.PaymentMethodName,
			&t.PaymentMethodType,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return txs, nil
}

// AutoLoadTotalSince sums the user's completed auto-load purchases created
// at or after the given instant. The auto-load policy uses midnight local
// time to enforce the daily cap.
func (r *Repository) AutoLoadTotalSince(ctx context.Context, userID uuid.UUID, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE user_id = $1
		  AND type = $2
		  AND status = $3
		  AND created_at >= $4
	`

	var total float64
	err := r.pool.QueryRow(ctx, query, userID, db.TxKindAutoLoad, db.TxStatusCompleted, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum auto-load transactions: %w", err)
	}
	return total, nil
}
