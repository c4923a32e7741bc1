// Package balance delivers meter balance updates and detects low-balance
// threshold crossings. Updates arrive either as row-change notifications
// pushed by Postgres or, degraded, from an interval scan of the meters
// table; both satisfy the same Source contract.
package balance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sandile-dev/smartmeter-portal/internal/db"
	"go.uber.org/zap"
)

// NotifyChannel is the Postgres notification channel raised by the
// smart_meters row trigger on balance updates.
const NotifyChannel = "smart_meter_balance"

// Update is one observed balance value for a meter.
type Update struct {
	MeterID uuid.UUID `json:"meter_id"`
	UserID  uuid.UUID `json:"user_id"`
	Units   float64   `json:"units"`
}

// Source emits balance updates until ctx is cancelled.
type Source interface {
	Updates(ctx context.Context) (<-chan Update, error)
}

// NotifySource listens on the smart_meter_balance channel over a dedicated
// pooled connection.
type NotifySource struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewNotifySource creates a LISTEN/NOTIFY backed source.
func NewNotifySource(pool *pgxpool.Pool, logger *zap.Logger) *NotifySource {
	return &NotifySource{pool: pool, logger: logger}
}

// Updates acquires a connection, issues LISTEN and forwards notifications.
// The connection is held for the lifetime of the subscription and released
// on teardown. Malformed payloads are logged and dropped.
func (s *NotifySource) Updates(ctx context.Context) (<-chan Update, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listen connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen on %s: %w", NotifyChannel, err)
	}

	out := make(chan Update)
	go func() {
		defer close(out)
		defer conn.Release()

		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					s.logger.Info("balance subscription stopped")
					return
				}
				s.logger.Error("balance subscription lost", zap.Error(err))
				return
			}

			var u Update
			if err := json.Unmarshal([]byte(notification.Payload), &u); err != nil {
				s.logger.Warn("dropping malformed balance notification",
					zap.Error(err),
					zap.String("payload", notification.Payload),
				)
				continue
			}

			select {
			case out <- u:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// MeterLister lists meters for the polling source.
type MeterLister interface {
	ListAssignedMeters(ctx context.Context) ([]db.SmartMeter, error)
}

// PollSource scans the meters table on an interval. Used when the push
// subscription cannot be established.
type PollSource struct {
	meters   MeterLister
	interval time.Duration
	logger   *zap.Logger
}

// NewPollSource creates an interval-scan backed source.
func NewPollSource(meters MeterLister, interval time.Duration, logger *zap.Logger) *PollSource {
	return &PollSource{meters: meters, interval: interval, logger: logger}
}

// Updates emits the current balance of every assigned meter once per
// interval. Duplicate values are harmless; the observer only reacts to
// threshold crossings.
func (s *PollSource) Updates(ctx context.Context) (<-chan Update, error) {
	out := make(chan Update)
	go func() {
		defer close(out)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			meters, err := s.meters.ListAssignedMeters(ctx)
			if err != nil {
				s.logger.Warn("balance poll failed", zap.Error(err))
				continue
			}

			for _, m := range meters {
				if m.UserID == nil {
					continue
				}
				select {
				case out <- Update{MeterID: m.ID, UserID: *m.UserID, Units: m.CurrentUnits}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
