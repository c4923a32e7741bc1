package autoload

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sandile-dev/smartmeter-portal/internal/balance"
	"github.com/sandile-dev/smartmeter-portal/internal/db"
	"github.com/sandile-dev/smartmeter-portal/internal/logging"
	"github.com/sandile-dev/smartmeter-portal/internal/repository"
	"go.uber.org/zap"
)

// Purchaser executes an automatic purchase end-to-end. The implementation
// re-checks the daily cap under the per-meter lock, so the runner never
// has to worry about racing triggers.
type Purchaser interface {
	AutoPurchase(ctx context.Context, userID, meterID uuid.UUID, settings db.AutoLoadSettings) (*db.Transaction, error)
}

// Store is the slice of the repository the runner needs.
type Store interface {
	GetOrCreateAutoLoadSettings(ctx context.Context, userID uuid.UUID, defaults repository.AutoLoadDefaults) (*db.AutoLoadSettings, error)
	GetOrCreateNotificationPreferences(ctx context.Context, userID uuid.UUID) (*db.NotificationPreferences, error)
	InsertTransaction(ctx context.Context, tx *db.Transaction) error
}

// Runner consumes balance updates, detects low-balance crossings and
// drives the auto-load purchase flow.
type Runner struct {
	source   balance.Source
	fallback balance.Source
	observer *balance.Observer
	store    Store
	purchase Purchaser
	defaults repository.AutoLoadDefaults
	logger   *zap.Logger
}

// RunnerConfig holds runner wiring.
type RunnerConfig struct {
	Source   balance.Source
	Fallback balance.Source
	Store    Store
	Purchase Purchaser
	Defaults repository.AutoLoadDefaults
	Logger   *zap.Logger
}

// NewRunner creates a runner with a fresh crossing observer.
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		source:   cfg.Source,
		fallback: cfg.Fallback,
		observer: balance.NewObserver(),
		store:    cfg.Store,
		purchase: cfg.Purchase,
		defaults: cfg.Defaults,
		logger:   cfg.Logger,
	}
}

// Run subscribes to balance updates and processes them until ctx is
// cancelled. If the push subscription cannot be established it degrades to
// the polling source rather than failing startup.
func (r *Runner) Run(ctx context.Context) error {
	updates, err := r.source.Updates(ctx)
	if err != nil {
		r.logger.Warn("balance subscription unavailable, degrading to polling", zap.Error(err))
		updates, err = r.fallback.Updates(ctx)
		if err != nil {
			return fmt.Errorf("failed to start balance polling: %w", err)
		}
	}

	go r.consume(ctx, updates)

	return nil
}

// consume drains the update stream. A stream that closes before ctx is
// cancelled means the push subscription was lost mid-run; the runner then
// degrades to the polling source instead of going dark.
func (r *Runner) consume(ctx context.Context, updates <-chan balance.Update) {
	for {
		for u := range updates {
			r.handleUpdate(ctx, u)
		}

		if ctx.Err() != nil {
			r.logger.Info("auto-load runner stopped")
			return
		}

		r.logger.Warn("balance update stream lost, degrading to polling")
		var err error
		updates, err = r.fallback.Updates(ctx)
		if err != nil {
			r.logger.Error("failed to start balance polling", zap.Error(err))
			return
		}
	}
}

func (r *Runner) handleUpdate(ctx context.Context, u balance.Update) {
	log := logging.WithMeter(r.logger, u.MeterID.String())

	settings, err := r.store.GetOrCreateAutoLoadSettings(ctx, u.UserID, r.defaults)
	if err != nil {
		log.Error("failed to load auto-load settings", zap.Error(err))
		return
	}

	if !r.observer.Observe(u.MeterID, u.Units, settings.Threshold) {
		return
	}

	log.Info("low balance crossing detected",
		zap.Float64("units", u.Units),
		zap.Float64("threshold", settings.Threshold),
	)

	r.recordLowBalanceAlert(ctx, u, log)

	tx, err := r.purchase.AutoPurchase(ctx, u.UserID, u.MeterID, *settings)
	if err != nil {
		log.Error("auto-load purchase failed", zap.Error(err))
		return
	}
	if tx == nil {
		// Skip was already logged by the orchestrator with its reason.
		return
	}

	log.Info("auto-load purchase completed",
		zap.String("transaction_id", tx.ID.String()),
		zap.Float64("amount", *tx.Amount),
		zap.Float64("units", *tx.Units),
	)
}

// recordLowBalanceAlert appends an alert row to the ledger when the user
// has low-balance notifications enabled. Alert rows carry neither amount
// nor units.
func (r *Runner) recordLowBalanceAlert(ctx context.Context, u balance.Update, log *zap.Logger) {
	prefs, err := r.store.GetOrCreateNotificationPreferences(ctx, u.UserID)
	if err != nil {
		log.Warn("failed to load notification preferences", zap.Error(err))
		return
	}
	if !prefs.LowBalance {
		return
	}

	meterID := u.MeterID
	alert := &db.Transaction{
		UserID:      u.UserID,
		MeterID:     &meterID,
		Kind:        db.TxKindAlert,
		Status:      db.TxStatusCompleted,
		Description: fmt.Sprintf("Low balance alert: %.1f kWh remaining", u.Units),
	}
	if err := r.store.InsertTransaction(ctx, alert); err != nil {
		log.Warn("failed to record low balance alert", zap.Error(err))
	}
}
