// Package service implements the portal workflows: purchases, meter
// registration and payment-method management.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sandile-dev/smartmeter-portal/internal/autoload"
	"github.com/sandile-dev/smartmeter-portal/internal/db"
	"github.com/sandile-dev/smartmeter-portal/internal/pricing"
	"go.uber.org/zap"
)

// ErrInvalidAmount rejects a non-positive or non-numeric purchase amount
// before any side effect; no transaction is written.
var ErrInvalidAmount = errors.New("invalid purchase amount")

// ReloadPublisher delivers a reload command to a meter's topic.
type ReloadPublisher interface {
	PublishReload(ctx context.Context, meterCode, payload string) error
}

// Ledger is the slice of the repository the orchestrator needs.
type Ledger interface {
	GetMeterByID(ctx context.Context, meterID uuid.UUID) (*db.SmartMeter, error)
	InsertTransaction(ctx context.Context, tx *db.Transaction) error
	CreditMeterUnits(ctx context.Context, meterID uuid.UUID, units float64) (float64, error)
	AutoLoadTotalSince(ctx context.Context, userID uuid.UUID, since time.Time) (float64, error)
}

// PurchaseRequest describes one purchase attempt. Kind is the transaction
// kind to record: db.TxKindPurchase for manual buys, db.TxKindAutoLoad for
// automatic ones.
type PurchaseRequest struct {
	UserID          uuid.UUID
	MeterID         uuid.UUID
	Amount          float64
	Kind            string
	PaymentMethodID *uuid.UUID
}

// PurchaseService executes purchases end-to-end: compute units, publish
// the reload command, record exactly one ledger row per attempt. Attempts
// for the same meter are serialized; attempts for different meters run
// independently.
type PurchaseService struct {
	store     Ledger
	publisher ReloadPublisher
	rate      float64
	logger    *zap.Logger

	// one mutex per meter id; the cap check and the ledger write form a
	// check-then-act sequence that must not interleave for a single meter
	locks sync.Map
}

// NewPurchaseService creates a purchase orchestrator at the given tariff.
func NewPurchaseService(store Ledger, publisher ReloadPublisher, rate float64, logger *zap.Logger) *PurchaseService {
	return &PurchaseService{
		store:     store,
		publisher: publisher,
		rate:      rate,
		logger:    logger,
	}
}

func (s *PurchaseService) meterLock(meterID uuid.UUID) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(meterID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Purchase executes a manual purchase. Returns ErrInvalidAmount without
// touching the ledger for a non-positive or non-numeric amount; otherwise
// exactly one transaction row is written, completed or failed.
func (s *PurchaseService) Purchase(ctx context.Context, req PurchaseRequest) (*db.Transaction, error) {
	if req.Amount <= 0 || math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, req.Amount)
	}
	if req.Kind == "" {
		req.Kind = db.TxKindPurchase
	}

	mu := s.meterLock(req.MeterID)
	mu.Lock()
	defer mu.Unlock()

	return s.executeLocked(ctx, req)
}

// AutoPurchase executes an auto-load triggered purchase. The daily-cap
// policy is evaluated inside the meter lock against a fresh total, so two
// near-simultaneous low-balance events cannot both pass the cap check.
// Returns (nil, nil) when the policy skips the trigger.
func (s *PurchaseService) AutoPurchase(ctx context.Context, userID, meterID uuid.UUID, settings db.AutoLoadSettings) (*db.Transaction, error) {
	mu := s.meterLock(meterID)
	mu.Lock()
	defer mu.Unlock()

	total, err := s.store.AutoLoadTotalSince(ctx, userID, startOfDay(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to compute today's auto-load total: %w", err)
	}

	decision := autoload.Evaluate(settings, total)
	if !decision.Purchase {
		s.logger.Info("auto-load skipped",
			zap.String("meter_id", meterID.String()),
			zap.String("reason", decision.SkipReason),
			zap.Float64("todays_total", total),
			zap.Float64("max_daily", settings.MaxDaily),
		)
		return nil, nil
	}

	return s.executeLocked(ctx, PurchaseRequest{
		UserID:  userID,
		MeterID: meterID,
		Amount:  decision.Amount,
		Kind:    db.TxKindAutoLoad,
	})
}

// executeLocked runs the publish-then-record sequence. Callers hold the
// meter lock.
func (s *PurchaseService) executeLocked(ctx context.Context, req PurchaseRequest) (*db.Transaction, error) {
	meter, err := s.store.GetMeterByID(ctx, req.MeterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load meter: %w", err)
	}

	units := pricing.UnitsFor(req.Amount, s.rate)
	payload := pricing.FormatUnits(units)

	amount := req.Amount
	recordedUnits := units
	meterID := meter.ID
	tx := &db.Transaction{
		UserID:          req.UserID,
		MeterID:         &meterID,
		Kind:            req.Kind,
		Amount:          &amount,
		Units:           &recordedUnits,
		PaymentMethodID: req.PaymentMethodID,
	}

	pubErr := s.publisher.PublishReload(ctx, meter.MeterCode, payload)
	if pubErr != nil {
		tx.Status = db.TxStatusFailed
		tx.Description = fmt.Sprintf("Purchase of %s kWh for meter %s failed: reload not delivered", payload, meter.MeterCode)
		if err := s.store.InsertTransaction(ctx, tx); err != nil {
			s.logger.Error("failed to record failed purchase", zap.Error(err))
			return nil, fmt.Errorf("publish failed (%v) and ledger write failed: %w", pubErr, err)
		}
		s.logger.Warn("purchase failed",
			zap.String("meter_code", meter.MeterCode),
			zap.Float64("amount", amount),
			zap.Error(pubErr),
		)
		return tx, pubErr
	}

	tx.Status = db.TxStatusCompleted
	tx.Description = fmt.Sprintf("Loaded %s kWh onto meter %s", payload, meter.MeterCode)
	if err := s.store.InsertTransaction(ctx, tx); err != nil {
		// The reload was already acknowledged by the broker; surface the
		// write failure loudly rather than dropping the side effect.
		s.logger.Error("reload delivered but ledger write failed",
			zap.String("meter_code", meter.MeterCode),
			zap.Float64("amount", amount),
			zap.Error(err),
		)
		return nil, fmt.Errorf("reload delivered but transaction not recorded: %w", err)
	}

	if _, err := s.store.CreditMeterUnits(ctx, meter.ID, units); err != nil {
		// Ledger row exists; the balance will be corrected by the next
		// device telemetry reading.
		s.logger.Warn("failed to credit meter balance", zap.Error(err))
	}

	s.logger.Info("purchase completed",
		zap.String("meter_code", meter.MeterCode),
		zap.String("kind", req.Kind),
		zap.Float64("amount", amount),
		zap.Float64("units", units),
	)

	return tx, nil
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
