package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sandile-dev/smartmeter-portal/internal/db"
	"go.uber.org/zap"
)

// ErrInvalidMeterCode rejects an empty or blank meter code.
var ErrInvalidMeterCode = errors.New("invalid meter code")

// RegistrationStore is the slice of the repository meter registration needs.
type RegistrationStore interface {
	EnsureUserProfile(ctx context.Context, userID uuid.UUID, fullName string) error
	InsertMeter(ctx context.Context, meterCode string, userID uuid.UUID) (*db.SmartMeter, error)
	GetMeterByUser(ctx context.Context, userID uuid.UUID) (*db.SmartMeter, error)
	InsertTransaction(ctx context.Context, tx *db.Transaction) error
}

// MeterService registers smart meters and serves meter lookups.
type MeterService struct {
	store  RegistrationStore
	logger *zap.Logger
}

// NewMeterService creates a meter service.
func NewMeterService(store RegistrationStore, logger *zap.Logger) *MeterService {
	return &MeterService{store: store, logger: logger}
}

// Register binds a meter code to a user. A minimal profile row is created
// first so the foreign key resolves, and a meter-update ledger row records
// the registration. The meter code must not already be claimed
// (repository.ErrMeterTaken).
func (s *MeterService) Register(ctx context.Context, userID uuid.UUID, fullName, meterCode string) (*db.SmartMeter, error) {
	meterCode = strings.TrimSpace(meterCode)
	if meterCode == "" {
		return nil, ErrInvalidMeterCode
	}

	if err := s.store.EnsureUserProfile(ctx, userID, fullName); err != nil {
		return nil, err
	}

	meter, err := s.store.InsertMeter(ctx, meterCode, userID)
	if err != nil {
		return nil, err
	}

	meterID := meter.ID
	record := &db.Transaction{
		UserID:      userID,
		MeterID:     &meterID,
		Kind:        db.TxKindMeterUpdate,
		Status:      db.TxStatusCompleted,
		Description: fmt.Sprintf("Smart meter %s registered successfully", meterCode),
	}
	if err := s.store.InsertTransaction(ctx, record); err != nil {
		// The meter row exists; don't fail registration over the audit row.
		s.logger.Warn("failed to record meter registration", zap.Error(err))
	}

	s.logger.Info("meter registered",
		zap.String("meter_code", meterCode),
		zap.String("user_id", userID.String()),
	)

	return meter, nil
}

// MeterForUser returns the user's registered meter.
func (s *MeterService) MeterForUser(ctx context.Context, userID uuid.UUID) (*db.SmartMeter, error) {
	return s.store.GetMeterByUser(ctx, userID)
}
