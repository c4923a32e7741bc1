package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sandile-dev/smartmeter-portal/internal/db"
	"github.com/sandile-dev/smartmeter-portal/tools/timeparser"
	"go.uber.org/zap"
)

// Reading is the telemetry message a meter publishes: its code, the unit
// balance it currently holds (sometimes bracketed by older firmware) and
// the device timestamp.
type Reading struct {
	MeterCode string `json:"meter_code"`
	Units     string `json:"units"`
	Date      string `json:"date"`
}

// TelemetryStore is the slice of the repository telemetry ingestion needs.
type TelemetryStore interface {
	GetMeterByCode(ctx context.Context, meterCode string) (*db.SmartMeter, error)
	SetMeterReading(ctx context.Context, meterID uuid.UUID, units float64, readAt time.Time) error
}

// TelemetryService applies device balance readings to registered meters.
// The stored balance is the absolute reading; a notification trigger on
// the meters table then feeds the balance observer.
type TelemetryService struct {
	store            TelemetryStore
	toleranceMinutes int
	logger           *zap.Logger
}

// NewTelemetryService creates a telemetry ingestion service.
func NewTelemetryService(store TelemetryStore, toleranceMinutes int, logger *zap.Logger) *TelemetryService {
	return &TelemetryService{
		store:            store,
		toleranceMinutes: toleranceMinutes,
		logger:           logger,
	}
}

// HandleMessage processes one telemetry message. Returned errors send the
// message to the dead-letter queue.
func (s *TelemetryService) HandleMessage(ctx context.Context, body []byte) error {
	var r Reading
	if err := json.Unmarshal(body, &r); err != nil {
		return fmt.Errorf("failed to unmarshal telemetry: %w", err)
	}

	units, readAt, err := s.validateReading(r, time.Now())
	if err != nil {
		return err
	}

	meter, err := s.store.GetMeterByCode(ctx, r.MeterCode)
	if err != nil {
		return fmt.Errorf("telemetry for unknown meter %q: %w", r.MeterCode, err)
	}

	if err := s.store.SetMeterReading(ctx, meter.ID, units, readAt); err != nil {
		return err
	}

	s.logger.Debug("applied meter reading",
		zap.String("meter_code", r.MeterCode),
		zap.Float64("units", units),
	)
	return nil
}

// validateReading parses and checks a reading. A missing or unparseable
// device timestamp falls back to receivedAt; a parseable one far outside
// the tolerance window is rejected.
func (s *TelemetryService) validateReading(r Reading, receivedAt time.Time) (float64, time.Time, error) {
	if r.MeterCode == "" {
		return 0, time.Time{}, fmt.Errorf("telemetry missing meter code")
	}

	raw := strings.Trim(r.Units, "[]")
	units, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("invalid unit reading %q: %w", r.Units, err)
	}
	if units < 0 {
		return 0, time.Time{}, fmt.Errorf("negative unit reading %v for meter %s", units, r.MeterCode)
	}

	readAt, err := timeparser.ParseMeterTimestamp(r.Date)
	if err != nil {
		readAt = receivedAt
	} else if !timeparser.IsWithinTolerance(readAt, receivedAt, s.toleranceMinutes) {
		return 0, time.Time{}, fmt.Errorf("reading timestamp outside tolerance window (±%d minutes)", s.toleranceMinutes)
	}

	return units, readAt, nil
}
