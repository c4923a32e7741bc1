package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/sandile-dev/smartmeter-portal/internal/db"
	"go.uber.org/zap"
)

// PaymentStore is the slice of the repository payment-method management
// needs. SetDefaultPaymentMethod is transactional: it clears the user's
// previous default and sets the new one atomically.
type PaymentStore interface {
	ListActivePaymentMethods(ctx context.Context, userID uuid.UUID) ([]db.PaymentMethod, error)
	InsertPaymentMethod(ctx context.Context, pm *db.PaymentMethod) error
	UpdatePaymentMethod(ctx context.Context, pm *db.PaymentMethod) error
	DeactivatePaymentMethod(ctx context.Context, id uuid.UUID) error
	SetDefaultPaymentMethod(ctx context.Context, userID, id uuid.UUID) error
}

// PaymentService manages stored payment methods while preserving the
// at-most-one-default invariant among a user's active methods.
type PaymentService struct {
	store  PaymentStore
	logger *zap.Logger
}

// NewPaymentService creates a payment-method service.
func NewPaymentService(store PaymentStore, logger *zap.Logger) *PaymentService {
	return &PaymentService{store: store, logger: logger}
}

// List returns the user's active methods, default first.
func (s *PaymentService) List(ctx context.Context, userID uuid.UUID) ([]db.PaymentMethod, error) {
	return s.store.ListActivePaymentMethods(ctx, userID)
}

// Add stores a new method. The user's first method always becomes the
// default; otherwise makeDefault decides.
func (s *PaymentService) Add(ctx context.Context, pm *db.PaymentMethod, makeDefault bool) error {
	existing, err := s.store.ListActivePaymentMethods(ctx, pm.UserID)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		makeDefault = true
	}

	pm.IsDefault = false
	if err := s.store.InsertPaymentMethod(ctx, pm); err != nil {
		return err
	}

	if makeDefault {
		if err := s.store.SetDefaultPaymentMethod(ctx, pm.UserID, pm.ID); err != nil {
			return err
		}
		pm.IsDefault = true
	}
	return nil
}

// Update edits the display fields of a method.
func (s *PaymentService) Update(ctx context.Context, pm *db.PaymentMethod) error {
	return s.store.UpdatePaymentMethod(ctx, pm)
}

// SetDefault makes one active method the user's default.
func (s *PaymentService) SetDefault(ctx context.Context, userID, id uuid.UUID) error {
	return s.store.SetDefaultPaymentMethod(ctx, userID, id)
}

// Remove soft-deletes a method. When the removed method was the default,
// the oldest remaining active method is promoted so the user keeps a
// default as long as any method is active.
func (s *PaymentService) Remove(ctx context.Context, userID, id uuid.UUID) error {
	methods, err := s.store.ListActivePaymentMethods(ctx, userID)
	if err != nil {
		return err
	}

	wasDefault := false
	for _, m := range methods {
		if m.ID == id {
			wasDefault = m.IsDefault
			break
		}
	}

	if err := s.store.DeactivatePaymentMethod(ctx, id); err != nil {
		return err
	}

	if !wasDefault {
		return nil
	}

	remaining, err := s.store.ListActivePaymentMethods(ctx, userID)
	if err != nil {
		return err
	}
	var oldest *db.PaymentMethod
	for i := range remaining {
		if remaining[i].ID == id {
			continue
		}
		if oldest == nil || remaining[i].CreatedAt.Before(oldest.CreatedAt) {
			oldest = &remaining[i]
		}
	}
	if oldest == nil {
		return nil
	}

	if err := s.store.SetDefaultPaymentMethod(ctx, userID, oldest.ID); err != nil {
		return err
	}
	s.logger.Info("promoted replacement default payment method",
		zap.String("user_id", userID.String()),
		zap.String("payment_method_id", oldest.ID.String()),
	)
	return nil
}
