package service_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sandile-dev/smartmeter-portal/internal/db"
	"github.com/sandile-dev/smartmeter-portal/internal/service"
	"go.uber.org/zap"
)

// fakePaymentStore mirrors the repository semantics: soft delete, and an
// atomic clear-then-set for the default flag.
type fakePaymentStore struct {
	mu      sync.Mutex
	methods map[uuid.UUID]*db.PaymentMethod
	clock   time.Time
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{
		methods: make(map[uuid.UUID]*db.PaymentMethod),
		clock:   time.Now(),
	}
}

func (f *fakePaymentStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakePaymentStore) ListActivePaymentMethods(ctx context.Context, userID uuid.UUID) ([]db.PaymentMethod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.PaymentMethod
	for _, m := range f.methods {
		if m.UserID == userID && m.IsActive {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (f *fakePaymentStore) InsertPaymentMethod(ctx context.Context, pm *db.PaymentMethod) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pm.ID = uuid.New()
	pm.IsActive = true
	pm.CreatedAt = f.tick()
	cp := *pm
	f.methods[pm.ID] = &cp
	return nil
}

func (f *fakePaymentStore) UpdatePaymentMethod(ctx context.Context, pm *db.PaymentMethod) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.methods[pm.ID]
	if !ok {
		return errors.New("not found")
	}
	existing.Type, existing.Name, existing.Details = pm.Type, pm.Name, pm.Details
	return nil
}

func (f *fakePaymentStore) DeactivatePaymentMethod(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.methods[id]
	if !ok {
		return errors.New("not found")
	}
	m.IsActive = false
	m.IsDefault = false
	return nil
}

func (f *fakePaymentStore) SetDefaultPaymentMethod(ctx context.Context, userID, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, ok := f.methods[id]
	if !ok || target.UserID != userID || !target.IsActive {
		return errors.New("not found")
	}
	for _, m := range f.methods {
		if m.UserID == userID {
			m.IsDefault = false
		}
	}
	target.IsDefault = true
	return nil
}

func (f *fakePaymentStore) defaultCount(userID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.methods {
		if m.UserID == userID && m.IsActive && m.IsDefault {
			n++
		}
	}
	return n
}

func addMethod(t *testing.T, svc *service.PaymentService, userID uuid.UUID, name string, makeDefault bool) *db.PaymentMethod {
	t.Helper()
	pm := &db.PaymentMethod{
		UserID:  userID,
		Type:    db.PaymentTypeCard,
		Name:    name,
		Details: "**** 4242",
	}
	if err := svc.Add(context.Background(), pm, makeDefault); err != nil {
		t.Fatalf("Add(%s) failed: %v", name, err)
	}
	return pm
}

func TestPaymentMethods_FirstMethodBecomesDefault(t *testing.T) {
	store := newFakePaymentStore()
	svc := service.NewPaymentService(store, zap.NewNop())
	userID := uuid.New()

	pm := addMethod(t, svc, userID, "Visa", false)

	if !pm.IsDefault {
		t.Error("First payment method must become the default")
	}
	if n := store.defaultCount(userID); n != 1 {
		t.Errorf("Expected 1 default, got %d", n)
	}
}

func TestPaymentMethods_AtMostOneDefaultAfterAnySequence(t *testing.T) {
	store := newFakePaymentStore()
	svc := service.NewPaymentService(store, zap.NewNop())
	userID := uuid.New()
	ctx := context.Background()

	visa := addMethod(t, svc, userID, "Visa", true)
	momo := addMethod(t, svc, userID, "Mobile Money", true)
	bank := addMethod(t, svc, userID, "Standard Bank", false)

	for _, id := range []uuid.UUID{visa.ID, momo.ID, bank.ID, momo.ID, visa.ID} {
		if err := svc.SetDefault(ctx, userID, id); err != nil {
			t.Fatalf("SetDefault failed: %v", err)
		}
		if n := store.defaultCount(userID); n != 1 {
			t.Fatalf("Expected exactly 1 default after SetDefault, got %d", n)
		}
	}
}

func TestPaymentMethods_RemovingDefaultPromotesOldestRemaining(t *testing.T) {
	store := newFakePaymentStore()
	svc := service.NewPaymentService(store, zap.NewNop())
	userID := uuid.New()
	ctx := context.Background()

	visa := addMethod(t, svc, userID, "Visa", true)
	momo := addMethod(t, svc, userID, "Mobile Money", false)
	addMethod(t, svc, userID, "Standard Bank", false)

	if err := svc.Remove(ctx, userID, visa.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if n := store.defaultCount(userID); n != 1 {
		t.Fatalf("Expected exactly 1 default after removing the default, got %d", n)
	}

	methods, _ := svc.List(ctx, userID)
	if len(methods) != 2 {
		t.Fatalf("Expected 2 active methods, got %d", len(methods))
	}
	if methods[0].ID != momo.ID || !methods[0].IsDefault {
		t.Errorf("Expected oldest remaining method %q promoted to default", "Mobile Money")
	}
}

func TestPaymentMethods_RemovingLastMethodLeavesNoDefault(t *testing.T) {
	store := newFakePaymentStore()
	svc := service.NewPaymentService(store, zap.NewNop())
	userID := uuid.New()
	ctx := context.Background()

	visa := addMethod(t, svc, userID, "Visa", true)

	if err := svc.Remove(ctx, userID, visa.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if n := store.defaultCount(userID); n != 0 {
		t.Errorf("Expected no defaults after removing the only method, got %d", n)
	}
	methods, _ := svc.List(ctx, userID)
	if len(methods) != 0 {
		t.Errorf("Expected no active methods, got %d", len(methods))
	}
}
