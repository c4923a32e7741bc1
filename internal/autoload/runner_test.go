package autoload_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sandile-dev/smartmeter-portal/internal/autoload"
	"github.com/sandile-dev/smartmeter-portal/internal/balance"
	"github.com/sandile-dev/smartmeter-portal/internal/db"
	"github.com/sandile-dev/smartmeter-portal/internal/repository"
	"go.uber.org/zap"
)

type fakeSource struct {
	mu    sync.Mutex
	ch    chan balance.Update
	err   error
	calls int
}

func (s *fakeSource) Updates(ctx context.Context) (<-chan balance.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.ch, nil
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeRunnerStore struct {
	mu       sync.Mutex
	settings db.AutoLoadSettings
	prefs    db.NotificationPreferences
	inserted []db.Transaction
}

func (s *fakeRunnerStore) GetOrCreateAutoLoadSettings(ctx context.Context, userID uuid.UUID, defaults repository.AutoLoadDefaults) (*db.AutoLoadSettings, error) {
	cp := s.settings
	cp.UserID = userID
	return &cp, nil
}

func (s *fakeRunnerStore) GetOrCreateNotificationPreferences(ctx context.Context, userID uuid.UUID) (*db.NotificationPreferences, error) {
	cp := s.prefs
	cp.UserID = userID
	return &cp, nil
}

func (s *fakeRunnerStore) InsertTransaction(ctx context.Context, tx *db.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, *tx)
	return nil
}

func (s *fakeRunnerStore) insertedByKind(kind string) []db.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.Transaction
	for _, tx := range s.inserted {
		if tx.Kind == kind {
			out = append(out, tx)
		}
	}
	return out
}

type fakeAutoPurchaser struct {
	mu     sync.Mutex
	meters []uuid.UUID
}

func (p *fakeAutoPurchaser) AutoPurchase(ctx context.Context, userID, meterID uuid.UUID, settings db.AutoLoadSettings) (*db.Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.meters = append(p.meters, meterID)

	amount := settings.Amount
	units := amount / 5.0
	id := meterID
	return &db.Transaction{
		ID:      uuid.New(),
		UserID:  userID,
		MeterID: &id,
		Kind:    db.TxKindAutoLoad,
		Status:  db.TxStatusCompleted,
		Amount:  &amount,
		Units:   &units,
	}, nil
}

func (p *fakeAutoPurchaser) purchasedMeters() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uuid.UUID(nil), p.meters...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func enabledSettings() db.AutoLoadSettings {
	return db.AutoLoadSettings{Enabled: true, Threshold: 10, Amount: 100, MaxDaily: 250}
}

func runnerDefaults() repository.AutoLoadDefaults {
	return repository.AutoLoadDefaults{Threshold: 10, Amount: 100, MaxDaily: 250}
}

func TestRunner_DegradesToPollingWhenSubscriptionFails(t *testing.T) {
	fallbackCh := make(chan balance.Update, 1)
	primary := &fakeSource{err: errors.New("listen failed")}
	fallback := &fakeSource{ch: fallbackCh}
	store := &fakeRunnerStore{settings: enabledSettings()}
	purchaser := &fakeAutoPurchaser{}

	runner := autoload.NewRunner(autoload.RunnerConfig{
		Source:   primary,
		Fallback: fallback,
		Store:    store,
		Purchase: purchaser,
		Defaults: runnerDefaults(),
		Logger:   zap.NewNop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runner.Run(ctx); err != nil {
		t.Fatalf("Expected runner to start on the fallback source, got %v", err)
	}

	meterID := uuid.New()
	fallbackCh <- balance.Update{MeterID: meterID, UserID: uuid.New(), Units: 5}

	waitFor(t, "auto purchase via fallback source", func() bool {
		return len(purchaser.purchasedMeters()) == 1
	})
	if got := purchaser.purchasedMeters()[0]; got != meterID {
		t.Errorf("Expected purchase for meter %s, got %s", meterID, got)
	}
}

func TestRunner_DegradesToPollingWhenStreamLost(t *testing.T) {
	primaryCh := make(chan balance.Update, 1)
	fallbackCh := make(chan balance.Update, 1)
	primary := &fakeSource{ch: primaryCh}
	fallback := &fakeSource{ch: fallbackCh}
	store := &fakeRunnerStore{settings: enabledSettings()}
	purchaser := &fakeAutoPurchaser{}

	runner := autoload.NewRunner(autoload.RunnerConfig{
		Source:   primary,
		Fallback: fallback,
		Store:    store,
		Purchase: purchaser,
		Defaults: runnerDefaults(),
		Logger:   zap.NewNop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runner.Run(ctx); err != nil {
		t.Fatalf("Failed to start runner: %v", err)
	}

	meterA := uuid.New()
	primaryCh <- balance.Update{MeterID: meterA, UserID: uuid.New(), Units: 5}
	waitFor(t, "purchase from the push source", func() bool {
		return len(purchaser.purchasedMeters()) == 1
	})

	// Subscription lost mid-run: the stream closes while the process is
	// still up. The runner must pick up the polling source.
	close(primaryCh)
	waitFor(t, "fallback subscription", func() bool {
		return fallback.callCount() == 1
	})

	meterB := uuid.New()
	fallbackCh <- balance.Update{MeterID: meterB, UserID: uuid.New(), Units: 3}
	waitFor(t, "purchase from the fallback source", func() bool {
		return len(purchaser.purchasedMeters()) == 2
	})
	if got := purchaser.purchasedMeters()[1]; got != meterB {
		t.Errorf("Expected purchase for meter %s after degrading, got %s", meterB, got)
	}
}

func TestRunner_RecordsAlertWhenLowBalanceNotificationsEnabled(t *testing.T) {
	ch := make(chan balance.Update, 1)
	store := &fakeRunnerStore{
		settings: enabledSettings(),
		prefs:    db.NotificationPreferences{LowBalance: true},
	}
	purchaser := &fakeAutoPurchaser{}

	runner := autoload.NewRunner(autoload.RunnerConfig{
		Source:   &fakeSource{ch: ch},
		Fallback: &fakeSource{err: errors.New("unused")},
		Store:    store,
		Purchase: purchaser,
		Defaults: runnerDefaults(),
		Logger:   zap.NewNop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runner.Run(ctx); err != nil {
		t.Fatalf("Failed to start runner: %v", err)
	}

	meterID := uuid.New()
	ch <- balance.Update{MeterID: meterID, UserID: uuid.New(), Units: 5}

	waitFor(t, "low balance alert row", func() bool {
		return len(store.insertedByKind(db.TxKindAlert)) == 1
	})

	alert := store.insertedByKind(db.TxKindAlert)[0]
	if alert.Status != db.TxStatusCompleted {
		t.Errorf("Expected completed alert, got %s", alert.Status)
	}
	if alert.Amount != nil || alert.Units != nil {
		t.Error("Alert rows must carry neither amount nor units")
	}
	if alert.MeterID == nil || *alert.MeterID != meterID {
		t.Error("Alert row must reference the meter that crossed the threshold")
	}
}

func TestRunner_NoAlertWhenLowBalanceNotificationsDisabled(t *testing.T) {
	ch := make(chan balance.Update, 1)
	store := &fakeRunnerStore{
		settings: enabledSettings(),
		prefs:    db.NotificationPreferences{LowBalance: false},
	}
	purchaser := &fakeAutoPurchaser{}

	runner := autoload.NewRunner(autoload.RunnerConfig{
		Source:   &fakeSource{ch: ch},
		Fallback: &fakeSource{err: errors.New("unused")},
		Store:    store,
		Purchase: purchaser,
		Defaults: runnerDefaults(),
		Logger:   zap.NewNop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runner.Run(ctx); err != nil {
		t.Fatalf("Failed to start runner: %v", err)
	}

	ch <- balance.Update{MeterID: uuid.New(), UserID: uuid.New(), Units: 5}

	waitFor(t, "auto purchase", func() bool {
		return len(purchaser.purchasedMeters()) == 1
	})
	if alerts := store.insertedByKind(db.TxKindAlert); len(alerts) != 0 {
		t.Errorf("Expected no alert rows, got %d", len(alerts))
	}
}
