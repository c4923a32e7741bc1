package balance_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/sandile-dev/smartmeter-portal/internal/balance"
)

const threshold = 10.0

func TestObserve_SingleCrossing(t *testing.T) {
	obs := balance.NewObserver()
	meter := uuid.New()

	if obs.Observe(meter, 12, threshold) {
		t.Error("Expected no crossing at 12 kWh")
	}
	if !obs.Observe(meter, 9, threshold) {
		t.Error("Expected crossing when dropping 12 -> 9")
	}
	if obs.Observe(meter, 8, threshold) {
		t.Error("Expected no repeat crossing while balance stays below threshold")
	}
}

func TestObserve_RearmsAfterRecovery(t *testing.T) {
	obs := balance.NewObserver()
	meter := uuid.New()

	obs.Observe(meter, 12, threshold)
	if !obs.Observe(meter, 9, threshold) {
		t.Fatal("Expected first crossing")
	}
	if obs.Observe(meter, 11, threshold) {
		t.Error("Recovery to 11 must not count as a crossing")
	}
	if !obs.Observe(meter, 9, threshold) {
		t.Error("Expected second crossing after recovery")
	}
}

func TestObserve_FirstValueBelowThreshold(t *testing.T) {
	obs := balance.NewObserver()
	meter := uuid.New()

	if !obs.Observe(meter, 5, threshold) {
		t.Error("First observed value below threshold must count as a crossing")
	}
	if obs.Observe(meter, 4, threshold) {
		t.Error("Expected no repeat crossing")
	}
}

func TestObserve_ExactThresholdIsNotBelow(t *testing.T) {
	obs := balance.NewObserver()
	meter := uuid.New()

	if obs.Observe(meter, 10, threshold) {
		t.Error("A balance equal to the threshold is not a crossing")
	}
	if !obs.Observe(meter, 9.99, threshold) {
		t.Error("Expected crossing just under the threshold")
	}
}

func TestObserve_MetersTrackedIndependently(t *testing.T) {
	obs := balance.NewObserver()
	a, b := uuid.New(), uuid.New()

	obs.Observe(a, 12, threshold)
	obs.Observe(b, 12, threshold)

	if !obs.Observe(a, 9, threshold) {
		t.Error("Expected crossing for meter a")
	}
	if !obs.Observe(b, 8, threshold) {
		t.Error("Expected independent crossing for meter b")
	}
}

func TestForget_ResetsBaseline(t *testing.T) {
	obs := balance.NewObserver()
	meter := uuid.New()

	obs.Observe(meter, 9, threshold)
	obs.Forget(meter)

	if !obs.Observe(meter, 9, threshold) {
		t.Error("Expected crossing again after Forget")
	}
}
