package balance

import (
	"sync"

	"github.com/google/uuid"
)

// Observer tracks per-meter balance readings against a low-balance
// threshold and reports each downward crossing exactly once. While a
// balance stays below the threshold further readings do not re-trigger;
// a return to at-or-above the threshold re-arms the meter.
type Observer struct {
	mu    sync.Mutex
	seen  map[uuid.UUID]bool
	below map[uuid.UUID]bool
}

// NewObserver creates an observer with no known baselines.
func NewObserver() *Observer {
	return &Observer{
		seen:  make(map[uuid.UUID]bool),
		below: make(map[uuid.UUID]bool),
	}
}

// Observe records a balance reading and reports whether it crossed below
// the threshold. A first observed value below the threshold counts as a
// crossing, there being no prior baseline to compare against.
func (o *Observer) Observe(meterID uuid.UUID, units, threshold float64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	wasBelow := o.below[meterID]
	isBelow := units < threshold

	if !o.seen[meterID] {
		o.seen[meterID] = true
		o.below[meterID] = isBelow
		return isBelow
	}

	o.below[meterID] = isBelow
	return isBelow && !wasBelow
}

// Forget drops the tracked state for a meter, e.g. after it is released
// from an account.
func (o *Observer) Forget(meterID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.seen, meterID)
	delete(o.below, meterID)
}
