// Package autoload decides whether a low-balance crossing turns into an
// automatic purchase, and runs the crossing-to-purchase pipeline.
package autoload

import (
	"github.com/sandile-dev/smartmeter-portal/internal/db"
)

// Skip reasons reported for observability instead of silently dropping a
// trigger.
const (
	SkipDisabled = "disabled"
	SkipDailyCap = "daily-cap"
)

// Decision is the outcome of evaluating a low-balance crossing.
// Purchase=false with an empty SkipReason means no action was warranted;
// a non-empty SkipReason names why an otherwise-due trigger was skipped.
type Decision struct {
	Purchase   bool
	Amount     float64
	SkipReason string
}

// Evaluate applies the user's auto-load configuration to a low-balance
// crossing. A purchase triggers iff auto-load is enabled and today's
// completed auto-load total plus the configured amount stays within the
// daily cap.
func Evaluate(s db.AutoLoadSettings, todaysTotal float64) Decision {
	if !s.Enabled {
		return Decision{SkipReason: SkipDisabled}
	}
	if todaysTotal+s.Amount > s.MaxDaily {
		return Decision{SkipReason: SkipDailyCap}
	}
	return Decision{Purchase: true, Amount: s.Amount}
}
