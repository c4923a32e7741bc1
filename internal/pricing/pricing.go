// Package pricing converts currency amounts into electricity units at a
// fixed per-kWh tariff.
package pricing

import (
	"math"
	"strconv"
)

// UnitsFor returns the kWh purchased by amount at the given rate, exactly
// amount / rate. Callers must reject non-positive amounts before calling;
// the ledger stores this value at full precision.
func UnitsFor(amount, rate float64) float64 {
	return amount / rate
}

// DisplayUnits rounds units to one decimal place. Cosmetic only; also used
// as the reload payload sent to the meter.
func DisplayUnits(units float64) float64 {
	return math.Round(units*10) / 10
}

// FormatUnits renders units as the one-decimal string the meter firmware
// expects, e.g. "20.0".
func FormatUnits(units float64) string {
	return strconv.FormatFloat(DisplayUnits(units), 'f', 1, 64)
}
