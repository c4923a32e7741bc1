package pricing_test

import (
	"testing"

	"github.com/sandile-dev/smartmeter-portal/internal/pricing"
)

func TestUnitsFor_ExactDivision(t *testing.T) {
	cases := []struct {
		amount, rate, want float64
	}{
		{100, 5.0, 20.0},
		{50, 5.0, 10.0},
		{1, 5.0, 0.2},
		{33.33, 5.0, 33.33 / 5.0},
		{250, 2.5, 100.0},
	}

	for _, c := range cases {
		got := pricing.UnitsFor(c.amount, c.rate)
		if got != c.want {
			t.Errorf("UnitsFor(%v, %v) = %v, want %v", c.amount, c.rate, got, c.want)
		}
	}
}

func TestUnitsFor_NoRoundingInLedgerValue(t *testing.T) {
	// 10/3 is not representable at one decimal; the raw value must keep
	// full float precision while DisplayUnits rounds.
	got := pricing.UnitsFor(10, 3)
	if got != 10.0/3.0 {
		t.Errorf("UnitsFor(10, 3) = %v, want %v", got, 10.0/3.0)
	}

	display := pricing.DisplayUnits(got)
	if display != 3.3 {
		t.Errorf("DisplayUnits(%v) = %v, want 3.3", got, display)
	}
}

func TestFormatUnits(t *testing.T) {
	cases := []struct {
		units float64
		want  string
	}{
		{20.0, "20.0"},
		{10.0 / 3.0, "3.3"},
		{0.25, "0.3"},
		{19.97, "20.0"},
	}

	for _, c := range cases {
		if got := pricing.FormatUnits(c.units); got != c.want {
			t.Errorf("FormatUnits(%v) = %q, want %q", c.units, got, c.want)
		}
	}
}
