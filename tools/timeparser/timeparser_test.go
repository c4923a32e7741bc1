package timeparser_test

import (
	"testing"
	"time"

	"github.com/sandile-dev/smartmeter-portal/tools/timeparser"
)

func TestParseMeterTimestamp_DeviceFormat(t *testing.T) {
	result, err := timeparser.ParseMeterTimestamp("29/12/2025 10:30:45")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2025, 12, 29, 10, 30, 45, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseMeterTimestamp_ISOFormat(t *testing.T) {
	result, err := timeparser.ParseMeterTimestamp("2025-12-29 10:30:45")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2025, 12, 29, 10, 30, 45, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseMeterTimestamp_RFC3339(t *testing.T) {
	result, err := timeparser.ParseMeterTimestamp("2025-12-29T10:30:45Z")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2025, 12, 29, 10, 30, 45, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseMeterTimestamp_Invalid(t *testing.T) {
	if _, err := timeparser.ParseMeterTimestamp("not a timestamp"); err == nil {
		t.Error("Expected error for unparseable timestamp")
	}
}

func TestIsWithinTolerance(t *testing.T) {
	now := time.Now()

	if !timeparser.IsWithinTolerance(now.Add(-5*time.Minute), now, 10) {
		t.Error("Expected 5 minutes ago to be within a 10 minute tolerance")
	}
	if timeparser.IsWithinTolerance(now.Add(-15*time.Minute), now, 10) {
		t.Error("Expected 15 minutes ago to be outside a 10 minute tolerance")
	}
	if !timeparser.IsWithinTolerance(now.Add(5*time.Minute), now, 10) {
		t.Error("Tolerance must apply in both directions")
	}
}
