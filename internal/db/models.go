package db

import (
	"time"

	"github.com/google/uuid"
)

// Meter connectivity statuses.
const (
	MeterStatusConnected    = "connected"
	MeterStatusDisconnected = "disconnected"
)

// Transaction kinds.
const (
	TxKindPurchase    = "purchase"
	TxKindAutoLoad    = "auto-load"
	TxKindAlert       = "alert"
	TxKindMeterUpdate = "meter-update"
)

// Transaction statuses.
const (
	TxStatusCompleted = "completed"
	TxStatusPending   = "pending"
	TxStatusFailed    = "failed"
)

// Payment method types.
const (
	PaymentTypeCard   = "card"
	PaymentTypeMobile = "mobile"
	PaymentTypeBank   = "bank"
)

// UserProfile represents a portal user in the database
type UserProfile struct {
	ID        uuid.UUID
	FullName  string
	Phone     *string
	Address   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SmartMeter represents a registered smart meter in the database.
// MeterCode is the user-facing identifier printed on the device
// (e.g. "SSH-766488"); CurrentUnits is the prepaid balance in kWh.
type SmartMeter struct {
	ID           uuid.UUID
	MeterCode    string
	UserID       *uuid.UUID
	Status       string
	CurrentUnits float64
	LastUpdate   time.Time
	CreatedAt    time.Time
}

// AutoLoadSettings represents a user's automatic purchase configuration.
// Threshold is in kWh; Amount and MaxDaily are currency.
type AutoLoadSettings struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Enabled   bool
	Threshold float64
	Amount    float64
	MaxDaily  float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transaction represents one row in the append-mostly ledger. Amount and
// Units are present together or both absent; alert and meter-update rows
// carry neither.
type Transaction struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	MeterID         *uuid.UUID
	Kind            string
	Amount          *float64
	Units           *float64
	Status          string
	Description     string
	PaymentMethodID *uuid.UUID
	CreatedAt       time.Time

	// Joined from payment_methods when listed; empty otherwise.
	PaymentMethodName string
	PaymentMethodType string
}

// PaymentMethod represents a stored payment method. Details is an opaque
// display string (masked card number, mobile wallet handle, bank account).
type PaymentMethod struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Type      string
	Name      string
	Details   string
	IsDefault bool
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NotificationPreferences represents a user's notification switches.
type NotificationPreferences struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	LowBalance    bool
	AutoLoad      bool
	Purchases     bool
	SystemUpdates bool
	Marketing     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
