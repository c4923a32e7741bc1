package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sandile-dev/smartmeter-portal/internal/db"
	"github.com/sandile-dev/smartmeter-portal/internal/mq"
	"github.com/sandile-dev/smartmeter-portal/internal/repository"
	"github.com/sandile-dev/smartmeter-portal/internal/service"
	"go.uber.org/zap"
)

// MeterRegistrar registers meters and serves meter lookups.
type MeterRegistrar interface {
	Register(ctx context.Context, userID uuid.UUID, fullName, meterCode string) (*db.SmartMeter, error)
	MeterForUser(ctx context.Context, userID uuid.UUID) (*db.SmartMeter, error)
}

// Purchaser executes manual purchases.
type Purchaser interface {
	Purchase(ctx context.Context, req service.PurchaseRequest) (*db.Transaction, error)
}

// PaymentManager manages stored payment methods.
type PaymentManager interface {
	List(ctx context.Context, userID uuid.UUID) ([]db.PaymentMethod, error)
	Add(ctx context.Context, pm *db.PaymentMethod, makeDefault bool) error
	Update(ctx context.Context, pm *db.PaymentMethod) error
	SetDefault(ctx context.Context, userID, id uuid.UUID) error
	Remove(ctx context.Context, userID, id uuid.UUID) error
}

// PortalStore is the slice of the repository the read endpoints use.
type PortalStore interface {
	GetOrCreateAutoLoadSettings(ctx context.Context, userID uuid.UUID, defaults repository.AutoLoadDefaults) (*db.AutoLoadSettings, error)
	UpdateAutoLoadSettings(ctx context.Context, s *db.AutoLoadSettings) error
	ListTransactionsByUser(ctx context.Context, userID uuid.UUID) ([]db.Transaction, error)
}

// Handler carries the services behind the HTTP API.
type Handler struct {
	Meters    MeterRegistrar
	Purchases Purchaser
	Payments  PaymentManager
	Store     PortalStore
	Publisher service.ReloadPublisher
	Defaults  repository.AutoLoadDefaults
	Logger    *zap.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

func userID(c echo.Context) (uuid.UUID, error) {
	return uuid.Parse(c.Param("userID"))
}

func httpError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidMeterCode):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, repository.ErrMeterTaken):
		return c.JSON(http.StatusConflict, errorResponse{Error: "This meter ID is already registered to another account"})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "not found"})
	default:
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

// PublishMessage is the raw reload publish endpoint: POST {"message":
// string|number} pushes the payload to the reload topic as-is.
func (h *Handler) PublishMessage(c echo.Context) error {
	var req struct {
		Message   any    `json:"message"`
		MeterCode string `json:"meter_code"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Message is required"})
	}
	if req.Message == nil || req.Message == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Message is required"})
	}

	payload := fmt.Sprintf("%v", req.Message)
	if err := h.Publisher.PublishReload(c.Request().Context(), req.MeterCode, payload); err != nil {
		h.Logger.Error("reload publish failed", zap.Error(err))
		if errors.Is(err, mq.ErrConnection) {
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "broker connection failed"})
		}
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "publish failed"})
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Published successfully"})
}

type meterResponse struct {
	ID           uuid.UUID `json:"id"`
	MeterCode    string    `json:"meter_id"`
	Status       string    `json:"status"`
	CurrentUnits float64   `json:"current_units"`
	LastUpdate   time.Time `json:"last_update"`
}

func toMeterResponse(m *db.SmartMeter) meterResponse {
	return meterResponse{
		ID:           m.ID,
		MeterCode:    m.MeterCode,
		Status:       m.Status,
		CurrentUnits: m.CurrentUnits,
		LastUpdate:   m.LastUpdate,
	}
}

// GetMeter returns the user's registered meter.
func (h *Handler) GetMeter(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid user id"})
	}
	m, err := h.Meters.MeterForUser(c.Request().Context(), uid)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, toMeterResponse(m))
}

// RegisterMeter binds a meter code to the user.
func (h *Handler) RegisterMeter(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid user id"})
	}
	var req struct {
		MeterCode string `json:"meter_id"`
		FullName  string `json:"full_name"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	m, err := h.Meters.Register(c.Request().Context(), uid, req.FullName, req.MeterCode)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, toMeterResponse(m))
}

type transactionResponse struct {
	ID            uuid.UUID  `json:"id"`
	MeterID       *uuid.UUID `json:"meter_id,omitempty"`
	Kind          string     `json:"type"`
	Amount        *float64   `json:"amount,omitempty"`
	Units         *float64   `json:"units,omitempty"`
	Status        string     `json:"status"`
	Description   string     `json:"description"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toTransactionResponse(t *db.Transaction) transactionResponse {
	return transactionResponse{
		ID:            t.ID,
		MeterID:       t.MeterID,
		Kind:          t.Kind,
		Amount:        t.Amount,
		Units:         t.Units,
		Status:        t.Status,
		Description:   t.Description,
		PaymentMethod: t.PaymentMethodName,
		CreatedAt:     t.CreatedAt,
	}
}

// Purchase executes a manual purchase for the user's meter.
func (h *Handler) Purchase(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid user id"})
	}
	var req struct {
		MeterID         uuid.UUID  `json:"meter_id"`
		Amount          float64    `json:"amount"`
		PaymentMethodID *uuid.UUID `json:"payment_method_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	tx, err := h.Purchases.Purchase(c.Request().Context(), service.PurchaseRequest{
		UserID:          uid,
		MeterID:         req.MeterID,
		Amount:          req.Amount,
		Kind:            db.TxKindPurchase,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		if errors.Is(err, mq.ErrPublish) && tx != nil {
			// The attempt is on record; tell the caller it failed.
			return c.JSON(http.StatusBadGateway, toTransactionResponse(tx))
		}
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, toTransactionResponse(tx))
}

// ListTransactions returns the user's ledger, newest first.
func (h *Handler) ListTransactions(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid user id"})
	}
	txs, err := h.Store.ListTransactionsByUser(c.Request().Context(), uid)
	if err != nil {
		return httpError(c, err)
	}
	out := make([]transactionResponse, 0, len(txs))
	for i := range txs {
		out = append(out, toTransactionResponse(&txs[i]))
	}
	return c.JSON(http.StatusOK, out)
}

type settingsBody struct {
	Enabled   bool    `json:"enabled"`
	Threshold float64 `json:"threshold"`
	Amount    float64 `json:"amount"`
	MaxDaily  float64 `json:"max_daily"`
}

// GetSettings returns the user's auto-load settings, created with defaults
// on first access.
func (h *Handler) GetSettings(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid user id"})
	}
	s, err := h.Store.GetOrCreateAutoLoadSettings(c.Request().Context(), uid, h.Defaults)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, settingsBody{
		Enabled:   s.Enabled,
		Threshold: s.Threshold,
		Amount:    s.Amount,
		MaxDaily:  s.MaxDaily,
	})
}

// UpdateSettings persists the user's auto-load edits.
func (h *Handler) UpdateSettings(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid user id"})
	}
	var req settingsBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if req.Threshold <= 0 || req.Amount <= 0 || req.MaxDaily < req.Amount {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "threshold and amount must be positive and max_daily must cover amount"})
	}

	s := &db.AutoLoadSettings{
		UserID:    uid,
		Enabled:   req.Enabled,
		Threshold: req.Threshold,
		Amount:    req.Amount,
		MaxDaily:  req.MaxDaily,
	}
	if err := h.Store.UpdateAutoLoadSettings(c.Request().Context(), s); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, req)
}

type paymentMethodBody struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Details     string `json:"details"`
	MakeDefault bool   `json:"make_default"`
}

type paymentMethodResponse struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	Details   string    `json:"details"`
	IsDefault bool      `json:"is_default"`
}

func toPaymentMethodResponse(pm *db.PaymentMethod) paymentMethodResponse {
	return paymentMethodResponse{
		ID:        pm.ID,
		Type:      pm.Type,
		Name:      pm.Name,
		Details:   pm.Details,
		IsDefault: pm.IsDefault,
	}
}

// ListPaymentMethods returns the user's active methods, default first.
func (h *Handler) ListPaymentMethods(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid user id"})
	}
	methods, err := h.Payments.List(c.Request().Context(), uid)
	if err != nil {
		return httpError(c, err)
	}
	out := make([]paymentMethodResponse, 0, len(methods))
	for i := range methods {
		out = append(out, toPaymentMethodResponse(&methods[i]))
	}
	return c.JSON(http.StatusOK, out)
}

// AddPaymentMethod stores a new payment method.
func (h *Handler) AddPaymentMethod(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid user id"})
	}
	var req paymentMethodBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	switch req.Type {
	case db.PaymentTypeCard, db.PaymentTypeMobile, db.PaymentTypeBank:
	default:
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "type must be card, mobile or bank"})
	}

	pm := &db.PaymentMethod{
		UserID:  uid,
		Type:    req.Type,
		Name:    req.Name,
		Details: req.Details,
	}
	if err := h.Payments.Add(c.Request().Context(), pm, req.MakeDefault); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, toPaymentMethodResponse(pm))
}

// UpdatePaymentMethod edits the display fields of a method.
func (h *Handler) UpdatePaymentMethod(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid user id"})
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid payment method id"})
	}
	var req paymentMethodBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	pm := &db.PaymentMethod{ID: id, UserID: uid, Type: req.Type, Name: req.Name, Details: req.Details}
	if err := h.Payments.Update(c.Request().Context(), pm); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, toPaymentMethodResponse(pm))
}

// RemovePaymentMethod soft-deletes a method.
func (h *Handler) RemovePaymentMethod(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid user id"})
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid payment method id"})
	}
	if err := h.Payments.Remove(c.Request().Context(), uid, id); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SetDefaultPaymentMethod makes one method the user's default.
func (h *Handler) SetDefaultPaymentMethod(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid user id"})
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid payment method id"})
	}
	if err := h.Payments.SetDefault(c.Request().Context(), uid, id); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
