// Package server exposes the portal HTTP API.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// New builds the echo instance with all portal routes registered.
func New(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.POST("/mqtt", h.PublishMessage)

	users := e.Group("/users/:userID")
	users.GET("/meter", h.GetMeter)
	users.POST("/meter", h.RegisterMeter)
	users.POST("/purchase", h.Purchase)
	users.GET("/transactions", h.ListTransactions)
	users.GET("/settings", h.GetSettings)
	users.PUT("/settings", h.UpdateSettings)
	users.GET("/payment-methods", h.ListPaymentMethods)
	users.POST("/payment-methods", h.AddPaymentMethod)
	users.PUT("/payment-methods/:id", h.UpdatePaymentMethod)
	users.DELETE("/payment-methods/:id", h.RemovePaymentMethod)
	users.PUT("/payment-methods/:id/default", h.SetDefaultPaymentMethod)

	return e
}

// Start registers the HTTP listener with the fx lifecycle.
func Start(lc fx.Lifecycle, e *echo.Echo, port int, logger *zap.Logger) {
	addr := fmt.Sprintf(":%d", port)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting http server", zap.String("addr", addr))
			go func() {
				if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
					logger.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping http server")
			return e.Shutdown(ctx)
		},
	})
}
