package main

import (
	"github.com/sandile-dev/smartmeter-portal/internal/config"
	"github.com/sandile-dev/smartmeter-portal/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
