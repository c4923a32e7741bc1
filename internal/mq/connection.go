package mq

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrConnection indicates the broker session could not be established.
var ErrConnection = errors.New("broker connection failed")

// ErrPublish indicates a send failed or timed out after a session existed.
var ErrPublish = errors.New("broker publish failed")

// Connection wraps the shared broker connection. One long-lived connection
// per process; channels are cheap and owned by publishers/consumers.
type Connection struct {
	conn *amqp.Connection
}

// NewConnection dials the broker and registers close/cleanup with the fx
// lifecycle. Close notifications are logged only; reconnect/retry decisions
// belong to the callers that own side effects.
func NewConnection(lc fx.Lifecycle, logger *zap.Logger, url string) (*Connection, error) {
	logger.Info("attempting to connect to broker...")

	conn, err := amqp.Dial(url)
	if err != nil {
		logger.Error("broker connection failed", zap.Error(err))
		return nil, fmt.Errorf("%w: cannot connect to broker. Please check: 1) Broker is running, 2) BROKER_URL is correct, 3) Credentials are valid: %v", ErrConnection, err)
	}

	closes := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if amqpErr, ok := <-closes; ok && amqpErr != nil {
			logger.Warn("broker connection closed by peer", zap.String("reason", amqpErr.Reason))
		}
	}()

	mqConn := &Connection{conn: conn}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("broker connection established successfully")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := conn.Close(); err != nil {
				logger.Error("failed to close broker connection", zap.Error(err))
				return err
			}
			logger.Info("broker connection closed")
			return nil
		},
	})

	return mqConn, nil
}

// Channel creates a new broker channel
func (c *Connection) Channel() (*amqp.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open channel: %v", ErrConnection, err)
	}
	return ch, nil
}
