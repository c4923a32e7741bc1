package mq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ReloadPublisher delivers reload commands to smart meters over the broker.
// The payload is the unit count to load, formatted as a one-decimal string
// the meter firmware parses.
type ReloadPublisher struct {
	conn       *Connection
	channel    *amqp.Channel
	confirms   <-chan amqp.Confirmation
	exchange   string
	routingKey string
	timeout    time.Duration
	logger     *zap.Logger

	// serializes publish + confirm so acknowledgments cannot be
	// attributed to the wrong delivery
	mu sync.Mutex
}

// NewReloadPublisher creates a publisher on its own channel in confirm
// mode, declaring the durable topic exchange. Success of a publish is
// defined purely as broker acknowledgment; no reply channel from the meter
// is modeled.
func NewReloadPublisher(conn *Connection, exchange, routingKey string, timeout time.Duration, logger *zap.Logger) (*ReloadPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to put channel into confirm mode: %w", err)
	}

	return &ReloadPublisher{
		conn:       conn,
		channel:    ch,
		confirms:   ch.NotifyPublish(make(chan amqp.Confirmation, 16)),
		exchange:   exchange,
		routingKey: routingKey,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// PublishReload sends payload to the reload topic and waits for the broker
// to acknowledge that exact delivery, bounded by the configured timeout. A
// nack or timeout is reported as ErrPublish; nothing here retries.
func (p *ReloadPublisher) PublishReload(ctx context.Context, meterCode, payload string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	tag := p.channel.GetNextPublishSeqNo()

	err := p.channel.PublishWithContext(
		pubCtx,
		p.exchange,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "text/plain",
			Body:         []byte(payload),
			DeliveryMode: amqp.Persistent,
			Headers:      amqp.Table{"meter_code": meterCode},
			Timestamp:    time.Now().UTC(),
		},
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}

	if err := p.awaitConfirm(pubCtx, tag); err != nil {
		return err
	}

	p.logger.Debug("published reload command",
		zap.String("routing_key", p.routingKey),
		zap.String("meter_code", meterCode),
		zap.String("payload", payload),
	)

	return nil
}

// awaitConfirm waits for the acknowledgment carrying the given delivery
// tag. Confirmations with a lower tag belong to earlier attempts that
// timed out before their ack arrived; those are discarded rather than
// counted for the current delivery.
func (p *ReloadPublisher) awaitConfirm(ctx context.Context, tag uint64) error {
	for {
		select {
		case confirm, ok := <-p.confirms:
			if !ok {
				return fmt.Errorf("%w: confirm channel closed", ErrPublish)
			}
			if confirm.DeliveryTag < tag {
				p.logger.Debug("discarding stale confirmation",
					zap.Uint64("stale_tag", confirm.DeliveryTag),
					zap.Uint64("awaiting_tag", tag),
				)
				continue
			}
			if !confirm.Ack {
				return fmt.Errorf("%w: broker rejected delivery %d", ErrPublish, confirm.DeliveryTag)
			}
			return nil
		case <-ctx.Done():
			return fmt.Errorf("%w: timed out waiting for broker acknowledgment: %v", ErrPublish, ctx.Err())
		}
	}
}

// Close closes the publisher channel
func (p *ReloadPublisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
