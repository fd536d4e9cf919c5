// Package queue consumes credit purchase events published by the billing
// system over RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/digkill/leadmail/internal/config"
	"github.com/digkill/leadmail/internal/models"
	"github.com/digkill/leadmail/internal/service"
)

const (
	consumerTag   = "leadmail-billing-consumer"
	defaultSource = "queue"
)

type purchaseCompleter interface {
	CompletePurchase(ctx context.Context, event service.PurchaseEvent) (*models.CreditPurchase, int, error)
}

type BillingConsumer struct {
	url      string
	queue    string
	workers  int
	payments purchaseCompleter
	log      *slog.Logger
}

func NewBillingConsumer(cfg config.Config, log *slog.Logger, payments purchaseCompleter) *BillingConsumer {
	workers := cfg.RabbitMQWorkers
	if workers <= 0 {
		workers = 1
	}
	return &BillingConsumer{
		url:      cfg.RabbitMQURL,
		queue:    cfg.RabbitMQBillingQueue,
		workers:  workers,
		payments: payments,
		log:      log,
	}
}

// Run dials the broker, declares the billing queue and processes deliveries
// until ctx is canceled or the broker closes the channel.
func (c *BillingConsumer) Run(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.queue, err)
	}
	if err := ch.Qos(c.workers, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := ch.ConsumeWithContext(ctx, c.queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	c.log.Info("billing consumer started", "queue", c.queue, "workers", c.workers)
	if err := c.Process(ctx, msgs); err != nil {
		return err
	}
	c.log.Info("billing consumer stopped")
	return nil
}

// Process fans deliveries out to at most c.workers goroutines and waits for
// in-flight messages before returning.
func (c *BillingConsumer) Process(ctx context.Context, msgs <-chan amqp.Delivery) error {
	var wg sync.WaitGroup
	workerPool := make(chan struct{}, c.workers)
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("billing delivery channel closed")
			}
			workerPool <- struct{}{}
			wg.Add(1)
			go func(msg amqp.Delivery) {
				defer wg.Done()
				defer func() { <-workerPool }()
				c.handle(ctx, msg)
			}(msg)
		}
	}
}

func (c *BillingConsumer) handle(ctx context.Context, msg amqp.Delivery) {
	event, err := decodeEvent(msg)
	if err != nil {
		c.log.Error("malformed billing message", "message_id", msg.MessageId, "err", err)
		c.nack(msg, false)
		return
	}

	_, _, err = c.payments.CompletePurchase(context.WithoutCancel(ctx), event)
	var verr *service.ValidationError
	switch {
	case err == nil, errors.Is(err, service.ErrDuplicatePurchase):
		if ackErr := msg.Ack(false); ackErr != nil {
			c.log.Error("ack billing message", "message_id", msg.MessageId, "err", ackErr)
		}
	case errors.As(err, &verr), errors.Is(err, service.ErrUserNotFound):
		c.log.Error("rejected billing message", "user_id", event.UserID, "provider_ref", event.ProviderRef, "err", err)
		c.nack(msg, false)
	default:
		// Transient failures get one more attempt.
		c.log.Error("process billing message", "user_id", event.UserID, "provider_ref", event.ProviderRef, "redelivered", msg.Redelivered, "err", err)
		c.nack(msg, !msg.Redelivered)
	}
}

func (c *BillingConsumer) nack(msg amqp.Delivery, requeue bool) {
	if err := msg.Nack(false, requeue); err != nil {
		c.log.Error("nack billing message", "message_id", msg.MessageId, "err", err)
	}
}

// decodeEvent reads a purchase event body. The AMQP message id stands in for
// a missing providerRef.
func decodeEvent(msg amqp.Delivery) (service.PurchaseEvent, error) {
	var event service.PurchaseEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return service.PurchaseEvent{}, fmt.Errorf("decode purchase event: %w", err)
	}
	if event.ProviderRef == "" {
		event.ProviderRef = msg.MessageId
	}
	if event.Source == "" {
		event.Source = defaultSource
	}
	return event, nil
}
