// Package queue carries payment-email events over AMQP so the Gmail push
// handler and the email processor can run apart.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ArionMiles/quina/pkg/tracker"
)

// Defaults.
const (
	DefaultExchange = "quina"
	DefaultQueue    = "payment_emails"

	publishTimeout = 5 * time.Second
)

// ErrClosed is returned by Consume when the broker closes the delivery channel.
var ErrClosed = errors.New("delivery channel closed")

// Event is one newly seen message.
type Event struct {
	Mailbox   string    `json:"mailbox"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler processes one event. Returning an error requeues it.
type Handler func(ctx context.Context, ev Event) error

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Client publishes and consumes events on a durable direct exchange.
type Client struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	pub      publisher
	exchange string
	queue    string
	logger   *slog.Logger
	now      func() time.Time
}

var _ tracker.Emitter = (*Client)(nil)

// Dial connects to url and declares the exchange, queue and binding.
func Dial(url, exchange, queue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	if queue == "" {
		queue = DefaultQueue
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing AMQP: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	c := &Client{
		conn:     conn,
		channel:  ch,
		pub:      ch,
		exchange: exchange,
		queue:    queue,
		logger:   logger.With("component", "queue", "exchange", exchange, "queue", queue),
		now:      time.Now,
	}
	if err := c.setup(); err != nil {
		c.Close()
		return nil, fmt.Errorf("declaring topology: %w", err)
	}
	return c, nil
}

func (c *Client) setup() error {
	if err := c.channel.ExchangeDeclare(c.exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring exchange: %w", err)
	}
	if _, err := c.channel.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring queue: %w", err)
	}
	// Direct exchange: the routing key is the queue name.
	if err := c.channel.QueueBind(c.queue, c.queue, c.exchange, false, nil); err != nil {
		return fmt.Errorf("binding queue: %w", err)
	}
	// One unacknowledged event at a time; each one drives an agent run.
	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("setting qos: %w", err)
	}
	return nil
}

// Emit implements tracker.Emitter by publishing a persistent event.
func (c *Client) Emit(ctx context.Context, mailbox, id string) error {
	body, err := json.Marshal(Event{Mailbox: mailbox, MessageID: id, Timestamp: c.now()})
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = c.pub.PublishWithContext(ctx, c.exchange, c.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    c.now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}

	c.logger.Info("published event", "mailbox", mailbox, "message_id", id)
	return nil
}

// Consume delivers events to h until ctx is done. Undecodable events are
// dropped; events whose handler fails are requeued.
func (c *Client) Consume(ctx context.Context, h Handler) error {
	deliveries, err := c.channel.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("starting consumer: %w", err)
	}
	c.logger.Info("consuming events")
	return consume(ctx, c.logger, deliveries, h)
}

func consume(ctx context.Context, logger *slog.Logger, deliveries <-chan amqp.Delivery, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			logger.Info("stopping consumer", "reason", ctx.Err())
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return ErrClosed
			}
			handle(ctx, logger, d, h)
		}
	}
}

func handle(ctx context.Context, logger *slog.Logger, d amqp.Delivery, h Handler) {
	var ev Event
	if err := json.Unmarshal(d.Body, &ev); err != nil || ev.MessageID == "" {
		logger.Error("dropping undecodable event", "error", err, "body", string(d.Body))
		_ = d.Nack(false, false)
		return
	}

	logger = logger.With("mailbox", ev.Mailbox, "message_id", ev.MessageID)
	if err := h(ctx, ev); err != nil {
		logger.Error("failed to handle event, requeueing", "error", err, "redelivered", d.Redelivered)
		_ = d.Nack(false, true)
		return
	}

	_ = d.Ack(false)
	logger.Info("handled event")
}

// Close closes the channel and the connection.
func (c *Client) Close() error {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
