package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueMailer publishes messages to a durable queue instead of talking to
// SMTP on the request path. A Consumer in mailer mode does the delivery.
type QueueMailer struct {
	url     string
	queue   string
	appName string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewQueueMailer(url, queue, appName string) *QueueMailer {
	return &QueueMailer{url: url, queue: queue, appName: appName}
}

func (q *QueueMailer) SendVerificationCode(ctx context.Context, to, code string, ttl time.Duration) error {
	return q.Publish(ctx, VerificationMessage(q.appName, to, code, ttl))
}

func (q *QueueMailer) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling mail message: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	ch, err := q.channelLocked()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		q.resetLocked()
		return fmt.Errorf("publishing mail message: %w", err)
	}
	return nil
}

func (q *QueueMailer) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resetLocked()
	return nil
}

func (q *QueueMailer) channelLocked() (*amqp.Channel, error) {
	if q.ch != nil && !q.ch.IsClosed() {
		return q.ch, nil
	}
	q.resetLocked()

	conn, err := amqp.Dial(q.url)
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	if _, err := ch.QueueDeclare(q.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declaring queue %s: %w", q.queue, err)
	}

	q.conn = conn
	q.ch = ch
	return ch, nil
}

func (q *QueueMailer) resetLocked() {
	if q.ch != nil {
		_ = q.ch.Close()
		q.ch = nil
	}
	if q.conn != nil {
		_ = q.conn.Close()
		q.conn = nil
	}
}

// Sender is the delivery side used by the Consumer.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Consumer drains the mail queue into a Sender, reconnecting with
// exponential backoff when the broker goes away.
type Consumer struct {
	url    string
	queue  string
	sender Sender
}

func NewConsumer(url, queue string, sender Sender) *Consumer {
	return &Consumer{url: url, queue: queue, sender: sender}
}

// Run blocks until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := amqp.Dial(c.url)
		if err != nil {
			slog.Warn("error dialing broker, retrying", "component", "mail_consumer", "error", err, "backoff", backoff)
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		slog.Warn("mail consume loop ended, reconnecting", "component", "mail_consumer", "error", err)
		if !sleepCtx(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(10, 0, false); err != nil {
		slog.Warn("error setting qos", "component", "mail_consumer", "error", err)
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	slog.Info("consuming mail queue", "component", "mail_consumer", "queue", c.queue)

	for d := range deliveries {
		if err := c.handle(ctx, d.Body); err != nil {
			slog.Error("error delivering mail", "component", "mail_consumer", "error", err)
			// reject without requeue to avoid tight loops on a poison message
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

func (c *Consumer) handle(ctx context.Context, body []byte) error {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if msg.To == "" {
		return errors.New("message has no recipient")
	}
	return c.sender.Send(ctx, msg)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
