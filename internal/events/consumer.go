// Package events consumes platform notifications from an AMQP queue and
// hands them to the delivery pipeline. It is the brokered counterpart of
// POST /notifications and accepts the same payload.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/tbourn/max-bridge/internal/config"
	"github.com/tbourn/max-bridge/internal/services"
)

// ErrInvalidNotification marks a payload that can never be delivered.
var ErrInvalidNotification = errors.New("events: invalid notification")

// Notification is one message for one or more platform accounts.
type Notification struct {
	AccountID  int64   `json:"account_id,omitempty"`
	AccountIDs []int64 `json:"account_ids,omitempty"`
	Message    string  `json:"message"`
}

// Recipients merges AccountID and AccountIDs, dropping zeros and repeats.
func (n Notification) Recipients() []int64 {
	seen := make(map[int64]struct{}, len(n.AccountIDs)+1)
	var out []int64
	for _, id := range append([]int64{n.AccountID}, n.AccountIDs...) {
		if id <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Validate rejects payloads without recipients or text.
func (n Notification) Validate() error {
	if len(n.Recipients()) == 0 {
		return fmt.Errorf("%w: no recipient", ErrInvalidNotification)
	}
	if strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidNotification)
	}
	return nil
}

// Deliverer sends a notification to one account.
type Deliverer interface {
	Deliver(ctx context.Context, account int64, message string) (services.Outcome, error)
}

// Consumer reads notifications from a durable queue. Malformed messages
// are acknowledged and dropped. A message is requeued only when no
// recipient could be reached.
type Consumer struct {
	URL      string
	Queue    string
	Prefetch int
	Delivery Deliverer
	Log      zerolog.Logger

	// Timeout bounds the handling of one message.
	Timeout time.Duration
	// Retry is the initial redial delay, doubled per attempt up to MaxRetryDelay.
	Retry    time.Duration
	Attempts int
}

// MaxRetryDelay caps the redial backoff.
const MaxRetryDelay = 60 * time.Second

// NewConsumer returns a consumer for cfg.
func NewConsumer(cfg config.AMQPConfig, d Deliverer, log zerolog.Logger) *Consumer {
	return &Consumer{
		URL:      cfg.URL,
		Queue:    cfg.Queue,
		Prefetch: cfg.Prefetch,
		Delivery: d,
		Log:      log.With().Str("component", "amqp").Str("queue", cfg.Queue).Logger(),
		Timeout:  30 * time.Second,
		Retry:    time.Second,
		Attempts: 5,
	}
}

// dial connects with exponential backoff, giving up when ctx ends.
func (c *Consumer) dial(ctx context.Context) (*amqp.Connection, error) {
	var lastErr error
	delay := c.Retry
	for i := 1; i <= max(c.Attempts, 1); i++ {
		conn, err := amqp.Dial(c.URL)
		if err == nil {
			if i > 1 {
				c.Log.Info().Int("attempt", i).Msg("amqp connected")
			}
			return conn, nil
		}
		lastErr = err
		c.Log.Warn().Err(err).Int("attempt", i).Dur("sleep", delay).Msg("amqp dial failed")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, MaxRetryDelay)
	}
	return nil, fmt.Errorf("amqp: connect after %d attempts: %w", c.Attempts, lastErr)
}

// Run consumes until ctx is cancelled or the broker closes the channel.
func (c *Consumer) Run(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(max(c.Prefetch, 1), 0, false); err != nil {
		return err
	}
	q, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil)
	if err != nil {
		return err
	}
	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	c.Log.Info().Msg("consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("amqp: delivery channel closed")
			}
			c.process(ctx, d)
		}
	}
}

// process handles one delivery and settles it.
func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	err := c.Handle(ctx, d.Body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, ErrInvalidNotification):
		c.Log.Warn().Err(err).Uint64("tag", d.DeliveryTag).Msg("dropping poison message")
		_ = d.Ack(false)
	default:
		c.Log.Error().Err(err).Uint64("tag", d.DeliveryTag).Msg("delivery failed, requeueing")
		_ = d.Nack(false, true)
	}
}

// Handle decodes body and delivers it to every recipient. Errors wrapping
// ErrInvalidNotification are permanent. A delivery that reached at least
// one recipient is not retried; the failed accounts are logged instead.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if err := n.Validate(); err != nil {
		return err
	}
	recipients := n.Recipients()
	var errs []error
	for _, account := range recipients {
		out, err := c.Delivery.Deliver(ctx, account, n.Message)
		var ext *services.ExternalSenderError
		switch {
		case errors.Is(err, services.ErrEmptyMessage), errors.As(err, &ext):
			return fmt.Errorf("%w: %v", ErrInvalidNotification, err)
		case err != nil:
			errs = append(errs, fmt.Errorf("account %d: %w", account, err))
			continue
		}
		c.Log.Debug().Int64("account_id", account).Str("outcome", string(out)).Msg("notification handled")
	}
	if len(errs) == len(recipients) {
		return errors.Join(errs...)
	}
	if len(errs) > 0 {
		c.Log.Warn().Err(errors.Join(errs...)).Int("failed", len(errs)).Int("recipients", len(recipients)).
			Msg("partial delivery, not requeueing")
	}
	return nil
}
