// Package amqp carries sync requests between the API, the scheduler and the
// worker over RabbitMQ. The client wraps a single connection with a circuit
// breaker so a dead broker fails publishes fast instead of hanging every
// caller, and the consumer loop redials with capped exponential backoff.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	// maxFailures consecutive failures trip the breaker open.
	maxFailures = 5
	// openTimeout is how long the breaker stays open before a half-open
	// probe is allowed through.
	openTimeout = 30 * time.Second

	publishTimeout = 5 * time.Second
)

// errDeliveryClosed signals that the broker closed the delivery channel,
// which the consumer loop treats as a lost connection.
var errDeliveryClosed = errors.New("delivery channel closed")

// Client publishes and consumes SyncRequest messages on a durable queue
// bound to a direct exchange.
type Client struct {
	url          string
	exchangeName string
	queueName    string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	// Breaker state. state and failureCount are touched on every publish,
	// so they are atomics; lastFailure shares the mutex.
	state        int32
	failureCount int64
	lastFailure  time.Time
}

func NewClient(url, exchangeName, queueName string) (*Client, error) {
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
	}
	if err := client.connect(); err != nil {
		return nil, err
	}
	return client, nil
}

// connect dials the broker and declares the exchange, queue and binding.
// Callers must not hold c.mu.
func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := declareTopology(channel, c.exchangeName, c.queueName); err != nil {
		channel.Close()
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.mu.Unlock()
	return nil
}

func declareTopology(channel *amqp091.Channel, exchangeName, queueName string) error {
	err := channel.ExchangeDeclare(
		exchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	err = channel.QueueBind(
		queueName,
		queueName, // routing key
		exchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// ensureChannel returns a usable channel, redialing if the connection was
// lost since the last call.
func (c *Client) ensureChannel() (*amqp091.Channel, error) {
	c.mu.Lock()
	if c.channel != nil && c.conn != nil && !c.conn.IsClosed() {
		channel := c.channel
		c.mu.Unlock()
		return channel, nil
	}
	c.mu.Unlock()

	if err := c.connect(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()
	return channel, nil
}

// dropConnection closes and forgets the current connection so the next
// operation redials.
func (c *Client) dropConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// PublishSyncRequest enqueues a sync for the given user. The message is
// persistent, so a broker restart does not lose queued syncs.
func (c *Client) PublishSyncRequest(ctx context.Context, userID int64, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.isCircuitOpen() {
		return fmt.Errorf("amqp circuit breaker is open, dropping sync request for user %d", userID)
	}

	msg := NewSyncRequest(userID, reason)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal sync request: %w", err)
	}

	channel, err := c.ensureChannel()
	if err != nil {
		c.recordFailure()
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = channel.PublishWithContext(
		pubCtx,
		c.exchangeName,
		c.queueName, // routing key matches the binding
		false,       // mandatory
		false,       // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    msg.Timestamp,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.dropConnection()
		}
		return fmt.Errorf("publish sync request: %w", err)
	}

	c.recordSuccess()
	slog.DebugContext(ctx, "sync request published", "user_id", userID, "reason", reason)
	return nil
}

// ConsumeSyncRequests delivers queued sync requests to handler until ctx is
// cancelled. A handler error nacks the message, requeueing it only when the
// handler says the failure is worth retrying; malformed messages are always
// dropped. Lost connections are redialed with exponential backoff.
func (c *Client) ConsumeSyncRequests(ctx context.Context, handler func(ctx context.Context, msg *SyncRequest) (requeue bool, err error)) error {
	attempt := 0
	for {
		err := c.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, errDeliveryClosed) && !isConnectionError(err) {
			return err
		}

		c.dropConnection()
		delay := exponentialBackoff(attempt)
		attempt++
		slog.WarnContext(ctx, "AMQP connection lost, reconnecting",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if err := c.connect(); err != nil {
			continue
		}
		attempt = 0
	}
}

func (c *Client) consumeOnce(ctx context.Context, handler func(ctx context.Context, msg *SyncRequest) (requeue bool, err error)) error {
	channel, err := c.ensureChannel()
	if err != nil {
		return err
	}

	deliveries, err := channel.Consume(
		c.queueName,
		"",    // consumer tag
		false, // auto-ack: we ack only after the handler succeeds
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	slog.InfoContext(ctx, "consuming sync requests", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errDeliveryClosed
			}

			msg, err := SyncRequestFromJSON(delivery.Body)
			if err != nil {
				slog.ErrorContext(ctx, "dropping malformed sync request", "error", err)
				delivery.Nack(false, false)
				continue
			}

			requeue, err := handler(ctx, msg)
			if err != nil {
				if requeue {
					slog.WarnContext(ctx, "sync request failed, requeueing",
						"user_id", msg.UserID, "reason", msg.Reason, "error", err)
				} else {
					slog.ErrorContext(ctx, "sync request failed, dropping",
						"user_id", msg.UserID, "reason", msg.Reason, "error", err)
				}
				delivery.Nack(false, requeue)
				continue
			}

			delivery.Ack(false)
		}
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
		c.channel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
		c.conn = nil
	}
	return errors.Join(errs...)
}

// isCircuitOpen reports whether publishing should be short-circuited. An
// open breaker transitions to half-open once openTimeout has passed, letting
// a single publish probe the broker.
func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}

	c.mu.Lock()
	since := time.Since(c.lastFailure)
	c.mu.Unlock()

	if since > openTimeout {
		atomic.StoreInt32(&c.state, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()

	if atomic.AddInt64(&c.failureCount, 1) >= maxFailures {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

// exponentialBackoff returns the reconnect delay for the given attempt,
// doubling from one second and capped at thirty.
func exponentialBackoff(attempt int) time.Duration {
	if attempt > 4 {
		return 30 * time.Second
	}
	return time.Duration(1<<attempt) * time.Second
}

// isConnectionError reports whether err looks like a lost broker connection,
// which is worth a redial rather than a hard failure.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, probe := range []string{
		"connection refused",
		"connection closed",
		"EOF",
		"broken pipe",
		"use of closed network connection",
	} {
		if strings.Contains(msg, probe) {
			return true
		}
	}
	return false
}
