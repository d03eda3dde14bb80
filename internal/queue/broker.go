package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sethvargo/go-retry"

	"github.com/iliyamo/storefront-identity/internal/logging"
	"github.com/iliyamo/storefront-identity/internal/metrics"
)

// DefaultQueue is the main ticket notification queue.
const DefaultQueue = "ticket.notify"

// ErrDeliveriesClosed is returned by Run when the broker closes the
// delivery channel.
var ErrDeliveriesClosed = errors.New("deliveries channel closed")

// Config configures a Broker.
type Config struct {
	URL         string
	Queue       string        // main queue, DefaultQueue when empty
	MaxAttempts int           // delivery attempts per job, at least 1
	BackoffBase time.Duration // delay before the first retry
	Prefetch    int
}

// Handler delivers one job. A non-nil error consumes a retry attempt.
type Handler func(ctx context.Context, job TicketUpdatedJob) error

// Broker owns one long-lived connection with a publish channel and a
// consume channel.
//
// Failed jobs are republished to a per-attempt delay queue
// "<queue>.retry.<n>" whose message TTL is the backoff for that attempt.
// Expired messages dead-letter back to the main queue. A job that has used
// its last attempt is rejected without requeue and logged. Successful jobs
// are acked, so nothing accumulates.
type Broker struct {
	cfg    Config
	conn   Conn
	logger *slog.Logger
	delays []time.Duration

	pubMu sync.Mutex
	pub   Channel

	consumeMu sync.Mutex
	consume   Channel
	tag       string
}

// Schedule returns the delay before each retry: base, 2*base, 4*base, ...
// with maxAttempts-1 entries.
func Schedule(base time.Duration, maxAttempts int) []time.Duration {
	if maxAttempts < 2 {
		return nil
	}
	if base <= 0 {
		base = time.Second
	}
	b := retry.WithMaxRetries(uint64(maxAttempts-1), retry.NewExponential(base))
	var out []time.Duration
	for {
		d, stop := b.Next()
		if stop {
			return out
		}
		out = append(out, d)
	}
}

// Open dials cfg.URL and declares the queue topology. Any failure closes
// what was opened and is returned.
func Open(ctx context.Context, cfg Config, dial Dialer, logger *slog.Logger) (*Broker, error) {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	if dial == nil {
		dial = DialAMQP
	}

	conn, err := dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}

	b := &Broker{
		cfg:    cfg,
		conn:   conn,
		pub:    pub,
		logger: logging.OrDefault(logger),
		delays: Schedule(cfg.BackoffBase, cfg.MaxAttempts),
	}
	if err := b.declare(); err != nil {
		_ = pub.Close()
		_ = conn.Close()
		return nil, err
	}
	return b, nil
}

func (b *Broker) retryQueue(attempt int) string {
	return fmt.Sprintf("%s.retry.%d", b.cfg.Queue, attempt)
}

func (b *Broker) declare() error {
	// Durable so jobs survive broker restarts.
	if _, err := b.pub.QueueDeclare(b.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare %s: %w", b.cfg.Queue, err)
	}
	for i, d := range b.delays {
		name := b.retryQueue(i + 1)
		args := amqp.Table{
			"x-message-ttl":             d.Milliseconds(),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": b.cfg.Queue,
		}
		if _, err := b.pub.QueueDeclare(name, true, false, false, false, args); err != nil {
			return fmt.Errorf("queue declare %s: %w", name, err)
		}
	}
	return nil
}

// Enqueue publishes job to the main queue as a persistent message.
func (b *Broker) Enqueue(ctx context.Context, job TicketUpdatedJob) error {
	return b.publish(ctx, b.cfg.Queue, job)
}

func (b *Broker) publish(ctx context.Context, key string, job TicketUpdatedJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if err := b.pub.PublishWithContext(ctx, "", key, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

// Run consumes jobs and hands them to h until ctx is cancelled or the
// delivery channel closes. Handler failures never stop the loop.
func (b *Broker) Run(ctx context.Context, tag string, h Handler) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		b.logger.WarnContext(ctx, "set QoS failed", "error", err)
	}
	msgs, err := ch.Consume(b.cfg.Queue, tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("queue consume: %w", err)
	}

	b.consumeMu.Lock()
	b.consume, b.tag = ch, tag
	b.consumeMu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrDeliveriesClosed
			}
			b.handleDelivery(ctx, d, h)
		}
	}
}

func (b *Broker) handleDelivery(ctx context.Context, d amqp.Delivery, h Handler) {
	var job TicketUpdatedJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		b.logger.ErrorContext(ctx, "discarding malformed notification job", "error", err)
		metrics.RecordNotification("queued", metrics.OutcomeDropped)
		_ = d.Nack(false, false)
		return
	}

	err := h(ctx, job)
	if err == nil {
		metrics.RecordNotification("queued", metrics.OutcomeSuccess)
		_ = d.Ack(false)
		return
	}

	job.Attempt++
	attrs := []any{"ticket_id", job.TicketID, "attempt", job.Attempt, "max_attempts", b.cfg.MaxAttempts}
	if job.Attempt >= b.cfg.MaxAttempts || job.Attempt > len(b.delays) {
		logging.LogError(ctx, b.logger, slog.LevelError, "notification attempts exhausted", err, attrs...)
		metrics.RecordNotification("queued", metrics.OutcomeDropped)
		_ = d.Nack(false, false)
		return
	}

	logging.LogError(ctx, b.logger, slog.LevelWarn, "notification delivery failed, scheduling retry", err,
		append(attrs, "delay_ms", b.delays[job.Attempt-1].Milliseconds())...)
	if perr := b.publish(ctx, b.retryQueue(job.Attempt), job); perr != nil {
		// Put the original back rather than lose it.
		b.logger.ErrorContext(ctx, "retry publish failed, requeueing", "error", perr, "ticket_id", job.TicketID)
		_ = d.Nack(false, true)
		return
	}
	metrics.RecordNotification("queued", metrics.OutcomeRetried)
	_ = d.Ack(false)
}

// Close cancels the consumer and closes both channels and the connection.
func (b *Broker) Close() error {
	var errs []error

	b.consumeMu.Lock()
	if b.consume != nil {
		if err := b.consume.Cancel(b.tag, false); err != nil {
			errs = append(errs, err)
		}
		if err := b.consume.Close(); err != nil {
			errs = append(errs, err)
		}
		b.consume = nil
	}
	b.consumeMu.Unlock()

	b.pubMu.Lock()
	if err := b.pub.Close(); err != nil {
		errs = append(errs, err)
	}
	b.pubMu.Unlock()

	if err := b.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
