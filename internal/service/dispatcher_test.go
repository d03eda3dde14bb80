package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/storefront-identity/internal/model"
	"github.com/iliyamo/storefront-identity/internal/notify"
	"github.com/iliyamo/storefront-identity/internal/queue"
)

// syncBuffer guards a bytes.Buffer written by the worker goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func jsonLogger(w *syncBuffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, nil))
}

var resolvedTicket = model.Ticket{
	ID:             "t1",
	Number:         "TCK-0000000001",
	Title:          "Late delivery",
	Status:         model.TicketResolved,
	RequesterEmail: "bob@example.com",
}

type fakeBroker struct {
	jobs       chan queue.TicketUpdatedJob
	enqueueErr error
	runErr     error
	closes     atomic.Int32

	mu      sync.Mutex
	results []error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{jobs: make(chan queue.TicketUpdatedJob, 8)}
}

func (b *fakeBroker) Enqueue(_ context.Context, job queue.TicketUpdatedJob) error {
	if b.enqueueErr != nil {
		return b.enqueueErr
	}
	b.jobs <- job
	return nil
}

func (b *fakeBroker) Run(ctx context.Context, _ string, h queue.Handler) error {
	if b.runErr != nil {
		return b.runErr
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-b.jobs:
			err := h(ctx, job)
			b.mu.Lock()
			b.results = append(b.results, err)
			b.mu.Unlock()
		}
	}
}

func (b *fakeBroker) Close() error {
	b.closes.Add(1)
	return nil
}

func (b *fakeBroker) handled() []error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]error(nil), b.results...)
}

func TestDirectDispatcherSends(t *testing.T) {
	mailer := notify.NewMemoryMailer()
	d := NewDispatcher(NewDirectStrategy(mailer, nil), nil)
	defer d.Close()

	d.NotifyTicketUpdated(context.Background(), resolvedTicket)

	sent := mailer.Tickets()
	require.Len(t, sent, 1)
	assert.Equal(t, "bob@example.com", sent[0].To)
	assert.Equal(t, model.TicketResolved, sent[0].Status)
	assert.Equal(t, ModeDirect, d.Mode())
}

func TestDirectDispatcherSwallowsFailure(t *testing.T) {
	var logs syncBuffer
	mailer := notify.NewMemoryMailer()
	mailer.SetErr(errors.New("smtp down"))
	d := NewDispatcher(NewDirectStrategy(mailer, nil), jsonLogger(&logs))

	assert.NotPanics(t, func() { d.NotifyTicketUpdated(context.Background(), resolvedTicket) })
	assert.Contains(t, logs.String(), "ticket notification failed")
	assert.Contains(t, logs.String(), "smtp down")
}

func TestQueuedDispatcherDeliversThroughWorker(t *testing.T) {
	broker := newFakeBroker()
	mailer := notify.NewMemoryMailer()
	d := NewDispatcher(NewQueuedStrategy(broker, mailer, nil), nil)

	d.NotifyTicketUpdated(context.Background(), resolvedTicket)

	require.Eventually(t, func() bool { return len(mailer.Tickets()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "TCK-0000000001", mailer.Tickets()[0].Number)
	assert.Equal(t, ModeQueued, d.Mode())

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Equal(t, int32(1), broker.closes.Load())
}

func TestQueuedWorkerReportsSendFailureToBroker(t *testing.T) {
	broker := newFakeBroker()
	mailer := notify.NewMemoryMailer()
	mailer.SetErr(errors.New("smtp down"))
	d := NewDispatcher(NewQueuedStrategy(broker, mailer, nil), nil)
	defer d.Close()

	d.NotifyTicketUpdated(context.Background(), resolvedTicket)

	require.Eventually(t, func() bool { return len(broker.handled()) == 1 }, time.Second, 5*time.Millisecond)
	assert.EqualError(t, broker.handled()[0], "smtp down")
}

func TestQueuedDispatcherSwallowsEnqueueFailure(t *testing.T) {
	var logs syncBuffer
	broker := newFakeBroker()
	broker.enqueueErr = errors.New("channel closed")
	d := NewDispatcher(NewQueuedStrategy(broker, notify.NewMemoryMailer(), nil), jsonLogger(&logs))
	defer d.Close()

	d.NotifyTicketUpdated(context.Background(), resolvedTicket)
	assert.Contains(t, logs.String(), "channel closed")
}

func TestQueuedWorkerLogsWhenRunStops(t *testing.T) {
	var logs syncBuffer
	broker := newFakeBroker()
	broker.runErr = queue.ErrDeliveriesClosed
	s := NewQueuedStrategy(broker, notify.NewMemoryMailer(), jsonLogger(&logs))

	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "notification worker stopped")
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close())
}

func TestOpenDispatcherFallsBackToDirect(t *testing.T) {
	ctx := context.Background()

	t.Run("no queue configured", func(t *testing.T) {
		var logs syncBuffer
		d := OpenDispatcher(ctx, DispatcherConfig{}, nil, notify.NewMemoryMailer(), jsonLogger(&logs))
		defer d.Close()
		assert.Equal(t, ModeDirect, d.Mode())
		assert.Contains(t, logs.String(), `"event":"notify_degraded"`)
	})

	t.Run("queue unreachable", func(t *testing.T) {
		var logs syncBuffer
		dial := func(string) (queue.Conn, error) { return nil, errors.New("connection refused") }
		d := OpenDispatcher(ctx, DispatcherConfig{QueueURL: "amqp://nowhere", MaxAttempts: 3, BackoffBase: time.Second},
			dial, notify.NewMemoryMailer(), jsonLogger(&logs))
		defer d.Close()
		assert.Equal(t, ModeDirect, d.Mode())
		assert.Contains(t, logs.String(), `"level":"WARN"`)
		assert.Contains(t, logs.String(), "connection refused")
	})
}

// idleChannel accepts every call and never delivers.
type idleChannel struct {
	deliveries chan amqp.Delivery
}

func (c *idleChannel) Qos(int, int, bool) error { return nil }
func (c *idleChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	return amqp.Queue{Name: name}, nil
}
func (c *idleChannel) PublishWithContext(context.Context, string, string, bool, bool, amqp.Publishing) error {
	return nil
}
func (c *idleChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}
func (c *idleChannel) Cancel(string, bool) error { return nil }
func (c *idleChannel) Close() error              { return nil }

type idleConn struct{}

func (idleConn) Channel() (queue.Channel, error) {
	return &idleChannel{deliveries: make(chan amqp.Delivery)}, nil
}
func (idleConn) Close() error { return nil }

func TestOpenDispatcherUsesQueueWhenReachable(t *testing.T) {
	dial := func(string) (queue.Conn, error) { return idleConn{}, nil }
	d := OpenDispatcher(context.Background(), DispatcherConfig{QueueURL: "amqp://broker", MaxAttempts: 3, BackoffBase: time.Second},
		dial, notify.NewMemoryMailer(), nil)

	assert.Equal(t, ModeQueued, d.Mode())
	require.NoError(t, d.Close())
}
