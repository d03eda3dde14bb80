package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type published struct {
	key string
	job TicketUpdatedJob
}

type declared struct {
	name string
	args amqp.Table
}

type fakeChannel struct {
	mu         sync.Mutex
	declared   []declared
	published  []published
	publishErr error
	declareErr error
	deliveries chan amqp.Delivery
	cancelled  bool
	closed     bool
}

func (c *fakeChannel) Qos(int, int, bool) error { return nil }

func (c *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.declareErr != nil {
		return amqp.Queue{}, c.declareErr
	}
	c.declared = append(c.declared, declared{name: name, args: args})
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	var job TicketUpdatedJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		return err
	}
	c.published = append(c.published, published{key: key, job: job})
	return nil
}

func (c *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}

func (c *fakeChannel) Cancel(string, bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) Published() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.published...)
}

type fakeConn struct {
	channels []*fakeChannel
	next     int
	closed   bool
}

func (c *fakeConn) Channel() (Channel, error) {
	if c.next >= len(c.channels) {
		return nil, errors.New("no more channels")
	}
	ch := c.channels[c.next]
	c.next++
	return ch, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type ackRecord struct {
	acked, nacked, requeued bool
}

type fakeAck struct {
	mu  sync.Mutex
	rec ackRecord
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rec.acked = true
	return nil
}

func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rec.nacked = true
	a.rec.requeued = requeue
	return nil
}

func (a *fakeAck) Reject(_ uint64, requeue bool) error { return a.Nack(0, false, requeue) }

func (a *fakeAck) Record() ackRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rec
}

func delivery(t *testing.T, job TicketUpdatedJob) (amqp.Delivery, *fakeAck) {
	t.Helper()
	body, err := json.Marshal(job)
	require.NoError(t, err)
	ack := &fakeAck{}
	return amqp.Delivery{Acknowledger: ack, Body: body}, ack
}

func openTest(t *testing.T, maxAttempts int) (*Broker, *fakeConn, *bytes.Buffer) {
	t.Helper()
	conn := &fakeConn{channels: []*fakeChannel{{}, {deliveries: make(chan amqp.Delivery)}}}
	var logs bytes.Buffer
	b, err := Open(context.Background(), Config{
		URL: "amqp://test", MaxAttempts: maxAttempts, BackoffBase: time.Second,
	}, func(string) (Conn, error) { return conn, nil }, slog.New(slog.NewJSONHandler(&logs, nil)))
	require.NoError(t, err)
	return b, conn, &logs
}

func TestSchedule(t *testing.T) {
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, Schedule(time.Second, 3))
	assert.Nil(t, Schedule(time.Second, 1))
	assert.Len(t, Schedule(0, 4), 3)
}

func TestOpenDeclaresRetryTopology(t *testing.T) {
	b, conn, _ := openTest(t, 3)
	defer b.Close()

	pub := conn.channels[0]
	require.Len(t, pub.declared, 3)
	assert.Equal(t, "ticket.notify", pub.declared[0].name)
	assert.Equal(t, "ticket.notify.retry.1", pub.declared[1].name)
	assert.Equal(t, int64(1000), pub.declared[1].args["x-message-ttl"])
	assert.Equal(t, "ticket.notify", pub.declared[1].args["x-dead-letter-routing-key"])
	assert.Equal(t, int64(2000), pub.declared[2].args["x-message-ttl"])
}

func TestOpenFailsWhenDialFails(t *testing.T) {
	_, err := Open(context.Background(), Config{URL: "amqp://down"}, func(string) (Conn, error) {
		return nil, errors.New("connection refused")
	}, nil)
	assert.ErrorContains(t, err, "connection refused")
}

func TestOpenClosesConnectionWhenDeclareFails(t *testing.T) {
	conn := &fakeConn{channels: []*fakeChannel{{declareErr: errors.New("access refused")}}}
	_, err := Open(context.Background(), Config{}, func(string) (Conn, error) { return conn, nil }, nil)
	require.Error(t, err)
	assert.True(t, conn.closed)
	assert.True(t, conn.channels[0].closed)
}

func TestEnqueuePublishesToMainQueue(t *testing.T) {
	b, conn, _ := openTest(t, 3)
	defer b.Close()

	require.NoError(t, b.Enqueue(context.Background(), TicketUpdatedJob{TicketID: "t1", Recipient: "a@b.c"}))

	got := conn.channels[0].Published()
	require.Len(t, got, 1)
	assert.Equal(t, "ticket.notify", got[0].key)
	assert.Equal(t, "t1", got[0].job.TicketID)
}

func TestHandleDeliverySuccessAcks(t *testing.T) {
	b, _, _ := openTest(t, 3)
	defer b.Close()

	d, ack := delivery(t, TicketUpdatedJob{TicketID: "t1"})
	b.handleDelivery(context.Background(), d, func(context.Context, TicketUpdatedJob) error { return nil })

	assert.Equal(t, ackRecord{acked: true}, ack.Record())
}

func TestHandleDeliveryFailureSchedulesRetry(t *testing.T) {
	b, conn, logs := openTest(t, 3)
	defer b.Close()

	d, ack := delivery(t, TicketUpdatedJob{TicketID: "t1"})
	b.handleDelivery(context.Background(), d, func(context.Context, TicketUpdatedJob) error {
		return errors.New("smtp down")
	})

	assert.Equal(t, ackRecord{acked: true}, ack.Record())
	got := conn.channels[0].Published()
	require.Len(t, got, 1)
	assert.Equal(t, "ticket.notify.retry.1", got[0].key)
	assert.Equal(t, 1, got[0].job.Attempt)
	assert.Contains(t, logs.String(), "scheduling retry")
}

func TestHandleDeliveryExhaustedIsRejected(t *testing.T) {
	b, conn, logs := openTest(t, 3)
	defer b.Close()

	d, ack := delivery(t, TicketUpdatedJob{TicketID: "t1", Attempt: 2})
	b.handleDelivery(context.Background(), d, func(context.Context, TicketUpdatedJob) error {
		return errors.New("smtp down")
	})

	assert.Equal(t, ackRecord{nacked: true}, ack.Record())
	assert.Empty(t, conn.channels[0].Published())
	assert.Contains(t, logs.String(), "attempts exhausted")
}

func TestHandleDeliveryRequeuesWhenRetryPublishFails(t *testing.T) {
	b, conn, _ := openTest(t, 3)
	defer b.Close()
	conn.channels[0].publishErr = errors.New("channel closed")

	d, ack := delivery(t, TicketUpdatedJob{TicketID: "t1"})
	b.handleDelivery(context.Background(), d, func(context.Context, TicketUpdatedJob) error {
		return errors.New("smtp down")
	})

	assert.Equal(t, ackRecord{nacked: true, requeued: true}, ack.Record())
}

func TestHandleDeliveryMalformedBody(t *testing.T) {
	b, _, _ := openTest(t, 3)
	defer b.Close()

	ack := &fakeAck{}
	called := false
	b.handleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte("{not json")},
		func(context.Context, TicketUpdatedJob) error { called = true; return nil })

	assert.False(t, called)
	assert.Equal(t, ackRecord{nacked: true}, ack.Record())
}

func TestRunStopsOnCancelAndCloseReleasesEverything(t *testing.T) {
	b, conn, _ := openTest(t, 3)

	ctx, cancel := context.WithCancel(context.Background())
	handled := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx, "worker-1", func(_ context.Context, job TicketUpdatedJob) error {
			handled <- job.TicketID
			return nil
		})
	}()

	d, ack := delivery(t, TicketUpdatedJob{TicketID: "t7"})
	conn.channels[1].deliveries <- d
	assert.Equal(t, "t7", <-handled)

	cancel()
	require.NoError(t, <-done)
	assert.True(t, ack.Record().acked)

	require.NoError(t, b.Close())
	assert.True(t, conn.channels[1].cancelled)
	assert.True(t, conn.channels[1].closed)
	assert.True(t, conn.channels[0].closed)
	assert.True(t, conn.closed)
}

func TestRunReportsClosedDeliveries(t *testing.T) {
	b, conn, _ := openTest(t, 1)
	defer b.Close()

	close(conn.channels[1].deliveries)
	err := b.Run(context.Background(), "worker-1", func(context.Context, TicketUpdatedJob) error { return nil })
	assert.ErrorIs(t, err, ErrDeliveriesClosed)
}
