package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/iliyamo/storefront-identity/internal/logging"
	"github.com/iliyamo/storefront-identity/internal/metrics"
	"github.com/iliyamo/storefront-identity/internal/model"
	"github.com/iliyamo/storefront-identity/internal/queue"
)

// Mode is the notification delivery strategy.
type Mode string

const (
	ModeQueued Mode = "queued"
	ModeDirect Mode = "direct"
)

// deliveryTimeout bounds one synchronous mail send in the worker.
const deliveryTimeout = 30 * time.Second

// Strategy delivers ticket jobs. Deliver errors are reported to the
// dispatcher, which logs them.
type Strategy interface {
	Mode() Mode
	Deliver(ctx context.Context, job queue.TicketUpdatedJob) error
	Close() error
}

// JobBroker is the queue backend used in queued mode.
type JobBroker interface {
	Enqueue(ctx context.Context, job queue.TicketUpdatedJob) error
	Run(ctx context.Context, tag string, h queue.Handler) error
	Close() error
}

// Dispatcher sends ticket notifications through the strategy chosen when it
// was built. It never fails the caller.
type Dispatcher struct {
	strategy Strategy
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher wraps s.
func NewDispatcher(s Strategy, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{strategy: s, logger: logging.OrDefault(logger), now: time.Now}
}

// DispatcherConfig selects and tunes the delivery strategy.
type DispatcherConfig struct {
	QueueURL    string
	MaxAttempts int
	BackoffBase time.Duration
}

// OpenDispatcher picks the strategy once. With a reachable queue it runs in
// queued mode with a background worker. With no queue configured, or when
// the queue cannot be opened, it logs one warning and delivers inline.
func OpenDispatcher(ctx context.Context, cfg DispatcherConfig, dial queue.Dialer, mailer TicketMailer, logger *slog.Logger) *Dispatcher {
	logger = logging.OrDefault(logger)

	if cfg.QueueURL == "" {
		logger.WarnContext(ctx, "notification queue not configured, using direct delivery",
			"event", "notify_degraded", "mode", ModeDirect)
		return NewDispatcher(NewDirectStrategy(mailer, logger), logger)
	}

	broker, err := queue.Open(ctx, queue.Config{
		URL:         cfg.QueueURL,
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
	}, dial, logger)
	if err != nil {
		logging.LogError(ctx, logger, slog.LevelWarn, "notification queue unavailable, using direct delivery", err,
			"event", "notify_degraded", "mode", ModeDirect)
		return NewDispatcher(NewDirectStrategy(mailer, logger), logger)
	}

	logger.InfoContext(ctx, "notification queue connected", "mode", ModeQueued)
	return NewDispatcher(NewQueuedStrategy(broker, mailer, logger), logger)
}

// Mode reports the selected strategy.
func (d *Dispatcher) Mode() Mode { return d.strategy.Mode() }

// NotifyTicketUpdated tells the requester about t's new status. Failures are
// logged and counted, never returned.
func (d *Dispatcher) NotifyTicketUpdated(ctx context.Context, t model.Ticket) {
	job := queue.TicketUpdatedJob{
		TicketID:   t.ID,
		Number:     t.Number,
		Title:      t.Title,
		Status:     string(t.Status),
		Recipient:  t.RequesterEmail,
		EnqueuedAt: d.now().UTC(),
	}
	mode := string(d.strategy.Mode())
	if err := d.strategy.Deliver(ctx, job); err != nil {
		logging.LogError(ctx, d.logger, slog.LevelWarn, "ticket notification failed", err,
			"operation", "notify_ticket_updated", "mode", mode, "ticket_id", t.ID)
		metrics.RecordNotification(mode, metrics.OutcomeError)
	}
}

// Close releases the strategy's resources. Safe to call more than once.
func (d *Dispatcher) Close() error {
	return d.strategy.Close()
}

func sendJob(ctx context.Context, mailer TicketMailer, job queue.TicketUpdatedJob) error {
	return mailer.SendTicketUpdated(ctx, job.Recipient, job.Title, job.Number, model.TicketStatus(job.Status))
}

// DirectStrategy sends inline, once, with no retry.
type DirectStrategy struct {
	mailer TicketMailer
	logger *slog.Logger
}

func NewDirectStrategy(mailer TicketMailer, logger *slog.Logger) *DirectStrategy {
	return &DirectStrategy{mailer: mailer, logger: logging.OrDefault(logger)}
}

func (s *DirectStrategy) Mode() Mode { return ModeDirect }

func (s *DirectStrategy) Deliver(ctx context.Context, job queue.TicketUpdatedJob) error {
	start := time.Now()
	err := sendJob(ctx, s.mailer, job)
	metrics.RecordDelivery(string(ModeDirect), time.Since(start))
	if err != nil {
		return oops.Code("NOTIFY_SEND_FAILED").With("ticket_id", job.TicketID).Wrap(err)
	}
	metrics.RecordNotification(string(ModeDirect), metrics.OutcomeSuccess)
	return nil
}

func (s *DirectStrategy) Close() error { return nil }

// QueuedStrategy enqueues jobs and runs one worker that mails them. The
// broker owns retries.
type QueuedStrategy struct {
	broker JobBroker
	mailer TicketMailer
	logger *slog.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewQueuedStrategy starts the worker. Close stops it.
func NewQueuedStrategy(broker JobBroker, mailer TicketMailer, logger *slog.Logger) *QueuedStrategy {
	ctx, cancel := context.WithCancel(context.Background())
	s := &QueuedStrategy{
		broker: broker,
		mailer: mailer,
		logger: logging.OrDefault(logger),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.work(ctx)
	return s
}

func (s *QueuedStrategy) work(ctx context.Context) {
	defer close(s.done)
	err := s.broker.Run(ctx, "ticket-notify-worker", s.handle)
	if err != nil && ctx.Err() == nil {
		logging.LogError(ctx, s.logger, slog.LevelError, "notification worker stopped", err, "mode", ModeQueued)
	}
}

func (s *QueuedStrategy) handle(ctx context.Context, job queue.TicketUpdatedJob) error {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()
	start := time.Now()
	err := sendJob(ctx, s.mailer, job)
	metrics.RecordDelivery(string(ModeQueued), time.Since(start))
	return err
}

func (s *QueuedStrategy) Mode() Mode { return ModeQueued }

// Deliver returns once the job is enqueued.
func (s *QueuedStrategy) Deliver(ctx context.Context, job queue.TicketUpdatedJob) error {
	if err := s.broker.Enqueue(ctx, job); err != nil {
		return oops.Code("NOTIFY_ENQUEUE_FAILED").With("ticket_id", job.TicketID).Wrap(err)
	}
	metrics.RecordNotification(string(ModeQueued), metrics.OutcomeEnqueued)
	return nil
}

// Close stops the worker, waits for it and closes the broker.
func (s *QueuedStrategy) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.closeErr = s.broker.Close()
	})
	return s.closeErr
}
