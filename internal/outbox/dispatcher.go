// Package outbox delivers messages written by ledger transactions after
// they commit.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bankledger/internal/logging"
	"bankledger/internal/models"
	"bankledger/internal/notify"
)

const (
	MaxAttempts = 10
	maxBackoff  = 300 * time.Second
)

type Store interface {
	Claim(ctx context.Context, now, leaseUntil time.Time, limit int) ([]models.OutboxMessage, error)
	MarkDelivered(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, availableAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id string, lastError string) error
}

type Options struct {
	PollInterval time.Duration
	BatchSize    int
	Lease        time.Duration
}

type Dispatcher struct {
	store       Store
	notifier    notify.Notifier
	invalidator notify.Invalidator
	logger      *zap.Logger
	opts        Options
	now         func() time.Time
	wake        chan struct{}
}

func NewDispatcher(store Store, notifier notify.Notifier, invalidator notify.Invalidator, logger *zap.Logger, opts Options) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Lease <= 0 {
		opts.Lease = time.Minute
	}
	return &Dispatcher{
		store:       store,
		notifier:    notifier,
		invalidator: invalidator,
		logger:      logging.OrNop(logger),
		opts:        opts,
		now:         func() time.Time { return time.Now().UTC() },
		wake:        make(chan struct{}, 1),
	}
}

// Wake asks the dispatcher to poll now instead of at the next tick. It
// never blocks.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("outbox dispatcher started", zap.Duration("poll_interval", d.opts.PollInterval))
	defer d.logger.Info("outbox dispatcher stopped")

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()
	for {
		d.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// drain flushes full batches back to back so a burst does not wait for
// the next tick.
func (d *Dispatcher) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := d.FlushOnce(ctx)
		if err != nil {
			d.logger.Error("outbox flush failed", zap.Error(err))
			return
		}
		if n < d.opts.BatchSize {
			return
		}
	}
}

// FlushOnce claims one batch and delivers it. It returns how many messages
// were claimed.
func (d *Dispatcher) FlushOnce(ctx context.Context) (int, error) {
	now := d.now()
	messages, err := d.store.Claim(ctx, now, now.Add(d.opts.Lease), d.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim outbox batch: %w", err)
	}
	for _, msg := range messages {
		d.settle(ctx, msg, d.deliver(ctx, msg))
	}
	return len(messages), nil
}

func (d *Dispatcher) deliver(ctx context.Context, msg models.OutboxMessage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic delivering %s: %v", msg.Topic, p)
		}
	}()
	switch msg.Topic {
	case models.TopicNotification:
		var n models.Notification
		if err := json.Unmarshal(msg.Payload, &n); err != nil {
			return permanent(err)
		}
		return d.notifier.Notify(ctx, n)
	case models.TopicCacheInvalidation:
		var inv models.CacheInvalidation
		if err := json.Unmarshal(msg.Payload, &inv); err != nil {
			return permanent(err)
		}
		return d.invalidator.Invalidate(ctx, inv)
	default:
		return permanent(fmt.Errorf("unknown topic %q", msg.Topic))
	}
}

func (d *Dispatcher) settle(ctx context.Context, msg models.OutboxMessage, deliverErr error) {
	log := d.logger.With(zap.String("outbox_id", msg.ID), zap.String("topic", string(msg.Topic)), zap.Int("attempts", msg.Attempts))
	var err error
	switch {
	case deliverErr == nil:
		err = d.store.MarkDelivered(ctx, msg.ID)
	case isPermanent(deliverErr) || msg.Attempts >= MaxAttempts:
		log.Error("outbox message failed", zap.Error(deliverErr))
		err = d.store.MarkFailed(ctx, msg.ID, deliverErr.Error())
	default:
		retryAt := d.now().Add(Backoff(msg.Attempts))
		log.Warn("outbox delivery failed; rescheduled", zap.Time("retry_at", retryAt), zap.Error(deliverErr))
		err = d.store.Reschedule(ctx, msg.ID, retryAt, deliverErr.Error())
	}
	if err != nil {
		log.Error("outbox status update failed", zap.Error(err))
	}
}

// Backoff is the wait after the given number of failed attempts: 1s, 2s,
// 4s and so on up to five minutes.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 9 {
		return maxBackoff
	}
	return min(time.Duration(1<<(attempts-1))*time.Second, maxBackoff)
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

func permanent(err error) error { return permanentError{err: err} }

func isPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
