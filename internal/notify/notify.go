// Package notify delivers user notifications produced by the ledger to
// the sinks configured for the process.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"bankledger/internal/logging"
	"bankledger/internal/models"
)

type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

type Invalidator interface {
	Invalidate(ctx context.Context, inv models.CacheInvalidation) error
}

// Fanout hands every notification to each sink. A failing sink does not
// stop the others; the joined error is returned.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes notifications to the process log. It is the sink of last
// resort when no broker is configured.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) Log {
	return Log{logger: logging.OrNop(logger)}
}

func (l Log) Notify(_ context.Context, n models.Notification) error {
	l.logger.Info("notification",
		zap.String("notification_id", n.ID),
		zap.String("user_id", n.UserID),
		zap.String("type", string(n.Type)),
		zap.String("reference_id", n.ReferenceID),
	)
	return nil
}
