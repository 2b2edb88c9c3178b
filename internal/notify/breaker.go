package notify

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"bankledger/internal/logging"
	"bankledger/internal/models"
)

type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

func newCircuitBreaker(name string, settings BreakerSettings, logger *zap.Logger) *gobreaker.CircuitBreaker {
	logger = logging.OrNop(logger)
	if settings.ConsecutiveFailures == 0 {
		settings = DefaultBreakerSettings()
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// BreakerNotifier stops calling a remote sink after repeated failures and
// fails fast with gobreaker.ErrOpenState until the open timeout passes.
type BreakerNotifier struct {
	next Notifier
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerNotifier(name string, next Notifier, settings BreakerSettings, logger *zap.Logger) *BreakerNotifier {
	return &BreakerNotifier{next: next, cb: newCircuitBreaker(name, settings, logger)}
}

func (b *BreakerNotifier) Notify(ctx context.Context, n models.Notification) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Notify(ctx, n)
	})
	return err
}

type BreakerInvalidator struct {
	next Invalidator
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerInvalidator(name string, next Invalidator, settings BreakerSettings, logger *zap.Logger) *BreakerInvalidator {
	return &BreakerInvalidator{next: next, cb: newCircuitBreaker(name, settings, logger)}
}

func (b *BreakerInvalidator) Invalidate(ctx context.Context, inv models.CacheInvalidation) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Invalidate(ctx, inv)
	})
	return err
}
