package services

import "time"

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Waker is told after commit that new outbox rows are waiting.
type Waker interface {
	Wake()
}

type noopWaker struct{}

func (noopWaker) Wake() {}
