package services

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"skillswap/internal/metrics"
	"skillswap/internal/storage"
)

// ErrTooMuchContention is returned when a conditional write keeps losing the version race.
var ErrTooMuchContention = errors.New("并发写入冲突过多，请稍后重试")

const (
	defaultMaxWriteRetries = 8
	maxRetryBackoff        = 50 * time.Millisecond
)

// retryOnConflict runs fn again whenever it fails with storage.ErrVersionConflict.
// fn must re-read the document it writes on every attempt.
func retryOnConflict(ctx context.Context, attempts int, operation string, fn func() error) error {
	if attempts < 1 {
		attempts = defaultMaxWriteRetries
	}
	for i := 0; i < attempts; i++ {
		err := fn()
		if !errors.Is(err, storage.ErrVersionConflict) {
			return err
		}
		metrics.WriteConflicts.WithLabelValues(operation).Inc()
		if i == attempts-1 {
			break
		}

		backoff := time.Duration(1<<i) * time.Millisecond
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
		backoff += rand.N(time.Millisecond)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return ErrTooMuchContention
}
