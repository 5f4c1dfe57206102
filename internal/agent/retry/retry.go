package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a fixed-delay retry budget. Attempts counts the first try.
type Policy struct {
	Attempts int
	Backoff  time.Duration
}

// Notify is called after a failed attempt that will be retried.
type Notify func(attempt int, err error, wait time.Duration)

// Permanent stops retrying and returns err from Do.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, the attempts are used up, op returns a
// Permanent error or ctx is done. It returns the number of attempts made and
// the last error.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error, notify Notify) (int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(p.Backoff)
	b = backoff.WithMaxRetries(b, uint64(attempts-1))
	b = backoff.WithContext(b, ctx)

	n := 0
	err := backoff.RetryNotify(func() error {
		n++
		return op(ctx, n)
	}, b, func(err error, wait time.Duration) {
		if notify != nil {
			notify(n, err, wait)
		}
	})
	return n, err
}
