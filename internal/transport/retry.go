package transport

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	"github.com/julienstroheker/relaycat/internal/logging"
)

// retry runs attempt once plus up to retries more times, sleeping with
// exponential backoff capped at maxDelay between failures. It stops early when
// ctx is done.
func retry(ctx context.Context, retries int, maxDelay time.Duration, logger *logging.Logger, attempt func(context.Context) error) error {
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	b := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    maxDelay,
		Factor: 2,
		Jitter: true,
	}

	for {
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n := int(b.Attempt())
		if n >= retries {
			return err
		}

		d := b.Duration()
		logger.Warn("Connection attempt failed",
			logging.Error(err),
			logging.Int("attempt", n+1),
			logging.Int("max_attempts", retries+1),
			logging.Duration("retry_in", d))

		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
