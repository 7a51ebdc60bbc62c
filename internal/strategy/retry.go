package strategy

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRetryBackoff is the pause between failed storage calls.
const DefaultRetryBackoff = 2 * time.Second

// retry calls fn until it succeeds or ctx is done. Attempts never overlap.
func retry[T any](ctx context.Context, backoff time.Duration, logger *slog.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		logger.Error("storage call failed, retrying",
			"op", op,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
