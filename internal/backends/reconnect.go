package backends

import (
	"context"
	"log/slog"
	"time"
)

const (
	initialBackoff    = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

// Backoff configures the retry policy of Reconnect.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (b Backoff) withDefaults() Backoff {
	if b.Initial <= 0 {
		b.Initial = initialBackoff
	}
	if b.Max <= 0 {
		b.Max = defaultMaxBackoff
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	return b
}

// Reconnect calls attempt until it succeeds, doubling the delay between
// attempts up to b.Max. ctx is checked before every attempt and during every
// sleep, so a cancelled context never triggers another attempt.
func Reconnect(ctx context.Context, name string, b Backoff, attempt func(context.Context) error) error {
	b = b.withDefaults()
	delay := b.Initial
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := attempt(ctx)
		if err == nil {
			if n > 1 {
				slog.Info("backend: connected", "backend", name, "attempts", n)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Debug("backend: connect failed", "backend", name, "attempt", n, "retry_in", delay, "err", err)
		if !sleepCtx(ctx, delay) {
			return ctx.Err()
		}
		delay = minDuration(delay*2, b.Max)
	}
}

// sleepCtx sleeps for d and reports false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
