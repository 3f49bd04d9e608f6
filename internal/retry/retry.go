// Package retry wraps cenkalti/backoff with the bot's attempt-capped exponential policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"multi-exchange-trading-bot/config"
)

// ErrExhausted is returned when every attempt failed
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy is a fixed attempt cap with delay base*multiplier^attempt, capped at MaxDelay
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// FromConfig builds a Policy from the retry section of the config
func FromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		Multiplier:  cfg.Multiplier,
	}
}

// Default returns 3 attempts starting at 1s, doubling, capped at 10s
func Default() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.MaxInterval = p.MaxDelay
	eb.Multiplier = p.Multiplier
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	if eb.Multiplier < 1 {
		eb.Multiplier = 1
	}
	if eb.MaxInterval < eb.InitialInterval {
		eb.MaxInterval = eb.InitialInterval
	}
	eb.Reset()

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

// Notify is called before each wait with the failed attempt number (1-based) and its error
type Notify func(attempt int, err error, wait time.Duration)

// Do runs fn until it succeeds, the attempt cap is reached, the context ends,
// or retryable reports false for an error. A nil retryable retries everything.
func Do(ctx context.Context, p Policy, retryable func(error) bool, notify Notify, fn func(ctx context.Context) error) error {
	attempt := 0
	var lastErr error

	op := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var onWait backoff.Notify
	if notify != nil {
		onWait = func(err error, wait time.Duration) { notify(attempt, err, wait) }
	}

	err := backoff.RetryNotify(op, p.backOff(ctx), onWait)
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if lastErr == nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", ctxErr, lastErr)
	}
	if lastErr == nil || (retryable != nil && !retryable(lastErr)) {
		return err
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, lastErr)
}

// DoValue is Do for functions returning a value
func DoValue[T any](ctx context.Context, p Policy, retryable func(error) bool, notify Notify, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, retryable, notify, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
