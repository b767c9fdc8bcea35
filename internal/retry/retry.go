// Package retry wraps external-tool invocations in bounded exponential
// backoff, with a default policy of 3 attempts, initial delay 1s, doubling.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Options configures WithBackoff. Zero value yields the default policy.
type Options struct {
	MaxRetries      uint64
	InitialInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries == 0 {
		o.MaxRetries = 2
	}
	if o.InitialInterval == 0 {
		o.InitialInterval = time.Second
	}
	return o
}

// WithBackoff retries fn on error using exponential backoff with doubling
// delay, up to opts.MaxRetries additional attempts after the first.
func WithBackoff(ctx context.Context, fn func() error, opts Options) error {
	opts = opts.withDefaults()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = opts.InitialInterval
	eb.Multiplier = 2

	bo := backoff.WithMaxRetries(eb, opts.MaxRetries)
	bo = backoff.WithContext(bo, ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err != nil && attempt <= int(opts.MaxRetries) {
			log.Warn().Err(err).Int("attempt", attempt).Msg("retrying after failure")
		}
		return err
	}, bo)
}
