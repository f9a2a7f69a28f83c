// Package chains holds the fault model shared by the EVM and Tendermint
// adapters: transient faults are retried with exponential backoff, permanent
// faults fail immediately and scanning layers advance past them.
package chains

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"cosmossdk.io/log"
)

// ErrPermanent marks faults that must not be retried (HTTP 400/403/404 and
// anything else that repeating the identical request cannot fix).
var ErrPermanent = errors.New("permanent rpc fault")

// Permanent wraps err so IsPermanent reports true for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithMessage(errors.WithStack(ErrPermanent), err.Error())
}

// IsPermanent reports whether err is marked permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// TransientHTTPStatus reports whether an HTTP status is worth retrying.
func TransientHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// PermanentHTTPStatus reports whether an HTTP status can never succeed on
// retry.
func PermanentHTTPStatus(code int) bool {
	switch code {
	case 400, 403, 404:
		return true
	default:
		return false
	}
}

// RetryConfig bounds the adapter retry loop.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryConfig matches the adapter contract: 3 attempts, 500ms
// doubling, capped at 5s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:  3,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  5 * time.Second,
	}
}

// Retry runs fn up to cfg.Attempts times with exponential backoff between
// attempts. It returns early on success, on a permanent fault, or when ctx
// is cancelled. The last error is returned when all attempts fail.
func Retry(ctx context.Context, logger log.Logger, cfg RetryConfig, op string, fn func(context.Context) error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}

	var err error
	delay := cfg.BaseDelay
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if attempt > 1 {
			logger.Debug("retrying rpc call", "op", op, "attempt", attempt, "delay", delay, "error", err.Error())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		if err = fn(ctx); err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
