package vault

import (
	"context"
	"math/rand"
	"time"

	kverrors "github.com/keyvaultops/kvops/internal/errors"
	"github.com/keyvaultops/kvops/internal/logging"
)

// RetryOptions tunes the invoker's backoff state machine.
type RetryOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryOptions matches the documented defaults: three attempts,
// exponential backoff from one second capped at thirty.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Sleeper suspends until the delay elapses or ctx is cancelled. Injected so
// tests can drive the state machine with a fake clock.
type Sleeper func(ctx context.Context, d time.Duration) error

func realSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// invoker state machine states.
type invokerState int

const (
	stateAttempt invokerState = iota
	stateBackoff
	stateSucceed
	stateFail
)

// Invoker wraps backend calls with classification-driven retry. Transient
// failures back off exponentially with jitter up to MaxAttempts; a 401/403
// triggers exactly one credential refresh and one immediate retry; 404 and
// 409/412 are terminal on the first occurrence. Validation failures never
// reach the invoker: they are raised before any network call is issued.
type Invoker struct {
	opts      RetryOptions
	refresher CredentialRefresher
	logger    *logging.Logger
	sleep     Sleeper
	jitter    func(time.Duration) time.Duration
}

// NewInvoker builds an invoker. refresher may be nil, in which case
// authentication failures are terminal on first occurrence.
func NewInvoker(opts RetryOptions, refresher CredentialRefresher, logger *logging.Logger) *Invoker {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultRetryOptions().MaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultRetryOptions().BaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultRetryOptions().MaxDelay
	}
	return &Invoker{
		opts:      opts,
		refresher: refresher,
		logger:    logger,
		sleep:     realSleep,
		jitter: func(d time.Duration) time.Duration {
			if d <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(d)))
		},
	}
}

// WithSleeper replaces the backoff sleep, for tests.
func (inv *Invoker) WithSleeper(sleep Sleeper) *Invoker {
	inv.sleep = sleep
	return inv
}

// WithJitter replaces the jitter source, for tests.
func (inv *Invoker) WithJitter(jitter func(time.Duration) time.Duration) *Invoker {
	inv.jitter = jitter
	return inv
}

// Do runs call under the retry policy. op names the operation for debug logs.
func (inv *Invoker) Do(ctx context.Context, op string, call func(ctx context.Context) error) error {
	var (
		attempt     int
		lastErr     error
		authRetried bool
	)

	state := stateAttempt
	for {
		switch state {
		case stateAttempt:
			attempt++
			lastErr = call(ctx)
			if lastErr == nil {
				state = stateSucceed
				break
			}

			switch kverrors.Classify(lastErr) {
			case kverrors.ClassTransient:
				if attempt >= inv.opts.MaxAttempts {
					lastErr = kverrors.TransientExhaustedError{Attempts: attempt, Last: lastErr}
					state = stateFail
					break
				}
				state = stateBackoff
			case kverrors.ClassAuth:
				if authRetried || inv.refresher == nil {
					lastErr = kverrors.AuthenticationError{Err: lastErr}
					state = stateFail
					break
				}
				// One refresh, one immediate retry. A second auth failure is
				// terminal so a revoked credential is never masked.
				authRetried = true
				if inv.logger != nil {
					inv.logger.Debug("%s: authentication failed, refreshing credential", op)
				}
				if err := inv.refresher.Refresh(ctx); err != nil {
					lastErr = kverrors.AuthenticationError{Err: err}
					state = stateFail
					break
				}
				attempt--
				state = stateAttempt
			default:
				// NotFound, Conflict, permanent, and unknown errors all
				// propagate unchanged on the first occurrence.
				state = stateFail
			}

		case stateBackoff:
			delay := inv.opts.BaseDelay << uint(attempt-1)
			if delay > inv.opts.MaxDelay || delay <= 0 {
				delay = inv.opts.MaxDelay
			}
			delay += inv.jitter(delay / 2)
			if delay > inv.opts.MaxDelay {
				delay = inv.opts.MaxDelay
			}
			if inv.logger != nil {
				inv.logger.Debug("%s: transient failure (attempt %d/%d), retrying in %s: %v",
					op, attempt, inv.opts.MaxAttempts, delay, lastErr)
			}
			if err := inv.sleep(ctx, delay); err != nil {
				return err
			}
			state = stateAttempt

		case stateSucceed:
			return nil

		case stateFail:
			return lastErr
		}
	}
}
