package vault_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kverrors "github.com/keyvaultops/kvops/internal/errors"
	"github.com/keyvaultops/kvops/internal/vault"
	"github.com/keyvaultops/kvops/tests/fakes"
)

// recordingSleeper captures backoff delays instead of sleeping.
type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func noJitter(time.Duration) time.Duration { return 0 }

func testInvoker(opts vault.RetryOptions, refresher vault.CredentialRefresher) (*vault.Invoker, *recordingSleeper) {
	sleeper := &recordingSleeper{}
	inv := vault.NewInvoker(opts, refresher, nil).
		WithSleeper(sleeper.sleep).
		WithJitter(noJitter)
	return inv, sleeper
}

func TestInvokerDo(t *testing.T) {
	t.Parallel()

	t.Run("success_on_first_attempt", func(t *testing.T) {
		t.Parallel()
		inv, sleeper := testInvoker(vault.DefaultRetryOptions(), nil)

		calls := 0
		err := inv.Do(context.Background(), "op", func(ctx context.Context) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.Empty(t, sleeper.delays)
	})

	t.Run("transient_failures_retry_until_success", func(t *testing.T) {
		t.Parallel()
		inv, sleeper := testInvoker(vault.RetryOptions{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second}, nil)

		calls := 0
		err := inv.Do(context.Background(), "op", func(ctx context.Context) error {
			calls++
			if calls <= 3 {
				return fakes.ResponseError(503, "ServiceUnavailable")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 4, calls)
		// Exponential: 1s, 2s, 4s with jitter zeroed.
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.delays)
	})

	t.Run("transient_budget_exhausted", func(t *testing.T) {
		t.Parallel()
		inv, sleeper := testInvoker(vault.RetryOptions{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}, nil)

		calls := 0
		err := inv.Do(context.Background(), "op", func(ctx context.Context) error {
			calls++
			return fakes.ResponseError(503, "ServiceUnavailable")
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.Len(t, sleeper.delays, 2)

		var exhausted kverrors.TransientExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, 3, exhausted.Attempts)
		assert.Equal(t, kverrors.ClassTransient, kverrors.Classify(err))
	})

	t.Run("backoff_is_capped_at_max_delay", func(t *testing.T) {
		t.Parallel()
		inv, sleeper := testInvoker(vault.RetryOptions{MaxAttempts: 6, BaseDelay: time.Second, MaxDelay: 4 * time.Second}, nil)

		err := inv.Do(context.Background(), "op", func(ctx context.Context) error {
			return fakes.ResponseError(503, "ServiceUnavailable")
		})
		require.Error(t, err)
		assert.Equal(t, []time.Duration{
			time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second, 4 * time.Second,
		}, sleeper.delays)
	})

	t.Run("not_found_is_terminal_on_first_attempt", func(t *testing.T) {
		t.Parallel()
		inv, sleeper := testInvoker(vault.DefaultRetryOptions(), nil)

		calls := 0
		err := inv.Do(context.Background(), "op", func(ctx context.Context) error {
			calls++
			return fakes.ResponseError(404, "SecretNotFound")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.Empty(t, sleeper.delays)
		assert.Equal(t, kverrors.ClassNotFound, kverrors.Classify(err))
	})

	t.Run("conflict_is_terminal_on_first_attempt", func(t *testing.T) {
		t.Parallel()
		inv, _ := testInvoker(vault.DefaultRetryOptions(), nil)

		calls := 0
		err := inv.Do(context.Background(), "op", func(ctx context.Context) error {
			calls++
			return fakes.ResponseError(409, "Conflict")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("auth_failure_refreshes_once_and_retries_immediately", func(t *testing.T) {
		t.Parallel()
		refresher := fakes.NewFakeKeyVaultClient()
		inv, sleeper := testInvoker(vault.DefaultRetryOptions(), refresher)

		calls := 0
		err := inv.Do(context.Background(), "op", func(ctx context.Context) error {
			calls++
			if calls == 1 {
				return fakes.ResponseError(401, "Unauthorized")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, 1, refresher.RefreshCount)
		assert.Empty(t, sleeper.delays, "auth retry must not back off")
	})

	t.Run("second_auth_failure_is_terminal", func(t *testing.T) {
		t.Parallel()
		refresher := fakes.NewFakeKeyVaultClient()
		inv, _ := testInvoker(vault.DefaultRetryOptions(), refresher)

		calls := 0
		err := inv.Do(context.Background(), "op", func(ctx context.Context) error {
			calls++
			return fakes.ResponseError(401, "Unauthorized")
		})
		require.Error(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, 1, refresher.RefreshCount)

		var authErr kverrors.AuthenticationError
		assert.ErrorAs(t, err, &authErr)
	})

	t.Run("auth_retry_does_not_consume_transient_budget", func(t *testing.T) {
		t.Parallel()
		refresher := fakes.NewFakeKeyVaultClient()
		inv, _ := testInvoker(vault.RetryOptions{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}, refresher)

		// Auth failure first, then three transient failures: the transient
		// budget must still allow three attempts after the refresh.
		calls := 0
		err := inv.Do(context.Background(), "op", func(ctx context.Context) error {
			calls++
			if calls == 1 {
				return fakes.ResponseError(401, "Unauthorized")
			}
			if calls <= 3 {
				return fakes.ResponseError(503, "ServiceUnavailable")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 4, calls)
	})

	t.Run("refresh_failure_is_terminal", func(t *testing.T) {
		t.Parallel()
		refresher := fakes.NewFakeKeyVaultClient()
		refresher.RefreshErr = fmt.Errorf("token endpoint unreachable")
		inv, _ := testInvoker(vault.DefaultRetryOptions(), refresher)

		calls := 0
		err := inv.Do(context.Background(), "op", func(ctx context.Context) error {
			calls++
			return fakes.ResponseError(403, "Forbidden")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)

		var authErr kverrors.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Contains(t, authErr.Error(), "token endpoint unreachable")
	})

	t.Run("nil_refresher_makes_auth_terminal", func(t *testing.T) {
		t.Parallel()
		inv, _ := testInvoker(vault.DefaultRetryOptions(), nil)

		calls := 0
		err := inv.Do(context.Background(), "op", func(ctx context.Context) error {
			calls++
			return fakes.ResponseError(401, "Unauthorized")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancellation_during_backoff_stops_retrying", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		inv := vault.NewInvoker(vault.DefaultRetryOptions(), nil, nil).
			WithJitter(noJitter).
			WithSleeper(func(ctx context.Context, d time.Duration) error {
				cancel()
				return ctx.Err()
			})

		calls := 0
		err := inv.Do(ctx, "op", func(ctx context.Context) error {
			calls++
			return fakes.ResponseError(503, "ServiceUnavailable")
		})
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}
