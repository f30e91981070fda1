package secure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue(t *testing.T) {
	t.Parallel()

	t.Run("round_trips_a_secret", func(t *testing.T) {
		t.Parallel()
		v := NewValueFromString("hunter2")
		got, err := v.String()
		require.NoError(t, err)
		assert.Equal(t, "hunter2", got)
	})

	t.Run("can_be_opened_repeatedly", func(t *testing.T) {
		t.Parallel()
		v := NewValueFromString("hunter2")
		for i := 0; i < 3; i++ {
			got, err := v.String()
			require.NoError(t, err)
			assert.Equal(t, "hunter2", got)
		}
	})

	t.Run("empty_value_is_legal", func(t *testing.T) {
		t.Parallel()
		v := NewValueFromString("")
		got, err := v.String()
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("destroyed_value_errors", func(t *testing.T) {
		t.Parallel()
		v := NewValueFromString("hunter2")
		v.Destroy()
		v.Destroy() // idempotent
		_, err := v.String()
		assert.ErrorIs(t, err, ErrDestroyed)
	})
}
