package commands

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kverrors "github.com/keyvaultops/kvops/internal/errors"
	"github.com/keyvaultops/kvops/internal/identity"
)

func TestReadValue(t *testing.T) {
	t.Parallel()

	t.Run("prefers_the_positional_argument", func(t *testing.T) {
		t.Parallel()
		v, err := readValue([]string{"name", "from-arg"}, strings.NewReader("from-stdin"))
		require.NoError(t, err)
		got, err := v.String()
		require.NoError(t, err)
		assert.Equal(t, "from-arg", got)
	})

	t.Run("falls_back_to_stdin_and_trims_trailing_newline", func(t *testing.T) {
		t.Parallel()
		v, err := readValue([]string{"name"}, strings.NewReader("piped-value\n"))
		require.NoError(t, err)
		got, err := v.String()
		require.NoError(t, err)
		assert.Equal(t, "piped-value", got)
	})

	t.Run("empty_stdin_is_an_error", func(t *testing.T) {
		t.Parallel()
		_, err := readValue([]string{"name"}, strings.NewReader("\n"))
		var userErr kverrors.UserError
		require.ErrorAs(t, err, &userErr)
	})
}

func TestParseTags(t *testing.T) {
	t.Parallel()

	t.Run("parses_key_value_pairs_in_order", func(t *testing.T) {
		t.Parallel()
		tags, err := parseTags([]string{"env=prod", "team=payments", "empty="})
		require.NoError(t, err)
		assert.Equal(t, []identity.Slot{
			{Key: "env", Value: "prod"},
			{Key: "team", Value: "payments"},
			{Key: "empty", Value: ""},
		}, tags)
	})

	t.Run("value_may_contain_equals_signs", func(t *testing.T) {
		t.Parallel()
		tags, err := parseTags([]string{"conn=a=b=c"})
		require.NoError(t, err)
		assert.Equal(t, "a=b=c", tags[0].Value)
	})

	t.Run("rejects_entries_without_a_key", func(t *testing.T) {
		t.Parallel()
		for _, bad := range []string{"novalue", "=orphan", ""} {
			_, err := parseTags([]string{bad})
			assert.Error(t, err, "entry %q", bad)
		}
	})

	t.Run("rejects_reserved_keys", func(t *testing.T) {
		t.Parallel()
		_, err := parseTags([]string{"groups=evil"})
		var userErr kverrors.UserError
		require.ErrorAs(t, err, &userErr)
		assert.Contains(t, userErr.Message, "reserved")
	})
}

func TestParseExpires(t *testing.T) {
	t.Parallel()

	t.Run("accepts_rfc3339", func(t *testing.T) {
		t.Parallel()
		got, err := parseExpires("2027-03-15T10:00:00Z")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, time.Date(2027, 3, 15, 10, 0, 0, 0, time.UTC), got.UTC())
	})

	t.Run("accepts_a_bare_date", func(t *testing.T) {
		t.Parallel()
		got, err := parseExpires("2027-03-15")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 2027, got.Year())
	})

	t.Run("accepts_a_duration_offset", func(t *testing.T) {
		t.Parallel()
		got, err := parseExpires("720h")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.WithinDuration(t, time.Now().Add(720*time.Hour), *got, time.Minute)
	})

	t.Run("empty_means_unset", func(t *testing.T) {
		t.Parallel()
		got, err := parseExpires("")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("rejects_garbage", func(t *testing.T) {
		t.Parallel()
		_, err := parseExpires("next tuesday")
		var userErr kverrors.UserError
		require.ErrorAs(t, err, &userErr)
	})
}

func TestGroupsForRequest(t *testing.T) {
	t.Parallel()

	t.Run("no_flags_leaves_membership_untouched", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, groupsForRequest(false, false, nil))
	})

	t.Run("explicit_groups_pass_through", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []string{"a", "b"}, groupsForRequest(true, false, []string{"a", "b"}))
		assert.Equal(t, []string{"c"}, groupsForRequest(true, true, []string{"c"}))
	})

	t.Run("replace_without_groups_clears_membership", func(t *testing.T) {
		t.Parallel()
		got := groupsForRequest(false, true, nil)
		require.NotNil(t, got)
		assert.Empty(t, got)
	})
}

func TestOptionalString(t *testing.T) {
	t.Parallel()

	assert.Nil(t, optionalString(false, "ignored"))
	require.NotNil(t, optionalString(true, ""))
	assert.Equal(t, "", *optionalString(true, ""))
	assert.Equal(t, "x", *optionalString(true, "x"))
}
