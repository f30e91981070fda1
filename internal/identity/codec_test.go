package identity

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kverrors "github.com/keyvaultops/kvops/internal/errors"
)

func strPtr(s string) *string { return &s }

func TestEncode(t *testing.T) {
	t.Parallel()

	t.Run("first_creation_writes_original_name_and_created_by", func(t *testing.T) {
		t.Parallel()
		id := Identity{OriginalName: "my-app/db@prod"}
		got, err := Encode(id, SlotSet{}, EncodeOptions{})
		require.NoError(t, err)

		name, ok := got.Get(KeyOriginalName)
		require.True(t, ok)
		assert.Equal(t, "my-app/db@prod", name)

		creator, ok := got.Get(KeyCreatedBy)
		require.True(t, ok)
		assert.Equal(t, DefaultCreatedBy, creator)
	})

	t.Run("created_by_is_write_once", func(t *testing.T) {
		t.Parallel()
		existing := NewSlotSet(
			Slot{KeyOriginalName, "s"},
			Slot{KeyCreatedBy, "alice"},
		)
		id := Identity{OriginalName: "s", CreatedBy: "mallory"}
		got, err := Encode(id, existing, EncodeOptions{})
		require.NoError(t, err)

		creator, _ := got.Get(KeyCreatedBy)
		assert.Equal(t, "alice", creator)
	})

	t.Run("original_name_is_never_truncated", func(t *testing.T) {
		t.Parallel()
		long := strings.Repeat("x", 200)
		got, err := Encode(Identity{OriginalName: long}, SlotSet{}, EncodeOptions{})
		require.NoError(t, err)
		name, _ := got.Get(KeyOriginalName)
		assert.Equal(t, long, name)
	})

	t.Run("nil_optional_fields_leave_slots_untouched", func(t *testing.T) {
		t.Parallel()
		existing := NewSlotSet(
			Slot{KeyOriginalName, "s"},
			Slot{KeyCreatedBy, "alice"},
			Slot{KeyFolder, "apps/web"},
			Slot{KeyNote, "keep me"},
			Slot{KeyGroups, "prod"},
		)
		got, err := Encode(Identity{OriginalName: "s"}, existing, EncodeOptions{})
		require.NoError(t, err)

		folder, _ := got.Get(KeyFolder)
		assert.Equal(t, "apps/web", folder)
		note, _ := got.Get(KeyNote)
		assert.Equal(t, "keep me", note)
		groups, _ := got.Get(KeyGroups)
		assert.Equal(t, "prod", groups)
	})

	t.Run("empty_folder_and_note_clear_their_slots", func(t *testing.T) {
		t.Parallel()
		existing := NewSlotSet(
			Slot{KeyOriginalName, "s"},
			Slot{KeyFolder, "old"},
			Slot{KeyNote, "old"},
		)
		id := Identity{OriginalName: "s", Folder: strPtr(""), Note: strPtr("")}
		got, err := Encode(id, existing, EncodeOptions{})
		require.NoError(t, err)

		_, hasFolder := got.Get(KeyFolder)
		assert.False(t, hasFolder)
		_, hasNote := got.Get(KeyNote)
		assert.False(t, hasNote)
	})

	t.Run("expires_serializes_as_utc_rfc3339", func(t *testing.T) {
		t.Parallel()
		loc := time.FixedZone("plus2", 2*3600)
		exp := time.Date(2027, 3, 15, 12, 0, 0, 0, loc)
		id := Identity{OriginalName: "s", Expires: &exp}
		got, err := Encode(id, SlotSet{}, EncodeOptions{})
		require.NoError(t, err)

		value, _ := got.Get(KeyExpires)
		assert.Equal(t, "2027-03-15T10:00:00Z", value)
	})

	t.Run("groups_merge_with_existing_slot", func(t *testing.T) {
		t.Parallel()
		existing := NewSlotSet(Slot{KeyGroups, "a,b"})
		id := Identity{OriginalName: "s", Groups: []string{"c"}}
		got, err := Encode(id, existing, EncodeOptions{GroupMode: ModeMerge})
		require.NoError(t, err)

		value, _ := got.Get(KeyGroups)
		assert.Equal(t, "a,b,c", value)
	})

	t.Run("groups_replace_discards_existing", func(t *testing.T) {
		t.Parallel()
		existing := NewSlotSet(Slot{KeyGroups, "a,b"})
		id := Identity{OriginalName: "s", Groups: []string{"c"}}
		got, err := Encode(id, existing, EncodeOptions{GroupMode: ModeReplace})
		require.NoError(t, err)

		value, _ := got.Get(KeyGroups)
		assert.Equal(t, "c", value)
	})

	t.Run("replace_to_empty_removes_groups_slot", func(t *testing.T) {
		t.Parallel()
		existing := NewSlotSet(Slot{KeyGroups, "a,b"})
		id := Identity{OriginalName: "s", Groups: []string{}}
		got, err := Encode(id, existing, EncodeOptions{GroupMode: ModeReplace})
		require.NoError(t, err)

		_, ok := got.Get(KeyGroups)
		assert.False(t, ok, "empty membership must remove the slot, not store an empty string")
	})

	t.Run("invalid_group_name_fails_whole_encode", func(t *testing.T) {
		t.Parallel()
		id := Identity{OriginalName: "s", Groups: []string{"a,b"}}
		_, err := Encode(id, SlotSet{}, EncodeOptions{})
		var invalid kverrors.InvalidGroupNameError
		require.ErrorAs(t, err, &invalid)
	})

	t.Run("tag_merge_keeps_existing_user_tags", func(t *testing.T) {
		t.Parallel()
		existing := NewSlotSet(
			Slot{KeyOriginalName, "s"},
			Slot{"team", "payments"},
		)
		id := Identity{OriginalName: "s", UserTags: []Slot{{"env", "prod"}}}
		got, err := Encode(id, existing, EncodeOptions{TagMode: ModeMerge})
		require.NoError(t, err)

		team, ok := got.Get("team")
		require.True(t, ok)
		assert.Equal(t, "payments", team)
		env, _ := got.Get("env")
		assert.Equal(t, "prod", env)
	})

	t.Run("tag_replace_drops_existing_user_tags_but_keeps_reserved", func(t *testing.T) {
		t.Parallel()
		existing := NewSlotSet(
			Slot{KeyOriginalName, "s"},
			Slot{KeyCreatedBy, "alice"},
			Slot{KeyGroups, "prod"},
			Slot{"team", "payments"},
		)
		id := Identity{OriginalName: "s", UserTags: []Slot{{"env", "prod"}}}
		got, err := Encode(id, existing, EncodeOptions{TagMode: ModeReplace})
		require.NoError(t, err)

		_, hasTeam := got.Get("team")
		assert.False(t, hasTeam)
		env, _ := got.Get("env")
		assert.Equal(t, "prod", env)
		creator, _ := got.Get(KeyCreatedBy)
		assert.Equal(t, "alice", creator)
		groups, _ := got.Get(KeyGroups)
		assert.Equal(t, "prod", groups)
	})

	t.Run("value_over_rune_limit_fails", func(t *testing.T) {
		t.Parallel()
		id := Identity{
			OriginalName: "s",
			UserTags:     []Slot{{"big", strings.Repeat("語", MaxSlotValueLen+1)}},
		}
		_, err := Encode(id, SlotSet{}, EncodeOptions{})
		var tooLong kverrors.TagValueTooLongError
		require.ErrorAs(t, err, &tooLong)
		assert.Equal(t, "big", tooLong.Key)
		assert.Equal(t, MaxSlotValueLen+1, tooLong.Length)
	})

	t.Run("value_at_rune_limit_passes", func(t *testing.T) {
		t.Parallel()
		// Multi-byte runes: well over 256 bytes but exactly 256 runes.
		id := Identity{
			OriginalName: "s",
			UserTags:     []Slot{{"big", strings.Repeat("語", MaxSlotValueLen)}},
		}
		_, err := Encode(id, SlotSet{}, EncodeOptions{})
		require.NoError(t, err)
	})

	t.Run("slot_budget_overflow_fails_without_partial_result", func(t *testing.T) {
		t.Parallel()
		var tags []Slot
		for i := 0; i < MaxSlots; i++ {
			tags = append(tags, Slot{fmt.Sprintf("t%02d", i), "v"})
		}
		// original_name and created_by push the total past the budget.
		_, err := Encode(Identity{OriginalName: "s", UserTags: tags}, SlotSet{}, EncodeOptions{})
		var exceeded kverrors.TagLimitExceededError
		require.ErrorAs(t, err, &exceeded)
		assert.Len(t, exceeded.Rejected, 2)
	})

	t.Run("budget_counts_reserved_and_user_slots_together", func(t *testing.T) {
		t.Parallel()
		var tags []Slot
		for i := 0; i < MaxSlots-2; i++ {
			tags = append(tags, Slot{fmt.Sprintf("t%02d", i), "v"})
		}
		got, err := Encode(Identity{OriginalName: "s", UserTags: tags}, SlotSet{}, EncodeOptions{})
		require.NoError(t, err)
		assert.Equal(t, MaxSlots, got.Len())
	})
}

func TestDecode(t *testing.T) {
	t.Parallel()

	t.Run("reserved_slots_populate_typed_fields", func(t *testing.T) {
		t.Parallel()
		slots := NewSlotSet(
			Slot{KeyOriginalName, "my-app/db@prod"},
			Slot{KeyGroups, "a, b ,c"},
			Slot{KeyFolder, "apps/web"},
			Slot{KeyNote, "primary db"},
			Slot{KeyCreatedBy, "alice"},
			Slot{KeyExpires, "2027-03-15T10:00:00Z"},
			Slot{"team", "payments"},
		)
		id := Decode(slots)

		assert.Equal(t, "my-app/db@prod", id.OriginalName)
		assert.Equal(t, []string{"a", "b", "c"}, id.Groups)
		require.NotNil(t, id.Folder)
		assert.Equal(t, "apps/web", *id.Folder)
		require.NotNil(t, id.Note)
		assert.Equal(t, "primary db", *id.Note)
		assert.Equal(t, "alice", id.CreatedBy)
		require.NotNil(t, id.Expires)
		assert.Equal(t, time.Date(2027, 3, 15, 10, 0, 0, 0, time.UTC), id.Expires.UTC())
		assert.Equal(t, []Slot{{"team", "payments"}}, id.UserTags)
	})

	t.Run("unparseable_expires_is_dropped", func(t *testing.T) {
		t.Parallel()
		id := Decode(NewSlotSet(Slot{KeyExpires, "not-a-time"}))
		assert.Nil(t, id.Expires)
	})

	t.Run("decode_tags_orders_user_keys_deterministically", func(t *testing.T) {
		t.Parallel()
		id := DecodeTags(map[string]string{
			"zeta":          "1",
			"alpha":         "2",
			KeyOriginalName: "s",
		})
		assert.Equal(t, []Slot{{"alpha", "2"}, {"zeta", "1"}}, id.UserTags)
	})

	t.Run("encode_then_decode_round_trips", func(t *testing.T) {
		t.Parallel()
		exp := time.Date(2027, 1, 2, 3, 4, 5, 0, time.UTC)
		id := Identity{
			OriginalName: "my-app/db@prod",
			Groups:       []string{"prod", "payments"},
			Folder:       strPtr("apps/web"),
			Note:         strPtr("primary"),
			Expires:      &exp,
			UserTags:     []Slot{{"team", "payments"}},
		}
		slots, err := Encode(id, SlotSet{}, EncodeOptions{})
		require.NoError(t, err)

		back := Decode(slots)
		assert.Equal(t, id.OriginalName, back.OriginalName)
		assert.Equal(t, id.Groups, back.Groups)
		assert.Equal(t, *id.Folder, *back.Folder)
		assert.Equal(t, *id.Note, *back.Note)
		assert.Equal(t, DefaultCreatedBy, back.CreatedBy)
		assert.True(t, exp.Equal(*back.Expires))
		assert.Equal(t, id.UserTags, back.UserTags)
	})
}

func TestSlotSet(t *testing.T) {
	t.Parallel()

	t.Run("set_replaces_in_place_preserving_order", func(t *testing.T) {
		t.Parallel()
		s := NewSlotSet(Slot{"a", "1"}, Slot{"b", "2"}, Slot{"c", "3"})
		s.Set("b", "22")
		assert.Equal(t, []string{"a", "b", "c"}, s.Keys())
		value, _ := s.Get("b")
		assert.Equal(t, "22", value)
	})

	t.Run("from_tags_puts_reserved_keys_first", func(t *testing.T) {
		t.Parallel()
		s := SlotSetFromTags(map[string]string{
			"zz":            "1",
			KeyCreatedBy:    "alice",
			KeyOriginalName: "s",
			"aa":            "2",
		})
		assert.Equal(t, []string{KeyOriginalName, KeyCreatedBy, "aa", "zz"}, s.Keys())
	})

	t.Run("clone_is_independent", func(t *testing.T) {
		t.Parallel()
		s := NewSlotSet(Slot{"a", "1"})
		c := s.Clone()
		c.Set("a", "2")
		value, _ := s.Get("a")
		assert.Equal(t, "1", value)
	})
}
