package identity

import (
	"time"
	"unicode/utf8"

	kverrors "github.com/keyvaultops/kvops/internal/errors"
)

// DefaultCreatedBy is the marker written to the created_by slot on first
// creation.
const DefaultCreatedBy = "kvops"

// EncodeOptions selects update semantics per multi-valued field. Zero value
// is merge for both groups and user tags.
type EncodeOptions struct {
	GroupMode Mode
	TagMode   Mode
}

// Encode assembles the slot set for an identity against the secret's current
// slots. It is a pure transformation: it either produces a complete slot set
// that satisfies every backend constraint, or fails without partial results,
// so callers can validate fully before any network mutation.
//
// Rules:
//   - original_name is written verbatim on every encode, never truncated, so
//     the raw name stays recoverable even when the canonical name is a hash.
//   - created_by is written once, on first creation, and never overwritten.
//   - folder, note, and expires are touched only when the identity supplies
//     them (non-nil); supplying an empty folder or note clears the slot.
//   - groups are reconciled under opts.GroupMode; an empty reconciled set
//     removes the groups slot entirely rather than storing an empty string.
//   - existing user tags survive under merge semantics and are dropped under
//     replace semantics; reserved slots are never affected by TagMode.
//
// User tag keys must not collide with reserved keys; the CLI layer rejects
// such tags before they reach the codec.
func Encode(id Identity, existing SlotSet, opts EncodeOptions) (SlotSet, error) {
	result := SlotSet{}
	for _, slot := range existing.Slots() {
		if IsReserved(slot.Key) || opts.TagMode == ModeMerge {
			result.Set(slot.Key, slot.Value)
		}
	}

	result.Set(KeyOriginalName, id.OriginalName)

	if _, ok := existing.Get(KeyCreatedBy); !ok {
		createdBy := id.CreatedBy
		if createdBy == "" {
			createdBy = DefaultCreatedBy
		}
		result.Set(KeyCreatedBy, createdBy)
	}

	if id.Folder != nil {
		if *id.Folder == "" {
			result.Delete(KeyFolder)
		} else {
			result.Set(KeyFolder, *id.Folder)
		}
	}
	if id.Note != nil {
		if *id.Note == "" {
			result.Delete(KeyNote)
		} else {
			result.Set(KeyNote, *id.Note)
		}
	}
	if id.Expires != nil {
		if id.Expires.IsZero() {
			result.Delete(KeyExpires)
		} else {
			result.Set(KeyExpires, id.Expires.UTC().Format(time.RFC3339))
		}
	}

	if id.Groups != nil {
		var existingGroups []string
		if value, ok := result.Get(KeyGroups); ok {
			existingGroups = SplitGroups(value)
		}
		reconciled, err := Reconcile(existingGroups, id.Groups, opts.GroupMode)
		if err != nil {
			return SlotSet{}, err
		}
		if len(reconciled) == 0 {
			result.Delete(KeyGroups)
		} else {
			result.Set(KeyGroups, JoinGroups(reconciled))
		}
	}

	for _, tag := range id.UserTags {
		result.Set(tag.Key, tag.Value)
	}

	for _, slot := range result.Slots() {
		if n := utf8.RuneCountInString(slot.Value); n > MaxSlotValueLen {
			return SlotSet{}, kverrors.TagValueTooLongError{Key: slot.Key, Length: n}
		}
	}
	if result.Len() > MaxSlots {
		keys := result.Keys()
		rejected := make([]string, len(keys)-MaxSlots)
		copy(rejected, keys[MaxSlots:])
		return SlotSet{}, kverrors.TagLimitExceededError{Rejected: rejected}
	}

	return result, nil
}

// Decode is the structural inverse of Encode: reserved slots populate their
// typed fields, the groups slot splits on commas with whitespace trimmed, and
// every unrecognized key lands in UserTags in slot order. The canonical name
// and overflow flag are not stored in slots; callers fill them in from the
// backend name.
func Decode(slots SlotSet) Identity {
	id := Identity{}

	if value, ok := slots.Get(KeyOriginalName); ok {
		id.OriginalName = value
	}
	if value, ok := slots.Get(KeyGroups); ok {
		id.Groups = SplitGroups(value)
	}
	if value, ok := slots.Get(KeyFolder); ok {
		folder := value
		id.Folder = &folder
	}
	if value, ok := slots.Get(KeyNote); ok {
		note := value
		id.Note = &note
	}
	if value, ok := slots.Get(KeyCreatedBy); ok {
		id.CreatedBy = value
	}
	if value, ok := slots.Get(KeyExpires); ok {
		if expires, err := time.Parse(time.RFC3339, value); err == nil {
			id.Expires = &expires
		}
	}

	for _, slot := range slots.Slots() {
		if !IsReserved(slot.Key) {
			id.UserTags = append(id.UserTags, slot)
		}
	}

	return id
}

// DecodeTags decodes straight from the backend's tag map.
func DecodeTags(tags map[string]string) Identity {
	slots := SlotSetFromTags(tags)
	return Decode(slots)
}
