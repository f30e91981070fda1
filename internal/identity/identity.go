// Package identity maps user-chosen secret names and organizational
// attributes onto Azure Key Vault's restrictive naming scheme and its
// fixed-size tag side-channel, without ever silently dropping data.
package identity

import (
	"sort"
	"time"
)

// Backend limits for secret metadata. Key Vault allows at most 15 tags per
// secret, each value at most 256 characters.
const (
	MaxSlots        = 15
	MaxSlotValueLen = 256
)

// Reserved tag keys. Everything else in the tag set belongs to the user.
const (
	KeyOriginalName = "original_name"
	KeyGroups       = "groups"
	KeyFolder       = "folder"
	KeyNote         = "note"
	KeyCreatedBy    = "created_by"
	KeyExpires      = "expires"
)

// reservedKeys is the canonical ordering used when rebuilding a slot set from
// the backend's unordered tag map.
var reservedKeys = []string{
	KeyOriginalName,
	KeyGroups,
	KeyFolder,
	KeyNote,
	KeyCreatedBy,
	KeyExpires,
}

// IsReserved reports whether key is one of the reserved tag keys.
func IsReserved(key string) bool {
	for _, k := range reservedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Mode selects update semantics for multi-valued fields. Merge unions
// incoming values with existing ones; Replace discards the existing set.
type Mode int

const (
	ModeMerge Mode = iota
	ModeReplace
)

func (m Mode) String() string {
	if m == ModeReplace {
		return "replace"
	}
	return "merge"
}

// Slot is one key/value metadata entry attached to a secret.
type Slot struct {
	Key   string
	Value string
}

// SlotSet is an ordered collection of metadata slots. Order is preserved
// across mutations so encode output is deterministic.
type SlotSet struct {
	slots []Slot
}

// NewSlotSet builds a slot set from slots in the given order.
func NewSlotSet(slots ...Slot) SlotSet {
	s := SlotSet{}
	for _, slot := range slots {
		s.Set(slot.Key, slot.Value)
	}
	return s
}

// SlotSetFromTags rebuilds a slot set from the backend's unordered tag map.
// Reserved keys come first in canonical order, then user keys sorted by name,
// so decodes are deterministic regardless of map iteration order.
func SlotSetFromTags(tags map[string]string) SlotSet {
	s := SlotSet{}
	for _, key := range reservedKeys {
		if value, ok := tags[key]; ok {
			s.Set(key, value)
		}
	}
	var userKeys []string
	for key := range tags {
		if !IsReserved(key) {
			userKeys = append(userKeys, key)
		}
	}
	sort.Strings(userKeys)
	for _, key := range userKeys {
		s.Set(key, tags[key])
	}
	return s
}

// Len returns the number of slots.
func (s *SlotSet) Len() int {
	return len(s.slots)
}

// Get returns the value for key and whether it is present.
func (s *SlotSet) Get(key string) (string, bool) {
	for _, slot := range s.slots {
		if slot.Key == key {
			return slot.Value, true
		}
	}
	return "", false
}

// Set replaces the value for key in place, or appends a new slot.
func (s *SlotSet) Set(key, value string) {
	for i, slot := range s.slots {
		if slot.Key == key {
			s.slots[i].Value = value
			return
		}
	}
	s.slots = append(s.slots, Slot{Key: key, Value: value})
}

// Delete removes the slot for key if present.
func (s *SlotSet) Delete(key string) {
	for i, slot := range s.slots {
		if slot.Key == key {
			s.slots = append(s.slots[:i], s.slots[i+1:]...)
			return
		}
	}
}

// Slots returns a copy of the slots in order.
func (s *SlotSet) Slots() []Slot {
	out := make([]Slot, len(s.slots))
	copy(out, s.slots)
	return out
}

// Keys returns the slot keys in order.
func (s *SlotSet) Keys() []string {
	keys := make([]string, len(s.slots))
	for i, slot := range s.slots {
		keys[i] = slot.Key
	}
	return keys
}

// Tags flattens the slot set into the map shape the backend stores.
func (s *SlotSet) Tags() map[string]string {
	tags := make(map[string]string, len(s.slots))
	for _, slot := range s.slots {
		tags[slot.Key] = slot.Value
	}
	return tags
}

// Clone returns an independent copy.
func (s *SlotSet) Clone() SlotSet {
	return SlotSet{slots: s.Slots()}
}

// Identity is the full semantic identity of one secret as understood by the
// tool, independent of backend storage constraints. Optional fields are nil
// when the caller did not supply them; for Groups, nil means "leave
// untouched" while an empty non-nil slice under replace semantics means
// "remove all group membership".
type Identity struct {
	OriginalName  string
	CanonicalName string
	Overflow      bool
	Groups        []string
	Folder        *string
	Note          *string
	Expires       *time.Time
	CreatedBy     string
	UserTags      []Slot
}

// UserTag returns the value of a user-defined tag and whether it is present.
func (id *Identity) UserTag(key string) (string, bool) {
	for _, tag := range id.UserTags {
		if tag.Key == key {
			return tag.Value, true
		}
	}
	return "", false
}

// InGroup reports whether the identity belongs to the named group.
// Comparison is case-sensitive.
func (id *Identity) InGroup(name string) bool {
	for _, g := range id.Groups {
		if g == name {
			return true
		}
	}
	return false
}
