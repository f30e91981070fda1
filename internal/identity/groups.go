package identity

import (
	"strings"

	kverrors "github.com/keyvaultops/kvops/internal/errors"
)

// Reconcile combines existing group membership with incoming groups under the
// given mode. Merge keeps existing order and appends unseen incoming groups
// in first-seen order; Replace yields exactly the incoming groups. Both modes
// collapse duplicates (union semantics, not multiset). Group names are
// case-sensitive.
//
// Every incoming name is validated before any reconciliation happens: a
// comma would corrupt the joined slot value, so it fails fast with
// InvalidGroupNameError.
func Reconcile(existing, incoming []string, mode Mode) ([]string, error) {
	for _, name := range incoming {
		if strings.Contains(name, ",") {
			return nil, kverrors.InvalidGroupNameError{Name: name}
		}
	}

	result := []string{}
	seen := make(map[string]bool)

	if mode == ModeMerge {
		for _, name := range existing {
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			result = append(result, name)
		}
	}

	for _, name := range incoming {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		result = append(result, name)
	}

	return result, nil
}

// SplitGroups parses the comma-joined groups slot value, trimming whitespace
// and dropping empty entries.
func SplitGroups(value string) []string {
	var groups []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			groups = append(groups, part)
		}
	}
	return groups
}

// JoinGroups serializes groups for the groups slot.
func JoinGroups(groups []string) string {
	return strings.Join(groups, ",")
}
