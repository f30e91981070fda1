package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	kverrors "github.com/keyvaultops/kvops/internal/errors"
)

// MaxNameLength is the longest raw name stored under its sanitized form.
// Anything longer gets a fixed-length digest as its canonical name, with the
// raw name preserved in the original_name tag.
const MaxNameLength = 127

var (
	illegalChars = regexp.MustCompile(`[^a-zA-Z0-9-]`)
	hyphenRuns   = regexp.MustCompile(`-+`)
	legalName    = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)
)

// SanitizedName is the backend-legal identifier derived from a user-chosen
// secret name. Overflow is set when the canonical name is a one-way digest
// rather than a readable sanitization of the input.
type SanitizedName struct {
	Canonical string
	Overflow  bool
}

// IsValidName reports whether name already satisfies Key Vault's naming
// rules: 1-127 characters from [A-Za-z0-9-].
func IsValidName(name string) bool {
	return name != "" && len(name) <= MaxNameLength && legalName.MatchString(name)
}

// Sanitize derives the canonical backend name for a user-chosen secret name.
// Each rune outside [A-Za-z0-9-] becomes a hyphen (multi-byte runes are
// replaced as one character, not per byte), runs of hyphens collapse, and
// leading/trailing hyphens are trimmed. A name with no legal characters at
// all fails rather than being silently substituted. Names longer than 127
// bytes keep their full SHA-256 digest as the canonical name; the raw name
// remains recoverable through the original_name tag.
//
// Deterministic and idempotent per input; no I/O.
func Sanitize(name string) (SanitizedName, error) {
	sanitized := illegalChars.ReplaceAllString(name, "-")
	sanitized = hyphenRuns.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-")

	if sanitized == "" {
		return SanitizedName{}, kverrors.InvalidNameError{Name: name}
	}

	if len(name) > MaxNameLength {
		return SanitizedName{Canonical: hashName(name), Overflow: true}, nil
	}

	return SanitizedName{Canonical: sanitized, Overflow: false}, nil
}

// hashName returns the full lowercase hex SHA-256 digest of name: 64
// characters, always a legal Key Vault name.
func hashName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])
}
