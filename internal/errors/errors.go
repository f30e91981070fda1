package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// Class buckets an error by how callers should react to it. Validation
// failures are raised locally before any network call; transient failures are
// retried by the invoker; everything else is terminal.
type Class int

const (
	ClassUnknown Class = iota
	ClassValidation
	ClassTransient
	ClassAuth
	ClassNotFound
	ClassConflict
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassTransient:
		return "transient"
	case ClassAuth:
		return "authentication"
	case ClassNotFound:
		return "not-found"
	case ClassConflict:
		return "conflict"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// InvalidNameError reports a secret name that sanitizes to nothing.
type InvalidNameError struct {
	Name string
}

func (e InvalidNameError) Error() string {
	return fmt.Sprintf("invalid secret name %q: no legal characters remain after sanitization", e.Name)
}

// TagValueTooLongError reports a single tag value over the backend's 256
// character limit. The whole encode fails; nothing is truncated.
type TagValueTooLongError struct {
	Key    string
	Length int
}

func (e TagValueTooLongError) Error() string {
	return fmt.Sprintf("tag %q value is %d characters, exceeding the 256 character limit", e.Key, e.Length)
}

// TagLimitExceededError reports that an encode would need more than the 15
// metadata slots the backend allows. Rejected lists the keys that could not
// fit, in slot order.
type TagLimitExceededError struct {
	Rejected []string
}

func (e TagLimitExceededError) Error() string {
	return fmt.Sprintf("tag limit of 15 exceeded; could not fit: %s", strings.Join(e.Rejected, ", "))
}

// InvalidGroupNameError reports a group name containing a comma, which would
// corrupt the comma-joined groups tag.
type InvalidGroupNameError struct {
	Name string
}

func (e InvalidGroupNameError) Error() string {
	return fmt.Sprintf("invalid group name %q: group names must not contain commas", e.Name)
}

// AuthenticationError is terminal after one credential refresh has been
// attempted and the call still fails with 401/403.
type AuthenticationError struct {
	Err error
}

func (e AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %v", e.Err)
	}
	return "authentication failed"
}

func (e AuthenticationError) Unwrap() error { return e.Err }

// NotFoundError reports a 404 from the backend. Never retried.
type NotFoundError struct {
	Name string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("secret not found: %s", e.Name)
}

// ConflictError reports a concurrent-modification signal (409 or a
// precondition mismatch). Never retried automatically; the caller must
// re-read and retry deliberately.
type ConflictError struct {
	Name string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("secret %q was modified concurrently; re-read and retry", e.Name)
}

// TransientExhaustedError reports that the retry budget ran out.
type TransientExhaustedError struct {
	Attempts int
	Last     error
}

func (e TransientExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e TransientExhaustedError) Unwrap() error { return e.Last }

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// Classify maps an error to its Class. The codec, the invoker, and the CLI
// all share this single classification so one failure model reaches the user.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	switch err.(type) {
	case InvalidNameError, TagValueTooLongError, TagLimitExceededError, InvalidGroupNameError:
		return ClassValidation
	case AuthenticationError:
		return ClassAuth
	case NotFoundError:
		return ClassNotFound
	case ConflictError:
		return ClassConflict
	case TransientExhaustedError:
		return ClassTransient
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return classifyStatus(respErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassTransient
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"connection refused",
		"broken pipe",
		"no such host",
		"rate limit",
		"throttl",
		"too many requests",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return ClassTransient
		}
	}

	return ClassUnknown
}

func classifyStatus(status int) Class {
	switch {
	case status == 401 || status == 403:
		return ClassAuth
	case status == 404:
		return ClassNotFound
	case status == 409 || status == 412:
		return ClassConflict
	case status == 429:
		return ClassTransient
	case status >= 500:
		return ClassTransient
	case status >= 400:
		return ClassPermanent
	default:
		return ClassUnknown
	}
}

// IsRetryable reports whether the invoker may retry the error.
func IsRetryable(err error) bool {
	return Classify(err) == ClassTransient
}

// Suggestion returns a one-line remediation hint for an error, or "" when
// there is nothing actionable to say.
func Suggestion(err error) string {
	switch e := err.(type) {
	case InvalidNameError:
		return "Use at least one letter, digit, or hyphen in the secret name"
	case TagValueTooLongError:
		return fmt.Sprintf("Shorten the value for '%s' to 256 characters or fewer", e.Key)
	case TagLimitExceededError:
		return "Remove unused tags first, or use --replace-tags to discard the existing tag set"
	case InvalidGroupNameError:
		return "Remove the comma from the group name, or split it into separate --group flags"
	case AuthenticationError:
		return "Check authentication: verify managed identity, service principal, or Azure CLI login"
	case NotFoundError:
		return "Verify the secret name exists in the vault. Use 'kvops list' to see available secrets"
	case ConflictError:
		return "Another process updated this secret. Run 'kvops get' to see the current state, then retry"
	case TransientExhaustedError:
		return "The vault kept failing with transient errors. Check network connectivity and Azure status, then retry"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "forbidden") || strings.Contains(errStr, "access denied"):
		return "Check Key Vault access policies: 'Get', 'Set', and 'List' permissions are required for secrets"
	case strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "401"):
		return "Check authentication: verify managed identity, service principal, or Azure CLI login"
	case strings.Contains(errStr, "throttled") || strings.Contains(errStr, "429"):
		return "Request was throttled. Wait a moment and try again, or lower --concurrency"
	case strings.Contains(errStr, "vault not found") || strings.Contains(errStr, "keyvaulterror"):
		return "Check the vault URL format and that the Key Vault exists"
	case strings.Contains(errStr, "tenant"):
		return "Check that the tenant ID is correct and the application is registered"
	case strings.Contains(errStr, "timeout"):
		return "The operation timed out. Check your network connection and try again"
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host"):
		return "Unable to connect. Check your network and the vault URL"
	}

	return ""
}

// Simplify wraps an error in a UserError carrying a remediation hint, unless
// it already renders well on its own.
func Simplify(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := err.(UserError); ok {
		return err
	}
	if _, ok := err.(ConfigError); ok {
		return err
	}

	if suggestion := Suggestion(err); suggestion != "" {
		return UserError{
			Message:    err.Error(),
			Suggestion: suggestion,
			Err:        err,
		}
	}

	return err
}
