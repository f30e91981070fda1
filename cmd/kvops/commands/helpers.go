package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/keyvaultops/kvops/internal/config"
	kverrors "github.com/keyvaultops/kvops/internal/errors"
	"github.com/keyvaultops/kvops/internal/identity"
	"github.com/keyvaultops/kvops/internal/secrets"
	"github.com/keyvaultops/kvops/internal/secure"
	"github.com/keyvaultops/kvops/internal/vault"
)

// buildManager loads configuration and wires the client → invoker → store →
// manager chain for one invocation.
func buildManager(cfg *config.Config) (*secrets.Manager, error) {
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	vaultURL, err := cfg.RequireVault()
	if err != nil {
		return nil, err
	}

	client, err := vault.NewClient(vault.ClientConfig{
		VaultURL:           vault.VaultURLFromName(vaultURL),
		TenantID:           cfg.Definition.Vault.TenantID,
		ClientID:           cfg.Definition.Vault.ClientID,
		ClientSecret:       cfg.Definition.Vault.ClientSecret,
		UseManagedIdentity: cfg.Definition.Vault.UseManagedIdentity,
		UserAssignedID:     cfg.Definition.Vault.UserAssignedID,
	})
	if err != nil {
		return nil, err
	}

	retryOpts := vault.DefaultRetryOptions()
	retryCfg := cfg.Definition.Retry
	if retryCfg.MaxAttempts > 0 {
		retryOpts.MaxAttempts = retryCfg.MaxAttempts
	}
	if retryCfg.BaseDelay() > 0 {
		retryOpts.BaseDelay = retryCfg.BaseDelay()
	}
	if retryCfg.MaxDelay() > 0 {
		retryOpts.MaxDelay = retryCfg.MaxDelay()
	}

	invoker := vault.NewInvoker(retryOpts, client, cfg.Logger)
	store := vault.NewStore(client, invoker, cfg.Logger)
	return secrets.NewManager(store, cfg.Logger), nil
}

// readValue takes the secret value from the second positional argument or,
// when absent, from stdin (so values never land in shell history).
func readValue(args []string, stdin io.Reader) (*secure.Value, error) {
	if len(args) >= 2 {
		return secure.NewValueFromString(args[1]), nil
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, kverrors.UserError{
			Message:    "Failed to read secret value from stdin",
			Details:    err.Error(),
			Suggestion: "Pass the value as an argument, or pipe it: echo -n 'value' | kvops set name",
		}
	}
	value := strings.TrimRight(string(data), "\r\n")
	if value == "" {
		return nil, kverrors.UserError{
			Message:    "Empty secret value",
			Suggestion: "Pass the value as an argument, or pipe it on stdin",
		}
	}
	return secure.NewValueFromString(value), nil
}

// parseTags parses repeated --tag key=value flags, rejecting reserved keys
// up front so the codec's invariants cannot be bypassed from the CLI.
func parseTags(raw []string) ([]identity.Slot, error) {
	var tags []identity.Slot
	for _, entry := range raw {
		key, value, found := strings.Cut(entry, "=")
		if !found || key == "" {
			return nil, kverrors.UserError{
				Message:    fmt.Sprintf("invalid tag %q", entry),
				Suggestion: "Use --tag key=value",
			}
		}
		if identity.IsReserved(key) {
			return nil, kverrors.UserError{
				Message:    fmt.Sprintf("tag key %q is reserved", key),
				Suggestion: "Use the dedicated flag instead (--group, --folder, --note, --expires)",
			}
		}
		tags = append(tags, identity.Slot{Key: key, Value: value})
	}
	return tags, nil
}

// parseExpires accepts an RFC3339 timestamp, a bare date, or a duration
// offset like 720h.
func parseExpires(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		t := time.Now().Add(d).UTC().Truncate(time.Second)
		return &t, nil
	}
	return nil, kverrors.UserError{
		Message:    fmt.Sprintf("invalid expiry %q", raw),
		Suggestion: "Use RFC3339 (2027-01-02T15:04:05Z), a date (2027-01-02), or a duration (720h)",
	}
}

// groupsForRequest maps the group flags onto the request's three-state
// semantics: nil leaves membership untouched, a non-nil slice sets it, and
// --replace-groups with no --group means "remove all membership" (empty
// non-nil slice).
func groupsForRequest(changed, replace bool, groups []string) []string {
	if !changed && !replace {
		return nil
	}
	if groups == nil {
		return []string{}
	}
	return groups
}

// optionalString returns a pointer when the flag was changed, nil otherwise,
// so commands can distinguish "not supplied" from "set to empty" (which
// clears the slot).
func optionalString(changed bool, value string) *string {
	if !changed {
		return nil
	}
	return &value
}

func joinGroups(groups []string) string {
	return strings.Join(groups, ", ")
}

func stdinIsPiped() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) == 0
}
