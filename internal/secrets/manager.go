// Package secrets orchestrates secret operations: it owns the
// sanitize → read → encode → write chain and the batch machinery, leaving
// slot semantics to internal/identity and transport to internal/vault.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	kverrors "github.com/keyvaultops/kvops/internal/errors"
	"github.com/keyvaultops/kvops/internal/identity"
	"github.com/keyvaultops/kvops/internal/logging"
	"github.com/keyvaultops/kvops/internal/secure"
	"github.com/keyvaultops/kvops/internal/vault"
)

// Manager performs secret operations against one vault.
type Manager struct {
	store  *vault.Store
	logger *logging.Logger
}

// NewManager wires a store into a manager.
func NewManager(store *vault.Store, logger *logging.Logger) *Manager {
	return &Manager{store: store, logger: logger}
}

// SetRequest describes a set or update. Nil optional fields leave the
// corresponding slot untouched on update; Groups nil means group membership
// is not being changed.
type SetRequest struct {
	Name          string
	Value         *secure.Value
	Groups        []string
	ReplaceGroups bool
	Folder        *string
	Note          *string
	Expires       *time.Time
	Tags          []identity.Slot
	ReplaceTags   bool
	ContentType   *string
	Enabled       *bool
}

// Detail is a fully decoded secret: logical identity plus the native
// attributes the backend tracks.
type Detail struct {
	Identity    identity.Identity
	Value       string
	ETag        string
	Enabled     *bool
	Expires     *time.Time
	Created     *time.Time
	Updated     *time.Time
	ContentType string
}

func (m *Manager) encodeOptions(req SetRequest) identity.EncodeOptions {
	opts := identity.EncodeOptions{}
	if req.ReplaceGroups {
		opts.GroupMode = identity.ModeReplace
	}
	if req.ReplaceTags {
		opts.TagMode = identity.ModeReplace
	}
	return opts
}

// validateTags rejects user tags whose keys collide with reserved slot keys.
// Reserved fields have dedicated flags; accepting them as free-form tags
// would bypass the codec's invariants (created_by write-once in particular).
func validateTags(tags []identity.Slot) error {
	for _, tag := range tags {
		if identity.IsReserved(tag.Key) {
			return kverrors.UserError{
				Message:    fmt.Sprintf("tag key %q is reserved", tag.Key),
				Suggestion: "Use the dedicated flag instead (--group, --folder, --note, --expires)",
			}
		}
	}
	return nil
}

// Set creates a secret or writes a new version of an existing one. All
// validation and encoding completes before any mutation is attempted, so a
// failed set never leaves the backend partially updated.
func (m *Manager) Set(ctx context.Context, req SetRequest) (Detail, error) {
	if req.Value == nil {
		return Detail{}, kverrors.UserError{
			Message:    "a secret value is required",
			Suggestion: "Pass the value as an argument, or pipe it on stdin",
		}
	}
	if err := validateTags(req.Tags); err != nil {
		return Detail{}, err
	}
	name, err := identity.Sanitize(req.Name)
	if err != nil {
		return Detail{}, err
	}
	if name.Overflow {
		m.logger.Debug("name %q exceeds %d characters, using digest %s",
			req.Name, identity.MaxNameLength, name.Canonical)
	}

	existing := identity.SlotSet{}
	etag := ""
	current, err := m.store.Get(ctx, name.Canonical)
	switch {
	case err == nil:
		existing = identity.SlotSetFromTags(current.Tags)
		etag = current.ETag
	case isNotFound(err):
		// First creation.
	default:
		return Detail{}, err
	}

	id := identity.Identity{
		OriginalName:  req.Name,
		CanonicalName: name.Canonical,
		Overflow:      name.Overflow,
		Groups:        req.Groups,
		Folder:        req.Folder,
		Note:          req.Note,
		Expires:       req.Expires,
		UserTags:      req.Tags,
	}
	slots, err := identity.Encode(id, existing, m.encodeOptions(req))
	if err != nil {
		return Detail{}, err
	}

	value, err := req.Value.String()
	if err != nil {
		return Detail{}, fmt.Errorf("failed to open secret value: %w", err)
	}

	attrs := vault.Attributes{
		Enabled:     req.Enabled,
		Expires:     req.Expires,
		ContentType: req.ContentType,
	}
	written, err := m.store.Put(ctx, name.Canonical, value, slots.Tags(), attrs, etag)
	if err != nil {
		return Detail{}, err
	}

	return m.detailFromSecret(written, false), nil
}

// Update mutates an existing secret. Without a new value it patches metadata
// in place (no new version); with one it behaves like Set but requires the
// secret to already exist.
func (m *Manager) Update(ctx context.Context, req SetRequest) (Detail, error) {
	if err := validateTags(req.Tags); err != nil {
		return Detail{}, err
	}
	name, err := identity.Sanitize(req.Name)
	if err != nil {
		return Detail{}, err
	}

	current, err := m.store.Get(ctx, name.Canonical)
	if err != nil {
		return Detail{}, err
	}
	existing := identity.SlotSetFromTags(current.Tags)

	id := identity.Identity{
		OriginalName:  req.Name,
		CanonicalName: name.Canonical,
		Overflow:      name.Overflow,
		Groups:        req.Groups,
		Folder:        req.Folder,
		Note:          req.Note,
		Expires:       req.Expires,
		UserTags:      req.Tags,
	}
	slots, err := identity.Encode(id, existing, m.encodeOptions(req))
	if err != nil {
		return Detail{}, err
	}

	attrs := vault.Attributes{
		Enabled:     req.Enabled,
		Expires:     req.Expires,
		ContentType: req.ContentType,
	}

	var written vault.Secret
	if req.Value != nil {
		value, openErr := req.Value.String()
		if openErr != nil {
			return Detail{}, fmt.Errorf("failed to open secret value: %w", openErr)
		}
		written, err = m.store.Put(ctx, name.Canonical, value, slots.Tags(), attrs, current.ETag)
	} else {
		written, err = m.store.Patch(ctx, name.Canonical, slots.Tags(), attrs, current.ETag)
	}
	if err != nil {
		return Detail{}, err
	}

	return m.detailFromSecret(written, false), nil
}

// Rename stores the secret under a new name, carrying its value, groups,
// folder, note, expiry, and user tags, then removes the old entry unless
// keepSource is set (copy semantics). The two writes are not atomic; the
// source is deleted only after the target write succeeds, so a failure can
// leave both names present but never neither.
func (m *Manager) Rename(ctx context.Context, oldName, newName string, keepSource bool) (Detail, error) {
	oldSan, err := identity.Sanitize(oldName)
	if err != nil {
		return Detail{}, err
	}
	newSan, err := identity.Sanitize(newName)
	if err != nil {
		return Detail{}, err
	}
	if oldSan.Canonical == newSan.Canonical {
		return Detail{}, kverrors.UserError{
			Message:    fmt.Sprintf("%q and %q resolve to the same stored name", oldName, newName),
			Suggestion: "Pick a new name that differs after sanitization",
		}
	}

	current, err := m.store.Get(ctx, oldSan.Canonical)
	if err != nil {
		return Detail{}, err
	}
	source := m.detailFromSecret(current, oldSan.Overflow)

	value := secure.NewValueFromString(source.Value)
	defer value.Destroy()

	groups := source.Identity.Groups
	if groups == nil {
		groups = []string{}
	}
	detail, err := m.Set(ctx, SetRequest{
		Name:          newName,
		Value:         value,
		Groups:        groups,
		ReplaceGroups: true,
		Folder:        source.Identity.Folder,
		Note:          source.Identity.Note,
		Expires:       source.Expires,
		Tags:          source.Identity.UserTags,
		ReplaceTags:   true,
	})
	if err != nil {
		return Detail{}, err
	}

	if !keepSource {
		if err := m.store.Delete(ctx, oldSan.Canonical); err != nil {
			return detail, err
		}
	}
	return detail, nil
}

// Get fetches and decodes a secret, value included. The identity is decoded
// fresh from whatever slots the backend currently holds.
func (m *Manager) Get(ctx context.Context, rawName string) (Detail, error) {
	name, err := identity.Sanitize(rawName)
	if err != nil {
		return Detail{}, err
	}
	secret, err := m.store.Get(ctx, name.Canonical)
	if err != nil {
		return Detail{}, err
	}
	return m.detailFromSecret(secret, name.Overflow), nil
}

// Exists reports whether the secret is present, treating 404 as a clean no.
func (m *Manager) Exists(ctx context.Context, rawName string) (bool, error) {
	_, err := m.Get(ctx, rawName)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes a secret by its user-chosen name.
func (m *Manager) Delete(ctx context.Context, rawName string) error {
	name, err := identity.Sanitize(rawName)
	if err != nil {
		return err
	}
	return m.store.Delete(ctx, name.Canonical)
}

// Versions returns the version history of a secret, oldest first.
func (m *Manager) Versions(ctx context.Context, rawName string) ([]vault.Secret, error) {
	name, err := identity.Sanitize(rawName)
	if err != nil {
		return nil, err
	}
	versions, err := m.store.Versions(ctx, name.Canonical)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(versions, func(i, j int) bool {
		a, b := versions[i].Created, versions[j].Created
		if a == nil || b == nil {
			return b != nil
		}
		return a.Before(*b)
	})
	return versions, nil
}

// ListOptions filters a listing. Empty fields match everything.
type ListOptions struct {
	Group  string
	Folder string
}

// List decodes every secret's slots and returns the results sorted by
// original name. Filters match against decoded identity, so a group filter
// matches any member of the comma-joined groups slot.
func (m *Manager) List(ctx context.Context, opts ListOptions) ([]Detail, error) {
	secrets, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}

	var details []Detail
	for _, secret := range secrets {
		detail := m.detailFromSecret(secret, false)
		if opts.Group != "" && !detail.Identity.InGroup(opts.Group) {
			continue
		}
		if opts.Folder != "" {
			if detail.Identity.Folder == nil || *detail.Identity.Folder != opts.Folder {
				continue
			}
		}
		details = append(details, detail)
	}

	sort.Slice(details, func(i, j int) bool {
		return details[i].Identity.OriginalName < details[j].Identity.OriginalName
	})
	return details, nil
}

// Groups returns every group name in the vault with its member count,
// sorted by name.
func (m *Manager) Groups(ctx context.Context) (map[string][]Detail, error) {
	details, err := m.List(ctx, ListOptions{})
	if err != nil {
		return nil, err
	}
	groups := make(map[string][]Detail)
	for _, detail := range details {
		for _, group := range detail.Identity.Groups {
			groups[group] = append(groups[group], detail)
		}
	}
	return groups, nil
}

func (m *Manager) detailFromSecret(secret vault.Secret, overflow bool) Detail {
	id := identity.DecodeTags(secret.Tags)
	id.CanonicalName = secret.Name
	if id.OriginalName == "" {
		// Secrets written by other tools have no original_name slot; the
		// canonical name is the best identity available.
		id.OriginalName = secret.Name
	}
	id.Overflow = overflow || len(id.OriginalName) > identity.MaxNameLength

	return Detail{
		Identity:    id,
		Value:       secret.Value,
		ETag:        secret.ETag,
		Enabled:     secret.Enabled,
		Expires:     secret.Expires,
		Created:     secret.Created,
		Updated:     secret.Updated,
		ContentType: secret.ContentType,
	}
}

func isNotFound(err error) bool {
	var notFound kverrors.NotFoundError
	return errors.As(err, &notFound)
}

// BatchItem is one entry in a bulk import.
type BatchItem struct {
	Name  string
	Value *secure.Value
}

// BatchOptions tunes bulk imports. Concurrency is kept conservatively low by
// default to respect vault throttling.
type BatchOptions struct {
	Concurrency     int
	ContinueOnError bool
	Groups          []string
	Folder          *string
	Tags            []identity.Slot
}

// BatchResult records one item's outcome.
type BatchResult struct {
	Name string
	Err  error
}

// BatchSet imports items with a bounded worker pool. Without
// ContinueOnError, the first failure cancels the remaining work; with it,
// every item runs and failures are collected in the results.
func (m *Manager) BatchSet(ctx context.Context, items []BatchItem, opts BatchOptions) ([]BatchResult, error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]BatchResult, len(items))
	semaphore := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func(i int, item BatchItem) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				results[i] = BatchResult{Name: item.Name, Err: ctx.Err()}
				return
			}
			defer func() { <-semaphore }()

			if ctx.Err() != nil {
				results[i] = BatchResult{Name: item.Name, Err: ctx.Err()}
				return
			}

			_, err := m.Set(ctx, SetRequest{
				Name:   item.Name,
				Value:  item.Value,
				Groups: opts.Groups,
				Folder: opts.Folder,
				Tags:   opts.Tags,
			})
			results[i] = BatchResult{Name: item.Name, Err: err}
			if err != nil && !opts.ContinueOnError {
				cancel()
			}
		}(i, item)
	}

	wg.Wait()

	var failed int
	var firstErr error
	for _, result := range results {
		if result.Err != nil && !errors.Is(result.Err, context.Canceled) {
			failed++
			if firstErr == nil {
				firstErr = result.Err
			}
		}
	}
	if failed > 0 {
		return results, kverrors.UserError{
			Message:    fmt.Sprintf("%d of %d secrets failed to import", failed, len(items)),
			Details:    firstErr.Error(),
			Suggestion: "Fix the first failure and re-run; successfully imported secrets are idempotent to re-set",
			Err:        firstErr,
		}
	}
	return results, nil
}
