package vault

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	kverrors "github.com/keyvaultops/kvops/internal/errors"
	"github.com/keyvaultops/kvops/internal/logging"
)

// Secret is one stored secret as the rest of the tool sees it. ETag is the
// Key Vault version identifier of the read, used as the optimistic
// concurrency token on writes.
type Secret struct {
	Name        string
	Value       string
	Tags        map[string]string
	ETag        string
	Enabled     *bool
	Expires     *time.Time
	NotBefore   *time.Time
	ContentType string
	Created     *time.Time
	Updated     *time.Time
}

// Attributes carries the native secret attributes a write may set. Nil
// fields are left to the backend's defaults or existing values.
type Attributes struct {
	Enabled     *bool
	Expires     *time.Time
	NotBefore   *time.Time
	ContentType *string
}

// Store performs secret operations against one vault, routing every call
// through the retrying invoker.
type Store struct {
	client  Client
	invoker *Invoker
	logger  *logging.Logger
}

// NewStore wires a client and invoker into a store.
func NewStore(client Client, invoker *Invoker, logger *logging.Logger) *Store {
	return &Store{client: client, invoker: invoker, logger: logger}
}

// Get reads the latest version of a secret, value and tags included.
func (s *Store) Get(ctx context.Context, name string) (Secret, error) {
	var resp azsecrets.GetSecretResponse
	err := s.invoker.Do(ctx, "get "+name, func(ctx context.Context) error {
		var callErr error
		resp, callErr = s.client.GetSecret(ctx, name, "", nil)
		return mapNotFound(name, callErr)
	})
	if err != nil {
		return Secret{}, err
	}
	return secretFromResponse(name, resp), nil
}

// Put writes a new secret version. A non-empty etag demands that the current
// version still matches it; any drift fails with ConflictError before the
// write. The check and the write are two calls, so this is best-effort
// optimistic concurrency, not a server-side precondition.
func (s *Store) Put(ctx context.Context, name, value string, tags map[string]string, attrs Attributes, etag string) (Secret, error) {
	if etag != "" {
		if err := s.checkETag(ctx, name, etag); err != nil {
			return Secret{}, err
		}
	}

	params := azsecrets.SetSecretParameters{
		Value: to.Ptr(value),
		Tags:  tagsToPtr(tags),
	}
	if attrs.ContentType != nil {
		params.ContentType = attrs.ContentType
	}
	if attrs.Enabled != nil || attrs.Expires != nil || attrs.NotBefore != nil {
		params.SecretAttributes = &azsecrets.SecretAttributes{
			Enabled:   attrs.Enabled,
			Expires:   attrs.Expires,
			NotBefore: attrs.NotBefore,
		}
	}

	var resp azsecrets.SetSecretResponse
	err := s.invoker.Do(ctx, "set "+name, func(ctx context.Context) error {
		var callErr error
		resp, callErr = s.client.SetSecret(ctx, name, params, nil)
		return callErr
	})
	if err != nil {
		return Secret{}, err
	}

	out := Secret{Name: name, Value: value, Tags: tags}
	if resp.ID != nil {
		out.ETag = resp.ID.Version()
	}
	if resp.Attributes != nil {
		out.Enabled = resp.Attributes.Enabled
		out.Expires = resp.Attributes.Expires
		out.Created = resp.Attributes.Created
		out.Updated = resp.Attributes.Updated
	}
	return out, nil
}

// Patch updates tags and attributes on the current version without minting a
// new one. Same etag semantics as Put.
func (s *Store) Patch(ctx context.Context, name string, tags map[string]string, attrs Attributes, etag string) (Secret, error) {
	if etag != "" {
		if err := s.checkETag(ctx, name, etag); err != nil {
			return Secret{}, err
		}
	}

	params := azsecrets.UpdateSecretPropertiesParameters{
		Tags: tagsToPtr(tags),
	}
	if attrs.ContentType != nil {
		params.ContentType = attrs.ContentType
	}
	if attrs.Enabled != nil || attrs.Expires != nil || attrs.NotBefore != nil {
		params.SecretAttributes = &azsecrets.SecretAttributes{
			Enabled:   attrs.Enabled,
			Expires:   attrs.Expires,
			NotBefore: attrs.NotBefore,
		}
	}

	var resp azsecrets.UpdateSecretPropertiesResponse
	err := s.invoker.Do(ctx, "update "+name, func(ctx context.Context) error {
		var callErr error
		resp, callErr = s.client.UpdateSecretProperties(ctx, name, "", params, nil)
		return mapNotFound(name, callErr)
	})
	if err != nil {
		return Secret{}, err
	}

	out := Secret{Name: name, Tags: tags}
	if resp.ID != nil {
		out.ETag = resp.ID.Version()
	}
	if resp.Attributes != nil {
		out.Enabled = resp.Attributes.Enabled
		out.Expires = resp.Attributes.Expires
		out.Created = resp.Attributes.Created
		out.Updated = resp.Attributes.Updated
	}
	return out, nil
}

// Delete removes a secret (soft delete on vaults with it enabled).
func (s *Store) Delete(ctx context.Context, name string) error {
	return s.invoker.Do(ctx, "delete "+name, func(ctx context.Context) error {
		_, callErr := s.client.DeleteSecret(ctx, name, nil)
		return mapNotFound(name, callErr)
	})
}

// List returns properties for every secret in the vault, without values.
func (s *Store) List(ctx context.Context) ([]Secret, error) {
	var props []*azsecrets.SecretProperties
	err := s.invoker.Do(ctx, "list", func(ctx context.Context) error {
		var callErr error
		props, callErr = s.client.ListSecrets(ctx)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	secrets := make([]Secret, 0, len(props))
	for _, p := range props {
		if p == nil {
			continue
		}
		secret := Secret{Tags: tagsFromPtr(p.Tags)}
		if p.ID != nil {
			secret.Name = p.ID.Name()
			secret.ETag = p.ID.Version()
		}
		if p.ContentType != nil {
			secret.ContentType = *p.ContentType
		}
		if p.Attributes != nil {
			secret.Enabled = p.Attributes.Enabled
			secret.Expires = p.Attributes.Expires
			secret.NotBefore = p.Attributes.NotBefore
			secret.Created = p.Attributes.Created
			secret.Updated = p.Attributes.Updated
		}
		secrets = append(secrets, secret)
	}
	return secrets, nil
}

// Versions lists the version history of a secret, without values. Order is
// whatever the backend returns; callers sort by Created when it matters.
func (s *Store) Versions(ctx context.Context, name string) ([]Secret, error) {
	var props []*azsecrets.SecretProperties
	err := s.invoker.Do(ctx, "versions "+name, func(ctx context.Context) error {
		var callErr error
		props, callErr = s.client.ListSecretVersions(ctx, name)
		return mapNotFound(name, callErr)
	})
	if err != nil {
		return nil, err
	}

	versions := make([]Secret, 0, len(props))
	for _, p := range props {
		if p == nil {
			continue
		}
		v := Secret{Name: name, Tags: tagsFromPtr(p.Tags)}
		if p.ID != nil {
			v.ETag = p.ID.Version()
		}
		if p.Attributes != nil {
			v.Enabled = p.Attributes.Enabled
			v.Created = p.Attributes.Created
			v.Updated = p.Attributes.Updated
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// checkETag fails with ConflictError when the secret's current version no
// longer matches etag. A deleted secret also counts as a conflict: the
// precondition named a version that is gone.
func (s *Store) checkETag(ctx context.Context, name, etag string) error {
	current, err := s.Get(ctx, name)
	if err != nil {
		var notFound kverrors.NotFoundError
		if errors.As(err, &notFound) {
			return kverrors.ConflictError{Name: name}
		}
		return err
	}
	if current.ETag != etag {
		return kverrors.ConflictError{Name: name}
	}
	return nil
}

func secretFromResponse(name string, resp azsecrets.GetSecretResponse) Secret {
	secret := Secret{Name: name, Tags: tagsFromPtr(resp.Tags)}
	if resp.Value != nil {
		secret.Value = *resp.Value
	}
	if resp.ID != nil {
		secret.Name = resp.ID.Name()
		secret.ETag = resp.ID.Version()
	}
	if resp.ContentType != nil {
		secret.ContentType = *resp.ContentType
	}
	if resp.Attributes != nil {
		secret.Enabled = resp.Attributes.Enabled
		secret.Expires = resp.Attributes.Expires
		secret.NotBefore = resp.Attributes.NotBefore
		secret.Created = resp.Attributes.Created
		secret.Updated = resp.Attributes.Updated
	}
	return secret
}

func tagsToPtr(tags map[string]string) map[string]*string {
	if tags == nil {
		return nil
	}
	out := make(map[string]*string, len(tags))
	for k, v := range tags {
		out[k] = to.Ptr(v)
	}
	return out
}

func tagsFromPtr(tags map[string]*string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if v != nil {
			out[k] = *v
		}
	}
	return out
}

// mapNotFound converts a backend 404 into the tool's NotFoundError so the
// invoker classifies it terminally and callers get the secret's name back.
func mapNotFound(name string, err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == 404 {
		return kverrors.NotFoundError{Name: name}
	}
	return err
}
