// Package fakes holds hand-written test doubles for the Key Vault SDK
// surface kvops depends on.
package fakes

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

const fakeVaultURL = "https://fake-vault.vault.azure.net"

// FakeKeyVaultClient is an in-memory implementation of the vault.Client
// interface, with per-call error injection for retry and classification
// tests. It also implements vault.CredentialRefresher, counting refreshes.
type FakeKeyVaultClient struct {
	mu sync.Mutex

	secrets    map[string]*secretRecord
	versionSeq int

	// ErrorQueue maps an operation key ("set:name", "get:name", "list",
	// "update:name", "delete:name", "versions:name") to errors returned in
	// order before the real behavior resumes. Use ResponseError to build
	// HTTP-status errors.
	ErrorQueue map[string][]error

	// Calls counts invocations per operation key, error injections included.
	Calls map[string]int

	// RefreshCount counts credential refreshes.
	RefreshCount int

	// RefreshErr, when set, is returned by Refresh.
	RefreshErr error
}

type secretVersion struct {
	value   string
	tags    map[string]*string
	attrs   *azsecrets.SecretAttributes
	version string
}

type secretRecord struct {
	versions []secretVersion
}

// NewFakeKeyVaultClient creates an empty fake vault.
func NewFakeKeyVaultClient() *FakeKeyVaultClient {
	return &FakeKeyVaultClient{
		secrets:    make(map[string]*secretRecord),
		ErrorQueue: make(map[string][]error),
		Calls:      make(map[string]int),
	}
}

// ResponseError builds the azcore error shape the real SDK returns for an
// HTTP failure, so classification sees exactly what production would.
func ResponseError(status int, code string) error {
	u, _ := url.Parse(fakeVaultURL)
	return &azcore.ResponseError{
		StatusCode: status,
		ErrorCode:  code,
		RawResponse: &http.Response{
			StatusCode: status,
			Header:     http.Header{},
			Body:       http.NoBody,
			Request:    &http.Request{Method: http.MethodGet, URL: u},
		},
	}
}

// QueueError arranges for the next call with the given operation key to
// fail with err.
func (f *FakeKeyVaultClient) QueueError(opKey string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ErrorQueue[opKey] = append(f.ErrorQueue[opKey], err)
}

// AddSecret seeds a secret with a value and tags, returning its version.
func (f *FakeKeyVaultClient) AddSecret(name, value string, tags map[string]string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addVersionLocked(name, value, toPtrTags(tags), nil)
}

// CurrentTags returns a copy of the secret's current tags.
func (f *FakeKeyVaultClient) CurrentTags(name string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.secrets[name]
	if !ok || len(record.versions) == 0 {
		return nil
	}
	out := make(map[string]string)
	for k, v := range record.versions[len(record.versions)-1].tags {
		if v != nil {
			out[k] = *v
		}
	}
	return out
}

// CurrentVersion returns the secret's current version identifier.
func (f *FakeKeyVaultClient) CurrentVersion(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.secrets[name]
	if !ok || len(record.versions) == 0 {
		return ""
	}
	return record.versions[len(record.versions)-1].version
}

// VersionCount returns how many versions a secret holds.
func (f *FakeKeyVaultClient) VersionCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.secrets[name]
	if !ok {
		return 0
	}
	return len(record.versions)
}

func (f *FakeKeyVaultClient) addVersionLocked(name, value string, tags map[string]*string, attrs *azsecrets.SecretAttributes) string {
	f.versionSeq++
	version := fmt.Sprintf("v%06d", f.versionSeq)
	now := time.Now()

	if attrs == nil {
		attrs = &azsecrets.SecretAttributes{}
	}
	if attrs.Enabled == nil {
		attrs.Enabled = to.Ptr(true)
	}
	attrs.Created = to.Ptr(now)
	attrs.Updated = to.Ptr(now)

	record, ok := f.secrets[name]
	if !ok {
		record = &secretRecord{}
		f.secrets[name] = record
	}
	record.versions = append(record.versions, secretVersion{
		value:   value,
		tags:    tags,
		attrs:   attrs,
		version: version,
	})
	return version
}

func (f *FakeKeyVaultClient) takeError(opKey string) error {
	f.Calls[opKey]++
	queue := f.ErrorQueue[opKey]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	f.ErrorQueue[opKey] = queue[1:]
	return err
}

func secretID(name, version string) *azsecrets.ID {
	id := azsecrets.ID(fmt.Sprintf("%s/secrets/%s/%s", fakeVaultURL, name, version))
	return &id
}

func toPtrTags(tags map[string]string) map[string]*string {
	if tags == nil {
		return nil
	}
	out := make(map[string]*string, len(tags))
	for k, v := range tags {
		out[k] = to.Ptr(v)
	}
	return out
}

func copyTags(tags map[string]*string) map[string]*string {
	if tags == nil {
		return nil
	}
	out := make(map[string]*string, len(tags))
	for k, v := range tags {
		if v != nil {
			out[k] = to.Ptr(*v)
		}
	}
	return out
}

// SetSecret implements vault.Client.
func (f *FakeKeyVaultClient) SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeError("set:" + name); err != nil {
		return azsecrets.SetSecretResponse{}, err
	}

	value := ""
	if parameters.Value != nil {
		value = *parameters.Value
	}
	attrs := parameters.SecretAttributes
	if attrs != nil {
		cloned := *attrs
		attrs = &cloned
	}
	version := f.addVersionLocked(name, value, copyTags(parameters.Tags), attrs)
	current := f.secrets[name].versions[len(f.secrets[name].versions)-1]

	return azsecrets.SetSecretResponse{
		Secret: azsecrets.Secret{
			ID:         secretID(name, version),
			Value:      to.Ptr(value),
			Tags:       copyTags(current.tags),
			Attributes: current.attrs,
		},
	}, nil
}

// GetSecret implements vault.Client. An empty version returns the latest.
func (f *FakeKeyVaultClient) GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeError("get:" + name); err != nil {
		return azsecrets.GetSecretResponse{}, err
	}

	record, ok := f.secrets[name]
	if !ok || len(record.versions) == 0 {
		return azsecrets.GetSecretResponse{}, ResponseError(404, "SecretNotFound")
	}

	var found *secretVersion
	if version == "" {
		found = &record.versions[len(record.versions)-1]
	} else {
		for i := range record.versions {
			if record.versions[i].version == version {
				found = &record.versions[i]
				break
			}
		}
	}
	if found == nil {
		return azsecrets.GetSecretResponse{}, ResponseError(404, "SecretNotFound")
	}

	return azsecrets.GetSecretResponse{
		Secret: azsecrets.Secret{
			ID:         secretID(name, found.version),
			Value:      to.Ptr(found.value),
			Tags:       copyTags(found.tags),
			Attributes: found.attrs,
		},
	}, nil
}

// UpdateSecretProperties implements vault.Client: tags and attributes change
// in place on the current version, no new version is minted.
func (f *FakeKeyVaultClient) UpdateSecretProperties(ctx context.Context, name string, version string, parameters azsecrets.UpdateSecretPropertiesParameters, options *azsecrets.UpdateSecretPropertiesOptions) (azsecrets.UpdateSecretPropertiesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeError("update:" + name); err != nil {
		return azsecrets.UpdateSecretPropertiesResponse{}, err
	}

	record, ok := f.secrets[name]
	if !ok || len(record.versions) == 0 {
		return azsecrets.UpdateSecretPropertiesResponse{}, ResponseError(404, "SecretNotFound")
	}
	current := &record.versions[len(record.versions)-1]

	if parameters.Tags != nil {
		current.tags = copyTags(parameters.Tags)
	}
	if parameters.SecretAttributes != nil {
		if parameters.SecretAttributes.Enabled != nil {
			current.attrs.Enabled = parameters.SecretAttributes.Enabled
		}
		if parameters.SecretAttributes.Expires != nil {
			current.attrs.Expires = parameters.SecretAttributes.Expires
		}
		if parameters.SecretAttributes.NotBefore != nil {
			current.attrs.NotBefore = parameters.SecretAttributes.NotBefore
		}
	}
	current.attrs.Updated = to.Ptr(time.Now())

	return azsecrets.UpdateSecretPropertiesResponse{
		Secret: azsecrets.Secret{
			ID:         secretID(name, current.version),
			Tags:       copyTags(current.tags),
			Attributes: current.attrs,
		},
	}, nil
}

// DeleteSecret implements vault.Client.
func (f *FakeKeyVaultClient) DeleteSecret(ctx context.Context, name string, options *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeError("delete:" + name); err != nil {
		return azsecrets.DeleteSecretResponse{}, err
	}

	if _, ok := f.secrets[name]; !ok {
		return azsecrets.DeleteSecretResponse{}, ResponseError(404, "SecretNotFound")
	}
	delete(f.secrets, name)
	return azsecrets.DeleteSecretResponse{}, nil
}

// ListSecrets implements vault.Client.
func (f *FakeKeyVaultClient) ListSecrets(ctx context.Context) ([]*azsecrets.SecretProperties, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeError("list"); err != nil {
		return nil, err
	}

	var props []*azsecrets.SecretProperties
	for name, record := range f.secrets {
		if len(record.versions) == 0 {
			continue
		}
		current := record.versions[len(record.versions)-1]
		props = append(props, &azsecrets.SecretProperties{
			ID:         secretID(name, current.version),
			Tags:       copyTags(current.tags),
			Attributes: current.attrs,
		})
	}
	return props, nil
}

// ListSecretVersions implements vault.Client.
func (f *FakeKeyVaultClient) ListSecretVersions(ctx context.Context, name string) ([]*azsecrets.SecretProperties, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeError("versions:" + name); err != nil {
		return nil, err
	}

	record, ok := f.secrets[name]
	if !ok {
		return nil, ResponseError(404, "SecretNotFound")
	}
	var props []*azsecrets.SecretProperties
	for _, v := range record.versions {
		props = append(props, &azsecrets.SecretProperties{
			ID:         secretID(name, v.version),
			Tags:       copyTags(v.tags),
			Attributes: v.attrs,
		})
	}
	return props, nil
}

// Refresh implements vault.CredentialRefresher.
func (f *FakeKeyVaultClient) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RefreshCount++
	return f.RefreshErr
}
