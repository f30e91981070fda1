// Package vault wraps the Azure Key Vault secrets API behind a narrow,
// fakeable surface and adds the retry and optimistic-concurrency behavior
// the rest of the tool depends on.
package vault

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	kverrors "github.com/keyvaultops/kvops/internal/errors"
)

// Client is the subset of Key Vault operations the store needs. The list
// pager is flattened into ListSecrets here so fakes stay simple.
type Client interface {
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	UpdateSecretProperties(ctx context.Context, name string, version string, parameters azsecrets.UpdateSecretPropertiesParameters, options *azsecrets.UpdateSecretPropertiesOptions) (azsecrets.UpdateSecretPropertiesResponse, error)
	DeleteSecret(ctx context.Context, name string, options *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error)
	ListSecrets(ctx context.Context) ([]*azsecrets.SecretProperties, error)
	ListSecretVersions(ctx context.Context, name string) ([]*azsecrets.SecretProperties, error)
}

// CredentialRefresher is the seam the invoker uses for its single
// refresh-and-retry on authentication failures.
type CredentialRefresher interface {
	Refresh(ctx context.Context) error
}

// ClientConfig holds Key Vault connection and authentication settings.
type ClientConfig struct {
	VaultURL           string
	TenantID           string
	ClientID           string
	ClientSecret       string
	UseManagedIdentity bool
	UserAssignedID     string
}

// AzureClient adapts *azsecrets.Client to the Client interface and rebuilds
// its credential on Refresh.
type AzureClient struct {
	mu     sync.RWMutex
	client *azsecrets.Client
	config ClientConfig
}

// NewClient builds the real Key Vault client for the configured vault.
func NewClient(config ClientConfig) (*AzureClient, error) {
	if config.VaultURL == "" {
		return nil, kverrors.ConfigError{
			Field:      "vault_url",
			Message:    "vault_url is required",
			Suggestion: "Provide the Key Vault URL (e.g., https://my-vault.vault.azure.net/)",
		}
	}
	parsed, err := url.Parse(config.VaultURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, kverrors.ConfigError{
			Field:      "vault_url",
			Value:      config.VaultURL,
			Message:    "invalid vault_url format",
			Suggestion: "Use format: https://vault-name.vault.azure.net/",
		}
	}

	client, err := buildSDKClient(config)
	if err != nil {
		return nil, err
	}
	return &AzureClient{client: client, config: config}, nil
}

// buildSDKClient constructs the azsecrets client with the appropriate
// credential: managed identity when requested, service principal when a
// client secret is configured, and the default credential chain otherwise
// (which covers Azure CLI logins for local use).
func buildSDKClient(config ClientConfig) (*azsecrets.Client, error) {
	var cred azcore.TokenCredential
	var err error

	switch {
	case config.UseManagedIdentity && config.UserAssignedID != "":
		opts := azidentity.ManagedIdentityCredentialOptions{
			ID: azidentity.ClientID(config.UserAssignedID),
		}
		cred, err = azidentity.NewManagedIdentityCredential(&opts)
	case config.UseManagedIdentity:
		cred, err = azidentity.NewManagedIdentityCredential(nil)
	case config.ClientSecret != "":
		cred, err = azidentity.NewClientSecretCredential(config.TenantID, config.ClientID, config.ClientSecret, nil)
	default:
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	client, err := azsecrets.NewClient(config.VaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Key Vault client: %w", err)
	}
	return client, nil
}

func (c *AzureClient) current() *azsecrets.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// Refresh rebuilds the credential and client. azidentity caches tokens
// internally, so a rebuild is the way to force a fresh token after a 401.
func (c *AzureClient) Refresh(ctx context.Context) error {
	client, err := buildSDKClient(c.config)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	return nil
}

func (c *AzureClient) SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error) {
	return c.current().SetSecret(ctx, name, parameters, options)
}

func (c *AzureClient) GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	return c.current().GetSecret(ctx, name, version, options)
}

func (c *AzureClient) UpdateSecretProperties(ctx context.Context, name string, version string, parameters azsecrets.UpdateSecretPropertiesParameters, options *azsecrets.UpdateSecretPropertiesOptions) (azsecrets.UpdateSecretPropertiesResponse, error) {
	return c.current().UpdateSecretProperties(ctx, name, version, parameters, options)
}

func (c *AzureClient) DeleteSecret(ctx context.Context, name string, options *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error) {
	return c.current().DeleteSecret(ctx, name, options)
}

func (c *AzureClient) ListSecrets(ctx context.Context) ([]*azsecrets.SecretProperties, error) {
	var all []*azsecrets.SecretProperties
	pager := c.current().NewListSecretPropertiesPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Value...)
	}
	return all, nil
}

func (c *AzureClient) ListSecretVersions(ctx context.Context, name string) ([]*azsecrets.SecretProperties, error) {
	var all []*azsecrets.SecretProperties
	pager := c.current().NewListSecretPropertiesVersionsPager(name, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Value...)
	}
	return all, nil
}

// VaultURLFromName expands a bare vault name into the public cloud URL.
// Full URLs pass through unchanged.
func VaultURLFromName(name string) string {
	if strings.Contains(name, "://") {
		return name
	}
	return fmt.Sprintf("https://%s.vault.azure.net/", name)
}
