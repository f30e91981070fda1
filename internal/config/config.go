package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	kverrors "github.com/keyvaultops/kvops/internal/errors"
	"github.com/keyvaultops/kvops/internal/logging"
)

// Config holds the runtime configuration: the parsed kvops.yaml plus
// per-invocation state the commands share.
type Config struct {
	Path           string
	Logger         *logging.Logger
	VaultOverride  string // --vault flag, wins over the file
	NonInteractive bool
	Definition     *Definition
}

// Definition is the kvops.yaml structure.
type Definition struct {
	Version int          `yaml:"version" json:"version"`
	Vault   VaultConfig  `yaml:"vault" json:"vault"`
	Retry   RetryConfig  `yaml:"retry,omitempty" json:"retry,omitempty"`
	Import  ImportConfig `yaml:"import,omitempty" json:"import,omitempty"`
}

// VaultConfig identifies the Key Vault and how to authenticate to it.
type VaultConfig struct {
	URL                string `yaml:"url" json:"url"`
	TenantID           string `yaml:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	ClientID           string `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	ClientSecret       string `yaml:"client_secret,omitempty" json:"client_secret,omitempty"`
	UseManagedIdentity bool   `yaml:"use_managed_identity,omitempty" json:"use_managed_identity,omitempty"`
	UserAssignedID     string `yaml:"user_assigned_identity_id,omitempty" json:"user_assigned_identity_id,omitempty"`
}

// RetryConfig tunes the invoker. Zero values fall back to defaults.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	BaseDelayMs int `yaml:"base_delay_ms,omitempty" json:"base_delay_ms,omitempty"`
	MaxDelayMs  int `yaml:"max_delay_ms,omitempty" json:"max_delay_ms,omitempty"`
}

// BaseDelay returns the configured base delay or zero when unset.
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the configured delay cap or zero when unset.
func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

// ImportConfig tunes bulk imports.
type ImportConfig struct {
	Concurrency int `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
}

// schema validates the structural shape of kvops.yaml before any field-level
// checks, so typos fail with a precise path instead of a zero value later.
const schema = `{
  "type": "object",
  "properties": {
    "version": {"type": "integer"},
    "vault": {
      "type": "object",
      "properties": {
        "url": {"type": "string"},
        "tenant_id": {"type": "string"},
        "client_id": {"type": "string"},
        "client_secret": {"type": "string"},
        "use_managed_identity": {"type": "boolean"},
        "user_assigned_identity_id": {"type": "string"}
      },
      "additionalProperties": false
    },
    "retry": {
      "type": "object",
      "properties": {
        "max_attempts": {"type": "integer", "minimum": 1},
        "base_delay_ms": {"type": "integer", "minimum": 1},
        "max_delay_ms": {"type": "integer", "minimum": 1}
      },
      "additionalProperties": false
    },
    "import": {
      "type": "object",
      "properties": {
        "concurrency": {"type": "integer", "minimum": 1}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`

// Load reads kvops.yaml, applies .env and environment overrides, and
// validates the result. Missing config file is not an error when --vault or
// KVOPS_VAULT_URL supplies the vault.
func (c *Config) Load() error {
	def := Definition{}

	data, err := os.ReadFile(c.Path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &def); err != nil {
			return kverrors.ConfigError{
				Message:    "invalid YAML syntax in configuration file",
				Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
			}
		}
		if err := validateShape(data); err != nil {
			return err
		}
		if def.Version != 0 {
			return kverrors.ConfigError{
				Field:      "version",
				Value:      def.Version,
				Message:    "unsupported configuration version",
				Suggestion: "Set 'version: 0' at the top of your kvops.yaml file",
			}
		}
	case os.IsNotExist(err):
		// Acceptable: everything may come from flags and environment.
	default:
		return kverrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	applyEnvOverrides(&def)
	if c.VaultOverride != "" {
		def.Vault.URL = c.VaultOverride
	}

	c.Definition = &def
	return nil
}

// RequireVault returns the vault URL or a config error telling the user how
// to supply one.
func (c *Config) RequireVault() (string, error) {
	if c.Definition == nil || c.Definition.Vault.URL == "" {
		return "", kverrors.ConfigError{
			Field:      "vault.url",
			Message:    "no vault configured",
			Suggestion: "Run 'kvops init', pass --vault, or set KVOPS_VAULT_URL",
		}
	}
	return c.Definition.Vault.URL, nil
}

// validateShape checks the raw document against the embedded JSON schema.
// It must see the document, not the parsed struct: unmarshalling silently
// drops unknown keys, and catching those typos is the whole point of
// additionalProperties.
func validateShape(data []byte) error {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return err
	}
	if !result.Valid() {
		first := result.Errors()[0]
		return kverrors.ConfigError{
			Field:      first.Field(),
			Message:    first.Description(),
			Suggestion: "Compare your kvops.yaml against 'kvops init' output",
		}
	}
	return nil
}

// applyEnvOverrides layers .env and process environment over the file. The
// .env load is best-effort; a missing file is the normal case.
func applyEnvOverrides(def *Definition) {
	_ = godotenv.Load()

	if v := os.Getenv("KVOPS_VAULT_URL"); v != "" {
		def.Vault.URL = v
	}
	if v := os.Getenv("KVOPS_TENANT_ID"); v != "" {
		def.Vault.TenantID = v
	}
	if v := os.Getenv("KVOPS_CLIENT_ID"); v != "" {
		def.Vault.ClientID = v
	}
	if v := os.Getenv("KVOPS_CLIENT_SECRET"); v != "" {
		def.Vault.ClientSecret = v
	}
	if v := os.Getenv("KVOPS_USE_MANAGED_IDENTITY"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			def.Vault.UseManagedIdentity = parsed
		}
	}
}

// DefaultYAML is the starter configuration written by 'kvops init'.
const DefaultYAML = `version: 0

vault:
  url: https://my-vault.vault.azure.net/
  # Authentication falls back to the Azure default credential chain
  # (environment, managed identity, Azure CLI). To pin a service principal:
  # tenant_id: ""
  # client_id: ""
  # client_secret: ""    # prefer KVOPS_CLIENT_SECRET over storing it here

retry:
  max_attempts: 3
  base_delay_ms: 1000
  max_delay_ms: 30000

import:
  concurrency: 4
`
