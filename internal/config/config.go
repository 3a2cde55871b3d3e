// Package config provides configuration management for the OpenRoutes GitHub
// OAuth core. It handles loading and parsing YAML configuration files, applies
// GITHUB_* environment overrides, and validates the OAuth application settings
// eagerly so a misconfigured client fails at startup instead of at first use.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultScopes are requested when neither the config file nor the
// environment provides an explicit scope list.
var DefaultScopes = []string{"read:user", "user:email", "public_repo", "repo:status"}

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// ClientID is the GitHub OAuth App client identifier.
	ClientID string `yaml:"client-id" json:"client-id"`

	// ClientSecret is the GitHub OAuth App client secret.
	ClientSecret string `yaml:"client-secret" json:"client-secret"`

	// RedirectURI is the callback URL registered with the OAuth App.
	RedirectURI string `yaml:"redirect-uri" json:"redirect-uri"`

	// DefaultScopes lists the scopes requested when the caller does not
	// override them per authorization.
	DefaultScopes []string `yaml:"default-scopes" json:"default-scopes"`

	// AllowPrivateRepo appends the "repo" scope to every authorization so
	// issued tokens can reach private repositories.
	AllowPrivateRepo bool `yaml:"allow-private-repo" json:"allow-private-repo"`

	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// CredentialDir overrides the directory holding the encrypted credential
	// and key files. Defaults to ~/.config/openroutes.
	CredentialDir string `yaml:"credential-dir" json:"credential-dir"`

	// LoggingToFile switches log output to a rotating file under the log directory.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// OAuthBaseURL overrides https://github.com, used by tests.
	OAuthBaseURL string `yaml:"oauth-base-url,omitempty" json:"oauth-base-url,omitempty"`

	// APIBaseURL overrides https://api.github.com, used by tests.
	APIBaseURL string `yaml:"api-base-url,omitempty" json:"api-base-url,omitempty"`

	// Storage selects the credential storage backend.
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Session selects the backend for short-lived anti-CSRF state tokens.
	Session SessionConfig `yaml:"session" json:"session"`

	// HealthRepo names the repository exercised by the issue healthcheck command.
	HealthRepo HealthRepoConfig `yaml:"health-repo" json:"health-repo"`

	path string
}

// StorageConfig captures the optional server-side credential storage backends.
// When neither is configured the encrypted file backend is used.
type StorageConfig struct {
	// PostgresDSN enables the PostgreSQL backend when non-empty.
	PostgresDSN string `yaml:"postgres-dsn,omitempty" json:"postgres-dsn,omitempty"`

	// PostgresSchema optionally namespaces the credential table.
	PostgresSchema string `yaml:"postgres-schema,omitempty" json:"postgres-schema,omitempty"`

	// Object enables the S3-compatible object storage backend when the
	// endpoint is non-empty.
	Object ObjectStorageConfig `yaml:"object,omitempty" json:"object,omitempty"`
}

// ObjectStorageConfig holds S3-compatible object storage settings.
type ObjectStorageConfig struct {
	Endpoint  string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Bucket    string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	AccessKey string `yaml:"access-key,omitempty" json:"access-key,omitempty"`
	SecretKey string `yaml:"secret-key,omitempty" json:"secret-key,omitempty"`
	UseSSL    bool   `yaml:"use-ssl,omitempty" json:"use-ssl,omitempty"`
}

// SessionConfig holds the optional Redis backend for authorization state tokens.
type SessionConfig struct {
	// RedisAddr enables the Redis state store when non-empty (host:port).
	RedisAddr     string `yaml:"redis-addr,omitempty" json:"redis-addr,omitempty"`
	RedisPassword string `yaml:"redis-password,omitempty" json:"redis-password,omitempty"`
	RedisDB       int    `yaml:"redis-db,omitempty" json:"redis-db,omitempty"`
}

// HealthRepoConfig names the repository used by the issue healthcheck.
type HealthRepoConfig struct {
	Owner string `yaml:"owner,omitempty" json:"owner,omitempty"`
	Name  string `yaml:"name,omitempty" json:"name,omitempty"`
}

// LoadConfig reads the YAML file at configFile, applies environment
// overrides, and validates the result. A missing file is not an error; the
// configuration can be supplied entirely through the environment.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{path: configFile}
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		switch {
		case err == nil:
			if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
				return nil, fmt.Errorf("config: parse %s: %w", configFile, errUnmarshal)
			}
		case os.IsNotExist(err):
			// Environment-only configuration.
		default:
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Reload re-reads the configuration from its original path. It exists so
// tests and long-lived callers can refresh settings explicitly instead of
// relying on a hidden cache.
func (c *Config) Reload() (*Config, error) {
	return LoadConfig(c.path)
}

// applyEnv overlays GITHUB_* environment variables onto the loaded file.
// The getenv parameter keeps the function testable without mutating the
// process environment.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv("GITHUB_CLIENT_ID")); v != "" {
		c.ClientID = v
	}
	if v := strings.TrimSpace(getenv("GITHUB_CLIENT_SECRET")); v != "" {
		c.ClientSecret = v
	}
	if v := strings.TrimSpace(getenv("GITHUB_REDIRECT_URI")); v != "" {
		c.RedirectURI = v
	}
	if v := strings.TrimSpace(getenv("GITHUB_DEFAULT_SCOPES")); v != "" {
		c.DefaultScopes = SplitScopeList(v)
	}
	if v := strings.TrimSpace(getenv("GITHUB_ALLOW_PRIVATE_REPO")); v != "" {
		c.AllowPrivateRepo = v == "1" || strings.EqualFold(v, "true")
	}
	if v := strings.TrimSpace(getenv("GITHUB_PROXY_URL")); v != "" {
		c.ProxyURL = v
	}
	if v := strings.TrimSpace(getenv("GITHUB_STORE_POSTGRES_DSN")); v != "" {
		c.Storage.PostgresDSN = v
	}
	if v := strings.TrimSpace(getenv("GITHUB_STORE_OBJECT_ENDPOINT")); v != "" {
		c.Storage.Object.Endpoint = v
	}
	if v := strings.TrimSpace(getenv("GITHUB_STORE_OBJECT_BUCKET")); v != "" {
		c.Storage.Object.Bucket = v
	}
	if v := strings.TrimSpace(getenv("GITHUB_STORE_OBJECT_ACCESS_KEY")); v != "" {
		c.Storage.Object.AccessKey = v
	}
	if v := strings.TrimSpace(getenv("GITHUB_STORE_OBJECT_SECRET_KEY")); v != "" {
		c.Storage.Object.SecretKey = v
	}
	if v := strings.TrimSpace(getenv("GITHUB_SESSION_REDIS_ADDR")); v != "" {
		c.Session.RedisAddr = v
	}
	if v := strings.TrimSpace(getenv("GITHUB_SESSION_REDIS_DB")); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Session.RedisDB = db
		}
	}
	if v := strings.TrimSpace(getenv("TEST_OWNER")); v != "" {
		c.HealthRepo.Owner = v
	}
	if v := strings.TrimSpace(getenv("TEST_REPO")); v != "" {
		c.HealthRepo.Name = v
	}
}

func (c *Config) applyDefaults() {
	if len(c.DefaultScopes) == 0 {
		c.DefaultScopes = append([]string(nil), DefaultScopes...)
	}
}

// Validate checks that the OAuth application settings required by every flow
// are present and well-formed.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("config: client-id is required (set GITHUB_CLIENT_ID or the config file)")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		return fmt.Errorf("config: client-secret is required (set GITHUB_CLIENT_SECRET or the config file)")
	}
	if strings.TrimSpace(c.RedirectURI) == "" {
		return fmt.Errorf("config: redirect-uri is required (set GITHUB_REDIRECT_URI or the config file)")
	}
	parsed, err := url.Parse(c.RedirectURI)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("config: redirect-uri %q is not an absolute URL", c.RedirectURI)
	}
	for _, scope := range c.DefaultScopes {
		if strings.ContainsAny(scope, " \t") {
			return fmt.Errorf("config: scope %q contains whitespace", scope)
		}
	}
	return nil
}

// SplitScopeList parses a comma- or space-separated scope list.
func SplitScopeList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' '
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
