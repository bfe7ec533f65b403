package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"

	"github.com/linkport/backend/internal/vault"
)

const (
	envPrefix           = "LINKPORT"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "linkport.db"
	defaultLogLevel     = "info"
	defaultAPIVersion   = "202506"

	// CallbackPath is the only path the provider redirects back to.
	CallbackPath = "/oauth/callback"
)

// AppConfig captures runtime configuration for the API server. The
// encryption key arrives base64-encoded and is decoded at load time so
// a malformed key fails startup, never a request.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	EncryptionKey      []byte
	StateSigningSecret string
	ClientID           string
	ClientSecret       string
	RedirectURL        string
	Scopes             []string
	APIVersion         string
	AllowedOrigins     []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("linkedin.api_version", defaultAPIVersion)
	configViper.SetDefault("linkedin.scopes", "openid profile w_member_social")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		StateSigningSecret: configViper.GetString("state.signing_secret"),
		ClientID:           configViper.GetString("linkedin.client_id"),
		ClientSecret:       configViper.GetString("linkedin.client_secret"),
		RedirectURL:        configViper.GetString("linkedin.redirect_url"),
		Scopes:             strings.Fields(configViper.GetString("linkedin.scopes")),
		APIVersion:         configViper.GetString("linkedin.api_version"),
		AllowedOrigins:     splitList(configViper.GetString("http.allowed_origins")),
	}

	key, err := decodeKey(configViper.GetString("vault.encryption_key"))
	if err != nil {
		return AppConfig{}, err
	}
	cfg.EncryptionKey = key

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.StateSigningSecret) == "" {
		return fmt.Errorf("state.signing_secret is required")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("linkedin.client_id is required")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		return fmt.Errorf("linkedin.client_secret is required")
	}
	if err := validateRedirectURL(c.RedirectURL); err != nil {
		return err
	}
	return nil
}

func validateRedirectURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("linkedin.redirect_url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("linkedin.redirect_url is not a valid URL")
	}
	if parsed.Path != CallbackPath {
		return fmt.Errorf("linkedin.redirect_url path must be %s", CallbackPath)
	}
	return nil
}

func decodeKey(encoded string) ([]byte, error) {
	if strings.TrimSpace(encoded) == "" {
		return nil, fmt.Errorf("vault.encryption_key is required")
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("vault.encryption_key is not valid base64")
	}
	if len(key) != vault.KeySize {
		return nil, fmt.Errorf("vault.encryption_key must decode to %d bytes", vault.KeySize)
	}
	return key, nil
}

func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
