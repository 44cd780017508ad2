package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "FEEDLINE"

	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultEnvironment     = "development"
	defaultDatabasePath    = "feedline.db"
	defaultLogLevel        = "info"
	defaultCookieName      = "session"
	defaultSessionTTLHours = 120
	defaultSessionIssuer   = "feedline-session"
	defaultAudience        = "feedline-web"
	defaultIdentityIssuer  = "feedline-idp"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress  string
	Environment  string
	DatabasePath string
	LogLevel     string

	SessionSigningSecret string
	SessionCookieName    string
	SessionIssuer        string
	SessionTTL           time.Duration

	// AssertionJWKSURL points at the external provider's key set. When empty
	// the server runs the built-in directory provider and serves its own.
	AssertionJWKSURL  string
	AssertionAudience string
	AllowedIssuers    []string
}

// Production reports whether cookies must carry the Secure attribute.
func (c AppConfig) Production() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper
// instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("environment", defaultEnvironment)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.ttl_hours", defaultSessionTTLHours)
	configViper.SetDefault("idp.audience", defaultAudience)
	configViper.SetDefault("idp.jwks_url", "")
	configViper.SetDefault("idp.allowed_issuers", []string{defaultIdentityIssuer})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		Environment:          configViper.GetString("environment"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),
		SessionIssuer:        configViper.GetString("session.issuer"),
		SessionTTL:           time.Duration(configViper.GetInt("session.ttl_hours")) * time.Hour,
		AssertionJWKSURL:     configViper.GetString("idp.jwks_url"),
		AssertionAudience:    configViper.GetString("idp.audience"),
		AllowedIssuers:       configViper.GetStringSlice("idp.allowed_issuers"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl_hours must be positive")
	}
	if strings.TrimSpace(c.AssertionAudience) == "" {
		return fmt.Errorf("idp.audience is required")
	}
	if len(c.AllowedIssuers) == 0 {
		return fmt.Errorf("idp.allowed_issuers is required")
	}
	return nil
}
