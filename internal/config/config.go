package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "CHAMBER"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "chamber.db"
	defaultLogLevel      = "info"
	defaultGoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
	defaultTokenTTLMin   = 30
	defaultPostReward    = 1
	defaultReadCost      = 1
	defaultTimeZone      = "Asia/Seoul"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	SigningSecret  string
	DatabasePath   string
	LogLevel       string
	GoogleClientID string
	GoogleJWKSURL  string
	TokenTTL       time.Duration
	PostReward     int64
	ReadCost       int64
	TimeZone       string
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
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMin)
	configViper.SetDefault("coins.post_reward", defaultPostReward)
	configViper.SetDefault("coins.read_cost", defaultReadCost)
	configViper.SetDefault("time.zone", defaultTimeZone)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		GoogleClientID: configViper.GetString("google.client_id"),
		GoogleJWKSURL:  configViper.GetString("google.jwks_url"),
		TokenTTL:       time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		PostReward:     configViper.GetInt64("coins.post_reward"),
		ReadCost:       configViper.GetInt64("coins.read_cost"),
		TimeZone:       configViper.GetString("time.zone"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.GoogleClientID) == "" {
		return fmt.Errorf("google.client_id is required")
	}
	if c.PostReward <= 0 {
		return fmt.Errorf("coins.post_reward must be positive")
	}
	if c.ReadCost <= 0 {
		return fmt.Errorf("coins.read_cost must be positive")
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("time.zone is invalid: %w", err)
	}
	return nil
}
