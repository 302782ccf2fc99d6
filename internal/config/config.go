package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "SINAU"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "sinaunote.db"
	defaultLogLevel      = "info"
	defaultTokenTTL      = 12 * time.Hour
	defaultSweepInterval = time.Minute
	defaultStorageBucket = "sinau-notes"
)

// StorageConfig captures the image object store settings. An empty endpoint
// disables the store; submissions may then only reference already stored
// images.
type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	BaseURL   string
	UseSSL    bool
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	DatabasePath         string
	LogLevel             string
	SigningSecret        string
	TokenTTL             time.Duration
	PublishSweepInterval time.Duration
	Storage              StorageConfig
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
	configViper.SetDefault("token.ttl", defaultTokenTTL)
	configViper.SetDefault("publish.sweep_interval", defaultSweepInterval)
	configViper.SetDefault("storage.bucket", defaultStorageBucket)
	configViper.SetDefault("storage.use_ssl", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		SigningSecret:        configViper.GetString("token.signing_secret"),
		TokenTTL:             configViper.GetDuration("token.ttl"),
		PublishSweepInterval: configViper.GetDuration("publish.sweep_interval"),
		Storage: StorageConfig{
			Endpoint:  configViper.GetString("storage.endpoint"),
			AccessKey: configViper.GetString("storage.access_key"),
			SecretKey: configViper.GetString("storage.secret_key"),
			Bucket:    configViper.GetString("storage.bucket"),
			BaseURL:   configViper.GetString("storage.base_url"),
			UseSSL:    configViper.GetBool("storage.use_ssl"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("token.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Storage.Endpoint != "" {
		if strings.TrimSpace(c.Storage.AccessKey) == "" || strings.TrimSpace(c.Storage.SecretKey) == "" {
			return fmt.Errorf("storage.access_key and storage.secret_key are required when storage.endpoint is set")
		}
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			return fmt.Errorf("storage.bucket is required when storage.endpoint is set")
		}
	}
	return nil
}
