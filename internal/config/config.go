package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. MIRROR_STORE_PATH
const EnvPrefix = "MIRROR"

// Config is the typed view of config.yaml, environment and flags
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Google  GoogleConfig  `mapstructure:"google"`
	Server  ServerConfig  `mapstructure:"server"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	Tokens  TokensConfig  `mapstructure:"tokens"`
	Log     LogConfig     `mapstructure:"log"`
}

type StoreConfig struct {
	Driver         string `mapstructure:"driver"`
	Path           string `mapstructure:"path"`
	Prefix         string `mapstructure:"prefix"`
	AttachmentsDir string `mapstructure:"attachments_dir"`
}

// RedisConfig selects the Redis content store when URL is set
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// NATSConfig enables the outbox dispatcher when URL is set
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type GoogleConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	TokenFile       string `mapstructure:"token_file"`
	Topic           string `mapstructure:"topic"`
}

type ServerConfig struct {
	Addr     string `mapstructure:"addr"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// WebhookConfig turns on push JWT verification when Audience is set
type WebhookConfig struct {
	Audience string `mapstructure:"audience"`
	JWKSURL  string `mapstructure:"jwks_url"`
	Email    string `mapstructure:"email"`
}

// TokensConfig switches from the local token cache to a token service
type TokensConfig struct {
	ServiceURL string `mapstructure:"service_url"`
	ServiceKey string `mapstructure:"service_key"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers the default value of every key
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "data/mirror.db")
	v.SetDefault("store.prefix", "ggs_")
	v.SetDefault("store.attachments_dir", "attachments")
	v.SetDefault("redis.url", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("google.credentials_file", "credentials.json")
	v.SetDefault("google.token_file", "token.json")
	v.SetDefault("google.topic", "")
	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")
	v.SetDefault("webhook.audience", "")
	v.SetDefault("webhook.jwks_url", "https://www.googleapis.com/oauth2/v3/certs")
	v.SetDefault("webhook.email", "")
	v.SetDefault("tokens.service_url", "")
	v.SetDefault("tokens.service_key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Init prepares v to read config.yaml and MIRROR_* variables. configFile
// overrides the search path when non-empty.
func Init(v *viper.Viper, configFile string) {
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.gmail-mirror")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the config file, if any, and decodes v into a Config.
// A missing config file is not an error.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have a closed set of options
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("store.driver must be sqlite or sqlite3, got %q", c.Store.Driver)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		return fmt.Errorf("server.cert_file and server.key_file must be set together")
	}
	return nil
}

// TLS reports whether the webhook server should serve HTTPS
func (c *Config) TLS() bool {
	return c.Server.CertFile != "" && c.Server.KeyFile != ""
}
