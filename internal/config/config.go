// Package config provides configuration management for the blog accounts server.
// Configuration can be loaded from YAML files and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Account  AccountConfig  `mapstructure:"account"`
	Mail     MailConfig     `mapstructure:"mail"`
	Social   SocialConfig   `mapstructure:"social"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
}

// Addr returns the listen address in host:port format.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database connection settings.
// Supports both PostgreSQL and SQLite backends.
type DatabaseConfig struct {
	// Driver specifies the database driver: "postgres" or "sqlite".
	Driver string `mapstructure:"driver"`

	// PostgreSQL settings (used when Driver is "postgres")
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	// SQLite settings (used when Driver is "sqlite")
	Path            string `mapstructure:"path"`
	JournalMode     string `mapstructure:"journal_mode"`
	BusyTimeout     int    `mapstructure:"busy_timeout"`
	CacheSize       int    `mapstructure:"cache_size"`
	SynchronousMode string `mapstructure:"synchronous_mode"`

	// AutoMigrate applies embedded migrations on startup.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Only valid when Driver is "postgres".
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// IsEmbedded returns true if using an embedded database (SQLite).
func (c DatabaseConfig) IsEmbedded() bool {
	return c.Driver == "sqlite"
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Enabled     bool          `mapstructure:"enabled"`
}

// Addr returns the Redis address in host:port format.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CacheConfig holds settings for the account lookup cache.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend string `mapstructure:"backend"`

	// TTL bounds how long a cached account stays valid.
	TTL time.Duration `mapstructure:"ttl"`

	// MaxEntries bounds the in-process cache; least recently used entries go first.
	MaxEntries int `mapstructure:"max_entries"`
}

// AuthConfig holds token and credential settings.
type AuthConfig struct {
	// JWTSecret is the HMAC-SHA-512 signing secret. Loaded once at startup.
	JWTSecret string `mapstructure:"jwt_secret"`

	// TokenValidity is the lifetime of a regular session token.
	TokenValidity time.Duration `mapstructure:"token_validity"`

	// TokenValidityRememberMe is the lifetime of a remember-me token.
	TokenValidityRememberMe time.Duration `mapstructure:"token_validity_remember_me"`

	// BcryptCost is the bcrypt work factor for password hashes.
	BcryptCost int `mapstructure:"bcrypt_cost"`

	// EncryptionKey is the 32-byte key used for AES-256-GCM encryption of
	// provider token material. Empty disables encryption at rest.
	EncryptionKey string `mapstructure:"encryption_key"`
}

// GetEncryptionKey returns the encryption key as a byte slice.
// Returns an error if the key is not exactly 32 bytes.
func (c AuthConfig) GetEncryptionKey() ([]byte, error) {
	key := []byte(c.EncryptionKey)
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(key))
	}
	return key, nil
}

// AccountConfig holds account lifecycle settings.
type AccountConfig struct {
	// ActivationWindow is how long an account may stay unactivated before the sweep deletes it.
	ActivationWindow time.Duration `mapstructure:"activation_window"`

	// ResetWindow is how long a password reset key stays usable.
	ResetWindow time.Duration `mapstructure:"reset_window"`

	// SweepEnabled determines if the unactivated account sweep runs automatically.
	SweepEnabled bool `mapstructure:"sweep_enabled"`

	// SweepInterval is how often the sweep runs.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// SweepBatchSize is the maximum number of accounts removed per run.
	SweepBatchSize int `mapstructure:"sweep_batch_size"`

	// SweepFirstRunAt is the local wall-clock time (HH:MM) of the first run.
	SweepFirstRunAt string `mapstructure:"sweep_first_run_at"`
}

// MailConfig holds outgoing mail settings.
type MailConfig struct {
	// Provider is "postmark" or "log".
	Provider             string        `mapstructure:"provider"`
	From                 string        `mapstructure:"from"`
	ReplyTo              string        `mapstructure:"reply_to"`
	BaseURL              string        `mapstructure:"base_url"`
	SendTimeout          time.Duration `mapstructure:"send_timeout"`
	PostmarkServerToken  string        `mapstructure:"postmark_server_token"`
	PostmarkAccountToken string        `mapstructure:"postmark_account_token"`
}

// SocialConfig holds OAuth provider settings.
type SocialConfig struct {
	// UsernameLoginProviders lists providers whose username becomes the local login.
	// Every other provider uses the email address.
	UsernameLoginProviders []string `mapstructure:"username_login_providers"`

	// StateTTL is how long a sign-in state token stays valid.
	StateTTL time.Duration `mapstructure:"state_ttl"`

	// Providers is keyed by provider id ("google", "twitter", "github", ...).
	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig holds a single OAuth2 provider registration.
// For google, empty AuthURL, TokenURL and UserInfoURL fall back to the
// Google endpoints.
type ProviderConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
	AuthURL      string   `mapstructure:"auth_url"`
	TokenURL     string   `mapstructure:"token_url"`
	UserInfoURL  string   `mapstructure:"user_info_url"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	// Enabled determines if metrics collection is active.
	Enabled bool `mapstructure:"enabled"`

	// Port is the port for the metrics HTTP server.
	Port int `mapstructure:"port"`

	// Path is the URL path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// Load reads configuration from the specified file and environment variables.
// Environment variables take precedence over file values.
// Environment variables are prefixed with BLOG_ and use _ as separator.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("BLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/blog-accounts")
	}

	// Read config file (optional - environment variables can be used instead)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.max_body_size", 1024*1024)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "blog")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "blog")
	v.SetDefault("database.ssl_mode", "prefer")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("database.path", "./data/blog.db")
	v.SetDefault("database.journal_mode", "WAL")
	v.SetDefault("database.busy_timeout", 5000)
	v.SetDefault("database.cache_size", -2000)
	v.SetDefault("database.synchronous_mode", "NORMAL")
	v.SetDefault("database.auto_migrate", true)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.enabled", false)

	// Cache defaults
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.max_entries", 1000)

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "") // Must be provided
	v.SetDefault("auth.token_validity", 24*time.Hour)
	v.SetDefault("auth.token_validity_remember_me", 30*24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("auth.encryption_key", "")

	// Account lifecycle defaults
	v.SetDefault("account.activation_window", 72*time.Hour)
	v.SetDefault("account.reset_window", 24*time.Hour)
	v.SetDefault("account.sweep_enabled", true)
	v.SetDefault("account.sweep_interval", 24*time.Hour)
	v.SetDefault("account.sweep_batch_size", 500)
	v.SetDefault("account.sweep_first_run_at", "01:00")

	// Mail defaults
	v.SetDefault("mail.provider", "log")
	v.SetDefault("mail.from", "blog@localhost")
	v.SetDefault("mail.reply_to", "")
	v.SetDefault("mail.base_url", "http://127.0.0.1:8080")
	v.SetDefault("mail.send_timeout", 30*time.Second)

	// Social defaults
	v.SetDefault("social.username_login_providers", []string{"twitter"})
	v.SetDefault("social.state_ttl", 10*time.Minute)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9091)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks the configuration for required values and valid ranges.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	validDrivers := map[string]bool{"postgres": true, "sqlite": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be 'postgres' or 'sqlite'")
	}

	if c.Database.Driver == "postgres" {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required for postgres driver")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required for postgres driver")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required for postgres driver")
		}
	} else if c.Database.Path == "" {
		return fmt.Errorf("database.path is required for sqlite driver")
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("cache.backend 'redis' requires redis.enabled")
		}
	default:
		return fmt.Errorf("cache.backend must be 'memory' or 'redis'")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}

	// HS512 needs at least 512 bits of key material to be meaningful.
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if c.Auth.TokenValidity <= 0 {
		return fmt.Errorf("auth.token_validity must be positive")
	}
	if c.Auth.TokenValidityRememberMe < c.Auth.TokenValidity {
		return fmt.Errorf("auth.token_validity_remember_me must not be shorter than auth.token_validity")
	}
	if c.Auth.EncryptionKey != "" && len(c.Auth.EncryptionKey) != 32 {
		return fmt.Errorf("auth.encryption_key must be exactly 32 characters")
	}

	if c.Account.ResetWindow <= 0 || c.Account.ActivationWindow <= 0 {
		return fmt.Errorf("account.reset_window and account.activation_window must be positive")
	}
	if c.Account.SweepEnabled && c.Account.SweepInterval <= 0 {
		return fmt.Errorf("account.sweep_interval must be positive when the sweep is enabled")
	}
	if _, err := time.Parse("15:04", c.Account.SweepFirstRunAt); c.Account.SweepFirstRunAt != "" && err != nil {
		return fmt.Errorf("account.sweep_first_run_at must be HH:MM: %w", err)
	}

	switch c.Mail.Provider {
	case "log":
	case "postmark":
		if c.Mail.PostmarkServerToken == "" || c.Mail.PostmarkAccountToken == "" {
			return fmt.Errorf("mail.postmark_server_token and mail.postmark_account_token are required for postmark")
		}
	default:
		return fmt.Errorf("mail.provider must be 'postmark' or 'log'")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}

	return nil
}

// MustLoad loads configuration or panics on error.
// Useful for main function initialization.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
