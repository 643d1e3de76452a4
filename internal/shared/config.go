package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

//go:embed config.example.toml
var exampleConf []byte

// EnvPrefix is prepended to every environment override read by [ApplyEnv].
const EnvPrefix = "SHARELIST"

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Spotify     SpotifyAPIConfig  `toml:"spotify"`
	Encryption  EncryptionConfig  `toml:"encryption"`
	Tokens      TokensConfig      `toml:"tokens"`
	Shares      SharesConfig      `toml:"shares"`
	Redis       RedisConfig       `toml:"redis"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains the confidential client credentials used for token refresh and owner login.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
}

// SpotifyAPIConfig contains provider endpoints and outbound call limits.
type SpotifyAPIConfig struct {
	APIBaseURL     string  `toml:"api_base_url"`
	AuthURL        string  `toml:"auth_url"`
	TokenURL       string  `toml:"token_url"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	RateLimit      float64 `toml:"rate_limit"`
	RateBurst      int     `toml:"rate_burst"`
}

// Timeout returns the per-call HTTP timeout for provider requests.
func (c SpotifyAPIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DatabaseConfig contains database connection settings.
//
// Driver is either "sqlite" (Path is used) or "postgres" (URL is used).
type DatabaseConfig struct {
	Driver       string `toml:"driver"`
	Path         string `toml:"path"`
	URL          string `toml:"url"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	PublicBaseURL  string   `toml:"public_base_url"`
	LogLevel       string   `toml:"log_level"`
	AllowedOrigins []string `toml:"allowed_origins"`
	RateLimit      float64  `toml:"rate_limit"`
	RateBurst      int      `toml:"rate_burst"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EncryptionConfig holds the base64 encoded 32 byte key used for tokens at rest.
type EncryptionConfig struct {
	Key string `toml:"key"`
}

// TokensConfig tunes the share token lifecycle.
type TokensConfig struct {
	// OptimisticOnTransportError hands out the stored access token when the liveness check cannot reach the provider.
	OptimisticOnTransportError bool `toml:"optimistic_on_transport_error"`
	RefreshTimeoutSeconds      int  `toml:"refresh_timeout_seconds"`
}

// RefreshTimeout bounds one coalesced refresh, including the provider call and the store write.
func (c TokensConfig) RefreshTimeout() time.Duration {
	if c.RefreshTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.RefreshTimeoutSeconds) * time.Second
}

// SharesConfig controls share code generation.
type SharesConfig struct {
	CodeLength  int `toml:"code_length"`
	MaxAttempts int `toml:"max_attempts"`
}

// RedisConfig enables the cross-process refresh lock.
type RedisConfig struct {
	Enabled        bool   `toml:"enabled"`
	Addr           string `toml:"addr"`
	Password       string `toml:"password"`
	DB             int    `toml:"db"`
	LockTTLMillis  int    `toml:"lock_ttl_ms"`
	LockWaitMillis int    `toml:"lock_wait_ms"`
}

// RefreshLockTTL is how long the cross-process refresh lock is held.
//
// It never drops below the refresh timeout so the lock cannot lapse while its holder is still refreshing.
func (c *Config) RefreshLockTTL() time.Duration {
	return max(time.Duration(c.Redis.LockTTLMillis)*time.Millisecond, c.Tokens.RefreshTimeout())
}

// envOverrides lists the settings that deployments usually inject through the environment.
//
// Empty values leave the file configuration untouched.
type envOverrides struct {
	SpotifyClientID     string `envconfig:"SPOTIFY_CLIENT_ID"`
	SpotifyClientSecret string `envconfig:"SPOTIFY_CLIENT_SECRET"`
	SpotifyRedirectURI  string `envconfig:"SPOTIFY_REDIRECT_URI"`
	EncryptionKey       string `envconfig:"ENCRYPTION_KEY"`
	DatabaseDriver      string `envconfig:"DATABASE_DRIVER"`
	DatabasePath        string `envconfig:"DATABASE_PATH"`
	DatabaseURL         string `envconfig:"DATABASE_URL"`
	PublicBaseURL       string `envconfig:"PUBLIC_BASE_URL"`
	Host                string `envconfig:"HOST"`
	Port                int    `envconfig:"PORT"`
	LogLevel            string `envconfig:"LOG_LEVEL"`
	RedisAddr           string `envconfig:"REDIS_ADDR"`
	RedisPassword       string `envconfig:"REDIS_PASSWORD"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ResolveConfig loads path when it exists, falls back to defaults otherwise, then applies environment overrides.
func ResolveConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := LoadConfig(path)
			if err != nil {
				return nil, err
			}
			config = loaded
		}
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overlays SHARELIST_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	set(&c.Credentials.Spotify.ClientID, env.SpotifyClientID)
	set(&c.Credentials.Spotify.ClientSecret, env.SpotifyClientSecret)
	set(&c.Credentials.Spotify.RedirectURI, env.SpotifyRedirectURI)
	set(&c.Encryption.Key, env.EncryptionKey)
	set(&c.Database.Driver, env.DatabaseDriver)
	set(&c.Database.Path, env.DatabasePath)
	set(&c.Database.URL, env.DatabaseURL)
	set(&c.Server.PublicBaseURL, env.PublicBaseURL)
	set(&c.Server.Host, env.Host)
	set(&c.Server.LogLevel, env.LogLevel)
	set(&c.Redis.Addr, env.RedisAddr)
	set(&c.Redis.Password, env.RedisPassword)
	if env.Port != 0 {
		c.Server.Port = env.Port
	}

	return nil
}

// Validate checks the settings the share service cannot start without.
func (c *Config) Validate() error {
	var problems []string

	if c.Credentials.Spotify.ClientID == "" || c.Credentials.Spotify.ClientSecret == "" {
		problems = append(problems, "credentials.spotify.client_id and client_secret are required")
	}
	if c.Encryption.Key == "" {
		problems = append(problems, "encryption.key is required")
	}

	switch c.Database.Driver {
	case "", "sqlite":
		if c.Database.Path == "" {
			problems = append(problems, "database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.URL == "" {
			problems = append(problems, "database.url is required for postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown database.driver %q", c.Database.Driver))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
