// Package config loads and saves the listings configuration file.
// Values come from built-in defaults, then the TOML file, then LISTINGS_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kilupskalvis/listings/internal/listing"
	"github.com/kilupskalvis/listings/internal/store"
	"github.com/pelletier/go-toml/v2"
)

const (
	// DefaultFile is read when neither --config nor LISTINGS_CONFIG is set.
	DefaultFile = "listings.toml"
	// EnvFile names the environment variable holding the config path.
	EnvFile = "LISTINGS_CONFIG"
)

// Config represents the listings configuration
type Config struct {
	Store  StoreConfig  `toml:"store"`
	Server ServerConfig `toml:"server"`
	Log    LogConfig    `toml:"log"`
	Policy PolicyConfig `toml:"policy"`
	Notify NotifyConfig `toml:"notify"`
	Backup BackupConfig `toml:"backup"`

	path string // file the config was loaded from
}

type StoreConfig struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

type ServerConfig struct {
	Listen            string `toml:"listen"`
	AdminToken        string `toml:"admin_token"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
	MaxRequestBody    int64  `toml:"max_request_body"`
	TokensFile        string `toml:"tokens_file"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type PolicyConfig struct {
	Ownership string `toml:"ownership"`
	BuyPolicy string `toml:"buy_policy"`
}

type NotifyConfig struct {
	WebhookURLs    []string `toml:"webhook_urls"`
	AMQPURL        string   `toml:"amqp_url"`
	AMQPExchange   string   `toml:"amqp_exchange"`
	AMQPRoutingKey string   `toml:"amqp_routing_key"`
}

type BackupConfig struct {
	Dir         string `toml:"dir"`
	S3Bucket    string `toml:"s3_bucket"`
	S3Region    string `toml:"s3_region"`
	S3Endpoint  string `toml:"s3_endpoint"`
	S3PathStyle bool   `toml:"s3_path_style"`
	S3Prefix    string `toml:"s3_prefix"`
}

// Default returns a config with every value set.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: store.DriverBbolt,
			Path:   filepath.Join("data", "listings.db"),
		},
		Server: ServerConfig{
			Listen:            "127.0.0.1:8730",
			RequestsPerMinute: 300,
			MaxRequestBody:    1 << 20,
			TokensFile:        filepath.Join("data", "tokens.json"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Policy: PolicyConfig{
			Ownership: string(listing.OwnershipEnforced),
			BuyPolicy: string(listing.BuyGuarded),
		},
		Notify: NotifyConfig{
			AMQPExchange:   "listings",
			AMQPRoutingKey: "house.changed",
		},
		Backup: BackupConfig{
			Dir: "backups",
		},
		path: DefaultFile,
	}
}

// ResolvePath picks the config file: the explicit flag value, then
// LISTINGS_CONFIG, then DefaultFile.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(EnvFile); v != "" {
		return v
	}
	return DefaultFile
}

// Load loads the configuration from path. A missing file is not an error;
// the defaults and environment still apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays LISTINGS_* environment variables.
func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"LISTINGS_STORE_DRIVER":       &c.Store.Driver,
		"LISTINGS_STORE_PATH":         &c.Store.Path,
		"LISTINGS_STORE_DSN":          &c.Store.DSN,
		"LISTINGS_LISTEN":             &c.Server.Listen,
		"LISTINGS_ADMIN_TOKEN":        &c.Server.AdminToken,
		"LISTINGS_TOKENS_FILE":        &c.Server.TokensFile,
		"LISTINGS_LOG_LEVEL":          &c.Log.Level,
		"LISTINGS_LOG_FORMAT":         &c.Log.Format,
		"LISTINGS_OWNERSHIP":          &c.Policy.Ownership,
		"LISTINGS_BUY_POLICY":         &c.Policy.BuyPolicy,
		"LISTINGS_AMQP_URL":           &c.Notify.AMQPURL,
		"LISTINGS_AMQP_EXCHANGE":      &c.Notify.AMQPExchange,
		"LISTINGS_AMQP_ROUTING_KEY":   &c.Notify.AMQPRoutingKey,
		"LISTINGS_BACKUP_DIR":         &c.Backup.Dir,
		"LISTINGS_BACKUP_S3_BUCKET":   &c.Backup.S3Bucket,
		"LISTINGS_BACKUP_S3_REGION":   &c.Backup.S3Region,
		"LISTINGS_BACKUP_S3_ENDPOINT": &c.Backup.S3Endpoint,
		"LISTINGS_BACKUP_S3_PREFIX":   &c.Backup.S3Prefix,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v := os.Getenv("LISTINGS_WEBHOOK_URLS"); v != "" {
		c.Notify.WebhookURLs = splitList(v)
	}
	if v := os.Getenv("LISTINGS_REQUESTS_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LISTINGS_REQUESTS_PER_MINUTE: %w", err)
		}
		c.Server.RequestsPerMinute = n
	}
	if v := os.Getenv("LISTINGS_MAX_REQUEST_BODY"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("LISTINGS_MAX_REQUEST_BODY: %w", err)
		}
		c.Server.MaxRequestBody = n
	}
	if v := os.Getenv("LISTINGS_BACKUP_S3_PATH_STYLE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LISTINGS_BACKUP_S3_PATH_STYLE: %w", err)
		}
		c.Backup.S3PathStyle = b
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate rejects unknown enum values and missing store locations.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case store.DriverBbolt, store.DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for driver %q", c.Store.Driver)
		}
	case store.DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}

	if err := c.ListingPolicy().Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if c.Server.RequestsPerMinute < 0 {
		return fmt.Errorf("server.requests_per_minute must not be negative")
	}
	if c.Server.MaxRequestBody <= 0 {
		return fmt.Errorf("server.max_request_body must be positive")
	}
	return nil
}

// ListingPolicy converts the policy section.
func (c *Config) ListingPolicy() listing.Policy {
	return listing.Policy{
		Ownership: listing.Ownership(c.Policy.Ownership),
		Buy:       listing.BuyPolicy(c.Policy.BuyPolicy),
	}
}

// StoreOptions converts the store section.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Driver: c.Store.Driver,
		Path:   c.Store.Path,
		DSN:    c.Store.DSN,
	}
}

// Path returns the file the config was loaded from or will be saved to.
func (c *Config) Path() string {
	return c.path
}

// SetPath changes where Save writes.
func (c *Config) SetPath(path string) {
	c.path = path
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return os.WriteFile(c.path, data, 0644)
}
