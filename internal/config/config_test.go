package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kilupskalvis/listings/internal/listing"
	"github.com/kilupskalvis/listings/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.toml")

	cfg, err := Load(path)
	require.NoError(t, err)

	want := Default()
	want.path = path
	assert.Equal(t, want, cfg)
	assert.Equal(t, listing.DefaultPolicy(), cfg.ListingPolicy())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.toml")
	data := `
[store]
driver = "sqlite"
path = "/var/lib/listings/houses.sqlite"

[server]
listen = "0.0.0.0:9000"
requests_per_minute = 0

[policy]
ownership = "open"
buy_policy = "overwrite"

[notify]
webhook_urls = ["http://hooks.local/a", "http://hooks.local/b"]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, store.Options{Driver: store.DriverSQLite, Path: "/var/lib/listings/houses.sqlite"}, cfg.StoreOptions())
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
	assert.Equal(t, 0, cfg.Server.RequestsPerMinute)
	// Untouched keys keep their defaults.
	assert.Equal(t, int64(1<<20), cfg.Server.MaxRequestBody)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, listing.Policy{Ownership: listing.OwnershipOpen, Buy: listing.BuyOverwrite}, cfg.ListingPolicy())
	assert.Equal(t, []string{"http://hooks.local/a", "http://hooks.local/b"}, cfg.Notify.WebhookURLs)
	assert.Equal(t, "listings", cfg.Notify.AMQPExchange)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"warn\"\n"), 0644))

	t.Setenv("LISTINGS_LOG_LEVEL", "debug")
	t.Setenv("LISTINGS_WEBHOOK_URLS", " http://a , ,http://b ")
	t.Setenv("LISTINGS_REQUESTS_PER_MINUTE", "60")
	t.Setenv("LISTINGS_BACKUP_S3_PATH_STYLE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Notify.WebhookURLs)
	assert.Equal(t, 60, cfg.Server.RequestsPerMinute)
	assert.True(t, cfg.Backup.S3PathStyle)
}

func TestLoad_BadEnvNumber(t *testing.T) {
	t.Setenv("LISTINGS_REQUESTS_PER_MINUTE", "lots")

	_, err := Load(filepath.Join(t.TempDir(), "listings.toml"))
	assert.ErrorContains(t, err, "LISTINGS_REQUESTS_PER_MINUTE")
}

func TestLoad_ParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.toml")
	require.NoError(t, os.WriteFile(path, []byte("[store\n"), 0644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "unknown driver"},
		{"bbolt without path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = store.DriverPostgres }, "store.dsn"},
		{"postgres with dsn", func(c *Config) {
			c.Store.Driver = store.DriverPostgres
			c.Store.DSN = "postgres://localhost/listings"
		}, ""},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad ownership", func(c *Config) { c.Policy.Ownership = "sometimes" }, "ownership"},
		{"bad buy policy", func(c *Config) { c.Policy.BuyPolicy = "auction" }, "buy policy"},
		{"negative rate", func(c *Config) { c.Server.RequestsPerMinute = -1 }, "requests_per_minute"},
		{"zero body limit", func(c *Config) { c.Server.MaxRequestBody = 0 }, "max_request_body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "listings.toml")

	cfg := Default()
	cfg.SetPath(path)
	cfg.Store.Driver = store.DriverSQLite
	cfg.Server.AdminToken = "secret"
	cfg.Notify.WebhookURLs = []string{"http://hooks.local"}
	require.NoError(t, cfg.Save())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
	assert.Equal(t, path, loaded.Path())
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvFile, "")
	assert.Equal(t, DefaultFile, ResolvePath(""))

	t.Setenv(EnvFile, "/etc/listings.toml")
	assert.Equal(t, "/etc/listings.toml", ResolvePath(""))
	assert.Equal(t, "custom.toml", ResolvePath("custom.toml"))
}
