// Package cli implements the command-line interface for listings.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kilupskalvis/listings/internal/config"
	"github.com/kilupskalvis/listings/internal/listing"
	"github.com/kilupskalvis/listings/internal/store"
	"github.com/spf13/cobra"
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config  *config.Config
	Store   store.Store
	Service *listing.Service
	Logger  *slog.Logger
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.Store != nil {
		c.Store.Close()
	}
}

var configPath string

// loadConfig reads the configuration named by --config or LISTINGS_CONFIG.
func loadConfig() *config.Config {
	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		exitError("%v", err)
	}
	return cfg
}

// initContext loads config and opens the store and service. notifier may
// be nil.
func initContext(notifier listing.Notifier) *cmdContext {
	cfg := loadConfig()
	logger := newLogger(cfg.Log, os.Stderr)

	st, err := store.Open(cfg.StoreOptions())
	if err != nil {
		exitError("failed to open store: %v", err)
	}

	svc, err := listing.NewService(st, listing.Config{
		Policy:   cfg.ListingPolicy(),
		Notifier: notifier,
		Logger:   logger,
	})
	if err != nil {
		st.Close()
		exitError("%v", err)
	}

	return &cmdContext{Config: cfg, Store: st, Service: svc, Logger: logger}
}

// newLogger builds the slog logger described by the log section.
func newLogger(lc config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

var rootCmd = &cobra.Command{
	Use:   "listings",
	Short: "House listing store",
	Long: `Listings keeps a durable store of house listings. Realtors add and
maintain listings, buyers purchase units, and anyone with a token can query.

Run 'listings serve' for the HTTP API or use the house subcommands to work
on the local store directly.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (env: "+config.EnvFile+", default "+config.DefaultFile+")")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(houseCmd)
	rootCmd.AddCommand(tokensCmd)
	rootCmd.AddCommand(backupCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// envOrDefault returns the value of the environment variable key, or defaultVal if unset.
func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
