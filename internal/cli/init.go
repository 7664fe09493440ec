package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/kilupskalvis/listings/internal/config"
	"github.com/kilupskalvis/listings/internal/store"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file and an empty store",
	Long: `Write a listings config file with default settings and create the store
it points to.

Examples:
  listings init
  listings init --driver sqlite --path data/listings.sqlite
  listings init --driver postgres --dsn postgres://localhost/listings`,
	Run: runInit,
}

var (
	initDriver string
	initPath   string
	initDSN    string
	initForce  bool
)

func init() {
	f := initCmd.Flags()
	f.StringVar(&initDriver, "driver", store.DriverBbolt, "Store driver (bbolt|sqlite|postgres)")
	f.StringVar(&initPath, "path", "", "Store file for bbolt and sqlite")
	f.StringVar(&initDSN, "dsn", "", "Connection string for postgres")
	f.BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runInit(cmd *cobra.Command, _ []string) {
	path := config.ResolvePath(configPath)
	if _, err := os.Stat(path); err == nil && !initForce {
		exitError("config file %s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		exitError("%v", err)
	}

	cfg := config.Default()
	cfg.SetPath(path)
	cfg.Store.Driver = initDriver
	if initPath != "" {
		cfg.Store.Path = initPath
	}
	cfg.Store.DSN = initDSN
	if err := cfg.Validate(); err != nil {
		exitError("%v", err)
	}

	st, err := store.Open(cfg.StoreOptions())
	if err != nil {
		exitError("failed to create store: %v", err)
	}
	st.Close()

	if err := cfg.Save(); err != nil {
		exitError("failed to write config: %v", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wrote %s\n", path)
	if cfg.Store.Driver == store.DriverPostgres {
		fmt.Fprintf(out, "Initialized %s store\n", cfg.Store.Driver)
	} else {
		fmt.Fprintf(out, "Initialized %s store at %s\n", cfg.Store.Driver, cfg.Store.Path)
	}
}
