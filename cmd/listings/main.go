// Command listings runs the house listing store: its HTTP API and the
// commands that work on a local store.
package main

import (
	"os"

	"github.com/kilupskalvis/listings/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
