// Command lsmkvctl is a small introspection/administration tool for an
// lsmkv database, in the spirit of pebble's own cmd/pebble tool
// (github.com/spf13/cobra, one subcommand per operation).
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// errNoDBPath is returned by any subcommand run without --db set.
type errNoDBPath struct{}

func (errNoDBPath) Error() string { return "--db is required" }

var dbPath string

var rootCmd = &cobra.Command{
	Use:   "lsmkvctl",
	Short: "inspect and administer an lsmkv database",
}

func main() {
	cobra.EnableCommandSorting = false
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the database directory (required)")
	rootCmd.AddCommand(
		putCmd,
		getCmd,
		deleteCmd,
		scanCmd,
		compactCmd,
		statsCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func requireDBPath() error {
	if dbPath == "" {
		return errNoDBPath{}
	}
	return nil
}
