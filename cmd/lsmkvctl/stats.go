package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lsmkv/lsmkv"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "print per-level file counts and sizes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDBPath(); err != nil {
			return err
		}
		db, err := lsmkv.Open(dbPath, lsmkv.DefaultOptions())
		if err != nil {
			return err
		}
		defer db.Close()

		st := db.Stats()
		for _, l := range st.Levels {
			fmt.Printf("level %d: %d files, %d bytes\n", l.Level, l.Files, l.Bytes)
		}
		return nil
	},
}
