package main

import (
	"github.com/spf13/cobra"

	"github.com/lsmkv/lsmkv"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "delete a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDBPath(); err != nil {
			return err
		}
		db, err := lsmkv.Open(dbPath, lsmkv.DefaultOptions())
		if err != nil {
			return err
		}
		defer db.Close()
		return db.Delete(lsmkv.WriteOptions{}, []byte(args[0]))
	},
}
