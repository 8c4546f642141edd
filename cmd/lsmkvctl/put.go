package main

import (
	"github.com/spf13/cobra"

	"github.com/lsmkv/lsmkv"
)

var putSync bool

var putCmd = &cobra.Command{
	Use:   "put <key> <value>",
	Short: "write a key/value pair",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDBPath(); err != nil {
			return err
		}
		db, err := lsmkv.Open(dbPath, lsmkv.DefaultOptions())
		if err != nil {
			return err
		}
		defer db.Close()
		return db.Put(lsmkv.WriteOptions{Sync: putSync}, []byte(args[0]), []byte(args[1]))
	},
}

func init() {
	putCmd.Flags().BoolVar(&putSync, "sync", false, "fsync the WAL record before returning")
}
