package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lsmkv/lsmkv"
	"github.com/lsmkv/lsmkv/internal/status"
)

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "read a key's current value",
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

		val, err := db.Get(lsmkv.ReadOptions{}, []byte(args[0]))
		if status.Is(err, status.NotFound) {
			fmt.Println("(not found)")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Println(string(val))
		return nil
	},
}
