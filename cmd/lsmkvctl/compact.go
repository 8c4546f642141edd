package main

import (
	"github.com/spf13/cobra"

	"github.com/lsmkv/lsmkv"
)

var (
	compactBegin string
	compactEnd   string
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "force a compaction across the given key range (the whole keyspace if unset)",
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

		var begin, end []byte
		if compactBegin != "" {
			begin = []byte(compactBegin)
		}
		if compactEnd != "" {
			end = []byte(compactEnd)
		}
		return db.CompactRange(begin, end)
	},
}

func init() {
	compactCmd.Flags().StringVar(&compactBegin, "begin", "", "first key of the range to compact (default: start of keyspace)")
	compactCmd.Flags().StringVar(&compactEnd, "end", "", "last key of the range to compact (default: end of keyspace)")
}
