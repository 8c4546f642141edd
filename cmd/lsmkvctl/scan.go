package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lsmkv/lsmkv"
)

var (
	scanStart string
	scanLimit int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "iterate keys in order, optionally starting at a key",
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

		it := db.NewIterator(lsmkv.ReadOptions{})
		defer it.Close()

		var valid bool
		if scanStart != "" {
			valid = it.Seek([]byte(scanStart))
		} else {
			valid = it.SeekToFirst()
		}

		count := 0
		for valid && (scanLimit <= 0 || count < scanLimit) {
			fmt.Printf("%s = %s\n", it.Key(), it.Value())
			count++
			valid = it.Next()
		}
		return it.Error()
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanStart, "start", "", "first key to scan from (default: first key in the database)")
	scanCmd.Flags().IntVar(&scanLimit, "limit", 0, "maximum number of entries to print (0 means unlimited)")
}
