package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Fetch a document by key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cluster, coll, err := connectArgs(cmd)
		if err != nil {
			return err
		}
		defer cluster.Close()

		res, err := coll.Get(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("CAS=0x%x flags=0x%08x\n%s\n", res.CAS, res.Value.Flags, res.Value.Bytes)
		return nil
	},
}
