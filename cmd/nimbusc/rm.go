package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm <key>",
	Short: "Remove a document by key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		casFlag, _ := cmd.Flags().GetUint64("cas")

		ctx, cluster, coll, err := connectArgs(cmd)
		if err != nil {
			return err
		}
		defer cluster.Close()

		res, err := coll.Remove(ctx, args[0], casFlag)
		if err != nil {
			return err
		}
		fmt.Printf("removed, CAS was 0x%x\n", res.CAS)
		return nil
	},
}

func init() {
	rmCmd.Flags().Uint64("cas", 0, "CAS to guard the removal with, 0 for unconditional")
}
