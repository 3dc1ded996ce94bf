package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"nimbusdb.io/nimbus/pkg/nimbus"
)

var upsertCmd = &cobra.Command{
	Use:   "upsert <key> <value>",
	Short: "Store a JSON document at key, creating or overwriting it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttlFlag, _ := cmd.Flags().GetDuration("ttl")

		ctx, cluster, coll, err := connectArgs(cmd)
		if err != nil {
			return err
		}
		defer cluster.Close()

		res, err := coll.Upsert(ctx, args[0], nimbus.NewJSONValue([]byte(args[1])), ttlFlag)
		if err != nil {
			return err
		}
		fmt.Printf("CAS=0x%x\n", res.CAS)
		if !res.MutationToken.IsZero() {
			fmt.Printf("mutation token: vb=%d seqno=%d\n", res.MutationToken.VbucketID, res.MutationToken.SeqNo)
		}
		return nil
	},
}

func init() {
	upsertCmd.Flags().Duration("ttl", 0, "document expiry, 0 for none")
}
