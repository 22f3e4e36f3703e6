package main

import (
	"github.com/spf13/cobra"

	"github.com/bhumikasha/terracotta-platform/topology"
	"github.com/bhumikasha/terracotta-platform/wire"
)

func newDetachCmd() *cobra.Command {
	var kind, member string
	cmd := &cobra.Command{
		Use:   "detach",
		Short: "Detach a node or stripe from the cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch kind {
			case "node":
				runApply(wire.DetachNode(topology.NodeID(member)))
			case "stripe":
				runApply(wire.DetachStripe(topology.StripeID(member)))
			default:
				fail(exitValidation, "-t must be node or stripe")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "type", "t", "node", "node|stripe")
	cmd.Flags().StringVarP(&member, "spec", "s", "", "id of the node or stripe to remove")
	return cmd
}
