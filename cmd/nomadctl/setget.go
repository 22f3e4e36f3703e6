package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bhumikasha/terracotta-platform/topology"
	"github.com/bhumikasha/terracotta-platform/wire"
)

func newSetCmd() *cobra.Command {
	var member, setting string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set a node setting",
		RunE: func(cmd *cobra.Command, args []string) error {
			kv := strings.SplitN(setting, "=", 2)
			if len(kv) != 2 {
				fail(exitValidation, "-c expects KEY=VALUE, got %q", setting)
			}
			runApply(wire.SetSetting(topology.NodeID(member), kv[0], kv[1]))
			return nil
		},
	}
	cmd.Flags().StringVarP(&member, "node", "d", "", "node id the setting belongs to")
	cmd.Flags().StringVarP(&setting, "setting", "c", "", "KEY=VALUE")
	return cmd
}

func newGetCmd() *cobra.Command {
	var member, key string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Read a node setting from the committed configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := dialSingle(member)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			resp, err := client.Discover(ctx, wire.DiscoverRequest{})
			if err != nil {
				fail(exitUnreachable, "discover %s: %v", client.ID(), err)
			}
			if resp.LatestChange == nil || resp.LatestChange.State != wire.StateCommitted {
				fail(exitValidation, "no committed configuration on %s", member)
			}
			var self *topology.Node
			for _, n := range resp.LatestChange.Result.Nodes {
				if n.Address == member {
					n := n
					self = &n
					break
				}
			}
			if self == nil {
				fail(exitValidation, "%s is not a member of its own committed configuration", member)
			}
			value, ok := self.Settings[key]
			if !ok {
				fail(exitValidation, "%s has no setting %q", member, key)
			}
			fmt.Println(value)
			return nil
		},
	}
	cmd.Flags().StringVarP(&member, "spec", "s", "", "host:port of the member to query")
	cmd.Flags().StringVarP(&key, "setting", "c", "", "setting key")
	return cmd
}
