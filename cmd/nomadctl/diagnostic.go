package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bhumikasha/terracotta-platform/wire"
)

func newDiagnosticCmd() *cobra.Command {
	var member string
	cmd := &cobra.Command{
		Use:   "diagnostic",
		Short: "Show a node's state, versions, and counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := dialSingle(member)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			resp, err := client.Diagnostic(ctx, wire.DiagnosticRequest{})
			if err != nil {
				fail(exitUnreachable, "diagnostic %s: %v", client.ID(), err)
			}

			state := "ACCEPTING"
			if resp.Tail != nil && resp.Tail.State == wire.StatePrepared {
				state = "PREPARED"
			}
			fmt.Printf("member:                 %s\n", member)
			fmt.Printf("id:                     %s\n", resp.ID)
			fmt.Printf("mode:                   %s\n", resp.Mode)
			fmt.Printf("state:                  %s\n", state)
			fmt.Printf("current_version:        %d\n", resp.CurrentVersion)
			fmt.Printf("highest_version:        %d\n", resp.HighestVersion)
			fmt.Printf("mutative_message_count: %d\n", resp.MutativeMessageCount)
			fmt.Printf("last_mutation:          %s by %s@%s\n", resp.LastMutationTimestamp, resp.LastMutationUser, resp.LastMutationHost)
			if resp.Tail != nil {
				fmt.Printf("tail_change:            %s (%s)\n", resp.Tail.UUID, resp.Tail.State)
			}
			if state == "PREPARED" {
				fail(exitPartialOrInconsist, "node has a change in flight; run `nomadctl repair`")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&member, "spec", "s", "", "host:port of the member to query")
	return cmd
}
