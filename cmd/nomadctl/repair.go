package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bhumikasha/terracotta-platform/coordinator"
)

func newRepairCmd() *cobra.Command {
	var force string
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Resolve an abandoned prepared change across the cluster (spec.md §4.5)",
		RunE: func(cmd *cobra.Command, args []string) error {
			clients, err := dialTargets()
			if err != nil {
				fail(exitValidation, "%v", err)
			}

			var forced coordinator.ForcedOutcome
			switch force {
			case "", "none":
				forced = coordinator.ForceNone
			case "commit":
				forced = coordinator.ForceCommit
			case "rollback":
				forced = coordinator.ForceRollback
			default:
				fail(exitValidation, "--force must be commit or rollback")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			coord := coordinator.New(clients, hostFlag, userFlag)
			result, err := coord.Repair(ctx, forced)
			if err != nil {
				fail(exitProtocolRejection, "%v", err)
			}
			fmt.Printf("%s: uuid=%s\n", result.Outcome, result.UUID)
			if len(result.Failed) > 0 {
				fail(exitPartialOrInconsist, "partial outcome: %v", result.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&force, "force", "", "commit|rollback -- override the default rollback policy when no node has resolved the change")
	return cmd
}
