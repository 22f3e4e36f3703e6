package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bhumikasha/terracotta-platform/coordinator"
	"github.com/bhumikasha/terracotta-platform/topology"
	"github.com/bhumikasha/terracotta-platform/wire"
)

// parseNewNode accepts "id@address" or "id@address,name".
func parseNewNode(spec string) (topology.Node, error) {
	at := strings.SplitN(spec, "@", 2)
	if len(at) != 2 || at[0] == "" || at[1] == "" {
		return topology.Node{}, fmt.Errorf("expected NODE_ID@ADDRESS[,NAME], got %q", spec)
	}
	addrAndName := strings.SplitN(at[1], ",", 2)
	n := topology.Node{ID: topology.NodeID(at[0]), Address: addrAndName[0]}
	if len(addrAndName) == 2 {
		n.Name = addrAndName[1]
	} else {
		n.Name = at[0]
	}
	return n, nil
}

// parseNewStripe accepts "stripeID:nodeID1,nodeID2,...".
func parseNewStripe(spec string) (topology.Stripe, error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return topology.Stripe{}, fmt.Errorf("expected STRIPE_ID:NODE_ID[,NODE_ID...], got %q", spec)
	}
	s := topology.Stripe{ID: topology.StripeID(parts[0])}
	for _, nid := range strings.Split(parts[1], ",") {
		if nid != "" {
			s.NodeIDs = append(s.NodeIDs, topology.NodeID(nid))
		}
	}
	return s, nil
}

func runApply(payload wire.Payload) {
	clients, err := dialTargets()
	if err != nil {
		fail(exitValidation, "%v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	coord := coordinator.New(clients, hostFlag, userFlag)
	result, err := coord.Apply(ctx, payload)
	switch err.(type) {
	case nil:
		fmt.Printf("%s: uuid=%s version=%d\n", result.Outcome, result.UUID, result.Version)
		if len(result.Failed) > 0 {
			fail(exitPartialOrInconsist, "partial outcome: %v", result.Failed)
		}
	case coordinator.PartialClusterError, coordinator.InconsistentClusterError:
		fail(exitPartialOrInconsist, "%v", err)
	case coordinator.PriorChangeInFlightError:
		fail(exitPartialOrInconsist, "%v; run `nomadctl repair`", err)
	default:
		fail(exitProtocolRejection, "%v", err)
	}
}

func newAttachCmd() *cobra.Command {
	var kind, dest, member string
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach a node or stripe to the cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch kind {
			case "node":
				n, err := parseNewNode(member)
				if err != nil {
					fail(exitValidation, "%v", err)
				}
				runApply(wire.AttachNode(topology.StripeID(dest), n))
			case "stripe":
				s, err := parseNewStripe(member)
				if err != nil {
					fail(exitValidation, "%v", err)
				}
				runApply(wire.AttachStripe(s))
			default:
				fail(exitValidation, "-t must be node or stripe")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "type", "t", "node", "node|stripe")
	cmd.Flags().StringVarP(&dest, "dest", "d", "", "stripe id the new node joins (node attach only)")
	cmd.Flags().StringVarP(&member, "spec", "s", "", "new member descriptor")
	return cmd
}
