package main

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/bhumikasha/terracotta-platform/topology"
	"github.com/bhumikasha/terracotta-platform/wire"
)

func newExportCmd() *cobra.Command {
	var file, format, member string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the committed cluster configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := dialSingle(member)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			resp, err := client.Discover(ctx, wire.DiscoverRequest{})
			if err != nil {
				fail(exitUnreachable, "discover %s: %v", client.ID(), err)
			}

			cfg := topology.Bootstrap()
			if resp.LatestChange != nil && resp.LatestChange.State == wire.StateCommitted {
				cfg = resp.LatestChange.Result
			}

			out, err := encodeConfig(cfg, format)
			if err != nil {
				fail(exitValidation, "%v", err)
			}
			if file == "" || file == "-" {
				fmt.Println(out)
				return nil
			}
			return os.WriteFile(file, []byte(out), 0o644)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "output file (default: stdout)")
	cmd.Flags().StringVarP(&format, "format", "t", "json", "output format: json|properties|xml")
	cmd.Flags().StringVarP(&member, "spec", "s", "", "host:port of the member to query")
	return cmd
}

type xmlConfig struct {
	XMLName xml.Name     `xml:"cluster"`
	Stripes []xmlStripe  `xml:"stripe"`
}

type xmlStripe struct {
	ID    string    `xml:"id,attr"`
	Nodes []xmlNode `xml:"node"`
}

type xmlNode struct {
	ID      string `xml:"id,attr"`
	Name    string `xml:"name,attr"`
	Address string `xml:"address,attr"`
}

func encodeConfig(cfg *topology.Config, format string) (string, error) {
	switch format {
	case "json", "":
		b, err := json.MarshalIndent(cfg, "", "  ")
		return string(b), err

	case "xml":
		x := xmlConfig{}
		for _, sid := range cfg.StripeOrder {
			stripe := cfg.Stripes[sid]
			xs := xmlStripe{ID: string(stripe.ID)}
			for _, nid := range stripe.NodeIDs {
				n := cfg.Nodes[nid]
				xs.Nodes = append(xs.Nodes, xmlNode{ID: string(n.ID), Name: n.Name, Address: n.Address})
			}
			x.Stripes = append(x.Stripes, xs)
		}
		b, err := xml.MarshalIndent(x, "", "  ")
		return string(b), err

	case "properties":
		lines := make([]string, 0, len(cfg.Nodes)*3)
		ids := make([]string, 0, len(cfg.Nodes))
		for id := range cfg.Nodes {
			ids = append(ids, string(id))
		}
		sort.Strings(ids)
		for _, id := range ids {
			n := cfg.Nodes[topology.NodeID(id)]
			lines = append(lines, fmt.Sprintf("node.%s.name=%s", id, n.Name))
			lines = append(lines, fmt.Sprintf("node.%s.address=%s", id, n.Address))
			for k, v := range n.Settings {
				lines = append(lines, fmt.Sprintf("node.%s.setting.%s=%s", id, k, v))
			}
		}
		out := ""
		for _, l := range lines {
			out += l + "\n"
		}
		return out, nil

	default:
		return "", fmt.Errorf("unknown export format %q", format)
	}
}
