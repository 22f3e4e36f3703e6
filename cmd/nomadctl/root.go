// Command nomadctl is the operator-facing CLI of spec.md §6: export,
// attach, detach, set, get, diagnostic, repair. It is a thin client over
// transport.NodeClient/coordinator.Coordinator -- all protocol logic lives
// in those packages, not here.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bhumikasha/terracotta-platform/transport"
)

// exitCode mirrors spec.md §6's exit code table.
type exitCode int

const (
	exitOK                  exitCode = 0
	exitValidation          exitCode = 1
	exitPartialOrInconsist  exitCode = 2
	exitProtocolRejection   exitCode = 3
	exitUnreachable         exitCode = 4
)

var targetsFlag string
var hostFlag string
var userFlag string

func dialTargets() ([]transport.NodeClient, error) {
	if targetsFlag == "" {
		return nil, fmt.Errorf("--cluster is required (comma-separated host:port list)")
	}
	var clients []transport.NodeClient
	for _, addr := range strings.Split(targetsFlag, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		c, err := transport.DialTCP(addr, addr)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, nil
}

func dialSingle(addr string) transport.NodeClient {
	if addr == "" {
		fail(exitValidation, "-s is required (host:port of the member to query)")
	}
	c, err := transport.DialTCP(addr, addr)
	if err != nil {
		fail(exitUnreachable, "%v", err)
	}
	return c
}

func fail(code exitCode, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(int(code))
}

func main() {
	root := &cobra.Command{
		Use:   "nomadctl",
		Short: "Operator CLI for the cluster configuration change protocol",
	}
	root.PersistentFlags().StringVar(&targetsFlag, "cluster", "", "comma-separated host:port list of cluster members to drive the session against")
	root.PersistentFlags().StringVar(&hostFlag, "host", "nomadctl", "host recorded as the originator of mutative requests")
	root.PersistentFlags().StringVar(&userFlag, "user", os.Getenv("USER"), "user recorded as the originator of mutative requests")

	root.AddCommand(
		newExportCmd(),
		newAttachCmd(),
		newDetachCmd(),
		newSetCmd(),
		newGetCmd(),
		newDiagnosticCmd(),
		newRepairCmd(),
	)

	if err := root.Execute(); err != nil {
		fail(exitValidation, "%v", err)
	}
}
