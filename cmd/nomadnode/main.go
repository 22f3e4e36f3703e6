// Command nomadnode runs a single cluster node: it opens the node's
// changelog, wraps it in a node.Server, and serves the protocol of
// spec.md §4.3 on ListenAddress.
//
// The wire listener itself is a thin placeholder (spec.md §1: concrete RPC
// transport is referenced only by interface) -- what matters here is the
// bootstrap sequence every real node follows: load config, open the
// journal, replay it, start serving.
package main

import (
	"flag"
	"os"

	"github.com/cactus/go-statsd-client/statsd"
	logging "github.com/op/go-logging"
	"github.com/spf13/afero"

	"github.com/bhumikasha/terracotta-platform/changelog"
	"github.com/bhumikasha/terracotta-platform/node"
	"github.com/bhumikasha/terracotta-platform/nodeconfig"
)

var logger = logging.MustGetLogger("nomadnode")

func main() {
	configPath := flag.String("config", "nomadnode.yaml", "path to the node's bootstrap config")
	flag.Parse()

	format := logging.MustStringFormatter(`%{time:15:04:05.000} %{level:.4s} %{module} %{message}`)
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	logging.SetBackend(logging.NewBackendFormatter(backend, format))

	cfg, err := nodeconfig.Load(*configPath)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if level, err := logging.LogLevel(cfg.LogLevel); err == nil {
		logging.SetLevel(level, "")
	}

	log, err := changelog.OpenInDir(afero.NewOsFs(), cfg.JournalDir)
	if err != nil {
		logger.Fatalf("opening journal at %s: %v", cfg.JournalDir, err)
	}

	var stat statsd.Statter
	if cfg.StatsdAddress != "" {
		stat, err = statsd.NewClient(cfg.StatsdAddress, "nomadnode."+cfg.NodeID)
		if err != nil {
			logger.Warningf("statsd client disabled, could not dial %s: %v", cfg.StatsdAddress, err)
			stat, _ = statsd.NewNoopClient()
		}
	} else {
		stat, _ = statsd.NewNoopClient()
	}

	srv := node.NewServer(cfg.NodeID, node.Mode(cfg.Mode), log, stat)
	logger.Infof("node %s (stripe %s) ready at %s, current_version=%d",
		cfg.NodeID, cfg.StripeID, cfg.ListenAddress, log.CurrentVersion())

	serve(cfg.ListenAddress, srv)
}
