// Package nodeconfig loads a node's bootstrap configuration: identity,
// storage location, listen address, and logging -- the ambient
// configuration every cmd/nomadnode process needs before it can open its
// changelog.Log and start a node.Server.
//
// Grounded on the viper-backed, defaults-plus-override config loading shape
// used across the pack (ipiton-alert-history-service's internal/config).
package nodeconfig

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is a single node's bootstrap configuration (spec.md §9
// "service-provider registration ... re-expressed as a configuration
// object"). Settings beyond these are cluster configuration, which lives in
// the changelog, not here.
type Config struct {
	NodeID        string `mapstructure:"node_id"`
	StripeID      string `mapstructure:"stripe_id"`
	ListenAddress string `mapstructure:"listen_address"`
	JournalDir    string `mapstructure:"journal_dir"`
	LogLevel      string `mapstructure:"log_level"`
	Mode          string `mapstructure:"mode"`

	// StatsdAddress, if set, routes node instrumentation to a statsd
	// collector; empty disables it (statsd.NewNoopClient).
	StatsdAddress string `mapstructure:"statsd_address"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("listen_address", "127.0.0.1:7072")
	v.SetDefault("journal_dir", "./data")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("mode", "ACTIVE_COORDINATOR")
	v.SetDefault("statsd_address", "")
}

// Load reads a YAML bootstrap config from path, with NOMAD_-prefixed
// environment variables overriding any key (e.g. NOMAD_NODE_ID).
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("NOMAD")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("nodeconfig: reading %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("nodeconfig: decoding %s: %w", path, err)
	}
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("nodeconfig: node_id is required")
	}
	if cfg.StripeID == "" {
		return nil, fmt.Errorf("nodeconfig: stripe_id is required")
	}
	return &cfg, nil
}
