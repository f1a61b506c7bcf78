// Package config loads the options a replica or client needs to start
// (spec §6) from a YAML file, with environment variable overrides, the
// way the rest of the retrieved corpus layers viper over cobra flags.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// PeerSpec is one entry of the otherNodes list: an id, a dial address,
// and the hex-encoded public key used to verify its signatures.
type PeerSpec struct {
	Id        string `mapstructure:"id"`
	Address   string `mapstructure:"address"`
	PublicKey string `mapstructure:"public_key"`
}

// ClientSpec is one entry of the clientPublicKeys list. Address is
// optional: a client without a fixed listen address can still submit
// commands, but a leader has nowhere to push its CommandResponse and
// the client must poll by resubmitting (the replay cache makes that
// safe) instead of waiting on one.
type ClientSpec struct {
	Id        string `mapstructure:"id"`
	Address   string `mapstructure:"address"`
	PublicKey string `mapstructure:"public_key"`
}

// NodeConfig is the full set of options spec §6 names for a replica.
type NodeConfig struct {
	NodeId       string        `mapstructure:"node_id"`
	ListenAddr   string        `mapstructure:"listen_addr"`
	DataDir      string        `mapstructure:"data_dir"`
	QuorumSize   int           `mapstructure:"quorum_size"`
	ElectionMin  time.Duration `mapstructure:"election_timeout_min"`
	ElectionMax  time.Duration `mapstructure:"election_timeout_max"`
	Heartbeat    time.Duration `mapstructure:"heartbeat_timeout"`
	PrivateKey   string        `mapstructure:"private_key"`
	OtherNodes   []PeerSpec    `mapstructure:"other_nodes"`
	ClientKeys   []ClientSpec  `mapstructure:"client_public_keys"`
	MetricsAddr  string        `mapstructure:"metrics_addr"`
}

// Load reads a YAML config from path, overridable by BFTRAFT_-prefixed
// environment variables (e.g. BFTRAFT_NODE_ID).
func Load(path string) (*NodeConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("bftraft")
	v.AutomaticEnv()

	v.SetDefault("quorum_size", 0)
	v.SetDefault("election_timeout_min", 150*time.Millisecond)
	v.SetDefault("election_timeout_max", 300*time.Millisecond)
	v.SetDefault("heartbeat_timeout", 50*time.Millisecond)
	v.SetDefault("metrics_addr", ":9090")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg NodeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *NodeConfig) validate() error {
	if c.NodeId == "" {
		return fmt.Errorf("config: node_id is required")
	}
	if c.QuorumSize <= 0 {
		n := len(c.OtherNodes) + 1
		c.QuorumSize = (2*((n-1)/3) + 1)
	}
	if c.ElectionMax <= c.ElectionMin {
		return fmt.Errorf("config: election_timeout_max must exceed election_timeout_min")
	}
	return nil
}
