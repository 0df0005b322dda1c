// Package config loads and validates a node's startup configuration: the
// network-facing addresses, on-disk paths, TLS material, and bootstrap
// peer list. Values are layered JSON-file-then-environment: a config file
// supplies the base, and DIVA_*-prefixed environment variables override
// any field without a redeployed config file.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// TLSConfig holds paths to the PEM files needed for mutual TLS. When nil or
// all paths are empty, the node falls back to plain TCP.
type TLSConfig struct {
	CACert   string `mapstructure:"ca_cert" json:"ca_cert"`
	NodeCert string `mapstructure:"node_cert" json:"node_cert"`
	NodeKey  string `mapstructure:"node_key" json:"node_key"`
}

// BootstrapPeer identifies a seed node to contact on startup, by its
// validator public key (base64url) and its dial address.
type BootstrapPeer struct {
	PublicKey string `mapstructure:"public_key" json:"public_key"`
	Addr      string `mapstructure:"addr" json:"addr"` // host:port
}

// Config holds all node configuration, covering every field the external
// interface enumerates: network identity, storage paths, and network
// morphing/sync cadences.
type Config struct {
	Ident string `mapstructure:"ident" json:"ident"` // key-file ident, e.g. "node1"

	IP            string `mapstructure:"ip" json:"ip"`
	Port          uint16 `mapstructure:"port" json:"port"`
	PortBlockFeed uint16 `mapstructure:"port_block_feed" json:"port_block_feed"`
	HTTP          uint16 `mapstructure:"http" json:"http"`
	UDP           uint16 `mapstructure:"udp" json:"udp"`

	PathKeys       string `mapstructure:"path_keys" json:"path_keys"`
	PathState      string `mapstructure:"path_state" json:"path_state"`
	PathBlockstore string `mapstructure:"path_blockstore" json:"path_blockstore"`
	PathGenesis    string `mapstructure:"path_genesis" json:"path_genesis"`

	NetworkSize          int `mapstructure:"network_size" json:"network_size"`
	NetworkP2PIntervalMs int `mapstructure:"network_p2p_interval_ms" json:"network_p2p_interval_ms"`
	NetworkMorphInterval int `mapstructure:"network_morph_interval_ms" json:"network_morph_interval_ms"`

	Bootstrap     bool            `mapstructure:"bootstrap" json:"bootstrap"`
	BootstrapPeer []BootstrapPeer `mapstructure:"bootstrap_peers" json:"bootstrap_peers,omitempty"`

	APIToken string     `mapstructure:"api_token" json:"api_token,omitempty"`
	TLS       *TLSConfig `mapstructure:"tls" json:"tls,omitempty"`

	MaxBlockTxs int `mapstructure:"max_block_txs" json:"max_block_txs"` // 0 -> default
}

// Default returns a single-node development configuration.
func Default() *Config {
	return &Config{
		Ident:                "node1",
		IP:                   "127.0.0.1",
		Port:                 17468,
		PortBlockFeed:        17469,
		HTTP:                 17470,
		UDP:                  17471,
		PathKeys:             "./keys",
		PathState:            "./state",
		PathBlockstore:       "./blockstore",
		PathGenesis:          "./genesis.json",
		NetworkSize:          7,
		NetworkP2PIntervalMs: 1000,
		NetworkMorphInterval: 60000,
		Bootstrap:            false,
		MaxBlockTxs:          500,
	}
}

// Load reads configuration from path (if non-empty) and layers
// DIVA_*-prefixed environment variable overrides on top via viper, then
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DIVA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("ident", def.Ident)
	v.SetDefault("ip", def.IP)
	v.SetDefault("port", def.Port)
	v.SetDefault("port_block_feed", def.PortBlockFeed)
	v.SetDefault("http", def.HTTP)
	v.SetDefault("udp", def.UDP)
	v.SetDefault("path_keys", def.PathKeys)
	v.SetDefault("path_state", def.PathState)
	v.SetDefault("path_blockstore", def.PathBlockstore)
	v.SetDefault("path_genesis", def.PathGenesis)
	v.SetDefault("network_size", def.NetworkSize)
	v.SetDefault("network_p2p_interval_ms", def.NetworkP2PIntervalMs)
	v.SetDefault("network_morph_interval_ms", def.NetworkMorphInterval)
	v.SetDefault("bootstrap", def.Bootstrap)
	v.SetDefault("max_block_txs", def.MaxBlockTxs)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and internally
// consistent.
func (c *Config) Validate() error {
	if c.Ident == "" {
		return fmt.Errorf("ident must not be empty")
	}
	if c.PathKeys == "" || c.PathState == "" || c.PathBlockstore == "" || c.PathGenesis == "" {
		return fmt.Errorf("path_keys, path_state, path_blockstore, and path_genesis must all be set")
	}
	ports := map[string]uint16{"port": c.Port, "port_block_feed": c.PortBlockFeed, "http": c.HTTP, "udp": c.UDP}
	seen := make(map[uint16]string, len(ports))
	for name, p := range ports {
		if p == 0 {
			return fmt.Errorf("%s must be a nonzero port", name)
		}
		if other, dup := seen[p]; dup {
			return fmt.Errorf("%s and %s must not share port %d", name, other, p)
		}
		seen[p] = name
	}
	if c.NetworkSize <= 0 {
		return fmt.Errorf("network_size must be positive, got %d", c.NetworkSize)
	}
	if c.NetworkP2PIntervalMs <= 0 {
		return fmt.Errorf("network_p2p_interval_ms must be positive, got %d", c.NetworkP2PIntervalMs)
	}
	if c.NetworkMorphInterval <= 0 {
		return fmt.Errorf("network_morph_interval_ms must be positive, got %d", c.NetworkMorphInterval)
	}
	if c.Bootstrap && len(c.BootstrapPeer) == 0 {
		return fmt.Errorf("bootstrap is true but bootstrap_peers is empty")
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}
