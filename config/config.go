// Package config loads node settings from flags, TRIVIAD_* environment
// variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cosmossdk.io/log"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "TRIVIAD"

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID string `mapstructure:"chain_id" json:"chain_id"`
	// Engine is the pubkey hex allowed to deliver computation events. Empty
	// means the node's own local engine key.
	Engine string `mapstructure:"engine" json:"engine"`
}

// EngineConfig configures the in-process computation engine.
type EngineConfig struct {
	Nodes    int           `mapstructure:"nodes" json:"nodes"`
	Interval time.Duration `mapstructure:"interval" json:"interval"`
	KeyFile  string        `mapstructure:"key_file" json:"key_file"`
}

// Config holds all node configuration.
type Config struct {
	NodeID        string        `mapstructure:"node_id" json:"node_id"`
	DataDir       string        `mapstructure:"data_dir" json:"data_dir"`
	KeyFile       string        `mapstructure:"key_file" json:"key_file"` // sequencer keystore
	RPCAddr       string        `mapstructure:"rpc_addr" json:"rpc_addr"`
	RPCAuthToken  string        `mapstructure:"rpc_auth_token" json:"rpc_auth_token"`
	RPCWSOrigins  []string      `mapstructure:"rpc_ws_origins" json:"rpc_ws_origins"` // empty → same origin only
	BlockInterval time.Duration `mapstructure:"block_interval" json:"block_interval"`
	MaxBlockTxs   int           `mapstructure:"max_block_txs" json:"max_block_txs"`
	LogLevel      string        `mapstructure:"log_level" json:"log_level"`
	LogFormat     string        `mapstructure:"log_format" json:"log_format"` // json | plain
	Engine        EngineConfig  `mapstructure:"engine" json:"engine"`
	Genesis       GenesisConfig `mapstructure:"genesis" json:"genesis"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:        "node0",
		DataDir:       "./data",
		KeyFile:       "./data/sequencer.key",
		RPCAddr:       "127.0.0.1:8545",
		BlockInterval: time.Second,
		MaxBlockTxs:   500,
		LogLevel:      "info",
		LogFormat:     "plain",
		Engine: EngineConfig{
			Nodes:    3,
			Interval: 500 * time.Millisecond,
			KeyFile:  "./data/engine.key",
		},
		Genesis: GenesisConfig{ChainID: "zktrivia-dev"},
	}
}

// Validate rejects settings the node cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Genesis.ChainID == "" {
		errs = append(errs, errors.New("genesis.chain_id must be set"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must be set"))
	}
	if c.BlockInterval <= 0 {
		errs = append(errs, fmt.Errorf("block_interval must be positive, got %s", c.BlockInterval))
	}
	if c.MaxBlockTxs <= 0 {
		errs = append(errs, fmt.Errorf("max_block_txs must be positive, got %d", c.MaxBlockTxs))
	}
	if c.Engine.Interval <= 0 {
		errs = append(errs, fmt.Errorf("engine.interval must be positive, got %s", c.Engine.Interval))
	}
	if c.Engine.Nodes < 2 {
		errs = append(errs, fmt.Errorf("engine.nodes must be at least 2, got %d", c.Engine.Nodes))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.LogFormat != "json" && c.LogFormat != "plain" {
		errs = append(errs, fmt.Errorf("log_format must be json or plain, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Logger builds the root logger described by LogLevel and LogFormat.
func (c *Config) Logger(w io.Writer) (log.Logger, error) {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	opts := []log.Option{log.LevelOption(lvl)}
	if c.LogFormat == "json" {
		opts = append(opts, log.OutputJSONOption())
	}
	return log.NewLogger(w, opts...).With("node", c.NodeID), nil
}

// NewViper returns a viper instance reading TRIVIAD_* variables. Nested keys
// map dots to underscores: engine.nodes is TRIVIAD_ENGINE_NODES.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"node-id":         "node_id",
	"data-dir":        "data_dir",
	"key-file":        "key_file",
	"rpc-addr":        "rpc_addr",
	"rpc-auth-token":  "rpc_auth_token",
	"rpc-ws-origins":  "rpc_ws_origins",
	"block-interval":  "block_interval",
	"max-block-txs":   "max_block_txs",
	"log-level":       "log_level",
	"log-format":      "log_format",
	"engine-nodes":    "engine.nodes",
	"engine-interval": "engine.interval",
	"engine-key-file": "engine.key_file",
	"chain-id":        "genesis.chain_id",
	"genesis-engine":  "genesis.engine",
}

// RegisterFlags adds one flag per config key, defaulting to DefaultConfig.
func RegisterFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.String("config", "", "path to a JSON, YAML or TOML config file (env: TRIVIAD_CONFIG)")
	fs.String("node-id", d.NodeID, "node name used in logs")
	fs.String("data-dir", d.DataDir, "directory for the block and state database")
	fs.String("key-file", d.KeyFile, "sequencer keystore file")
	fs.String("rpc-addr", d.RPCAddr, "JSON-RPC listen address")
	fs.String("rpc-auth-token", "", "bearer token required on POST requests; empty disables auth")
	fs.StringSlice("rpc-ws-origins", nil, "browser origins allowed on /ws; empty allows same origin only, \"*\" allows any")
	fs.Duration("block-interval", d.BlockInterval, "time between blocks")
	fs.Int("max-block-txs", d.MaxBlockTxs, "maximum transactions per block")
	fs.String("log-level", d.LogLevel, "trace, debug, info, warn or error")
	fs.String("log-format", d.LogFormat, "json or plain")
	fs.Int("engine-nodes", d.Engine.Nodes, "number of simulated share holders")
	fs.Duration("engine-interval", d.Engine.Interval, "how often the engine runs queued computations")
	fs.String("engine-key-file", d.Engine.KeyFile, "computation engine keystore file")
	fs.String("chain-id", d.Genesis.ChainID, "chain id written at genesis")
	fs.String("genesis-engine", "", "engine pubkey hex written at genesis; empty uses the local engine key")
}

// Load resolves the configuration: defaults, then the config file, then
// environment, then explicitly set flags.
func Load(v *viper.Viper, fs *pflag.FlagSet) (*Config, error) {
	d := DefaultConfig()
	v.SetDefault("node_id", d.NodeID)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("key_file", d.KeyFile)
	v.SetDefault("rpc_addr", d.RPCAddr)
	v.SetDefault("rpc_auth_token", d.RPCAuthToken)
	v.SetDefault("rpc_ws_origins", d.RPCWSOrigins)
	v.SetDefault("block_interval", d.BlockInterval)
	v.SetDefault("max_block_txs", d.MaxBlockTxs)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("engine.nodes", d.Engine.Nodes)
	v.SetDefault("engine.interval", d.Engine.Interval)
	v.SetDefault("engine.key_file", d.Engine.KeyFile)
	v.SetDefault("genesis.chain_id", d.Genesis.ChainID)
	v.SetDefault("genesis.engine", d.Genesis.Engine)

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
		if f := fs.Lookup("config"); f != nil {
			if err := v.BindPFlag("config", f); err != nil {
				return nil, fmt.Errorf("bind flag config: %w", err)
			}
		}
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
