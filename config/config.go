package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Allocation seeds a balance at first boot. Token defaults to the native
// currency when empty.
type Allocation struct {
	Address string `toml:"address"`
	Token   string `toml:"token"`
	Amount  string `toml:"amount"`
}

// Config is the node daemon's TOML configuration.
type Config struct {
	ListenRPC   string       `toml:"listen_rpc"`
	DataDir     string       `toml:"data_dir"`
	RPCToken    string       `toml:"rpc_token"`
	Environment string       `toml:"environment"`
	Tokens      []string     `toml:"tokens"`
	Allocations []Allocation `toml:"alloc"`
	MetricsAddr string       `toml:"metrics_addr"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		ListenRPC:   ":8645",
		DataDir:     "./ridmint-data",
		Environment: "dev",
		Tokens:      []string{"RUSD"},
		MetricsAddr: ":9464",
	}
}

// Load reads the TOML file at path, layering it over the defaults. The RPC
// token may be overridden through RIDMINT_RPC_TOKEN.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	if token := strings.TrimSpace(os.Getenv("RIDMINT_RPC_TOKEN")); token != "" {
		cfg.RPCToken = token
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for obvious mistakes.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenRPC) == "" {
		return fmt.Errorf("config: listen_rpc is required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	for i, alloc := range c.Allocations {
		if strings.TrimSpace(alloc.Address) == "" {
			return fmt.Errorf("config: alloc[%d] address is required", i)
		}
		if strings.TrimSpace(alloc.Amount) == "" {
			return fmt.Errorf("config: alloc[%d] amount is required", i)
		}
	}
	return nil
}
