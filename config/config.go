package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config describes a DSC engine deployment: where the ledger lives, the
// collateral registry and the economic parameters.
type Config struct {
	DataDir    string       `toml:"DataDir"`
	EthRPC     string       `toml:"EthRPC"`
	Stable     string       `toml:"Stable"`
	Custody    string       `toml:"Custody"`
	Params     Params       `toml:"params"`
	Collateral []Collateral `toml:"collateral"`
	Allocation []Allocation `toml:"allocation"`
	Pauses     Pauses       `toml:"pauses"`
}

// Load loads the configuration from the given path. A missing file is
// replaced with a default local deployment backed by static prices.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := ValidateConfig(*cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./dsc-data"
	}
	d := DefaultParams()
	if c.Params.LiquidationThreshold == 0 {
		c.Params.LiquidationThreshold = d.LiquidationThreshold
	}
	if c.Params.LiquidationBonus == 0 {
		c.Params.LiquidationBonus = d.LiquidationBonus
	}
	if strings.TrimSpace(c.Params.MinHealthFactor) == "" {
		c.Params.MinHealthFactor = d.MinHealthFactor
	}
	if c.Params.StalenessTimeoutSeconds == 0 {
		c.Params.StalenessTimeoutSeconds = d.StalenessTimeoutSeconds
	}
	if c.Params.FeedDecimals == 0 {
		c.Params.FeedDecimals = d.FeedDecimals
	}
	for i := range c.Collateral {
		c.Collateral[i].Symbol = strings.ToUpper(strings.TrimSpace(c.Collateral[i].Symbol))
	}
	for i := range c.Allocation {
		c.Allocation[i].Symbol = strings.ToUpper(strings.TrimSpace(c.Allocation[i].Symbol))
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		DataDir: "./dsc-data",
		Stable:  "0x00000000000000000000000000000000000d5c00",
		Custody: "0x00000000000000000000000000000000000c0570",
		Params:  DefaultParams(),
		Collateral: []Collateral{
			{Symbol: "WETH", Token: "0x00000000000000000000000000000000000e7400", StaticPrice: "2000"},
			{Symbol: "WBTC", Token: "0x00000000000000000000000000000000000b7c00", StaticPrice: "60000"},
		},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
