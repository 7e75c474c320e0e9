package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the market definition loaded at startup: engine limits, assets,
// vaults, LTV pairs, pauses and bootstrap token allocations.
type Config struct {
	Engine Engine       `toml:"engine"`
	Oracle Oracle       `toml:"oracle"`
	Assets []Asset      `toml:"assets"`
	Vaults []Vault      `toml:"vaults"`
	LTVs   []LTV        `toml:"ltv"`
	Pauses Pauses       `toml:"pauses"`
	Faucet []Allocation `toml:"faucet"`
}

// Load reads the market configuration from path, writing the default market
// there first when the file does not exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: %s: unknown key %s", path, undecoded[0].String())
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a two-asset market quoted in USD with six decimals.
func Default() *Config {
	return &Config{
		Engine: Engine{UnitOfAccount: "USD"},
		Oracle: Oracle{MaxAgeSeconds: 3_600, MaxDeviationBps: 1_000},
		Assets: []Asset{
			{Symbol: "USDC", Decimals: 6, Price: "1000000"},
			{Symbol: "WETH", Decimals: 18, Price: "2000000000", SpreadBps: 20},
		},
		Vaults: []Vault{
			{
				Name:           "eUSDC",
				Asset:          "USDC",
				InterestFeeBps: 1_000,
				FeeReceiver:    "treasury",
				RateModel:      RateModel{Kind: RateModelKink, BaseRate: 0.02, Slope1: 0.1, Slope2: 1.0, Kink: 0.8},
			},
			{
				Name:           "eWETH",
				Asset:          "WETH",
				InterestFeeBps: 1_000,
				FeeReceiver:    "treasury",
				RateModel:      RateModel{Kind: RateModelKink, BaseRate: 0.01, Slope1: 0.05, Slope2: 0.8, Kink: 0.9},
			},
		},
		LTVs: []LTV{
			{Liability: "eUSDC", Collateral: "eWETH", BorrowLTVBps: 7_500, LiquidationLTVBps: 8_500},
			{Liability: "eWETH", Collateral: "eUSDC", BorrowLTVBps: 8_000, LiquidationLTVBps: 9_000},
		},
		Faucet: []Allocation{
			{Account: "alice", Asset: "USDC", Amount: "10000000000"},
			{Account: "bob", Asset: "WETH", Amount: "5000000000000000000"},
		},
	}
}

// createDefault creates and saves the default market.
func createDefault(path string) (*Config, error) {
	cfg := Default()
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
