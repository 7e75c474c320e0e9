package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"vaultledger/core/pricing"
	"vaultledger/crypto"
	ledger "vaultledger/native/lending"
)

// MarketAsset is a configured asset with its identifier resolved.
type MarketAsset struct {
	Symbol   string
	Address  crypto.Address
	Decimals uint8
	// Observation is nil when the config leaves the asset unpriced.
	Observation *pricing.Observation
}

// MarketVault pairs a vault's registration with its configured name.
type MarketVault struct {
	Name   string
	Config ledger.VaultConfig
}

// MarketAllocation is a faucet allocation resolved to ledger identifiers.
type MarketAllocation struct {
	Account crypto.Address
	Asset   crypto.Address
	Amount  *uint256.Int
}

// Market is the configuration resolved into ledger values.
type Market struct {
	Params      ledger.Params
	Guard       pricing.Guard
	Assets      []MarketAsset
	Vaults      []MarketVault
	LTVs        []ledger.LTVConfig
	Pauses      ledger.ActionPauses
	Allocations []MarketAllocation
}

// Market validates the config, then resolves symbolic names into addresses
// and parses every amount.
func (c *Config) Market() (*Market, error) {
	if err := ValidateConfig(c); err != nil {
		return nil, err
	}
	m := &Market{
		Guard: pricing.Guard{MaxAgeSeconds: c.Oracle.MaxAgeSeconds, MaxDeviationBps: c.Oracle.MaxDeviationBps},
		Pauses: ledger.ActionPauses{
			Deposit:   c.Pauses.Deposit,
			Withdraw:  c.Pauses.Withdraw,
			Transfer:  c.Pauses.Transfer,
			Borrow:    c.Pauses.Borrow,
			Repay:     c.Pauses.Repay,
			Liquidate: c.Pauses.Liquidate,
		},
	}

	assets := make(map[string]MarketAsset, len(c.Assets))
	for _, asset := range c.Assets {
		resolved, err := resolveAsset(asset)
		if err != nil {
			return nil, err
		}
		assets[resolved.Symbol] = resolved
		m.Assets = append(m.Assets, resolved)
	}

	unit := strings.TrimSpace(c.Engine.UnitOfAccount)
	if asset, ok := assets[unit]; ok {
		m.Params.UnitOfAccount = asset.Address
	} else {
		m.Params.UnitOfAccount = ResolveAddress("asset", unit)
	}
	m.Params.MaxCollaterals = c.Engine.MaxCollaterals
	m.Params.MaxLiquidationDiscountBps = c.Engine.MaxLiquidationDiscountBps
	m.Params.MaxBatchSize = c.Engine.MaxBatchSize
	if c.Engine.MaxInterestAPR > 0 {
		m.Params.MaxInterestRate = ledger.RateFromAPR(new(big.Rat).SetFloat64(c.Engine.MaxInterestAPR))
	}
	m.Params.EnsureDefaults()

	vaults := make(map[string]crypto.Address, len(c.Vaults))
	for _, vault := range c.Vaults {
		name := strings.TrimSpace(vault.Name)
		asset := assets[strings.TrimSpace(vault.Asset)]
		cfg := ledger.VaultConfig{
			Address:        addressOr(vault.Address, "vault", name),
			Asset:          asset.Address,
			Decimals:       asset.Decimals,
			InterestFeeBps: vault.InterestFeeBps,
			RateModel:      BuildRateModel(vault.RateModel),
		}
		if vault.FeeReceiver != "" {
			cfg.FeeReceiver = ResolveAddress("account", vault.FeeReceiver)
		}
		var err error
		if cfg.SupplyCap, err = optionalAmount(vault.SupplyCap); err != nil {
			return nil, fmt.Errorf("vault %s: SupplyCap: %w", name, err)
		}
		if cfg.BorrowCap, err = optionalAmount(vault.BorrowCap); err != nil {
			return nil, fmt.Errorf("vault %s: BorrowCap: %w", name, err)
		}
		vaults[name] = cfg.Address
		m.Vaults = append(m.Vaults, MarketVault{Name: name, Config: cfg})
	}

	for _, ltv := range c.LTVs {
		m.LTVs = append(m.LTVs, ledger.LTVConfig{
			Liability:         vaults[strings.TrimSpace(ltv.Liability)],
			Collateral:        vaults[strings.TrimSpace(ltv.Collateral)],
			BorrowLTVBps:      ltv.BorrowLTVBps,
			LiquidationLTVBps: ltv.LiquidationLTVBps,
		})
	}

	for _, alloc := range c.Faucet {
		amount, err := parseAmount(alloc.Amount)
		if err != nil {
			return nil, err
		}
		m.Allocations = append(m.Allocations, MarketAllocation{
			Account: ResolveAddress("account", alloc.Account),
			Asset:   assets[strings.TrimSpace(alloc.Asset)].Address,
			Amount:  amount,
		})
	}
	return m, nil
}

// NewFeed builds a price feed seeded with every priced asset.
func (m *Market) NewFeed() (*pricing.Feed, error) {
	feed := pricing.NewFeed(m.Params.UnitOfAccount, m.Guard)
	for _, asset := range m.Assets {
		if asset.Observation == nil {
			continue
		}
		if err := feed.SetObservation(asset.Address, *asset.Observation); err != nil {
			return nil, fmt.Errorf("asset %s: %w", asset.Symbol, err)
		}
	}
	return feed, nil
}

// Vault returns the named vault's address.
func (m *Market) Vault(name string) (crypto.Address, bool) {
	for _, vault := range m.Vaults {
		if vault.Name == name {
			return vault.Config.Address, true
		}
	}
	return crypto.Address{}, false
}

// Asset returns the asset with the given symbol.
func (m *Market) Asset(symbol string) (MarketAsset, bool) {
	for _, asset := range m.Assets {
		if asset.Symbol == symbol {
			return asset, true
		}
	}
	return MarketAsset{}, false
}

// BuildRateModel converts a configured curve into a ledger rate model. An
// empty kind yields nil, which the ledger treats as its default curve.
func BuildRateModel(m RateModel) ledger.RateModel {
	switch strings.ToLower(strings.TrimSpace(m.Kind)) {
	case RateModelZero:
		return ledger.ZeroRate
	case RateModelFixed:
		return ledger.NewFixedAPR(m.APR)
	case RateModelKink:
		return ledger.NewInterestModel(m.BaseRate, m.Slope1, m.Slope2, m.Kink)
	default:
		return nil
	}
}

// ResolveAddress parses value as a hex or bech32 address, falling back to
// the identifier derived from "kind/value".
func ResolveAddress(kind, value string) crypto.Address {
	value = strings.TrimSpace(value)
	if addr, err := crypto.ParseAddress(value); err == nil {
		return addr
	}
	return crypto.DeriveAddress(kind + "/" + value)
}

func addressOr(explicit, kind, label string) crypto.Address {
	if strings.TrimSpace(explicit) != "" {
		return ResolveAddress(kind, explicit)
	}
	return crypto.DeriveAddress(kind + "/" + label)
}

func resolveAsset(asset Asset) (MarketAsset, error) {
	symbol := strings.TrimSpace(asset.Symbol)
	resolved := MarketAsset{
		Symbol:   symbol,
		Address:  addressOr(asset.Address, "asset", symbol),
		Decimals: asset.Decimals,
	}
	if asset.Price == "" {
		return resolved, nil
	}
	price, err := parseAmount(asset.Price)
	if err != nil {
		return MarketAsset{}, fmt.Errorf("asset %s: Price: %w", symbol, err)
	}
	reference, err := optionalAmount(asset.Reference)
	if err != nil {
		return MarketAsset{}, fmt.Errorf("asset %s: Reference: %w", symbol, err)
	}
	resolved.Observation = &pricing.Observation{
		Price:     price,
		Reference: reference,
		Decimals:  asset.Decimals,
		SpreadBps: asset.SpreadBps,
	}
	return resolved, nil
}

// parseAmount accepts a base-10 integer, optionally grouped with underscores.
func parseAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	value, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return value, nil
}

func optionalAmount(raw string) (*uint256.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return parseAmount(raw)
}
