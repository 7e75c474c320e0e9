package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const bpsScale = 10_000

// ValidateConfig checks the market for internal consistency before any of it
// is applied to the ledger.
func ValidateConfig(c *Config) error {
	if c == nil {
		return errors.New("config missing")
	}
	if strings.TrimSpace(c.Engine.UnitOfAccount) == "" {
		return errors.New("engine: UnitOfAccount required")
	}
	if c.Engine.MaxLiquidationDiscountBps >= bpsScale {
		return errors.New("engine: MaxLiquidationDiscountBps must be below 10000")
	}
	if c.Engine.MaxCollaterals < 0 || c.Engine.MaxBatchSize < 0 {
		return errors.New("engine: limits must not be negative")
	}
	if !finiteNonNegative(c.Engine.MaxInterestAPR) {
		return errors.New("engine: MaxInterestAPR must be a non-negative number")
	}

	assets := make(map[string]Asset, len(c.Assets))
	for i, asset := range c.Assets {
		symbol := strings.TrimSpace(asset.Symbol)
		if symbol == "" {
			return fmt.Errorf("assets[%d]: Symbol required", i)
		}
		if _, dup := assets[symbol]; dup {
			return fmt.Errorf("assets[%d]: duplicate symbol %s", i, symbol)
		}
		if asset.SpreadBps >= bpsScale {
			return fmt.Errorf("asset %s: SpreadBps must be below 10000", symbol)
		}
		if asset.Price != "" {
			if _, err := parseAmount(asset.Price); err != nil {
				return fmt.Errorf("asset %s: Price: %w", symbol, err)
			}
		}
		if asset.Reference != "" {
			if _, err := parseAmount(asset.Reference); err != nil {
				return fmt.Errorf("asset %s: Reference: %w", symbol, err)
			}
		}
		assets[symbol] = asset
	}

	vaults := make(map[string]struct{}, len(c.Vaults))
	for i, vault := range c.Vaults {
		name := strings.TrimSpace(vault.Name)
		if name == "" {
			return fmt.Errorf("vaults[%d]: Name required", i)
		}
		if _, dup := vaults[name]; dup {
			return fmt.Errorf("vaults[%d]: duplicate name %s", i, name)
		}
		if _, clash := assets[name]; clash {
			return fmt.Errorf("vault %s: name clashes with an asset symbol", name)
		}
		asset, ok := assets[strings.TrimSpace(vault.Asset)]
		if !ok {
			return fmt.Errorf("vault %s: unknown asset %q", name, vault.Asset)
		}
		if asset.Decimals > 18 {
			return fmt.Errorf("vault %s: asset decimals exceed 18", name)
		}
		if vault.InterestFeeBps > bpsScale {
			return fmt.Errorf("vault %s: InterestFeeBps exceeds 10000", name)
		}
		for field, raw := range map[string]string{"SupplyCap": vault.SupplyCap, "BorrowCap": vault.BorrowCap} {
			if raw == "" {
				continue
			}
			if _, err := parseAmount(raw); err != nil {
				return fmt.Errorf("vault %s: %s: %w", name, field, err)
			}
		}
		if err := validateRateModel(vault.RateModel); err != nil {
			return fmt.Errorf("vault %s: %w", name, err)
		}
		vaults[name] = struct{}{}
	}

	pairs := make(map[[2]string]struct{}, len(c.LTVs))
	for i, ltv := range c.LTVs {
		liability, collateral := strings.TrimSpace(ltv.Liability), strings.TrimSpace(ltv.Collateral)
		if _, ok := vaults[liability]; !ok {
			return fmt.Errorf("ltv[%d]: unknown liability vault %q", i, ltv.Liability)
		}
		if _, ok := vaults[collateral]; !ok {
			return fmt.Errorf("ltv[%d]: unknown collateral vault %q", i, ltv.Collateral)
		}
		if liability == collateral {
			return fmt.Errorf("ltv[%d]: collateral cannot be the liability vault", i)
		}
		if ltv.LiquidationLTVBps > bpsScale || ltv.BorrowLTVBps > ltv.LiquidationLTVBps {
			return fmt.Errorf("ltv[%d]: require BorrowLTVBps <= LiquidationLTVBps <= 10000", i)
		}
		key := [2]string{liability, collateral}
		if _, dup := pairs[key]; dup {
			return fmt.Errorf("ltv[%d]: duplicate pair %s/%s", i, liability, collateral)
		}
		pairs[key] = struct{}{}
	}

	for i, alloc := range c.Faucet {
		if strings.TrimSpace(alloc.Account) == "" {
			return fmt.Errorf("faucet[%d]: Account required", i)
		}
		if _, ok := assets[strings.TrimSpace(alloc.Asset)]; !ok {
			return fmt.Errorf("faucet[%d]: unknown asset %q", i, alloc.Asset)
		}
		if _, err := parseAmount(alloc.Amount); err != nil {
			return fmt.Errorf("faucet[%d]: Amount: %w", i, err)
		}
	}
	return nil
}

func validateRateModel(m RateModel) error {
	switch strings.ToLower(strings.TrimSpace(m.Kind)) {
	case "":
		return nil
	case RateModelZero:
		return nil
	case RateModelFixed:
		if !finiteNonNegative(m.APR) {
			return errors.New("RateModel: APR must be a non-negative number")
		}
		return nil
	case RateModelKink:
		for _, v := range []float64{m.BaseRate, m.Slope1, m.Slope2, m.Kink} {
			if !finiteNonNegative(v) {
				return errors.New("RateModel: kink parameters must be non-negative numbers")
			}
		}
		if m.Kink > 1 {
			return errors.New("RateModel: Kink must be at most 1")
		}
		return nil
	default:
		return fmt.Errorf("RateModel: unknown kind %q", m.Kind)
	}
}

func finiteNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
