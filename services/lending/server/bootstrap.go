package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"vaultledger/config"
	ledger "vaultledger/native/lending"
)

// Bootstrap brings a ledger in line with the market config. Vaults missing
// from state are registered, existing ones get their rate model reinstalled
// and every configured LTV pair is written. Faucet allocations are credited
// only when the ledger held no vaults beforehand, so restarts never mint
// twice.
func Bootstrap(ctx context.Context, engine *ledger.Engine, market *config.Market, logger *slog.Logger) error {
	if engine == nil || market == nil {
		return errors.New("bootstrap: engine and market required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	existing, err := engine.Vaults(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: list vaults: %w", err)
	}
	fresh := len(existing) == 0

	for _, vault := range market.Vaults {
		err := engine.RegisterVault(ctx, vault.Config)
		switch {
		case err == nil:
			logger.Info("vault registered",
				slog.String("vault", vault.Name),
				slog.String("address", vault.Config.Address.Hex()),
			)
		case errors.Is(err, ledger.ErrVaultExists):
			// Rate models live in memory only.
			engine.SetRateModel(vault.Config.Address, vault.Config.RateModel)
		default:
			return fmt.Errorf("bootstrap: register vault %s: %w", vault.Name, err)
		}
	}
	for _, ltv := range market.LTVs {
		if err := engine.SetLTV(ctx, ltv); err != nil {
			return fmt.Errorf("bootstrap: ltv %s/%s: %w", ltv.Liability.Hex(), ltv.Collateral.Hex(), err)
		}
	}
	if !fresh {
		logger.Info("ledger resumed", slog.Int("vaults", len(existing)))
		return nil
	}
	for _, alloc := range market.Allocations {
		if err := engine.Fund(ctx, alloc.Asset, alloc.Account, alloc.Amount); err != nil {
			return fmt.Errorf("bootstrap: fund %s: %w", alloc.Account.Hex(), err)
		}
	}
	logger.Info("ledger initialised",
		slog.Int("vaults", len(market.Vaults)),
		slog.Int("ltv_pairs", len(market.LTVs)),
		slog.Int("allocations", len(market.Allocations)),
	)
	return nil
}
