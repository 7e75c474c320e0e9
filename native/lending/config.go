package lending

import (
	"github.com/holiman/uint256"

	"vaultledger/crypto"
)

// VaultConfig describes a vault at registration time.
type VaultConfig struct {
	Address        crypto.Address
	Asset          crypto.Address
	Decimals       uint8
	InterestFeeBps uint64
	FeeReceiver    crypto.Address
	SupplyCap      *uint256.Int
	BorrowCap      *uint256.Int
	// RateModel defaults to DefaultInterestModel when nil.
	RateModel RateModel
}

func (c VaultConfig) validate() error {
	if c.Address.IsZero() || c.Asset.IsZero() {
		return ErrBadAddress
	}
	if c.Decimals > 18 {
		return ErrTooManyDecimals
	}
	if c.InterestFeeBps > bpsScale {
		return ErrInvalidFee
	}
	return nil
}

func (c VaultConfig) vault(now uint64) *Vault {
	v := &Vault{
		Address:        c.Address,
		Asset:          c.Asset,
		Decimals:       c.Decimals,
		InterestFeeBps: c.InterestFeeBps,
		FeeReceiver:    c.FeeReceiver,
		SupplyCap:      cloneInt(c.SupplyCap),
		BorrowCap:      cloneInt(c.BorrowCap),
		LastUpdated:    now,
	}
	v.ensureDefaults()
	return v
}

func validateLTV(cfg LTVConfig) error {
	if cfg.Liability.IsZero() || cfg.Collateral.IsZero() {
		return ErrBadAddress
	}
	if cfg.Liability == cfg.Collateral {
		return ErrInvalidLTVAsset
	}
	if cfg.LiquidationLTVBps > bpsScale || cfg.BorrowLTVBps > cfg.LiquidationLTVBps {
		return ErrInvalidLTV
	}
	return nil
}
