package lending

import (
	"github.com/holiman/uint256"

	"vaultledger/crypto"
)

// Vault captures the accounting state of a single-asset lending vault. Debt
// totals are stored in extended precision (assets shifted left by 31 bits).
type Vault struct {
	// Address identifies the vault and its share token.
	Address crypto.Address
	// Asset is the underlying token deposited and borrowed.
	Asset crypto.Address
	// Decimals of the underlying asset, at most 18.
	Decimals uint8
	// TotalShares includes accumulated fee shares not yet converted.
	TotalShares *uint256.Int
	// Cash is the un-borrowed asset balance tracked internally, so direct
	// token donations never move the exchange rate.
	Cash *uint256.Int
	// TotalBorrows is the exact outstanding debt across all accounts.
	TotalBorrows *uint256.Int
	// InterestAccumulator compounds from 1e27 and never decreases.
	InterestAccumulator *uint256.Int
	// InterestRate is the per-second ray rate applied on the last accrual.
	InterestRate *uint256.Int
	// LastUpdated is the unix timestamp of the last accrual.
	LastUpdated uint64
	// AccumulatedFees are fee shares minted by accrual and awaiting
	// conversion to the fee receiver.
	AccumulatedFees *uint256.Int
	// InterestFeeBps is the fraction of accrued interest retained as fees.
	InterestFeeBps uint64
	FeeReceiver    crypto.Address
	// SupplyCap and BorrowCap are expressed in assets. Zero disables a cap.
	SupplyCap *uint256.Int
	BorrowCap *uint256.Int
}

// Position is an account's share balance and debt record in one vault.
type Position struct {
	Vault   crypto.Address
	Account crypto.Address
	Shares  *uint256.Int
	// Owed is extended-precision debt as of InterestAccumulator.
	Owed                *uint256.Int
	InterestAccumulator *uint256.Int
}

// AccountSets tracks the vaults an account has enabled as collateral and as
// controllers, in insertion order.
type AccountSets struct {
	Account     crypto.Address
	Collaterals []crypto.Address
	Controllers []crypto.Address
}

// LTVConfig is the borrowing power a collateral vault grants against a
// liability vault. Both factors are basis points.
type LTVConfig struct {
	Liability         crypto.Address
	Collateral        crypto.Address
	BorrowLTVBps      uint64
	LiquidationLTVBps uint64
}

// Clone returns a deep copy of the vault.
func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	clone := *v
	clone.TotalShares = cloneInt(v.TotalShares)
	clone.Cash = cloneInt(v.Cash)
	clone.TotalBorrows = cloneInt(v.TotalBorrows)
	clone.InterestAccumulator = cloneInt(v.InterestAccumulator)
	clone.InterestRate = cloneInt(v.InterestRate)
	clone.AccumulatedFees = cloneInt(v.AccumulatedFees)
	clone.SupplyCap = cloneInt(v.SupplyCap)
	clone.BorrowCap = cloneInt(v.BorrowCap)
	return &clone
}

// ensureDefaults populates nil amounts so arithmetic and RLP handling is safe.
func (v *Vault) ensureDefaults() {
	for _, field := range []**uint256.Int{&v.TotalShares, &v.Cash, &v.TotalBorrows, &v.InterestRate, &v.AccumulatedFees, &v.SupplyCap, &v.BorrowCap} {
		if *field == nil {
			*field = new(uint256.Int)
		}
	}
	if v.InterestAccumulator == nil || v.InterestAccumulator.IsZero() {
		v.InterestAccumulator = new(uint256.Int).Set(ray)
	}
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	return &Position{
		Vault:               p.Vault,
		Account:             p.Account,
		Shares:              cloneInt(p.Shares),
		Owed:                cloneInt(p.Owed),
		InterestAccumulator: cloneInt(p.InterestAccumulator),
	}
}

// Clone returns a deep copy of the account sets.
func (s *AccountSets) Clone() *AccountSets {
	if s == nil {
		return nil
	}
	return &AccountSets{
		Account:     s.Account,
		Collaterals: append([]crypto.Address(nil), s.Collaterals...),
		Controllers: append([]crypto.Address(nil), s.Controllers...),
	}
}

// Clone returns a copy of the LTV configuration.
func (l *LTVConfig) Clone() *LTVConfig {
	if l == nil {
		return nil
	}
	clone := *l
	return &clone
}
