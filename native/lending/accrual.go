package lending

import (
	"context"

	"github.com/holiman/uint256"
)

// accrue compounds the vault's interest accumulator up to now and mints the
// interest fee as shares. A failing rate model aborts the caller's operation.
// With nothing borrowed the accumulator stays put and only the timestamp and
// rate move. If compounding would overflow, the accumulator and borrows stay
// as they are, so the accumulator never decreases.
func (e *Engine) accrue(ctx context.Context, v *Vault, now uint64) error {
	if now <= v.LastUpdated {
		return nil
	}
	elapsed := now - v.LastUpdated

	rate, err := e.rateModel(v.Address).ComputeRate(ctx, v.Address, cloneInt(v.Cash), owedToAssetsUp(v.TotalBorrows))
	if err != nil {
		return err
	}
	if rate == nil {
		rate = zero()
	}
	if rate.Gt(e.params.MaxInterestRate) {
		rate = cloneInt(e.params.MaxInterestRate)
	}
	v.InterestRate = rate
	v.LastUpdated = now
	if rate.IsZero() || v.TotalBorrows.IsZero() {
		return nil
	}

	base := new(uint256.Int).Add(ray, rate)
	multiplier, overflow := rpow(base, elapsed, ray)
	if overflow {
		return nil
	}
	accumulator, err := mulDivDown(v.InterestAccumulator, multiplier, ray)
	if err != nil {
		return nil
	}
	borrows, err := mulDivDown(v.TotalBorrows, accumulator, v.InterestAccumulator)
	if err != nil {
		return nil
	}

	interest := saturatingSub(borrows, v.TotalBorrows)
	v.InterestAccumulator = accumulator
	v.TotalBorrows = borrows
	return mintInterestFee(v, interest)
}

// mintInterestFee dilutes depositors by exactly the fee share of the new
// interest: the minted shares are worth feeAssets at the post-accrual price.
func mintInterestFee(v *Vault, interestOwed *uint256.Int) error {
	if v.InterestFeeBps == 0 || interestOwed.IsZero() {
		return nil
	}
	feeOwed, err := applyBps(interestOwed, v.InterestFeeBps)
	if err != nil {
		return err
	}
	feeAssets := new(uint256.Int).Rsh(feeOwed, internalDebtShift)
	if feeAssets.IsZero() {
		return nil
	}
	assets := new(uint256.Int).Add(totalAssets(v), virtual)
	if !assets.Gt(feeAssets) {
		return nil
	}
	assets.Sub(assets, feeAssets)
	supply := new(uint256.Int).Add(v.TotalShares, virtual)
	feeShares, err := mulDivDown(feeAssets, supply, assets)
	if err != nil {
		return err
	}
	v.TotalShares.Add(v.TotalShares, feeShares)
	v.AccumulatedFees.Add(v.AccumulatedFees, feeShares)
	return nil
}
