package lending

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	"vaultledger/crypto"
)

var vaultInterest = makeAddress(0x16)

// openInterestBorrow registers a 10% APR TST vault and opens a 1 TST loan
// against 10 TST2 at genesis.
func openInterestBorrow(t *testing.T, f *fixture, feeBps uint64) {
	t.Helper()
	err := f.engine.RegisterVault(f.ctx, VaultConfig{
		Address:        vaultInterest,
		Asset:          assetTST,
		Decimals:       18,
		InterestFeeBps: feeBps,
		FeeReceiver:    feeReceiver,
		RateModel:      &FixedRate{Rate: RateFromAPR(big.NewRat(1, 10))},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	f.setLTV(t, vaultInterest, vaultTST2, 3_000, 3_000)
	f.deposit(t, wallet, vaultInterest, units(10))
	f.deposit(t, wallet2, vaultTST2, units(10))
	_, err = f.engine.Execute(f.ctx, wallet2, []Operation{
		{Kind: OpEnableCollateral, Vault: vaultTST2},
		{Kind: OpEnableController, Vault: vaultInterest},
		{Kind: OpBorrow, Vault: vaultInterest, Amount: units(1)},
	})
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
}

func TestRateFromAPR(t *testing.T) {
	rate := RateFromAPR(big.NewRat(1, 10))
	expectAmount(t, "10% rate", rate, dec("3170979198376458650"))
	if !RateFromAPR(big.NewRat(-1, 10)).IsZero() || !RateFromAPR(nil).IsZero() {
		t.Fatal("non-positive APR should yield a zero rate")
	}
}

func TestCompoundingOverOneYear(t *testing.T) {
	f := newFixture(t)
	openInterestBorrow(t, f, 0)
	f.advance(secondsPerYear)

	acc, err := f.engine.InterestAccumulator(f.ctx, vaultInterest)
	if err != nil {
		t.Fatalf("accumulator: %v", err)
	}
	expectAmount(t, "accumulator", acc, dec("1105170917900423925599112509"))

	debt := f.debt(t, vaultInterest, wallet2)
	expectAmount(t, "debt", debt, dec("1105170917900423926"))
	// Per-second compounding stays within 1e-9 of continuous e^0.1.
	continuous := dec("1105170918075647624")
	diff := new(uint256.Int).Sub(continuous, debt)
	if diff.Gt(uint256.NewInt(1_105_170_918)) {
		t.Fatalf("debt %s too far from e^0.1", debt.Dec())
	}

	rate, err := f.engine.InterestRate(f.ctx, vaultInterest)
	if err != nil {
		t.Fatalf("interest rate: %v", err)
	}
	expectAmount(t, "rate", rate, dec("3170979198376458650"))

	total, err := f.engine.TotalBorrows(f.ctx, vaultInterest)
	if err != nil {
		t.Fatalf("total borrows: %v", err)
	}
	expectAmount(t, "total borrows", total, debt)
}

func TestSupplyAPRFollowsAccruedRate(t *testing.T) {
	f := newFixture(t)
	openInterestBorrow(t, f, 1_000)

	// No accrual has stored a rate yet.
	supply, err := f.engine.SupplyAPR(f.ctx, vaultInterest)
	if err != nil {
		t.Fatalf("supply apr: %v", err)
	}
	if supply.Sign() != 0 {
		t.Fatalf("expected zero supply APR before accrual, got %s", supply.FloatString(6))
	}

	f.advance(secondsPerYear)
	if err := f.engine.Touch(f.ctx, wallet3, vaultInterest); err != nil {
		t.Fatalf("touch: %v", err)
	}
	borrowAPR, _ := APRFromRate(f.state.vaults[vaultInterest].InterestRate).Float64()
	if borrowAPR < 0.0999 || borrowAPR > 0.1 {
		t.Fatalf("unexpected borrow APR %f", borrowAPR)
	}
	supply, err = f.engine.SupplyAPR(f.ctx, vaultInterest)
	if err != nil {
		t.Fatalf("supply apr: %v", err)
	}
	// 10% on roughly 1.105 of 10.105 utilised, 10% of it kept as fees.
	got, _ := supply.Float64()
	if got < 0.00980 || got > 0.00990 {
		t.Fatalf("unexpected supply APR %f", got)
	}
}

func TestAccumulatorIsMonotone(t *testing.T) {
	f := newFixture(t)
	openInterestBorrow(t, f, 0)

	prev := new(uint256.Int).Set(ray)
	for _, step := range []uint64{1, 59, 3_600, 86_400, 0, 7 * 86_400} {
		f.advance(step)
		if err := f.engine.Touch(f.ctx, wallet3, vaultInterest); err != nil {
			t.Fatalf("touch: %v", err)
		}
		acc, err := f.engine.InterestAccumulator(f.ctx, vaultInterest)
		if err != nil {
			t.Fatalf("accumulator: %v", err)
		}
		if step == 0 && !acc.Eq(prev) {
			t.Fatalf("accumulator moved without elapsed time: %s to %s", prev.Dec(), acc.Dec())
		}
		if step > 0 && !acc.Gt(prev) {
			t.Fatalf("accumulator did not grow over %ds: %s to %s", step, prev.Dec(), acc.Dec())
		}
		prev = acc
	}
	stored := f.state.vaults[vaultInterest]
	if stored.LastUpdated != f.engine.timestamp() || !stored.InterestAccumulator.Eq(prev) {
		t.Fatalf("touch did not persist accrual: %+v", stored)
	}
}

func TestAccumulatorIdleWithoutBorrows(t *testing.T) {
	f := newFixture(t)
	idle := makeAddress(0x17)
	err := f.engine.RegisterVault(f.ctx, VaultConfig{Address: idle, Asset: assetTST, Decimals: 18})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	f.deposit(t, wallet, idle, units(10))
	f.advance(secondsPerYear)
	if err := f.engine.Touch(f.ctx, wallet3, idle); err != nil {
		t.Fatalf("touch: %v", err)
	}

	v := f.state.vaults[idle]
	expectAmount(t, "accumulator", v.InterestAccumulator, ray)
	expectAmount(t, "total borrows", v.TotalBorrows, zero())
	expectAmount(t, "base rate", v.InterestRate, RateFromAPR(DefaultInterestModel.BaseRate))
	if v.LastUpdated != f.engine.timestamp() {
		t.Fatalf("touch did not advance last update: %d", v.LastUpdated)
	}
	total, err := f.engine.TotalAssets(f.ctx, idle)
	if err != nil {
		t.Fatalf("total assets: %v", err)
	}
	expectAmount(t, "total assets", total, units(10))
}

func TestAccumulatorOverflowLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	openInterestBorrow(t, f, 0)
	f.engine.SetRateModel(vaultInterest, &FixedRate{Rate: MaxAmount})

	f.advance(100 * secondsPerYear)
	if err := f.engine.Touch(f.ctx, wallet3, vaultInterest); err != nil {
		t.Fatalf("touch: %v", err)
	}
	v := f.state.vaults[vaultInterest]
	expectAmount(t, "clamped rate", v.InterestRate, DefaultMaxInterestRate)
	expectAmount(t, "accumulator", v.InterestAccumulator, ray)
	expectAmount(t, "debt", f.debt(t, vaultInterest, wallet2), units(1))
}

func TestInterestFeeMintsShares(t *testing.T) {
	f := newFixture(t)
	openInterestBorrow(t, f, 1_000)
	f.advance(secondsPerYear)

	fees, err := f.engine.AccumulatedFees(f.ctx, vaultInterest)
	if err != nil {
		t.Fatalf("accumulated fees: %v", err)
	}
	expectAmount(t, "fee shares", fees, dec("10418476919772485"))
	feeAssets, err := f.engine.AccumulatedFeesAssets(f.ctx, vaultInterest)
	if err != nil {
		t.Fatalf("accumulated fee assets: %v", err)
	}
	expectAmount(t, "fee assets", feeAssets, dec("10517091790042391"))
	supplyBefore, err := f.engine.TotalSupply(f.ctx, vaultInterest)
	if err != nil {
		t.Fatalf("total supply: %v", err)
	}

	converted, err := f.engine.ConvertFees(f.ctx, wallet3, vaultInterest)
	if err != nil {
		t.Fatalf("convert fees: %v", err)
	}
	expectAmount(t, "converted", converted, fees)
	expectAmount(t, "receiver shares", f.shares(t, vaultInterest, feeReceiver), fees)
	left, err := f.engine.AccumulatedFees(f.ctx, vaultInterest)
	if err != nil {
		t.Fatalf("accumulated fees: %v", err)
	}
	expectAmount(t, "fees left", left, zero())
	supplyAfter, err := f.engine.TotalSupply(f.ctx, vaultInterest)
	if err != nil {
		t.Fatalf("total supply: %v", err)
	}
	expectAmount(t, "supply", supplyAfter, supplyBefore)

	converted, err = f.engine.ConvertFees(f.ctx, wallet3, vaultInterest)
	if err != nil || !converted.IsZero() {
		t.Fatalf("second conversion: %v %v", converted, err)
	}
}

func TestRepayAfterInterestAndDustSweep(t *testing.T) {
	f := newFixture(t)
	openInterestBorrow(t, f, 0)
	f.advance(secondsPerYear)

	_, err := f.engine.Deposit(f.ctx, wallet3, vaultInterest, uint256.NewInt(1), wallet3)
	expectCode(t, err, ErrZeroShares)

	repaid, err := f.engine.Repay(f.ctx, wallet2, vaultInterest, MaxAmount, wallet2)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	expectAmount(t, "repaid", repaid, dec("1105170917900423926"))
	exact, err := f.engine.DebtOfExact(f.ctx, vaultInterest, wallet2)
	if err != nil {
		t.Fatalf("debt exact: %v", err)
	}
	expectAmount(t, "exact debt", exact, zero())
	borrows, err := f.engine.TotalBorrowsExact(f.ctx, vaultInterest)
	if err != nil {
		t.Fatalf("total borrows: %v", err)
	}
	expectAmount(t, "total borrows", borrows, zero())

	before := f.tokenBalance(t, assetTST, wallet)
	if _, err := f.engine.Redeem(f.ctx, wallet, vaultInterest, MaxAmount, wallet, wallet); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	cashBefore := dec("10105170917900423926")
	expectAmount(t, "payout", f.tokenBalance(t, assetTST, wallet), new(uint256.Int).Add(before, cashBefore))
	total, err := f.engine.TotalAssets(f.ctx, vaultInterest)
	if err != nil {
		t.Fatalf("total assets: %v", err)
	}
	expectAmount(t, "total assets", total, zero())
}

type failingModel struct{}

var errModelDown = errors.New("rate model unavailable")

func (failingModel) ComputeRate(context.Context, crypto.Address, *uint256.Int, *uint256.Int) (*uint256.Int, error) {
	return nil, errModelDown
}

func TestRateModelFailureAbortsCall(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, wallet, vaultTST, units(1))
	f.engine.SetRateModel(vaultTST, failingModel{})

	// Accrual is skipped while no time has passed.
	f.deposit(t, wallet, vaultTST, units(1))

	f.advance(1)
	_, err := f.engine.Deposit(f.ctx, wallet, vaultTST, units(1), wallet)
	if !errors.Is(err, errModelDown) {
		t.Fatalf("expected rate model error, got %v", err)
	}
	expectAmount(t, "balance", f.state.positions[pairKey{vaultTST, wallet}].Shares, units(2))
	_, err = f.engine.TotalAssets(f.ctx, vaultTST)
	if !errors.Is(err, errModelDown) {
		t.Fatalf("views should surface the rate model error, got %v", err)
	}
}
