package lending

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"vaultledger/crypto"
)

func TestBorrowUpToCollateralFactor(t *testing.T) {
	f := newFixture(t)
	f.openBorrow(t, dec("100000000000000000"))

	// 10 TST2 at a 0.3 factor supports exactly 3 TST of debt.
	overLimit := dec("2900000000000000001")
	_, err := f.engine.Borrow(f.ctx, wallet2, vaultTST, overLimit, wallet2)
	expectCode(t, err, ErrAccountLiquidity)
	expectAmount(t, "debt after failed borrow", f.debt(t, vaultTST, wallet2), dec("100000000000000000"))

	if _, err := f.engine.Borrow(f.ctx, wallet2, vaultTST, dec("2900000000000000000"), wallet2); err != nil {
		t.Fatalf("borrow to threshold: %v", err)
	}
	expectAmount(t, "debt", f.debt(t, vaultTST, wallet2), units(3))

	collateral, liability, err := f.engine.AccountLiquidity(f.ctx, wallet2, false)
	if err != nil {
		t.Fatalf("account liquidity: %v", err)
	}
	expectAmount(t, "collateral value", collateral, units(3))
	expectAmount(t, "liability value", liability, units(3))
	if err := f.engine.CheckAccountStatus(f.ctx, wallet2); err != nil {
		t.Fatalf("status at threshold: %v", err)
	}
}

func TestBorrowRequiresController(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, wallet, vaultTST, units(10))
	f.deposit(t, wallet2, vaultTST2, units(10))
	if err := f.engine.EnableCollateral(f.ctx, wallet2, wallet2, vaultTST2); err != nil {
		t.Fatalf("enable collateral: %v", err)
	}
	_, err := f.engine.Borrow(f.ctx, wallet2, vaultTST, units(1), wallet2)
	expectCode(t, err, ErrControllerDisabled)

	if err := f.engine.EnableController(f.ctx, wallet2, wallet2, vaultTST); err != nil {
		t.Fatalf("enable controller: %v", err)
	}
	_, err = f.engine.Borrow(f.ctx, wallet2, vaultTST, units(11), wallet2)
	expectCode(t, err, ErrInsufficientCash)
}

func TestBorrowWithoutCollateralFails(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, wallet, vaultTST, units(10))
	if err := f.engine.EnableController(f.ctx, wallet3, wallet3, vaultTST); err != nil {
		t.Fatalf("enable controller: %v", err)
	}
	_, err := f.engine.Borrow(f.ctx, wallet3, vaultTST, units(1), wallet3)
	expectCode(t, err, ErrAccountLiquidity)
}

func TestBorrowIsolation(t *testing.T) {
	f := newFixture(t)
	f.openBorrow(t, units(1))
	f.deposit(t, wallet3, vaultTST2, units(10))
	_, err := f.engine.Execute(f.ctx, wallet3, []Operation{
		{Kind: OpEnableCollateral, Vault: vaultTST2},
		{Kind: OpEnableController, Vault: vaultTST},
		{Kind: OpBorrow, Vault: vaultTST, Amount: units(2)},
	})
	if err != nil {
		t.Fatalf("wallet3 borrow: %v", err)
	}

	expectAmount(t, "wallet2 debt", f.debt(t, vaultTST, wallet2), units(1))
	expectAmount(t, "wallet3 debt", f.debt(t, vaultTST, wallet3), units(2))
	expectAmount(t, "wallet debt", f.debt(t, vaultTST, wallet), zero())
	expectAmount(t, "wallet2 TST3 debt", f.debt(t, vaultTST3, wallet2), zero())
	total, err := f.engine.TotalBorrows(f.ctx, vaultTST)
	if err != nil {
		t.Fatalf("total borrows: %v", err)
	}
	expectAmount(t, "total borrows", total, units(3))
}

func TestRepay(t *testing.T) {
	f := newFixture(t)
	f.openBorrow(t, units(2))

	_, err := f.engine.Repay(f.ctx, wallet2, vaultTST, new(uint256.Int).AddUint64(units(2), 1), wallet2)
	expectCode(t, err, ErrRepayTooMuch)

	// A third party may repay on the borrower's behalf.
	if _, err := f.engine.Repay(f.ctx, wallet3, vaultTST, units(1), wallet2); err != nil {
		t.Fatalf("repay on behalf: %v", err)
	}
	expectAmount(t, "debt", f.debt(t, vaultTST, wallet2), units(1))
	expectAmount(t, "payer tokens", f.tokenBalance(t, assetTST, wallet3), units(99))

	repaid, err := f.engine.Repay(f.ctx, wallet2, vaultTST, MaxAmount, wallet2)
	if err != nil {
		t.Fatalf("repay max: %v", err)
	}
	expectAmount(t, "repaid", repaid, units(1))
	expectAmount(t, "debt", f.debt(t, vaultTST, wallet2), zero())
	cash, err := f.engine.Cash(f.ctx, vaultTST)
	if err != nil {
		t.Fatalf("cash: %v", err)
	}
	expectAmount(t, "cash", cash, units(10))
}

func TestPullDebt(t *testing.T) {
	f := newFixture(t)
	f.openBorrow(t, units(2))
	f.deposit(t, wallet3, vaultTST2, units(10))

	_, err := f.engine.PullDebt(f.ctx, wallet3, vaultTST, units(1), wallet2)
	expectCode(t, err, ErrControllerDisabled)

	_, err = f.engine.Execute(f.ctx, wallet3, []Operation{
		{Kind: OpEnableCollateral, Vault: vaultTST2},
		{Kind: OpEnableController, Vault: vaultTST},
		{Kind: OpPullDebt, Vault: vaultTST, Amount: units(3), From: wallet2},
	})
	expectCode(t, err, ErrInsufficientDebt)

	_, err = f.engine.Execute(f.ctx, wallet3, []Operation{
		{Kind: OpEnableCollateral, Vault: vaultTST2},
		{Kind: OpEnableController, Vault: vaultTST},
		{Kind: OpPullDebt, Vault: vaultTST, Amount: MaxAmount, From: wallet2},
	})
	if err != nil {
		t.Fatalf("pull debt: %v", err)
	}
	expectAmount(t, "wallet2 debt", f.debt(t, vaultTST, wallet2), zero())
	expectAmount(t, "wallet3 debt", f.debt(t, vaultTST, wallet3), units(2))

	_, err = f.engine.PullDebt(f.ctx, wallet3, vaultTST, units(1), wallet3)
	expectCode(t, err, ErrSelfTransfer)
}

func TestDisableControllerRequiresZeroDebt(t *testing.T) {
	f := newFixture(t)
	f.openBorrow(t, units(1))

	err := f.engine.DisableController(f.ctx, wallet2, wallet2, vaultTST)
	expectCode(t, err, ErrOutstandingDebt)
	err = f.engine.DisableController(f.ctx, wallet3, wallet2, vaultTST)
	expectCode(t, err, ErrUnauthorized)

	if _, err := f.engine.Repay(f.ctx, wallet2, vaultTST, MaxAmount, wallet2); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if err := f.engine.DisableController(f.ctx, wallet2, wallet2, vaultTST); err != nil {
		t.Fatalf("disable controller: %v", err)
	}
	controllers, err := f.engine.Controllers(f.ctx, wallet2)
	if err != nil {
		t.Fatalf("controllers: %v", err)
	}
	if len(controllers) != 0 {
		t.Fatalf("expected no controllers, got %v", controllers)
	}
	_, _, err = f.engine.AccountLiquidity(f.ctx, wallet2, false)
	expectCode(t, err, ErrNoLiability)
}

func TestSecondControllerRejectedOutsideBatch(t *testing.T) {
	f := newFixture(t)
	f.openBorrow(t, units(1))

	err := f.engine.EnableController(f.ctx, wallet2, wallet2, vaultTST3)
	expectCode(t, err, ErrControllerViolation)
	controllers, err := f.engine.Controllers(f.ctx, wallet2)
	if err != nil {
		t.Fatalf("controllers: %v", err)
	}
	if len(controllers) != 1 || controllers[0] != vaultTST {
		t.Fatalf("unexpected controllers: %v", controllers)
	}

	// Re-enabling the current controller is a no-op.
	if err := f.engine.EnableController(f.ctx, wallet2, wallet2, vaultTST); err != nil {
		t.Fatalf("re-enable controller: %v", err)
	}
}

func TestCollateralSet(t *testing.T) {
	f := newFixture(t)
	f.engine.params.MaxCollaterals = 2

	for _, vault := range []crypto.Address{vaultTST2, vaultTST3, vaultTST2} {
		if err := f.engine.EnableCollateral(f.ctx, wallet, wallet, vault); err != nil {
			t.Fatalf("enable collateral: %v", err)
		}
	}
	err := f.engine.EnableCollateral(f.ctx, wallet, wallet, vaultTST)
	expectCode(t, err, ErrTooManyCollaterals)
	err = f.engine.EnableCollateral(f.ctx, wallet2, wallet, vaultTST)
	expectCode(t, err, ErrUnauthorized)
	err = f.engine.EnableCollateral(f.ctx, wallet, wallet, makeAddress(0x50))
	expectCode(t, err, ErrUnknownVault)

	if err := f.engine.DisableCollateral(f.ctx, wallet, wallet, vaultTST2); err != nil {
		t.Fatalf("disable collateral: %v", err)
	}
	collaterals, err := f.engine.Collaterals(f.ctx, wallet)
	if err != nil {
		t.Fatalf("collaterals: %v", err)
	}
	if len(collaterals) != 1 || collaterals[0] != vaultTST3 {
		t.Fatalf("unexpected collaterals: %v", collaterals)
	}
}

func TestDisableCollateralChecksAccount(t *testing.T) {
	f := newFixture(t)
	f.openBorrow(t, units(1))
	err := f.engine.DisableCollateral(f.ctx, wallet2, wallet2, vaultTST2)
	expectCode(t, err, ErrAccountLiquidity)
	collaterals, err := f.engine.Collaterals(f.ctx, wallet2)
	if err != nil {
		t.Fatalf("collaterals: %v", err)
	}
	if len(collaterals) != 1 {
		t.Fatalf("collateral removed despite failed check: %v", collaterals)
	}
}

func TestBidAskPricing(t *testing.T) {
	f := newFixture(t)
	f.openBorrow(t, units(2))
	f.oracle.spreadBps = 100

	collateral, liability, err := f.engine.AccountLiquidity(f.ctx, wallet2, false)
	if err != nil {
		t.Fatalf("account liquidity: %v", err)
	}
	expectAmount(t, "bid collateral", collateral, dec("2970000000000000000"))
	expectAmount(t, "ask liability", liability, dec("2020000000000000000"))

	collateral, liability, err = f.engine.AccountLiquidity(f.ctx, wallet2, true)
	if err != nil {
		t.Fatalf("liquidation liquidity: %v", err)
	}
	expectAmount(t, "mid collateral", collateral, units(3))
	expectAmount(t, "mid liability", liability, units(2))

	full, err := f.engine.AccountLiquidityFull(f.ctx, wallet2, true)
	if err != nil {
		t.Fatalf("account liquidity full: %v", err)
	}
	if full.Controller != vaultTST || len(full.Collaterals) != 1 || full.Collaterals[0].Vault != vaultTST2 {
		t.Fatalf("unexpected breakdown: %+v", full)
	}
	expectAmount(t, "debt", full.Debt, units(2))
}

func TestOracleErrorsPropagate(t *testing.T) {
	f := newFixture(t)
	f.openBorrow(t, units(1))
	f.oracle.err = errStaleFeed
	_, err := f.engine.Borrow(f.ctx, wallet2, vaultTST, units(1), wallet2)
	if !errors.Is(err, errStaleFeed) {
		t.Fatalf("expected oracle error, got %v", err)
	}
	if ErrorCode(err) != "" {
		t.Fatalf("collaborator error should carry no ledger code, got %s", ErrorCode(err))
	}
}

var errStaleFeed = errors.New("feed stale")

func TestLoopWithoutCollateralFails(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, wallet, vaultTST, units(10))
	if err := f.engine.EnableController(f.ctx, wallet3, wallet3, vaultTST); err != nil {
		t.Fatalf("enable controller: %v", err)
	}
	_, err := f.engine.Loop(f.ctx, wallet3, vaultTST, units(1), wallet3)
	expectCode(t, err, ErrAccountLiquidity)
	expectAmount(t, "shares", f.shares(t, vaultTST, wallet3), zero())
	expectAmount(t, "debt", f.debt(t, vaultTST, wallet3), zero())

	_, err = f.engine.Loop(f.ctx, wallet2, vaultTST, units(1), wallet2)
	expectCode(t, err, ErrControllerDisabled)
}

func TestLoopOnEmptyVaultAndDeloop(t *testing.T) {
	f := newFixture(t)
	f.setLTV(t, vaultTST3, vaultTST2, 5_000, 5_000)
	f.deposit(t, wallet, vaultTST2, units(10))
	_, err := f.engine.Execute(f.ctx, wallet, []Operation{
		{Kind: OpEnableCollateral, Vault: vaultTST2},
		{Kind: OpEnableController, Vault: vaultTST3},
	})
	if err != nil {
		t.Fatalf("enable: %v", err)
	}

	shares, err := f.engine.Loop(f.ctx, wallet, vaultTST3, units(1), wallet)
	if err != nil {
		t.Fatalf("loop: %v", err)
	}
	expectAmount(t, "minted", shares, units(1))
	expectAmount(t, "shares", f.shares(t, vaultTST3, wallet), units(1))
	expectAmount(t, "debt", f.debt(t, vaultTST3, wallet), units(1))
	cash, err := f.engine.Cash(f.ctx, vaultTST3)
	if err != nil {
		t.Fatalf("cash: %v", err)
	}
	expectAmount(t, "cash", cash, zero())
	expectAmount(t, "tokens", f.tokenBalance(t, assetTST, wallet), units(100))

	if _, err := f.engine.Deloop(f.ctx, wallet, vaultTST3, units(1), wallet); err != nil {
		t.Fatalf("deloop: %v", err)
	}
	expectAmount(t, "debt after deloop", f.debt(t, vaultTST3, wallet), zero())
	expectAmount(t, "shares after deloop", f.shares(t, vaultTST3, wallet), zero())

	f.deposit(t, wallet, vaultTST3, units(1))
	expectAmount(t, "deposited shares", f.shares(t, vaultTST3, wallet), units(1))
	supply, err := f.engine.TotalSupply(f.ctx, vaultTST3)
	if err != nil {
		t.Fatalf("total supply: %v", err)
	}
	expectAmount(t, "total supply", supply, units(1))
	borrows, err := f.engine.TotalBorrows(f.ctx, vaultTST3)
	if err != nil {
		t.Fatalf("total borrows: %v", err)
	}
	expectAmount(t, "total borrows", borrows, zero())
}

func TestDeloopMaxBurnsUpToDebt(t *testing.T) {
	f := newFixture(t)
	f.openBorrow(t, dec("500000000000000000"))

	// Nothing to burn.
	burned, err := f.engine.Deloop(f.ctx, wallet2, vaultTST, MaxAmount, wallet2)
	if err != nil {
		t.Fatalf("deloop without shares: %v", err)
	}
	expectAmount(t, "burned", burned, zero())
	expectAmount(t, "debt", f.debt(t, vaultTST, wallet2), dec("500000000000000000"))

	// Shares worth less than the debt are burned entirely.
	f.deposit(t, wallet2, vaultTST, dec("100000000000000000"))
	if _, err := f.engine.Deloop(f.ctx, wallet2, vaultTST, MaxAmount, wallet2); err != nil {
		t.Fatalf("partial deloop: %v", err)
	}
	expectAmount(t, "shares after partial", f.shares(t, vaultTST, wallet2), zero())
	debt := f.debt(t, vaultTST, wallet2)
	low, high := dec("400000000000000000"), dec("400000000000000002")
	if debt.Lt(low) || debt.Gt(high) {
		t.Fatalf("unexpected debt after partial deloop: %s", debt.Dec())
	}

	// Shares worth more than the debt only clear the debt.
	f.deposit(t, wallet2, vaultTST, units(1))
	if _, err := f.engine.Deloop(f.ctx, wallet2, vaultTST, MaxAmount, wallet2); err != nil {
		t.Fatalf("full deloop: %v", err)
	}
	expectAmount(t, "debt after full", f.debt(t, vaultTST, wallet2), zero())
	left, err := f.engine.MaxWithdraw(f.ctx, vaultTST, wallet2)
	if err != nil {
		t.Fatalf("max withdraw: %v", err)
	}
	if left.Lt(dec("599999999999999990")) || left.Gt(dec("600000000000000000")) {
		t.Fatalf("unexpected remaining assets %s", left.Dec())
	}

	burned, err = f.engine.Deloop(f.ctx, wallet2, vaultTST, MaxAmount, wallet2)
	if err != nil {
		t.Fatalf("deloop without debt: %v", err)
	}
	expectAmount(t, "burned without debt", burned, zero())
}

func TestDeloopRejectsOverpayment(t *testing.T) {
	f := newFixture(t)
	f.openBorrow(t, units(1))
	f.deposit(t, wallet2, vaultTST, units(5))

	burned, err := f.engine.Deloop(f.ctx, wallet2, vaultTST, zero(), wallet2)
	if err != nil {
		t.Fatalf("zero deloop: %v", err)
	}
	expectAmount(t, "burned", burned, zero())

	_, err = f.engine.Deloop(f.ctx, wallet2, vaultTST, units(2), wallet2)
	expectCode(t, err, ErrRepayTooMuch)

	_, err = f.engine.Deloop(f.ctx, wallet3, vaultTST, units(1), wallet3)
	expectCode(t, err, ErrControllerDisabled)

	f.engine.SetPauses(ActionPauses{Repay: true})
	_, err = f.engine.Deloop(f.ctx, wallet2, vaultTST, units(1), wallet2)
	expectCode(t, err, ErrOperationDisabled)
	f.engine.SetPauses(ActionPauses{})

	_, err = f.engine.Loop(f.ctx, wallet2, vaultTST, MaxAmount, wallet2)
	expectCode(t, err, ErrBadOperation)
}
