package lending

import (
	"context"
	"math/big"

	"github.com/holiman/uint256"

	"vaultledger/crypto"
	"vaultledger/native/bank"
)

// Views evaluate accrued values at the current time without persisting them.
// They share the reentrancy lock with mutating calls.

func (e *Engine) readView(ctx context.Context) (view, error) {
	if e == nil || e.state == nil {
		return view{}, ErrNilState
	}
	if e.busy {
		return view{}, ErrReentrancy
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return view{ctx: ctx, state: e.state, now: e.timestamp()}, nil
}

func (e *Engine) viewVault(ctx context.Context, addr crypto.Address) (view, *Vault, error) {
	r, err := e.readView(ctx)
	if err != nil {
		return view{}, nil, err
	}
	v, err := e.loadVault(r, addr)
	if err != nil {
		return view{}, nil, err
	}
	return r, v, nil
}

func (e *Engine) viewPosition(ctx context.Context, vault, account crypto.Address) (*Vault, *Position, error) {
	r, v, err := e.viewVault(ctx, vault)
	if err != nil {
		return nil, nil, err
	}
	pos, err := e.loadPosition(r, v, account)
	if err != nil {
		return nil, nil, err
	}
	return v, pos, nil
}

// Vault returns the vault accrued to now.
func (e *Engine) Vault(ctx context.Context, addr crypto.Address) (*Vault, error) {
	_, v, err := e.viewVault(ctx, addr)
	return v, err
}

// Vaults lists registered vault addresses.
func (e *Engine) Vaults(ctx context.Context) ([]crypto.Address, error) {
	r, err := e.readView(ctx)
	if err != nil {
		return nil, err
	}
	return r.state.VaultAddresses()
}

func (e *Engine) BalanceOf(ctx context.Context, vault, account crypto.Address) (*uint256.Int, error) {
	_, pos, err := e.viewPosition(ctx, vault, account)
	if err != nil {
		return nil, err
	}
	return pos.Shares, nil
}

// TotalSupply includes fee shares not yet converted.
func (e *Engine) TotalSupply(ctx context.Context, vault crypto.Address) (*uint256.Int, error) {
	_, v, err := e.viewVault(ctx, vault)
	if err != nil {
		return nil, err
	}
	return v.TotalShares, nil
}

func (e *Engine) TotalAssets(ctx context.Context, vault crypto.Address) (*uint256.Int, error) {
	_, v, err := e.viewVault(ctx, vault)
	if err != nil {
		return nil, err
	}
	return totalAssets(v), nil
}

// TotalBorrows returns outstanding debt in assets, rounded up.
func (e *Engine) TotalBorrows(ctx context.Context, vault crypto.Address) (*uint256.Int, error) {
	_, v, err := e.viewVault(ctx, vault)
	if err != nil {
		return nil, err
	}
	return owedToAssetsUp(v.TotalBorrows), nil
}

// TotalBorrowsExact returns outstanding debt in extended precision.
func (e *Engine) TotalBorrowsExact(ctx context.Context, vault crypto.Address) (*uint256.Int, error) {
	_, v, err := e.viewVault(ctx, vault)
	if err != nil {
		return nil, err
	}
	return v.TotalBorrows, nil
}

func (e *Engine) Cash(ctx context.Context, vault crypto.Address) (*uint256.Int, error) {
	_, v, err := e.viewVault(ctx, vault)
	if err != nil {
		return nil, err
	}
	return v.Cash, nil
}

// DebtOf returns the account's debt in assets, rounded up.
func (e *Engine) DebtOf(ctx context.Context, vault, account crypto.Address) (*uint256.Int, error) {
	_, pos, err := e.viewPosition(ctx, vault, account)
	if err != nil {
		return nil, err
	}
	return owedToAssetsUp(pos.Owed), nil
}

// DebtOfExact returns the account's debt in extended precision.
func (e *Engine) DebtOfExact(ctx context.Context, vault, account crypto.Address) (*uint256.Int, error) {
	_, pos, err := e.viewPosition(ctx, vault, account)
	if err != nil {
		return nil, err
	}
	return pos.Owed, nil
}

func (e *Engine) ConvertToShares(ctx context.Context, vault crypto.Address, assets *uint256.Int) (*uint256.Int, error) {
	_, v, err := e.viewVault(ctx, vault)
	if err != nil {
		return nil, err
	}
	return toSharesDown(v, assets)
}

func (e *Engine) ConvertToAssets(ctx context.Context, vault crypto.Address, shares *uint256.Int) (*uint256.Int, error) {
	_, v, err := e.viewVault(ctx, vault)
	if err != nil {
		return nil, err
	}
	return toAssetsDown(v, shares)
}

// MaxWithdraw is the most assets owner can withdraw given vault cash.
func (e *Engine) MaxWithdraw(ctx context.Context, vault, owner crypto.Address) (*uint256.Int, error) {
	v, pos, err := e.viewPosition(ctx, vault, owner)
	if err != nil {
		return nil, err
	}
	return maxWithdraw(v, pos)
}

// MaxRedeem is the most shares owner can redeem given vault cash.
func (e *Engine) MaxRedeem(ctx context.Context, vault, owner crypto.Address) (*uint256.Int, error) {
	v, pos, err := e.viewPosition(ctx, vault, owner)
	if err != nil {
		return nil, err
	}
	assets, err := maxWithdraw(v, pos)
	if err != nil {
		return nil, err
	}
	shares, err := toSharesDown(v, assets)
	if err != nil {
		return nil, err
	}
	return minInt(shares, pos.Shares), nil
}

// InterestRate returns the per-second ray rate applied by the last accrual.
func (e *Engine) InterestRate(ctx context.Context, vault crypto.Address) (*uint256.Int, error) {
	_, v, err := e.viewVault(ctx, vault)
	if err != nil {
		return nil, err
	}
	return v.InterestRate, nil
}

// SupplyAPR annualises what lenders earn at the last accrued rate: the
// borrow rate scaled by utilisation, net of the interest fee.
func (e *Engine) SupplyAPR(ctx context.Context, vault crypto.Address) (*big.Rat, error) {
	_, v, err := e.viewVault(ctx, vault)
	if err != nil {
		return nil, err
	}
	u := utilisation(v.Cash, owedToAssetsUp(v.TotalBorrows))
	return supplyAPR(APRFromRate(v.InterestRate), u, v.InterestFeeBps), nil
}

func (e *Engine) InterestAccumulator(ctx context.Context, vault crypto.Address) (*uint256.Int, error) {
	_, v, err := e.viewVault(ctx, vault)
	if err != nil {
		return nil, err
	}
	return v.InterestAccumulator, nil
}

// AccumulatedFees returns fee shares awaiting ConvertFees.
func (e *Engine) AccumulatedFees(ctx context.Context, vault crypto.Address) (*uint256.Int, error) {
	_, v, err := e.viewVault(ctx, vault)
	if err != nil {
		return nil, err
	}
	return v.AccumulatedFees, nil
}

// AccumulatedFeesAssets values the pending fee shares in assets.
func (e *Engine) AccumulatedFeesAssets(ctx context.Context, vault crypto.Address) (*uint256.Int, error) {
	_, v, err := e.viewVault(ctx, vault)
	if err != nil {
		return nil, err
	}
	return toAssetsDown(v, v.AccumulatedFees)
}

func (e *Engine) Allowance(ctx context.Context, vault, owner, spender crypto.Address) (*uint256.Int, error) {
	r, err := e.readView(ctx)
	if err != nil {
		return nil, err
	}
	amount, err := r.state.GetAllowance(vault, owner, spender)
	if err != nil {
		return nil, err
	}
	return cloneInt(amount), nil
}

// TokenBalance returns the underlying token balance held by account.
func (e *Engine) TokenBalance(ctx context.Context, asset, account crypto.Address) (*uint256.Int, error) {
	r, err := e.readView(ctx)
	if err != nil {
		return nil, err
	}
	return bank.BalanceOf(r.state, asset, account)
}

// AccountLiquidity returns the risk-adjusted collateral value and liability
// value of account. It fails with ErrNoLiability when no controller is
// enabled.
func (e *Engine) AccountLiquidity(ctx context.Context, account crypto.Address, liquidation bool) (*uint256.Int, *uint256.Int, error) {
	liq, err := e.AccountLiquidityFull(ctx, account, liquidation)
	if err != nil {
		return nil, nil, err
	}
	return liq.CollateralValue, liq.LiabilityValue, nil
}

// AccountLiquidityFull is AccountLiquidity with a per-collateral breakdown.
func (e *Engine) AccountLiquidityFull(ctx context.Context, account crypto.Address, liquidation bool) (*Liquidity, error) {
	r, err := e.readView(ctx)
	if err != nil {
		return nil, err
	}
	return e.accountLiquidity(r, account, liquidation)
}

// CheckAccountStatus evaluates the account's status check against current
// state.
func (e *Engine) CheckAccountStatus(ctx context.Context, account crypto.Address) error {
	r, err := e.readView(ctx)
	if err != nil {
		return err
	}
	return e.checkAccountStatus(r, account)
}

// CheckLiquidation returns the most debt liquidator could take over from
// violator in vault and the collateral shares it would receive.
func (e *Engine) CheckLiquidation(ctx context.Context, liquidator, violator, vault, collateral crypto.Address) (*uint256.Int, *uint256.Int, error) {
	if liquidator == violator {
		return nil, nil, ErrSelfLiquidation
	}
	r, err := e.readView(ctx)
	if err != nil {
		return nil, nil, err
	}
	ltv, err := r.state.GetLTV(vault, collateral)
	if err != nil {
		return nil, nil, err
	}
	if ltv == nil || ltv.LiquidationLTVBps == 0 {
		return nil, nil, ErrBadCollateral
	}
	return e.calculateLiquidation(r, vault, violator, collateral)
}

func (e *Engine) Collaterals(ctx context.Context, account crypto.Address) ([]crypto.Address, error) {
	r, err := e.readView(ctx)
	if err != nil {
		return nil, err
	}
	sets, err := e.loadSets(r, account)
	if err != nil {
		return nil, err
	}
	return sets.Collaterals, nil
}

func (e *Engine) Controllers(ctx context.Context, account crypto.Address) ([]crypto.Address, error) {
	r, err := e.readView(ctx)
	if err != nil {
		return nil, err
	}
	sets, err := e.loadSets(r, account)
	if err != nil {
		return nil, err
	}
	return sets.Controllers, nil
}

// LTV returns the configuration for the pair, or nil when unset.
func (e *Engine) LTV(ctx context.Context, liability, collateral crypto.Address) (*LTVConfig, error) {
	r, err := e.readView(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := r.state.GetLTV(liability, collateral)
	if err != nil {
		return nil, err
	}
	return cfg.Clone(), nil
}
