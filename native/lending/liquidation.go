package lending

import (
	"errors"

	"github.com/holiman/uint256"

	"vaultledger/crypto"
)

// calculateLiquidation returns the most debt (in controller assets) a
// liquidator may take over from violator and the collateral shares it would
// receive for it. Healthy accounts yield zero for both.
//
// The discount grows with how far the violator is underwater: the discount
// factor is the liquidation-mode health score, floored at one minus the
// maximum discount.
func (e *Engine) calculateLiquidation(r view, vault, violator, collateral crypto.Address) (*uint256.Int, *uint256.Int, error) {
	liq, err := e.accountLiquidity(r, violator, true)
	if errors.Is(err, ErrNoLiability) {
		return zero(), zero(), nil
	}
	if err != nil {
		return nil, nil, err
	}
	if liq.Controller != vault || liq.LiabilityValue.IsZero() || !liq.CollateralValue.Lt(liq.LiabilityValue) {
		return zero(), zero(), nil
	}

	cv, err := e.loadVault(r, collateral)
	if err != nil {
		return nil, nil, err
	}
	pos, err := r.state.GetPosition(collateral, violator)
	if err != nil {
		return nil, nil, err
	}
	if pos == nil || isZero(pos.Shares) {
		return zero(), zero(), nil
	}
	balance := cloneInt(pos.Shares)
	assets, err := toAssetsDown(cv, balance)
	if err != nil {
		return nil, nil, err
	}
	balanceValue, err := e.quote(r.ctx, assets, cv.Asset, sideMid)
	if err != nil {
		return nil, nil, err
	}
	if balanceValue.IsZero() {
		return zero(), zero(), nil
	}

	discount, err := mulDivDown(liq.CollateralValue, wad, liq.LiabilityValue)
	if err != nil {
		return nil, nil, err
	}
	floor := new(uint256.Int).Sub(wad, new(uint256.Int).Mul(uint256.NewInt(e.params.MaxLiquidationDiscountBps), uint256.NewInt(1e14)))
	if discount.Lt(floor) {
		discount = floor
	}

	maxRepayValue := cloneInt(liq.LiabilityValue)
	maxYieldValue, err := mulDivDown(maxRepayValue, wad, discount)
	if err != nil {
		return nil, nil, err
	}
	maxYield := balance
	if balanceValue.Lt(maxYieldValue) {
		if maxRepayValue, err = mulDivDown(balanceValue, discount, wad); err != nil {
			return nil, nil, err
		}
	} else if maxYield, err = mulDivDown(balance, maxYieldValue, balanceValue); err != nil {
		return nil, nil, err
	}
	maxRepay, err := mulDivDown(liq.Debt, maxRepayValue, liq.LiabilityValue)
	if err != nil {
		return nil, nil, err
	}
	return maxRepay, minInt(maxYield, balance), nil
}

func (e *Engine) liquidate(c *callContext, op Operation) (OpResult, error) {
	if err := e.guard(OpLiquidate); err != nil {
		return OpResult{}, err
	}
	v, err := e.loadVault(c.view(), op.Vault)
	if err != nil {
		return OpResult{}, err
	}
	if err := e.requireController(c.view(), c.caller, v.Address); err != nil {
		return OpResult{}, err
	}
	if op.Violator == c.caller {
		return OpResult{}, ErrSelfLiquidation
	}
	ltv, err := c.state.GetLTV(v.Address, op.Collateral)
	if err != nil {
		return OpResult{}, err
	}
	if ltv == nil || ltv.LiquidationLTVBps == 0 {
		return OpResult{}, ErrBadCollateral
	}
	violatorSets, err := e.loadSets(c.view(), op.Violator)
	if err != nil {
		return OpResult{}, err
	}
	if !addressSet(violatorSets.Collaterals).contains(op.Collateral) {
		return OpResult{}, ErrCollateralDisabled
	}
	if c.isAccountCheckDeferred(op.Violator) {
		return OpResult{}, ErrViolatorLiquidityDeferred
	}

	maxRepay, maxYield, err := e.calculateLiquidation(c.view(), v.Address, op.Violator, op.Collateral)
	if err != nil {
		return OpResult{}, err
	}
	repay := cloneInt(op.Amount)
	if isMax(repay) {
		repay = cloneInt(maxRepay)
	}
	if repay.Gt(maxRepay) {
		return OpResult{}, ErrExcessiveRepayAmount
	}
	yield := cloneInt(maxYield)
	if !repay.Eq(maxRepay) {
		if yield, err = mulDivDown(maxYield, repay, maxRepay); err != nil {
			return OpResult{}, err
		}
	}
	if op.MinYield != nil && yield.Lt(op.MinYield) {
		return OpResult{}, ErrMinYield
	}
	if repay.IsZero() {
		return OpResult{Kind: OpLiquidate, Amount: zero(), Yield: zero()}, nil
	}

	// The violator's status check is forgiven: a partial liquidation may
	// leave it unhealthy, and the liquidator carries the assumed debt.
	c.requireAccountCheck(c.caller)
	c.requireVaultCheck(v)

	violatorPos, err := e.loadPosition(c.view(), v, op.Violator)
	if err != nil {
		return OpResult{}, err
	}
	liquidatorPos, err := e.loadPosition(c.view(), v, c.caller)
	if err != nil {
		return OpResult{}, err
	}
	if err := moveDebt(v, violatorPos, liquidatorPos, repay); err != nil {
		return OpResult{}, err
	}

	cv, err := e.loadVault(c.view(), op.Collateral)
	if err != nil {
		return OpResult{}, err
	}
	seizedFrom, err := e.loadPosition(c.view(), cv, op.Violator)
	if err != nil {
		return OpResult{}, err
	}
	seizedTo, err := e.loadPosition(c.view(), cv, c.caller)
	if err != nil {
		return OpResult{}, err
	}
	seizedFrom.Shares.Sub(seizedFrom.Shares, yield)
	seizedTo.Shares.Add(seizedTo.Shares, yield)

	for _, p := range []*Position{violatorPos, liquidatorPos, seizedFrom, seizedTo} {
		if err := c.state.PutPosition(p); err != nil {
			return OpResult{}, err
		}
	}
	for _, vault := range []*Vault{v, cv} {
		if err := c.state.PutVault(vault); err != nil {
			return OpResult{}, err
		}
	}
	c.emit(OpLiquidate, map[string]string{
		"vault": v.Address.Hex(), "liquidator": c.caller.Hex(), "violator": op.Violator.Hex(),
		"collateral": op.Collateral.Hex(), "repay": repay.Dec(), "yield": yield.Dec(),
	})
	return OpResult{Kind: OpLiquidate, Amount: repay, Yield: yield}, nil
}
