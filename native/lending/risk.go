package lending

import (
	"github.com/holiman/uint256"

	"vaultledger/crypto"
)

// CollateralValue is one collateral vault's risk-adjusted contribution.
type CollateralValue struct {
	Vault crypto.Address
	Value *uint256.Int
}

// Liquidity summarises an account's position against its controller.
// Values are in the unit of account; Debt is in controller assets.
type Liquidity struct {
	Controller      crypto.Address
	Debt            *uint256.Int
	Collaterals     []CollateralValue
	CollateralValue *uint256.Int
	LiabilityValue  *uint256.Int
}

// loadVault reads a vault and accrues it to the view's time in memory.
func (e *Engine) loadVault(r view, addr crypto.Address) (*Vault, error) {
	stored, err := r.state.GetVault(addr)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ErrUnknownVault
	}
	v := stored.Clone()
	v.ensureDefaults()
	if err := e.accrue(r.ctx, v, r.now); err != nil {
		return nil, err
	}
	return v, nil
}

// loadPosition reads account's position in v with debt synced to v.
func (e *Engine) loadPosition(r view, v *Vault, account crypto.Address) (*Position, error) {
	stored, err := r.state.GetPosition(v.Address, account)
	if err != nil {
		return nil, err
	}
	pos := stored.Clone()
	if pos == nil {
		pos = &Position{Vault: v.Address, Account: account}
	}
	pos.Shares = cloneInt(pos.Shares)
	pos.Owed = cloneInt(pos.Owed)
	pos.InterestAccumulator = cloneInt(pos.InterestAccumulator)
	if err := syncDebt(pos, v); err != nil {
		return nil, err
	}
	return pos, nil
}

// accountLiquidity values the account's collateral and liability against its
// sole controller. Borrowing mode uses borrow LTVs with bid prices for
// collateral and ask prices for debt; liquidation mode uses liquidation LTVs
// and mid prices.
func (e *Engine) accountLiquidity(r view, account crypto.Address, liquidation bool) (*Liquidity, error) {
	sets, err := e.loadSets(r, account)
	if err != nil {
		return nil, err
	}
	switch len(sets.Controllers) {
	case 0:
		return nil, ErrNoLiability
	case 1:
	default:
		return nil, ErrControllerViolation
	}
	controller, err := e.loadVault(r, sets.Controllers[0])
	if err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(r, controller, account)
	if err != nil {
		return nil, err
	}
	out := &Liquidity{
		Controller:      controller.Address,
		Debt:            owedToAssetsUp(pos.Owed),
		CollateralValue: zero(),
	}
	liabilitySide, collateralSide := sideAsk, sideBid
	if liquidation {
		liabilitySide, collateralSide = sideMid, sideMid
	}
	if out.LiabilityValue, err = e.quote(r.ctx, out.Debt, controller.Asset, liabilitySide); err != nil {
		return nil, err
	}

	for _, addr := range sets.Collaterals {
		value, err := e.collateralValue(r, controller.Address, addr, account, liquidation, collateralSide)
		if err != nil {
			return nil, err
		}
		out.Collaterals = append(out.Collaterals, CollateralValue{Vault: addr, Value: value})
		if out.CollateralValue, err = checkedAdd(out.CollateralValue, value); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// collateralValue is the LTV-adjusted value of account's shares in the
// collateral vault. Pairs without an LTV contribute nothing.
func (e *Engine) collateralValue(r view, controller, collateral, account crypto.Address, liquidation bool, side quoteSide) (*uint256.Int, error) {
	ltv, err := r.state.GetLTV(controller, collateral)
	if err != nil {
		return nil, err
	}
	if ltv == nil {
		return zero(), nil
	}
	factor := ltv.BorrowLTVBps
	if liquidation {
		factor = ltv.LiquidationLTVBps
	}
	if factor == 0 {
		return zero(), nil
	}
	v, err := e.loadVault(r, collateral)
	if err != nil {
		return nil, err
	}
	pos, err := r.state.GetPosition(collateral, account)
	if err != nil {
		return nil, err
	}
	if pos == nil || isZero(pos.Shares) {
		return zero(), nil
	}
	assets, err := toAssetsDown(v, pos.Shares)
	if err != nil {
		return nil, err
	}
	value, err := e.quote(r.ctx, assets, v.Asset, side)
	if err != nil {
		return nil, err
	}
	return applyBps(value, factor)
}

// checkAccountStatus passes for accounts without a controller or without
// debt, and otherwise requires borrowing-mode collateral to cover the
// liability.
func (e *Engine) checkAccountStatus(r view, account crypto.Address) error {
	sets, err := e.loadSets(r, account)
	if err != nil {
		return err
	}
	switch len(sets.Controllers) {
	case 0:
		return nil
	case 1:
	default:
		return ErrControllerViolation
	}
	controller, err := e.loadVault(r, sets.Controllers[0])
	if err != nil {
		return err
	}
	pos, err := e.loadPosition(r, controller, account)
	if err != nil {
		return err
	}
	if pos.Owed.IsZero() {
		return nil
	}
	liq, err := e.accountLiquidity(r, account, false)
	if err != nil {
		return err
	}
	if liq.CollateralValue.Lt(liq.LiabilityValue) {
		return ErrAccountLiquidity
	}
	return nil
}

// checkVaultStatus enforces supply and borrow caps. A cap only fails the call
// when the total exceeds it and grew since the vault was first touched, so
// operations that shrink an over-cap vault still succeed.
func (e *Engine) checkVaultStatus(r view, addr crypto.Address, snap vaultSnapshot) error {
	v, err := e.loadVault(r, addr)
	if err != nil {
		return err
	}
	if !isZero(v.SupplyCap) {
		assets := totalAssets(v)
		if assets.Gt(v.SupplyCap) && assets.Gt(snap.totalAssets) {
			return ErrSupplyCapExceeded
		}
	}
	if !isZero(v.BorrowCap) {
		borrows := owedToAssetsUp(v.TotalBorrows)
		if borrows.Gt(v.BorrowCap) && borrows.Gt(snap.totalBorrows) {
			return ErrBorrowCapExceeded
		}
	}
	return nil
}

// checkStatus drains the call's pending checks. Every scheduled account and
// vault is checked exactly once against the final state.
func (e *Engine) checkStatus(c *callContext) error {
	r := c.view()
	for _, account := range c.accounts {
		if err := e.checkAccountStatus(r, account); err != nil {
			return &StatusCheckError{Address: account.Hex(), Err: err}
		}
	}
	for _, vault := range c.vaults {
		if err := e.checkVaultStatus(r, vault, c.snapshots[vault]); err != nil {
			return &StatusCheckError{Vault: true, Address: vault.Hex(), Err: err}
		}
	}
	return nil
}
