package lending

import (
	"fmt"

	"github.com/holiman/uint256"

	"vaultledger/crypto"
	"vaultledger/native/bank"
)

// syncDebt rolls the position's exact debt forward to the vault's current
// accumulator.
func syncDebt(pos *Position, v *Vault) error {
	if pos.Owed.IsZero() || pos.InterestAccumulator.IsZero() {
		pos.InterestAccumulator = cloneInt(v.InterestAccumulator)
		return nil
	}
	if pos.InterestAccumulator.Eq(v.InterestAccumulator) {
		return nil
	}
	owed, err := mulDivDown(pos.Owed, v.InterestAccumulator, pos.InterestAccumulator)
	if err != nil {
		return err
	}
	pos.Owed = owed
	pos.InterestAccumulator = cloneInt(v.InterestAccumulator)
	return nil
}

func (e *Engine) borrow(c *callContext, op Operation) (OpResult, error) {
	if err := e.guard(OpBorrow); err != nil {
		return OpResult{}, err
	}
	receiver := defaultAddress(op.Receiver, c.caller)
	v, err := e.loadVault(c.view(), op.Vault)
	if err != nil {
		return OpResult{}, err
	}
	if err := e.requireController(c.view(), c.caller, v.Address); err != nil {
		return OpResult{}, err
	}
	assets := cloneInt(op.Amount)
	if isMax(assets) {
		assets = cloneInt(v.Cash)
	}
	if assets.IsZero() {
		return OpResult{Kind: OpBorrow, Amount: zero()}, nil
	}
	if v.Cash.Lt(assets) {
		return OpResult{}, ErrInsufficientCash
	}
	owed, err := toOwed(assets)
	if err != nil {
		return OpResult{}, err
	}
	c.requireAccountCheck(c.caller)
	c.requireVaultCheck(v)

	pos, err := e.loadPosition(c.view(), v, c.caller)
	if err != nil {
		return OpResult{}, err
	}
	if pos.Owed, err = checkedAdd(pos.Owed, owed); err != nil {
		return OpResult{}, err
	}
	if v.TotalBorrows, err = checkedAdd(v.TotalBorrows, owed); err != nil {
		return OpResult{}, err
	}
	v.Cash.Sub(v.Cash, assets)
	if err := bank.Transfer(c.state, v.Asset, v.Address, receiver, assets); err != nil {
		return OpResult{}, err
	}
	if err := c.state.PutPosition(pos); err != nil {
		return OpResult{}, err
	}
	if err := c.state.PutVault(v); err != nil {
		return OpResult{}, err
	}
	c.emit(OpBorrow, map[string]string{
		"vault": v.Address.Hex(), "account": c.caller.Hex(), "receiver": receiver.Hex(), "assets": assets.Dec(),
	})
	return OpResult{Kind: OpBorrow, Amount: assets}, nil
}

func (e *Engine) repay(c *callContext, op Operation) (OpResult, error) {
	if err := e.guard(OpRepay); err != nil {
		return OpResult{}, err
	}
	account := defaultAddress(op.Account, c.caller)
	v, err := e.loadVault(c.view(), op.Vault)
	if err != nil {
		return OpResult{}, err
	}
	pos, err := e.loadPosition(c.view(), v, account)
	if err != nil {
		return OpResult{}, err
	}
	debt := owedToAssetsUp(pos.Owed)
	assets := cloneInt(op.Amount)
	if isMax(assets) {
		assets = debt
	}
	if assets.IsZero() {
		return OpResult{Kind: OpRepay, Amount: zero()}, nil
	}
	if assets.Gt(debt) {
		return OpResult{}, ErrRepayTooMuch
	}
	c.requireAccountCheck(c.caller)
	c.requireVaultCheck(v)

	if err := bank.Transfer(c.state, v.Asset, c.caller, v.Address, assets); err != nil {
		return OpResult{}, err
	}
	if v.Cash, err = checkedAdd(v.Cash, assets); err != nil {
		return OpResult{}, err
	}
	if err := decreaseDebt(v, pos, assets); err != nil {
		return OpResult{}, err
	}
	if err := c.state.PutPosition(pos); err != nil {
		return OpResult{}, err
	}
	if err := c.state.PutVault(v); err != nil {
		return OpResult{}, err
	}
	c.emit(OpRepay, map[string]string{
		"vault": v.Address.Hex(), "sender": c.caller.Hex(), "account": account.Hex(), "assets": assets.Dec(),
	})
	return OpResult{Kind: OpRepay, Amount: assets}, nil
}

// decreaseDebt removes assets of debt from pos and the vault total. Repaying
// the rounded-up debt clears the position exactly.
func decreaseDebt(v *Vault, pos *Position, assets *uint256.Int) error {
	owed, err := toOwed(assets)
	if err != nil {
		return err
	}
	removed := minInt(owed, pos.Owed)
	pos.Owed.Sub(pos.Owed, removed)
	v.TotalBorrows = saturatingSub(v.TotalBorrows, removed)
	return nil
}

func (e *Engine) pullDebt(c *callContext, op Operation) (OpResult, error) {
	if err := e.guard(OpPullDebt); err != nil {
		return OpResult{}, err
	}
	from := op.From
	if from.IsZero() {
		return OpResult{}, ErrBadAddress
	}
	if from == c.caller {
		return OpResult{}, ErrSelfTransfer
	}
	v, err := e.loadVault(c.view(), op.Vault)
	if err != nil {
		return OpResult{}, err
	}
	if err := e.requireController(c.view(), c.caller, v.Address); err != nil {
		return OpResult{}, err
	}
	fromPos, err := e.loadPosition(c.view(), v, from)
	if err != nil {
		return OpResult{}, err
	}
	debt := owedToAssetsUp(fromPos.Owed)
	assets := cloneInt(op.Amount)
	if isMax(assets) {
		assets = debt
	}
	if assets.IsZero() {
		return OpResult{Kind: OpPullDebt, Amount: zero()}, nil
	}
	if assets.Gt(debt) {
		return OpResult{}, ErrInsufficientDebt
	}
	c.requireAccountCheck(c.caller)
	c.requireAccountCheck(from)
	c.requireVaultCheck(v)

	toPos, err := e.loadPosition(c.view(), v, c.caller)
	if err != nil {
		return OpResult{}, err
	}
	if err := moveDebt(v, fromPos, toPos, assets); err != nil {
		return OpResult{}, err
	}
	for _, p := range []*Position{fromPos, toPos} {
		if err := c.state.PutPosition(p); err != nil {
			return OpResult{}, err
		}
	}
	if err := c.state.PutVault(v); err != nil {
		return OpResult{}, err
	}
	c.emit(OpPullDebt, map[string]string{
		"vault": v.Address.Hex(), "from": from.Hex(), "to": c.caller.Hex(), "assets": assets.Dec(),
	})
	return OpResult{Kind: OpPullDebt, Amount: assets}, nil
}

// loop mints shares to the receiver and the same amount of debt to the
// caller. No tokens move and cash is unchanged.
func (e *Engine) loop(c *callContext, op Operation) (OpResult, error) {
	if err := e.guard(OpLoop); err != nil {
		return OpResult{}, err
	}
	receiver := defaultAddress(op.Receiver, c.caller)
	v, err := e.loadVault(c.view(), op.Vault)
	if err != nil {
		return OpResult{}, err
	}
	if err := e.requireController(c.view(), c.caller, v.Address); err != nil {
		return OpResult{}, err
	}
	if isMax(op.Amount) {
		return OpResult{}, fmt.Errorf("%w: loop amount must be explicit", ErrBadOperation)
	}
	if op.Amount.IsZero() {
		return OpResult{Kind: OpLoop, Amount: zero()}, nil
	}
	shares, err := toSharesUp(v, op.Amount)
	if err != nil {
		return OpResult{}, err
	}
	assets, err := toAssetsUp(v, shares)
	if err != nil {
		return OpResult{}, err
	}
	owed, err := toOwed(assets)
	if err != nil {
		return OpResult{}, err
	}
	c.requireAccountCheck(c.caller)
	c.requireVaultCheck(v)

	debtor, err := e.loadPosition(c.view(), v, c.caller)
	if err != nil {
		return OpResult{}, err
	}
	holder := debtor
	if receiver != c.caller {
		if holder, err = e.loadPosition(c.view(), v, receiver); err != nil {
			return OpResult{}, err
		}
	}
	if v.TotalShares, err = checkedAdd(v.TotalShares, shares); err != nil {
		return OpResult{}, err
	}
	if v.TotalBorrows, err = checkedAdd(v.TotalBorrows, owed); err != nil {
		return OpResult{}, err
	}
	holder.Shares.Add(holder.Shares, shares)
	if debtor.Owed, err = checkedAdd(debtor.Owed, owed); err != nil {
		return OpResult{}, err
	}
	if err := putPositions(c, debtor, holder); err != nil {
		return OpResult{}, err
	}
	if err := c.state.PutVault(v); err != nil {
		return OpResult{}, err
	}
	c.emit(OpLoop, map[string]string{
		"vault": v.Address.Hex(), "account": c.caller.Hex(), "receiver": receiver.Hex(),
		"assets": assets.Dec(), "shares": shares.Dec(),
	})
	return OpResult{Kind: OpLoop, Amount: shares}, nil
}

// deloop burns the caller's shares to repay the account's debt. The max
// amount repays as much debt as the caller's shares are worth.
func (e *Engine) deloop(c *callContext, op Operation) (OpResult, error) {
	if err := e.guard(OpDeloop); err != nil {
		return OpResult{}, err
	}
	account := defaultAddress(op.Account, c.caller)
	v, err := e.loadVault(c.view(), op.Vault)
	if err != nil {
		return OpResult{}, err
	}
	if err := e.requireController(c.view(), account, v.Address); err != nil {
		return OpResult{}, err
	}
	debtor, err := e.loadPosition(c.view(), v, account)
	if err != nil {
		return OpResult{}, err
	}
	debt := owedToAssetsUp(debtor.Owed)
	if debt.IsZero() {
		return OpResult{Kind: OpDeloop, Amount: zero()}, nil
	}
	holder := debtor
	if account != c.caller {
		if holder, err = e.loadPosition(c.view(), v, c.caller); err != nil {
			return OpResult{}, err
		}
	}

	var assets, shares *uint256.Int
	if isMax(op.Amount) {
		shares = cloneInt(holder.Shares)
		if assets, err = toAssetsDown(v, shares); err != nil {
			return OpResult{}, err
		}
		if assets.Gt(debt) {
			assets = debt
			if shares, err = toSharesUp(v, assets); err != nil {
				return OpResult{}, err
			}
			shares = minInt(shares, holder.Shares)
		}
	} else {
		assets = cloneInt(op.Amount)
		if shares, err = toSharesUp(v, assets); err != nil {
			return OpResult{}, err
		}
	}
	if assets.IsZero() {
		return OpResult{Kind: OpDeloop, Amount: zero()}, nil
	}
	if assets.Gt(debt) {
		return OpResult{}, ErrRepayTooMuch
	}
	if holder.Shares.Lt(shares) {
		return OpResult{}, ErrInsufficientBalance
	}
	c.requireAccountCheck(c.caller)
	c.requireVaultCheck(v)

	holder.Shares.Sub(holder.Shares, shares)
	v.TotalShares = saturatingSub(v.TotalShares, shares)
	if err := decreaseDebt(v, debtor, assets); err != nil {
		return OpResult{}, err
	}
	if err := putPositions(c, debtor, holder); err != nil {
		return OpResult{}, err
	}
	if err := c.state.PutVault(v); err != nil {
		return OpResult{}, err
	}
	c.emit(OpDeloop, map[string]string{
		"vault": v.Address.Hex(), "sender": c.caller.Hex(), "account": account.Hex(),
		"assets": assets.Dec(), "shares": shares.Dec(),
	})
	return OpResult{Kind: OpDeloop, Amount: shares}, nil
}

// putPositions stores a and, when it is a different record, b.
func putPositions(c *callContext, a, b *Position) error {
	if err := c.state.PutPosition(a); err != nil {
		return err
	}
	if b == a {
		return nil
	}
	return c.state.PutPosition(b)
}

// moveDebt transfers assets of debt between positions of the same vault. Any
// rounding surplus charged to the receiver is added to the vault total so
// that total borrows still cover every position.
func moveDebt(v *Vault, from, to *Position, assets *uint256.Int) error {
	owed, err := toOwed(assets)
	if err != nil {
		return err
	}
	removed := minInt(owed, from.Owed)
	from.Owed.Sub(from.Owed, removed)
	if to.Owed, err = checkedAdd(to.Owed, owed); err != nil {
		return err
	}
	if surplus := new(uint256.Int).Sub(owed, removed); !surplus.IsZero() {
		if v.TotalBorrows, err = checkedAdd(v.TotalBorrows, surplus); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) disableController(c *callContext, op Operation) (OpResult, error) {
	account := defaultAddress(op.Account, c.caller)
	if account != c.caller {
		return OpResult{}, ErrUnauthorized
	}
	sets, err := e.loadSets(c.view(), account)
	if err != nil {
		return OpResult{}, err
	}
	controllers, removed := addressSet(sets.Controllers).remove(op.Vault)
	if !removed {
		return OpResult{Kind: OpDisableController}, nil
	}
	v, err := e.loadVault(c.view(), op.Vault)
	if err != nil {
		return OpResult{}, err
	}
	pos, err := e.loadPosition(c.view(), v, account)
	if err != nil {
		return OpResult{}, err
	}
	if !pos.Owed.IsZero() {
		return OpResult{}, ErrOutstandingDebt
	}
	sets.Controllers = controllers
	if err := c.state.PutAccountSets(sets); err != nil {
		return OpResult{}, err
	}
	if err := c.state.PutVault(v); err != nil {
		return OpResult{}, err
	}
	c.emit(OpDisableController, map[string]string{"vault": op.Vault.Hex(), "account": account.Hex()})
	return OpResult{Kind: OpDisableController}, nil
}

func (e *Engine) requireController(r view, account, vault crypto.Address) error {
	sets, err := e.loadSets(r, account)
	if err != nil {
		return err
	}
	if !addressSet(sets.Controllers).contains(vault) {
		return ErrControllerDisabled
	}
	return nil
}
