package lending

import (
	"github.com/holiman/uint256"

	"vaultledger/crypto"
	"vaultledger/native/bank"
)

// totalAssets is cash plus outstanding borrows, rounded up.
func totalAssets(v *Vault) *uint256.Int {
	return new(uint256.Int).Add(v.Cash, owedToAssetsUp(v.TotalBorrows))
}

func toSharesDown(v *Vault, assets *uint256.Int) (*uint256.Int, error) {
	return mulDivDown(assets, new(uint256.Int).Add(v.TotalShares, virtual), new(uint256.Int).Add(totalAssets(v), virtual))
}

func toSharesUp(v *Vault, assets *uint256.Int) (*uint256.Int, error) {
	return mulDivUp(assets, new(uint256.Int).Add(v.TotalShares, virtual), new(uint256.Int).Add(totalAssets(v), virtual))
}

func toAssetsDown(v *Vault, shares *uint256.Int) (*uint256.Int, error) {
	return mulDivDown(shares, new(uint256.Int).Add(totalAssets(v), virtual), new(uint256.Int).Add(v.TotalShares, virtual))
}

func toAssetsUp(v *Vault, shares *uint256.Int) (*uint256.Int, error) {
	return mulDivUp(shares, new(uint256.Int).Add(totalAssets(v), virtual), new(uint256.Int).Add(v.TotalShares, virtual))
}

// maxWithdraw is the owner's redeemable assets capped by vault cash.
func maxWithdraw(v *Vault, pos *Position) (*uint256.Int, error) {
	assets, err := toAssetsDown(v, pos.Shares)
	if err != nil {
		return nil, err
	}
	return minInt(assets, v.Cash), nil
}

func (e *Engine) deposit(c *callContext, op Operation) (OpResult, error) {
	if err := e.guard(OpDeposit); err != nil {
		return OpResult{}, err
	}
	receiver := defaultAddress(op.Receiver, c.caller)
	v, err := e.loadVault(c.view(), op.Vault)
	if err != nil {
		return OpResult{}, err
	}
	assets := cloneInt(op.Amount)
	if isMax(assets) {
		if assets, err = bank.BalanceOf(c.state, v.Asset, c.caller); err != nil {
			return OpResult{}, err
		}
	}
	if assets.IsZero() {
		return OpResult{Kind: OpDeposit, Amount: zero()}, nil
	}
	shares, err := toSharesDown(v, assets)
	if err != nil {
		return OpResult{}, err
	}
	if shares.IsZero() {
		return OpResult{}, ErrZeroShares
	}
	if err := e.credit(c, v, receiver, assets, shares); err != nil {
		return OpResult{}, err
	}
	c.emit(OpDeposit, map[string]string{
		"vault": v.Address.Hex(), "sender": c.caller.Hex(), "receiver": receiver.Hex(),
		"assets": assets.Dec(), "shares": shares.Dec(),
	})
	return OpResult{Kind: OpDeposit, Amount: shares}, nil
}

func (e *Engine) mint(c *callContext, op Operation) (OpResult, error) {
	if err := e.guard(OpMint); err != nil {
		return OpResult{}, err
	}
	receiver := defaultAddress(op.Receiver, c.caller)
	v, err := e.loadVault(c.view(), op.Vault)
	if err != nil {
		return OpResult{}, err
	}
	shares := cloneInt(op.Amount)
	if shares.IsZero() {
		return OpResult{Kind: OpMint, Amount: zero()}, nil
	}
	assets, err := toAssetsUp(v, shares)
	if err != nil {
		return OpResult{}, err
	}
	if assets.IsZero() {
		return OpResult{}, ErrZeroAssets
	}
	if err := e.credit(c, v, receiver, assets, shares); err != nil {
		return OpResult{}, err
	}
	c.emit(OpMint, map[string]string{
		"vault": v.Address.Hex(), "sender": c.caller.Hex(), "receiver": receiver.Hex(),
		"assets": assets.Dec(), "shares": shares.Dec(),
	})
	return OpResult{Kind: OpMint, Amount: assets}, nil
}

// credit pulls assets from the caller and mints shares to receiver.
func (e *Engine) credit(c *callContext, v *Vault, receiver crypto.Address, assets, shares *uint256.Int) error {
	if receiver.IsZero() {
		return ErrBadAddress
	}
	c.requireVaultCheck(v)
	cash, err := checkedAdd(v.Cash, assets)
	if err != nil {
		return err
	}
	supply, err := checkedAdd(v.TotalShares, shares)
	if err != nil {
		return err
	}
	if err := bank.Transfer(c.state, v.Asset, c.caller, v.Address, assets); err != nil {
		return err
	}
	pos, err := e.loadPosition(c.view(), v, receiver)
	if err != nil {
		return err
	}
	pos.Shares.Add(pos.Shares, shares)
	v.Cash = cash
	v.TotalShares = supply
	if err := c.state.PutPosition(pos); err != nil {
		return err
	}
	return c.state.PutVault(v)
}

func (e *Engine) withdraw(c *callContext, op Operation) (OpResult, error) {
	if err := e.guard(OpWithdraw); err != nil {
		return OpResult{}, err
	}
	owner := defaultAddress(op.Owner, c.caller)
	receiver := defaultAddress(op.Receiver, c.caller)
	v, err := e.loadVault(c.view(), op.Vault)
	if err != nil {
		return OpResult{}, err
	}
	assets := cloneInt(op.Amount)
	if isMax(assets) {
		pos, err := e.loadPosition(c.view(), v, owner)
		if err != nil {
			return OpResult{}, err
		}
		if assets, err = maxWithdraw(v, pos); err != nil {
			return OpResult{}, err
		}
	}
	if assets.IsZero() {
		return OpResult{Kind: OpWithdraw, Amount: zero()}, nil
	}
	shares, err := toSharesUp(v, assets)
	if err != nil {
		return OpResult{}, err
	}
	if err := e.burn(c, v, owner, receiver, assets, shares); err != nil {
		return OpResult{}, err
	}
	c.emit(OpWithdraw, map[string]string{
		"vault": v.Address.Hex(), "sender": c.caller.Hex(), "owner": owner.Hex(), "receiver": receiver.Hex(),
		"assets": assets.Dec(), "shares": shares.Dec(),
	})
	return OpResult{Kind: OpWithdraw, Amount: shares}, nil
}

func (e *Engine) redeem(c *callContext, op Operation) (OpResult, error) {
	if err := e.guard(OpRedeem); err != nil {
		return OpResult{}, err
	}
	owner := defaultAddress(op.Owner, c.caller)
	receiver := defaultAddress(op.Receiver, c.caller)
	v, err := e.loadVault(c.view(), op.Vault)
	if err != nil {
		return OpResult{}, err
	}
	shares := cloneInt(op.Amount)
	if isMax(shares) {
		pos, err := e.loadPosition(c.view(), v, owner)
		if err != nil {
			return OpResult{}, err
		}
		shares = cloneInt(pos.Shares)
	}
	if shares.IsZero() {
		return OpResult{Kind: OpRedeem, Amount: zero()}, nil
	}
	assets, err := toAssetsDown(v, shares)
	if err != nil {
		return OpResult{}, err
	}
	if assets.IsZero() {
		return OpResult{}, ErrZeroAssets
	}
	if err := e.burn(c, v, owner, receiver, assets, shares); err != nil {
		return OpResult{}, err
	}
	c.emit(OpRedeem, map[string]string{
		"vault": v.Address.Hex(), "sender": c.caller.Hex(), "owner": owner.Hex(), "receiver": receiver.Hex(),
		"assets": assets.Dec(), "shares": shares.Dec(),
	})
	return OpResult{Kind: OpRedeem, Amount: assets}, nil
}

// burn removes shares from owner and pays assets to receiver. When the last
// shares of a debt-free vault are burned, leftover cash goes to the receiver
// so an empty vault holds no assets.
func (e *Engine) burn(c *callContext, v *Vault, owner, receiver crypto.Address, assets, shares *uint256.Int) error {
	if receiver.IsZero() {
		return ErrBadAddress
	}
	pos, err := e.loadPosition(c.view(), v, owner)
	if err != nil {
		return err
	}
	if pos.Shares.Lt(shares) {
		return ErrInsufficientBalance
	}
	if v.Cash.Lt(assets) {
		return ErrInsufficientCash
	}
	c.requireAccountCheck(owner)
	c.requireVaultCheck(v)
	if owner != c.caller {
		if err := e.spendAllowance(c, v.Address, owner, shares); err != nil {
			return err
		}
	}

	pos.Shares.Sub(pos.Shares, shares)
	v.TotalShares.Sub(v.TotalShares, shares)
	v.Cash.Sub(v.Cash, assets)
	payout := cloneInt(assets)
	if v.TotalShares.IsZero() && v.TotalBorrows.IsZero() && !v.Cash.IsZero() {
		payout.Add(payout, v.Cash)
		v.Cash = zero()
	}
	if err := bank.Transfer(c.state, v.Asset, v.Address, receiver, payout); err != nil {
		return err
	}
	if err := c.state.PutPosition(pos); err != nil {
		return err
	}
	return c.state.PutVault(v)
}

func (e *Engine) transfer(c *callContext, op Operation) (OpResult, error) {
	if err := e.guard(OpTransfer); err != nil {
		return OpResult{}, err
	}
	from := defaultAddress(op.From, c.caller)
	to := op.To
	if to.IsZero() {
		return OpResult{}, ErrBadAddress
	}
	if from == to {
		return OpResult{}, ErrSelfTransfer
	}
	v, err := e.loadVault(c.view(), op.Vault)
	if err != nil {
		return OpResult{}, err
	}
	fromPos, err := e.loadPosition(c.view(), v, from)
	if err != nil {
		return OpResult{}, err
	}
	shares := cloneInt(op.Amount)
	if isMax(shares) {
		shares = cloneInt(fromPos.Shares)
	}
	if shares.IsZero() {
		return OpResult{Kind: OpTransfer, Amount: zero()}, nil
	}
	if fromPos.Shares.Lt(shares) {
		return OpResult{}, ErrInsufficientBalance
	}
	c.requireAccountCheck(from)
	if from != c.caller {
		if err := e.spendAllowance(c, v.Address, from, shares); err != nil {
			return OpResult{}, err
		}
	}
	toPos, err := e.loadPosition(c.view(), v, to)
	if err != nil {
		return OpResult{}, err
	}
	fromPos.Shares.Sub(fromPos.Shares, shares)
	toPos.Shares.Add(toPos.Shares, shares)
	for _, p := range []*Position{fromPos, toPos} {
		if err := c.state.PutPosition(p); err != nil {
			return OpResult{}, err
		}
	}
	if err := c.state.PutVault(v); err != nil {
		return OpResult{}, err
	}
	c.emit(OpTransfer, map[string]string{
		"vault": v.Address.Hex(), "from": from.Hex(), "to": to.Hex(), "shares": shares.Dec(),
	})
	return OpResult{Kind: OpTransfer, Amount: shares}, nil
}

func (e *Engine) approve(c *callContext, op Operation) (OpResult, error) {
	if op.Spender.IsZero() {
		return OpResult{}, ErrBadAddress
	}
	if op.Spender == c.caller {
		return OpResult{}, ErrSelfApproval
	}
	if _, err := e.loadVault(c.view(), op.Vault); err != nil {
		return OpResult{}, err
	}
	amount := cloneInt(op.Amount)
	if err := c.state.PutAllowance(op.Vault, c.caller, op.Spender, amount); err != nil {
		return OpResult{}, err
	}
	c.emit(OpApprove, map[string]string{
		"vault": op.Vault.Hex(), "owner": c.caller.Hex(), "spender": op.Spender.Hex(), "shares": amount.Dec(),
	})
	return OpResult{Kind: OpApprove, Amount: amount}, nil
}

// spendAllowance consumes the caller's allowance over owner's shares. A
// maximum allowance is never decremented.
func (e *Engine) spendAllowance(c *callContext, vault, owner crypto.Address, shares *uint256.Int) error {
	allowance, err := c.state.GetAllowance(vault, owner, c.caller)
	if err != nil {
		return err
	}
	if isMax(allowance) {
		return nil
	}
	if allowance.Lt(shares) {
		return ErrInsufficientAllowance
	}
	return c.state.PutAllowance(vault, owner, c.caller, new(uint256.Int).Sub(allowance, shares))
}

func defaultAddress(addr, fallback crypto.Address) crypto.Address {
	if addr.IsZero() {
		return fallback
	}
	return addr
}
