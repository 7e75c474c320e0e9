package lending

import (
	"vaultledger/crypto"
)

// addressSet is a small ordered set. Membership tests are linear, which is
// cheapest at the capacities the engine allows.
type addressSet []crypto.Address

func (s addressSet) contains(addr crypto.Address) bool {
	for _, member := range s {
		if member == addr {
			return true
		}
	}
	return false
}

// insert appends addr unless present. It reports whether the set grew and
// returns false without changes when the set is full.
func (s addressSet) insert(addr crypto.Address, capacity int) (addressSet, bool, bool) {
	if s.contains(addr) {
		return s, false, true
	}
	if len(s) >= capacity {
		return s, false, false
	}
	return append(s, addr), true, true
}

// remove deletes addr, preserving the order of the remaining members.
func (s addressSet) remove(addr crypto.Address) (addressSet, bool) {
	for i, member := range s {
		if member == addr {
			out := make(addressSet, 0, len(s)-1)
			out = append(out, s[:i]...)
			return append(out, s[i+1:]...), true
		}
	}
	return s, false
}

func (e *Engine) loadSets(r view, account crypto.Address) (*AccountSets, error) {
	sets, err := r.state.GetAccountSets(account)
	if err != nil {
		return nil, err
	}
	if sets == nil {
		return &AccountSets{Account: account}, nil
	}
	return sets.Clone(), nil
}

func (e *Engine) enableCollateral(c *callContext, op Operation) (OpResult, error) {
	account, sets, err := e.registryTarget(c, op)
	if err != nil {
		return OpResult{}, err
	}
	collaterals, added, ok := addressSet(sets.Collaterals).insert(op.Vault, e.params.MaxCollaterals)
	if !ok {
		return OpResult{}, ErrTooManyCollaterals
	}
	c.requireAccountCheck(account)
	if !added {
		return OpResult{Kind: OpEnableCollateral}, nil
	}
	sets.Collaterals = collaterals
	if err := c.state.PutAccountSets(sets); err != nil {
		return OpResult{}, err
	}
	c.emit(OpEnableCollateral, map[string]string{"vault": op.Vault.Hex(), "account": account.Hex()})
	return OpResult{Kind: OpEnableCollateral}, nil
}

func (e *Engine) disableCollateral(c *callContext, op Operation) (OpResult, error) {
	account, sets, err := e.registryTarget(c, op)
	if err != nil {
		return OpResult{}, err
	}
	c.requireAccountCheck(account)
	collaterals, removed := addressSet(sets.Collaterals).remove(op.Vault)
	if !removed {
		return OpResult{Kind: OpDisableCollateral}, nil
	}
	sets.Collaterals = collaterals
	if err := c.state.PutAccountSets(sets); err != nil {
		return OpResult{}, err
	}
	c.emit(OpDisableCollateral, map[string]string{"vault": op.Vault.Hex(), "account": account.Hex()})
	return OpResult{Kind: OpDisableCollateral}, nil
}

// enableController records the controller. A second distinct controller is
// accepted here and rejected by the account's status check, so a batch may
// hold two controllers while it refinances debt from one to the other.
func (e *Engine) enableController(c *callContext, op Operation) (OpResult, error) {
	account, sets, err := e.registryTarget(c, op)
	if err != nil {
		return OpResult{}, err
	}
	controllers, added, ok := addressSet(sets.Controllers).insert(op.Vault, e.params.MaxCollaterals)
	if !ok {
		return OpResult{}, ErrControllerViolation
	}
	c.requireAccountCheck(account)
	if !added {
		return OpResult{Kind: OpEnableController}, nil
	}
	sets.Controllers = controllers
	if err := c.state.PutAccountSets(sets); err != nil {
		return OpResult{}, err
	}
	c.emit(OpEnableController, map[string]string{"vault": op.Vault.Hex(), "account": account.Hex()})
	return OpResult{Kind: OpEnableController}, nil
}

// registryTarget authorizes a set edit and loads the account's sets. Only the
// account itself may edit them, and only registered vaults may be enabled.
func (e *Engine) registryTarget(c *callContext, op Operation) (crypto.Address, *AccountSets, error) {
	account := defaultAddress(op.Account, c.caller)
	if account != c.caller {
		return crypto.Address{}, nil, ErrUnauthorized
	}
	v, err := c.state.GetVault(op.Vault)
	if err != nil {
		return crypto.Address{}, nil, err
	}
	if v == nil {
		return crypto.Address{}, nil, ErrUnknownVault
	}
	sets, err := e.loadSets(c.view(), account)
	if err != nil {
		return crypto.Address{}, nil, err
	}
	return account, sets, nil
}
