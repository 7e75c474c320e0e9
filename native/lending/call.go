package lending

import (
	"context"

	"github.com/holiman/uint256"

	"vaultledger/core/types"
	"vaultledger/crypto"
)

// view is a point-in-time reader. Vaults loaded through a view are accrued to
// now in memory; nothing is persisted.
type view struct {
	ctx   context.Context
	state engineState
	now   uint64
}

type vaultSnapshot struct {
	totalAssets  *uint256.Int
	totalBorrows *uint256.Int
}

// callContext carries everything scoped to one top-level engine call: the
// journal, the accounts and vaults awaiting status checks, and the events to
// publish on commit. A nested batch reuses the same context.
type callContext struct {
	ctx      context.Context
	caller   crypto.Address
	now      uint64
	deferred bool
	state    *journal

	accounts   []crypto.Address
	accountSet map[crypto.Address]struct{}
	vaults     []crypto.Address
	snapshots  map[crypto.Address]vaultSnapshot
	events     []types.Event
}

func newCallContext(ctx context.Context, caller crypto.Address, now uint64, state *journal, deferred bool) *callContext {
	return &callContext{
		ctx:        ctx,
		caller:     caller,
		now:        now,
		deferred:   deferred,
		state:      state,
		accountSet: make(map[crypto.Address]struct{}),
		snapshots:  make(map[crypto.Address]vaultSnapshot),
	}
}

func (c *callContext) view() view {
	return view{ctx: c.ctx, state: c.state, now: c.now}
}

// requireAccountCheck schedules a liquidity check for account. Each account
// is checked once however often it is scheduled.
func (c *callContext) requireAccountCheck(account crypto.Address) {
	if _, ok := c.accountSet[account]; ok {
		return
	}
	c.accountSet[account] = struct{}{}
	c.accounts = append(c.accounts, account)
}

func (c *callContext) isAccountCheckDeferred(account crypto.Address) bool {
	_, ok := c.accountSet[account]
	return ok
}

// requireVaultCheck schedules a cap check for v, snapshotting its totals the
// first time the vault is touched in this call.
func (c *callContext) requireVaultCheck(v *Vault) {
	if _, ok := c.snapshots[v.Address]; ok {
		return
	}
	c.snapshots[v.Address] = vaultSnapshot{
		totalAssets:  totalAssets(v),
		totalBorrows: owedToAssetsUp(v.TotalBorrows),
	}
	c.vaults = append(c.vaults, v.Address)
}

func (c *callContext) emit(kind OpKind, attrs map[string]string) {
	c.events = append(c.events, types.Event{Type: EventType(kind), Attributes: attrs})
}

type savepoint struct {
	accounts int
	vaults   int
	events   int
}

func (c *callContext) savepoint() savepoint {
	return savepoint{accounts: len(c.accounts), vaults: len(c.vaults), events: len(c.events)}
}

// restore drops checks and events recorded after sp.
func (c *callContext) restore(sp savepoint) {
	for _, account := range c.accounts[sp.accounts:] {
		delete(c.accountSet, account)
	}
	c.accounts = c.accounts[:sp.accounts]
	for _, vault := range c.vaults[sp.vaults:] {
		delete(c.snapshots, vault)
	}
	c.vaults = c.vaults[:sp.vaults]
	c.events = c.events[:sp.events]
}
