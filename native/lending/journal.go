package lending

import (
	"github.com/holiman/uint256"

	"vaultledger/crypto"
)

type pairKey struct {
	a, b crypto.Address
}

type allowanceKey struct {
	vault, owner, spender crypto.Address
}

type writeKind uint8

const (
	writeVault writeKind = iota
	writePosition
	writeSets
	writeLTV
	writeAllowance
	writeBalance
)

type writeRef struct {
	kind writeKind
	key  any
}

// journal buffers every write made during a call on top of a parent state.
// Reads fall through to the parent for keys that were not written. Nothing
// reaches the parent until commit, so discarding the journal rolls the whole
// call back. Journals nest: a child journal commits into its parent.
type journal struct {
	parent engineState

	vaults     map[crypto.Address]*Vault
	positions  map[pairKey]*Position
	sets       map[crypto.Address]*AccountSets
	ltvs       map[pairKey]*LTVConfig
	allowances map[allowanceKey]*uint256.Int
	balances   map[pairKey]*uint256.Int

	// writes preserves first-write order so commits are deterministic.
	writes []writeRef
}

func newJournal(parent engineState) *journal {
	return &journal{
		parent:     parent,
		vaults:     make(map[crypto.Address]*Vault),
		positions:  make(map[pairKey]*Position),
		sets:       make(map[crypto.Address]*AccountSets),
		ltvs:       make(map[pairKey]*LTVConfig),
		allowances: make(map[allowanceKey]*uint256.Int),
		balances:   make(map[pairKey]*uint256.Int),
	}
}

func (j *journal) record(kind writeKind, key any, exists bool) {
	if !exists {
		j.writes = append(j.writes, writeRef{kind: kind, key: key})
	}
}

func (j *journal) GetVault(addr crypto.Address) (*Vault, error) {
	if v, ok := j.vaults[addr]; ok {
		return v.Clone(), nil
	}
	v, err := j.parent.GetVault(addr)
	if err != nil || v == nil {
		return nil, err
	}
	clone := v.Clone()
	clone.ensureDefaults()
	return clone, nil
}

func (j *journal) PutVault(v *Vault) error {
	_, exists := j.vaults[v.Address]
	j.vaults[v.Address] = v.Clone()
	j.record(writeVault, v.Address, exists)
	return nil
}

func (j *journal) VaultAddresses() ([]crypto.Address, error) {
	addrs, err := j.parent.VaultAddresses()
	if err != nil {
		return nil, err
	}
	seen := make(map[crypto.Address]struct{}, len(addrs))
	for _, addr := range addrs {
		seen[addr] = struct{}{}
	}
	for _, ref := range j.writes {
		if ref.kind != writeVault {
			continue
		}
		addr := ref.key.(crypto.Address)
		if _, ok := seen[addr]; !ok {
			seen[addr] = struct{}{}
			addrs = append(addrs, addr)
		}
	}
	return addrs, nil
}

func (j *journal) GetPosition(vault, account crypto.Address) (*Position, error) {
	if p, ok := j.positions[pairKey{vault, account}]; ok {
		return p.Clone(), nil
	}
	p, err := j.parent.GetPosition(vault, account)
	if err != nil || p == nil {
		return nil, err
	}
	return p.Clone(), nil
}

func (j *journal) PutPosition(p *Position) error {
	key := pairKey{p.Vault, p.Account}
	_, exists := j.positions[key]
	j.positions[key] = p.Clone()
	j.record(writePosition, key, exists)
	return nil
}

func (j *journal) GetAccountSets(account crypto.Address) (*AccountSets, error) {
	if s, ok := j.sets[account]; ok {
		return s.Clone(), nil
	}
	s, err := j.parent.GetAccountSets(account)
	if err != nil || s == nil {
		return nil, err
	}
	return s.Clone(), nil
}

func (j *journal) PutAccountSets(s *AccountSets) error {
	_, exists := j.sets[s.Account]
	j.sets[s.Account] = s.Clone()
	j.record(writeSets, s.Account, exists)
	return nil
}

func (j *journal) GetLTV(liability, collateral crypto.Address) (*LTVConfig, error) {
	if cfg, ok := j.ltvs[pairKey{liability, collateral}]; ok {
		return cfg.Clone(), nil
	}
	cfg, err := j.parent.GetLTV(liability, collateral)
	if err != nil || cfg == nil {
		return nil, err
	}
	return cfg.Clone(), nil
}

func (j *journal) PutLTV(cfg *LTVConfig) error {
	key := pairKey{cfg.Liability, cfg.Collateral}
	_, exists := j.ltvs[key]
	j.ltvs[key] = cfg.Clone()
	j.record(writeLTV, key, exists)
	return nil
}

func (j *journal) GetAllowance(vault, owner, spender crypto.Address) (*uint256.Int, error) {
	if amount, ok := j.allowances[allowanceKey{vault, owner, spender}]; ok {
		return cloneInt(amount), nil
	}
	amount, err := j.parent.GetAllowance(vault, owner, spender)
	if err != nil {
		return nil, err
	}
	return cloneInt(amount), nil
}

func (j *journal) PutAllowance(vault, owner, spender crypto.Address, amount *uint256.Int) error {
	key := allowanceKey{vault, owner, spender}
	_, exists := j.allowances[key]
	j.allowances[key] = cloneInt(amount)
	j.record(writeAllowance, key, exists)
	return nil
}

func (j *journal) GetTokenBalance(asset, account crypto.Address) (*uint256.Int, error) {
	if amount, ok := j.balances[pairKey{asset, account}]; ok {
		return cloneInt(amount), nil
	}
	amount, err := j.parent.GetTokenBalance(asset, account)
	if err != nil {
		return nil, err
	}
	return cloneInt(amount), nil
}

func (j *journal) PutTokenBalance(asset, account crypto.Address, amount *uint256.Int) error {
	key := pairKey{asset, account}
	_, exists := j.balances[key]
	j.balances[key] = cloneInt(amount)
	j.record(writeBalance, key, exists)
	return nil
}

// size reports the number of distinct records written.
func (j *journal) size() int { return len(j.writes) }

// commit flushes buffered writes into the parent in first-write order.
func (j *journal) commit() error {
	for _, ref := range j.writes {
		var err error
		switch ref.kind {
		case writeVault:
			err = j.parent.PutVault(j.vaults[ref.key.(crypto.Address)])
		case writePosition:
			err = j.parent.PutPosition(j.positions[ref.key.(pairKey)])
		case writeSets:
			err = j.parent.PutAccountSets(j.sets[ref.key.(crypto.Address)])
		case writeLTV:
			err = j.parent.PutLTV(j.ltvs[ref.key.(pairKey)])
		case writeAllowance:
			key := ref.key.(allowanceKey)
			err = j.parent.PutAllowance(key.vault, key.owner, key.spender, j.allowances[key])
		case writeBalance:
			key := ref.key.(pairKey)
			err = j.parent.PutTokenBalance(key.a, key.b, j.balances[key])
		}
		if err != nil {
			return err
		}
	}
	j.reset()
	return nil
}

func (j *journal) reset() {
	clear(j.vaults)
	clear(j.positions)
	clear(j.sets)
	clear(j.ltvs)
	clear(j.allowances)
	clear(j.balances)
	j.writes = j.writes[:0]
}
