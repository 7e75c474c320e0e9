package lending

import (
	"github.com/holiman/uint256"

	"vaultledger/crypto"
)

// engineState is the persistence contract the engine runs against. Getters
// return nil records (and zero amounts) for keys that were never written.
// Implementations may return shared pointers: the engine never mutates a
// record it has not obtained through its own journal.
type engineState interface {
	GetVault(addr crypto.Address) (*Vault, error)
	PutVault(vault *Vault) error
	VaultAddresses() ([]crypto.Address, error)
	GetPosition(vault, account crypto.Address) (*Position, error)
	PutPosition(position *Position) error
	GetAccountSets(account crypto.Address) (*AccountSets, error)
	PutAccountSets(sets *AccountSets) error
	GetLTV(liability, collateral crypto.Address) (*LTVConfig, error)
	PutLTV(cfg *LTVConfig) error
	GetAllowance(vault, owner, spender crypto.Address) (*uint256.Int, error)
	PutAllowance(vault, owner, spender crypto.Address, amount *uint256.Int) error
	GetTokenBalance(asset, account crypto.Address) (*uint256.Int, error)
	PutTokenBalance(asset, account crypto.Address, amount *uint256.Int) error
}

// atomicState is implemented by persistence layers that can apply every write
// made by fn as one unit. When fn fails nothing is written.
type atomicState interface {
	Atomically(fn func() error) error
}
