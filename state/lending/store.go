package lending

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"vaultledger/crypto"
	ledger "vaultledger/native/lending"
	"vaultledger/storage"
)

// SchemaVersion identifies the on-disk layout of the ledger records.
// Increment it whenever a stored record changes shape.
const SchemaVersion uint64 = 1

var (
	vaultPrefix     = []byte("lending/vault/")
	positionPrefix  = []byte("lending/position/")
	setsPrefix      = []byte("lending/sets/")
	ltvPrefix       = []byte("lending/ltv/")
	allowancePrefix = []byte("lending/allowance/")
	balancePrefix   = []byte("bank/balance/")
	vaultIndexKey   = ethcrypto.Keccak256([]byte("lending/vault-index"))
	versionKey      = ethcrypto.Keccak256([]byte("lending/version"))

	// ErrSchemaMismatch indicates the database was written by an incompatible
	// binary.
	ErrSchemaMismatch = errors.New("lending store: schema version mismatch")
	// ErrNestedCommit is returned when Atomically is re-entered.
	ErrNestedCommit = errors.New("lending store: commit already in progress")
)

// Store persists ledger records as RLP under keccak-hashed keys. It is driven
// by a single engine and is not safe for concurrent writers.
type Store struct {
	db storage.Database

	// batch and pending are set while Atomically runs: writes are buffered
	// in batch and mirrored in pending so reads observe them.
	batch   storage.Batch
	pending map[string][]byte
}

// NewStore opens a store over db, stamping the schema version on an empty
// database and rejecting a database written with another version.
func NewStore(db storage.Database) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("lending store: database required")
	}
	s := &Store{db: db}
	var version uint64
	ok, err := s.get(versionKey, &version)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := s.put(versionKey, SchemaVersion); err != nil {
			return nil, err
		}
		return s, nil
	}
	if version != SchemaVersion {
		return nil, fmt.Errorf("%w: stored %d, supported %d", ErrSchemaMismatch, version, SchemaVersion)
	}
	return s, nil
}

func hashKey(prefix []byte, parts ...crypto.Address) []byte {
	buf := make([]byte, 0, len(prefix)+len(parts)*crypto.AddressLength)
	buf = append(buf, prefix...)
	for _, part := range parts {
		buf = append(buf, part[:]...)
	}
	return ethcrypto.Keccak256(buf)
}

func (s *Store) get(key []byte, out interface{}) (bool, error) {
	var (
		data []byte
		err  error
	)
	if cached, ok := s.pending[string(key)]; ok {
		data = cached
	} else {
		data, err = s.db.Get(key)
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("lending store: decode: %w", err)
	}
	return true, nil
}

func (s *Store) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("lending store: encode: %w", err)
	}
	if s.batch != nil {
		s.batch.Put(key, encoded)
		s.pending[string(key)] = encoded
		return nil
	}
	return s.db.Put(key, encoded)
}

// Atomically runs fn with every write buffered into a single storage batch,
// which is applied only when fn succeeds.
func (s *Store) Atomically(fn func() error) error {
	if s.batch != nil {
		return ErrNestedCommit
	}
	s.batch = s.db.NewBatch()
	s.pending = make(map[string][]byte)
	defer func() {
		s.batch = nil
		s.pending = nil
	}()
	if err := fn(); err != nil {
		return err
	}
	if s.batch.Len() == 0 {
		return nil
	}
	return s.batch.Write()
}

// GetVault returns the stored vault, or nil when it was never registered.
func (s *Store) GetVault(addr crypto.Address) (*ledger.Vault, error) {
	vault := new(ledger.Vault)
	ok, err := s.get(hashKey(vaultPrefix, addr), vault)
	if err != nil || !ok {
		return nil, err
	}
	return vault, nil
}

// PutVault stores the vault and records it in the vault index on first write.
func (s *Store) PutVault(vault *ledger.Vault) error {
	if vault == nil {
		return fmt.Errorf("lending store: nil vault")
	}
	key := hashKey(vaultPrefix, vault.Address)
	existing, err := s.has(key)
	if err != nil {
		return err
	}
	if err := s.put(key, normaliseVault(vault)); err != nil {
		return err
	}
	if existing {
		return nil
	}
	index, err := s.VaultAddresses()
	if err != nil {
		return err
	}
	return s.put(vaultIndexKey, append(index, vault.Address))
}

func (s *Store) has(key []byte) (bool, error) {
	if _, ok := s.pending[string(key)]; ok {
		return true, nil
	}
	return s.db.Has(key)
}

// VaultAddresses lists registered vaults in registration order.
func (s *Store) VaultAddresses() ([]crypto.Address, error) {
	var index []crypto.Address
	if _, err := s.get(vaultIndexKey, &index); err != nil {
		return nil, err
	}
	return index, nil
}

func (s *Store) GetPosition(vault, account crypto.Address) (*ledger.Position, error) {
	position := new(ledger.Position)
	ok, err := s.get(hashKey(positionPrefix, vault, account), position)
	if err != nil || !ok {
		return nil, err
	}
	return position, nil
}

func (s *Store) PutPosition(position *ledger.Position) error {
	if position == nil {
		return fmt.Errorf("lending store: nil position")
	}
	record := *position
	record.Shares = orZero(position.Shares)
	record.Owed = orZero(position.Owed)
	record.InterestAccumulator = orZero(position.InterestAccumulator)
	return s.put(hashKey(positionPrefix, position.Vault, position.Account), &record)
}

func (s *Store) GetAccountSets(account crypto.Address) (*ledger.AccountSets, error) {
	sets := new(ledger.AccountSets)
	ok, err := s.get(hashKey(setsPrefix, account), sets)
	if err != nil || !ok {
		return nil, err
	}
	return sets, nil
}

func (s *Store) PutAccountSets(sets *ledger.AccountSets) error {
	if sets == nil {
		return fmt.Errorf("lending store: nil account sets")
	}
	return s.put(hashKey(setsPrefix, sets.Account), sets)
}

func (s *Store) GetLTV(liability, collateral crypto.Address) (*ledger.LTVConfig, error) {
	cfg := new(ledger.LTVConfig)
	ok, err := s.get(hashKey(ltvPrefix, liability, collateral), cfg)
	if err != nil || !ok {
		return nil, err
	}
	return cfg, nil
}

func (s *Store) PutLTV(cfg *ledger.LTVConfig) error {
	if cfg == nil {
		return fmt.Errorf("lending store: nil ltv")
	}
	return s.put(hashKey(ltvPrefix, cfg.Liability, cfg.Collateral), cfg)
}

func (s *Store) GetAllowance(vault, owner, spender crypto.Address) (*uint256.Int, error) {
	return s.getAmount(hashKey(allowancePrefix, vault, owner, spender))
}

func (s *Store) PutAllowance(vault, owner, spender crypto.Address, amount *uint256.Int) error {
	return s.put(hashKey(allowancePrefix, vault, owner, spender), orZero(amount))
}

func (s *Store) GetTokenBalance(asset, account crypto.Address) (*uint256.Int, error) {
	return s.getAmount(hashKey(balancePrefix, asset, account))
}

func (s *Store) PutTokenBalance(asset, account crypto.Address, amount *uint256.Int) error {
	return s.put(hashKey(balancePrefix, asset, account), orZero(amount))
}

func (s *Store) getAmount(key []byte) (*uint256.Int, error) {
	amount := new(uint256.Int)
	if _, err := s.get(key, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

func normaliseVault(v *ledger.Vault) *ledger.Vault {
	record := *v
	for _, field := range []**uint256.Int{
		&record.TotalShares, &record.Cash, &record.TotalBorrows, &record.InterestAccumulator,
		&record.InterestRate, &record.AccumulatedFees, &record.SupplyCap, &record.BorrowCap,
	} {
		*field = orZero(*field)
	}
	return &record
}
