package lending

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/holiman/uint256"

	"vaultledger/crypto"
)

type mockEngineState struct {
	vaults     map[crypto.Address]*Vault
	order      []crypto.Address
	positions  map[pairKey]*Position
	sets       map[crypto.Address]*AccountSets
	ltvs       map[pairKey]*LTVConfig
	allowances map[allowanceKey]*uint256.Int
	balances   map[pairKey]*uint256.Int
	puts       int
	failPuts   error
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		vaults:     make(map[crypto.Address]*Vault),
		positions:  make(map[pairKey]*Position),
		sets:       make(map[crypto.Address]*AccountSets),
		ltvs:       make(map[pairKey]*LTVConfig),
		allowances: make(map[allowanceKey]*uint256.Int),
		balances:   make(map[pairKey]*uint256.Int),
	}
}

func (m *mockEngineState) put() error {
	m.puts++
	return m.failPuts
}

func (m *mockEngineState) GetVault(addr crypto.Address) (*Vault, error) {
	return m.vaults[addr].Clone(), nil
}

func (m *mockEngineState) PutVault(v *Vault) error {
	if err := m.put(); err != nil {
		return err
	}
	if _, ok := m.vaults[v.Address]; !ok {
		m.order = append(m.order, v.Address)
	}
	m.vaults[v.Address] = v.Clone()
	return nil
}

func (m *mockEngineState) VaultAddresses() ([]crypto.Address, error) {
	return append([]crypto.Address(nil), m.order...), nil
}

func (m *mockEngineState) GetPosition(vault, account crypto.Address) (*Position, error) {
	return m.positions[pairKey{vault, account}].Clone(), nil
}

func (m *mockEngineState) PutPosition(p *Position) error {
	if err := m.put(); err != nil {
		return err
	}
	m.positions[pairKey{p.Vault, p.Account}] = p.Clone()
	return nil
}

func (m *mockEngineState) GetAccountSets(account crypto.Address) (*AccountSets, error) {
	return m.sets[account].Clone(), nil
}

func (m *mockEngineState) PutAccountSets(s *AccountSets) error {
	if err := m.put(); err != nil {
		return err
	}
	m.sets[s.Account] = s.Clone()
	return nil
}

func (m *mockEngineState) GetLTV(liability, collateral crypto.Address) (*LTVConfig, error) {
	return m.ltvs[pairKey{liability, collateral}].Clone(), nil
}

func (m *mockEngineState) PutLTV(cfg *LTVConfig) error {
	if err := m.put(); err != nil {
		return err
	}
	m.ltvs[pairKey{cfg.Liability, cfg.Collateral}] = cfg.Clone()
	return nil
}

func (m *mockEngineState) GetAllowance(vault, owner, spender crypto.Address) (*uint256.Int, error) {
	return cloneInt(m.allowances[allowanceKey{vault, owner, spender}]), nil
}

func (m *mockEngineState) PutAllowance(vault, owner, spender crypto.Address, amount *uint256.Int) error {
	if err := m.put(); err != nil {
		return err
	}
	m.allowances[allowanceKey{vault, owner, spender}] = cloneInt(amount)
	return nil
}

func (m *mockEngineState) GetTokenBalance(asset, account crypto.Address) (*uint256.Int, error) {
	return cloneInt(m.balances[pairKey{asset, account}]), nil
}

func (m *mockEngineState) PutTokenBalance(asset, account crypto.Address, amount *uint256.Int) error {
	if err := m.put(); err != nil {
		return err
	}
	m.balances[pairKey{asset, account}] = cloneInt(amount)
	return nil
}

// mockOracle prices every asset in the unit of account at a fixed 1e18-scaled
// price. A non-zero spread widens bid and ask symmetrically.
type mockOracle struct {
	prices    map[crypto.Address]*uint256.Int
	spreadBps uint64
	err       error
}

func newMockOracle() *mockOracle {
	return &mockOracle{prices: make(map[crypto.Address]*uint256.Int)}
}

func (o *mockOracle) set(asset crypto.Address, price *uint256.Int) {
	o.prices[asset] = price
}

func (o *mockOracle) GetQuote(_ context.Context, amount *uint256.Int, base, _ crypto.Address) (*uint256.Int, error) {
	if o.err != nil {
		return nil, o.err
	}
	price, ok := o.prices[base]
	if !ok {
		return nil, fmt.Errorf("mock oracle: no price for %s", base.Hex())
	}
	return mulDivDown(amount, price, wad)
}

func (o *mockOracle) GetQuotes(ctx context.Context, amount *uint256.Int, base, quote crypto.Address) (*uint256.Int, *uint256.Int, error) {
	mid, err := o.GetQuote(ctx, amount, base, quote)
	if err != nil {
		return nil, nil, err
	}
	if o.spreadBps == 0 {
		return mid, cloneInt(mid), nil
	}
	bid, err := applyBps(mid, bpsScale-o.spreadBps)
	if err != nil {
		return nil, nil, err
	}
	ask, err := applyBps(mid, bpsScale+o.spreadBps)
	if err != nil {
		return nil, nil, err
	}
	return bid, ask, nil
}

func makeAddress(b byte) crypto.Address {
	var addr crypto.Address
	addr[0] = 0xAC
	addr[len(addr)-1] = b
	return addr
}

func units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), wad)
}

func dec(s string) *uint256.Int {
	return uint256.MustFromDecimal(s)
}

var (
	unitOfAccount = makeAddress(0x01)
	assetTST      = makeAddress(0x02)
	assetTST2     = makeAddress(0x03)
	vaultTST      = makeAddress(0x10)
	vaultTST2     = makeAddress(0x11)
	vaultTST3     = makeAddress(0x12)
	wallet        = makeAddress(0x20)
	wallet2       = makeAddress(0x21)
	wallet3       = makeAddress(0x22)
	feeReceiver   = makeAddress(0x30)
)

const genesis = 1_700_000_000

type fixture struct {
	ctx    context.Context
	engine *Engine
	state  *mockEngineState
	oracle *mockOracle
}

// newFixture registers three zero-rate vaults: vaultTST and vaultTST3 over
// TST, vaultTST2 over TST2. Both assets are priced at one unit of account.
// vaultTST2 is accepted as collateral for vaultTST at 30%.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:    context.Background(),
		engine: NewEngine(Params{UnitOfAccount: unitOfAccount}),
		state:  newMockEngineState(),
		oracle: newMockOracle(),
	}
	f.engine.SetState(f.state)
	f.engine.SetOracle(f.oracle)
	f.engine.SetTimestamp(genesis)
	f.oracle.set(assetTST, wad)
	f.oracle.set(assetTST2, wad)

	for _, cfg := range []VaultConfig{
		{Address: vaultTST, Asset: assetTST, Decimals: 18, RateModel: ZeroRate},
		{Address: vaultTST2, Asset: assetTST2, Decimals: 18, RateModel: ZeroRate},
		{Address: vaultTST3, Asset: assetTST, Decimals: 18, RateModel: ZeroRate},
	} {
		if err := f.engine.RegisterVault(f.ctx, cfg); err != nil {
			t.Fatalf("register vault: %v", err)
		}
	}
	f.setLTV(t, vaultTST, vaultTST2, 3_000, 3_000)
	for _, account := range []crypto.Address{wallet, wallet2, wallet3} {
		f.fund(t, assetTST, account, units(100))
		f.fund(t, assetTST2, account, units(100))
	}
	return f
}

func (f *fixture) setLTV(t *testing.T, liability, collateral crypto.Address, borrowBps, liquidationBps uint64) {
	t.Helper()
	err := f.engine.SetLTV(f.ctx, LTVConfig{
		Liability:         liability,
		Collateral:        collateral,
		BorrowLTVBps:      borrowBps,
		LiquidationLTVBps: liquidationBps,
	})
	if err != nil {
		t.Fatalf("set ltv: %v", err)
	}
}

func (f *fixture) fund(t *testing.T, asset, account crypto.Address, amount *uint256.Int) {
	t.Helper()
	if err := f.engine.Fund(f.ctx, asset, account, amount); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func (f *fixture) deposit(t *testing.T, account, vault crypto.Address, assets *uint256.Int) {
	t.Helper()
	if _, err := f.engine.Deposit(f.ctx, account, vault, assets, account); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func (f *fixture) advance(seconds uint64) {
	f.engine.SetTimestamp(f.engine.timestamp() + seconds)
}

func (f *fixture) tokenBalance(t *testing.T, asset, account crypto.Address) *uint256.Int {
	t.Helper()
	balance, err := f.engine.TokenBalance(f.ctx, asset, account)
	if err != nil {
		t.Fatalf("token balance: %v", err)
	}
	return balance
}

func (f *fixture) shares(t *testing.T, vault, account crypto.Address) *uint256.Int {
	t.Helper()
	balance, err := f.engine.BalanceOf(f.ctx, vault, account)
	if err != nil {
		t.Fatalf("balance of: %v", err)
	}
	return balance
}

func (f *fixture) debt(t *testing.T, vault, account crypto.Address) *uint256.Int {
	t.Helper()
	debt, err := f.engine.DebtOf(f.ctx, vault, account)
	if err != nil {
		t.Fatalf("debt of: %v", err)
	}
	return debt
}

// openBorrow gives wallet2 10 TST2 of collateral and a TST loan. wallet
// supplies the TST liquidity.
func (f *fixture) openBorrow(t *testing.T, borrowed *uint256.Int) {
	t.Helper()
	f.deposit(t, wallet, vaultTST, units(10))
	f.deposit(t, wallet2, vaultTST2, units(10))
	if err := f.engine.EnableCollateral(f.ctx, wallet2, wallet2, vaultTST2); err != nil {
		t.Fatalf("enable collateral: %v", err)
	}
	if err := f.engine.EnableController(f.ctx, wallet2, wallet2, vaultTST); err != nil {
		t.Fatalf("enable controller: %v", err)
	}
	if _, err := f.engine.Borrow(f.ctx, wallet2, vaultTST, borrowed, wallet2); err != nil {
		t.Fatalf("borrow: %v", err)
	}
}

func expectCode(t *testing.T, err error, target *Error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", target.Code())
	}
	if !errors.Is(err, target) {
		t.Fatalf("expected %s, got %v", target.Code(), err)
	}
	if code := ErrorCode(err); code != target.Code() {
		t.Fatalf("expected code %s, got %q", target.Code(), code)
	}
}

func expectAmount(t *testing.T, label string, got, want *uint256.Int) {
	t.Helper()
	if got == nil || !got.Eq(want) {
		t.Fatalf("unexpected %s: got %v want %s", label, got, want.Dec())
	}
}
