package lending

import (
	"testing"

	"github.com/holiman/uint256"

	"vaultledger/crypto"
)

func TestJournalBuffersUntilCommit(t *testing.T) {
	state := newMockEngineState()
	if err := state.PutTokenBalance(assetTST, wallet, units(5)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	j := newJournal(state)

	if err := j.PutTokenBalance(assetTST, wallet, units(7)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := j.PutVault(&Vault{Address: vaultTST, Asset: assetTST}); err != nil {
		t.Fatalf("put vault: %v", err)
	}
	got, _ := j.GetTokenBalance(assetTST, wallet)
	expectAmount(t, "journal read", got, units(7))
	got, _ = state.GetTokenBalance(assetTST, wallet)
	expectAmount(t, "parent read", got, units(5))
	if v, _ := state.GetVault(vaultTST); v != nil {
		t.Fatal("vault leaked before commit")
	}

	addrs, err := j.VaultAddresses()
	if err != nil || len(addrs) != 1 || addrs[0] != vaultTST {
		t.Fatalf("journal vault addresses: %v %v", addrs, err)
	}

	if err := j.commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, _ = state.GetTokenBalance(assetTST, wallet)
	expectAmount(t, "committed", got, units(7))
	if j.size() != 0 {
		t.Fatalf("journal not reset, %d writes pending", j.size())
	}
}

func TestJournalReadsAreIsolated(t *testing.T) {
	state := newMockEngineState()
	j := newJournal(state)
	if err := j.PutVault(&Vault{Address: vaultTST, Cash: units(1)}); err != nil {
		t.Fatalf("put vault: %v", err)
	}
	v, _ := j.GetVault(vaultTST)
	v.Cash.SetUint64(0)
	again, _ := j.GetVault(vaultTST)
	expectAmount(t, "cash", again.Cash, units(1))
}

func TestNestedJournalCommitsIntoParent(t *testing.T) {
	state := newMockEngineState()
	outer := newJournal(state)
	inner := newJournal(outer)

	if err := inner.PutAllowance(vaultTST, wallet, wallet2, uint256.NewInt(9)); err != nil {
		t.Fatalf("put allowance: %v", err)
	}
	if err := inner.commit(); err != nil {
		t.Fatalf("inner commit: %v", err)
	}
	got, _ := outer.GetAllowance(vaultTST, wallet, wallet2)
	expectAmount(t, "outer", got, uint256.NewInt(9))
	got, _ = state.GetAllowance(vaultTST, wallet, wallet2)
	expectAmount(t, "root", got, zero())

	// Discarding the outer journal drops the inner writes too.
	outer.reset()
	got, _ = outer.GetAllowance(vaultTST, wallet, wallet2)
	expectAmount(t, "after reset", got, zero())
}

func TestCommitWritesInFirstWriteOrder(t *testing.T) {
	state := newMockEngineState()
	j := newJournal(state)
	for _, addr := range []crypto.Address{vaultTST3, vaultTST, vaultTST2, vaultTST3} {
		if err := j.PutVault(&Vault{Address: addr}); err != nil {
			t.Fatalf("put vault: %v", err)
		}
	}
	if err := j.commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(state.order) != 3 || state.order[0] != vaultTST3 || state.order[1] != vaultTST || state.order[2] != vaultTST2 {
		t.Fatalf("unexpected commit order: %v", state.order)
	}
}

type atomicMockState struct {
	*mockEngineState
	commits int
}

func (a *atomicMockState) Atomically(fn func() error) error {
	a.commits++
	return fn()
}

func TestEngineCommitsAtomicallyWhenSupported(t *testing.T) {
	f := newFixture(t)
	state := &atomicMockState{mockEngineState: f.state}
	f.engine.SetState(state)

	f.deposit(t, wallet, vaultTST, units(1))
	if state.commits != 1 {
		t.Fatalf("expected one atomic commit, got %d", state.commits)
	}
	if _, err := f.engine.Redeem(f.ctx, wallet, vaultTST, units(2), wallet, wallet); err == nil {
		t.Fatal("expected redeem to fail")
	}
	if state.commits != 1 {
		t.Fatalf("failed call reached the store, %d commits", state.commits)
	}
}
