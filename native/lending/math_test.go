package lending

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestMulDivRounding(t *testing.T) {
	down, err := mulDivDown(uint256.NewInt(10), uint256.NewInt(10), uint256.NewInt(3))
	if err != nil {
		t.Fatalf("mulDivDown: %v", err)
	}
	up, err := mulDivUp(uint256.NewInt(10), uint256.NewInt(10), uint256.NewInt(3))
	if err != nil {
		t.Fatalf("mulDivUp: %v", err)
	}
	if down.Uint64() != 33 || up.Uint64() != 34 {
		t.Fatalf("unexpected rounding: down=%d up=%d", down.Uint64(), up.Uint64())
	}
	exact, err := mulDivUp(uint256.NewInt(9), uint256.NewInt(2), uint256.NewInt(3))
	if err != nil || exact.Uint64() != 6 {
		t.Fatalf("exact division rounded: %v %v", exact, err)
	}

	// The intermediate product may exceed 256 bits.
	wide, err := mulDivDown(MaxAmount, ray, ray)
	if err != nil || !wide.Eq(MaxAmount) {
		t.Fatalf("wide product: %v %v", wide, err)
	}
	if _, err := mulDivDown(MaxAmount, uint256.NewInt(2), uint256.NewInt(1)); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := mulDivDown(uint256.NewInt(1), uint256.NewInt(1), zero()); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected division by zero, got %v", err)
	}
}

func TestRpow(t *testing.T) {
	two := new(uint256.Int).Mul(ray, uint256.NewInt(2))
	got, overflow := rpow(two, 10, ray)
	if overflow {
		t.Fatal("unexpected overflow")
	}
	expectAmount(t, "2^10", got, new(uint256.Int).Mul(ray, uint256.NewInt(1024)))

	got, _ = rpow(two, 0, ray)
	expectAmount(t, "x^0", got, ray)
	got, _ = rpow(zero(), 5, ray)
	expectAmount(t, "0^5", got, zero())

	if _, overflow := rpow(two, 300, ray); !overflow {
		t.Fatal("expected overflow for 2^300")
	}
}

func TestDebtPrecision(t *testing.T) {
	owed, err := toOwed(uint256.NewInt(5))
	if err != nil {
		t.Fatalf("toOwed: %v", err)
	}
	expectAmount(t, "round trip", owedToAssetsUp(owed), uint256.NewInt(5))
	owed.AddUint64(owed, 1)
	expectAmount(t, "rounded up", owedToAssetsUp(owed), uint256.NewInt(6))
	if _, err := toOwed(MaxAmount); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestInterestModelKink(t *testing.T) {
	model := NewInterestModel(0.02, 0.1, 1.0, 0.8)
	cash, borrows := units(50), units(50)
	apr, _ := model.BorrowAPR(cash, borrows).Float64()
	if apr < 0.0699 || apr > 0.0701 {
		t.Fatalf("unexpected APR below kink: %f", apr)
	}
	apr, _ = model.BorrowAPR(units(10), units(90)).Float64()
	if apr < 0.1999 || apr > 0.2001 {
		t.Fatalf("unexpected APR above kink: %f", apr)
	}
	supply, _ := supplyAPR(model.BorrowAPR(cash, borrows), model.Utilisation(cash, borrows), 1_000).Float64()
	if supply < 0.0314 || supply > 0.0316 {
		t.Fatalf("unexpected supply APY: %f", supply)
	}
	rate, err := model.ComputeRate(context.Background(), vaultTST, cash, borrows)
	if err != nil || rate.IsZero() {
		t.Fatalf("compute rate: %v %v", rate, err)
	}
	if model.Utilisation(units(1), zero()).Sign() != 0 {
		t.Fatal("idle vault utilisation should be zero")
	}
}
