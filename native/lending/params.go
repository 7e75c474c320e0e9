package lending

import (
	"github.com/holiman/uint256"

	"vaultledger/crypto"
)

const (
	// DefaultMaxCollaterals bounds how many collateral vaults the risk
	// calculator visits per account.
	DefaultMaxCollaterals = 10
	// DefaultMaxLiquidationDiscountBps caps the liquidation discount at 20%.
	DefaultMaxLiquidationDiscountBps = 2_000
	// DefaultMaxBatchSize limits the number of items in a single batch.
	DefaultMaxBatchSize = 256
)

// Params groups the engine-wide limits.
type Params struct {
	// UnitOfAccount is the asset every oracle valuation is quoted in.
	UnitOfAccount crypto.Address
	// MaxCollaterals is the capacity of every account's collateral set and
	// controller set.
	MaxCollaterals int
	// MaxLiquidationDiscountBps bounds the discount a liquidator receives.
	// It must stay below 10000 so the discount factor is never zero.
	MaxLiquidationDiscountBps uint64
	// MaxInterestRate clamps the per-second ray rate returned by rate models.
	MaxInterestRate *uint256.Int
	MaxBatchSize    int
}

// DefaultMaxInterestRate allows at most 10,000% APR.
var DefaultMaxInterestRate = new(uint256.Int).Div(new(uint256.Int).Mul(ray, uint256.NewInt(100)), uint256.NewInt(secondsPerYear))

// EnsureDefaults fills unset limits.
func (p *Params) EnsureDefaults() {
	if p.MaxCollaterals <= 0 {
		p.MaxCollaterals = DefaultMaxCollaterals
	}
	if p.MaxLiquidationDiscountBps == 0 || p.MaxLiquidationDiscountBps >= bpsScale {
		p.MaxLiquidationDiscountBps = DefaultMaxLiquidationDiscountBps
	}
	if p.MaxInterestRate == nil || p.MaxInterestRate.IsZero() {
		p.MaxInterestRate = new(uint256.Int).Set(DefaultMaxInterestRate)
	}
	if p.MaxBatchSize <= 0 {
		p.MaxBatchSize = DefaultMaxBatchSize
	}
}

// ActionPauses exposes fine-grained switches for pausing individual flows.
// It satisfies the common PauseView used by the engine's guards.
type ActionPauses struct {
	Deposit   bool
	Withdraw  bool
	Transfer  bool
	Borrow    bool
	Repay     bool
	Liquidate bool
}

// IsPaused reports whether the named guard is paused.
func (p ActionPauses) IsPaused(module string) bool {
	switch module {
	case pauseKey(OpDeposit), pauseKey(OpMint):
		return p.Deposit
	case pauseKey(OpWithdraw), pauseKey(OpRedeem):
		return p.Withdraw
	case pauseKey(OpTransfer):
		return p.Transfer
	case pauseKey(OpBorrow), pauseKey(OpPullDebt), pauseKey(OpLoop):
		return p.Borrow
	case pauseKey(OpRepay), pauseKey(OpDeloop):
		return p.Repay
	case pauseKey(OpLiquidate):
		return p.Liquidate
	}
	return false
}

func pauseKey(kind OpKind) string {
	return EventType(kind)
}

// EventType is the type carried by events emitted for kind.
func EventType(kind OpKind) string {
	return moduleName + "." + string(kind)
}
