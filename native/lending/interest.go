package lending

import (
	"context"
	"math/big"

	"github.com/holiman/uint256"

	"vaultledger/crypto"
)

// RateModel returns the per-second borrow rate, scaled by 1e27, for a vault
// holding the supplied cash and outstanding borrows (both in assets).
type RateModel interface {
	ComputeRate(ctx context.Context, vault crypto.Address, cash, borrows *uint256.Int) (*uint256.Int, error)
}

// InterestModel encapsulates the parameters that shape how interest rates react
// to vault utilisation.
type InterestModel struct {
	// BaseRate is the minimum borrow APR applied when utilisation is zero.
	BaseRate *big.Rat
	// Slope1 is the borrow APR increase per unit of utilisation up to the
	// kink point.
	Slope1 *big.Rat
	// Slope2 governs the additional APR increase applied when utilisation
	// exceeds the kink point.
	Slope2 *big.Rat
	// Kink represents the utilisation ratio where the borrow rate slope
	// changes to encourage liquidity.
	Kink *big.Rat
}

// Clone returns a deep copy of the interest model.
func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	return &InterestModel{
		BaseRate: cloneRat(m.BaseRate),
		Slope1:   cloneRat(m.Slope1),
		Slope2:   cloneRat(m.Slope2),
		Kink:     cloneRat(m.Kink),
	}
}

// NewInterestModel constructs an interest model from floating point inputs.
//
// The parameters should be provided as decimals, e.g. a 2% base rate is
// expressed as 0.02 and an 80% kink utilisation is 0.8.
func NewInterestModel(baseRate, slope1, slope2, kink float64) *InterestModel {
	model := &InterestModel{
		BaseRate: new(big.Rat),
		Slope1:   new(big.Rat),
		Slope2:   new(big.Rat),
		Kink:     new(big.Rat),
	}
	model.BaseRate.SetFloat64(baseRate)
	model.Slope1.SetFloat64(slope1)
	model.Slope2.SetFloat64(slope2)
	model.Kink.SetFloat64(kink)
	return model
}

// Utilisation computes U = borrows / (cash + borrows). When no liquidity
// exists the utilisation is defined as zero.
func (m *InterestModel) Utilisation(cash, borrows *uint256.Int) *big.Rat {
	return utilisation(cash, borrows)
}

func utilisation(cash, borrows *uint256.Int) *big.Rat {
	if isZero(borrows) {
		return new(big.Rat)
	}
	total := new(big.Int).Add(cash.ToBig(), borrows.ToBig())
	return new(big.Rat).SetFrac(borrows.ToBig(), total)
}

// BorrowAPR derives the dynamic borrow APR based on the current utilisation.
func (m *InterestModel) BorrowAPR(cash, borrows *uint256.Int) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := cloneRat(m.BaseRate)
	utilisation := m.Utilisation(cash, borrows)
	if utilisation.Sign() == 0 {
		return rate
	}
	kink := cloneRat(m.Kink)
	slope1 := cloneRat(m.Slope1)
	slope2 := cloneRat(m.Slope2)
	if kink.Sign() == 0 || utilisation.Cmp(kink) <= 0 {
		return rate.Add(rate, new(big.Rat).Mul(slope1, utilisation))
	}
	rate.Add(rate, new(big.Rat).Mul(slope1, kink))
	excess := new(big.Rat).Sub(utilisation, kink)
	return rate.Add(rate, new(big.Rat).Mul(slope2, excess))
}

// supplyAPR is the share of borrow interest reaching lenders: the borrow APR
// scaled by utilisation, less the interest fee.
func supplyAPR(borrowAPR, utilisation *big.Rat, interestFeeBps uint64) *big.Rat {
	if borrowAPR.Sign() == 0 || utilisation.Sign() == 0 || interestFeeBps >= bpsScale {
		return new(big.Rat)
	}
	keep := new(big.Rat).SetFrac64(int64(bpsScale-interestFeeBps), bpsScale)
	supply := new(big.Rat).Mul(borrowAPR, utilisation)
	return supply.Mul(supply, keep)
}

// ComputeRate implements RateModel by converting the APR into a per-second
// ray rate.
func (m *InterestModel) ComputeRate(_ context.Context, _ crypto.Address, cash, borrows *uint256.Int) (*uint256.Int, error) {
	return RateFromAPR(m.BorrowAPR(cash, borrows)), nil
}

// FixedRate charges the same per-second ray rate regardless of utilisation.
type FixedRate struct {
	Rate *uint256.Int
}

// NewFixedAPR returns a fixed model charging apr (e.g. 0.1 for 10%) per year.
func NewFixedAPR(apr float64) *FixedRate {
	return &FixedRate{Rate: RateFromAPR(new(big.Rat).SetFloat64(apr))}
}

func (f *FixedRate) ComputeRate(context.Context, crypto.Address, *uint256.Int, *uint256.Int) (*uint256.Int, error) {
	if f == nil {
		return new(uint256.Int), nil
	}
	return cloneInt(f.Rate), nil
}

// ZeroRate never accrues interest.
var ZeroRate RateModel = &FixedRate{}

// APRFromRate annualises a per-second ray rate without compounding.
func APRFromRate(rate *uint256.Int) *big.Rat {
	if isZero(rate) {
		return new(big.Rat)
	}
	perYear := new(big.Int).Mul(rate.ToBig(), big.NewInt(secondsPerYear))
	return new(big.Rat).SetFrac(perYear, ray.ToBig())
}

// RateFromAPR converts an annual rate into a per-second rate scaled by 1e27,
// rounding down.
func RateFromAPR(apr *big.Rat) *uint256.Int {
	if apr == nil || apr.Sign() <= 0 {
		return new(uint256.Int)
	}
	scaled := new(big.Int).Mul(apr.Num(), ray.ToBig())
	scaled.Quo(scaled, new(big.Int).Mul(apr.Denom(), big.NewInt(secondsPerYear)))
	out, overflow := uint256.FromBig(scaled)
	if overflow {
		return new(uint256.Int).Set(MaxAmount)
	}
	return out
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}

// DefaultInterestModel provides a reasonable starting configuration featuring a
// kinked interest rate curve with a modest base rate.
var DefaultInterestModel = NewInterestModel(0.02, 0.15, 0.6, 0.8)
