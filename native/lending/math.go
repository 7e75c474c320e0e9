package lending

import "github.com/holiman/uint256"

const (
	secondsPerYear = 31_536_000

	// internalDebtShift extends debt precision so that interest accrued on
	// tiny balances is not lost to rounding between touches.
	internalDebtShift = 31

	// virtualDeposit is added to both total assets and total shares when
	// converting, which makes the exchange rate resistant to donation and
	// first-depositor inflation.
	virtualDeposit = 1_000_000

	bpsScale = 10_000
)

var (
	ray      = uint256.MustFromDecimal("1000000000000000000000000000") // 1e27 precision
	halfRay  = new(uint256.Int).Rsh(ray, 1)
	wad      = uint256.NewInt(1_000_000_000_000_000_000)
	bps      = uint256.NewInt(bpsScale)
	virtual  = uint256.NewInt(virtualDeposit)
	debtUnit = new(uint256.Int).Lsh(uint256.NewInt(1), internalDebtShift)

	// MaxAmount requests the entire available balance for the operation it is
	// passed to. It is resolved at execution time.
	MaxAmount = new(uint256.Int).SetAllOne()
)

func zero() *uint256.Int { return new(uint256.Int) }

func isMax(v *uint256.Int) bool {
	return v != nil && v.Eq(MaxAmount)
}

func isZero(v *uint256.Int) bool {
	return v == nil || v.IsZero()
}

func cloneInt(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

func minInt(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

// mulDivDown computes floor(x*y/d) with a 512-bit intermediate product.
func mulDivDown(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return z, nil
}

// mulDivUp computes ceil(x*y/d).
func mulDivUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	z, err := mulDivDown(x, y, d)
	if err != nil {
		return nil, err
	}
	if !new(uint256.Int).MulMod(x, y, d).IsZero() {
		if z.Eq(MaxAmount) {
			return nil, ErrAmountOverflow
		}
		z.AddUint64(z, 1)
	}
	return z, nil
}

func checkedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return z, nil
}

// saturatingSub returns a-b, or zero when b exceeds a.
func saturatingSub(a, b *uint256.Int) *uint256.Int {
	if b.Gt(a) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}

// rpow raises x (scaled by base) to the n-th power by repeated squaring,
// rounding every intermediate product half up. The boolean result reports an
// overflow of the 256-bit domain.
func rpow(x *uint256.Int, n uint64, base *uint256.Int) (*uint256.Int, bool) {
	if x.IsZero() {
		if n == 0 {
			return new(uint256.Int).Set(base), false
		}
		return new(uint256.Int), false
	}
	half := new(uint256.Int).Rsh(base, 1)
	z := new(uint256.Int).Set(base)
	if n%2 == 1 {
		z.Set(x)
	}
	acc := new(uint256.Int).Set(x)
	for n /= 2; n > 0; n /= 2 {
		sq, overflow := new(uint256.Int).MulOverflow(acc, acc)
		if overflow {
			return nil, true
		}
		if sq, overflow = sq.AddOverflow(sq, half); overflow {
			return nil, true
		}
		acc.Div(sq, base)
		if n%2 == 1 {
			prod, overflow := new(uint256.Int).MulOverflow(z, acc)
			if overflow {
				return nil, true
			}
			if prod, overflow = prod.AddOverflow(prod, half); overflow {
				return nil, true
			}
			z.Div(prod, base)
		}
	}
	return z, false
}

// toOwed converts an asset amount into extended-precision debt units.
func toOwed(assets *uint256.Int) (*uint256.Int, error) {
	if assets.BitLen() > 256-internalDebtShift {
		return nil, ErrAmountOverflow
	}
	return new(uint256.Int).Lsh(assets, internalDebtShift), nil
}

// owedToAssetsUp converts extended-precision debt into assets, rounding in
// favour of the vault.
func owedToAssetsUp(owed *uint256.Int) *uint256.Int {
	if owed == nil || owed.IsZero() {
		return new(uint256.Int)
	}
	out := new(uint256.Int).Rsh(owed, internalDebtShift)
	if !new(uint256.Int).And(owed, new(uint256.Int).SubUint64(debtUnit, 1)).IsZero() {
		out.AddUint64(out, 1)
	}
	return out
}

func applyBps(amount *uint256.Int, factor uint64) (*uint256.Int, error) {
	return mulDivDown(amount, uint256.NewInt(factor), bps)
}
