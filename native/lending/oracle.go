package lending

import (
	"context"

	"github.com/holiman/uint256"

	"vaultledger/crypto"
)

// PriceOracle values an amount of base asset in the quote asset. GetQuotes
// returns the bid and ask sides; GetQuote returns the mid price.
type PriceOracle interface {
	GetQuote(ctx context.Context, amount *uint256.Int, base, quote crypto.Address) (*uint256.Int, error)
	GetQuotes(ctx context.Context, amount *uint256.Int, base, quote crypto.Address) (bid, ask *uint256.Int, err error)
}

type quoteSide uint8

const (
	sideMid quoteSide = iota
	sideBid
	sideAsk
)

// quote values amount of asset in the unit of account. Oracle errors are
// returned unchanged.
func (e *Engine) quote(ctx context.Context, amount *uint256.Int, asset crypto.Address, side quoteSide) (*uint256.Int, error) {
	if amount.IsZero() {
		return zero(), nil
	}
	if e.oracle == nil {
		return nil, ErrNilOracle
	}
	unit := e.params.UnitOfAccount
	if side == sideMid {
		return e.oracle.GetQuote(ctx, amount, asset, unit)
	}
	bid, ask, err := e.oracle.GetQuotes(ctx, amount, asset, unit)
	if err != nil {
		return nil, err
	}
	if side == sideBid {
		return bid, nil
	}
	return ask, nil
}
