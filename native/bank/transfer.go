package bank

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"vaultledger/crypto"
)

var (
	// ErrInsufficientFunds is returned when the sender's token balance cannot
	// cover a transfer.
	ErrInsufficientFunds = errors.New("bank: insufficient token balance")
	// ErrBalanceOverflow is returned when a credit would overflow 256 bits.
	ErrBalanceOverflow = errors.New("bank: balance overflow")
)

// Ledger stores underlying token balances. The lending engine passes its call
// journal so token movements commit or roll back together with vault state.
type Ledger interface {
	GetTokenBalance(asset, account crypto.Address) (*uint256.Int, error)
	PutTokenBalance(asset, account crypto.Address, amount *uint256.Int) error
}

// BalanceOf returns the account's balance of asset, zero when unset.
func BalanceOf(ledger Ledger, asset, account crypto.Address) (*uint256.Int, error) {
	if ledger == nil {
		return nil, fmt.Errorf("bank: ledger required")
	}
	balance, err := ledger.GetTokenBalance(asset, account)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return new(uint256.Int), nil
	}
	return balance, nil
}

// Transfer moves amount of asset from one account to another. Zero-amount and
// self transfers succeed without touching the ledger.
func Transfer(ledger Ledger, asset, from, to crypto.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() || from == to {
		return nil
	}
	fromBalance, err := BalanceOf(ledger, asset, from)
	if err != nil {
		return err
	}
	if fromBalance.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, fromBalance.Dec(), amount.Dec())
	}
	toBalance, err := BalanceOf(ledger, asset, to)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(toBalance, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	if err := ledger.PutTokenBalance(asset, from, new(uint256.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return ledger.PutTokenBalance(asset, to, credited)
}

// Mint credits freshly issued tokens to an account. It backs genesis
// allocations and test faucets.
func Mint(ledger Ledger, asset, to crypto.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	balance, err := BalanceOf(ledger, asset, to)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(balance, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	return ledger.PutTokenBalance(asset, to, credited)
}
