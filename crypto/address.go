package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable part used when rendering an
// address in bech32 form.
type AddressPrefix string

const (
	AccountPrefix AddressPrefix = "acct"
	VaultPrefix   AddressPrefix = "vault"
	AssetPrefix   AddressPrefix = "asset"
)

// AddressLength is the size of every ledger identifier in bytes.
const AddressLength = 20

// Address identifies accounts, vaults and underlying assets. It is a value
// type so it can be used directly as a map key.
type Address [AddressLength]byte

// ZeroAddress is the unset identifier.
var ZeroAddress Address

// BytesToAddress copies the trailing 20 bytes of b into an Address.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// DeriveAddress deterministically derives an identifier from a label, which
// lets configuration files name vaults and assets symbolically.
func DeriveAddress(label string) Address {
	return BytesToAddress(crypto.Keccak256([]byte(strings.TrimSpace(label))))
}

func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Hex renders the EIP-55 checksummed hexadecimal form.
func (a Address) Hex() string {
	return common.Address(a).Hex()
}

func (a Address) String() string {
	return a.Hex()
}

// Bech32 renders the address with the supplied human-readable prefix.
func (a Address) Bech32(prefix AddressPrefix) string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// MarshalText encodes the address as checksummed hex.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText accepts any form understood by ParseAddress.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress decodes an address expressed either as 0x-prefixed hex or as
// bech32 with any prefix.
func ParseAddress(value string) (Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Address{}, fmt.Errorf("address required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		if !common.IsHexAddress(trimmed) {
			return Address{}, fmt.Errorf("invalid hex address %q", value)
		}
		raw, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return Address{}, fmt.Errorf("invalid hex address %q: %w", value, err)
		}
		return BytesToAddress(raw), nil
	}
	_, decoded, err := bech32.Decode(trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, fmt.Errorf("address must be %d bytes long", AddressLength)
	}
	return BytesToAddress(conv), nil
}
