package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAddressHexAndBech32(t *testing.T) {
	addr := DeriveAddress("vault:TST")
	require.False(t, addr.IsZero())

	fromHex, err := ParseAddress(addr.Hex())
	require.NoError(t, err)
	require.Equal(t, addr, fromHex)

	lower, err := ParseAddress(strings.ToLower(addr.Hex()))
	require.NoError(t, err)
	require.Equal(t, addr, lower)

	encoded := addr.Bech32(VaultPrefix)
	require.True(t, strings.HasPrefix(encoded, "vault1"))
	fromBech, err := ParseAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, addr, fromBech)
}

func TestParseAddressRejectsMalformed(t *testing.T) {
	for _, input := range []string{"", "0x1234", "not-an-address", "0xzz" + strings.Repeat("0", 38)} {
		_, err := ParseAddress(input)
		require.Error(t, err, input)
	}
}

func TestDeriveAddressIsDeterministic(t *testing.T) {
	require.Equal(t, DeriveAddress("asset:TST"), DeriveAddress(" asset:TST "))
	require.NotEqual(t, DeriveAddress("asset:TST"), DeriveAddress("asset:TST2"))
}

func TestAddressTextRoundTrip(t *testing.T) {
	addr := DeriveAddress("acct:alice")
	text, err := addr.MarshalText()
	require.NoError(t, err)
	var decoded Address
	require.NoError(t, decoded.UnmarshalText(text))
	require.Equal(t, addr, decoded)
}
