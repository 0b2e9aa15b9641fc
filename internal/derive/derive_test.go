package derive

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressDeterministic(t *testing.T) {
	a := Address(NamespaceEscrowVault, "listing-1", "nft:7")
	b := Address(NamespaceEscrowVault, "listing-1", "nft:7")
	assert.Equal(t, a, b)
	require.True(t, common.IsHexAddress(a))
	assert.Equal(t, common.HexToAddress(a).Hex(), a, "address must be checksummed")
}

func TestAddressSeparatesInputs(t *testing.T) {
	seen := map[string]string{}
	cases := map[string]string{
		"vault":        Address(NamespaceEscrowVault, "listing-1", "nft:7"),
		"metadata":     Address(NamespaceMetadata, "listing-1", "nft:7"),
		"other id":     Address(NamespaceEscrowVault, "listing-2", "nft:7"),
		"shifted":      Address(NamespaceEscrowVault, "listing-1n", "ft:7"),
		"fewer seeds":  Address(NamespaceEscrowVault, "listing-1"),
		"merged seeds": Address(NamespaceEscrowVault, "listing-1nft:7"),
	}
	for name, addr := range cases {
		if prev, ok := seen[addr]; ok {
			t.Fatalf("%s collides with %s", name, prev)
		}
		seen[addr] = name
	}
}

func TestVault(t *testing.T) {
	assert.Equal(t, Address(NamespaceEscrowVault, "l", "a"), Vault("l", "a"))
}
