// Package derive computes deterministic, program-owned account addresses
// from a namespace and a list of seeds.
package derive

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Namespaces used by the marketplace.
const (
	NamespaceEscrowVault = "escrow_vault"
	NamespaceMetadata    = "metadata"
)

// Address hashes the namespace and seeds with keccak256 and returns the low
// 20 bytes as an EIP-55 checksummed hex address. Every part is length
// prefixed, so ("ab","c") and ("a","bc") derive different addresses.
func Address(namespace string, seeds ...string) string {
	buf := make([]byte, 0, 64)
	buf = appendPart(buf, namespace)
	for _, s := range seeds {
		buf = appendPart(buf, s)
	}
	hash := ethcrypto.Keccak256(buf)
	return common.BytesToAddress(hash[12:]).Hex()
}

// Vault returns the escrow account holding assetRef for listingID.
func Vault(listingID, assetRef string) string {
	return Address(NamespaceEscrowVault, listingID, assetRef)
}

func appendPart(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}
