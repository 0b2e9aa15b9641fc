package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Minimal ERC-721 / ERC-20 / ERC-2981 surface the marketplace calls.
const tokenABIJSON = `[
  {"type":"function","name":"transferFrom","stateMutability":"nonpayable",
   "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"ownerOf","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"royaltyInfo","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"},{"name":"salePrice","type":"uint256"}],
   "outputs":[{"name":"receiver","type":"address"},{"name":"royaltyAmount","type":"uint256"}]}
]`

var tokenABI = mustParseABI(tokenABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("evm: parse abi: %v", err))
	}
	return parsed
}

// assetID is an ERC-721 token on a contract.
type assetID struct {
	contract common.Address
	tokenID  *big.Int
}

// parseAssetRef accepts "<contract>/<tokenId>" or a bare decimal token id
// on the default collection.
func parseAssetRef(ref string, defaultContract common.Address) (assetID, error) {
	contract := defaultContract
	id := ref
	if c, t, ok := strings.Cut(ref, "/"); ok {
		if !common.IsHexAddress(c) {
			return assetID{}, fmt.Errorf("evm: asset ref %q: bad contract", ref)
		}
		contract, id = common.HexToAddress(c), t
	}
	if contract == (common.Address{}) {
		return assetID{}, fmt.Errorf("evm: asset ref %q: no contract", ref)
	}
	tokenID, ok := new(big.Int).SetString(id, 10)
	if !ok || tokenID.Sign() < 0 {
		return assetID{}, fmt.Errorf("evm: asset ref %q: bad token id", ref)
	}
	return assetID{contract: contract, tokenID: tokenID}, nil
}

func parseAccount(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("evm: %q is not an address", s)
	}
	return common.HexToAddress(s), nil
}
