package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

var (
	// Settlement(bytes32 listing,bytes32 buyer,bytes32 seller,bytes32 currency,uint256 total,uint256 sellerProceeds,uint256 fee,uint256 royalty,bytes32 royaltyShares,uint256 settledAt)
	settlementTypeHash = ethcrypto.Keccak256(
		[]byte("Settlement(bytes32 listing,bytes32 buyer,bytes32 seller,bytes32 currency,uint256 total,uint256 sellerProceeds,uint256 fee,uint256 royalty,bytes32 royaltyShares,uint256 settledAt)"),
	)

	receiptDomain = ethcrypto.Keccak256([]byte("nftmarket.receipt.v1"))
)

// ErrBadSignature is returned when a receipt signature does not verify.
var ErrBadSignature = errors.New("crypto: receipt signature does not match")

// ReceiptSigner signs settlement receipts with the operator key so buyers
// and sellers can check them off-line against Address().
type ReceiptSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewReceiptSigner wraps an operator key.
func NewReceiptSigner(key *ecdsa.PrivateKey) *ReceiptSigner {
	return &ReceiptSigner{key: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

// Address is the signer's checksummed address.
func (s *ReceiptSigner) Address() string {
	return s.address.Hex()
}

// SignSettlement returns a 0x-prefixed 65-byte r||s||v signature over the
// receipt digest. The Signature field of res is ignored.
func (s *ReceiptSigner) SignSettlement(res domain.SettlementResult) (string, error) {
	sig, err := ethcrypto.Sign(ReceiptDigest(res), s.key)
	if err != nil {
		return "", fmt.Errorf("crypto: sign receipt: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// VerifySettlement checks that res.Signature was produced by signer.
func VerifySettlement(res domain.SettlementResult, signer string) error {
	sig, err := hex.DecodeString(strings.TrimPrefix(res.Signature, "0x"))
	if err != nil || len(sig) != 65 {
		return ErrBadSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(ReceiptDigest(res), sig)
	if err != nil {
		return ErrBadSignature
	}
	if ethcrypto.PubkeyToAddress(*pub) != common.HexToAddress(signer) {
		return ErrBadSignature
	}
	return nil
}

// ReceiptDigest is keccak256(0x1901 || domain || structHash).
func ReceiptDigest(res domain.SettlementResult) []byte {
	shares := make([][]byte, 0, 2*len(res.RoyaltyShares))
	for _, sh := range res.RoyaltyShares {
		shares = append(shares, ethcrypto.Keccak256([]byte(sh.Recipient)), uint64To32Bytes(sh.Amount))
	}

	structHash := ethcrypto.Keccak256(
		concatBytes(
			settlementTypeHash,
			ethcrypto.Keccak256([]byte(res.ListingID)),
			ethcrypto.Keccak256([]byte(res.Buyer)),
			ethcrypto.Keccak256([]byte(res.Seller)),
			ethcrypto.Keccak256([]byte(res.Currency)),
			uint64To32Bytes(res.TotalPrice),
			uint64To32Bytes(res.SellerProceeds),
			uint64To32Bytes(res.FeeAmount),
			uint64To32Bytes(res.RoyaltyAmount),
			ethcrypto.Keccak256(concatBytes(shares...)),
			bigIntTo32Bytes(big.NewInt(res.SettledAt.UnixMicro())),
		),
	)
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, receiptDomain, structHash))
}

func uint64To32Bytes(v uint64) []byte {
	return bigIntTo32Bytes(new(big.Int).SetUint64(v))
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
