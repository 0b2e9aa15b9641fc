// Package fees divides sale proceeds between seller, marketplace and
// creators. Everything here is pure integer arithmetic.
package fees

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// MaxBps is 100% expressed in basis points.
const MaxBps = 10_000

// Result is the outcome of Split. SellerProceeds absorbs every unit lost to
// floor division, so the three amounts always add up to the total.
type Result struct {
	SellerProceeds uint64
	FeeAmount      uint64
	RoyaltyAmount  uint64
}

// Split computes the marketplace fee and creator royalty on total using
// floor division. It fails with domain.ErrInvalidBps when either rate or
// their sum exceeds MaxBps.
func Split(total uint64, feeBps, royaltyBps uint32) (Result, error) {
	if feeBps > MaxBps || royaltyBps > MaxBps || feeBps+royaltyBps > MaxBps {
		return Result{}, fmt.Errorf("fees: fee %d bps + royalty %d bps: %w", feeBps, royaltyBps, domain.ErrInvalidBps)
	}

	fee := bpsOf(total, feeBps)
	royalty := bpsOf(total, royaltyBps)

	return Result{
		SellerProceeds: total - fee - royalty,
		FeeAmount:      fee,
		RoyaltyAmount:  royalty,
	}, nil
}

// bpsOf returns floor(total * bps / MaxBps). The product is taken in 256-bit
// space because total*bps overflows uint64 for large totals.
func bpsOf(total uint64, bps uint32) uint64 {
	if bps == 0 || total == 0 {
		return 0
	}
	v := new(uint256.Int).SetUint64(total)
	v.Mul(v, uint256.NewInt(uint64(bps)))
	v.Div(v, uint256.NewInt(MaxBps))
	return v.Uint64()
}

// Distribute divides amount equally among recipients. The remainder of the
// division goes to the first recipient. It returns nil when there are no
// recipients.
func Distribute(amount uint64, recipients []string) []domain.RoyaltyShare {
	if len(recipients) == 0 {
		return nil
	}

	n := uint64(len(recipients))
	each := amount / n
	rem := amount % n

	shares := make([]domain.RoyaltyShare, len(recipients))
	for i, r := range recipients {
		shares[i] = domain.RoyaltyShare{Recipient: r, Amount: each}
	}
	shares[0].Amount += rem
	return shares
}
