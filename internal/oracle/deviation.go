package oracle

import (
	"math"

	"github.com/holiman/uint256"
)

var bpsUnit = uint256.NewInt(bpsDenominator)

// deviationBps measures |spot-ref| in basis points of ref, saturating at
// MaxUint64.
func deviationBps(spot, ref *uint256.Int) uint64 {
	if ref.IsZero() {
		return math.MaxUint64
	}
	d, overflow := new(uint256.Int).MulDivOverflow(absDiff(spot, ref), bpsUnit, ref)
	if overflow || !d.IsUint64() {
		return math.MaxUint64
	}
	return d.Uint64()
}

// withinTolerance reports whether |spot-ref|*10000 <= ref*toleranceBps,
// compared exactly rather than on the truncated bps figure.
func withinTolerance(spot, ref *uint256.Int, toleranceBps uint32) (bool, error) {
	lhs, err := mul(absDiff(spot, ref), bpsUnit)
	if err != nil {
		// The gap alone exceeds 2^256/1e4; no tolerance covers that.
		return false, nil
	}
	rhs, err := mul(ref, uint256.NewInt(uint64(toleranceBps)))
	if err != nil {
		return false, err
	}
	return !lhs.Gt(rhs), nil
}
