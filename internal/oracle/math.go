package oracle

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

// bpsDenominator is 100% expressed in basis points.
const bpsDenominator = 10_000

// maxDecimals bounds token decimals so 10^dec always fits in 256 bits with
// room to spare for the products below.
const maxDecimals = 36

// Scale is the 1e18 fixed-point unit of prices and answers.
var Scale = uint256.NewInt(1_000_000_000_000_000_000)

var pow10Table = func() [maxDecimals + 1]uint256.Int {
	var t [maxDecimals + 1]uint256.Int
	ten := uint256.NewInt(10)
	t[0].SetOne()
	for i := 1; i <= maxDecimals; i++ {
		t[i].Mul(&t[i-1], ten)
	}
	return t
}()

// pow10 returns 10^dec.
func pow10(dec uint8) (*uint256.Int, error) {
	if int(dec) > maxDecimals {
		return nil, fmt.Errorf("oracle: token decimals %d: %w", dec, domain.ErrArithmeticOverflow)
	}
	v := pow10Table[dec]
	return &v, nil
}

// mulDiv returns floor(x*y/d) using a 512-bit intermediate product.
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("oracle: division by zero: %w", domain.ErrArithmeticOverflow)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, domain.ErrArithmeticOverflow
	}
	return z, nil
}

func add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, domain.ErrArithmeticOverflow
	}
	return z, nil
}

func mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, domain.ErrArithmeticOverflow
	}
	return z, nil
}

// absDiff returns |x - y|.
func absDiff(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return new(uint256.Int).Sub(y, x)
	}
	return new(uint256.Int).Sub(x, y)
}
