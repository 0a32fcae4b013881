package ledger

import "github.com/holiman/uint256"

func checkedAdd(a, b uint64) (uint64, error) {
	sum, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow || !sum.IsUint64() {
		return 0, errorf(KindNumericalOverflow, "%d + %d overflows", a, b)
	}
	return sum.Uint64(), nil
}

func checkedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, errorf(KindNumericalOverflow, "%d - %d underflows", a, b)
	}
	return a - b, nil
}

// mulDiv computes floor(a*b/c) with a 256-bit intermediate.
func mulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, errorf(KindNumericalOverflow, "division by zero")
	}
	product := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	product.Div(product, uint256.NewInt(c))
	if !product.IsUint64() {
		return 0, errorf(KindNumericalOverflow, "%d * %d / %d overflows", a, b, c)
	}
	return product.Uint64(), nil
}
