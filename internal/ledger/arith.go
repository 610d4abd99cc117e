package ledger

import "math/bits"

func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrOverflow
	}
	return diff, nil
}

// mulDiv computes floor(a*b/d) with a 128-bit intermediate.
func mulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrOverflow
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, nil
}

// PlatformFee returns floor(amount * 40 / 10000) and the remaining net amount.
func PlatformFee(amount uint64) (fee, net uint64, err error) {
	fee, err = mulDiv(amount, PlatformFeeBasisPoints, BasisPointsDivisor)
	if err != nil {
		return 0, 0, err
	}
	net, err = checkedSub(amount, fee)
	if err != nil {
		return 0, 0, err
	}
	return fee, net, nil
}

// SavingsCut returns floor(amount * rate / 100).
func SavingsCut(amount uint64, rate uint8) (uint64, error) {
	return mulDiv(amount, uint64(rate), 100)
}
