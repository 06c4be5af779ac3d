package money

import (
	"fmt"
	"math/big"
)

// Amount is a fixed-point monetary value with 8 decimal places.
// All balances, stakes, payouts, and prices share this scale so that
// arithmetic stays in int64 and comparisons are exact.
type Amount int64

const (
	// Decimals is the number of fractional digits in an Amount.
	Decimals = 8
	// Scale is 10^Decimals. One whole unit equals Scale base units.
	Scale int64 = 100_000_000
)

const (
	// MultiplierDecimals is the fractional precision of payout multipliers.
	MultiplierDecimals = 4
	// MultiplierScale is 10^MultiplierDecimals. A 2.0x multiplier is 20000.
	MultiplierScale int64 = 10_000
)

// FromUnits converts whole units into an Amount.
func FromUnits(units int64) Amount {
	return Amount(units * Scale)
}

// String renders the amount as a decimal string, e.g. "12.50000000".
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%08d", sign, v/Scale, v%Scale)
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // banker's rounding
	RoundDown
	RoundUp
)

// MulMultiplier computes stake * multiplier at full precision and scales
// the product back to Amount precision. The intermediate runs through
// big.Int so the int64 range cannot overflow mid-calculation.
func MulMultiplier(stake Amount, multiplier int64) Amount {
	product := new(big.Int).Mul(big.NewInt(int64(stake)), big.NewInt(multiplier))
	return Amount(divideScaled(product, MultiplierScale, RoundHalfEven))
}

// divideScaled divides a big.Int numerator by an int64 denominator with
// the requested rounding applied to the truncated quotient.
func divideScaled(numerator *big.Int, denominator int64, mode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := new(big.Int)
	remainder := new(big.Int)
	quotient.DivMod(numerator, denom, remainder)

	result := quotient.Int64()
	if remainder.Sign() == 0 {
		return result
	}

	switch mode {
	case RoundHalfEven:
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)
		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	case RoundUp:
		result++
	case RoundDown:
		// truncation already happened
	}

	return result
}
