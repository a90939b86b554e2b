package money

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
)

// Amounts are int64 fixed-point values at Scale (10^6, six decimal places).
// All stake/matched/payout arithmetic goes through big.Int intermediates so
// products never overflow and division rounding is explicit.
const (
	DecimalPrecision = 6
	Scale            = 1_000_000
)

// RoundingMode selects quotient rounding in DivideInt128.
type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown
	RoundUp
)

var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow.
// The caller must release the result with ReleaseInt128.
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// ReleaseInt128 returns an intermediate to the pool.
func ReleaseInt128(v *big.Int) {
	putInt128(v)
}

// DivideInt128 performs numerator / denominator with explicit rounding.
func DivideInt128(numerator *big.Int, denominator int64, mode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.QuoRem(numerator, denom, remainder)
	result := quotient.Int64()
	rem := remainder.Int64()

	switch mode {
	case RoundHalfEven:
		half := denominator / 2
		if rem > half {
			result++
		} else if rem == half && denominator%2 == 0 && result%2 != 0 {
			result++
		}
	case RoundUp:
		if rem != 0 {
			result++
		}
	case RoundDown:
		// Truncation already applied by QuoRem
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

// MulDiv computes a * b / denominator through an int128 intermediate.
func MulDiv(a, b, denominator int64, mode RoundingMode) int64 {
	num := MultiplyInt128(a, b)
	result := DivideInt128(num, denominator, mode)
	putInt128(num)
	return result
}

// Parse converts a decimal string ("12.50") into a fixed-point amount.
// At most DecimalPrecision fractional digits are accepted.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	} else if s[0] == '+' {
		s = s[1:]
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart = s[:i]
		fracPart = s[i+1:]
	}

	if intPart == "" && fracPart == "" {
		return 0, fmt.Errorf("malformed amount %q", s)
	}
	if len(fracPart) > DecimalPrecision {
		return 0, fmt.Errorf("amount %q exceeds %d decimal places", s, DecimalPrecision)
	}

	var units int64
	for _, c := range intPart {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("malformed amount %q", s)
		}
		d := int64(c - '0')
		if units > (1<<63-1-d)/10 {
			return 0, fmt.Errorf("amount %q overflows", s)
		}
		units = units*10 + d
	}

	var frac int64
	for _, c := range fracPart {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("malformed amount %q", s)
		}
		frac = frac*10 + int64(c-'0')
	}
	for i := len(fracPart); i < DecimalPrecision; i++ {
		frac *= 10
	}

	if units > ((1<<63-1)-frac)/Scale {
		return 0, fmt.Errorf("amount %q overflows", s)
	}

	v := units*Scale + frac
	if neg {
		v = -v
	}
	return v, nil
}

// Format renders a fixed-point amount as a decimal string with trailing
// fractional zeros trimmed ("12.5", "100").
func Format(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}

	units := v / Scale
	frac := v % Scale

	var s string
	if frac == 0 {
		s = fmt.Sprintf("%d", units)
	} else {
		s = strings.TrimRight(fmt.Sprintf("%d.%06d", units, frac), "0")
	}

	if neg {
		return "-" + s
	}
	return s
}

// FromUnits converts whole currency units into a fixed-point amount.
func FromUnits(units int64) int64 {
	return units * Scale
}
