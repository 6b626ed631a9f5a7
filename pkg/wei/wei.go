// Package wei implements arbitrary-precision handling of marketplace prices.
//
// Prices are denominated in wei, the smallest indivisible unit of value, and
// persisted as decimal strings. An [Amount] wraps a [math/big.Int] so that
// storage, comparison, and accumulation never pass through floating point —
// conversion to a human-readable ETH figure happens only at the display edge
// via [Amount.Display].
package wei

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrInvalidAmount is returned by [Parse] for strings that are not
// non-negative decimal integers.
var ErrInvalidAmount = errors.New("wei: invalid amount")

var (
	weiPerMilliETH = new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil)
	weiPerETH      = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

// Amount is a non-negative wei value. The zero value is 0 wei and ready to
// use. Amount is comparable via [Amount.Cmp], never via ==.
type Amount struct {
	i *big.Int
}

// Parse converts a decimal string into an [Amount]. The empty string parses
// as 0 wei (an unset price). Signs, decimal points, exponents, and non-digit
// characters are rejected with [ErrInvalidAmount].
func Parse(s string) (Amount, error) {
	if s == "" {
		return Amount{}, nil
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return Amount{}, fmt.Errorf("%w: %q is not a non-negative decimal integer", ErrInvalidAmount, s)
		}
	}
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Amount{i: i}, nil
}

// MustParse is like [Parse] but panics on error. For constants and tests.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Valid reports whether s parses as a wei amount.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// value returns the underlying integer, treating the zero Amount as 0.
func (a Amount) value() *big.Int {
	if a.i == nil {
		return new(big.Int)
	}
	return a.i
}

// Cmp compares a and b, returning -1, 0, or +1.
func (a Amount) Cmp(b Amount) int {
	return a.value().Cmp(b.value())
}

// IsZero reports whether a is 0 wei.
func (a Amount) IsZero() bool {
	return a.value().Sign() == 0
}

// Add returns a+b as a new Amount.
func (a Amount) Add(b Amount) Amount {
	return Amount{i: new(big.Int).Add(a.value(), b.value())}
}

// String returns the canonical decimal-string form used for persistence.
func (a Amount) String() string {
	return a.value().String()
}

// Sum totals amounts without intermediate rounding.
func Sum(amounts []Amount) Amount {
	total := new(big.Int)
	for _, a := range amounts {
		total.Add(total, a.value())
	}
	return Amount{i: total}
}

// Avg returns the arithmetic mean of amounts truncated to an integer number
// of wei. An empty slice averages to 0.
func Avg(amounts []Amount) Amount {
	if len(amounts) == 0 {
		return Amount{}
	}
	total := Sum(amounts)
	mean := new(big.Int).Quo(total.value(), big.NewInt(int64(len(amounts))))
	return Amount{i: mean}
}

// Display renders a as a human-readable price. Values below 0.001 ETH print
// in plain wei, values below 1 ETH in milli-ETH with three decimals, and
// everything else in ETH with trailing zeros trimmed down to one decimal:
//
//	500                 → "500 wei"
//	1000000000000000    → "1.000 mETH"
//	2000000000000000000 → "2.0 ETH"
func (a Amount) Display() string {
	v := a.value()
	switch {
	case v.Cmp(weiPerMilliETH) < 0:
		return v.String() + " wei"
	case v.Cmp(weiPerETH) < 0:
		// Milli-ETH with fixed three decimals: thousandths of a mETH are
		// units of 10^12 wei.
		quo, rem := new(big.Int).QuoRem(v, weiPerMilliETH, new(big.Int))
		thousandths := new(big.Int).Quo(rem, new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil))
		return fmt.Sprintf("%s.%03d mETH", quo, thousandths)
	default:
		quo, rem := new(big.Int).QuoRem(v, weiPerETH, new(big.Int))
		frac := strings.TrimRight(fmt.Sprintf("%018s", rem.String()), "0")
		if frac == "" {
			frac = "0"
		}
		return fmt.Sprintf("%s.%s ETH", quo, frac)
	}
}

// DisplayString parses s and renders it via [Amount.Display]. Invalid input
// falls back to the raw string suffixed with " wei" — display formatting must
// never fail a read path over a malformed stored price.
func DisplayString(s string) string {
	a, err := Parse(s)
	if err != nil {
		return s + " wei"
	}
	return a.Display()
}
