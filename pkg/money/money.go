// Package money parses, rounds and formats currency amounts.
//
// Amounts are decimal.Decimal end to end. Anything a user typed goes
// through Parse, which rejects malformed input instead of letting NaN
// style values leak into balance arithmetic.
package money

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrMalformed is returned when input is not a plain decimal amount.
	ErrMalformed = errors.New("money: malformed amount")
	// ErrOutOfRange is returned for amounts with more than MaxScale
	// decimals or MaxDigits whole digits.
	ErrOutOfRange = errors.New("money: amount out of range")
)

const (
	// MaxScale is the number of decimals an amount may carry.
	MaxScale = 2
	// MaxDigits bounds the whole part: amounts stay below 1e12.
	MaxDigits = 12
)

var plain = regexp.MustCompile(`^-?[0-9]+(\.[0-9]{1,2})?$`)

// Zero is the zero amount.
var Zero = decimal.Zero

// Parse reads a user supplied amount. A leading "$", thousands
// separators and surrounding whitespace are accepted. Exponents and
// more than two decimals are not.
func Parse(s string) (decimal.Decimal, error) {
	clean := strings.TrimSpace(s)
	clean = strings.TrimPrefix(clean, "$")
	clean = strings.ReplaceAll(clean, ",", "")
	if !plain.MatchString(clean) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	if err := Check(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// Check bounds an amount that did not come through Parse, such as a
// decoded JSON number. It looks only at exponent and coefficient size,
// so an input like 1e999999999 is refused without being expanded.
func Check(d decimal.Decimal) error {
	exp := int(d.Exponent())
	if exp < -MaxScale || exp > MaxDigits {
		return fmt.Errorf("%w: exponent %d", ErrOutOfRange, exp)
	}
	c := d.Coefficient()
	if c.BitLen() > 64 {
		return ErrOutOfRange
	}
	c.Abs(c)
	if c.Sign() != 0 && len(c.String())+exp > MaxDigits {
		return fmt.Errorf("%w: %s", ErrOutOfRange, d.String())
	}
	return nil
}

// MustParse is Parse for literals in tables and fixtures.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Cents rounds half away from zero to two places.
func Cents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Format renders d as US dollars, e.g. "$1,234.50" or "-$20.00".
func Format(d decimal.Decimal) string {
	d = Cents(d)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	s := d.StringFixed(2)
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + "$" + b.String() + "." + frac
}

// Percent returns d * pct / 100 rounded to cents.
func Percent(d decimal.Decimal, pct decimal.Decimal) decimal.Decimal {
	return Cents(d.Mul(pct).Div(decimal.NewFromInt(100)))
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Sum adds all amounts.
func Sum(ds ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, d := range ds {
		total = total.Add(d)
	}
	return total
}
