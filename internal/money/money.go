// Package money provides fixed-point currency arithmetic.
//
// All amounts are carried as integer minor units (cents) so that balance
// and settlement computations are exact. Conversion to and from the
// major-unit decimal representation used on the wire goes through
// shopspring/decimal, never through float multiplication.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is a currency amount in integer minor units (1/100 of the major
// unit). Positive and negative values are both valid.
type Cents int64

// ParseCents converts a major-unit decimal string such as "12.34" into
// cents. Inputs with more than two fractional digits are rejected.
func ParseCents(s string) (Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	scaled := d.Mul(decimal.New(100, 0))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("amount %q has sub-cent precision", s)
	}
	return Cents(scaled.IntPart()), nil
}

// FromFloat converts a major-unit float (as produced by generic JSON
// decoding) into cents, rounding half away from zero.
func FromFloat(f float64) Cents {
	return Cents(decimal.NewFromFloat(f).Mul(decimal.New(100, 0)).Round(0).IntPart())
}

// Decimal returns the major-unit decimal value.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// Float returns the major-unit value as a float64, for display only.
func (c Cents) Float() float64 {
	f, _ := c.Decimal().Float64()
	return f
}

// String renders the amount in major units with two decimal places.
func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

// MarshalJSON encodes the amount as a major-unit decimal number, matching
// the session wire protocol (e.g. 12.34).
func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(c.Decimal().StringFixed(2)), nil
}

// UnmarshalJSON accepts either a JSON number or a quoted decimal string.
func (c *Cents) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseCents(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Abs returns the absolute value.
func (c Cents) Abs() Cents {
	if c < 0 {
		return -c
	}
	return c
}
