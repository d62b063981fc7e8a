// Package fixedpoint implements exact scaled-integer money arithmetic.
// Every monetary value in the system is a big integer scaled by 10^8;
// no component above this package may do money math in floating point.
package fixedpoint

import (
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// Precision is the number of fractional decimal digits carried by a Decimal.
const Precision = 8

var (
	scaleFactor = big.NewInt(100_000_000) // 10^Precision
	decimalRe   = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
)

// Decimal is an immutable arbitrary-precision fixed-point number.
// The zero value is usable and equals 0.
type Decimal struct {
	units *big.Int // scaled by 10^Precision; nil means zero
}

// ParseError reports text that is not a valid decimal literal.
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("fixedpoint: invalid decimal %q", e.Input)
}

// DivisionError reports a divisor that is not a positive integer.
type DivisionError struct {
	Divisor int64
}

func (e *DivisionError) Error() string {
	return fmt.Sprintf("fixedpoint: divisor must be a positive integer, got %d", e.Divisor)
}

// Zero returns the decimal 0.
func Zero() Decimal {
	return Decimal{}
}

// FromInt converts a whole number into a Decimal.
func FromInt(n int64) Decimal {
	u := big.NewInt(n)
	u.Mul(u, scaleFactor)
	return Decimal{units: u}
}

// Parse converts text matching -?\d+(\.\d+)? into a Decimal.
// Fractional digits beyond Precision are TRUNCATED, not rounded. This is a
// fixed policy: parsing never invents value that was not in the input, and
// the ledger writer is responsible for emitting amounts at ledger scale.
func Parse(text string) (Decimal, error) {
	if !decimalRe.MatchString(text) {
		return Decimal{}, &ParseError{Input: text}
	}

	neg := strings.HasPrefix(text, "-")
	body := strings.TrimPrefix(text, "-")

	intPart := body
	fracPart := ""
	if dot := strings.IndexByte(body, '.'); dot >= 0 {
		intPart = body[:dot]
		fracPart = body[dot+1:]
	}

	if len(fracPart) > Precision {
		fracPart = fracPart[:Precision] // truncate, never round
	}
	fracPart += strings.Repeat("0", Precision-len(fracPart))

	units, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return Decimal{}, &ParseError{Input: text}
	}
	if neg {
		units.Neg(units)
	}
	return Decimal{units: units}, nil
}

// MustParse is Parse for compile-time constants; it panics on invalid input.
func MustParse(text string) Decimal {
	d, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Decimal) raw() *big.Int {
	if d.units == nil {
		return new(big.Int)
	}
	return d.units
}

// String renders the minimal decimal representation: no exponent, no
// trailing fractional zeros, "0" for zero.
func (d Decimal) String() string {
	u := d.raw()
	if u.Sign() == 0 {
		return "0"
	}

	abs := new(big.Int).Abs(u)
	quo, rem := new(big.Int).QuoRem(abs, scaleFactor, new(big.Int))

	var b strings.Builder
	if u.Sign() < 0 {
		b.WriteByte('-')
	}
	b.WriteString(quo.String())

	if rem.Sign() != 0 {
		frac := fmt.Sprintf("%0*d", Precision, rem)
		frac = strings.TrimRight(frac, "0")
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

// MarshalJSON renders the decimal as a JSON string so no reader is ever
// tempted to treat it as a float.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON parses a JSON string through Parse.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Add returns d + other.
func (d Decimal) Add(other Decimal) Decimal {
	return Decimal{units: new(big.Int).Add(d.raw(), other.raw())}
}

// Sub returns d - other.
func (d Decimal) Sub(other Decimal) Decimal {
	return Decimal{units: new(big.Int).Sub(d.raw(), other.raw())}
}

// Neg returns -d.
func (d Decimal) Neg() Decimal {
	return Decimal{units: new(big.Int).Neg(d.raw())}
}

// Abs returns |d|.
func (d Decimal) Abs() Decimal {
	return Decimal{units: new(big.Int).Abs(d.raw())}
}

// MulInt returns d * n for an integer n (exact, no rounding needed).
func (d Decimal) MulInt(n int64) Decimal {
	return Decimal{units: new(big.Int).Mul(d.raw(), big.NewInt(n))}
}

// DivIntHalfUp divides d by a positive integer and rounds the remainder
// half-up away from zero at the fixed scale.
func (d Decimal) DivIntHalfUp(n int64) (Decimal, error) {
	if n <= 0 {
		return Decimal{}, &DivisionError{Divisor: n}
	}

	divisor := big.NewInt(n)
	quo, rem := new(big.Int).QuoRem(d.raw(), divisor, new(big.Int))

	// QuoRem truncates toward zero; rem carries the dividend's sign.
	// Round away from zero when 2*|rem| >= divisor.
	twiceRem := new(big.Int).Abs(rem)
	twiceRem.Lsh(twiceRem, 1)
	if twiceRem.Cmp(divisor) >= 0 {
		if d.raw().Sign() < 0 {
			quo.Sub(quo, big.NewInt(1))
		} else {
			quo.Add(quo, big.NewInt(1))
		}
	}
	return Decimal{units: quo}, nil
}

// Cmp compares d and other: -1 if d < other, 0 if equal, +1 if d > other.
func (d Decimal) Cmp(other Decimal) int {
	return d.raw().Cmp(other.raw())
}

// Equal reports whether d and other represent the same value.
func (d Decimal) Equal(other Decimal) bool {
	return d.Cmp(other) == 0
}

// Sign returns -1, 0 or +1.
func (d Decimal) Sign() int {
	return d.raw().Sign()
}

// IsZero reports whether d is exactly zero.
func (d Decimal) IsZero() bool {
	return d.raw().Sign() == 0
}
