package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrValidation is returned when a monetary or quantity value is malformed or would go negative.
var ErrValidation = errors.New("validation error")

// Money is an amount in minor units of the single configured currency.
type Money int64

// ParseMoney builds Money from an external string made of ASCII digits only.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrValidation)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: amount %q contains non-digits", ErrValidation, s)
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %v", ErrValidation, s, err)
	}
	return Money(v), nil
}

// Add returns m + o.
func (m Money) Add(o Money) (Money, error) {
	return checkMoney(m + o)
}

// Sub returns m - o, failing when the result would be negative.
func (m Money) Sub(o Money) (Money, error) {
	return checkMoney(m - o)
}

// MulInt multiplies by a non-negative integer.
func (m Money) MulInt(n int64) (Money, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: negative multiplier %d", ErrValidation, n)
	}
	if m < 0 {
		return 0, fmt.Errorf("%w: negative amount %d", ErrValidation, int64(m))
	}
	hi, lo := bits.Mul64(uint64(m), uint64(n))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d x %d overflows", ErrValidation, int64(m), n)
	}
	return checkMoney(Money(lo))
}

// MulQty multiplies by a quantity, rounding half-up to the minor unit.
func (m Money) MulQty(q Quantity) (Money, error) {
	if m < 0 || q < 0 {
		return 0, fmt.Errorf("%w: negative operand", ErrValidation)
	}
	hi, lo := bits.Mul64(uint64(m), uint64(q))
	if hi != 0 || lo > math.MaxInt64-QuantityScale/2 {
		return 0, fmt.Errorf("%w: %d x %s overflows", ErrValidation, int64(m), q)
	}
	return checkMoney(Money((lo + QuantityScale/2) / QuantityScale))
}

// Cmp returns -1, 0 or 1.
func (m Money) Cmp(o Money) int {
	switch {
	case m < o:
		return -1
	case m > o:
		return 1
	}
	return 0
}

func (m Money) Int64() int64 { return int64(m) }

func (m Money) String() string { return strconv.FormatInt(int64(m), 10) }

func checkMoney(m Money) (Money, error) {
	if m < 0 {
		return 0, fmt.Errorf("%w: negative amount %d", ErrValidation, int64(m))
	}
	return m, nil
}

// QuantityScale is the number of quantity units per whole item (3 decimals).
const QuantityScale = 1000

// MinQuantity is the smallest positive line quantity (0.001).
const MinQuantity Quantity = 1

// MaxQuantity is the largest value a numeric(12,3) column holds (999999999.999).
const MaxQuantity Quantity = 999_999_999_999

// Quantity is a non-negative decimal with exactly three fractional digits,
// stored as an integer count of thousandths.
type Quantity int64

// NewQuantity returns a whole-unit quantity.
func NewQuantity(units int64) Quantity { return Quantity(units * QuantityScale) }

// ParseQuantity parses "1", "1.5" or "0.125". More than three decimals is rejected.
func ParseQuantity(s string) (Quantity, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: quantity %q: %v", ErrValidation, s, err)
	}
	return quantityFromDecimal(d)
}

func quantityFromDecimal(d decimal.Decimal) (Quantity, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: negative quantity %s", ErrValidation, d)
	}
	if !d.Equal(d.Truncate(3)) {
		return 0, fmt.Errorf("%w: quantity %s has more than 3 decimals", ErrValidation, d)
	}
	if d.Shift(3).GreaterThan(decimal.NewFromInt(int64(MaxQuantity))) {
		return 0, fmt.Errorf("%w: quantity %s exceeds %s", ErrValidation, d, MaxQuantity)
	}
	return Quantity(d.Shift(3).IntPart()), nil
}

// Add returns q + o.
func (q Quantity) Add(o Quantity) (Quantity, error) {
	return checkQuantity(q + o)
}

// Sub returns q - o, failing when the result would be negative.
func (q Quantity) Sub(o Quantity) (Quantity, error) {
	return checkQuantity(q - o)
}

func checkQuantity(q Quantity) (Quantity, error) {
	if q < 0 {
		return 0, fmt.Errorf("%w: negative quantity", ErrValidation)
	}
	if q > MaxQuantity {
		return 0, fmt.Errorf("%w: quantity %s exceeds %s", ErrValidation, q, MaxQuantity)
	}
	return q, nil
}

// Decimal exposes the quantity as a decimal value.
func (q Quantity) Decimal() decimal.Decimal { return decimal.New(int64(q), -3) }

func (q Quantity) String() string { return q.Decimal().StringFixed(3) }

// Scan implements sql.Scanner for numeric(12,3) columns.
func (q *Quantity) Scan(src any) error {
	var d decimal.Decimal
	switch v := src.(type) {
	case nil:
		*q = 0
		return nil
	case int64:
		*q = Quantity(v * QuantityScale)
		return nil
	case []byte:
		if err := d.Scan(string(v)); err != nil {
			return err
		}
	default:
		if err := d.Scan(v); err != nil {
			return err
		}
	}
	parsed, err := quantityFromDecimal(d)
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

// Value implements driver.Valuer.
func (q Quantity) Value() (driver.Value, error) { return q.String(), nil }

func (q Quantity) MarshalJSON() ([]byte, error) { return []byte(q.String()), nil }

func (q *Quantity) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseQuantity(s)
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}
