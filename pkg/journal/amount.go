package journal

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount wraps decimal.Decimal for currency and R-multiple values.
// JSON marshaling outputs a float64 number, while sums and ratios in the
// statistics engine use exact decimal arithmetic.
type Amount struct {
	decimal.Decimal
}

// MarshalJSON outputs as a JSON number (not a string).
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(a.Float(), 'f', -1, 64)), nil
}

// UnmarshalJSON accepts both JSON numbers and quoted strings.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	v, err := finiteAmount(Amount{d})
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Scan implements sql.Scanner, reading REAL columns as well as numeric text.
func (a *Amount) Scan(src any) error {
	if src == nil {
		a.Decimal = decimal.Zero
		return nil
	}
	switch v := src.(type) {
	case float64:
		a.Decimal = decimal.NewFromFloat(v)
		return nil
	case int64:
		a.Decimal = decimal.NewFromInt(v)
		return nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		a.Decimal = d
		return nil
	}
	return a.Decimal.Scan(src)
}

// Float returns the value rounded to 4 places as a float64.
func (a Amount) Float() float64 {
	f, _ := a.Round(4).Float64()
	return f
}

// Plus returns a + b.
func (a Amount) Plus(b Amount) Amount {
	return Amount{a.Add(b.Decimal)}
}

// NewAmount creates an Amount from a float64.
func NewAmount(f float64) Amount {
	return Amount{decimal.NewFromFloat(f)}
}

// NewAmountFromInt creates an Amount from an int64.
func NewAmountFromInt(i int64) Amount {
	return Amount{decimal.NewFromInt(i)}
}

// ParseAmount coerces a loosely typed wire value into an Amount.
// Numbers may arrive as JSON numbers, numeric strings or Go numeric types.
// Values outside the float64 range are rejected.
func ParseAmount(v any) (Amount, error) {
	a, err := parseAmount(v)
	if err != nil {
		return Amount{}, err
	}
	return finiteAmount(a)
}

func finiteAmount(a Amount) (Amount, error) {
	if math.IsInf(a.InexactFloat64(), 0) {
		return Amount{}, fmt.Errorf("out of range")
	}
	return a, nil
}

func parseAmount(v any) (Amount, error) {
	switch val := v.(type) {
	case nil:
		return Amount{}, fmt.Errorf("missing value")
	case Amount:
		return val, nil
	case decimal.Decimal:
		return Amount{val}, nil
	case float64:
		return amountFromFloat(val)
	case float32:
		return amountFromFloat(float64(val))
	case int:
		return NewAmountFromInt(int64(val)), nil
	case int32:
		return NewAmountFromInt(int64(val)), nil
	case int64:
		return NewAmountFromInt(val), nil
	case json.Number:
		return amountFromString(val.String())
	case string:
		return amountFromString(val)
	case []byte:
		return amountFromString(string(val))
	default:
		return Amount{}, fmt.Errorf("unsupported numeric type %T", v)
	}
}

func amountFromFloat(f float64) (Amount, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Amount{}, fmt.Errorf("non-finite number")
	}
	return NewAmount(f), nil
}

func amountFromString(s string) (Amount, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Amount{}, fmt.Errorf("empty numeric string")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Amount{}, fmt.Errorf("not a number: %q", s)
	}
	return Amount{d}, nil
}
