package ledger

import (
	"fmt"
	"math"
	"regexp"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// maxAmount is the largest count of minor units go-money can format.
var maxAmount = decimal.NewFromInt(math.MaxInt64)

// Amount is an exact count of minor units of the ledger currency.
//
// The zero value is a valid zero amount.
type Amount struct {
	value decimal.Decimal
}

// A returns the amount of v minor units.
func A[T int | int32 | int64 | uint | uint32](v T) Amount {
	return Amount{value: decimal.NewFromInt(int64(v))}
}

// String returns the count of minor units, as it would be typed.
func (a Amount) String() string { return a.value.String() }

func (a Amount) IsZero() bool              { return a.value.IsZero() }
func (a Amount) IsPositive() bool          { return a.value.IsPositive() }
func (a Amount) IsNegative() bool          { return a.value.IsNegative() }
func (a Amount) Equal(b Amount) bool       { return a.value.Equal(b.value) }
func (a Amount) LessThan(b Amount) bool    { return a.value.LessThan(b.value) }
func (a Amount) GreaterThan(b Amount) bool { return a.value.GreaterThan(b.value) }
func (a Amount) Add(b Amount) Amount       { return Amount{value: a.value.Add(b.value)} }
func (a Amount) Sub(b Amount) Amount       { return Amount{value: a.value.Sub(b.value)} }
func (a Amount) Int64() int64              { return a.value.IntPart() }
func (a Amount) Decimal() decimal.Decimal  { return a.value }

// Money converts the amount into a go-money value in currency.
func (a Amount) Money(currency string) *money.Money { return money.New(a.Int64(), currency) }

// Display formats the amount in currency, e.g. "$1.50" for 150 USD minor units.
func (a Amount) Display(currency string) string { return a.Money(currency).Display() }

// valid reports whether a is a balance the ledger can hold: a non-negative
// integer that fits in int64.
func (a Amount) valid() bool {
	return a.value.IsInteger() && !a.value.IsNegative() && a.value.LessThanOrEqual(maxAmount)
}

// MarshalJSON writes the amount as a bare JSON number.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.value.String()), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	return a.value.UnmarshalJSON(data)
}

// AmountParser validates user supplied amounts.
type AmountParser struct {
	pattern  *regexp.Regexp
	currency string
}

// NewAmountParser returns a parser for amounts in the configured currency.
func NewAmountParser(cfg Config) *AmountParser {
	return &AmountParser{
		pattern:  regexp.MustCompile(`^[0-9]+$`),
		currency: cfg.Currency,
	}
}

// Parse converts raw, a string of ASCII digits counting minor units, into an
// Amount.
//
// Signs, decimal points, spaces and anything else are rejected with
// ErrInvalidAmount. Zero is a valid amount; operations that need a strictly
// positive one check it themselves.
func (p *AmountParser) Parse(raw string) (Amount, error) {
	if !p.pattern.MatchString(raw) {
		return Amount{}, fmt.Errorf("%w: %q is not a whole number of minor units", ErrInvalidAmount, raw)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q: %w", ErrInvalidAmount, raw, err)
	}
	a := Amount{value: v}
	if !a.valid() {
		return Amount{}, fmt.Errorf("%w: %q is too large", ErrInvalidAmount, raw)
	}
	return a, nil
}

// Display formats a in the parser currency.
func (p *AmountParser) Display(a Amount) string { return a.Display(p.currency) }
