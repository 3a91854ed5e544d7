/*
Package generic provides the temporal interval and amortization engine.

PURPOSE:
  This package contains the domain-agnostic types and algorithms behind the
  annual rental tax figures. Whether the subject is a tenancy (target rent)
  or a managed unit (target condo fee), the same engine stores validity
  intervals, answers point-in-time questions, spreads repair costs across
  years and composes one summary per property and assessment year.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A money quantity (always EUR, cent precision when rounded)
  - Values: An ordered bundle of named amounts (e.g. net rent + fee advance)
  - Identifiers: Type-safe subject, interval and expense IDs

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Type Safety: Strong typing for IDs prevents mixing subject/interval IDs
  3. Projections: Summaries are computed from facts, never stored as truth

USAGE:
  values := generic.Values{
      {Key: "net_rent", Amount: generic.MustAmount("500.00")},
      {Key: "fee_advance", Amount: generic.MustAmount("120.00")},
  }
  total := values.Total() // 620.00

SEE ALSO:
  - interval.go: Validity interval store
  - amortization.go: Multi-year repair cost spreading
  - aggregator.go: Annual summary composition
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Money value (single currency)
// =============================================================================

// CentPlaces is the number of decimal places of the smallest currency unit.
const CentPlaces int32 = 2

type Amount struct {
	Value decimal.Decimal
}

func NewAmount(value float64) Amount {
	return Amount{Value: decimal.NewFromFloat(value)}
}

func NewAmountFromCents(cents int64) Amount {
	return Amount{Value: decimal.New(cents, -CentPlaces)}
}

// ParseAmount parses a decimal string such as "333.34".
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Value: d}, nil
}

// MustAmount is ParseAmount for literals. Panics on malformed input.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func ZeroAmount() Amount { return Amount{Value: decimal.Zero} }

func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s)} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg()} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }

// RoundCents rounds half-to-even to the smallest currency unit.
func (a Amount) RoundCents() Amount { return Amount{Value: a.Value.RoundBank(CentPlaces)} }

// String renders the amount with two decimals ("333.30").
func (a Amount) String() string { return a.Value.StringFixed(CentPlaces) }

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	return a.Value.UnmarshalJSON(data)
}

// SumAmounts adds up a list of amounts.
func SumAmounts(amounts ...Amount) Amount {
	total := ZeroAmount()
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// =============================================================================
// VALUES - Ordered bundle of named amounts
// =============================================================================

// NamedAmount is one entry of a Values bundle.
type NamedAmount struct {
	Key    string `json:"key"`
	Amount Amount `json:"amount"`
}

// Values is the Soll bundle carried by a validity interval. Order is
// significant and preserved through persistence.
type Values []NamedAmount

// Get returns the amount stored under key.
func (v Values) Get(key string) (Amount, bool) {
	for _, na := range v {
		if na.Key == key {
			return na.Amount, true
		}
	}
	return ZeroAmount(), false
}

// Total sums every amount in the bundle.
func (v Values) Total() Amount {
	total := ZeroAmount()
	for _, na := range v {
		total = total.Add(na.Amount)
	}
	return total
}

func (v Values) Keys() []string {
	keys := make([]string, len(v))
	for i, na := range v {
		keys[i] = na.Key
	}
	return keys
}

// Clone returns an independent copy of the bundle.
func (v Values) Clone() Values {
	if v == nil {
		return nil
	}
	out := make(Values, len(v))
	copy(out, v)
	return out
}

// Equal compares keys, order and amounts.
func (v Values) Equal(other Values) bool {
	if len(v) != len(other) {
		return false
	}
	for i := range v {
		if v[i].Key != other[i].Key || !v[i].Amount.Equal(other[i].Amount) {
			return false
		}
	}
	return true
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// SubjectID identifies a tenancy, a managed unit or a property.
type SubjectID string
type IntervalID string
type ExpenseID string
type PostingID string

// SubjectKind tells which Soll bundle a subject carries.
// Domain packages define the concrete kinds (see rental/types.go).
type SubjectKind string

// Subject is a tenancy or managed unit belonging to a property.
type Subject struct {
	ID         SubjectID
	PropertyID SubjectID
	Kind       SubjectKind
	Name       string

	// GoverningEnd is the end of the external contract governing the
	// subject (e.g. the management contract). nil = unbounded.
	GoverningEnd *TimePoint
}
