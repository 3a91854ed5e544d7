/*
amortization.go - Spreading repair costs over up to five assessment years

PURPOSE:
  A repair expense booked in year Y is either fully deductible in Y or, at the
  taxpayer's election, spread over 2-5 consecutive years starting in Y. This
  file computes the share falling due in any year.

ROUNDING:
  base  = round_half_even(total / n, cents)
  first = total - (n-1) * base      // the whole remainder lands in year Y
  other = base

  1000.00 over 3 years -> 333.34, 333.33, 333.33
  The shares always add up to the total exactly.

EXPLICIT SHARES:
  An expense may carry one share per year instead. They are validated to add
  up to the total and returned unchanged.

SEE ALSO:
  - aggregator.go: Sums the shares due in an assessment year
  - validation.go: ValidateSpread, ValidateShares
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// AmortizedExpense is a repair-type expense eligible for multi-year deduction.
// Immutable once created; corrections are new expenses.
type AmortizedExpense struct {
	ID          ExpenseID
	PropertyID  SubjectID
	OriginYear  int
	Total       Amount
	SpreadYears int
	Shares      []Amount // optional explicit per-year shares, len == SpreadYears
	Note        string
}

// NewAmortizedExpense validates the spread (and explicit shares, if any).
func NewAmortizedExpense(
	id ExpenseID,
	propertyID SubjectID,
	originYear int,
	total Amount,
	spreadYears int,
	shares []Amount,
	note string,
) (AmortizedExpense, error) {
	if err := ValidateSpread(id, spreadYears); err != nil {
		return AmortizedExpense{}, err
	}
	if err := ValidateShares(id, total, spreadYears, shares); err != nil {
		return AmortizedExpense{}, err
	}
	return AmortizedExpense{
		ID:          id,
		PropertyID:  propertyID,
		OriginYear:  originYear,
		Total:       total,
		SpreadYears: spreadYears,
		Shares:      append([]Amount(nil), shares...),
		Note:        note,
	}, nil
}

// FullyDeductible reports whether the expense is deducted entirely in its origin year.
func (e AmortizedExpense) FullyDeductible() bool { return e.SpreadYears == 1 }

// LastYear is the final year carrying a share.
func (e AmortizedExpense) LastYear() int { return e.OriginYear + e.SpreadYears - 1 }

// InWindow reports whether year lies in [OriginYear, LastYear].
func (e AmortizedExpense) InWindow(year int) bool {
	return year >= e.OriginYear && year <= e.LastYear()
}

// =============================================================================
// SHARE COMPUTATION
// =============================================================================

// ShareInYear returns the deductible share of e in year, zero outside its window.
func ShareInYear(e AmortizedExpense, year int) Amount {
	if e.SpreadYears < MinSpreadYears || !e.InWindow(year) {
		return ZeroAmount()
	}
	idx := year - e.OriginYear
	if len(e.Shares) == e.SpreadYears {
		return e.Shares[idx]
	}

	n := decimal.NewFromInt(int64(e.SpreadYears))
	base := Amount{Value: e.Total.Value.Div(n)}.RoundCents()
	if idx > 0 {
		return base
	}
	rest := base.Mul(decimal.NewFromInt(int64(e.SpreadYears - 1)))
	return e.Total.Sub(rest)
}

// YearShare is one row of an amortization table.
type YearShare struct {
	Year  int    `json:"year"`
	Share Amount `json:"share"`
}

// Schedule returns the per-year shares of e, origin year first.
func Schedule(e AmortizedExpense) []YearShare {
	rows := make([]YearShare, 0, e.SpreadYears)
	for y := e.OriginYear; y <= e.LastYear(); y++ {
		rows = append(rows, YearShare{Year: y, Share: ShareInYear(e, y)})
	}
	return rows
}

// SharesDueInYear sums the shares of every expense whose window includes year.
// With a five-year maximum spread this reaches back four years.
func SharesDueInYear(expenses []AmortizedExpense, year int) Amount {
	total := ZeroAmount()
	for _, e := range expenses {
		if e.InWindow(year) {
			total = total.Add(ShareInYear(e, year))
		}
	}
	return total
}
