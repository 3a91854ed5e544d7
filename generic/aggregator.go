/*
aggregator.go - One annual summary per property and assessment year

PURPOSE:
  Composes the figures of the annual rental tax form from three kinds of
  facts:
    1. Direct postings of the year, totalled per category by the ledger
    2. Amortized repair shares falling due in the year (up to 4 years back)
    3. Soll intervals of the property's tenancies and managed units

FORMULA:
  TotalIncome     = Rent + FeeIncome + OtherIncome
  TotalDeductions = Depreciation + FullyDeductibleRepairs + AmortizedRepairShare
                  + GeneralCosts + Insurance + TravelOther
  Surplus         = TotalIncome - TotalDeductions

  ExpectedRent / ExpectedCondoFees / OccupiedMonths are informational and
  never enter the surplus.

FAILURE:
  Any collaborator error aborts the whole summary with AggregationFailure.
  A form figure built from partial data is worse than no figure.

SEE ALSO:
  - amortization.go: SharesDueInYear
  - period.go: MonthlySum, CoverageOf
*/
package generic

import (
	"context"
	"log/slog"

	"github.com/warp/rental-engine/logging"
)

// =============================================================================
// CATEGORIES
// =============================================================================

// Category classifies a posting for the annual summary.
type Category string

const (
	CategoryRent         Category = "rent"
	CategoryFeeIncome    Category = "fee_income"
	CategoryOtherIncome  Category = "other_income"
	CategoryDepreciation Category = "depreciation"
	CategoryRepairFull   Category = "repair_full" // explicitly fully deductible this year
	CategoryGeneralCost  Category = "general_cost"
	CategoryInsurance    Category = "insurance"
	CategoryTravelOther  Category = "travel_other"

	// Pseudo-categories used only to label aggregation failures.
	CategoryAmortization Category = "amortization"
	CategorySoll         Category = "soll"
)

// PostingCategories lists the categories a posting may carry.
var PostingCategories = []Category{
	CategoryRent, CategoryFeeIncome, CategoryOtherIncome, CategoryDepreciation,
	CategoryRepairFull, CategoryGeneralCost, CategoryInsurance, CategoryTravelOther,
}

// IsPostingCategory reports whether c is a valid posting category.
func IsPostingCategory(c Category) bool {
	for _, pc := range PostingCategories {
		if pc == c {
			return true
		}
	}
	return false
}

// Posting is a booked ledger entry. The aggregator only sees per-category
// totals of postings, through PostingSource.
type Posting struct {
	ID         PostingID `json:"id"`
	PropertyID SubjectID `json:"property_id"`
	BookedOn   TimePoint `json:"booked_on"`
	Category   Category  `json:"category"`
	Amount     Amount    `json:"amount"`
	Note       string    `json:"note,omitempty"`
}

// Subject kinds the aggregator reads Soll values for.
const (
	KindTenancy     SubjectKind = "tenancy"
	KindManagedUnit SubjectKind = "managed_unit"
)

// =============================================================================
// ANNUAL SUMMARY
// =============================================================================

// AnnualSummary is the computed, read-only result for one property and year.
type AnnualSummary struct {
	PropertyID SubjectID `json:"property_id"`
	Year       int       `json:"year"`

	RentIncome  Amount `json:"rent_income"`
	FeeIncome   Amount `json:"fee_income"`
	OtherIncome Amount `json:"other_income"`

	Depreciation           Amount `json:"depreciation"`
	FullyDeductibleRepairs Amount `json:"fully_deductible_repairs"`
	AmortizedRepairShare   Amount `json:"amortized_repair_share"`
	GeneralCosts           Amount `json:"general_costs"`
	Insurance              Amount `json:"insurance"`
	TravelOther            Amount `json:"travel_other"`

	TotalIncome     Amount `json:"total_income"`
	TotalDeductions Amount `json:"total_deductions"`
	Surplus         Amount `json:"surplus"`

	ExpectedRent      Amount `json:"expected_rent"`
	ExpectedCondoFees Amount `json:"expected_condo_fees"`
	OccupiedMonths    int    `json:"occupied_months"`
}

// Lines returns the summary as a plain key -> amount mapping for renderers.
func (s AnnualSummary) Lines() map[string]Amount {
	return map[string]Amount{
		"rent_income":              s.RentIncome,
		"fee_income":               s.FeeIncome,
		"other_income":             s.OtherIncome,
		"depreciation":             s.Depreciation,
		"fully_deductible_repairs": s.FullyDeductibleRepairs,
		"amortized_repair_share":   s.AmortizedRepairShare,
		"general_costs":            s.GeneralCosts,
		"insurance":                s.Insurance,
		"travel_other":             s.TravelOther,
		"total_income":             s.TotalIncome,
		"total_deductions":         s.TotalDeductions,
		"surplus":                  s.Surplus,
		"expected_rent":            s.ExpectedRent,
		"expected_condo_fees":      s.ExpectedCondoFees,
	}
}

// RentShortfall is expected minus booked rent (positive = less booked than due).
func (s AnnualSummary) RentShortfall() Amount {
	return s.ExpectedRent.Sub(s.RentIncome.Add(s.FeeIncome))
}

// =============================================================================
// AGGREGATOR
// =============================================================================

// AnnualAggregator is stateless; every call reads its inputs fresh.
type AnnualAggregator struct {
	Postings  PostingSource
	Expenses  ExpenseSource
	Subjects  SubjectSource  // optional: Soll figures are skipped when nil
	Intervals IntervalReader // optional, paired with Subjects
	Logger    *slog.Logger
}

// Summarize computes the AnnualSummary of property for year.
func (a *AnnualAggregator) Summarize(ctx context.Context, propertyID SubjectID, year int) (AnnualSummary, error) {
	fail := func(c Category, err error) (AnnualSummary, error) {
		if a.Logger != nil {
			a.Logger.WarnContext(ctx, "annual summary aborted",
				"property_id", propertyID, "year", year, "category", c,
				logging.Err(err))
		}
		return AnnualSummary{}, &AggregationFailure{PropertyID: propertyID, Year: year, Category: c, Err: err}
	}

	// 1. Direct postings
	totals := make(map[Category]Amount, len(PostingCategories))
	for _, c := range PostingCategories {
		total, err := a.Postings.PostingTotal(ctx, propertyID, year, c)
		if err != nil {
			return fail(c, err)
		}
		totals[c] = total
	}

	// 2 + 3. Amortized shares and fully deductible expenses
	expenses, err := a.Expenses.LoadExpenses(ctx, propertyID)
	if err != nil {
		return fail(CategoryAmortization, err)
	}
	var spread []AmortizedExpense
	fullyDeductible := totals[CategoryRepairFull]
	for _, e := range expenses {
		if e.FullyDeductible() {
			if e.OriginYear == year {
				fullyDeductible = fullyDeductible.Add(e.Total)
			}
			continue
		}
		if e.InWindow(year) {
			spread = append(spread, e)
		}
	}

	s := AnnualSummary{
		PropertyID:             propertyID,
		Year:                   year,
		RentIncome:             totals[CategoryRent],
		FeeIncome:              totals[CategoryFeeIncome],
		OtherIncome:            totals[CategoryOtherIncome],
		Depreciation:           totals[CategoryDepreciation],
		FullyDeductibleRepairs: fullyDeductible,
		AmortizedRepairShare:   SharesDueInYear(spread, year),
		GeneralCosts:           totals[CategoryGeneralCost],
		Insurance:              totals[CategoryInsurance],
		TravelOther:            totals[CategoryTravelOther],
		ExpectedRent:           ZeroAmount(),
		ExpectedCondoFees:      ZeroAmount(),
	}

	// 4. Surplus
	s.TotalIncome = SumAmounts(s.RentIncome, s.FeeIncome, s.OtherIncome)
	s.TotalDeductions = SumAmounts(
		s.Depreciation, s.FullyDeductibleRepairs, s.AmortizedRepairShare,
		s.GeneralCosts, s.Insurance, s.TravelOther,
	)
	s.Surplus = s.TotalIncome.Sub(s.TotalDeductions)

	// Soll side
	if a.Subjects != nil && a.Intervals != nil {
		subjects, err := a.Subjects.SubjectsFor(ctx, propertyID)
		if err != nil {
			return fail(CategorySoll, err)
		}
		for _, subj := range subjects {
			intervals, err := a.Intervals.LoadIntervals(ctx, subj.ID)
			if err != nil {
				return fail(CategorySoll, err)
			}
			expected := MonthlySum(intervals, year)
			switch subj.Kind {
			case KindTenancy:
				s.ExpectedRent = s.ExpectedRent.Add(expected)
				s.OccupiedMonths += CoverageOf(intervals, year).Months
			case KindManagedUnit:
				s.ExpectedCondoFees = s.ExpectedCondoFees.Add(expected)
			}
		}
	}

	return s, nil
}
