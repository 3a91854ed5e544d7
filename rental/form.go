/*
form.go - Annual summary as ordered tax-form rows

PURPOSE:
  Renderers of the annual rental tax form (Anlage V) want the figures in
  form order, grouped by section, with the label printed next to them.
  AnnualSummary.Lines() is a flat map; FormLines adds the order and labels.

SECTIONS:
  income      Einnahmen
  deductions  Werbungskosten
  result      Überschuss
  soll        Expected figures, informational only

SEE ALSO:
  - generic/aggregator.go: AnnualSummary
*/
package rental

import "github.com/warp/rental-engine/generic"

type Section string

const (
	SectionIncome     Section = "income"
	SectionDeductions Section = "deductions"
	SectionResult     Section = "result"
	SectionSoll       Section = "soll"
)

// FormLine is one printed row.
type FormLine struct {
	Section Section        `json:"section"`
	Key     string         `json:"key"`
	Label   string         `json:"label"`
	Amount  generic.Amount `json:"amount"`
	Total   bool           `json:"total,omitempty"`
}

var formLayout = []struct {
	section Section
	key     string
	label   string
	total   bool
}{
	{SectionIncome, "rent_income", "Mieteinnahmen", false},
	{SectionIncome, "fee_income", "Umlagen", false},
	{SectionIncome, "other_income", "Sonstige Einnahmen", false},
	{SectionIncome, "total_income", "Summe der Einnahmen", true},

	{SectionDeductions, "depreciation", "Absetzung für Abnutzung", false},
	{SectionDeductions, "fully_deductible_repairs", "Erhaltungsaufwendungen, voll abzuziehen", false},
	{SectionDeductions, "amortized_repair_share", "Erhaltungsaufwendungen, verteilt", false},
	{SectionDeductions, "general_costs", "Allgemeine Kosten", false},
	{SectionDeductions, "insurance", "Versicherungen", false},
	{SectionDeductions, "travel_other", "Fahrtkosten und Sonstiges", false},
	{SectionDeductions, "total_deductions", "Summe der Werbungskosten", true},

	{SectionResult, "surplus", "Überschuss", true},

	{SectionSoll, "expected_rent", "Soll-Miete", false},
	{SectionSoll, "expected_condo_fees", "Soll-Hausgeld", false},
}

// FormLines returns every figure of s in form order.
func FormLines(s generic.AnnualSummary) []FormLine {
	lines := s.Lines()
	out := make([]FormLine, 0, len(formLayout))
	for _, row := range formLayout {
		out = append(out, FormLine{
			Section: row.section,
			Key:     row.key,
			Label:   row.label,
			Amount:  lines[row.key],
			Total:   row.total,
		})
	}
	return out
}
