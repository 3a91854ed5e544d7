/*
presets.go - Ready-made fact documents for common rental setups

PURPOSE:
  Builds JSON fact documents understood by factory.ParseFacts. They construct
  the JSON directly so this package does not import the factory package.

USAGE:
  doc := rental.PropertyJSON("house-1",
      []string{
          rental.TenancyJSON("t-1", "Ground floor", "2021-01-01", 500, 80),
          rental.ManagedUnitJSON("u-1", "Unit 3", "2022-01-01", "2026-12-31", 240, 60),
      },
      []string{rental.RepairJSON("roof", 2022, 1000, 3, "roof")},
      nil,
  )
  facts, err := factory.ParseFacts(doc)

SEE ALSO:
  - factory/facts.go: Schema and validation of the documents
*/
package rental

import (
	"encoding/json"
	"fmt"
)

// TenancyJSON returns a tenancy subject with one open rent interval.
func TenancyJSON(id, name, validFrom string, netRent, feeAdvance float64) string {
	sj := map[string]interface{}{
		"id":   id,
		"kind": string(KindTenancy),
		"name": name,
		"intervals": []map[string]interface{}{{
			"id":         id + "-1",
			"valid_from": validFrom,
			"values": []map[string]interface{}{
				{"key": KeyNetRent, "amount": netRent},
				{"key": KeyFeeAdvance, "amount": feeAdvance},
			},
		}},
	}
	b, _ := json.MarshalIndent(sj, "", "  ")
	return string(b)
}

// RentIncreaseJSON returns a tenancy whose rent changes once: the first
// interval ends the day before changeFrom, the second is open.
func RentIncreaseJSON(id, name, validFrom, firstEnd, changeFrom string, netRent, newNetRent, feeAdvance float64) string {
	sj := map[string]interface{}{
		"id":   id,
		"kind": string(KindTenancy),
		"name": name,
		"intervals": []map[string]interface{}{
			{
				"id":         id + "-1",
				"valid_from": validFrom,
				"valid_to":   firstEnd,
				"values": []map[string]interface{}{
					{"key": KeyNetRent, "amount": netRent},
					{"key": KeyFeeAdvance, "amount": feeAdvance},
				},
			},
			{
				"id":         id + "-2",
				"valid_from": changeFrom,
				"values": []map[string]interface{}{
					{"key": KeyNetRent, "amount": newNetRent},
					{"key": KeyFeeAdvance, "amount": feeAdvance},
				},
			},
		},
	}
	b, _ := json.MarshalIndent(sj, "", "  ")
	return string(b)
}

// ManagedUnitJSON returns a managed unit whose fee interval is capped by the
// management contract ending on contractEnd.
func ManagedUnitJSON(id, name, validFrom, contractEnd string, netFee, reserve float64) string {
	sj := map[string]interface{}{
		"id":            id,
		"kind":          string(KindManagedUnit),
		"name":          name,
		"governing_end": contractEnd,
		"intervals": []map[string]interface{}{{
			"id":         id + "-1",
			"valid_from": validFrom,
			"valid_to":   contractEnd,
			"values": []map[string]interface{}{
				{"key": KeyNetFee, "amount": netFee},
				{"key": KeyReserve, "amount": reserve},
			},
		}},
	}
	b, _ := json.MarshalIndent(sj, "", "  ")
	return string(b)
}

// RepairJSON returns a repair expense spread evenly over spreadYears.
func RepairJSON(id string, originYear int, total float64, spreadYears int, note string) string {
	ej := map[string]interface{}{
		"id":           id,
		"origin_year":  originYear,
		"total":        total,
		"spread_years": spreadYears,
		"note":         note,
	}
	b, _ := json.MarshalIndent(ej, "", "  ")
	return string(b)
}

// PostingJSON returns a single ledger posting.
func PostingJSON(id, bookedOn, category string, amount float64, note string) string {
	pj := map[string]interface{}{
		"id":        id,
		"booked_on": bookedOn,
		"category":  category,
		"amount":    amount,
		"note":      note,
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// MonthlyRentPostingsJSON books amount as rent on the third of every month of year.
func MonthlyRentPostingsJSON(prefix string, year int, amount float64) []string {
	out := make([]string, 0, 12)
	for m := 1; m <= 12; m++ {
		out = append(out, PostingJSON(
			fmtID(prefix, year, m), fmtDate(year, m, 3), "rent", amount, "monthly rent"))
	}
	return out
}

// PropertyJSON assembles a fact document from subject, expense and posting
// fragments produced by the functions above.
func PropertyJSON(propertyID string, subjects, expenses, postings []string) string {
	doc := map[string]interface{}{
		"property_id": propertyID,
		"subjects":    raw(subjects),
		"expenses":    raw(expenses),
		"postings":    raw(postings),
	}
	b, _ := json.MarshalIndent(doc, "", "  ")
	return string(b)
}

func raw(fragments []string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(fragments))
	for _, f := range fragments {
		out = append(out, json.RawMessage(f))
	}
	return out
}

func fmtID(prefix string, year, month int) string {
	return fmt.Sprintf("%s-%d-%02d", prefix, year, month)
}

func fmtDate(year, month, day int) string {
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
}
