/*
Package factory provides JSON to Go conversion of property fact documents.

PURPOSE:
  Converts a JSON document describing one property (its tenancies and
  managed units with their Soll history, repair expenses and ledger
  postings) into engine types, validated by the same rules the engine
  enforces on live edits. Used by the import endpoint and the demo
  scenarios.

JSON SCHEMA:
  {
    "property_id": "house-1",
    "subjects": [
      {
        "id": "t-1",
        "kind": "tenancy",
        "name": "Ground floor",
        "governing_end": null,
        "intervals": [
          {"id": "t-1-1", "valid_from": "2021-01-01", "valid_to": "2023-06-30",
           "values": [{"key": "net_rent", "amount": "500"}, {"key": "fee_advance", "amount": "80"}]},
          {"id": "t-1-2", "valid_from": "2023-07-01",
           "values": [{"key": "net_rent", "amount": "550"}, {"key": "fee_advance", "amount": "80"}]}
        ]
      }
    ],
    "expenses": [
      {"id": "roof", "origin_year": 2022, "total": "1000.00", "spread_years": 3}
    ],
    "postings": [
      {"id": "r-1", "booked_on": "2023-01-03", "category": "rent", "amount": "550"}
    ]
  }

KEY FEATURES:
  - Intervals are sorted per subject and checked with ValidateSequence
  - Bundles must carry exactly the keys of the subject kind
  - A subject's last interval may not outlast its governing contract
  - Expenses go through NewAmortizedExpense (spread 1-5, explicit shares)
  - Missing interval, expense and posting ids are filled with UUIDs

USAGE:
  facts, err := factory.ParseFacts(jsonString)
  result, err := factory.Apply(ctx, store, bus, facts)

SEE ALSO:
  - rental/presets.go: Builders for common documents
  - generic/validation.go: The rules applied here
*/
package factory

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/warp/rental-engine/generic"
	"github.com/warp/rental-engine/rental"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// FactsJSON is the JSON representation of a property's facts.
type FactsJSON struct {
	PropertyID string        `json:"property_id"`
	Subjects   []SubjectJSON `json:"subjects,omitempty"`
	Expenses   []ExpenseJSON `json:"expenses,omitempty"`
	Postings   []PostingJSON `json:"postings,omitempty"`
}

// SubjectJSON is a tenancy or managed unit with its interval history.
type SubjectJSON struct {
	ID           string             `json:"id"`
	Kind         string             `json:"kind"`
	Name         string             `json:"name,omitempty"`
	GoverningEnd *generic.TimePoint `json:"governing_end,omitempty"`
	Intervals    []IntervalJSON     `json:"intervals,omitempty"`
}

type IntervalJSON struct {
	ID        string             `json:"id,omitempty"`
	ValidFrom generic.TimePoint  `json:"valid_from"`
	ValidTo   *generic.TimePoint `json:"valid_to,omitempty"`
	Values    generic.Values     `json:"values"`
	Note      string             `json:"note,omitempty"`
}

type ExpenseJSON struct {
	ID          string           `json:"id,omitempty"`
	OriginYear  int              `json:"origin_year"`
	Total       generic.Amount   `json:"total"`
	SpreadYears int              `json:"spread_years"`
	Shares      []generic.Amount `json:"shares,omitempty"`
	Note        string           `json:"note,omitempty"`
}

type PostingJSON struct {
	ID       string            `json:"id,omitempty"`
	BookedOn generic.TimePoint `json:"booked_on"`
	Category string            `json:"category"`
	Amount   generic.Amount    `json:"amount"`
	Note     string            `json:"note,omitempty"`
}

// PropertyFacts is a validated fact document.
type PropertyFacts struct {
	PropertyID generic.SubjectID
	Subjects   []generic.Subject
	Intervals  []generic.ValidityInterval // grouped by subject, ordered by ValidFrom
	Expenses   []generic.AmortizedExpense
	Postings   []generic.Posting
}

// =============================================================================
// FACT FACTORY
// =============================================================================

// FactFactory converts JSON fact documents to engine types.
type FactFactory struct {
	// NewID generates missing ids. Defaults to uuid.NewString.
	NewID func() string
}

func NewFactFactory() *FactFactory {
	return &FactFactory{NewID: uuid.NewString}
}

// ParseFacts parses a JSON document with a default factory.
func ParseFacts(jsonStr string) (*PropertyFacts, error) {
	return NewFactFactory().ParseFacts(jsonStr)
}

// ParseFacts parses a JSON string into validated PropertyFacts.
func (f *FactFactory) ParseFacts(jsonStr string) (*PropertyFacts, error) {
	var fj FactsJSON
	if err := json.Unmarshal([]byte(jsonStr), &fj); err != nil {
		return nil, fmt.Errorf("failed to parse facts JSON: %w", err)
	}
	return f.FromJSON(fj)
}

// FromJSON converts FactsJSON to PropertyFacts.
func (f *FactFactory) FromJSON(fj FactsJSON) (*PropertyFacts, error) {
	if fj.PropertyID == "" {
		return nil, fmt.Errorf("facts: property_id is required")
	}
	facts := &PropertyFacts{PropertyID: generic.SubjectID(fj.PropertyID)}

	seen := make(map[string]bool, len(fj.Subjects))
	for _, sj := range fj.Subjects {
		if seen[sj.ID] {
			return nil, fmt.Errorf("subject %s: %w", sj.ID, generic.ErrDuplicateID)
		}
		seen[sj.ID] = true

		subject, intervals, err := f.parseSubject(facts.PropertyID, sj)
		if err != nil {
			return nil, fmt.Errorf("subject %s: %w", sj.ID, err)
		}
		facts.Subjects = append(facts.Subjects, subject)
		facts.Intervals = append(facts.Intervals, intervals...)
	}

	for _, ej := range fj.Expenses {
		e, err := generic.NewAmortizedExpense(
			generic.ExpenseID(f.idOr(ej.ID)), facts.PropertyID,
			ej.OriginYear, ej.Total, ej.SpreadYears, ej.Shares, ej.Note,
		)
		if err != nil {
			return nil, err
		}
		facts.Expenses = append(facts.Expenses, e)
	}

	for _, pj := range fj.Postings {
		p := generic.Posting{
			ID:         generic.PostingID(f.idOr(pj.ID)),
			PropertyID: facts.PropertyID,
			BookedOn:   pj.BookedOn,
			Category:   generic.Category(pj.Category),
			Amount:     pj.Amount,
			Note:       pj.Note,
		}
		if err := generic.ValidatePosting(p); err != nil {
			return nil, err
		}
		facts.Postings = append(facts.Postings, p)
	}

	return facts, nil
}

func (f *FactFactory) parseSubject(propertyID generic.SubjectID, sj SubjectJSON) (generic.Subject, []generic.ValidityInterval, error) {
	if sj.ID == "" {
		return generic.Subject{}, nil, fmt.Errorf("subject id is required")
	}
	kind := generic.SubjectKind(sj.Kind)
	if !rental.IsKind(kind) {
		return generic.Subject{}, nil, fmt.Errorf("unknown subject kind %q", sj.Kind)
	}

	subject := generic.Subject{
		ID:           generic.SubjectID(sj.ID),
		PropertyID:   propertyID,
		Kind:         kind,
		Name:         sj.Name,
		GoverningEnd: sj.GoverningEnd,
	}

	intervals := make([]generic.ValidityInterval, 0, len(sj.Intervals))
	for _, ij := range sj.Intervals {
		iv := generic.ValidityInterval{
			ID:        generic.IntervalID(f.idOr(ij.ID)),
			SubjectID: subject.ID,
			ValidFrom: ij.ValidFrom,
			ValidTo:   ij.ValidTo,
			Values:    ij.Values,
			Note:      ij.Note,
		}
		if err := rental.ValidateBundle(kind, iv.ID, iv.Values); err != nil {
			return generic.Subject{}, nil, err
		}
		intervals = append(intervals, iv)
	}
	sortByValidFrom(intervals)
	if err := generic.ValidateSequence(intervals); err != nil {
		return generic.Subject{}, nil, err
	}
	if err := checkGoverningEnd(subject, intervals); err != nil {
		return generic.Subject{}, nil, err
	}
	return subject, intervals, nil
}

// checkGoverningEnd rejects a history that outlasts the subject's contract.
func checkGoverningEnd(subject generic.Subject, intervals []generic.ValidityInterval) error {
	if subject.GoverningEnd == nil || len(intervals) == 0 {
		return nil
	}
	last := intervals[len(intervals)-1]
	if last.ValidTo == nil || last.ValidTo.After(*subject.GoverningEnd) {
		return &generic.IntervalValidationError{IntervalID: last.ID,
			Reason: fmt.Sprintf("runs past governing contract end %s", subject.GoverningEnd)}
	}
	return nil
}

func sortByValidFrom(intervals []generic.ValidityInterval) {
	sort.SliceStable(intervals, func(i, j int) bool {
		return intervals[i].ValidFrom.Before(intervals[j].ValidFrom)
	})
}

func (f *FactFactory) idOr(id string) string {
	if id != "" {
		return id
	}
	if f.NewID == nil {
		return uuid.NewString()
	}
	return f.NewID()
}
