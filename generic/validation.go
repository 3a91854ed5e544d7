package generic

import (
	"fmt"
)

// =============================================================================
// VALIDATION RULES - Pure chronological and business invariants
// =============================================================================
// Shared by IntervalStore, the amortization scheduler and the fact importer.
// None of these functions touch storage.

const (
	MinSpreadYears = 1
	MaxSpreadYears = 5
)

// ValidateInterval checks a single interval in isolation.
func ValidateInterval(iv ValidityInterval) error {
	if iv.SubjectID == "" {
		return &IntervalValidationError{IntervalID: iv.ID, Reason: "subject is required"}
	}
	if iv.ValidFrom.IsZero() {
		return &IntervalValidationError{IntervalID: iv.ID, Reason: "valid_from is required"}
	}
	if !iv.ValidFrom.IsMonthStart() {
		return &IntervalValidationError{IntervalID: iv.ID,
			Reason: fmt.Sprintf("valid_from %s is not the first day of a month", iv.ValidFrom)}
	}
	if iv.ValidTo != nil {
		if !iv.ValidTo.After(iv.ValidFrom) {
			return &IntervalValidationError{IntervalID: iv.ID,
				Reason: fmt.Sprintf("valid_to %s is not after valid_from %s", iv.ValidTo, iv.ValidFrom)}
		}
		if !iv.ValidTo.IsMonthEnd() {
			return &IntervalValidationError{IntervalID: iv.ID,
				Reason: fmt.Sprintf("valid_to %s is not the last day of a month", iv.ValidTo)}
		}
	}
	return ValidateValues(iv.ID, iv.Values)
}

// ValidateValues rejects empty bundles and duplicate or blank keys.
func ValidateValues(id IntervalID, values Values) error {
	if len(values) == 0 {
		return &IntervalValidationError{IntervalID: id, Reason: "values bundle is empty"}
	}
	seen := make(map[string]bool, len(values))
	for _, na := range values {
		if na.Key == "" {
			return &IntervalValidationError{IntervalID: id, Reason: "value key is empty"}
		}
		if seen[na.Key] {
			return &IntervalValidationError{IntervalID: id, Reason: fmt.Sprintf("duplicate value key %q", na.Key)}
		}
		seen[na.Key] = true
	}
	return nil
}

// ValidateSequence checks a subject's full interval list: every interval
// valid, ordered by ValidFrom, no overlap, at most one open interval (which
// must then be the last).
func ValidateSequence(intervals []ValidityInterval) error {
	for i, iv := range intervals {
		if err := ValidateInterval(iv); err != nil {
			return err
		}
		if i == 0 {
			continue
		}
		prev := intervals[i-1]
		if prev.SubjectID != iv.SubjectID {
			return &IntervalValidationError{IntervalID: iv.ID, Reason: "mixed subjects in one sequence"}
		}
		if !iv.ValidFrom.After(prev.ValidFrom) {
			return &SequencingError{
				SubjectID: iv.SubjectID, PredecessorID: prev.ID,
				Predecessor: prev.ValidFrom, PredecessorTo: prev.ValidTo, Successor: iv.ValidFrom,
				Reason: "intervals not strictly ordered by valid_from",
			}
		}
		if prev.ValidTo == nil || !prev.ValidTo.Before(iv.ValidFrom) {
			return &SequencingError{
				SubjectID: iv.SubjectID, PredecessorID: prev.ID,
				Predecessor: prev.ValidFrom, PredecessorTo: prev.ValidTo, Successor: iv.ValidFrom,
				Reason: "intervals overlap",
			}
		}
	}
	return nil
}

// ValidateSuccessor checks that draft may follow pred.
//
// pred.ValidTo may be at or after draft.ValidFrom only when it equals the
// governing bound, i.e. the predecessor was capped by the external contract
// rather than closed by an earlier successor.
func ValidateSuccessor(pred ValidityInterval, draft ValidityInterval, bound *TimePoint) error {
	if err := ValidateInterval(draft); err != nil {
		return err
	}
	seqErr := func(reason string) error {
		return &SequencingError{
			SubjectID: draft.SubjectID, PredecessorID: pred.ID,
			Predecessor: pred.ValidFrom, PredecessorTo: pred.ValidTo, Successor: draft.ValidFrom,
			Reason: reason,
		}
	}
	if pred.SubjectID != draft.SubjectID {
		return seqErr("predecessor belongs to another subject")
	}
	if !draft.ValidFrom.After(pred.ValidFrom) {
		return seqErr("successor must start after predecessor")
	}
	if pred.ValidTo != nil && !pred.ValidTo.Before(draft.ValidFrom) {
		cappedByContract := bound != nil && pred.ValidTo.Equal(*bound)
		if !cappedByContract {
			return seqErr(fmt.Sprintf("predecessor already closed on %s", pred.ValidTo))
		}
	}
	if bound != nil && draft.ValidFrom.After(*bound) {
		return seqErr(fmt.Sprintf("successor starts after governing contract end %s", bound))
	}
	if bound != nil && draft.ValidTo != nil && draft.ValidTo.After(*bound) {
		return seqErr(fmt.Sprintf("successor ends after governing contract end %s", bound))
	}
	return nil
}

// ValidateDeletion allows deleting only intervals that start after today.
func ValidateDeletion(iv ValidityInterval, today TimePoint) error {
	if !iv.ValidFrom.After(today) {
		return &TemporalConstraintError{IntervalID: iv.ID, ValidFrom: iv.ValidFrom, Today: today}
	}
	return nil
}

// ValidateSpread checks 1 <= spreadYears <= 5.
func ValidateSpread(id ExpenseID, spreadYears int) error {
	if spreadYears < MinSpreadYears || spreadYears > MaxSpreadYears {
		return &InvalidSpreadError{ExpenseID: id, SpreadYears: spreadYears}
	}
	return nil
}

// ValidateShares checks explicit yearly shares against spread and total.
func ValidateShares(id ExpenseID, total Amount, spreadYears int, shares []Amount) error {
	if len(shares) == 0 {
		return nil
	}
	if len(shares) != spreadYears {
		return &InvalidSharesError{ExpenseID: id,
			Reason: fmt.Sprintf("%d shares given for a %d-year spread", len(shares), spreadYears)}
	}
	if sum := SumAmounts(shares...); !sum.Equal(total) {
		return &InvalidSharesError{ExpenseID: id,
			Reason: fmt.Sprintf("shares add up to %s, total is %s", sum, total)}
	}
	return nil
}

// ValidatePosting checks the booking date and category of a posting.
func ValidatePosting(p Posting) error {
	if p.PropertyID == "" {
		return &PostingValidationError{PostingID: p.ID, Reason: "property is required"}
	}
	if p.BookedOn.IsZero() {
		return &PostingValidationError{PostingID: p.ID, Reason: "booked_on is required"}
	}
	if !IsPostingCategory(p.Category) {
		return &PostingValidationError{PostingID: p.ID, Reason: fmt.Sprintf("unknown category %q", p.Category)}
	}
	return nil
}
