package factory

import (
	"context"
	"fmt"

	"github.com/warp/rental-engine/generic"
)

// FactSink is the storage a fact document is written to. Both the memory
// store and the SQLite store satisfy it.
type FactSink interface {
	generic.IntervalReader
	SaveSubject(ctx context.Context, s generic.Subject) error
	SaveInterval(ctx context.Context, iv generic.ValidityInterval) error
	SaveExpense(ctx context.Context, e generic.AmortizedExpense) error
	RecordPosting(ctx context.Context, p generic.Posting) error
}

// ImportResult counts what Apply wrote.
type ImportResult struct {
	PropertyID generic.SubjectID `json:"property_id"`
	Subjects   int               `json:"subjects"`
	Intervals  int               `json:"intervals"`
	Expenses   int               `json:"expenses"`
	Postings   int               `json:"postings"`
}

// Apply writes facts to sink and publishes one event per written record.
//
// Intervals are merged with what the sink already holds for the subject; the
// merged sequence must still validate, otherwise the subject is skipped with
// an error before anything of it is written. Records written before an error
// stay written; Apply is not a single write group.
func Apply(ctx context.Context, sink FactSink, bus *generic.EventBus, facts *PropertyFacts) (ImportResult, error) {
	result := ImportResult{PropertyID: facts.PropertyID}

	bySubject := make(map[generic.SubjectID][]generic.ValidityInterval)
	for _, iv := range facts.Intervals {
		bySubject[iv.SubjectID] = append(bySubject[iv.SubjectID], iv)
	}

	for _, subj := range facts.Subjects {
		incoming := bySubject[subj.ID]
		if err := checkMerged(ctx, sink, subj.ID, incoming); err != nil {
			return result, fmt.Errorf("subject %s: %w", subj.ID, err)
		}
		if err := sink.SaveSubject(ctx, subj); err != nil {
			return result, fmt.Errorf("save subject %s: %w", subj.ID, err)
		}
		result.Subjects++

		for _, iv := range incoming {
			if err := sink.SaveInterval(ctx, iv); err != nil {
				return result, fmt.Errorf("save interval %s: %w", iv.ID, err)
			}
			result.Intervals++
			bus.Publish(ctx, generic.Event{
				Kind:       generic.EventIntervalCommitted,
				SubjectID:  subj.ID,
				PropertyID: facts.PropertyID,
				IntervalID: iv.ID,
				At:         iv.ValidFrom,
			})
		}
	}

	for _, e := range facts.Expenses {
		if err := sink.SaveExpense(ctx, e); err != nil {
			return result, fmt.Errorf("save expense %s: %w", e.ID, err)
		}
		result.Expenses++
		bus.Publish(ctx, generic.Event{
			Kind:       generic.EventExpenseBooked,
			PropertyID: facts.PropertyID,
			ExpenseID:  e.ID,
			Years:      generic.ExpenseYears(e),
			At:         generic.StartOfYear(e.OriginYear),
		})
	}

	for _, p := range facts.Postings {
		if err := sink.RecordPosting(ctx, p); err != nil {
			return result, fmt.Errorf("record posting %s: %w", p.ID, err)
		}
		result.Postings++
		bus.Publish(ctx, generic.Event{
			Kind:       generic.EventPostingRecorded,
			PropertyID: facts.PropertyID,
			Years:      []int{p.BookedOn.Year()},
			At:         p.BookedOn,
		})
	}

	return result, nil
}

// checkMerged validates existing plus incoming intervals of one subject.
// Incoming intervals replace stored ones with the same id.
func checkMerged(ctx context.Context, sink FactSink, subjectID generic.SubjectID, incoming []generic.ValidityInterval) error {
	if len(incoming) == 0 {
		return nil
	}
	existing, err := sink.LoadIntervals(ctx, subjectID)
	if err != nil {
		return err
	}
	replaced := make(map[generic.IntervalID]bool, len(incoming))
	for _, iv := range incoming {
		replaced[iv.ID] = true
	}
	merged := make([]generic.ValidityInterval, 0, len(existing)+len(incoming))
	for _, iv := range existing {
		if !replaced[iv.ID] {
			merged = append(merged, iv)
		}
	}
	merged = append(merged, incoming...)
	sortByValidFrom(merged)
	return generic.ValidateSequence(merged)
}
