/*
store.go - Persistence seams consumed by the engine

PURPOSE:
  Defines the interface between the engine and whatever storage holds the
  facts. The engine never builds queries; it asks these interfaces for
  ordered interval lists, expenses, posting totals and subject metadata.

KEY INTERFACES:
  IntervalReader / IntervalWriter: Validity interval persistence
  IntervalTxStore:                 Write groups (begin/commit/rollback)
  ExpenseSource:                   Amortized expenses of a property
  PostingSource:                   Per-category posting totals of a year
  SubjectSource:                   Tenancies / managed units of a property
  GoverningBound:                  External contract end of a subject

WRITE GROUPS:
  CommitSuccessor and DeleteSuccessor each read a predecessor, mutate it and
  write or delete a successor. Both writes run inside WithTx: if fn returns
  an error nothing it wrote survives. Validation failures inside fn roll
  back the same way.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (database/sql transactions)
  - generic/store/memory.go: In-memory for tests (snapshot + restore)
*/
package generic

import "context"

// =============================================================================
// INTERVALS
// =============================================================================

// IntervalReader loads a subject's validity intervals.
type IntervalReader interface {
	// LoadIntervals returns all intervals of the subject ordered by ValidFrom.
	LoadIntervals(ctx context.Context, subjectID SubjectID) ([]ValidityInterval, error)
}

// IntervalWriter mutates validity intervals.
type IntervalWriter interface {
	// SaveInterval inserts or replaces the interval with the same ID.
	SaveInterval(ctx context.Context, iv ValidityInterval) error

	// DeleteInterval removes an interval. ErrNotFound if it does not exist.
	DeleteInterval(ctx context.Context, id IntervalID) error
}

type IntervalRepository interface {
	IntervalReader
	IntervalWriter
}

// IntervalTxStore wraps IntervalRepository with write-group support.
type IntervalTxStore interface {
	IntervalRepository

	// WithTx executes fn within a write group.
	// If fn returns error, every write made through repo is rolled back.
	// If fn returns nil, the group is committed.
	WithTx(ctx context.Context, fn func(repo IntervalRepository) error) error
}

// =============================================================================
// FACT SOURCES - Read-only inputs of the aggregator
// =============================================================================

// ExpenseSource loads the amortized expenses booked on a property.
type ExpenseSource interface {
	LoadExpenses(ctx context.Context, propertyID SubjectID) ([]AmortizedExpense, error)
}

// PostingSource supplies booked totals from the surrounding ledger.
type PostingSource interface {
	// PostingTotal sums the postings of a property in a category during year.
	PostingTotal(ctx context.Context, propertyID SubjectID, year int, category Category) (Amount, error)
}

// SubjectSource lists the tenancies and managed units of a property.
type SubjectSource interface {
	SubjectsFor(ctx context.Context, propertyID SubjectID) ([]Subject, error)
}

// GoverningBound supplies the end date of the contract governing a subject.
// A nil end means no external bound exists.
type GoverningBound interface {
	GoverningEnd(ctx context.Context, subjectID SubjectID) (*TimePoint, error)
}

// NoBound is a GoverningBound without external contracts.
type NoBound struct{}

func (NoBound) GoverningEnd(context.Context, SubjectID) (*TimePoint, error) { return nil, nil }
