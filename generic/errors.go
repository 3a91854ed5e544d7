/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify failures with errors.Is against the sentinels and read
  details with errors.As against the structured types.

ERROR CATEGORIES:
  1. Sequencing errors - A successor is not strictly later than its predecessor
  2. Temporal errors - Attempt to change an interval that is already effective
  3. Spread errors - Amortization length outside 1-5 years, bad explicit shares
  4. Aggregation errors - A category of the annual summary could not be computed
  5. Lookup errors - Nothing covers the requested month, unknown IDs

RETRIES:
  None of these are transient. They describe a data or sequencing problem,
  so nothing in the engine retries them.

SEE ALSO:
  - validation.go: Produces most of these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSequencing is returned when a successor interval does not start
	// strictly after its predecessor, or the predecessor already ends on or
	// after the successor's start.
	ErrSequencing = errors.New("interval sequencing violation")

	// ErrTemporalConstraint is returned when deleting or modifying an
	// interval that has already become effective.
	ErrTemporalConstraint = errors.New("interval already effective")

	// ErrInvalidSpread is returned when an amortization spread is outside 1-5 years.
	ErrInvalidSpread = errors.New("invalid amortization spread")

	// ErrInvalidShares is returned when explicit yearly shares do not match
	// the spread length or do not add up to the total.
	ErrInvalidShares = errors.New("invalid amortization shares")

	// ErrAggregation is returned when an annual summary cannot be computed.
	ErrAggregation = errors.New("aggregation failed")

	// ErrNotFound is returned when no interval covers a month, or an ID is unknown.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInterval is returned when a single interval is malformed.
	ErrInvalidInterval = errors.New("invalid interval")

	// ErrInvalidPosting is returned when a posting has no date or an unknown category.
	ErrInvalidPosting = errors.New("invalid posting")

	// ErrDuplicateID is returned when inserting a record whose ID already exists.
	ErrDuplicateID = errors.New("duplicate id")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// SequencingError describes a rejected successor.
type SequencingError struct {
	SubjectID     SubjectID
	PredecessorID IntervalID
	Predecessor   TimePoint // predecessor ValidFrom
	PredecessorTo *TimePoint
	Successor     TimePoint // draft ValidFrom
	Reason        string
}

func (e *SequencingError) Error() string {
	return fmt.Sprintf("sequencing violation for %s: successor from %s, predecessor from %s: %s",
		e.SubjectID, e.Successor, e.Predecessor, e.Reason)
}

func (e *SequencingError) Unwrap() error { return ErrSequencing }

// TemporalConstraintError describes an attempt to delete an effective interval.
type TemporalConstraintError struct {
	IntervalID IntervalID
	ValidFrom  TimePoint
	Today      TimePoint
}

func (e *TemporalConstraintError) Error() string {
	return fmt.Sprintf("interval %s is effective since %s (today %s); only future intervals may be deleted",
		e.IntervalID, e.ValidFrom, e.Today)
}

func (e *TemporalConstraintError) Unwrap() error { return ErrTemporalConstraint }

// InvalidSpreadError describes a spread length outside [MinSpreadYears, MaxSpreadYears].
type InvalidSpreadError struct {
	ExpenseID   ExpenseID
	SpreadYears int
}

func (e *InvalidSpreadError) Error() string {
	return fmt.Sprintf("expense %s: spread of %d years outside %d-%d",
		e.ExpenseID, e.SpreadYears, MinSpreadYears, MaxSpreadYears)
}

func (e *InvalidSpreadError) Unwrap() error { return ErrInvalidSpread }

// InvalidSharesError describes explicit shares that do not fit the expense.
type InvalidSharesError struct {
	ExpenseID ExpenseID
	Reason    string
}

func (e *InvalidSharesError) Error() string {
	return fmt.Sprintf("expense %s: %s", e.ExpenseID, e.Reason)
}

func (e *InvalidSharesError) Unwrap() error { return ErrInvalidShares }

// AggregationFailure reports which category broke a summary.
type AggregationFailure struct {
	PropertyID SubjectID
	Year       int
	Category   Category
	Err        error
}

func (e *AggregationFailure) Error() string {
	return fmt.Sprintf("summary %s/%d: category %s: %v", e.PropertyID, e.Year, e.Category, e.Err)
}

// Unwrap exposes both the sentinel and the upstream cause.
func (e *AggregationFailure) Unwrap() []error { return []error{ErrAggregation, e.Err} }

// NotFoundError describes a missing interval, subject or expense.
type NotFoundError struct {
	What string
	ID   string
	At   TimePoint // set for point-in-time lookups
}

func (e *NotFoundError) Error() string {
	if !e.At.IsZero() {
		return fmt.Sprintf("no %s for %s at %s", e.What, e.ID, e.At)
	}
	return fmt.Sprintf("%s %s not found", e.What, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// IntervalValidationError describes a malformed interval.
type IntervalValidationError struct {
	IntervalID IntervalID
	Reason     string
}

func (e *IntervalValidationError) Error() string {
	return fmt.Sprintf("interval %s: %s", e.IntervalID, e.Reason)
}

func (e *IntervalValidationError) Unwrap() error { return ErrInvalidInterval }

// PostingValidationError describes a malformed posting.
type PostingValidationError struct {
	PostingID PostingID
	Reason    string
}

func (e *PostingValidationError) Error() string {
	return fmt.Sprintf("posting %s: %s", e.PostingID, e.Reason)
}

func (e *PostingValidationError) Unwrap() error { return ErrInvalidPosting }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidSpread) ||
		errors.Is(err, ErrInvalidShares) ||
		errors.Is(err, ErrInvalidInterval) ||
		errors.Is(err, ErrInvalidPosting) ||
		errors.Is(err, ErrDuplicateID)
}

// IsConflict returns true if the error is a chronology conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSequencing) || errors.Is(err, ErrTemporalConstraint)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
