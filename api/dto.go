/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  engine types so the wire contract can evolve on its own.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry `validate` tags checked with go-playground/validator
  before a handler touches the engine. Dates travel as "2006-01-02" strings
  and are parsed after the tag check.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/facts.go: Import document schema
*/
package api

import (
	"fmt"

	"github.com/warp/rental-engine/generic"
	"github.com/warp/rental-engine/rental"
)

// =============================================================================
// SUBJECTS & INTERVALS
// =============================================================================

// CreateSubjectRequest registers a tenancy or managed unit.
type CreateSubjectRequest struct {
	ID           string  `json:"id" validate:"omitempty,max=64"`
	PropertyID   string  `json:"property_id" validate:"required,max=64"`
	Kind         string  `json:"kind" validate:"required,oneof=tenancy managed_unit"`
	Name         string  `json:"name" validate:"max=200"`
	GoverningEnd *string `json:"governing_end,omitempty" validate:"omitempty,len=10"`
}

// SubjectDTO represents a subject in API responses.
type SubjectDTO struct {
	ID           string `json:"id"`
	PropertyID   string `json:"property_id"`
	Kind         string `json:"kind"`
	Name         string `json:"name,omitempty"`
	GoverningEnd string `json:"governing_end,omitempty"`
}

// ValueDTO is one named amount of a Soll bundle.
type ValueDTO struct {
	Key    string         `json:"key" validate:"required,max=64"`
	Amount generic.Amount `json:"amount"`
}

// IntervalRequest is a draft successor sent back for commit.
type IntervalRequest struct {
	ID        string     `json:"id" validate:"omitempty,max=64"`
	ValidFrom string     `json:"valid_from" validate:"required,len=10"`
	ValidTo   *string    `json:"valid_to,omitempty" validate:"omitempty,len=10"`
	Values    []ValueDTO `json:"values" validate:"required,min=1,dive"`
	Note      string     `json:"note" validate:"max=500"`
}

// IntervalDTO represents a validity interval in API responses.
type IntervalDTO struct {
	ID        string     `json:"id,omitempty"`
	SubjectID string     `json:"subject_id"`
	ValidFrom string     `json:"valid_from"`
	ValidTo   *string    `json:"valid_to"`
	Values    []ValueDTO `json:"values"`
	Total     string     `json:"total"`
	Note      string     `json:"note,omitempty"`
}

// ValueResponse answers point-in-time queries.
type ValueResponse struct {
	SubjectID string     `json:"subject_id"`
	At        string     `json:"at"`
	Values    []ValueDTO `json:"values"`
	Total     string     `json:"total"`
}

// CoverageDTO is the first and last covered month of a year.
type CoverageDTO struct {
	SubjectID  string `json:"subject_id"`
	Year       int    `json:"year"`
	FirstMonth int    `json:"first_month,omitempty"`
	LastMonth  int    `json:"last_month,omitempty"`
	Covered    bool   `json:"covered"`
}

// CommitResponse reports where the predecessor was closed.
type CommitResponse struct {
	Interval            IntervalDTO `json:"interval"`
	PredecessorClosedOn *string     `json:"predecessor_closed_on"`
}

// DeleteResponse reports the predecessor's new end (null = open).
type DeleteResponse struct {
	Deleted            string  `json:"deleted"`
	PredecessorValidTo *string `json:"predecessor_valid_to"`
}

// =============================================================================
// EXPENSES, POSTINGS, SUMMARY
// =============================================================================

// CreateExpenseRequest books a repair expense.
type CreateExpenseRequest struct {
	ID          string           `json:"id" validate:"omitempty,max=64"`
	OriginYear  int              `json:"origin_year" validate:"required,min=1900,max=2200"`
	Total       generic.Amount   `json:"total"`
	SpreadYears int              `json:"spread_years"`
	Shares      []generic.Amount `json:"shares,omitempty"`
	Note        string           `json:"note" validate:"max=500"`
}

// ExpenseDTO represents an amortized expense with its schedule.
type ExpenseDTO struct {
	ID          string              `json:"id"`
	PropertyID  string              `json:"property_id"`
	OriginYear  int                 `json:"origin_year"`
	Total       generic.Amount      `json:"total"`
	SpreadYears int                 `json:"spread_years"`
	Schedule    []generic.YearShare `json:"schedule"`
	Note        string              `json:"note,omitempty"`
}

// AmortizationDTO is the repair share deductible in one year.
type AmortizationDTO struct {
	PropertyID string         `json:"property_id"`
	Year       int            `json:"year"`
	Total      generic.Amount `json:"total"`
	Expenses   []YearShareDTO `json:"expenses"`
}

// YearShareDTO is one expense's share in the requested year.
type YearShareDTO struct {
	ExpenseID string         `json:"expense_id"`
	Share     generic.Amount `json:"share"`
}

// CreatePostingRequest books a ledger entry.
type CreatePostingRequest struct {
	ID       string         `json:"id" validate:"omitempty,max=64"`
	BookedOn string         `json:"booked_on" validate:"required,len=10"`
	Category string         `json:"category" validate:"required"`
	Amount   generic.Amount `json:"amount"`
	Note     string         `json:"note" validate:"max=500"`
}

// SummaryResponse is the annual summary plus its tax form rendering.
type SummaryResponse struct {
	Summary generic.AnnualSummary `json:"summary"`
	Form    []rental.FormLine     `json:"form"`
	Cached  bool                  `json:"cached"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PropertyID  string `json:"property_id"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toSubjectDTO(s generic.Subject) SubjectDTO {
	dto := SubjectDTO{
		ID:         string(s.ID),
		PropertyID: string(s.PropertyID),
		Kind:       string(s.Kind),
		Name:       s.Name,
	}
	if s.GoverningEnd != nil {
		dto.GoverningEnd = s.GoverningEnd.String()
	}
	return dto
}

func toValueDTOs(values generic.Values) []ValueDTO {
	dtos := make([]ValueDTO, len(values))
	for i, na := range values {
		dtos[i] = ValueDTO{Key: na.Key, Amount: na.Amount}
	}
	return dtos
}

func fromValueDTOs(dtos []ValueDTO) generic.Values {
	values := make(generic.Values, len(dtos))
	for i, d := range dtos {
		values[i] = generic.NamedAmount{Key: d.Key, Amount: d.Amount}
	}
	return values
}

func toIntervalDTO(iv generic.ValidityInterval) IntervalDTO {
	return IntervalDTO{
		ID:        string(iv.ID),
		SubjectID: string(iv.SubjectID),
		ValidFrom: iv.ValidFrom.String(),
		ValidTo:   datePtr(iv.ValidTo),
		Values:    toValueDTOs(iv.Values),
		Total:     iv.Values.Total().String(),
		Note:      iv.Note,
	}
}

func toIntervalDTOs(intervals []generic.ValidityInterval) []IntervalDTO {
	dtos := make([]IntervalDTO, len(intervals))
	for i, iv := range intervals {
		dtos[i] = toIntervalDTO(iv)
	}
	return dtos
}

func toExpenseDTO(e generic.AmortizedExpense) ExpenseDTO {
	return ExpenseDTO{
		ID:          string(e.ID),
		PropertyID:  string(e.PropertyID),
		OriginYear:  e.OriginYear,
		Total:       e.Total,
		SpreadYears: e.SpreadYears,
		Schedule:    generic.Schedule(e),
		Note:        e.Note,
	}
}

// toInterval converts a commit request for subjectID.
func (req IntervalRequest) toInterval(subjectID generic.SubjectID) (generic.ValidityInterval, error) {
	from, err := generic.ParseTimePoint(req.ValidFrom)
	if err != nil {
		return generic.ValidityInterval{}, fmt.Errorf("valid_from: %w", err)
	}
	to, err := parseOptional(req.ValidTo)
	if err != nil {
		return generic.ValidityInterval{}, fmt.Errorf("valid_to: %w", err)
	}
	return generic.ValidityInterval{
		ID:        generic.IntervalID(req.ID),
		SubjectID: subjectID,
		ValidFrom: from,
		ValidTo:   to,
		Values:    fromValueDTOs(req.Values),
		Note:      req.Note,
	}, nil
}

func datePtr(tp *generic.TimePoint) *string {
	if tp == nil || tp.IsZero() {
		return nil
	}
	s := tp.String()
	return &s
}

func parseOptional(s *string) (*generic.TimePoint, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	tp, err := generic.ParseTimePoint(*s)
	if err != nil {
		return nil, err
	}
	return &tp, nil
}
