/*
handlers.go - HTTP API handlers for the rental engine

PURPOSE:
  Exposes the interval store, amortization and annual aggregation via REST.
  Handles HTTP request/response and JSON, and delegates to the engine.

ENDPOINTS:
  Subjects:
    POST   /api/subjects                              Register tenancy / managed unit
    GET    /api/subjects/{id}                         Subject details
    GET    /api/subjects/{id}/intervals?year=         Interval history
    GET    /api/subjects/{id}/value?year=&month=      Soll bundle of a month
    GET    /api/subjects/{id}/current                 Soll bundle today
    GET    /api/subjects/{id}/latest                  Latest interval
    GET    /api/subjects/{id}/coverage?year=          Covered months of a year
    POST   /api/subjects/{id}/successor/draft         Propose successor
    POST   /api/subjects/{id}/successor               Commit successor
    DELETE /api/subjects/{id}/intervals/{intervalID}  Delete future successor

  Properties:
    GET    /api/properties/{id}/subjects
    POST   /api/properties/{id}/expenses              Book repair expense
    GET    /api/properties/{id}/expenses
    GET    /api/properties/{id}/expenses/{expenseID}/schedule
    GET    /api/properties/{id}/amortization?year=    Repair shares due in year
    POST   /api/properties/{id}/postings              Book ledger entry
    GET    /api/properties/{id}/summary?year=         Annual summary + form rows

  Import:
    POST   /api/import                                Property fact document

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Unknown subject / interval, uncovered month
  - 409: Sequencing and temporal conflicts, duplicate ids
  - 422: Annual summary could not be computed
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator"
	"github.com/google/uuid"
	"github.com/warp/rental-engine/factory"
	"github.com/warp/rental-engine/generic"
	"github.com/warp/rental-engine/logging"
	"github.com/warp/rental-engine/metrics"
	"github.com/warp/rental-engine/rental"
	"github.com/warp/rental-engine/store/sqlite"
)

// errBadRequest marks malformed query parameters and bodies.
var errBadRequest = errors.New("bad request")

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// SummaryCache is the optional annual summary cache (cache.SummaryCache).
type SummaryCache interface {
	Get(ctx context.Context, propertyID generic.SubjectID, year int) (generic.AnnualSummary, bool, error)
	Set(ctx context.Context, s generic.AnnualSummary) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Intervals  *generic.IntervalStore
	Aggregator *generic.AnnualAggregator
	Facts      *factory.FactFactory
	Events     *generic.EventBus

	// Optional
	Cache   SummaryCache
	Metrics *metrics.Metrics

	Logger   *slog.Logger
	validate *validator.Validate

	// Track currently loaded scenario
	scenarioMu      sync.Mutex
	currentScenario string
}

func (h *Handler) setScenario(id string) {
	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()
	h.currentScenario = id
}

func (h *Handler) scenario() string {
	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()
	return h.currentScenario
}

// NewHandler wires the engine on top of store. Observers subscribed to bus
// see every change made through the API.
func NewHandler(store *sqlite.Store, bus *generic.EventBus, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	intervals := generic.NewIntervalStore(store, bus, logger)
	intervals.Bounds = store

	return &Handler{
		Store:     store,
		Intervals: intervals,
		Aggregator: &generic.AnnualAggregator{
			Postings:  store,
			Expenses:  store,
			Subjects:  store,
			Intervals: store,
			Logger:    logger,
		},
		Facts:    factory.NewFactFactory(),
		Events:   bus,
		Logger:   logger,
		validate: validator.New(),
	}
}

func (h *Handler) log(r *http.Request, op string) *slog.Logger {
	return h.Logger.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

// =============================================================================
// SUBJECT HANDLERS
// =============================================================================

// CreateSubject registers a tenancy or managed unit.
func (h *Handler) CreateSubject(w http.ResponseWriter, r *http.Request) {
	var req CreateSubjectRequest
	if !h.decode(w, r, &req) {
		return
	}
	end, err := parseOptional(req.GoverningEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid governing_end", err)
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	subject := generic.Subject{
		ID:           generic.SubjectID(id),
		PropertyID:   generic.SubjectID(req.PropertyID),
		Kind:         generic.SubjectKind(req.Kind),
		Name:         req.Name,
		GoverningEnd: end,
	}
	if err := h.Store.SaveSubject(r.Context(), subject); err != nil {
		h.writeEngineError(w, r, "Failed to save subject", err)
		return
	}

	h.log(r, "api.CreateSubject").Info("subject registered", "subject_id", subject.ID, "kind", subject.Kind)
	writeJSON(w, http.StatusCreated, toSubjectDTO(subject))
}

// GetSubject returns a subject.
func (h *Handler) GetSubject(w http.ResponseWriter, r *http.Request) {
	subject, err := h.Store.GetSubject(r.Context(), subjectParam(r))
	if err != nil {
		h.writeEngineError(w, r, "Subject not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubjectDTO(subject))
}

// ListIntervals returns the subject's history, restricted to a year when
// ?year= is given.
func (h *Handler) ListIntervals(w http.ResponseWriter, r *http.Request) {
	id := subjectParam(r)
	year, hasYear, err := queryInt(r, "year")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}

	var intervals []generic.ValidityInterval
	if hasYear {
		intervals, err = h.Intervals.HistoryFor(r.Context(), id, year)
	} else {
		intervals, err = h.Intervals.History(r.Context(), id)
	}
	if err != nil {
		h.writeEngineError(w, r, "Failed to load intervals", err)
		return
	}
	writeJSON(w, http.StatusOK, toIntervalDTOs(intervals))
}

// GetValue returns the Soll bundle in effect for ?year=&month=.
func (h *Handler) GetValue(w http.ResponseWriter, r *http.Request) {
	id := subjectParam(r)
	year, err := requireInt(r, "year")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	month, err := requireInt(r, "month")
	if err != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return
	}

	values, err := h.Intervals.ValueAt(r.Context(), id, year, time.Month(month))
	if err != nil {
		h.writeEngineError(w, r, "No value for month", err)
		return
	}
	writeJSON(w, http.StatusOK, valueResponse(id, generic.StartOfMonth(year, time.Month(month)), values))
}

// GetCurrentValue returns the Soll bundle in effect today.
func (h *Handler) GetCurrentValue(w http.ResponseWriter, r *http.Request) {
	id := subjectParam(r)
	values, err := h.Intervals.CurrentValue(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, "No current value", err)
		return
	}
	today := h.Intervals.Clock()
	writeJSON(w, http.StatusOK, valueResponse(id, generic.StartOfMonth(today.Year(), today.Month()), values))
}

// GetLatest returns the interval with the greatest ValidFrom.
func (h *Handler) GetLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := h.Intervals.Latest(r.Context(), subjectParam(r))
	if err != nil {
		h.writeEngineError(w, r, "No intervals", err)
		return
	}
	writeJSON(w, http.StatusOK, toIntervalDTO(latest))
}

// GetCoverage reports the first and last covered month of ?year=.
func (h *Handler) GetCoverage(w http.ResponseWriter, r *http.Request) {
	id := subjectParam(r)
	year, err := requireInt(r, "year")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	cov, err := h.Intervals.CoverageFor(r.Context(), id, year)
	if err != nil {
		h.writeEngineError(w, r, "Failed to compute coverage", err)
		return
	}
	writeJSON(w, http.StatusOK, CoverageDTO{
		SubjectID:  string(id),
		Year:       year,
		FirstMonth: int(cov.FirstMonth),
		LastMonth:  int(cov.LastMonth),
		Covered:    cov.Months > 0,
	})
}

// ProposeSuccessor returns an uncommitted draft following the latest interval.
func (h *Handler) ProposeSuccessor(w http.ResponseWriter, r *http.Request) {
	draft, err := h.Intervals.ProposeSuccessor(r.Context(), subjectParam(r))
	if err != nil {
		h.writeEngineError(w, r, "Cannot propose successor", err)
		return
	}
	writeJSON(w, http.StatusOK, toIntervalDTO(draft))
}

// CommitSuccessor persists a successor and closes its predecessor.
func (h *Handler) CommitSuccessor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := subjectParam(r)

	var req IntervalRequest
	if !h.decode(w, r, &req) {
		return
	}
	draft, err := req.toInterval(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid interval", err)
		return
	}

	subject, err := h.Store.GetSubject(ctx, id)
	if err != nil {
		h.writeEngineError(w, r, "Subject not found", err)
		return
	}
	if draft.ID == "" {
		draft.ID = generic.IntervalID(uuid.NewString())
	}
	if err := rental.ValidateBundle(subject.Kind, draft.ID, draft.Values); err != nil {
		h.writeEngineError(w, r, "Invalid values", err)
		return
	}

	closedOn, err := h.Intervals.CommitSuccessor(ctx, draft)
	if err != nil {
		h.writeEngineError(w, r, "Successor rejected", err)
		return
	}

	latest, err := h.Intervals.Latest(ctx, id)
	if err != nil {
		h.writeEngineError(w, r, "Failed to reload interval", err)
		return
	}
	writeJSON(w, http.StatusCreated, CommitResponse{
		Interval:            toIntervalDTO(latest),
		PredecessorClosedOn: datePtr(&closedOn),
	})
}

// DeleteInterval removes a not-yet-effective successor.
func (h *Handler) DeleteInterval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := subjectParam(r)
	intervalID := generic.IntervalID(chi.URLParam(r, "intervalID"))

	history, err := h.Intervals.History(ctx, id)
	if err != nil {
		h.writeEngineError(w, r, "Failed to load intervals", err)
		return
	}
	var target *generic.ValidityInterval
	for i := range history {
		if history[i].ID == intervalID {
			target = &history[i]
			break
		}
	}
	if target == nil {
		h.writeEngineError(w, r, "Interval not found",
			&generic.NotFoundError{What: "interval", ID: string(intervalID)})
		return
	}

	reopenedTo, err := h.Intervals.DeleteSuccessor(ctx, *target)
	if err != nil {
		h.writeEngineError(w, r, "Delete rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{
		Deleted:            string(intervalID),
		PredecessorValidTo: datePtr(reopenedTo),
	})
}

// =============================================================================
// PROPERTY HANDLERS
// =============================================================================

// ListSubjects returns the subjects of a property.
func (h *Handler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.Store.SubjectsFor(r.Context(), propertyParam(r))
	if err != nil {
		h.writeEngineError(w, r, "Failed to list subjects", err)
		return
	}
	dtos := make([]SubjectDTO, len(subjects))
	for i, s := range subjects {
		dtos[i] = toSubjectDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateExpense books a repair expense. Expenses are never edited; a
// correction is a new expense.
func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	propertyID := propertyParam(r)

	var req CreateExpenseRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	e, err := generic.NewAmortizedExpense(generic.ExpenseID(id), propertyID,
		req.OriginYear, req.Total, req.SpreadYears, req.Shares, req.Note)
	if err != nil {
		h.writeEngineError(w, r, "Invalid expense", err)
		return
	}
	if err := h.Store.SaveExpense(ctx, e); err != nil {
		h.writeEngineError(w, r, "Failed to save expense", err)
		return
	}

	h.Events.Publish(ctx, generic.Event{
		Kind:       generic.EventExpenseBooked,
		PropertyID: propertyID,
		ExpenseID:  e.ID,
		Years:      generic.ExpenseYears(e),
		At:         generic.StartOfYear(e.OriginYear),
	})
	writeJSON(w, http.StatusCreated, toExpenseDTO(e))
}

// ListExpenses returns every expense of a property with its schedule.
func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.Store.LoadExpenses(r.Context(), propertyParam(r))
	if err != nil {
		h.writeEngineError(w, r, "Failed to list expenses", err)
		return
	}
	dtos := make([]ExpenseDTO, len(expenses))
	for i, e := range expenses {
		dtos[i] = toExpenseDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetExpenseSchedule returns the per-year shares of one expense.
func (h *Handler) GetExpenseSchedule(w http.ResponseWriter, r *http.Request) {
	expenseID := generic.ExpenseID(chi.URLParam(r, "expenseID"))
	expenses, err := h.Store.LoadExpenses(r.Context(), propertyParam(r))
	if err != nil {
		h.writeEngineError(w, r, "Failed to load expenses", err)
		return
	}
	for _, e := range expenses {
		if e.ID == expenseID {
			writeJSON(w, http.StatusOK, generic.Schedule(e))
			return
		}
	}
	h.writeEngineError(w, r, "Expense not found",
		&generic.NotFoundError{What: "expense", ID: string(expenseID)})
}

// GetAmortization returns the repair shares deductible in ?year=.
func (h *Handler) GetAmortization(w http.ResponseWriter, r *http.Request) {
	propertyID := propertyParam(r)
	year, err := requireInt(r, "year")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	expenses, err := h.Store.LoadExpenses(r.Context(), propertyID)
	if err != nil {
		h.writeEngineError(w, r, "Failed to load expenses", err)
		return
	}

	// Fully deductible expenses are not amortized.
	var spread []generic.AmortizedExpense
	for _, e := range expenses {
		if !e.FullyDeductible() && e.InWindow(year) {
			spread = append(spread, e)
		}
	}

	dto := AmortizationDTO{
		PropertyID: string(propertyID),
		Year:       year,
		Total:      generic.SharesDueInYear(spread, year),
		Expenses:   make([]YearShareDTO, len(spread)),
	}
	for i, e := range spread {
		dto.Expenses[i] = YearShareDTO{
			ExpenseID: string(e.ID),
			Share:     generic.ShareInYear(e, year),
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// CreatePosting books a ledger entry.
func (h *Handler) CreatePosting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	propertyID := propertyParam(r)

	var req CreatePostingRequest
	if !h.decode(w, r, &req) {
		return
	}
	bookedOn, err := generic.ParseTimePoint(req.BookedOn)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid booked_on", err)
		return
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	p := generic.Posting{
		ID:         generic.PostingID(id),
		PropertyID: propertyID,
		BookedOn:   bookedOn,
		Category:   generic.Category(req.Category),
		Amount:     req.Amount,
		Note:       req.Note,
	}
	if err := generic.ValidatePosting(p); err != nil {
		h.writeEngineError(w, r, "Invalid posting", err)
		return
	}
	if err := h.Store.RecordPosting(ctx, p); err != nil {
		h.writeEngineError(w, r, "Failed to record posting", err)
		return
	}

	h.Events.Publish(ctx, generic.Event{
		Kind:       generic.EventPostingRecorded,
		PropertyID: propertyID,
		Years:      []int{bookedOn.Year()},
		At:         bookedOn,
	})
	writeJSON(w, http.StatusCreated, p)
}

// GetSummary returns the annual summary of ?year= with its form rows.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	propertyID := propertyParam(r)
	log := h.log(r, "api.GetSummary")

	year, err := requireInt(r, "year")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}

	if h.Cache != nil {
		cached, found, err := h.Cache.Get(ctx, propertyID, year)
		switch {
		case err != nil:
			log.Warn("summary cache read failed", logging.Err(err))
		case found:
			h.Metrics.ObserveSummary(metrics.ResultCached, 0)
			writeJSON(w, http.StatusOK, SummaryResponse{Summary: cached, Form: rental.FormLines(cached), Cached: true})
			return
		}
	}

	start := time.Now()
	summary, err := h.Aggregator.Summarize(ctx, propertyID, year)
	if err != nil {
		h.Metrics.ObserveSummary(metrics.ResultFailed, time.Since(start))
		h.writeEngineError(w, r, "Failed to compute summary", err)
		return
	}
	h.Metrics.ObserveSummary(metrics.ResultComputed, time.Since(start))

	if h.Cache != nil {
		if err := h.Cache.Set(ctx, summary); err != nil {
			log.Warn("summary cache write failed", logging.Err(err))
		}
	}
	writeJSON(w, http.StatusOK, SummaryResponse{Summary: summary, Form: rental.FormLines(summary)})
}

// =============================================================================
// IMPORT
// =============================================================================

// ImportFacts writes a property fact document.
func (h *Handler) ImportFacts(w http.ResponseWriter, r *http.Request) {
	var doc factory.FactsJSON
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	facts, err := h.Facts.FromJSON(doc)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			err = fmt.Errorf("%w: %w", errBadRequest, err)
		}
		h.writeEngineError(w, r, "Invalid fact document", err)
		return
	}

	result, err := factory.Apply(r.Context(), h.Store, h.Events, facts)
	if err != nil {
		h.writeEngineError(w, r, "Import failed", err)
		return
	}

	h.log(r, "api.ImportFacts").Info("facts imported",
		"property_id", result.PropertyID, "subjects", result.Subjects,
		"intervals", result.Intervals, "expenses", result.Expenses, "postings", result.Postings)
	writeJSON(w, http.StatusCreated, result)
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setScenario("")
	h.dropCachedSummaries(r)

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// dropCachedSummaries empties the summary cache after a bulk change that
// published no events.
func (h *Handler) dropCachedSummaries(r *http.Request) {
	c, ok := h.Cache.(interface{ InvalidateAll(context.Context) error })
	if !ok {
		return
	}
	if err := c.InvalidateAll(r.Context()); err != nil {
		h.log(r, "api").Warn("summary cache flush failed", logging.Err(err))
	}
}

// Health reports whether the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps engine errors to HTTP status codes. Aggregation failures
// wrap their cause, so they are checked first.
func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrAggregation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, generic.ErrDuplicateID), generic.IsConflict(err):
		return http.StatusConflict
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsClientError(err), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log(r, "api").Error(message, logging.Err(err))
	}
	writeError(w, status, message, err)
}

// decode reads and validates a JSON body. On failure it writes the response
// and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func subjectParam(r *http.Request) generic.SubjectID {
	return generic.SubjectID(chi.URLParam(r, "id"))
}

func propertyParam(r *http.Request) generic.SubjectID {
	return generic.SubjectID(chi.URLParam(r, "id"))
}

// queryInt reads an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", name, err)
	}
	return n, true, nil
}

func requireInt(r *http.Request, name string) (int, error) {
	n, ok, err := queryInt(r, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%s is required", name)
	}
	return n, nil
}

func valueResponse(id generic.SubjectID, at generic.TimePoint, values generic.Values) ValueResponse {
	return ValueResponse{
		SubjectID: string(id),
		At:        at.String(),
		Values:    toValueDTOs(values),
		Total:     values.Total().String(),
	}
}
