/*
handlers_test.go - HTTP tests for the API handlers

Tests drive the chi router over an in-memory SQLite store:
- Subject registration and successor commit / delete round trips
- Error mapping (400 / 404 / 409 / 422)
- Expenses, postings, amortization
- Annual summary with Redis cache and Prometheus counters
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rental-engine/cache"
	"github.com/warp/rental-engine/config"
	"github.com/warp/rental-engine/generic"
	"github.com/warp/rental-engine/logging"
	"github.com/warp/rental-engine/metrics"
	"github.com/warp/rental-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testToday = generic.NewTimePoint(2023, time.March, 15)

func newTestHandler(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := logging.Discard()
	h := NewHandler(store, generic.NewEventBus(logger), logger)
	h.Intervals.Clock = generic.FixedClock(testToday)
	return h, NewRouter(h, RouterOptions{})
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func rentBody(validFrom string, netRent, feeAdvance string) map[string]any {
	return map[string]any{
		"valid_from": validFrom,
		"values": []map[string]any{
			{"key": "net_rent", "amount": netRent},
			{"key": "fee_advance", "amount": feeAdvance},
		},
	}
}

func registerTenancy(t *testing.T, router http.Handler, id string) {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/subjects", map[string]any{
		"id": id, "property_id": "flat-1", "kind": "tenancy", "name": "Flat",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// =============================================================================
// SUBJECTS & INTERVALS
// =============================================================================

func TestSuccessorLifecycle(t *testing.T) {
	_, router := newTestHandler(t)
	registerTenancy(t, router, "t1")

	// GIVEN: a tenancy with an open interval since 2021
	rec := do(t, router, http.MethodPost, "/api/subjects/t1/successor", rentBody("2021-01-01", "500", "80"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decodeBody[CommitResponse](t, rec)
	assert.Nil(t, first.PredecessorClosedOn)
	assert.Nil(t, first.Interval.ValidTo)

	// WHEN: a draft is proposed
	rec = do(t, router, http.MethodPost, "/api/subjects/t1/successor/draft", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	draft := decodeBody[IntervalDTO](t, rec)

	// THEN: it starts next month, pre-filled with the current values
	assert.Equal(t, "2023-04-01", draft.ValidFrom)
	assert.Equal(t, "580.00", draft.Total)

	// WHEN: a successor from July is committed
	rec = do(t, router, http.MethodPost, "/api/subjects/t1/successor", rentBody("2023-07-01", "550", "80"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	second := decodeBody[CommitResponse](t, rec)

	// THEN: the predecessor ends on June 30th
	require.NotNil(t, second.PredecessorClosedOn)
	assert.Equal(t, "2023-06-30", *second.PredecessorClosedOn)

	june := decodeBody[ValueResponse](t, do(t, router, http.MethodGet, "/api/subjects/t1/value?year=2023&month=6", nil))
	july := decodeBody[ValueResponse](t, do(t, router, http.MethodGet, "/api/subjects/t1/value?year=2023&month=7", nil))
	assert.Equal(t, "580.00", june.Total)
	assert.Equal(t, "630.00", july.Total)

	current := decodeBody[ValueResponse](t, do(t, router, http.MethodGet, "/api/subjects/t1/current", nil))
	assert.Equal(t, "2023-03-01", current.At)
	assert.Equal(t, "580.00", current.Total)

	history := decodeBody[[]IntervalDTO](t, do(t, router, http.MethodGet, "/api/subjects/t1/intervals?year=2023", nil))
	require.Len(t, history, 2)

	cov := decodeBody[CoverageDTO](t, do(t, router, http.MethodGet, "/api/subjects/t1/coverage?year=2023", nil))
	assert.Equal(t, 1, cov.FirstMonth)
	assert.Equal(t, 12, cov.LastMonth)

	// WHEN: the future successor is deleted
	rec = do(t, router, http.MethodDelete, "/api/subjects/t1/intervals/"+second.Interval.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	deleted := decodeBody[DeleteResponse](t, rec)

	// THEN: the predecessor is open again
	assert.Nil(t, deleted.PredecessorValidTo)
	latest := decodeBody[IntervalDTO](t, do(t, router, http.MethodGet, "/api/subjects/t1/latest", nil))
	assert.Equal(t, first.Interval.ID, latest.ID)
	assert.Nil(t, latest.ValidTo)
}

func TestErrorMapping_Intervals(t *testing.T) {
	_, router := newTestHandler(t)
	registerTenancy(t, router, "t1")
	rec := do(t, router, http.MethodPost, "/api/subjects/t1/successor", rentBody("2021-01-01", "500", "80"))
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decodeBody[CommitResponse](t, rec)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"successor before predecessor", http.MethodPost, "/api/subjects/t1/successor", rentBody("2020-06-01", "500", "80"), http.StatusConflict},
		{"successor mid-month", http.MethodPost, "/api/subjects/t1/successor", rentBody("2023-07-15", "500", "80"), http.StatusBadRequest},
		{"wrong bundle for tenancy", http.MethodPost, "/api/subjects/t1/successor", map[string]any{
			"valid_from": "2023-07-01", "values": []map[string]any{{"key": "net_fee", "amount": "1"}},
		}, http.StatusBadRequest},
		{"empty bundle", http.MethodPost, "/api/subjects/t1/successor", map[string]any{"valid_from": "2023-07-01"}, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/api/subjects/t1/successor", "{", http.StatusBadRequest},
		{"unknown subject", http.MethodPost, "/api/subjects/ghost/successor", rentBody("2023-07-01", "1", "1"), http.StatusNotFound},
		{"delete effective interval", http.MethodDelete, "/api/subjects/t1/intervals/" + first.Interval.ID, nil, http.StatusConflict},
		{"delete unknown interval", http.MethodDelete, "/api/subjects/t1/intervals/ghost", nil, http.StatusNotFound},
		{"uncovered month", http.MethodGet, "/api/subjects/t1/value?year=2020&month=12", nil, http.StatusNotFound},
		{"month out of range", http.MethodGet, "/api/subjects/t1/value?year=2023&month=13", nil, http.StatusBadRequest},
		{"missing year", http.MethodGet, "/api/subjects/t1/coverage", nil, http.StatusBadRequest},
		{"unknown kind", http.MethodPost, "/api/subjects", map[string]any{"property_id": "p", "kind": "garage"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeBody[ErrorResponse](t, rec).Error)
		})
	}

	// Rejected commits left the history alone.
	history := decodeBody[[]IntervalDTO](t, do(t, router, http.MethodGet, "/api/subjects/t1/intervals", nil))
	require.Len(t, history, 1)
	assert.Nil(t, history[0].ValidTo)
}

func TestManagedUnit_InheritsContractEnd(t *testing.T) {
	_, router := newTestHandler(t)
	rec := do(t, router, http.MethodPost, "/api/subjects", map[string]any{
		"id": "u1", "property_id": "condo-1", "kind": "managed_unit", "governing_end": "2026-12-31",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/api/subjects/u1/successor", map[string]any{
		"valid_from": "2022-01-01",
		"values":     []map[string]any{{"key": "net_fee", "amount": "240"}, {"key": "reserve", "amount": "60"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	got := decodeBody[CommitResponse](t, rec)
	require.NotNil(t, got.Interval.ValidTo)
	assert.Equal(t, "2026-12-31", *got.Interval.ValidTo)
}

// =============================================================================
// EXPENSES & POSTINGS
// =============================================================================

func TestExpenses(t *testing.T) {
	_, router := newTestHandler(t)

	// WHEN: a 1000.00 repair is spread over three years
	rec := do(t, router, http.MethodPost, "/api/properties/house-1/expenses", map[string]any{
		"id": "roof", "origin_year": 2022, "total": "1000.00", "spread_years": 3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	e := decodeBody[ExpenseDTO](t, rec)

	// THEN: the remainder cent lands in the first year
	require.Len(t, e.Schedule, 3)
	assert.Equal(t, "333.34", e.Schedule[0].Share.String())
	assert.Equal(t, "333.33", e.Schedule[2].Share.String())

	amort := decodeBody[AmortizationDTO](t, do(t, router, http.MethodGet, "/api/properties/house-1/amortization?year=2024", nil))
	assert.Equal(t, "333.33", amort.Total.String())
	require.Len(t, amort.Expenses, 1)

	amort = decodeBody[AmortizationDTO](t, do(t, router, http.MethodGet, "/api/properties/house-1/amortization?year=2025", nil))
	assert.True(t, amort.Total.IsZero())
	assert.Empty(t, amort.Expenses)

	schedule := decodeBody[[]generic.YearShare](t, do(t, router, http.MethodGet, "/api/properties/house-1/expenses/roof/schedule", nil))
	assert.Len(t, schedule, 3)

	assert.Equal(t, http.StatusNotFound,
		do(t, router, http.MethodGet, "/api/properties/house-1/expenses/ghost/schedule", nil).Code)
	assert.Equal(t, http.StatusConflict, do(t, router, http.MethodPost, "/api/properties/house-1/expenses", map[string]any{
		"id": "roof", "origin_year": 2022, "total": "1000.00", "spread_years": 3,
	}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/properties/house-1/expenses", map[string]any{
		"origin_year": 2022, "total": "1000.00", "spread_years": 6,
	}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/properties/house-1/expenses", map[string]any{
		"origin_year": 2022, "total": "1000.00", "spread_years": 2, "shares": []string{"600", "300"},
	}).Code)

	// WHEN: a repair is fully deducted in 2023
	rec = do(t, router, http.MethodPost, "/api/properties/house-1/expenses", map[string]any{
		"id": "window", "origin_year": 2023, "total": "800.00", "spread_years": 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// THEN: it stays out of the amortization table and the total matches the summary
	amort = decodeBody[AmortizationDTO](t, do(t, router, http.MethodGet, "/api/properties/house-1/amortization?year=2023", nil))
	assert.Equal(t, "333.33", amort.Total.String())
	require.Len(t, amort.Expenses, 1)
	assert.Equal(t, "roof", amort.Expenses[0].ExpenseID)

	summary := decodeBody[SummaryResponse](t, do(t, router, http.MethodGet, "/api/properties/house-1/summary?year=2023", nil))
	assert.Equal(t, amort.Total.String(), summary.Summary.AmortizedRepairShare.String())
	assert.Equal(t, "800.00", summary.Summary.FullyDeductibleRepairs.String())

	list := decodeBody[[]ExpenseDTO](t, do(t, router, http.MethodGet, "/api/properties/house-1/expenses", nil))
	assert.Len(t, list, 2)
}

func TestPostings(t *testing.T) {
	_, router := newTestHandler(t)

	rec := do(t, router, http.MethodPost, "/api/properties/flat-1/postings", map[string]any{
		"booked_on": "2023-01-03", "category": "rent", "amount": "580",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decodeBody[generic.Posting](t, rec)
	assert.NotEmpty(t, p.ID)

	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/properties/flat-1/postings", map[string]any{
		"booked_on": "2023-01-03", "category": "lottery", "amount": "1",
	}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/properties/flat-1/postings", map[string]any{
		"category": "rent", "amount": "1",
	}).Code)
	assert.Equal(t, http.StatusConflict, do(t, router, http.MethodPost, "/api/properties/flat-1/postings", map[string]any{
		"id": p.ID, "booked_on": "2023-02-03", "category": "rent", "amount": "580",
	}).Code)
}

// =============================================================================
// SUMMARY
// =============================================================================

func TestSummary_CachedAndCounted(t *testing.T) {
	h, _ := newTestHandler(t)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	c, err := cache.Connect(context.Background(), config.Redis{Addr: mr.Addr(), TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	h.Cache = c
	h.Metrics = metrics.New(prometheus.NewRegistry())
	h.Events.Subscribe(c)
	h.Events.Subscribe(h.Metrics)
	router := NewRouter(h, RouterOptions{})

	// GIVEN: the mixed house scenario
	rec := do(t, router, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "mixed-house"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// WHEN: the 2023 summary is requested twice
	first := decodeBody[SummaryResponse](t, do(t, router, http.MethodGet, "/api/properties/house-1/summary?year=2023", nil))
	second := decodeBody[SummaryResponse](t, do(t, router, http.MethodGet, "/api/properties/house-1/summary?year=2023", nil))

	// THEN: the second answer comes from the cache with the same figures
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, "7560.00", first.Summary.RentIncome.String())
	assert.Equal(t, "7260.00", first.Summary.ExpectedRent.String())
	assert.Equal(t, "3600.00", first.Summary.ExpectedCondoFees.String())
	assert.Equal(t, "333.33", first.Summary.AmortizedRepairShare.String())
	assert.Equal(t, first.Summary.Surplus.String(), second.Summary.Surplus.String())
	assert.Len(t, first.Form, 14)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.Metrics.Summaries.WithLabelValues(metrics.ResultComputed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.Metrics.Summaries.WithLabelValues(metrics.ResultCached)))

	// WHEN: a posting for 2023 is booked
	rec = do(t, router, http.MethodPost, "/api/properties/house-1/postings", map[string]any{
		"booked_on": "2023-12-01", "category": "insurance", "amount": "100",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// THEN: the cached summary is dropped and recomputed
	third := decodeBody[SummaryResponse](t, do(t, router, http.MethodGet, "/api/properties/house-1/summary?year=2023", nil))
	assert.False(t, third.Cached)
	assert.Equal(t, "100.00", third.Summary.Insurance.String())
	// twelve rent postings from the scenario plus the insurance posting
	assert.Equal(t, 13.0, testutil.ToFloat64(h.Metrics.Events.WithLabelValues(string(generic.EventPostingRecorded))))

	// AND: metrics are exposed
	rec = do(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rental_engine_summaries_total")
}

func TestSummary_AggregationFailure(t *testing.T) {
	h, router := newTestHandler(t)
	require.NoError(t, h.Store.Close())

	rec := do(t, router, http.MethodGet, "/api/properties/house-1/summary?year=2023", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, rec).Details, "summary house-1/2023")
}

// =============================================================================
// IMPORT & HEALTH
// =============================================================================

func TestImportFacts(t *testing.T) {
	_, router := newTestHandler(t)

	rec := do(t, router, http.MethodPost, "/api/import", `{"property_id":"p1","subjects":[{"id":"t","kind":"tenancy","intervals":[
		{"valid_from":"2022-01-01","values":[{"key":"net_rent","amount":400},{"key":"fee_advance","amount":50}]}]}],
		"postings":[{"id":"r1","booked_on":"2022-01-03","category":"rent","amount":450}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	result := decodeBody[map[string]any](t, rec)
	assert.Equal(t, 1.0, result["subjects"])
	assert.Equal(t, 1.0, result["intervals"])
	assert.Equal(t, 1.0, result["postings"])

	value := decodeBody[ValueResponse](t, do(t, router, http.MethodGet, "/api/subjects/t/value?year=2022&month=5", nil))
	assert.Equal(t, "450.00", value.Total)

	// Overlapping the stored history is a sequencing conflict.
	rec = do(t, router, http.MethodPost, "/api/import", `{"property_id":"p1","subjects":[{"id":"t","kind":"tenancy","intervals":[
		{"id":"late","valid_from":"2023-01-01","values":[{"key":"net_rent","amount":420},{"key":"fee_advance","amount":50}]}]}]}`)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	// Documents the factory cannot read are client errors.
	rec = do(t, router, http.MethodPost, "/api/import", `{"subjects":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, router, http.MethodPost, "/api/import", `{"property_id":"p1","subjects":[{"id":"g","kind":"garage"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	h, router := newTestHandler(t)

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/healthz", nil).Code)

	require.NoError(t, h.Store.Close())
	assert.Equal(t, http.StatusServiceUnavailable, do(t, router, http.MethodGet, "/healthz", nil).Code)
}

func TestUnknownRoute(t *testing.T) {
	_, router := newTestHandler(t)

	rec := do(t, router, http.MethodGet, "/api/nothing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
