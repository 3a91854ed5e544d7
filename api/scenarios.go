/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built property fact documents that populate the database with
  realistic data. Each scenario is a factory document built from the rental
  presets and written with factory.Apply, the same path POST /api/import uses.

AVAILABLE SCENARIOS:
  single-tenancy:  One flat, constant rent, a year of rent postings
  rent-increase:   Rent raised from July 2023; expected rent splits the year
  managed-unit:    Condo unit whose fee interval ends with the management contract
  repair-spread:   Roof repair spread over three years plus a fully deducted repair
  mixed-house:     Tenancy, managed unit, repairs and postings together

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "rent-increase"}

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - rental/presets.go: Fact document fragments
  - factory/apply.go: Writing a document
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/rental-engine/factory"
	"github.com/warp/rental-engine/rental"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	doc func() string
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "single-tenancy",
			Name:        "Single Tenancy",
			Description: "One flat at constant rent with monthly rent postings for 2023",
			PropertyID:  "flat-1",
		},
		doc: func() string {
			postings := rental.MonthlyRentPostingsJSON("rent", 2023, 580)
			postings = append(postings,
				rental.PostingJSON("ins-2023", "2023-02-15", "insurance", 240, "building insurance"),
				rental.PostingJSON("tax-2023", "2023-05-15", "general_cost", 310.5, "property tax"),
				rental.PostingJSON("afa-2023", "2023-12-31", "depreciation", 2400, "AfA 2%"),
			)
			return rental.PropertyJSON("flat-1",
				[]string{rental.TenancyJSON("flat-1-t", "Flat", "2021-01-01", 500, 80)},
				nil, postings)
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "rent-increase",
			Name:        "Rent Increase",
			Description: "Net rent raised from 500 to 550 on 2023-07-01; the increase was not booked",
			PropertyID:  "flat-2",
		},
		doc: func() string {
			return rental.PropertyJSON("flat-2",
				[]string{rental.RentIncreaseJSON("flat-2-t", "Flat", "2021-01-01", "2023-06-30", "2023-07-01", 500, 550, 80)},
				nil,
				rental.MonthlyRentPostingsJSON("rent", 2023, 580))
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "managed-unit",
			Name:        "Managed Unit",
			Description: "Condo unit under a management contract ending 2026-12-31",
			PropertyID:  "condo-1",
		},
		doc: func() string {
			return rental.PropertyJSON("condo-1",
				[]string{rental.ManagedUnitJSON("condo-1-u", "Unit 3", "2022-01-01", "2026-12-31", 240, 60)},
				nil,
				[]string{
					rental.PostingJSON("fee-2023", "2023-12-20", "fee_income", 1150, "Nebenkostenabrechnung"),
					rental.PostingJSON("mgmt-2023", "2023-12-31", "general_cost", 420, "management fee"),
				})
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "repair-spread",
			Name:        "Repair Spread",
			Description: "Roof repair of 1000.00 spread over 2022-2024 and heating over five years",
			PropertyID:  "house-2",
		},
		doc: func() string {
			return rental.PropertyJSON("house-2",
				[]string{rental.TenancyJSON("house-2-t", "House", "2020-01-01", 1200, 250)},
				[]string{
					rental.RepairJSON("roof", 2022, 1000, 3, "roof repair"),
					rental.RepairJSON("heating", 2023, 8000, 5, "heating replacement"),
				},
				[]string{rental.PostingJSON("window-2023", "2023-09-01", "repair_full", 780, "window seal")})
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "mixed-house",
			Name:        "Mixed House",
			Description: "Tenancy with a rent increase, a managed unit and a spread repair",
			PropertyID:  "house-1",
		},
		doc: func() string {
			return rental.PropertyJSON("house-1",
				[]string{
					rental.RentIncreaseJSON("t-1", "Ground floor", "2021-01-01", "2023-06-30", "2023-07-01", 500, 550, 80),
					rental.ManagedUnitJSON("u-1", "Unit 3", "2022-01-01", "2026-12-31", 240, 60),
				},
				[]string{rental.RepairJSON("roof", 2022, 1000, 3, "roof")},
				rental.MonthlyRentPostingsJSON("rent", 2023, 630))
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// ListScenarios returns all available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the most recently loaded scenario.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	s, ok := findScenario(h.scenario())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"scenario": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenario": s.ScenarioDTO})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setScenario("")
	h.dropCachedSummaries(r)

	result, err := h.loadScenario(ctx, s)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.setScenario(s.ID)
	h.log(r, "api.LoadScenario").Info("scenario loaded", "scenario", s.ID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "loaded", "scenario": s.ID, "import": result})
}

func (h *Handler) loadScenario(ctx context.Context, s scenario) (factory.ImportResult, error) {
	facts, err := h.Facts.ParseFacts(s.doc())
	if err != nil {
		return factory.ImportResult{}, fmt.Errorf("scenario %s: %w", s.ID, err)
	}
	return factory.Apply(ctx, h.Store, h.Events, facts)
}
