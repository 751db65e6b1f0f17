/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Loads each scenario through the HTTP API against the fixed test clock
	(2024-03-20) and checks the statuses, fees and history it produces.
*/
package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/parking-ledger/billing"
)

func loadScenario(t *testing.T, ts *testServer, id string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func statusByName(t *testing.T, ts *testServer) map[string]StatusEntryDTO {
	t.Helper()
	list := decode[StatusListDTO](t, ts.do(t, http.MethodGet, "/api/status", nil))
	out := make(map[string]StatusEntryDTO, len(list.Residents))
	for _, e := range list.Residents {
		out[e.Name] = e
	}
	return out
}

func TestScenario_BuildingOverview(t *testing.T) {
	// GIVEN: The building overview scenario
	ts := newTestServer(t)

	// WHEN: Loading it
	loadScenario(t, ts, "building-overview")

	// THEN: Each resident shows a different status
	board := statusByName(t, ts)
	require.Len(t, board, 4)
	assert.Equal(t, billing.StatusAlDia, board["Ana Perez"].Status)
	assert.Equal(t, billing.StatusAdelantado, board["Bruno Soto"].Status)
	assert.Equal(t, billing.StatusAtrasado, board["Carla Rojas"].Status)
	assert.Equal(t, 96, board["Carla Rojas"].DaysOverdue)
	assert.Equal(t, billing.StatusPendiente, board["Diego Munoz"].Status)
	assert.Equal(t, 19, board["Diego Munoz"].DaysOverdue)
}

func TestScenario_PairPricing(t *testing.T) {
	ts := newTestServer(t)

	loadScenario(t, ts, "pair-pricing")

	debt := decode[DebtDetailsDTO](t, ts.do(t, http.MethodGet, "/api/residents/res-fernando/debt", nil))
	assert.Equal(t, "Premium Pair", debt.Template)
	// Cars: 60000+40000 for the pair, 60000 for the odd one. Motorcycles: 22000+15000.
	assert.True(t, debt.MonthlyFee.Equal(money("197000")), debt.MonthlyFee.String())
	assert.Equal(t, billing.StatusAtrasado, debt.Status)
	require.Len(t, debt.Owed, 3)
	assert.Equal(t, 2, debt.Fines.Count)
	assert.True(t, debt.Fines.Total.Equal(money("15000")), debt.Fines.Total.String())
}

func TestScenario_PaymentHistory(t *testing.T) {
	ts := newTestServer(t)

	loadScenario(t, ts, "payment-history")

	all := decode[HistoryDTO](t, ts.do(t, http.MethodGet, "/api/payments", nil))
	assert.Len(t, all.Records, 9)
	// First month due 2023-11-20: four 30-day blocks at 5000 each.
	assert.True(t, all.Summary.Fines.Equal(money("20000")), all.Summary.Fines.String())
	assert.True(t, all.Summary.Adjustments.Equal(money("-2500")))

	adjustments := decode[HistoryDTO](t, ts.do(t, http.MethodGet, "/api/payments?type=adjustment", nil))
	assert.Len(t, adjustments.Records, 2)

	fines := decode[HistoryDTO](t, ts.do(t, http.MethodGet, "/api/payments?type=fine&resident=lagos", nil))
	require.Len(t, fines.Records, 1)
	assert.Equal(t, "Gabriela Lagos", fines.Records[0].ResidentName)

	board := statusByName(t, ts)
	assert.Equal(t, billing.StatusAlDia, board["Hector Fuentes"].Status)
}

func TestScenario_CurrentAndReset(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, "null\n", ts.do(t, http.MethodGet, "/api/scenarios/current", nil).Body.String())

	loadScenario(t, ts, "pair-pricing")
	current := decode[ScenarioDTO](t, ts.do(t, http.MethodGet, "/api/scenarios/current", nil))
	assert.Equal(t, "pair-pricing", current.ID)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/scenarios/reset", nil).Code)
	assert.Empty(t, statusByName(t, ts))
}

func TestScenario_Unknown(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenario_ListAndDisabled(t *testing.T) {
	ts := newTestServer(t)
	listed := decode[[]ScenarioDTO](t, ts.do(t, http.MethodGet, "/api/scenarios", nil))
	assert.Len(t, listed, len(scenarios))

	// Without a seeder the routes are not mounted.
	router := NewRouter(NewHandler(ts.handler.Service, nil, nil), RouterOptions{})
	req, _ := http.NewRequest(http.MethodGet, "/api/scenarios", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
