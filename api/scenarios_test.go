/*
scenarios_test.go - Tests for the demo scenarios

Each scenario is loaded through billing.Service into a fresh ledger and
checked against hand-computed balances.
*/
package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tenant-ledger/billing"
	"github.com/warp/tenant-ledger/ledger"
)

func outstanding(t *testing.T, svc *billing.Service, tenant ledger.TenantID) string {
	t.Helper()
	obligations, err := svc.GetObligations(t.Context(), tenant, date(2026, 12, 31))
	require.NoError(t, err)
	return billing.TotalOutstanding(obligations).StringFixed(2)
}

func TestScenario_MidMonthMoveIn(t *testing.T) {
	// GIVEN: An empty ledger
	svc := newTestService(t, nil)

	// WHEN: Loading the scenario
	require.NoError(t, LoadScenario(t.Context(), svc, "mid-month-move-in"))

	// THEN: March is 1700 prorated rent + 150 fee + 500 deposit, April and
	// May are full rent, less the 2000 payment
	assert.Equal(t, "6550.00", outstanding(t, svc, "T-ada"))
}

func TestScenario_Overdue(t *testing.T) {
	svc := newTestService(t, nil)

	require.NoError(t, LoadScenario(t.Context(), svc, "overdue"))

	// THEN: 6 x 900 + 50 fee - 500 paid
	assert.Equal(t, "4950.00", outstanding(t, svc, "T-dee"))
	aging, err := svc.GetAging(t.Context(), "T-dee", date(2025, 7, 15))
	require.NoError(t, err)
	assert.Equal(t, "4950.00", aging.Total.StringFixed(2))
	assert.True(t, aging.Over90.IsPositive(), "oldest months are over 90 days late")
}

func TestScenario_NoShow(t *testing.T) {
	svc := newTestService(t, nil)

	require.NoError(t, LoadScenario(t.Context(), svc, "no-show"))

	assert.Equal(t, "0.00", outstanding(t, svc, "T-cyd"))
	reversals, err := svc.Ledger.Find(t.Context(), ledger.Query{
		TenantID: "T-cyd",
		Sources:  []ledger.Source{ledger.SourceReversal},
	})
	require.NoError(t, err)
	assert.Len(t, reversals, 2)
}

func TestScenario_OperatingCosts(t *testing.T) {
	svc := newTestService(t, nil)

	require.NoError(t, LoadScenario(t.Context(), svc, "operating-costs"))

	is, err := svc.GetIncomeStatement(t.Context(), date(2025, 2, 1), date(2025, 3, 31), billing.BasisAccrual)
	require.NoError(t, err)
	assert.Equal(t, "3100.00", is.TotalIncome.StringFixed(2))
	assert.Equal(t, "695.95", is.TotalExpense.StringFixed(2))
}

func TestScenario_AllLoadAndBalance(t *testing.T) {
	// GIVEN: Every scenario loaded into one ledger
	svc := newTestService(t, nil)
	for _, s := range Scenarios() {
		require.NoError(t, LoadScenario(t.Context(), svc, s.ID), s.ID)
	}

	// THEN: The books balance
	tb, err := svc.GetTrialBalance(t.Context(), date(2026, 12, 31), billing.BasisAccrual)
	require.NoError(t, err)
	assert.True(t, tb.IsBalanced(), "difference %s", tb.Difference)

	// AND: Loading a scenario again is a conflict, not a double charge
	err = LoadScenario(t.Context(), svc, "overdue")
	assert.True(t, ledger.IsConflict(err), "got %v", err)
	assert.Equal(t, "4950.00", outstanding(t, svc, "T-dee"))
}

func TestScenarioEndpoints(t *testing.T) {
	_, srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ScenarioDTO](t, rec), len(scenarios))

	rec = do(t, srv, http.MethodPost, "/api/scenarios/load", map[string]any{"scenarioId": "prepayment"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/api/scenarios/load", map[string]any{"scenarioId": "prepayment"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/scenarios/load", map[string]any{"scenarioId": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
