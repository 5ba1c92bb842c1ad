package handlers

import (
	"encoding/json"
	"testing"

	types "github.com/kpforge/proposal-backend/internal/domain"
	"github.com/kpforge/proposal-backend/internal/temporalx/proposalrun"
)

func budgetRow(t *testing.T, matrix map[string]map[string]float64, rates map[string]float64) *types.ProposalBudget {
	t.Helper()
	matrixJSON, err := json.Marshal(matrix)
	if err != nil {
		t.Fatalf("marshal matrix: %v", err)
	}
	ratesJSON, err := json.Marshal(rates)
	if err != nil {
		t.Fatalf("marshal rates: %v", err)
	}
	return &types.ProposalBudget{Matrix: matrixJSON, Rates: ratesJSON}
}

func TestStateFromRunRestoresSavedBudget(t *testing.T) {
	run := &types.ProposalRun{WorkflowID: "kp-doc.pdf-42", Status: proposalrun.StatusCompleted}
	budget := budgetRow(t,
		map[string]map[string]float64{
			"Discovery":   {"Backend": 12},
			"Development": {"Backend": 28, "Frontend": 16},
		},
		map[string]float64{"Backend": 50, "Frontend": 45},
	)

	st := stateFromRun(run, budget)
	if st.Status != proposalrun.StatusCompleted {
		t.Fatalf("status = %q", st.Status)
	}
	if !st.IsApproved {
		t.Fatalf("completed run not marked approved")
	}
	if st.Budget["Development"]["Backend"] != 28 || st.Budget["Development"]["Frontend"] != 16 {
		t.Fatalf("budget not restored: %+v", st.Budget)
	}
	if st.Rates["Backend"] != 50 {
		t.Fatalf("rates not restored: %+v", st.Rates)
	}
}

func TestStateFromRunWithoutBudgetRow(t *testing.T) {
	run := &types.ProposalRun{WorkflowID: "kp-doc.pdf-42", Status: proposalrun.StatusError, Error: "no text content found"}

	st := stateFromRun(run, nil)
	if st.Status != proposalrun.StatusError || st.Error != "no text content found" {
		t.Fatalf("state = %+v", st)
	}
	if st.IsApproved {
		t.Fatalf("errored run marked approved")
	}
	if st.Budget != nil || st.Rates != nil {
		t.Fatalf("unexpected budget data: %+v", st)
	}
}

func TestStateFromRunIgnoresMalformedBudget(t *testing.T) {
	run := &types.ProposalRun{WorkflowID: "kp-doc.pdf-42", Status: proposalrun.StatusCompleted}
	budget := &types.ProposalBudget{Matrix: []byte("not json"), Rates: []byte("{")}

	st := stateFromRun(run, budget)
	if st.Budget != nil || st.Rates != nil {
		t.Fatalf("malformed rows leaked into state: %+v", st)
	}
	if st.Status != proposalrun.StatusCompleted {
		t.Fatalf("status = %q", st.Status)
	}
}
