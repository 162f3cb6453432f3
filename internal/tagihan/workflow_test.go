package tagihan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sipkd-core/sipkd/internal/shared"
)

func passingChecklist() []ChecklistItem {
	items := make([]ChecklistItem, 0, len(ChecklistCodes))
	for _, code := range ChecklistCodes {
		items = append(items, ChecklistItem{Code: code, Passed: true})
	}
	return items
}

func failingChecklist() []ChecklistItem {
	items := passingChecklist()
	items[0].Passed = false
	items[0].Rationale = "missing signed invoice"
	return items
}

func TestTransitionTableGraph(t *testing.T) {
	expected := map[Edge][2]Status{
		EdgeRegister:      {StatusAwaitingRegistration, StatusAwaitingVerification},
		EdgeApprove:       {StatusAwaitingVerification, StatusForwarded},
		EdgeReject:        {StatusAwaitingVerification, StatusReturned},
		EdgeFlag:          {StatusAwaitingVerification, StatusNeedsReview},
		EdgeConfirmReturn: {StatusNeedsReview, StatusReturned},
		EdgeResubmit:      {StatusNeedsReview, StatusAwaitingVerification},
		EdgeIssueSP2D:     {StatusForwarded, StatusCompleted},
	}
	require.Len(t, transitions, len(expected), "every edge must be enumerated")
	for edge, endpoints := range expected {
		r, ok := transitions[edge]
		require.True(t, ok, "edge %s missing from table", edge)
		require.Equal(t, endpoints[0], r.from, "edge %s source", edge)
		require.Equal(t, endpoints[1], r.to, "edge %s target", edge)
		require.NotEmpty(t, r.auditAction, "edge %s must name its audit action", edge)
	}
}

func TestRuleForRejectsUnknownEdge(t *testing.T) {
	_, err := ruleFor(Edge("archive"), StatusAwaitingRegistration, shared.RoleRegistrar)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRuleForRejectsWrongSourceStatus(t *testing.T) {
	_, err := ruleFor(EdgeRegister, StatusCompleted, shared.RoleRegistrar)
	require.ErrorIs(t, err, shared.ErrValidation)
	var wrongState *wrongStateError
	require.ErrorAs(t, err, &wrongState)
}

func TestRuleForRejectsWrongRole(t *testing.T) {
	_, err := ruleFor(EdgeRegister, StatusAwaitingRegistration, shared.RoleVerifier)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestRuleForAllowsAdminOnEveryEdge(t *testing.T) {
	for edge, r := range transitions {
		_, err := ruleFor(edge, r.from, shared.RoleAdmin)
		require.NoError(t, err, "admin blocked on edge %s", edge)
	}
}

func TestChecklistApprovalRequiresAllPasses(t *testing.T) {
	require.NoError(t, validateChecklist(passingChecklist(), true))
	require.ErrorIs(t, validateChecklist(failingChecklist(), true), shared.ErrValidation)
}

func TestChecklistRejectionRequiresFailure(t *testing.T) {
	require.NoError(t, validateChecklist(failingChecklist(), false))
	require.ErrorIs(t, validateChecklist(passingChecklist(), false), shared.ErrValidation)
}

func TestChecklistFailureRequiresRationale(t *testing.T) {
	items := passingChecklist()
	items[2].Passed = false
	require.ErrorIs(t, validateChecklist(items, false), shared.ErrValidation)
}

func TestChecklistMustBeComplete(t *testing.T) {
	require.ErrorIs(t, validateChecklist(passingChecklist()[:3], true), shared.ErrValidation)

	duplicated := passingChecklist()
	duplicated[1].Code = duplicated[0].Code
	require.ErrorIs(t, validateChecklist(duplicated, true), shared.ErrValidation)
}
