package statemachine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arome3/vigil/pkg/models"
)

func TestEvaluateGuard_AllowsDefinedEdges(t *testing.T) {
	doc := &models.Incident{Status: models.StatusDetected}
	result := EvaluateGuard(doc, models.StatusDetected, models.StatusTriaged, GuardContext{MaxReflections: 3})
	require.True(t, result.Allowed)
	require.Empty(t, result.RedirectTo)
}

func TestEvaluateGuard_RejectsUndefinedEdge(t *testing.T) {
	doc := &models.Incident{Status: models.StatusDetected}
	result := EvaluateGuard(doc, models.StatusDetected, models.StatusResolved, GuardContext{MaxReflections: 3})
	require.False(t, result.Allowed)
	require.Empty(t, result.RedirectTo)
}

func TestEvaluateGuard_RedirectsReflectionPastLimit(t *testing.T) {
	doc := &models.Incident{Status: models.StatusReflecting, ReflectionCount: 3}
	result := EvaluateGuard(doc, models.StatusReflecting, models.StatusInvestigating, GuardContext{MaxReflections: 3})
	require.False(t, result.Allowed)
	require.Equal(t, models.StatusEscalated, result.RedirectTo)
	require.Equal(t, "reflection_limit_reached", result.Reason)
}

func TestEvaluateGuard_AllowsReflectionUnderLimit(t *testing.T) {
	doc := &models.Incident{Status: models.StatusReflecting, ReflectionCount: 2}
	result := EvaluateGuard(doc, models.StatusReflecting, models.StatusInvestigating, GuardContext{MaxReflections: 3})
	require.True(t, result.Allowed)
}

func TestIsAllowedEdge_TerminalStatesHaveNoOutgoingEdges(t *testing.T) {
	for _, terminal := range []models.Status{models.StatusResolved, models.StatusSuppressed, models.StatusEscalated} {
		require.Empty(t, allowed[terminal], "terminal state %s should have no outgoing transitions", terminal)
	}
}
