package routing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clinicalcore/internal/agentregistry"
	"clinicalcore/internal/clinical"
)

func TestDynamicOrchestratorLocksInAboveConfidenceThreshold(t *testing.T) {
	router := New(testRoutingConfig(), &fakeClassifier{agent: agentregistry.Clinico, confidence: 0.9}, "test-model")
	orch := NewDynamicOrchestrator(testRoutingConfig(), router)

	result := orch.Decide(context.Background(), "s1", "let's document today's session", clinical.OperationalMetadata{}, nil, "socratico", nil, nil, time.Now())

	require.True(t, result.LockedIn)
	require.Equal(t, agentregistry.Clinico, result.Decision.Agent)
}

func TestDynamicOrchestratorFallsBackBelowConfidenceThreshold(t *testing.T) {
	router := New(testRoutingConfig(), &fakeClassifier{agent: agentregistry.Clinico, confidence: 0.6}, "test-model")
	orch := NewDynamicOrchestrator(testRoutingConfig(), router)

	result := orch.Decide(context.Background(), "s1", "something ambiguous", clinical.OperationalMetadata{}, nil, "socratico", nil, nil, time.Now())

	require.False(t, result.LockedIn)
}

func TestDynamicOrchestratorKeepsToolContinuityWhenIntentOverlaps(t *testing.T) {
	router := New(testRoutingConfig(), &fakeClassifier{agent: agentregistry.Clinico, confidence: 0.9}, "test-model")
	orch := NewDynamicOrchestrator(testRoutingConfig(), router)
	now := time.Now()

	first := orch.Decide(context.Background(), "s1", "let's run a progress_note tool", clinical.OperationalMetadata{}, nil, "socratico", []string{"progress_note"}, nil, now)
	require.True(t, first.LockedIn)
	require.Contains(t, first.ContextualTools, "progress_note")

	second := orch.Decide(context.Background(), "s1", "let's continue the progress note for today", clinical.OperationalMetadata{}, nil, "clinico", nil, nil, now.Add(time.Minute))
	require.True(t, second.LockedIn)
	require.Contains(t, second.ContextualTools, "progress_note")
}

func TestDynamicOrchestratorUpdatesDominantTopicEveryFiveTurns(t *testing.T) {
	router := New(testRoutingConfig(), &fakeClassifier{agent: agentregistry.Clinico, confidence: 0.9}, "test-model")
	orch := NewDynamicOrchestrator(testRoutingConfig(), router)
	now := time.Now()

	entities := []clinical.Entity{{Type: "disorder_condition", Value: "anxiety", Confidence: 0.9}}
	var last DecisionResult
	for i := 0; i < 5; i++ {
		last = orch.Decide(context.Background(), "s1", "anxious about work", clinical.OperationalMetadata{}, nil, "socratico", nil, entities, now)
	}

	require.Equal(t, "disorder_condition", last.DominantTopic)
}

func TestToolBudgetEvictsOldestPastCapacity(t *testing.T) {
	b := NewToolBudget(2)
	b.Touch("a", 1, time.Now())
	b.Touch("b", 2, time.Now())
	b.Touch("c", 3, time.Now())

	names := b.Names()
	require.Len(t, names, 2)
	require.NotContains(t, names, "a")
}

func TestMergeToolsPrioritizesContextualAndCapsAtEight(t *testing.T) {
	contextual := []string{"t1", "t2", "t3"}
	legacy := []string{"t3", "t4", "t5", "t6", "t7", "t8", "t9"}

	merged := MergeTools(contextual, legacy)

	require.Len(t, merged, 8)
	require.Equal(t, []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8"}, merged)
}
