package routing

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clinicalcore/internal/agentregistry"
	"clinicalcore/internal/clinical"
	"clinicalcore/internal/config"
	"clinicalcore/internal/llm"
	"clinicalcore/internal/session"
)

func testRoutingConfig() config.RoutingConfig {
	return config.RoutingConfig{
		ConfidenceHigh: 0.75, ConfidenceLow: 0.50, MaxConsecutiveSwitches: 4,
	}
}

func TestRouteCriticalRiskOverridesRegardlessOfPreviousAgent(t *testing.T) {
	r := New(testRoutingConfig(), nil, "")
	rs := &session.RiskState{RiskLevel: session.RiskCritical}

	decision := r.Route(context.Background(), "anything", clinical.OperationalMetadata{}, rs, "academico", 0, time.Now())

	require.Equal(t, agentregistry.Clinico, decision.Agent)
	require.Equal(t, ReasonCriticalRiskOverride, decision.Reason)
	require.True(t, decision.IsEdgeCase)
}

func TestRouteHighRiskOverridesToClinico(t *testing.T) {
	r := New(testRoutingConfig(), nil, "")
	rs := &session.RiskState{RiskLevel: session.RiskHigh}

	decision := r.Route(context.Background(), "anything", clinical.OperationalMetadata{}, rs, "socratico", 0, time.Now())

	require.Equal(t, agentregistry.Clinico, decision.Agent)
	require.Equal(t, ReasonHighRiskOverride, decision.Reason)
}

func TestRouteSensitiveContentForcesClinico(t *testing.T) {
	r := New(testRoutingConfig(), nil, "")
	rs := &session.RiskState{IsRiskSession: true, RiskType: session.RiskTypeSensitiveContent}

	decision := r.Route(context.Background(), "hello", clinical.OperationalMetadata{}, rs, "academico", 0, time.Now())

	require.Equal(t, agentregistry.Clinico, decision.Agent)
	require.Equal(t, ReasonSensitiveContent, decision.Reason)
}

func TestRouteActiveRiskSessionBelowSafeTurnsThresholdForcesClinicoRegardlessOfRiskType(t *testing.T) {
	r := New(testRoutingConfig(), nil, "")
	// A stress-type risk session (e.g. triggered by "overwhelmed") must force
	// standard routing the same as a sensitive-content one — rule 2 is an OR
	// over two independent conditions, not an AND against RiskTypeSensitiveContent.
	rs := &session.RiskState{IsRiskSession: true, RiskType: session.RiskTypeStress, RiskLevel: session.RiskMedium, ConsecutiveSafeTurns: 1}

	decision := r.Route(context.Background(), "I'm overwhelmed", clinical.OperationalMetadata{}, rs, "academico", 0, time.Now())

	require.Equal(t, agentregistry.Clinico, decision.Agent)
	require.Equal(t, ReasonSensitiveContent, decision.Reason)
}

func TestRouteActiveRiskSessionAtOrAboveSafeTurnsThresholdDoesNotForceClinico(t *testing.T) {
	r := New(testRoutingConfig(), &fakeClassifier{agent: agentregistry.Academico, confidence: 0.9}, "test-model")
	rs := &session.RiskState{IsRiskSession: true, RiskType: session.RiskTypeStress, RiskLevel: session.RiskMedium, ConsecutiveSafeTurns: 3}

	decision := r.Route(context.Background(), "tell me about CBT research", clinical.OperationalMetadata{}, rs, "socratico", 0, time.Now())

	require.Equal(t, agentregistry.Academico, decision.Agent)
	require.Equal(t, ReasonHighConfidence, decision.Reason)
}

func TestRouteDetectsExplicitSwitchWithModoPrefix(t *testing.T) {
	r := New(testRoutingConfig(), nil, "")

	decision := r.Route(context.Background(), "cambia a modo académico", clinical.OperationalMetadata{}, nil, "socratico", 0, time.Now())

	require.True(t, decision.IsExplicitSwitch)
	require.Equal(t, agentregistry.Academico, decision.Agent)
	require.Equal(t, 1.0, decision.Confidence)
}

func TestRouteDetectsExplicitSwitchInEnglish(t *testing.T) {
	r := New(testRoutingConfig(), nil, "")

	decision := r.Route(context.Background(), "please switch to clinico", clinical.OperationalMetadata{}, nil, "socratico", 0, time.Now())

	require.True(t, decision.IsExplicitSwitch)
	require.Equal(t, agentregistry.Clinico, decision.Agent)
}

func TestRouteStabilityOverrideWhenTooManyRecentSwitches(t *testing.T) {
	r := New(testRoutingConfig(), nil, "")

	decision := r.Route(context.Background(), "tell me something neutral", clinical.OperationalMetadata{}, nil, "socratico", 4, time.Now())

	require.Equal(t, "socratico", decision.Agent)
	require.Equal(t, ReasonStabilityOverride, decision.Reason)
}

func TestRouteWithoutClassifierFallsBackToPreviousAgent(t *testing.T) {
	r := New(testRoutingConfig(), nil, "")

	decision := r.Route(context.Background(), "tell me something neutral", clinical.OperationalMetadata{}, nil, "academico", 0, time.Now())

	require.Equal(t, "academico", decision.Agent)
	require.Equal(t, ReasonLowConfidenceFallback, decision.Reason)
}

func TestRouteWithoutClassifierAndNoPreviousAgentDefaultsToSocratico(t *testing.T) {
	r := New(testRoutingConfig(), nil, "")

	decision := r.Route(context.Background(), "tell me something neutral", clinical.OperationalMetadata{}, nil, "", 0, time.Now())

	require.Equal(t, agentregistry.Socratico, decision.Agent)
}

// fakeClassifier returns a fixed classification via the classify_intent tool
// call, mimicking the model function-calling contract §4.5 depends on.
type fakeClassifier struct {
	agent      string
	confidence float64
}

func (f *fakeClassifier) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	return llm.Message{
		ToolCalls: []llm.ToolCall{{
			Name: "classify_intent",
			Args: []byte(`{"agent":"` + f.agent + `","confidence":` + strconv.FormatFloat(f.confidence, 'f', -1, 64) + `}`),
		}},
	}, nil
}

func (f *fakeClassifier) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

func TestRouteAcceptsHighConfidenceClassification(t *testing.T) {
	r := New(testRoutingConfig(), &fakeClassifier{agent: agentregistry.Academico, confidence: 0.9}, "test-model")

	decision := r.Route(context.Background(), "tell me about CBT research", clinical.OperationalMetadata{}, nil, "socratico", 0, time.Now())

	require.Equal(t, agentregistry.Academico, decision.Agent)
	require.Equal(t, ReasonHighConfidence, decision.Reason)
}

func TestRouteAmbiguousBandUsesClosurePhaseHint(t *testing.T) {
	r := New(testRoutingConfig(), &fakeClassifier{agent: agentregistry.Academico, confidence: 0.6}, "test-model")
	md := clinical.OperationalMetadata{TherapeuticPhase: clinical.PhaseClosure}

	decision := r.Route(context.Background(), "let's wrap up", md, nil, "socratico", 0, time.Now())

	require.Equal(t, agentregistry.Clinico, decision.Agent)
	require.Equal(t, ReasonPhaseHintClosure, decision.Reason)
}

func TestRouteAmbiguousBandUsesAssessmentPhaseHint(t *testing.T) {
	r := New(testRoutingConfig(), &fakeClassifier{agent: agentregistry.Academico, confidence: 0.6}, "test-model")
	md := clinical.OperationalMetadata{TherapeuticPhase: clinical.PhaseAssessment}

	decision := r.Route(context.Background(), "how are things going", md, nil, "socratico", 0, time.Now())

	require.Equal(t, agentregistry.Socratico, decision.Agent)
	require.Equal(t, ReasonPhaseHintAssessment, decision.Reason)
}

func TestDetectExplicitSwitchRejectsNonMatchingText(t *testing.T) {
	_, ok := DetectExplicitSwitch("I don't want to switch anything")
	require.False(t, ok)
}
