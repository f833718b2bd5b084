// Package routing implements IntentRouter (C5) and DynamicOrchestrator (C9):
// deciding which clinical agent handles a turn, and — when advanced
// orchestration is enabled — which contextual tools it gets.
package routing

import "clinicalcore/internal/clinical"

// Routing reason codes, named exactly as the decision-precedence ladder in
// §4.5 so callers/logs can match on them directly.
const (
	ReasonCriticalRiskOverride = "CRITICAL_RISK_OVERRIDE_ROBUST_AGENT"
	ReasonHighRiskOverride     = "HIGH_RISK_OVERRIDE_ROBUST_AGENT"
	ReasonSensitiveContent     = "SENSITIVE_CONTENT_FORCE_STANDARD"
	ReasonExplicitSwitch       = "EXPLICIT_USER_SWITCH"
	ReasonStabilityOverride    = "STABILITY_OVERRIDE_MAX_SWITCHES"
	ReasonPhaseHintClosure     = "PHASE_HINT_CLOSURE"
	ReasonPhaseHintAssessment  = "PHASE_HINT_ASSESSMENT"
	ReasonHighConfidence       = "HIGH_CONFIDENCE_CLASSIFICATION"
	ReasonLowConfidenceFallback = "LOW_CONFIDENCE_FALLBACK_PREVIOUS_AGENT"
	ReasonAmbiguousEntitySignal = "AMBIGUOUS_RESOLVED_BY_ENTITY_SIGNAL"
	ReasonSuggestedAgent        = "SUGGESTED_AGENT_ACCEPTED"
)

// RoutingDecision is IntentRouter/DynamicOrchestrator's shared output (§4.5).
type RoutingDecision struct {
	Agent            string
	Confidence       float64
	Reason           string
	MetadataFactors  []string
	IsEdgeCase       bool
	EdgeCaseType     string
	IsExplicitSwitch bool
}

// EnrichedContext accompanies a RoutingDecision downstream to C10/C2.
type EnrichedContext struct {
	OperationalMetadata clinical.OperationalMetadata
	ContextualTools     []string
}
