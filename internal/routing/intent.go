package routing

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"clinicalcore/internal/agentregistry"
	"clinicalcore/internal/clinical"
	"clinicalcore/internal/config"
	"clinicalcore/internal/llm"
	"clinicalcore/internal/session"
)

// switchPattern recognizes "switch to X" / "cambia a X" requests, checked
// before any model call so an explicit switch never costs a generation —
// the same small keyword/regex style as specialists/router.go's Route.
var switchPattern = regexp.MustCompile(`(?i)\b(?:switch to|cambia(?:r)? a|cambiemos a)\s+(?:modo\s+|mode\s+)?([a-z_áéíóú]+)`)

// IntentRouter implements the C5 decision-precedence ladder (§4.5).
type IntentRouter struct {
	cfg      config.RoutingConfig
	classifier llm.Provider
	model      string
}

// New builds an IntentRouter. classifier may be nil — step 6 (normal
// classification) then always falls back to the previous agent.
func New(cfg config.RoutingConfig, classifier llm.Provider, model string) *IntentRouter {
	return &IntentRouter{cfg: cfg, classifier: classifier, model: model}
}

// Route implements the precedence ladder. previousAgent is the session's
// current ActiveAgent (used as the stability/fallback target).
func (r *IntentRouter) Route(ctx context.Context, text string, md clinical.OperationalMetadata, rs *session.RiskState, previousAgent string, recentSwitches int, now time.Time) RoutingDecision {
	// 1. Critical/high risk override.
	if rs != nil {
		switch rs.RiskLevel {
		case session.RiskCritical:
			return RoutingDecision{Agent: agentregistry.Clinico, Confidence: 1.0, Reason: ReasonCriticalRiskOverride, IsEdgeCase: true, EdgeCaseType: rs.RiskType}
		case session.RiskHigh:
			return RoutingDecision{Agent: agentregistry.Clinico, Confidence: 1.0, Reason: ReasonHighRiskOverride, IsEdgeCase: true, EdgeCaseType: rs.RiskType}
		}
	}

	// 2. Sensitive content OR an active risk session that hasn't yet cleared
	// its de-escalation threshold — either condition alone forces standard
	// routing to clinico, independent of which risk type set IsRiskSession.
	if rs != nil {
		safeTurnsThreshold := r.cfg.SafeTurnsThreshold
		if safeTurnsThreshold <= 0 {
			safeTurnsThreshold = 3
		}
		if rs.RiskType == session.RiskTypeSensitiveContent || (rs.IsRiskSession && rs.ConsecutiveSafeTurns < safeTurnsThreshold) {
			return RoutingDecision{Agent: agentregistry.Clinico, Confidence: 1.0, Reason: ReasonSensitiveContent, IsEdgeCase: true, EdgeCaseType: rs.RiskType}
		}
	}

	// 3. Explicit user request.
	if target, ok := explicitSwitchTarget(text); ok {
		return RoutingDecision{Agent: target, Confidence: 1.0, Reason: ReasonExplicitSwitch, IsExplicitSwitch: true}
	}

	// 4. Stability override: too many switches in the trailing window.
	maxSwitches := r.cfg.MaxConsecutiveSwitches
	if maxSwitches <= 0 {
		maxSwitches = 4
	}
	if previousAgent != "" && recentSwitches >= maxSwitches {
		return RoutingDecision{Agent: previousAgent, Confidence: 0.6, Reason: ReasonStabilityOverride}
	}

	// 5 & 6 need a classification result; tie-break with phase hints when
	// the model band is ambiguous.
	confidence, classifiedAgent, entitySignal := r.classify(ctx, text, md)

	high := r.cfg.ConfidenceHigh
	if high <= 0 {
		high = 0.75
	}
	low := r.cfg.ConfidenceLow
	if low <= 0 {
		low = 0.50
	}

	switch {
	case confidence >= high:
		return RoutingDecision{Agent: classifiedAgent, Confidence: confidence, Reason: ReasonHighConfidence}
	case confidence <= low:
		agent := previousAgent
		if agent == "" {
			agent = agentregistry.Socratico
		}
		return RoutingDecision{Agent: agent, Confidence: confidence, Reason: ReasonLowConfidenceFallback}
	default:
		// Ambiguous band: phase hints as tie-breakers, then entity signals.
		if md.TherapeuticPhase == clinical.PhaseClosure {
			return RoutingDecision{Agent: agentregistry.Clinico, Confidence: confidence, Reason: ReasonPhaseHintClosure}
		}
		if md.TherapeuticPhase == clinical.PhaseAssessment {
			return RoutingDecision{Agent: agentregistry.Socratico, Confidence: confidence, Reason: ReasonPhaseHintAssessment}
		}
		if entitySignal != "" {
			return RoutingDecision{Agent: entitySignal, Confidence: confidence, Reason: ReasonAmbiguousEntitySignal}
		}
		return RoutingDecision{Agent: classifiedAgent, Confidence: confidence, Reason: ReasonHighConfidence}
	}
}

// DetectExplicitSwitch reports whether text is recognized as a direct
// request to change agent (precedence step 3, §4.5), independent of which
// routing path (IntentRouter or DynamicOrchestrator) the caller is about to
// use — an explicit switch always short-circuits orchestration.
func DetectExplicitSwitch(text string) (string, bool) {
	return explicitSwitchTarget(text)
}

func explicitSwitchTarget(text string) (string, bool) {
	m := switchPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	candidate := strings.ToLower(strings.TrimSpace(m[1]))
	candidate = strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u").Replace(candidate)
	for _, agent := range []string{agentregistry.Socratico, agentregistry.Clinico, agentregistry.Academico, agentregistry.Orquestador} {
		if candidate == agent {
			return agent, true
		}
	}
	return "", false
}

var classificationSchema = llm.ToolSchema{
	Name:        "classify_intent",
	Description: "Classify which clinical agent should handle this turn.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent":      map[string]any{"type": "string", "enum": []string{agentregistry.Socratico, agentregistry.Clinico, agentregistry.Academico, agentregistry.Orquestador}},
			"confidence": map[string]any{"type": "number"},
			"entity_signal_agent": map[string]any{"type": "string"},
		},
		"required": []string{"agent", "confidence"},
	},
}

type classificationArgs struct {
	Agent             string  `json:"agent"`
	Confidence        float64 `json:"confidence"`
	EntitySignalAgent string  `json:"entity_signal_agent"`
}

func (r *IntentRouter) classify(ctx context.Context, text string, md clinical.OperationalMetadata) (float64, string, string) {
	if r.classifier == nil {
		return 0, agentregistry.Socratico, ""
	}
	msgs := []llm.Message{
		{Role: "system", Content: "Classify which clinical agent (socratico, clinico, academico, orquestador) should handle this turn by calling classify_intent."},
		{Role: "user", Content: text},
	}
	resp, err := r.classifier.Chat(ctx, msgs, []llm.ToolSchema{classificationSchema}, r.model)
	if err != nil {
		return 0, agentregistry.Socratico, ""
	}
	for _, tc := range resp.ToolCalls {
		if tc.Name != classificationSchema.Name {
			continue
		}
		var args classificationArgs
		if json.Unmarshal(tc.Args, &args) == nil && args.Agent != "" {
			return args.Confidence, args.Agent, args.EntitySignalAgent
		}
	}
	return 0, agentregistry.Socratico, ""
}
