package routing

import (
	"context"
	"strings"
	"sync"
	"time"

	"clinicalcore/internal/agentregistry"
	"clinicalcore/internal/clinical"
	"clinicalcore/internal/config"
	"clinicalcore/internal/session"
)

// toolContinuityTurns is the threshold (§4.9) within which a previously
// used tool is kept in the contextual set if the new intent overlaps.
const toolContinuityTurns = 3

// dominantTopicWindowTurns is how often the dominant-topic window updates.
const dominantTopicWindowTurns = 5

// sessionOrchestrationState is the per-session bookkeeping DynamicOrchestrator
// keeps across turns: the tool budget and the dominant-topic window.
type sessionOrchestrationState struct {
	budget        *ToolBudget
	turn          int
	dominantTopic string
	topicCounts   map[string]int
}

// DynamicOrchestrator implements C9: advanced, tool-aware agent selection
// used when useAdvancedOrchestration=true and forceStandardRouting=false.
type DynamicOrchestrator struct {
	cfg        config.RoutingConfig
	router     *IntentRouter
	mu         sync.Mutex
	sessions   map[string]*sessionOrchestrationState
	budgetCap  int
}

// NewDynamicOrchestrator builds a DynamicOrchestrator. router is used as
// the underlying classifier and as the fallback path when confidence is
// below the lock-in threshold.
func NewDynamicOrchestrator(cfg config.RoutingConfig, router *IntentRouter) *DynamicOrchestrator {
	return &DynamicOrchestrator{
		cfg:      cfg,
		router:   router,
		sessions: make(map[string]*sessionOrchestrationState),
	}
}

func (o *DynamicOrchestrator) stateFor(sessionID string) *sessionOrchestrationState {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.sessions[sessionID]
	if !ok {
		st = &sessionOrchestrationState{budget: NewToolBudget(o.budgetCap), topicCounts: make(map[string]int)}
		o.sessions[sessionID] = st
	}
	return st
}

// DecisionResult is C9's output shape (§4.9).
type DecisionResult struct {
	Decision        RoutingDecision
	ContextualTools []string
	DominantTopic   string
	LockedIn        bool
}

// Decide selects an agent for this turn, returning LockedIn=false when the
// classification confidence falls below the lock-in threshold — callers
// must then fall back to IntentRouter.Route.
func (o *DynamicOrchestrator) Decide(ctx context.Context, sessionID string, text string, md clinical.OperationalMetadata, rs *session.RiskState, previousAgent string, legacyTools []string, entities []clinical.Entity, now time.Time) DecisionResult {
	st := o.stateFor(sessionID)
	st.turn++

	confidence, agent, entitySignal := o.router.classify(ctx, text, md)
	_ = entitySignal

	lockThreshold := 0.75
	if confidence < lockThreshold {
		return DecisionResult{LockedIn: false}
	}
	if agent == "" {
		agent = agentregistry.Socratico
	}

	o.updateDominantTopic(st, entities)

	contextual := o.selectContextualTools(st, legacyTools, text, now)

	decision := RoutingDecision{
		Agent:      agent,
		Confidence: confidence,
		Reason:     ReasonHighConfidence,
	}
	for _, e := range entities {
		decision.MetadataFactors = append(decision.MetadataFactors, e.Type)
	}

	return DecisionResult{
		Decision:        decision,
		ContextualTools: contextual,
		DominantTopic:   st.dominantTopic,
		LockedIn:        true,
	}
}

func (o *DynamicOrchestrator) updateDominantTopic(st *sessionOrchestrationState, entities []clinical.Entity) {
	for _, e := range entities {
		st.topicCounts[e.Type]++
	}
	if st.turn%dominantTopicWindowTurns != 0 {
		return
	}
	best, bestCount := "", 0
	for topic, count := range st.topicCounts {
		if count > bestCount {
			best, bestCount = topic, count
		}
	}
	if best != "" {
		st.dominantTopic = best
	}
}

// selectContextualTools applies the tool-continuity policy: a tool used
// within the last toolContinuityTurns turns is kept if its name overlaps
// the current text (a cheap proxy for "the new intent overlaps"), then
// records it in the session's bounded tool budget.
func (o *DynamicOrchestrator) selectContextualTools(st *sessionOrchestrationState, legacyTools []string, text string, now time.Time) []string {
	lc := strings.ToLower(text)
	var kept []string
	for _, name := range st.budget.Names() {
		if st.budget.UsedWithinLastNTurns(name, st.turn, toolContinuityTurns) && strings.Contains(lc, strings.ToLower(strings.ReplaceAll(name, "_", " "))) {
			kept = append(kept, name)
		}
	}
	for _, name := range legacyTools {
		st.budget.Touch(name, st.turn, now)
	}
	for _, name := range kept {
		st.budget.Touch(name, st.turn, now)
	}
	return MergeTools(kept, legacyTools)
}
