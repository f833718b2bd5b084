package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clinicalcore/internal/agentregistry"
	"clinicalcore/internal/clinical"
	"clinicalcore/internal/config"
	"clinicalcore/internal/contextwindow"
	"clinicalcore/internal/llm"
	"clinicalcore/internal/routing"
	"clinicalcore/internal/session"
	"clinicalcore/internal/sessionmgr"
)

func newTestCoreForRouting() *Core {
	cfg := config.Config{Routing: config.RoutingConfig{
		ConfidenceHigh: 0.75, ConfidenceLow: 0.50, MaxConsecutiveSwitches: 4,
		UseAdvancedOrchestration: true,
	}}
	router := routing.New(cfg.Routing, nil, "")
	orchestrator := routing.NewDynamicOrchestrator(cfg.Routing, router)
	return &Core{cfg: cfg, router: router, orchestrator: orchestrator}
}

func TestDecideRouteHonorsExplicitSwitchBeforeOrchestration(t *testing.T) {
	c := newTestCoreForRouting()
	sess := session.Session{SessionID: "s1", ActiveAgent: "socratico"}

	decision := c.decideRoute(context.Background(), sess, "switch to clinico please", "", clinical.OperationalMetadata{}, clinical.Detection{}, nil, time.Now())

	require.Equal(t, "clinico", decision.Agent)
	require.True(t, decision.IsExplicitSwitch)
	require.Equal(t, routing.ReasonExplicitSwitch, decision.Reason)
}

func TestDecideRouteAcceptsSuggestedAgentOnExistingSession(t *testing.T) {
	c := newTestCoreForRouting()
	sess := session.Session{SessionID: "s1", ActiveAgent: "socratico"}

	decision := c.decideRoute(context.Background(), sess, "tell me more", "academico", clinical.OperationalMetadata{}, clinical.Detection{}, nil, time.Now())

	require.Equal(t, "academico", decision.Agent)
	require.Equal(t, routing.ReasonSuggestedAgent, decision.Reason)
	require.False(t, decision.IsExplicitSwitch)
}

func TestDecideRouteSuggestedAgentTakesPriorityOverExplicitSwitchText(t *testing.T) {
	c := newTestCoreForRouting()
	sess := session.Session{SessionID: "s1", ActiveAgent: "socratico"}

	decision := c.decideRoute(context.Background(), sess, "switch to clinico please", "academico", clinical.OperationalMetadata{}, clinical.Detection{}, nil, time.Now())

	require.Equal(t, "academico", decision.Agent)
	require.Equal(t, routing.ReasonSuggestedAgent, decision.Reason)
}

func TestDecideRouteForcesStandardRoutingOnActiveRisk(t *testing.T) {
	c := newTestCoreForRouting()
	rs := &session.RiskState{IsRiskSession: true, RiskLevel: session.RiskCritical, RiskType: session.RiskTypeRisk}
	sess := session.Session{SessionID: "s1", ActiveAgent: "socratico", RiskState: rs}

	decision := c.decideRoute(context.Background(), sess, "I feel awful", "", clinical.OperationalMetadata{}, clinical.Detection{ForceStandardRouting: true}, nil, time.Now())

	require.Equal(t, "clinico", decision.Agent)
	require.True(t, decision.IsEdgeCase)
}

func TestDecideRouteFallsBackToPreviousAgentWithoutClassifier(t *testing.T) {
	c := newTestCoreForRouting()
	sess := session.Session{SessionID: "s1", ActiveAgent: "academico"}

	decision := c.decideRoute(context.Background(), sess, "tell me more about this technique", "", clinical.OperationalMetadata{}, clinical.Detection{}, nil, time.Now())

	require.Equal(t, "academico", decision.Agent)
}

func TestContextwindowTighterConfigHalvesBudgets(t *testing.T) {
	cfg := config.Config{Context: config.ContextConfig{TargetTokens: 30_000, TriggerTokens: 50_000}}
	tighter := contextwindowTighterConfig(cfg)
	require.Equal(t, 15_000, tighter.TargetTokens)
	require.Equal(t, 25_000, tighter.TriggerTokens)
}

func TestHistory2SessionAssignsStableIDsAndRoles(t *testing.T) {
	msgs := []llm.Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}}
	out := history2Session(msgs)

	require.Len(t, out, 2)
	require.Equal(t, session.RoleUser, out[0].Role)
	require.Equal(t, session.RoleModel, out[1].Role)
	require.NotEqual(t, out[0].ID, out[1].ID)
}

// fakeProvider is a minimal llm.Provider test double that always returns a
// fixed reply, recording the messages it was invoked with.
type fakeProvider struct {
	reply    string
	lastMsgs []llm.Message
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	f.lastMsgs = msgs
	return llm.Message{Role: "assistant", Content: f.reply}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	f.lastMsgs = msgs
	h.OnDelta(f.reply)
	return nil
}

func newEndToEndTestCore(t *testing.T) (*Core, *session.MemoryStore) {
	t.Helper()

	store := session.NewMemoryStore()
	sessions := sessionmgr.New(store)

	socratico := agentregistry.NewAgent(agentregistry.AgentConfig{
		Name: agentregistry.Socratico, Model: "test-model",
	}, &fakeProvider{reply: "Cuéntame más sobre eso."})
	clinico := agentregistry.NewAgent(agentregistry.AgentConfig{
		Name: agentregistry.Clinico, Model: "test-model",
	}, &fakeProvider{reply: "Entendido, continuemos con el registro clínico."})
	academico := agentregistry.NewAgent(agentregistry.AgentConfig{
		Name: agentregistry.Academico, Model: "test-model",
	}, &fakeProvider{reply: "He cambiado al modo académico. Sigamos donde lo dejamos."})
	registry := agentregistry.NewRegistryFromAgents(socratico, clinico, academico)

	cfg := config.Config{
		Routing: config.RoutingConfig{
			ConfidenceHigh: 0.75, ConfidenceLow: 0.50, MaxConsecutiveSwitches: 4,
			UseAdvancedOrchestration: false,
		},
		Context: config.ContextConfig{MaxExchanges: 6, TriggerTokens: 50_000, TargetTokens: 30_000},
	}
	router := routing.New(cfg.Routing, nil, "")
	orchestrator := routing.NewDynamicOrchestrator(cfg.Routing, router)
	contextMgr := contextwindow.New(cfg.Context, nil, "", nil)
	metadata := clinical.NewMetadataCollector(nil)
	edgecase := clinical.NewEdgeCaseDetector([]string{"ideación suicida"}, nil, nil, 3)

	core := New(cfg, store, sessions, nil, contextMgr, metadata, edgecase, nil, registry, router, orchestrator)
	return core, store
}

func TestSendMessageExplicitSwitchDoesNotPersistUserUtterance(t *testing.T) {
	core, store := newEndToEndTestCore(t)
	ctx := context.Background()

	created, err := core.SendMessage(ctx, SendMessageRequest{
		UserID: "u1", Mode: "intake", SuggestedAgent: agentregistry.Socratico,
		Message: "Hola",
	})
	require.NoError(t, err)
	require.Len(t, created.UpdatedState.History, 2, "first turn appends one user + one assistant message")

	result, err := core.SendMessage(ctx, SendMessageRequest{
		SessionID: created.UpdatedState.SessionID,
		UserID:    "u1",
		Message:   "cambia a modo académico",
	})
	require.NoError(t, err)

	require.True(t, result.RoutingInfo.IsExplicitSwitch)
	require.Equal(t, 1.0, result.RoutingInfo.Confidence)
	require.Equal(t, agentregistry.Academico, result.Agent)
	require.Equal(t, agentregistry.Academico, result.UpdatedState.ActiveAgent)

	// Exactly one new message (the confirmation) — the switch utterance
	// itself must never be appended (§4.10 step 9, invariant 1).
	require.Len(t, result.UpdatedState.History, 3)
	last := result.UpdatedState.History[2]
	require.Equal(t, session.RoleModel, last.Role)
	require.Equal(t, agentregistry.Academico, last.Agent)
	require.NotContains(t, last.Content, "cambia a modo académico")

	stored, err := store.Load(ctx, created.UpdatedState.SessionID)
	require.NoError(t, err)
	require.Len(t, stored.History, 3, "persisted state must match the returned state")
}

func TestSendMessageCriticalRiskOverridesToClinico(t *testing.T) {
	core, _ := newEndToEndTestCore(t)
	ctx := context.Background()

	result, err := core.SendMessage(ctx, SendMessageRequest{
		UserID: "u1", Mode: "intake", SuggestedAgent: agentregistry.Socratico,
		Message: "El paciente mencionó ideación suicida",
	})
	require.NoError(t, err)

	require.Equal(t, agentregistry.Clinico, result.Agent)
	require.Equal(t, routing.ReasonCriticalRiskOverride, result.RoutingInfo.Reason)
	require.NotNil(t, result.UpdatedState.RiskState)
	require.True(t, result.UpdatedState.RiskState.IsRiskSession)
	require.Equal(t, 0, result.UpdatedState.RiskState.ConsecutiveSafeTurns)
}

func TestSendMessageHonorsSuggestedAgentOnExistingSession(t *testing.T) {
	core, _ := newEndToEndTestCore(t)
	ctx := context.Background()

	created, err := core.SendMessage(ctx, SendMessageRequest{
		UserID: "u1", Mode: "intake", SuggestedAgent: agentregistry.Socratico,
		Message: "Hola",
	})
	require.NoError(t, err)
	require.Equal(t, agentregistry.Socratico, created.Agent)

	// §4.10 step 8: suggestedAgent on a turn against an already-existing
	// session must be accepted directly as the routing result, bypassing
	// C9/C5 entirely — not only honored at session creation.
	result, err := core.SendMessage(ctx, SendMessageRequest{
		SessionID: created.UpdatedState.SessionID,
		UserID:    "u1", SuggestedAgent: agentregistry.Academico,
		Message: "let's keep going",
	})
	require.NoError(t, err)

	require.Equal(t, agentregistry.Academico, result.Agent)
	require.Equal(t, routing.ReasonSuggestedAgent, result.RoutingInfo.Reason)
	require.Equal(t, agentregistry.Academico, result.UpdatedState.ActiveAgent)
}
