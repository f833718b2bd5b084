package conversation

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"clinicalcore/internal/agentregistry"
	"clinicalcore/internal/clinical"
	"clinicalcore/internal/config"
	"clinicalcore/internal/contextwindow"
	"clinicalcore/internal/coreerr"
	"clinicalcore/internal/llm"
	"clinicalcore/internal/observability"
	"clinicalcore/internal/routing"
	"clinicalcore/internal/session"
	"clinicalcore/internal/sessionmgr"
)

// maxGenerationRetries bounds the retry loop for errors classified as
// coreerr RateLimited/Transient (§7). Each attempt backs off exponentially
// from retryBaseDelay. The bundled openai,
// anthropic and google clients return their SDK errors without a coreerr
// classification, so their failures are not retried here (nor matched as
// ErrInputTooLarge by sendMessageSync's compression retry).
const maxGenerationRetries = 3

const retryBaseDelay = 250 * time.Millisecond

// Core implements ConversationCore (C10): the single sendMessage pipeline
// every external surface (HTTP handler, Kafka command consumer) calls into,
// mirroring how the teacher's engine.go centralizes one Run path behind
// multiple front doors.
type Core struct {
	cfg      config.Config
	store    session.Store
	sessions *sessionmgr.Manager
	patients clinical.PatientStore

	contextMgr *contextwindow.Manager
	metadata   *clinical.MetadataCollector
	edgecase   *clinical.EdgeCaseDetector
	entities   *clinical.EntityExtractor

	agents       *agentregistry.Registry
	router       *routing.IntentRouter
	orchestrator *routing.DynamicOrchestrator
}

// Store exposes the underlying SessionStore so HTTP/command front doors can
// serve session lookups and direct updates (listing, agent switches)
// without duplicating Core's wiring.
func (c *Core) Store() session.Store { return c.store }

// New wires a Core from its already-constructed collaborators.
func New(
	cfg config.Config,
	store session.Store,
	sessions *sessionmgr.Manager,
	patients clinical.PatientStore,
	contextMgr *contextwindow.Manager,
	metadata *clinical.MetadataCollector,
	edgecase *clinical.EdgeCaseDetector,
	entities *clinical.EntityExtractor,
	agents *agentregistry.Registry,
	router *routing.IntentRouter,
	orchestrator *routing.DynamicOrchestrator,
) *Core {
	return &Core{
		cfg:          cfg,
		store:        store,
		sessions:     sessions,
		patients:     patients,
		contextMgr:   contextMgr,
		metadata:     metadata,
		edgecase:     edgecase,
		entities:     entities,
		agents:       agents,
		router:       router,
		orchestrator: orchestrator,
	}
}

// SendMessage implements the full §4.10 turn pipeline. It always acquires
// the session's per-turn lock for the whole call (including the streaming
// tail, when req.UseStreaming is set) and releases it only after persistence
// completes or fails terminally — §5's single-writer-per-session contract.
func (c *Core) SendMessage(ctx context.Context, req SendMessageRequest) (SendMessageResult, error) {
	sessionID := req.SessionID

	var patientMeta *sessionmgr.PatientMeta
	if req.SessionMeta != nil {
		patientMeta = &sessionmgr.PatientMeta{
			PatientID:            req.SessionMeta.PatientID,
			SessionType:          req.SessionMeta.SessionType,
			ConfidentialityLevel: req.SessionMeta.ConfidentialityLevel,
		}
	}

	sess, err := c.sessions.CreateSession(ctx, req.UserID, req.Mode, req.SuggestedAgent, sessionID, patientMeta)
	if err != nil {
		return SendMessageResult{}, err
	}

	releaseOnce := c.sessions.Lock(sess.SessionID)
	var releaseGuard sync.Once
	release := func() { releaseGuard.Do(releaseOnce) }
	handedOff := false
	defer func() {
		if !handedOff {
			release()
		}
	}()

	// Reload under lock: another goroutine may have mutated the session
	// between CreateSession's own (released) lock and this one.
	fresh, err := c.store.Load(ctx, sess.SessionID)
	if err == nil {
		sess = fresh
	} else if !errors.Is(err, coreerr.ErrNotFound) {
		return SendMessageResult{}, err
	}

	now := time.Now().UTC()
	log := observability.LoggerWithTrace(ctx)

	fileRefs := req.PendingFileRefs
	if len(fileRefs) == 0 && len(sess.History) > 0 {
		fileRefs = sess.History[len(sess.History)-1].FileReferences
	}

	if sess.RiskState == nil {
		sess.RiskState = &session.RiskState{}
	}
	detection := c.edgecase.Check(req.Message, sess.RiskState, now)

	md := c.metadata.Collect(ctx, sess, req.Timezone, now, 5*time.Minute)

	var entities []clinical.Entity
	if c.entities != nil {
		if res, err := c.entities.Extract(ctx, req.Message, ""); err == nil {
			entities = res.Entities
		} else {
			log.Warn().Err(err).Msg("entity_extraction_degraded")
		}
	}

	decision := c.decideRoute(ctx, sess, req.Message, req.SuggestedAgent, md, detection, entities, now)

	agent, ok := c.agents.Get(decision.Agent)
	if !ok {
		// Routing named an agent the registry does not carry (misconfigured
		// extension agent, stale deployment). Fall back to the previous
		// active agent, or socratico for a brand new session.
		fallbackName := sess.ActiveAgent
		if fallbackName == "" {
			fallbackName = agentregistry.Socratico
		}
		agent, ok = c.agents.Get(fallbackName)
		if !ok {
			return SendMessageResult{}, coreerr.Wrap(coreerr.ErrInternal, nil, "no agent registered for %q or fallback %q", decision.Agent, fallbackName)
		}
		decision.Agent = fallbackName
	}

	isTransition := sess.ActiveAgent != "" && sess.ActiveAgent != agent.Name()
	if isTransition {
		c.sessions.SwitchAgent(sess.SessionID, agent.Name(), nil)
	}
	sess.ActiveAgent = agent.Name()
	if req.AgentSelectedSink != nil {
		req.AgentSelectedSink.Send(agent.Name())
	}

	// §4.10 step 9: an explicit switch request never persists the user's
	// utterance — the turn produces only a confirmation generation from the
	// newly-selected agent, seeded with the existing (unmodified) history.
	if decision.IsExplicitSwitch {
		compressed, compressionHit := c.contextMgr.Compress(ctx, sess.SessionID, sess.History, req.Message)
		history := toLLMHistory(compressed)
		confirmationPrompt := explicitSwitchConfirmationPrompt(agent.Name())

		if req.UseStreaming {
			handedOff = true
			return c.sendMessageStreaming(ctx, &sess, agent, history, confirmationPrompt, req, decision, compressionHit, uuid.NewString(), now, release)
		}
		return c.sendMessageSync(ctx, &sess, agent, history, confirmationPrompt, nil, req, decision, compressionHit, now)
	}

	userMsgID := uuid.NewString()
	appendUserMessage(&sess, userMsgID, req.Message, fileRefs, now)

	compressed, compressionHit := c.contextMgr.Compress(ctx, sess.SessionID, sess.History, req.Message)
	history := toLLMHistory(compressed)

	toolSchemas := toolSchemasFor(agent)

	if req.UseStreaming {
		handedOff = true
		return c.sendMessageStreaming(ctx, &sess, agent, history, "", req, decision, compressionHit, userMsgID, now, release)
	}
	// Non-streaming path releases the lock itself via the deferred call
	// above; the streaming path takes over ownership of release instead.
	return c.sendMessageSync(ctx, &sess, agent, history, "", toolSchemas, req, decision, compressionHit, now)
}

// explicitSwitchConfirmationPrompt is the ephemeral instruction passed as
// the ModelClient's "current turn" text for an explicit agent switch — it is
// never appended to session history (only the agent's reply is), matching
// §4.10 step 9's "confirmation generation".
func explicitSwitchConfirmationPrompt(agentName string) string {
	return "(El usuario solicitó cambiar a este modo de atención. Confirma brevemente la transición, en una o dos frases, y continúa acorde al historial previo de la conversación. Agente activo: " + agentName + ".)"
}

func toolSchemasFor(agent *agentregistry.Agent) []llm.ToolSchema {
	// AllowedTools names a bounded contextual set (§4.9); the registry does
	// not itself own tool schema bodies — those live with whatever tool
	// dispatcher a deployment wires in. Until one is wired, an empty schema
	// slice disables tool calling without failing the turn.
	_ = agent.Config.AllowedTools
	return nil
}

// decideRoute implements §4.10 step 8's orchestration-path choice ahead of
// the decision-precedence ladder itself: a per-turn suggestedAgent is
// accepted directly as the routing result — bypassing C9 and C5 entirely for
// this turn — on every turn against an existing session, not only at session
// creation (where sessionmgr.CreateSession's initial-agent parameter only
// ever applies once, to a brand-new session). A turn the edge-case detector
// forces onto standard routing ignores suggestedAgent and falls through to
// the explicit-switch and standard-routing checks below.
func (c *Core) decideRoute(ctx context.Context, sess session.Session, text, suggestedAgent string, md clinical.OperationalMetadata, detection clinical.Detection, entities []clinical.Entity, now time.Time) routing.RoutingDecision {
	if suggestedAgent != "" && !detection.ForceStandardRouting {
		return routing.RoutingDecision{Agent: suggestedAgent, Confidence: 1.0, Reason: routing.ReasonSuggestedAgent}
	}

	if target, ok := routing.DetectExplicitSwitch(text); ok {
		return routing.RoutingDecision{Agent: target, Confidence: 1.0, Reason: routing.ReasonExplicitSwitch, IsExplicitSwitch: true}
	}

	if detection.ForceStandardRouting || !c.cfg.Routing.UseAdvancedOrchestration {
		return c.router.Route(ctx, text, md, sess.RiskState, sess.ActiveAgent, md.ConsecutiveSwitches, now)
	}

	result := c.orchestrator.Decide(ctx, sess.SessionID, text, md, sess.RiskState, sess.ActiveAgent, nil, entities, now)
	if !result.LockedIn {
		return c.router.Route(ctx, text, md, sess.RiskState, sess.ActiveAgent, md.ConsecutiveSwitches, now)
	}
	return result.Decision
}

// sendMessageSync runs one non-streaming Chat call with a bounded retry
// loop for RateLimited/Transient failures, and one compression retry on
// ErrInputTooLarge, then persists idempotently (§4.10a) before returning.
func (c *Core) sendMessageSync(ctx context.Context, sess *session.Session, agent *agentregistry.Agent, history []llm.Message, userPrompt string, tools []llm.ToolSchema, req SendMessageRequest, decision routing.RoutingDecision, compressionHit bool, now time.Time) (SendMessageResult, error) {
	started := time.Now()
	resp, retries, err := c.chatWithRetry(ctx, agent, history, userPrompt, tools)
	if err != nil && errors.Is(err, coreerr.ErrInputTooLarge) {
		tighter := contextwindow.New(contextwindowTighterConfig(c.cfg), nil, "", nil)
		retried, _ := tighter.Compress(ctx, sess.SessionID, history2Session(history), req.Message)
		resp, retries, err = c.chatWithRetry(ctx, agent, toLLMHistory(retried), userPrompt, tools)
	}
	if err != nil {
		return SendMessageResult{}, err
	}

	msgID := uuid.NewString()
	cand := candidateMessage{
		id:        msgID,
		agent:     agent.Name(),
		content:   resp.Content,
		tokensOut: llm.EstimateTokens(resp.Content),
	}
	mergeAssistantMessage(sess, cand, time.Now().UTC())

	if err := c.store.Save(ctx, *sess); err != nil {
		observability.LoggerWithTrace(ctx).Error().Err(err).Str("session_id", sess.SessionID).Msg("post_generation_persistence_failed")
		// The response was already generated; surfacing it beats discarding
		// a paid-for completion (§4.10: "a persistence failure after a
		// successful generation is logged and the response returned anyway").
	}

	// Title derivation is step 10's concern, gated on an actually-persisted
	// user message; an explicit switch (step 9) never appends one.
	if sess.Title == "" && req.Message != "" && !decision.IsExplicitSwitch {
		sess.Title = DeriveTitle(req.Message)
		_ = c.store.Save(ctx, *sess)
	}

	return SendMessageResult{
		Response:         resp.Content,
		Agent:            agent.Name(),
		RoutingInfo:      decision,
		UpdatedState:     *sess,
		Metrics: &InteractionMetrics{
			TokensIn:       llm.EstimateTokensForMessages(history),
			TokensOut:      cand.tokensOut,
			Model:          agent.Model(),
			Latency:        time.Since(started),
			Retries:        retries,
			CompressionHit: compressionHit,
		},
	}, nil
}

func (c *Core) chatWithRetry(ctx context.Context, agent *agentregistry.Agent, history []llm.Message, userPrompt string, tools []llm.ToolSchema) (llm.Message, int, error) {
	var lastErr error
	for attempt := 0; attempt <= maxGenerationRetries; attempt++ {
		resp, err := agent.Chat(ctx, history, userPrompt, tools)
		if err == nil {
			return resp, attempt, nil
		}
		lastErr = err
		if !coreerr.IsRetryable(err) || attempt == maxGenerationRetries {
			break
		}
		delay := time.Duration(float64(retryBaseDelay) * math.Pow(2, float64(attempt)))
		select {
		case <-ctx.Done():
			return llm.Message{}, attempt, coreerr.Wrap(coreerr.ErrCancelled, ctx.Err(), "cancelled during retry backoff")
		case <-time.After(delay):
		}
	}
	return llm.Message{}, maxGenerationRetries, lastErr
}

// sendMessageStreaming runs the generation in a background goroutine,
// emitting Frames to a channel the caller drains, and persists the final
// (possibly partial, on cancellation) assistant message before the channel
// closes. release is invoked once persistence completes — this goroutine,
// not SendMessage's own deferred release, owns unlocking the session for
// the streaming path (§5: lock held through the streaming tail).
func (c *Core) sendMessageStreaming(ctx context.Context, sess *session.Session, agent *agentregistry.Agent, history []llm.Message, userPrompt string, req SendMessageRequest, decision routing.RoutingDecision, compressionHit bool, userMsgID string, now time.Time, release func()) (SendMessageResult, error) {
	frames := make(chan Frame, 32)
	sessCopy := *sess

	go func() {
		defer close(frames)
		defer release()

		frames <- Frame{Type: FrameRouting, Routing: &decision}

		handler := &streamCollector{frames: frames, bulletSink: req.BulletSink}
		err := agent.Stream(ctx, history, userPrompt, nil, handler)

		content := handler.content.String()
		incomplete := err != nil && (errors.Is(err, coreerr.ErrCancelled) || errors.Is(err, context.Canceled))
		if err != nil && !incomplete {
			frames <- Frame{Type: FrameError, Err: err}
		}

		msgID := userMsgID + "-r"
		cand := candidateMessage{
			id:               msgID,
			agent:            agent.Name(),
			content:          content,
			groundingURLs:    handler.groundingURLs,
			reasoningBullets: handler.bullets,
			incomplete:       incomplete,
			tokensOut:        llm.EstimateTokens(content),
		}
		mergeAssistantMessage(&sessCopy, cand, time.Now().UTC())

		if sessCopy.Title == "" && req.Message != "" && !decision.IsExplicitSwitch {
			sessCopy.Title = DeriveTitle(req.Message)
		}

		if saveErr := c.store.Save(ctx, sessCopy); saveErr != nil {
			observability.LoggerWithTrace(ctx).Error().Err(saveErr).Str("session_id", sessCopy.SessionID).Msg("post_stream_persistence_failed")
		}

		frames <- Frame{Type: FrameEnd, Usage: &Usage{
			TokensIn:   llm.EstimateTokensForMessages(history),
			TokensOut:  cand.tokensOut,
			Model:      agent.Model(),
			Incomplete: incomplete,
		}}
	}()

	return SendMessageResult{
		Agent:        agent.Name(),
		RoutingInfo:  decision,
		UpdatedState: sessCopy,
		StreamFrames: frames,
	}, nil
}

// streamCollector adapts llm.StreamHandler callbacks into Frames plus the
// final content buffer mergeAssistantMessage needs, following the teacher's
// SSE handler's pattern of fanning one stream into both a wire frame and an
// accumulated buffer.
type streamCollector struct {
	frames        chan<- Frame
	bulletSink    *Sink[string]
	content       strings.Builder
	groundingURLs []string
	bullets       []string
}

func (s *streamCollector) OnDelta(content string) {
	s.content.WriteString(content)
	s.frames <- Frame{Type: FrameToken, Token: content}
}

func (s *streamCollector) OnToolCall(tc llm.ToolCall) {}

func (s *streamCollector) OnImage(img llm.GeneratedImage) {}

func (s *streamCollector) OnThoughtSummary(summary string) {
	if summary == "" {
		return
	}
	s.bullets = append(s.bullets, summary)
	s.frames <- Frame{Type: FrameBullet, Bullet: summary}
	if s.bulletSink != nil {
		s.bulletSink.Send(summary)
	}
}

// contextwindowTighterConfig halves the target/trigger budget for the
// single retry compression pass after an ErrInputTooLarge (§4.10: "on
// InputTooLarge, retry once after a more aggressive compression pass").
func contextwindowTighterConfig(cfg config.Config) config.ContextConfig {
	tighter := cfg.Context
	if tighter.TargetTokens > 0 {
		tighter.TargetTokens /= 2
	}
	if tighter.TriggerTokens > 0 {
		tighter.TriggerTokens /= 2
	}
	return tighter
}

func history2Session(msgs []llm.Message) []session.Message {
	out := make([]session.Message, 0, len(msgs))
	for i, m := range msgs {
		role := session.RoleUser
		if m.Role == "assistant" {
			role = session.RoleModel
		}
		out = append(out, session.Message{ID: "retry-" + strconv.Itoa(i), Role: role, Content: m.Content})
	}
	return out
}
