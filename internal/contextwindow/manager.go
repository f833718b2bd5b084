// Package contextwindow bounds conversation history to a token budget before
// each generation, following the teacher's engine.go token-budget strategy
// (maybeSummarize) generalized into a pluggable truncate/summarize manager.
package contextwindow

import (
	"context"
	"sort"
	"strings"

	"clinicalcore/internal/config"
	"clinicalcore/internal/llm"
	"clinicalcore/internal/observability"
	"clinicalcore/internal/session"
)

const (
	StrategyTruncate  = "truncate"
	StrategySummarize = "summarize"

	leadingFramingCount = 4
	maxSummaryChunkRune = 4096 * 4

	// modelContextHeadroomFraction reserves room below a model's actual
	// context ceiling for the system instruction, tool schemas, and the
	// response itself, so compression triggers before a call would overflow
	// the real window rather than only the configured heuristic threshold.
	modelContextHeadroomFraction = 0.85
)

// SummaryCache lets computed summaries be shared across replicas, keyed by
// session id + history length so a retry on a different worker doesn't
// recompute the same summary. Optional — a nil cache just skips caching.
type SummaryCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, summary string)
}

// Manager compresses a session's history under a configured token budget.
type Manager struct {
	cfg      config.ContextConfig
	provider llm.Provider
	model    string
	cache    SummaryCache
}

// New builds a Manager. provider is only used when cfg.Strategy is
// "summarize"; model names the summarization model and also sets the
// context-window ceiling the trigger is clamped to; cache is optional and
// may be nil.
func New(cfg config.ContextConfig, provider llm.Provider, model string, cache SummaryCache) *Manager {
	return &Manager{cfg: cfg, provider: provider, model: model, cache: cache}
}

// EstimateTokens applies the substitute estimator ceil(chars/4) to a
// session message's content, matching llm.EstimateTokens' heuristic.
func EstimateTokens(m session.Message) int {
	return llm.EstimateTokens(m.Content)
}

func estimateTotal(history []session.Message) int {
	total := 0
	for _, m := range history {
		total += EstimateTokens(m)
	}
	return total
}

// effectiveTriggerTokens is the configured trigger threshold, clamped to a
// headroom fraction of the agent's actual model context ceiling (C2's
// llm.ContextSize lookup) when that ceiling is known and tighter than the
// configured value — a model swapped to a smaller context window tightens
// compression automatically instead of silently overflowing at generation
// time.
func (m *Manager) effectiveTriggerTokens() int {
	triggerTokens := m.cfg.TriggerTokens
	if triggerTokens <= 0 {
		triggerTokens = 50_000
	}
	if ceiling, known := llm.ContextSize(m.model); known {
		if headroom := int(float64(ceiling) * modelContextHeadroomFraction); headroom > 0 && headroom < triggerTokens {
			triggerTokens = headroom
		}
	}
	return triggerTokens
}

// Compress returns a bounded view of history suitable for the next
// generation. currentUserMessage is the verbatim text of the newest user
// turn (already appended to history) and is used both as the relevance
// anchor for token-overlap ranking and as the guaranteed-present tail
// message. Returns the compressed history and whether compression fired.
func (m *Manager) Compress(ctx context.Context, sessionID string, history []session.Message, currentUserMessage string) ([]session.Message, bool) {
	if len(history) == 0 {
		return history, false
	}

	triggerTokens := m.effectiveTriggerTokens()
	if estimateTotal(history) <= triggerTokens {
		return history, false
	}

	log := observability.LoggerWithTrace(ctx)
	log.Info().
		Int("messages", len(history)).
		Int("estimated_tokens", estimateTotal(history)).
		Int("trigger_tokens", triggerTokens).
		Msg("context_compression_triggered")

	k1 := leadingFramingCount
	if k1 > len(history) {
		k1 = len(history)
	}
	maxExchanges := m.cfg.MaxExchanges
	if maxExchanges <= 0 {
		maxExchanges = 6
	}
	k2 := 2 * maxExchanges
	if k2 > len(history) {
		k2 = len(history)
	}

	leading := history[:k1]
	tailStart := len(history) - k2
	if tailStart < k1 {
		tailStart = k1
	}
	trailing := history[tailStart:]
	middle := history[k1:tailStart]

	if len(middle) == 0 {
		combined := make([]session.Message, 0, len(leading)+len(trailing))
		combined = append(combined, leading...)
		combined = append(combined, trailing...)
		return dedupeOrdered(combined), true
	}

	if m.cfg.Strategy == StrategySummarize && m.provider != nil {
		if compressed, ok := m.summarize(ctx, sessionID, leading, middle, trailing); ok {
			return compressed, true
		}
		// fall through to truncate on summarization failure
	}

	targetTokens := m.cfg.TargetTokens
	if targetTokens <= 0 {
		targetTokens = 30_000
	}
	budget := targetTokens - estimateTotal(leading) - estimateTotal(trailing)
	selectedMiddle := selectByRelevance(middle, currentUserMessage, budget)

	out := make([]session.Message, 0, len(leading)+len(selectedMiddle)+len(trailing))
	out = append(out, leading...)
	out = append(out, selectedMiddle...)
	out = append(out, trailing...)
	return dedupeOrdered(out), true
}

// selectByRelevance ranks middle messages by token-overlap score against
// the current user message (cosine-free fallback per §4.3) and greedily
// keeps the highest-scoring ones, preserving original order, until budget
// is exhausted.
func selectByRelevance(middle []session.Message, anchor string, budget int) []session.Message {
	if budget <= 0 {
		return nil
	}
	anchorTokens := tokenSet(anchor)

	type scored struct {
		idx   int
		score int
		cost  int
	}
	ranked := make([]scored, len(middle))
	for i, msg := range middle {
		ranked[i] = scored{idx: i, score: overlapScore(anchorTokens, tokenSet(msg.Content)), cost: EstimateTokens(msg)}
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })

	keep := make(map[int]bool, len(middle))
	remaining := budget
	for _, r := range ranked {
		if r.cost > remaining {
			continue
		}
		keep[r.idx] = true
		remaining -= r.cost
		if remaining <= 0 {
			break
		}
	}

	out := make([]session.Message, 0, len(keep))
	for i, msg := range middle {
		if keep[i] {
			out = append(out, msg)
		}
	}
	return out
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}

func overlapScore(a, b map[string]struct{}) int {
	score := 0
	for w := range b {
		if _, ok := a[w]; ok {
			score++
		}
	}
	return score
}

// dedupeOrdered removes duplicate messages (by ID) while preserving the
// first occurrence's position, guaranteeing the output never repeats a
// message across the leading/middle/trailing segments.
func dedupeOrdered(msgs []session.Message) []session.Message {
	seen := make(map[string]bool, len(msgs))
	out := make([]session.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != "" && seen[m.ID] {
			continue
		}
		if m.ID != "" {
			seen[m.ID] = true
		}
		out = append(out, m)
	}
	return out
}
