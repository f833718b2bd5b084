package contextwindow

import (
	"context"
	"fmt"
	"strings"

	"clinicalcore/internal/llm"
	"clinicalcore/internal/observability"
	"clinicalcore/internal/session"
)

// summarize builds a synthetic framing message covering the dropped middle
// segment and prepends it ahead of the preserved trailing messages,
// following engine.go's buildSummarizedMessages shape. The cut points are
// the fixed leading/trailing boundaries Compress chose; tool-call/
// tool-response pairing is not considered. Any single message longer than
// half the chunk budget is excluded from the summarization input rather
// than overflowing the chunk budget (picoclaw's context_compressor.go guard).
func (m *Manager) summarize(ctx context.Context, sessionID string, leading, middle, trailing []session.Message) ([]session.Message, bool) {
	cacheKey := fmt.Sprintf("%s:%d", sessionID, len(leading)+len(middle)+len(trailing))
	if m.cache != nil {
		if cached, ok := m.cache.Get(ctx, cacheKey); ok {
			return m.assemble(leading, cached, trailing), true
		}
	}

	var b strings.Builder
	used := 0
	for _, msg := range middle {
		if len(msg.Content) > maxSummaryChunkRune/2 {
			// Oversized message guard: skip rather than truncate mid-thought.
			continue
		}
		b.WriteString("Role: ")
		b.WriteString(msg.Role)
		b.WriteString("\n")
		b.WriteString(msg.Content)
		b.WriteString("\n\n")
		used += len(msg.Content)
		if used > maxSummaryChunkRune {
			break
		}
	}
	if b.Len() == 0 {
		return nil, false
	}

	req := []llm.Message{
		{Role: "system", Content: "You are a concise clinical conversation summarizer. Produce a short, factual summary (<= 300 characters) of the conversation that follows. Preserve clinically relevant facts, omit pleasantries. Return only the summary text."},
		{Role: "user", Content: "Summarize the following conversation:\n\n" + b.String()},
	}

	resp, err := m.provider.Chat(ctx, req, nil, m.model)
	if err != nil {
		observability.LoggerWithTrace(ctx).Error().Err(err).Str("session_id", sessionID).Msg("context_summary_failed")
		return nil, false
	}

	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return nil, false
	}

	if m.cache != nil {
		m.cache.Set(ctx, cacheKey, summary)
	}
	return m.assemble(leading, summary, trailing), true
}

func (m *Manager) assemble(leading []session.Message, summary string, trailing []session.Message) []session.Message {
	out := make([]session.Message, 0, len(leading)+1+len(trailing))
	out = append(out, leading...)
	out = append(out, session.Message{
		ID:      "summary",
		Role:    session.RoleModel,
		Content: "[SUMMARY] " + summary,
	})
	out = append(out, trailing...)
	return dedupeOrdered(out)
}
