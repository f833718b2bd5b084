package conversation

import (
	"strings"
	"time"

	"clinicalcore/internal/llm"
	"clinicalcore/internal/session"
)

// normalizeForComparison collapses whitespace for the idempotent-merge
// content comparison (§4.10a): a retried generation that reproduces the same
// assistant content — modulo incidental whitespace differences from
// streaming reassembly — must merge into the existing message rather than
// append a duplicate.
func normalizeForComparison(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// mergeStringsDedup appends b's entries to a, skipping any already present
// in a, preserving a's order and b's relative order for new entries.
func mergeStringsDedup(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a))
	for _, v := range a {
		seen[v] = struct{}{}
	}
	out := a
	for _, v := range b {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// candidateMessage is the assistant turn about to be persisted, assembled
// after generation completes (or is cancelled mid-stream).
type candidateMessage struct {
	id               string
	agent            string
	content          string
	fileReferences   []string
	groundingURLs    []string
	reasoningBullets []string
	incomplete       bool
	tokensOut        int
}

// appendUserMessage appends the user's turn, unconditionally (user turns are
// never merged — only the assistant tail is retry-idempotent).
func appendUserMessage(sess *session.Session, id, content string, fileRefs []string, now time.Time) {
	sess.History = append(sess.History, session.Message{
		ID:             id,
		Role:           session.RoleUser,
		Content:        content,
		Timestamp:      now,
		FileReferences: fileRefs,
	})
}

// mergeAssistantMessage implements the idempotent post-stream persistence of
// §4.10a. If the current last history entry is an assistant message from the
// same agent whose whitespace-normalized content matches the candidate's, it
// is treated as a retry of an already-persisted (possibly partial) turn: the
// entry is patched in place — grounding URLs deduped, reasoning bullets
// attached only if previously absent, Incomplete cleared if the candidate
// completed, and the session token total is left untouched, since nothing
// new was actually generated. Otherwise the candidate is appended as a new
// message and its token count is added to the session total.
func mergeAssistantMessage(sess *session.Session, c candidateMessage, now time.Time) {
	if n := len(sess.History); n > 0 {
		last := &sess.History[n-1]
		if last.Role == session.RoleModel && last.Agent == c.agent &&
			normalizeForComparison(last.Content) == normalizeForComparison(c.content) {
			last.GroundingURLs = mergeStringsDedup(last.GroundingURLs, c.groundingURLs)
			if len(last.ReasoningBullets) == 0 && len(c.reasoningBullets) > 0 {
				last.ReasoningBullets = c.reasoningBullets
			}
			if last.Content != c.content {
				last.Content = c.content
			}
			last.Incomplete = c.incomplete
			sess.Metadata.LastUpdated = now
			return
		}
	}

	sess.History = append(sess.History, session.Message{
		ID:               c.id,
		Role:             session.RoleModel,
		Content:          c.content,
		Agent:            c.agent,
		Timestamp:        now,
		FileReferences:   c.fileReferences,
		GroundingURLs:    c.groundingURLs,
		ReasoningBullets: c.reasoningBullets,
		Incomplete:       c.incomplete,
	})
	sess.Metadata.TotalTokens += c.tokensOut
	sess.Metadata.LastUpdated = now
}

// toLLMHistory converts persisted session messages into the provider's
// stateless Message shape (every call replays the full history — §1 teacher
// ModelClient is stateless request/response, generalized in
// internal/llm/provider.go).
func toLLMHistory(msgs []session.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Role == session.RoleModel {
			role = "assistant"
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}
