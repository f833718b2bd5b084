package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clinicalcore/internal/session"
)

func TestMergeAssistantMessageAppendsNewTurn(t *testing.T) {
	sess := &session.Session{SessionID: "s1"}
	now := time.Now()

	mergeAssistantMessage(sess, candidateMessage{
		id: "m1", agent: "socratico", content: "Let's explore that further.", tokensOut: 7,
	}, now)

	require.Len(t, sess.History, 1)
	require.Equal(t, "Let's explore that further.", sess.History[0].Content)
	require.Equal(t, 7, sess.Metadata.TotalTokens)
	require.False(t, sess.History[0].Incomplete)
}

func TestMergeAssistantMessageIsIdempotentOnRetryWithSameContent(t *testing.T) {
	sess := &session.Session{SessionID: "s1"}
	now := time.Now()

	mergeAssistantMessage(sess, candidateMessage{
		id: "m1", agent: "socratico", content: "Partial answer so far", tokensOut: 5, incomplete: true,
	}, now)
	require.Equal(t, 5, sess.Metadata.TotalTokens)

	// Retry reproduces the same content (whitespace-normalized), with more
	// grounding URLs and bullets attached, and completes the turn.
	mergeAssistantMessage(sess, candidateMessage{
		id:               "m1-retry",
		agent:            "socratico",
		content:          "Partial   answer so far",
		groundingURLs:    []string{"https://example.org/a"},
		reasoningBullets: []string{"considered prior context"},
		tokensOut:        99,
	}, now.Add(time.Second))

	require.Len(t, sess.History, 1, "retry must merge, not append")
	require.Equal(t, 5, sess.Metadata.TotalTokens, "token total must not increment on a merge")
	require.False(t, sess.History[0].Incomplete)
	require.Equal(t, []string{"https://example.org/a"}, sess.History[0].GroundingURLs)
	require.Equal(t, []string{"considered prior context"}, sess.History[0].ReasoningBullets)
}

func TestMergeAssistantMessageDedupesGroundingURLs(t *testing.T) {
	sess := &session.Session{SessionID: "s1"}
	now := time.Now()

	mergeAssistantMessage(sess, candidateMessage{
		id: "m1", agent: "clinico", content: "See the attached resource",
		groundingURLs: []string{"https://a.example/1"},
	}, now)

	mergeAssistantMessage(sess, candidateMessage{
		id: "m1-retry", agent: "clinico", content: "See the attached resource",
		groundingURLs: []string{"https://a.example/1", "https://a.example/2"},
	}, now)

	require.Equal(t, []string{"https://a.example/1", "https://a.example/2"}, sess.History[0].GroundingURLs)
}

func TestMergeAssistantMessageDoesNotMergeAcrossDifferentAgents(t *testing.T) {
	sess := &session.Session{SessionID: "s1"}
	now := time.Now()

	mergeAssistantMessage(sess, candidateMessage{id: "m1", agent: "socratico", content: "hello there", tokensOut: 3}, now)
	mergeAssistantMessage(sess, candidateMessage{id: "m2", agent: "clinico", content: "hello there", tokensOut: 3}, now)

	require.Len(t, sess.History, 2)
}

func TestAppendUserMessageAlwaysAppends(t *testing.T) {
	sess := &session.Session{SessionID: "s1"}
	now := time.Now()

	appendUserMessage(sess, "u1", "hi", nil, now)
	appendUserMessage(sess, "u2", "hi", nil, now)

	require.Len(t, sess.History, 2)
}

func TestToLLMHistoryMapsRoles(t *testing.T) {
	msgs := []session.Message{
		{Role: session.RoleUser, Content: "hi"},
		{Role: session.RoleModel, Content: "hello"},
	}
	out := toLLMHistory(msgs)
	require.Equal(t, "user", out[0].Role)
	require.Equal(t, "assistant", out[1].Role)
}
