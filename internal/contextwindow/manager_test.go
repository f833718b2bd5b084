package contextwindow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clinicalcore/internal/config"
	"clinicalcore/internal/session"
)

func buildHistory(n int) []session.Message {
	out := make([]session.Message, 0, n)
	for i := 0; i < n; i++ {
		role := session.RoleUser
		if i%2 == 1 {
			role = session.RoleModel
		}
		out = append(out, session.Message{
			ID:        idFor(i),
			Role:      role,
			Content:   strings.Repeat("patient reports persistent anxiety symptoms during sessions ", 20),
			Timestamp: time.Now(),
		})
	}
	return out
}

func idFor(i int) string {
	return "m" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}

func TestCompressPassesThroughUnderTrigger(t *testing.T) {
	m := New(config.ContextConfig{TriggerTokens: 50_000, TargetTokens: 30_000, MaxExchanges: 6}, nil, "", nil)
	history := buildHistory(4)
	out, triggered := m.Compress(context.Background(), "s1", history, "how are you feeling today?")
	require.False(t, triggered)
	require.Equal(t, history, out)
}

func TestCompressTruncatesOverBudget(t *testing.T) {
	m := New(config.ContextConfig{TriggerTokens: 500, TargetTokens: 400, MaxExchanges: 2, Strategy: StrategyTruncate}, nil, "", nil)
	history := buildHistory(40)
	last := history[len(history)-1]

	out, triggered := m.Compress(context.Background(), "s1", history, last.Content)
	require.True(t, triggered)
	require.NotEmpty(t, out)
	require.Equal(t, last, out[len(out)-1])
	require.Equal(t, history[0], out[0])
	require.Less(t, estimateTotal(out), estimateTotal(history))
}

func TestEffectiveTriggerTokensClampsToKnownModelCeiling(t *testing.T) {
	// gpt-4 has a known 8_192 token ceiling; its 85% headroom (6_963) is
	// tighter than the configured 50_000 trigger, so the model ceiling wins.
	m := New(config.ContextConfig{TriggerTokens: 50_000}, nil, "gpt-4", nil)
	require.Equal(t, 6_963, m.effectiveTriggerTokens())
}

func TestEffectiveTriggerTokensKeepsConfiguredValueForUnknownModel(t *testing.T) {
	m := New(config.ContextConfig{TriggerTokens: 50_000}, nil, "some-custom-self-hosted-model", nil)
	require.Equal(t, 50_000, m.effectiveTriggerTokens())
}

func TestCompressNeverDuplicatesMessages(t *testing.T) {
	m := New(config.ContextConfig{TriggerTokens: 500, TargetTokens: 400, MaxExchanges: 2}, nil, "", nil)
	history := buildHistory(30)
	out, _ := m.Compress(context.Background(), "s1", history, history[len(history)-1].Content)

	seen := make(map[string]bool)
	for _, msg := range out {
		require.False(t, seen[msg.ID], "message %s duplicated", msg.ID)
		seen[msg.ID] = true
	}
}
