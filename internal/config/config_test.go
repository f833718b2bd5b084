package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LLM_PROVIDER", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GOOGLE_LLM_API_KEY",
		"SESSION_BACKEND", "SESSION_DSN", "DATABASE_URL",
		"SAFE_TURNS_THRESHOLD", "USE_ADVANCED_ORCHESTRATION",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "openai", cfg.DefaultProvider)
	require.Equal(t, 3, cfg.Risk.SafeTurnsThreshold)
	require.Equal(t, 6, cfg.Context.MaxExchanges)
	require.Equal(t, 50_000, cfg.Context.TriggerTokens)
	require.Equal(t, 30_000, cfg.Context.TargetTokens)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.True(t, cfg.Routing.UseAdvancedOrchestration)
}

func TestLoadRequiresAPIKey(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	require.Error(t, err)
}

func TestLoadPostgresRequiresDSN(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SESSION_BACKEND", "postgres")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadAgentModelOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AGENT_MODEL_CLINICO", "gpt-5-mini")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "gpt-5-mini", cfg.AgentModels["clinico"])
}

func TestLoadExtraAgentsFromEnvAndFileAreBothApplied(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AGENT_EXTRA_NAMES", "nutricionista")
	t.Setenv("AGENT_EXTRA_NUTRICIONISTA_SYSTEM", "You are a nutrition specialist.")
	t.Setenv("AGENT_EXTRA_NUTRICIONISTA_DESCRIPTION", "Diet and nutrition guidance")

	path := writeExtraAgentsFile(t, `
agents:
  - name: fisioterapeuta
    description: Physical therapy guidance
    system_instruction: You are a physical therapy specialist.
    provider: anthropic
    model: claude-haiku
  - name: ""
    system_instruction: dropped because name is blank
`)
	t.Setenv("AGENT_EXTRA_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.ExtraAgents, 2)
	require.Equal(t, "nutricionista", cfg.ExtraAgents[0].Name)
	require.Equal(t, "fisioterapeuta", cfg.ExtraAgents[1].Name)
	require.Equal(t, "anthropic", cfg.ExtraAgents[1].Provider)
	require.Equal(t, "claude-haiku", cfg.ExtraAgents[1].Model)
}

func TestLoadExtraAgentsFileMissingPathFails(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AGENT_EXTRA_CONFIG_FILE", "/nonexistent/agents.yaml")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadExtraAgentsFileEmptyPathIsNoop(t *testing.T) {
	out, err := loadExtraAgentsFile("")
	require.NoError(t, err)
	require.Nil(t, out)
}

func writeExtraAgentsFile(t *testing.T, contents string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "extra-agents-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString(contents)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
