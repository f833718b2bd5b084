package agentregistry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"clinicalcore/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		DefaultProvider: "openai",
		OpenAI:          config.ProviderConfig{APIKey: "sk-test", Model: "gpt-4o-mini"},
		AgentModels:     map[string]string{},
	}
}

func TestBuildRegistersFourFixedAgents(t *testing.T) {
	reg, err := Build(testConfig(), nil)
	require.NoError(t, err)
	require.Equal(t, []string{Academico, Clinico, Orquestador, Socratico}, reg.Names())
}

func TestGetReturnsConfiguredAgent(t *testing.T) {
	reg, err := Build(testConfig(), nil)
	require.NoError(t, err)
	a, ok := reg.Get(Clinico)
	require.True(t, ok)
	require.Equal(t, "gpt-4o-mini", a.Model())
	require.Contains(t, a.System(), "Available agents you can be switched to")
}

func TestAgentModelOverrideWins(t *testing.T) {
	cfg := testConfig()
	cfg.AgentModels[Clinico] = "gpt-5-mini"
	reg, err := Build(cfg, nil)
	require.NoError(t, err)
	a, _ := reg.Get(Clinico)
	require.Equal(t, "gpt-5-mini", a.Model())
}

func TestExtraAgentsAreRegistered(t *testing.T) {
	cfg := testConfig()
	cfg.ExtraAgents = []config.ExtraAgentConfig{
		{Name: "supervisor_extra", Description: "house specialist", SystemInstruction: "You help with intake triage."},
	}
	reg, err := Build(cfg, nil)
	require.NoError(t, err)
	_, ok := reg.Get("supervisor_extra")
	require.True(t, ok)
}
