package agentregistry

import "clinicalcore/internal/config"

// DefaultAgentConfigs returns the four fixed clinical agent variants
// (§4.8). Model overrides come from cfg.AgentModels and the provider is
// cfg.DefaultProvider; generation
// defaults are intentionally conservative for a clinical context.
func DefaultAgentConfigs(cfg config.Config) []AgentConfig {
	return []AgentConfig{
		{
			Name:        Socratico,
			Description: "Reflective supervisor: asks clarifying questions, encourages self-examination.",
			SystemInstruction: "You are Socratico, a reflective clinical supervision agent. Guide the " +
				"practitioner to their own insight through open questions rather than direct answers. " +
				"Never prescribe a diagnosis; surface assumptions instead.",
			AllowedTools: []string{"search_case_notes", "list_session_history"},
			Generation:   GenerationConfig{Temperature: 0.7, TopP: 0.9, MaxOutputTokens: 1024},
		},
		{
			Name:        Clinico,
			Description: "Documentation and risk-aware clinical agent; the robust-agent override target.",
			SystemInstruction: "You are Clinico, a clinical documentation and risk-assessment agent. " +
				"Be precise, cite concrete clinical language, and flag any risk indicators explicitly. " +
				"When risk signals are present, prioritize safety guidance over documentation detail.",
			AllowedTools: []string{"search_case_notes", "draft_clinical_note", "risk_checklist"},
			Generation:   GenerationConfig{Temperature: 0.3, TopP: 0.85, MaxOutputTokens: 2048},
		},
		{
			Name:        Academico,
			Description: "Research and academic-validation agent; grounds claims in literature.",
			SystemInstruction: "You are Academico, a research-oriented clinical agent. Ground every " +
				"substantive claim in established therapeutic literature and note when evidence is " +
				"preliminary or contested.",
			AllowedTools: []string{"search_literature", "cite_source"},
			Generation:   GenerationConfig{Temperature: 0.4, TopP: 0.9, MaxOutputTokens: 2048},
		},
		{
			Name:        Orquestador,
			Description: "Meta agent: coordinates between the other three and confirms agent transitions.",
			SystemInstruction: "You are Orquestador, the meta-coordination agent. You are only invoked " +
				"for agent-transition confirmations and session-level summaries; defer domain questions " +
				"to the specialist agents.",
			AllowedTools: []string{},
			Generation:   GenerationConfig{Temperature: 0.2, TopP: 0.8, MaxOutputTokens: 512},
		},
	}
}
