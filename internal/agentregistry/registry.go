// Package agentregistry builds and addresses the four fixed clinical agent
// variants (plus a config-driven extension point for house specialists),
// generalized from specialists/registry.go's open named-specialist registry.
package agentregistry

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"

	"clinicalcore/internal/config"
	"clinicalcore/internal/llm"
	"clinicalcore/internal/llm/providers"
)

// Fixed clinical agent variants (§4.8).
const (
	Socratico   = "socratico"
	Clinico     = "clinico"
	Academico   = "academico"
	Orquestador = "orquestador"
)

// GenerationConfig carries default generation params for an agent variant.
type GenerationConfig struct {
	Temperature     float64
	TopP            float64
	TopK            int
	MaxOutputTokens int
}

// AgentConfig declares one agent variant's fixed shape.
type AgentConfig struct {
	Name               string
	Description        string
	SystemInstruction  string
	AllowedTools       []string
	Generation         GenerationConfig
	Provider           string // "openai"|"anthropic"|"google"; empty = cfg.DefaultProvider
	Model              string
}

// Agent is a constructed, invocable clinical agent bound to a provider.
type Agent struct {
	Config   AgentConfig
	provider llm.Provider
}

// NewAgent builds an Agent directly from a config and provider, bypassing
// Build's config-driven dispatch. Used by tests and by callers wiring a
// bespoke agent variant outside the four fixed ones Build registers.
func NewAgent(cfg AgentConfig, provider llm.Provider) *Agent {
	return &Agent{Config: cfg, provider: provider}
}

func (a *Agent) Provider() llm.Provider { return a.provider }
func (a *Agent) Name() string           { return a.Config.Name }
func (a *Agent) System() string         { return a.Config.SystemInstruction }
func (a *Agent) Model() string          { return a.Config.Model }

// Chat performs a single-turn completion, prepending the agent's system
// instruction ahead of history, mirroring specialists/registry.go's
// buildMessages.
func (a *Agent) Chat(ctx context.Context, history []llm.Message, user string, tools []llm.ToolSchema) (llm.Message, error) {
	msgs := a.buildMessages(history, user)
	return a.provider.Chat(ctx, msgs, tools, a.Config.Model)
}

// Stream performs a best-effort streaming completion. Tool schemas are
// passed through (unlike the teacher's Stream, which omits them to avoid
// mid-stream tool loops) since DynamicOrchestrator pre-selects a bounded
// contextual tool set before the call.
func (a *Agent) Stream(ctx context.Context, history []llm.Message, user string, tools []llm.ToolSchema, handler llm.StreamHandler) error {
	msgs := a.buildMessages(history, user)
	return a.provider.ChatStream(ctx, msgs, tools, a.Config.Model, handler)
}

func (a *Agent) buildMessages(history []llm.Message, user string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	if sys := strings.TrimSpace(a.Config.SystemInstruction); sys != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: sys})
	}
	msgs = append(msgs, history...)
	if strings.TrimSpace(user) != "" {
		msgs = append(msgs, llm.Message{Role: "user", Content: user})
	}
	return msgs
}

// Registry holds the four fixed clinical agents plus any configured
// extension agents, addressable by name.
type Registry struct {
	mu                   sync.RWMutex
	agents               map[string]*Agent
	systemPromptAddendum string
}

// NewRegistryFromAgents builds a Registry directly from already-constructed
// agents, skipping config-driven provider dispatch. Used by tests that need
// a registry wired to fake llm.Provider implementations.
func NewRegistryFromAgents(agents ...*Agent) *Registry {
	reg := &Registry{agents: make(map[string]*Agent, len(agents))}
	for _, a := range agents {
		reg.agents[a.Name()] = a
	}
	return reg
}

// Build constructs the registry from cfg, dispatching each agent's
// provider by name via providers.BuildNamed — mirrors
// specialists/registry.go's buildProvider dispatch, generalized from an
// open set to the four fixed variants.
func Build(cfg config.Config, httpClient *http.Client) (*Registry, error) {
	configs := DefaultAgentConfigs(cfg)
	for _, extra := range cfg.ExtraAgents {
		configs = append(configs, AgentConfig{
			Name:              extra.Name,
			Description:       extra.Description,
			SystemInstruction: extra.SystemInstruction,
			Provider:          extra.Provider,
			Model:             extra.Model,
			Generation:        GenerationConfig{Temperature: 0.5, TopP: 0.9, MaxOutputTokens: 1024},
		})
	}
	reg := &Registry{agents: make(map[string]*Agent, len(configs))}
	if err := reg.replace(cfg, configs, httpClient); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) replace(cfg config.Config, configs []AgentConfig, httpClient *http.Client) error {
	agents := make(map[string]*Agent, len(configs))
	for _, ac := range configs {
		providerName := ac.Provider
		if providerName == "" {
			providerName = cfg.DefaultProvider
		}
		prov, err := providers.BuildNamed(cfg, providerName, httpClient)
		if err != nil {
			return err
		}
		if ac.Model == "" {
			if m, ok := cfg.AgentModels[ac.Name]; ok {
				ac.Model = m
			} else {
				ac.Model = defaultModelFor(cfg, providerName)
			}
		}
		agents[ac.Name] = &Agent{Config: ac, provider: prov}
	}

	addendum := buildSystemPromptAddendum(agents)
	if addendum != "" {
		for _, a := range agents {
			a.Config.SystemInstruction = combineSystemPrompts(a.Config.SystemInstruction, addendum)
		}
	}

	r.mu.Lock()
	r.agents = agents
	r.systemPromptAddendum = addendum
	r.mu.Unlock()
	return nil
}

func defaultModelFor(cfg config.Config, providerName string) string {
	switch providerName {
	case "anthropic":
		return cfg.Anthropic.Model
	case "google":
		return cfg.Google.Model
	default:
		return cfg.OpenAI.Model
	}
}

// Get returns the named agent.
func (r *Registry) Get(name string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// Names returns sorted agent names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for k := range r.agents {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AppendToSystemPrompt appends the registry's agent catalog to a base
// system prompt.
func (r *Registry) AppendToSystemPrompt(base string) string {
	r.mu.RLock()
	addition := r.systemPromptAddendum
	r.mu.RUnlock()
	return combineSystemPrompts(base, addition)
}

func combineSystemPrompts(base, addition string) string {
	base = strings.TrimSpace(base)
	addition = strings.TrimSpace(addition)
	switch {
	case base == "":
		return addition
	case addition == "":
		return base
	default:
		return base + "\n\n" + addition
	}
}

func buildSystemPromptAddendum(agents map[string]*Agent) string {
	if len(agents) == 0 {
		return ""
	}
	names := make([]string, 0, len(agents))
	for name := range agents {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		a := agents[name]
		desc := strings.TrimSpace(a.Config.Description)
		if desc == "" {
			desc = "no description provided"
		}
		lines = append(lines, "- "+name+": "+desc)
	}
	return "Available agents you can be switched to:\n" + strings.Join(lines, "\n")
}
