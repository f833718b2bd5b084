// Package config loads the clinical conversation core's configuration
// from environment variables (an optional .env file is loaded first), plus
// the optional YAML extra-agents file named by AGENT_EXTRA_CONFIG_FILE, in
// the style of the teacher's
// env-driven loader: read with strings.TrimSpace, apply defaults after
// reading, validate required fields last, fail fast with a wrapped error.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProviderConfig holds connection details for one LLM provider.
type ProviderConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ObsConfig controls OpenTelemetry tracing.
type ObsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLP           string
}

// RiskConfig controls the edge-case/risk escalation thresholds (§4.6, §3 RiskState).
type RiskConfig struct {
	SafeTurnsThreshold int
}

// ContextConfig controls the ContextWindowManager (§4.3).
type ContextConfig struct {
	MaxExchanges  int
	TriggerTokens int
	TargetTokens  int
	// Strategy is "truncate" (token-overlap middle selection) or
	// "summarize" (LLM-generated synthetic framing message).
	Strategy string
}

// RoutingConfig controls IntentRouter/DynamicOrchestrator confidence bands (§4.5, §4.9).
type RoutingConfig struct {
	ConfidenceHigh         float64
	ConfidenceLow          float64
	ConfidenceAmbiguous    float64
	MaxConsecutiveSwitches int
	NightSessionMinutes    int
	MaxSessionMinutes      int
	UseAdvancedOrchestration bool
	// SafeTurnsThreshold mirrors RiskConfig.SafeTurnsThreshold so IntentRouter
	// can evaluate precedence rule 2 (§4.5) without depending on RiskConfig.
	SafeTurnsThreshold int
}

// SafetyConfig is the fixed safety-threshold set applied to every agent.
type SafetyConfig struct {
	Threshold      string // fixed: "BLOCK_MEDIUM_AND_ABOVE"
	HarmCategories []string
}

// StorageConfig selects and configures the SessionStore backend (§4.1).
type StorageConfig struct {
	Backend string // "memory" or "postgres"
	DSN     string
}

// RedisConfig is optional — its address backs the ContextWindowManager
// summary cache and the Kafka front door's correlation-id dedupe store.
type RedisConfig struct {
	Enabled bool
	Addr    string
	Password string
	DB       int
}

// KafkaConfig is optional — an additive command-bus front door for SendMessage.
type KafkaConfig struct {
	Enabled        bool
	Brokers        string
	CommandsTopic  string
	ResponsesTopic string
}

// ExtraAgentConfig is one deployment-registered house specialist, read from
// AGENT_EXTRA_<NAME>_SYSTEM / _DESCRIPTION / _MODEL / _PROVIDER or from the
// YAML file named by AGENT_EXTRA_CONFIG_FILE.
type ExtraAgentConfig struct {
	Name              string
	Description       string
	SystemInstruction string
	Provider          string
	Model             string
}

// extraAgentsFile is the shape of the YAML document AGENT_EXTRA_CONFIG_FILE
// points at — a single reviewable file, as an alternative to one
// AGENT_EXTRA_<NAME>_* env-var block per house specialist (§4.8).
type extraAgentsFile struct {
	Agents []struct {
		Name              string `yaml:"name"`
		Description       string `yaml:"description"`
		SystemInstruction string `yaml:"system_instruction"`
		Provider          string `yaml:"provider"`
		Model             string `yaml:"model"`
	} `yaml:"agents"`
}

// loadExtraAgentsFile parses path as an extraAgentsFile document. An empty
// path is not an error — the YAML file is optional, env vars remain the
// default mechanism.
func loadExtraAgentsFile(path string) ([]ExtraAgentConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read AGENT_EXTRA_CONFIG_FILE %q: %w", path, err)
	}
	var doc extraAgentsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse AGENT_EXTRA_CONFIG_FILE %q: %w", path, err)
	}
	out := make([]ExtraAgentConfig, 0, len(doc.Agents))
	for _, a := range doc.Agents {
		name := strings.ToLower(strings.TrimSpace(a.Name))
		system := strings.TrimSpace(a.SystemInstruction)
		if name == "" || system == "" {
			continue
		}
		out = append(out, ExtraAgentConfig{
			Name:              name,
			Description:       a.Description,
			SystemInstruction: system,
			Provider:          strings.ToLower(strings.TrimSpace(a.Provider)),
			Model:             a.Model,
		})
	}
	return out, nil
}

// Config is the fully-resolved, validated configuration for one process.
type Config struct {
	HTTPAddr string

	LogLevel string
	LogPath  string

	DefaultProvider string // "openai", "anthropic", or "google"
	OpenAI          ProviderConfig
	Anthropic       ProviderConfig
	Google          ProviderConfig

	// AgentModels maps agent name (socratico/clinico/academico/orquestador)
	// to a model id override. Resolves the base spec's Open Question: model
	// id is per-agent configuration, recorded in usageMetadata at call time.
	AgentModels map[string]string

	// ExtraAgents names house specialists a deployment can register beyond
	// the four fixed clinical variants, without forking the core (§4.8).
	ExtraAgents []ExtraAgentConfig

	Risk     RiskConfig
	Context  ContextConfig
	Routing  RoutingConfig
	Safety   SafetyConfig
	Storage  StorageConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Obs      ObsConfig
}

// Load reads configuration from the environment (optionally a .env file).
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		AgentModels: map[string]string{},
	}

	cfg.HTTPAddr = firstNonEmpty(getenv("HTTP_ADDR"), ":8080")
	cfg.LogLevel = getenv("LOG_LEVEL")
	cfg.LogPath = getenv("LOG_PATH")

	cfg.DefaultProvider = strings.ToLower(firstNonEmpty(getenv("LLM_PROVIDER"), "openai"))
	switch cfg.DefaultProvider {
	case "openai", "anthropic", "google":
	default:
		return Config{}, fmt.Errorf("LLM_PROVIDER must be one of openai, anthropic, google (got %q)", cfg.DefaultProvider)
	}

	cfg.OpenAI = ProviderConfig{
		APIKey:  getenv("OPENAI_API_KEY"),
		Model:   firstNonEmpty(getenv("OPENAI_MODEL"), "gpt-4o-mini"),
		BaseURL: getenv("OPENAI_BASE_URL"),
	}
	cfg.Anthropic = ProviderConfig{
		APIKey:  getenv("ANTHROPIC_API_KEY"),
		Model:   firstNonEmpty(getenv("ANTHROPIC_MODEL"), "claude-sonnet-4-5"),
		BaseURL: getenv("ANTHROPIC_BASE_URL"),
	}
	cfg.Google = ProviderConfig{
		APIKey:  getenv("GOOGLE_LLM_API_KEY"),
		Model:   firstNonEmpty(getenv("GOOGLE_LLM_MODEL"), "gemini-2.5-flash"),
		BaseURL: getenv("GOOGLE_LLM_BASE_URL"),
	}

	for _, agent := range []string{"socratico", "clinico", "academico", "orquestador"} {
		envKey := "AGENT_MODEL_" + strings.ToUpper(agent)
		if v := getenv(envKey); v != "" {
			cfg.AgentModels[agent] = v
		}
	}

	for _, name := range strings.Split(getenv("AGENT_EXTRA_NAMES"), ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		prefix := "AGENT_EXTRA_" + strings.ToUpper(name) + "_"
		system := getenv(prefix + "SYSTEM")
		if system == "" {
			continue
		}
		cfg.ExtraAgents = append(cfg.ExtraAgents, ExtraAgentConfig{
			Name:              name,
			Description:       getenv(prefix + "DESCRIPTION"),
			SystemInstruction: system,
			Provider:          strings.ToLower(getenv(prefix + "PROVIDER")),
			Model:             getenv(prefix + "MODEL"),
		})
	}

	fromFile, err := loadExtraAgentsFile(getenv("AGENT_EXTRA_CONFIG_FILE"))
	if err != nil {
		return Config{}, err
	}
	cfg.ExtraAgents = append(cfg.ExtraAgents, fromFile...)

	cfg.Risk.SafeTurnsThreshold = envInt("SAFE_TURNS_THRESHOLD", 3)

	cfg.Context.MaxExchanges = envInt("CONTEXT_MAX_EXCHANGES", 6)
	cfg.Context.TriggerTokens = envInt("CONTEXT_TRIGGER_TOKENS", 50_000)
	cfg.Context.TargetTokens = envInt("CONTEXT_TARGET_TOKENS", 30_000)
	cfg.Context.Strategy = strings.ToLower(firstNonEmpty(getenv("CONTEXT_STRATEGY"), "truncate"))

	cfg.Routing.ConfidenceHigh = envFloat("CONFIDENCE_HIGH", 0.75)
	cfg.Routing.ConfidenceLow = envFloat("CONFIDENCE_LOW", 0.50)
	cfg.Routing.ConfidenceAmbiguous = envFloat("CONFIDENCE_AMBIGUOUS", 0.625)
	cfg.Routing.MaxConsecutiveSwitches = envInt("MAX_CONSECUTIVE_SWITCHES", 4)
	cfg.Routing.NightSessionMinutes = envInt("NIGHT_SESSION_MINUTES", 0)
	cfg.Routing.MaxSessionMinutes = envInt("MAX_SESSION_MINUTES", 90)
	cfg.Routing.UseAdvancedOrchestration = envBool("USE_ADVANCED_ORCHESTRATION", true)
	cfg.Routing.SafeTurnsThreshold = cfg.Risk.SafeTurnsThreshold

	cfg.Safety = SafetyConfig{
		Threshold: "BLOCK_MEDIUM_AND_ABOVE",
		HarmCategories: []string{
			"HARM_CATEGORY_HARASSMENT",
			"HARM_CATEGORY_HATE_SPEECH",
			"HARM_CATEGORY_SEXUALLY_EXPLICIT",
			"HARM_CATEGORY_DANGEROUS_CONTENT",
		},
	}

	cfg.Storage.DSN = firstNonEmpty(getenv("SESSION_DSN"), getenv("DATABASE_URL"))
	cfg.Storage.Backend = getenv("SESSION_BACKEND")
	if cfg.Storage.Backend == "" {
		if cfg.Storage.DSN != "" {
			cfg.Storage.Backend = "postgres"
		} else {
			cfg.Storage.Backend = "memory"
		}
	}

	cfg.Redis.Addr = getenv("REDIS_ADDR")
	cfg.Redis.Enabled = cfg.Redis.Addr != ""
	cfg.Redis.Password = getenv("REDIS_PASSWORD")
	cfg.Redis.DB = envInt("REDIS_DB", 0)

	cfg.Kafka.Brokers = firstNonEmpty(getenv("KAFKA_BROKERS"), getenv("KAFKA_BOOTSTRAP_SERVERS"))
	cfg.Kafka.Enabled = cfg.Kafka.Brokers != ""
	cfg.Kafka.CommandsTopic = firstNonEmpty(getenv("KAFKA_COMMANDS_TOPIC"), "clinicalcore.conversation.commands")
	cfg.Kafka.ResponsesTopic = firstNonEmpty(getenv("KAFKA_RESPONSES_TOPIC"), "clinicalcore.conversation.responses")

	cfg.Obs.ServiceName = firstNonEmpty(getenv("OTEL_SERVICE_NAME"), "clinicalcore")
	cfg.Obs.ServiceVersion = getenv("SERVICE_VERSION")
	cfg.Obs.Environment = firstNonEmpty(getenv("ENVIRONMENT"), "dev")
	cfg.Obs.OTLP = getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	if cfg.OpenAI.APIKey == "" && cfg.Anthropic.APIKey == "" && cfg.Google.APIKey == "" {
		return Config{}, errors.New("at least one of OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_LLM_API_KEY is required")
	}
	switch cfg.DefaultProvider {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return Config{}, errors.New("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
	case "anthropic":
		if cfg.Anthropic.APIKey == "" {
			return Config{}, errors.New("ANTHROPIC_API_KEY is required when LLM_PROVIDER=anthropic")
		}
	case "google":
		if cfg.Google.APIKey == "" {
			return Config{}, errors.New("GOOGLE_LLM_API_KEY is required when LLM_PROVIDER=google")
		}
	}
	if cfg.Storage.Backend == "postgres" && cfg.Storage.DSN == "" {
		return Config{}, errors.New("SESSION_DSN (or DATABASE_URL) is required when SESSION_BACKEND=postgres")
	}

	return cfg, nil
}

func getenv(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, def int) int {
	v := getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := getenv(key)
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}
