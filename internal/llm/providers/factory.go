// Package providers builds the configured llm.Provider implementation.
package providers

import (
	"fmt"
	"net/http"

	"clinicalcore/internal/config"
	"clinicalcore/internal/llm"
	"clinicalcore/internal/llm/anthropic"
	"clinicalcore/internal/llm/google"
	openaillm "clinicalcore/internal/llm/openai"
)

// Build constructs the default llm.Provider named by cfg.DefaultProvider.
func Build(cfg config.Config, httpClient *http.Client) (llm.Provider, error) {
	return BuildNamed(cfg, cfg.DefaultProvider, httpClient)
}

// BuildNamed constructs a specific named provider, independent of the
// process default. AgentRegistry uses this to give each clinical agent its
// own provider/model pairing (§4.8).
func BuildNamed(cfg config.Config, name string, httpClient *http.Client) (llm.Provider, error) {
	switch name {
	case "", "openai":
		return openaillm.New(cfg.OpenAI, httpClient), nil
	case "anthropic":
		return anthropic.New(cfg.Anthropic, httpClient), nil
	case "google":
		return google.New(cfg.Google, httpClient)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", name)
	}
}
