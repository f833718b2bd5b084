package llm

import (
	"context"
	"encoding/json"
	"sync"

	"clinicalcore/internal/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	mu                   sync.RWMutex
	enablePayloadLogging = false
	truncateBytes        = 0 // 0 means no truncation
)

// ConfigureLogging sets global behavior for prompt/response payload logging.
// Call once at startup with values from the main config.
func ConfigureLogging(enable bool, truncate int) {
	mu.Lock()
	defer mu.Unlock()
	enablePayloadLogging = enable
	truncateBytes = truncate
}

func shouldLog() (bool, int) {
	mu.RLock()
	defer mu.RUnlock()
	return enablePayloadLogging, truncateBytes
}

// StartRequestSpan starts a tracer span for an LLM request and sets common attributes.
func StartRequestSpan(ctx context.Context, operation string, model string, tools int, messages int) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("internal/llm").Start(ctx, operation)
	span.SetAttributes(attribute.String("llm.model", model), attribute.Int("llm.tools", tools), attribute.Int("llm.messages", messages))
	return ctx, span
}

// LogRedactedPrompt logs a redacted copy of the prompt/messages at debug level.
// No-op when payload logging is disabled. Oversized payloads are truncated.
func LogRedactedPrompt(ctx context.Context, msgs []Message) {
	ok, t := shouldLog()
	if !ok {
		return
	}
	log := observability.LoggerWithTrace(ctx)
	b, err := json.Marshal(msgs)
	if err != nil {
		return
	}
	red := observability.RedactJSON(b)
	if t > 0 && len(red) > t {
		red = json.RawMessage(`{"truncated":true}`)
	}
	tmp := log.With().RawJSON("prompt", red).Logger()
	tmp.Debug().Msg("llm_request")
}

// LogRedactedResponse logs a redacted copy of the response payload at debug level.
func LogRedactedResponse(ctx context.Context, resp any) {
	ok, t := shouldLog()
	if !ok {
		return
	}
	log := observability.LoggerWithTrace(ctx)
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	red := observability.RedactJSON(b)
	if t > 0 && len(red) > t {
		red = json.RawMessage(`{"truncated":true}`)
	}
	tmp := log.With().RawJSON("response", red).Logger()
	tmp.Debug().Msg("llm_response")
}

// RecordTokenAttributes sets token count attributes on the provided span.
// Token totals are not aggregated process-wide here — the core exports traces
// and structured logs; a metrics backend is an external collaborator.
func RecordTokenAttributes(span trace.Span, promptTokens, completionTokens, totalTokens int) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", promptTokens),
		attribute.Int("llm.completion_tokens", completionTokens),
		attribute.Int("llm.total_tokens", totalTokens),
	)
}
