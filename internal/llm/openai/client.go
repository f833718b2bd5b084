// Package openai implements llm.Provider against the OpenAI Chat Completions
// API. It handles only the surface the conversation core exercises: plain
// chat, function-calling tool round trips, and token-by-token streaming.
package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"clinicalcore/internal/config"
	"clinicalcore/internal/llm"
	"clinicalcore/internal/observability"
)

type Client struct {
	sdk   sdk.Client
	model string
}

func New(cfg config.ProviderConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithHTTPClient(httpClient)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	return &Client{sdk: sdk.NewClient(opts...), model: cfg.Model}
}

func (c *Client) pickModel(model string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return c.model
}

func (c *Client) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	effectiveModel := c.pickModel(model)
	ctx, span := llm.StartRequestSpan(ctx, "OpenAI Chat", effectiveModel, len(tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)
	log := observability.LoggerWithTrace(ctx)

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(effectiveModel),
		Messages: adaptMessages(msgs),
	}
	if len(tools) > 0 {
		params.Tools = adaptSchemas(tools)
	}

	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("model", effectiveModel).Dur("duration", dur).Msg("chat_completion_error")
		return llm.Message{}, err
	}

	out := messageFromCompletion(comp)
	llm.LogRedactedResponse(ctx, comp.Choices)
	llm.RecordTokenAttributes(span, int(comp.Usage.PromptTokens), int(comp.Usage.CompletionTokens), int(comp.Usage.TotalTokens))
	log.Debug().Str("model", effectiveModel).Dur("duration", dur).Int("tool_calls", len(out.ToolCalls)).Msg("chat_completion_ok")
	return out, nil
}

func (c *Client) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	effectiveModel := c.pickModel(model)
	ctx, span := llm.StartRequestSpan(ctx, "OpenAI ChatStream", effectiveModel, len(tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)
	log := observability.LoggerWithTrace(ctx)

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(effectiveModel),
		Messages: adaptMessages(msgs),
	}
	if len(tools) > 0 {
		params.Tools = adaptSchemas(tools)
	}
	params.StreamOptions.IncludeUsage = sdk.Bool(true)

	start := time.Now()
	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	toolCalls := map[int]*llm.ToolCall{}
	flushed := false
	var promptTokens, completionTokens, totalTokens int

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			if chunk.Usage.TotalTokens > 0 {
				promptTokens = int(chunk.Usage.PromptTokens)
				completionTokens = int(chunk.Usage.CompletionTokens)
				totalTokens = int(chunk.Usage.TotalTokens)
			}
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" && h != nil {
			h.OnDelta(delta.Content)
		}
		for _, tc := range delta.ToolCalls {
			idx := int(tc.Index)
			if toolCalls[idx] == nil {
				toolCalls[idx] = &llm.ToolCall{ID: tc.ID}
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].Args = json.RawMessage(string(toolCalls[idx].Args) + tc.Function.Arguments)
			}
		}
		if chunk.Choices[0].FinishReason != "" && !flushed {
			for _, tc := range toolCalls {
				if tc != nil && tc.Name != "" && len(tc.Args) > 0 && h != nil {
					h.OnToolCall(*tc)
				}
			}
			flushed = true
		}
	}

	err := stream.Err()
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Dur("duration", dur).Msg("chat_stream_error")
		return err
	}
	llm.RecordTokenAttributes(span, promptTokens, completionTokens, totalTokens)
	log.Debug().Dur("duration", dur).Int("prompt_tokens", promptTokens).Int("completion_tokens", completionTokens).Msg("chat_stream_ok")
	return nil
}

func messageFromCompletion(comp *sdk.ChatCompletion) llm.Message {
	if len(comp.Choices) == 0 {
		return llm.Message{Role: "assistant"}
	}
	msg := comp.Choices[0].Message
	out := llm.Message{Role: "assistant", Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		switch v := tc.AsAny().(type) {
		case sdk.ChatCompletionMessageFunctionToolCall:
			if isEmptyArgs(v.Function.Arguments) {
				continue
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				Name: v.Function.Name,
				Args: json.RawMessage(v.Function.Arguments),
				ID:   v.ID,
			})
		case sdk.ChatCompletionMessageCustomToolCall:
			if isEmptyArgs(v.Custom.Input) {
				continue
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				Name: v.Custom.Name,
				Args: json.RawMessage(v.Custom.Input),
				ID:   v.ID,
			})
		}
	}
	return out
}

func isEmptyArgs(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == "{}" || s == "null"
}
