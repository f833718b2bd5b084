// Package anthropic implements llm.Provider against the Anthropic Messages
// API for the conversation core's Claude-backed agents.
package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"clinicalcore/internal/config"
	"clinicalcore/internal/llm"
	"clinicalcore/internal/observability"
)

const defaultMaxTokens int64 = 4096

type Client struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
}

func New(cfg config.ProviderConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_5)
	}
	return &Client{sdk: anthropic.NewClient(opts...), model: model, maxTokens: defaultMaxTokens}
}

func (c *Client) pickModel(model string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return c.model
}

func (c *Client) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	sys, converted := adaptMessages(msgs)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.pickModel(model)),
		Messages:  converted,
		System:    sys,
		MaxTokens: c.maxTokens,
	}
	if len(tools) > 0 {
		params.Tools = adaptTools(tools)
	}

	ctx, span := llm.StartRequestSpan(ctx, "Anthropic Chat", string(params.Model), len(tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)
	log := observability.LoggerWithTrace(ctx)

	start := time.Now()
	resp, err := c.sdk.Messages.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", dur).Msg("anthropic_chat_error")
		return llm.Message{}, err
	}

	out := messageFromResponse(resp)
	llm.LogRedactedResponse(ctx, resp)
	promptTokens := int(resp.Usage.InputTokens)
	completionTokens := int(resp.Usage.OutputTokens)
	llm.RecordTokenAttributes(span, promptTokens, completionTokens, promptTokens+completionTokens)
	log.Debug().Str("model", string(params.Model)).Dur("duration", dur).Int("tool_calls", len(out.ToolCalls)).Msg("anthropic_chat_ok")
	return out, nil
}

func (c *Client) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	sys, converted := adaptMessages(msgs)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.pickModel(model)),
		Messages:  converted,
		System:    sys,
		MaxTokens: c.maxTokens,
	}
	if len(tools) > 0 {
		params.Tools = adaptTools(tools)
	}

	ctx, span := llm.StartRequestSpan(ctx, "Anthropic ChatStream", string(params.Model), len(tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)
	log := observability.LoggerWithTrace(ctx)

	start := time.Now()
	stream := c.sdk.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var acc anthropic.Message
	toolBuf := map[int64]*llm.ToolCall{}

	for stream.Next() {
		event := stream.Current()
		_ = acc.Accumulate(event)

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				toolBuf[ev.Index] = &llm.ToolCall{ID: tu.ID, Name: tu.Name}
			}
		case anthropic.ContentBlockDeltaEvent:
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if h != nil && d.Text != "" {
					h.OnDelta(d.Text)
				}
			case anthropic.InputJSONDelta:
				if tc := toolBuf[ev.Index]; tc != nil {
					tc.Args = json.RawMessage(string(tc.Args) + d.PartialJSON)
				}
			}
		case anthropic.ContentBlockStopEvent:
			if tc := toolBuf[ev.Index]; tc != nil && h != nil {
				h.OnToolCall(*tc)
				delete(toolBuf, ev.Index)
			}
		}
	}

	err := stream.Err()
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Dur("duration", dur).Msg("anthropic_stream_error")
		return err
	}
	promptTokens := int(acc.Usage.InputTokens)
	completionTokens := int(acc.Usage.OutputTokens)
	llm.RecordTokenAttributes(span, promptTokens, completionTokens, promptTokens+completionTokens)
	log.Debug().Dur("duration", dur).Int("prompt_tokens", promptTokens).Int("completion_tokens", completionTokens).Msg("anthropic_stream_ok")
	return nil
}

func adaptMessages(msgs []llm.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var sys []anthropic.TextBlockParam
	var out []anthropic.MessageParam
	for _, m := range msgs {
		switch m.Role {
		case "system":
			sys = append(sys, anthropic.TextBlockParam{Text: m.Content})
		case "user":
			if m.ToolID != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolID, m.Content, false)))
			} else {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
				continue
			}
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(tc.Args, &args)
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case "tool":
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolID, m.Content, false)))
		}
	}
	return sys, out
}

func adaptTools(schemas []llm.ToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		tool := anthropic.ToolParam{
			Name:        s.Name,
			Description: anthropic.String(s.Description),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: s.Parameters["properties"]},
		}
		if req, ok := s.Parameters["required"].([]string); ok {
			tool.InputSchema.Required = req
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}

func messageFromResponse(resp *anthropic.Message) llm.Message {
	var sb strings.Builder
	var tcs []llm.ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			sb.WriteString(block.AsText().Text)
		case "tool_use":
			tu := block.AsToolUse()
			tcs = append(tcs, llm.ToolCall{ID: tu.ID, Name: tu.Name, Args: json.RawMessage(tu.Input)})
		}
	}
	return llm.Message{Role: "assistant", Content: sb.String(), ToolCalls: tcs}
}
