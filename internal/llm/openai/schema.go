package openai

import (
	sdk "github.com/openai/openai-go/v2"

	"clinicalcore/internal/llm"
)

// adaptSchemas converts portable tool schemas (the fixed clinical entity
// extraction schema, among others) into OpenAI SDK tool params.
func adaptSchemas(schemas []llm.ToolSchema) []sdk.ChatCompletionToolUnionParam {
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, sdk.ChatCompletionFunctionTool(sdk.FunctionDefinitionParam{
			Name:        s.Name,
			Description: sdk.String(s.Description),
			Parameters:  s.Parameters,
		}))
	}
	return out
}

// adaptMessages converts portable history into OpenAI SDK message params.
func adaptMessages(msgs []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(nonEmpty(m.Content)))
		case "user":
			out = append(out, sdk.UserMessage(nonEmpty(m.Content)))
		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, sdk.AssistantMessage(nonEmpty(m.Content)))
				continue
			}
			var asst sdk.ChatCompletionAssistantMessageParam
			asst.Content.OfString = sdk.String(nonEmpty(m.Content))
			for _, tc := range m.ToolCalls {
				fn := sdk.ChatCompletionMessageFunctionToolCallParam{
					ID: tc.ID,
					Function: sdk.ChatCompletionMessageFunctionToolCallFunctionParam{
						Arguments: string(tc.Args),
						Name:      tc.Name,
					},
				}
				asst.ToolCalls = append(asst.ToolCalls, sdk.ChatCompletionMessageToolCallUnionParam{OfFunction: &fn})
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case "tool":
			out = append(out, sdk.ToolMessage(nonEmptyJSON(m.Content), m.ToolID))
		}
	}
	return out
}

func nonEmpty(s string) string {
	if s == "" {
		return " "
	}
	return s
}

func nonEmptyJSON(s string) string {
	if s == "" {
		return `{"error":"empty tool response"}`
	}
	return s
}
