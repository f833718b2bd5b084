package clinical

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"clinicalcore/internal/llm"
)

// fakeExtractionProvider returns a fixed extract_clinical_entities tool call.
type fakeExtractionProvider struct {
	args string
}

func (f *fakeExtractionProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	return llm.Message{ToolCalls: []llm.ToolCall{{Name: "extract_clinical_entities", Args: []byte(f.args)}}}, nil
}

func (f *fakeExtractionProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

func TestExtractDropsEntitiesBelowConfidenceThresholdWithoutDictionaryMatch(t *testing.T) {
	provider := &fakeExtractionProvider{args: `{"entities":[
		{"type":"therapeutic_technique","value":"grounding","confidence":0.4},
		{"type":"disorder_condition","value":"anxiety","confidence":0.8}
	]}`}
	e := NewEntityExtractor(provider, "test-model", nil)

	result, err := e.Extract(context.Background(), "text", "")
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	require.Equal(t, "anxiety", result.Entities[0].Value)
}

func TestExtractAcceptsLowConfidenceEntityKnownInDictionary(t *testing.T) {
	provider := &fakeExtractionProvider{args: `{"entities":[
		{"type":"therapeutic_technique","value":"grounding","confidence":0.4}
	]}`}
	e := NewEntityExtractor(provider, "test-model", []string{"Grounding"})

	result, err := e.Extract(context.Background(), "text", "")
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
}

func TestExtractAcceptsHighConfidenceEntityWithoutDictionaryMembership(t *testing.T) {
	provider := &fakeExtractionProvider{args: `{"entities":[
		{"type":"clinical_concept","value":"novel term","confidence":0.95}
	]}`}
	e := NewEntityExtractor(provider, "test-model", nil)

	result, err := e.Extract(context.Background(), "text", "")
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	require.Len(t, result.PrimaryEntities, 1)
}

func TestExtractDedupesByTypeAndLowercasedValue(t *testing.T) {
	provider := &fakeExtractionProvider{args: `{"entities":[
		{"type":"disorder_condition","value":"Anxiety","confidence":0.9},
		{"type":"disorder_condition","value":"anxiety","confidence":0.8}
	]}`}
	e := NewEntityExtractor(provider, "test-model", nil)

	result, err := e.Extract(context.Background(), "text", "")
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
}

func TestExtractTruncatesOversizedInputBeforeCallingModel(t *testing.T) {
	provider := &capturingProvider{}
	e := NewEntityExtractor(provider, "test-model", nil)

	huge := strings.Repeat("a", maxExtractionInputRunes+5000)
	_, err := e.Extract(context.Background(), huge, "")
	require.NoError(t, err)
	require.LessOrEqual(t, len([]rune(provider.lastUserContent)), maxExtractionInputRunes)
}

type capturingProvider struct {
	lastUserContent string
}

func (c *capturingProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	for _, m := range msgs {
		if m.Role == "user" {
			c.lastUserContent = m.Content
		}
	}
	return llm.Message{}, nil
}

func (c *capturingProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}
