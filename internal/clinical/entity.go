package clinical

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"clinicalcore/internal/llm"
	"clinicalcore/internal/observability"
)

// Entity types the extractor recognizes (§4.4).
const (
	EntityTherapeuticTechnique = "therapeutic_technique"
	EntityTargetPopulation     = "target_population"
	EntityDisorderCondition    = "disorder_condition"
	EntityDocumentationProcess = "documentation_process"
	EntityAcademicValidation   = "academic_validation"
	EntitySocraticExploration  = "socratic_exploration"
	EntityClinicalConcept      = "clinical_concept"
)

var entityTypes = []string{
	EntityTherapeuticTechnique, EntityTargetPopulation, EntityDisorderCondition,
	EntityDocumentationProcess, EntityAcademicValidation, EntitySocraticExploration,
	EntityClinicalConcept,
}

// defaultConfidenceThreshold is the floor below which an extracted entity is
// dropped unless it matches a known dictionary term (§4.4).
const defaultConfidenceThreshold = 0.7

// dictionaryBypassConfidence lets a high-confidence hit through even when it
// has no dictionary membership.
const dictionaryBypassConfidence = 0.9

// maxExtractionInputRunes bounds the text handed to the model per the
// "MUST truncate to a bounded slice" requirement.
const maxExtractionInputRunes = 8000

// Entity is one extracted clinical entity.
type Entity struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// ExtractionResult is EntityExtractor's output contract.
type ExtractionResult struct {
	Entities        []Entity
	PrimaryEntities []Entity
	SecondaryEntities []Entity
	Confidence      float64
	ProcessingTime  time.Duration
}

// EntityExtractor performs a single function-calling round trip through a
// ModelClient, mirroring how specialists/registry.go declares tool schemas
// for specialist dispatch, but fixed to one schema enumerating the seven
// clinical entity types.
type EntityExtractor struct {
	provider           llm.Provider
	model              string
	confidenceThreshold float64
	knownEntities      map[string]struct{}
}

// NewEntityExtractor builds an extractor. knownEntities is the
// known-entity/synonym dictionary used to validate low-confidence hits
// (lowercased values).
func NewEntityExtractor(provider llm.Provider, model string, knownEntities []string) *EntityExtractor {
	dict := make(map[string]struct{}, len(knownEntities))
	for _, e := range knownEntities {
		dict[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}
	return &EntityExtractor{
		provider:           provider,
		model:              model,
		confidenceThreshold: defaultConfidenceThreshold,
		knownEntities:      dict,
	}
}

var extractionSchema = llm.ToolSchema{
	Name:        "extract_clinical_entities",
	Description: "Extract clinical entities mentioned in the conversational text.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"entities": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type":       map[string]any{"type": "string", "enum": entityTypes},
						"value":      map[string]any{"type": "string"},
						"confidence": map[string]any{"type": "number"},
					},
					"required": []string{"type", "value", "confidence"},
				},
			},
		},
		"required": []string{"entities"},
	},
}

type extractionArgs struct {
	Entities []Entity `json:"entities"`
}

// Extract runs the extraction round trip over text, optionally enriched
// with session context in sessionContext (appended as a system message).
func (e *EntityExtractor) Extract(ctx context.Context, text, sessionContext string) (ExtractionResult, error) {
	started := time.Now()
	if len([]rune(text)) > maxExtractionInputRunes {
		text = string([]rune(text)[:maxExtractionInputRunes])
	}

	msgs := []llm.Message{
		{Role: "system", Content: "Extract clinical entities from the user's message by calling extract_clinical_entities. Only call the tool; do not respond in free text."},
	}
	if sessionContext != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: sessionContext})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: text})

	resp, err := e.provider.Chat(ctx, msgs, []llm.ToolSchema{extractionSchema}, e.model)
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("entity_extraction_failed")
		return ExtractionResult{ProcessingTime: time.Since(started)}, err
	}

	var args extractionArgs
	for _, tc := range resp.ToolCalls {
		if tc.Name != extractionSchema.Name {
			continue
		}
		if err := json.Unmarshal(tc.Args, &args); err != nil {
			continue
		}
	}

	result := e.filterAndDedupe(args.Entities)
	result.ProcessingTime = time.Since(started)
	return result, nil
}

func (e *EntityExtractor) filterAndDedupe(entities []Entity) ExtractionResult {
	seen := make(map[string]struct{}, len(entities))
	var kept []Entity
	sumConfidence := 0.0

	for _, ent := range entities {
		if ent.Confidence < e.confidenceThreshold && ent.Confidence < dictionaryBypassConfidence {
			if _, known := e.knownEntities[strings.ToLower(ent.Value)]; !known {
				continue
			}
		}
		key := ent.Type + "|" + strings.ToLower(ent.Value)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, ent)
		sumConfidence += ent.Confidence
	}

	result := ExtractionResult{Entities: kept}
	for _, ent := range kept {
		if ent.Confidence >= dictionaryBypassConfidence {
			result.PrimaryEntities = append(result.PrimaryEntities, ent)
		} else {
			result.SecondaryEntities = append(result.SecondaryEntities, ent)
		}
	}
	if len(kept) > 0 {
		result.Confidence = sumConfidence / float64(len(kept))
	}
	return result
}
