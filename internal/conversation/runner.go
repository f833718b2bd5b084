package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"clinicalcore/internal/coreerr"
)

// Runner adapts Core to internal/orchestrator.Runner so the same command-bus
// front door (Kafka consumer, dedupe, DLQ) the teacher wires for workflow
// execution can drive SendMessage without the core depending on Kafka.
type Runner struct {
	core *Core
}

// NewRunner builds a Runner over core.
func NewRunner(core *Core) *Runner { return &Runner{core: core} }

// commandAttrs is the attrs shape this Runner expects on the command
// envelope (§6's message-send operation, expressed as a command payload
// instead of an HTTP body).
type commandAttrs struct {
	SessionID      string                     `json:"session_id"`
	UserID         string                     `json:"user_id"`
	Mode           string                     `json:"mode"`
	Message        string                     `json:"message"`
	SuggestedAgent string                     `json:"suggested_agent"`
	Timezone       string                     `json:"timezone"`
	PendingFiles   []string                   `json:"pending_file_refs"`
	PatientMeta    *jsonPatientSessionMeta    `json:"patient_meta"`
}

type jsonPatientSessionMeta struct {
	PatientID            string `json:"patient_id"`
	SessionType          string `json:"session_type"`
	ConfidentialityLevel string `json:"confidentiality_level"`
}

// Execute implements orchestrator.Runner. workflow names the session mode
// (kept distinct from SendMessageRequest.Mode so a deployment can route
// different workflows — e.g. "intake" vs "followup" — to the same core).
// The command-bus front door always drives SendMessage non-streaming (§6's
// onBullet/onAgentSelected sinks are an HTTP/SDK-embedding concern, not part
// of this transport); publish is called once, after the turn completes, with
// the resolved agent and routing reason as a step result.
func (r *Runner) Execute(ctx context.Context, workflow string, attrs map[string]any, publish func(ctx context.Context, stepID string, payload []byte) error) (map[string]any, error) {
	raw, err := json.Marshal(attrs)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.ErrInternal, err, "marshal command attrs")
	}
	var in commandAttrs
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, coreerr.Wrap(coreerr.ErrInternal, err, "unmarshal command attrs")
	}
	if in.Message == "" {
		return nil, coreerr.Wrap(coreerr.ErrInternal, nil, "command attrs missing message")
	}

	req := SendMessageRequest{
		SessionID:       in.SessionID,
		UserID:          in.UserID,
		Mode:            firstNonEmpty(in.Mode, workflow),
		Message:         in.Message,
		SuggestedAgent:  in.SuggestedAgent,
		Timezone:        in.Timezone,
		PendingFileRefs: in.PendingFiles,
	}
	if in.PatientMeta != nil {
		req.SessionMeta = &PatientSessionMeta{
			PatientID:            in.PatientMeta.PatientID,
			SessionType:          in.PatientMeta.SessionType,
			ConfidentialityLevel: in.PatientMeta.ConfidentialityLevel,
		}
	}

	result, err := r.core.SendMessage(ctx, req)
	if err != nil {
		return nil, err
	}

	if publish != nil {
		step, _ := json.Marshal(map[string]any{
			"agent":   result.Agent,
			"routing": result.RoutingInfo.Reason,
		})
		if perr := publish(ctx, fmt.Sprintf("routing:%s", result.UpdatedState.SessionID), step); perr != nil {
			return nil, perr
		}
	}

	return map[string]any{
		"session_id":        result.UpdatedState.SessionID,
		"agent":             result.Agent,
		"response":          result.Response,
		"grounding_urls":    result.GroundingURLs,
		"reasoning_bullets": result.ReasoningBullets,
		"routing_reason":    result.RoutingInfo.Reason,
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
